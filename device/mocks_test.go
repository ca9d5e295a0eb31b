package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbocsi/gorover/proto"
)

var jpegFrame = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

type motorCall struct {
	Dir   Direction
	Speed int
	Stop  bool
}

type MockMotors struct {
	mu       sync.Mutex
	calls    []motorCall
	driveErr error
	stopErr  error
}

func (m *MockMotors) Drive(dir Direction, speed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, motorCall{Dir: dir, Speed: speed})
	return m.driveErr
}

func (m *MockMotors) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, motorCall{Stop: true})
	return m.stopErr
}

func (m *MockMotors) Calls() []motorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]motorCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockSensor replays a script of readings; a negative reading simulates a bus timeout.
type MockSensor struct {
	mu       sync.Mutex
	script   []int
	pos      int
	paused   int
	resumed  int
	fallback int
}

func (s *MockSensor) ReadMM(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.script) {
		return s.fallback, nil
	}
	v := s.script[s.pos]
	s.pos++
	if v < 0 {
		return 0, errors.New("i2c timeout")
	}
	return v, nil
}

func (s *MockSensor) StartContinuous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed++
	return nil
}

func (s *MockSensor) StopContinuous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused++
	return nil
}

type MockDisplay struct {
	mu     sync.Mutex
	lines  [][]string
	clears int
}

func (d *MockDisplay) Show(lines ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, lines)
	return nil
}

func (d *MockDisplay) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clears++
	return nil
}

type MockCamera struct {
	mu       sync.Mutex
	frame    []byte
	grabErr  error
	initErr  error
	inits    int
	deinits  int
	grabs    int
	grabHook func()
}

func (c *MockCamera) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits++
	return c.initErr
}

func (c *MockCamera) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deinits++
	return nil
}

func (c *MockCamera) Grab() ([]byte, error) {
	c.mu.Lock()
	hook := c.grabHook
	c.grabs++
	frame, err := c.frame, c.grabErr
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if frame == nil && err == nil {
		frame = jpegFrame
	}
	return frame, err
}

type MockRecognizer struct {
	mu    sync.Mutex
	label string
	err   error
	calls int
	hook  func()
}

func (r *MockRecognizer) Recognize(ctx context.Context, jpeg []byte) (string, error) {
	if r.hook != nil {
		r.hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.label, r.err
}

// MockLink records every frame sent while connected.
type MockLink struct {
	mu         sync.Mutex
	connected  bool
	sent       []any
	connects   int
	connectErr error
	reads      chan []byte
}

func NewMockLink(connected bool) *MockLink {
	return &MockLink{connected: connected, reads: make(chan []byte, 16)}
}

func (l *MockLink) Connect(ctx context.Context, addr string) (FrameReader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects++
	if l.connectErr != nil {
		return nil, l.connectErr
	}
	l.connected = true
	return l, nil
}

func (l *MockLink) Send(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return fmt.Errorf("transport is not connected")
	}
	l.sent = append(l.sent, v)
	return nil
}

func (l *MockLink) Read() ([]byte, error) {
	data, ok := <-l.reads
	if !ok {
		l.SetConnected(false)
		return nil, errors.New("connection closed")
	}
	return data, nil
}

func (l *MockLink) Close() error {
	l.SetConnected(false)
	return nil
}

func (l *MockLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *MockLink) SetConnected(c bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = c
}

func (l *MockLink) Responses() []proto.Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []proto.Response
	for _, v := range l.sent {
		if r, ok := v.(proto.Response); ok {
			out = append(out, r)
		}
	}
	return out
}

func (l *MockLink) Events(name string) []proto.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []proto.Event
	for _, v := range l.sent {
		if e, ok := v.(proto.Event); ok && (name == "" || e.Event == name) {
			out = append(out, e)
		}
	}
	return out
}

type testRig struct {
	motors     *MockMotors
	sensor     *MockSensor
	display    *MockDisplay
	camera     *MockCamera
	recognizer *MockRecognizer
	link       *MockLink
	arbiter    *Arbiter
	detector   *Detector
	dispatcher *Dispatcher
}

func newTestRig(connected bool) *testRig {
	rig := &testRig{
		motors:     &MockMotors{},
		sensor:     &MockSensor{fallback: 1000},
		display:    &MockDisplay{},
		camera:     &MockCamera{},
		recognizer: &MockRecognizer{label: "coffee mug"},
		link:       NewMockLink(connected),
	}
	rig.arbiter = NewArbiter(rig.camera, ArbiterOptions{})
	rig.detector = NewDetector(DetectorConfig{StopDistanceMM: 300, MaxRangeMM: 2000, Confirmations: 3})
	rig.dispatcher = NewDispatcher(
		DispatcherConfig{BaseSpeed: 150, MaxDurationMs: 500},
		rig.hardware(),
		rig.detector,
		rig.link,
	)
	return rig
}

func (r *testRig) hardware() Hardware {
	return Hardware{
		Motors:     r.motors,
		Sensor:     r.sensor,
		Display:    r.display,
		Arbiter:    r.arbiter,
		Recognizer: r.recognizer,
	}
}
