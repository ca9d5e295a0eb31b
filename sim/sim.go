// Package sim provides in-memory hardware for running the rover without a board.
// Motors and the range sensor share a World: driving forward closes the distance
// to the obstacle ahead, driving backward opens it.
package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mbocsi/gorover/device"
)

// World tracks the distance to the nearest obstacle in front of the rover.
type World struct {
	mu        sync.Mutex
	distance  float64
	dir       device.Direction
	speed     int
	lastDrive time.Time
	noise     float64
	rng       *rand.Rand
	now       func() time.Time
}

// NewWorld starts with an obstacle startMM ahead. noise is the sensor jitter in mm.
func NewWorld(startMM int, noise float64) *World {
	return &World{
		distance: float64(startMM),
		noise:    noise,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// mmPerSecond at full speed.
const mmPerSecond = 400.0

func (w *World) advance() {
	now := w.now()
	if w.speed > 0 && !w.lastDrive.IsZero() {
		dt := now.Sub(w.lastDrive).Seconds()
		step := dt * mmPerSecond * float64(w.speed) / 255.0
		switch w.dir {
		case device.Forward:
			w.distance -= step
		case device.Backward:
			w.distance += step
		}
	}
	if w.distance < 20 {
		w.distance = 20
	}
	if w.distance > 4000 {
		w.distance = 4000
	}
	w.lastDrive = now
}

func (w *World) Distance() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	return int(w.distance)
}

// Motors moves the rover through the World.
type Motors struct {
	World *World
}

func (m *Motors) Drive(dir device.Direction, speed int) error {
	w := m.World
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	w.dir = dir
	w.speed = speed
	slog.Debug("Sim motors drive", "direction", string(dir), "speed", speed)
	return nil
}

func (m *Motors) Stop() error {
	w := m.World
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	w.speed = 0
	slog.Debug("Sim motors stop")
	return nil
}

var ErrNotRanging = errors.New("range sensor not in continuous mode")

// RangeSensor reads the World distance with jitter. Readings beyond MaxRangeMM
// come back as out of range, like the real sensor.
type RangeSensor struct {
	World      *World
	MaxRangeMM int

	mu      sync.Mutex
	ranging bool
}

func (s *RangeSensor) ReadMM(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	ranging := s.ranging
	s.mu.Unlock()
	if !ranging {
		return 0, ErrNotRanging
	}

	d := s.World.Distance()
	s.World.mu.Lock()
	d += int(s.World.rng.NormFloat64() * s.World.noise)
	s.World.mu.Unlock()
	if s.MaxRangeMM > 0 && d > s.MaxRangeMM {
		return 8190, nil
	}
	return d, nil
}

func (s *RangeSensor) StartContinuous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranging = true
	return nil
}

func (s *RangeSensor) StopContinuous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranging = false
	return nil
}

// Display logs what a real panel would show.
type Display struct {
	mu    sync.Mutex
	lines []string
}

func (d *Display) Show(lines ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append([]string(nil), lines...)
	slog.Info("Display", "text", strings.Join(lines, " | "))
	return nil
}

func (d *Display) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = nil
	return nil
}

func (d *Display) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

// Camera renders a synthetic JPEG whose box grows as the obstacle gets closer.
// Grab is not reentrant, matching the hardware it stands in for.
type Camera struct {
	World  *World
	Width  int
	Height int

	mu     sync.Mutex
	inited bool
	// AlwaysOn skips the Init requirement, for boards that keep the camera powered.
	AlwaysOn bool
}

func (c *Camera) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inited = true
	return nil
}

func (c *Camera) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inited = false
	return nil
}

func (c *Camera) Grab() ([]byte, error) {
	if !c.mu.TryLock() {
		return nil, errors.New("camera grab is not reentrant")
	}
	defer c.mu.Unlock()
	if !c.inited && !c.AlwaysOn {
		return nil, errors.New("camera not initialized")
	}

	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = 320, 240
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255})
		}
	}

	box := w / 8
	if c.World != nil {
		d := c.World.Distance()
		box = w * 200 / (d + 200)
	}
	x0, y0 := (w-box)/2, (h-box)/2
	for y := y0; y < y0+box && y < h; y++ {
		for x := x0; x < x0+box && x < w; x++ {
			if x >= 0 && y >= 0 {
				img.Set(x, y, color.RGBA{R: 220, G: 40, B: 40, A: 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Recognizer labels frames without a vision service.
type Recognizer struct {
	Label string
}

func (r *Recognizer) Recognize(ctx context.Context, frame []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(frame)); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	if r.Label == "" {
		return "red box", nil
	}
	return r.Label, nil
}

// Hardware assembles a complete simulated rover around one World.
func Hardware(world *World, maxRangeMM int, powerCycle bool) (device.Motors, device.RangeSensor, device.Display, device.Camera) {
	return &Motors{World: world},
		&RangeSensor{World: world, MaxRangeMM: maxRangeMM},
		&Display{},
		&Camera{World: world, AlwaysOn: !powerCycle}
}
