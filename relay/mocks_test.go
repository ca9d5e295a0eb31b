package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mbocsi/gorover/proto"
)

// MockClient records frames instead of writing to a socket.
type MockClient struct {
	ClientMetadata
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	full    bool
	onSend  func(v any)
	sendErr error
}

func NewMockClient(id, role string) *MockClient {
	return &MockClient{ClientMetadata: ClientMetadata{Id: id, Role: role, RemoteAddr: "10.0.0.9:5555", ConnectedAt: time.Now()}}
}

func (m *MockClient) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := m.SendRaw(data); err != nil {
		return err
	}
	m.mu.Lock()
	hook := m.onSend
	m.mu.Unlock()
	if hook != nil {
		hook(v)
	}
	return nil
}

func (m *MockClient) SendRaw(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClientClosed
	}
	if m.full {
		return ErrQueueFull
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, data)
	return nil
}

func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockClient) Meta() *ClientMetadata {
	return &m.ClientMetadata
}

func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// FramesOfType decodes recorded frames whose "type" field matches.
func (m *MockClient) FramesOfType(typ string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, f := range m.frames {
		var v map[string]any
		if json.Unmarshal(f, &v) == nil && v["type"] == typ {
			out = append(out, v)
		}
	}
	return out
}

// Commands decodes recorded frames as device commands.
func (m *MockClient) Commands() []proto.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []proto.Command
	for _, f := range m.frames {
		var cmd proto.Command
		if json.Unmarshal(f, &cmd) == nil && cmd.Command != "" {
			out = append(out, cmd)
		}
	}
	return out
}

type MockSink struct {
	mu     sync.Mutex
	events []proto.Event
}

func (s *MockSink) Publish(ev proto.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MockSink) Events() []proto.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proto.Event(nil), s.events...)
}

func waitFor(t interface {
	Helper()
	Fatal(args ...any)
}, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}
