package device

import (
	"sync"
	"time"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotRequested
	slotReady
)

// captureSlot holds the one capture command that is either waiting to run or
// waiting to be delivered. A new capture is refused while the slot is occupied.
type captureSlot struct {
	mu           sync.Mutex
	state        slotState
	id           string
	result       Recognition
	responseSent bool
}

func (s *captureSlot) Request(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != slotEmpty {
		return ErrResourceBusy
	}
	s.state = slotRequested
	s.id = id
	s.result = Recognition{}
	s.responseSent = false
	return nil
}

// Requested returns the id of a capture that has been acknowledged but not run.
func (s *captureSlot) Requested() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.state == slotRequested
}

func (s *captureSlot) Store(result Recognition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != slotRequested {
		return
	}
	s.state = slotReady
	s.result = result
}

// Ready returns a result awaiting delivery.
func (s *captureSlot) Ready() (id string, result Recognition, responseSent bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != slotReady {
		return "", Recognition{}, false, false
	}
	return s.id, s.result, s.responseSent, true
}

func (s *captureSlot) MarkResponseSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseSent = true
}

func (s *captureSlot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = slotEmpty
	s.id = ""
	s.result = Recognition{}
	s.responseSent = false
}

func (s *captureSlot) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != slotEmpty
}

// CachedResult is the last recognition the rover produced, from either path.
type CachedResult struct {
	Text    string    `json:"text"`
	Failure string    `json:"failure,omitempty"`
	Source  string    `json:"source"` // "command" or "detection"
	At      time.Time `json:"at"`
}

type resultCache struct {
	mu   sync.RWMutex
	last *CachedResult
}

func (c *resultCache) Set(r Recognition, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &CachedResult{Text: r.Text(), Failure: string(r.Failure), Source: source, At: r.At}
}

func (c *resultCache) Get() *CachedResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return nil
	}
	cp := *c.last
	return &cp
}
