package relay

import "sync"

// DeviceSlot holds the one device connection the relay talks to.
type DeviceSlot struct {
	mu     sync.RWMutex
	client Client
}

func NewDeviceSlot() *DeviceSlot {
	return &DeviceSlot{}
}

// Set registers c and returns the connection it replaced, if any.
func (s *DeviceSlot) Set(c Client) (previous Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.client
	s.client = c
	return previous
}

func (s *DeviceSlot) Get() (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.client != nil
}

// Release empties the slot only if c is still the registered connection.
// A replaced connection closing late must not evict its successor.
func (s *DeviceSlot) Release(c Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.client != c {
		return false
	}
	s.client = nil
	return true
}
