package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// FrameStore keeps only the latest preview frame. Readers wait on the channel
// returned by Latest, which is closed when a newer frame arrives.
type FrameStore struct {
	mu      sync.RWMutex
	frame   []byte
	seq     uint64
	at      time.Time
	updated chan struct{}
}

func NewFrameStore() *FrameStore {
	return &FrameStore{updated: make(chan struct{})}
}

func (s *FrameStore) Set(frame []byte) {
	s.mu.Lock()
	s.frame = frame
	s.seq++
	s.at = time.Now()
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()
}

func (s *FrameStore) Latest() (frame []byte, seq uint64, next <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.seq, s.updated
}

// Preview grabs frames on its own goroutine. It never waits for the camera: when a
// capture holds or is about to hold the lease it skips the cycle.
type Preview struct {
	arbiter  *Arbiter
	store    *FrameStore
	interval time.Duration
}

func NewPreview(arbiter *Arbiter, store *FrameStore, interval time.Duration) *Preview {
	return &Preview{arbiter: arbiter, store: store, interval: interval}
}

func (p *Preview) Run(ctx context.Context) {
	if p.arbiter.PowerCycled() {
		slog.Info("Preview disabled, camera is power cycled around captures")
		return
	}
	slog.Info("Preview started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Preview stopped", "skipped", p.arbiter.Skipped())
			return
		case <-ticker.C:
			p.step()
		}
	}
}

func (p *Preview) step() {
	frame, err := p.arbiter.TryGrab()
	if errors.Is(err, ErrResourceBusy) {
		return
	}
	if err != nil {
		slog.Debug("Preview frame dropped", "error", err.Error())
		return
	}
	p.store.Set(frame)
}
