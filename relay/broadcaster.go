package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Broadcaster fans frames out to every connected observer. Nothing is kept:
// an observer only sees what is broadcast while it is connected.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[string]Client
	metrics   *Metrics
}

func NewBroadcaster(metrics *Metrics) *Broadcaster {
	return &Broadcaster{observers: make(map[string]Client), metrics: metrics}
}

func (b *Broadcaster) Add(c Client) {
	b.mu.Lock()
	b.observers[c.Meta().Id] = c
	n := len(b.observers)
	b.mu.Unlock()
	b.setGauge(n)
	slog.Debug("Observer added", "id", c.Meta().Id, "observers", n)
}

func (b *Broadcaster) Remove(c Client) bool {
	b.mu.Lock()
	_, ok := b.observers[c.Meta().Id]
	delete(b.observers, c.Meta().Id)
	n := len(b.observers)
	b.mu.Unlock()
	b.setGauge(n)
	return ok
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Broadcast encodes v once and queues it on every observer. An observer whose
// queue is full is dropped and its socket closed.
func (b *Broadcaster) Broadcast(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode broadcast", "error", err.Error())
		return 0
	}

	var slow []Client
	sent := 0
	b.mu.RLock()
	for _, c := range b.observers {
		if err := c.SendRaw(data); err != nil {
			slow = append(slow, c)
			continue
		}
		sent++
	}
	b.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("Dropping slow observer", "id", c.Meta().Id)
		b.Remove(c)
		c.Close()
		if b.metrics != nil {
			b.metrics.DroppedFrames.WithLabelValues("slow_observer").Inc()
		}
	}

	slog.Debug("Broadcast", "observers", sent, "size", len(data))
	return sent
}

func (b *Broadcaster) setGauge(n int) {
	if b.metrics != nil {
		b.metrics.Observers.Set(float64(n))
	}
}
