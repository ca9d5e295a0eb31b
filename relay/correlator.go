package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/gorover/proto"
)

type Timeouts struct {
	Default time.Duration
	Capture time.Duration // capture waits for a camera grab and a vision call
}

func (t Timeouts) For(command string) time.Duration {
	if command == proto.CmdCapture {
		return t.Capture
	}
	return t.Default
}

// Result is a successful device response.
type Result struct {
	ID   string
	Data map[string]any
}

type outcome struct {
	result Result
	err    error
}

type pendingRequest struct {
	command string
	sentAt  time.Time
	timeout time.Duration
	timer   *time.Timer
	done    chan outcome // buffered, written once by whoever removes the entry
}

// Correlator matches device responses to the commands that caused them.
// Every correlated command settles exactly once: the response, the timeout,
// a cancelled caller and RejectAll all remove the entry under mu first, and
// only the remover may settle it.
type Correlator struct {
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	forward  func(proto.Command) error
	timeouts Timeouts
	metrics  *Metrics
	newID    func() string
}

// NewCorrelator sends through forward, which must fail with ErrDeviceUnavailable
// when no device is connected. metrics may be nil.
func NewCorrelator(forward func(proto.Command) error, timeouts Timeouts, metrics *Metrics) *Correlator {
	if timeouts.Default <= 0 {
		timeouts.Default = 10 * time.Second
	}
	if timeouts.Capture <= 0 {
		timeouts.Capture = 45 * time.Second
	}
	return &Correlator{
		pending:  make(map[string]*pendingRequest),
		forward:  forward,
		timeouts: timeouts,
		metrics:  metrics,
		newID:    uuid.NewString,
	}
}

// Send forwards a command to the device. Correlated sends wait for the response;
// fire-and-forget sends return as soon as the frame is queued.
func (c *Correlator) Send(ctx context.Context, name string, params map[string]any, mode proto.Delivery) (Result, error) {
	if err := proto.ValidateCommand(name); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	cmd := proto.Command{ID: c.newID(), Command: name, Params: params}

	if mode == proto.FireAndForget {
		if err := c.forward(cmd); err != nil {
			return Result{}, err
		}
		c.countSent(name, mode)
		slog.Debug("Command sent", "id", cmd.ID, "command", name, "delivery", mode.String())
		return Result{ID: cmd.ID}, nil
	}

	p := &pendingRequest{
		command: name,
		sentAt:  time.Now(),
		timeout: c.timeouts.For(name),
		done:    make(chan outcome, 1),
	}
	c.mu.Lock()
	c.pending[cmd.ID] = p
	p.timer = time.AfterFunc(p.timeout, func() { c.expire(cmd.ID) })
	c.mu.Unlock()
	c.updatePending()

	if err := c.forward(cmd); err != nil {
		if c.take(cmd.ID) != nil {
			p.timer.Stop()
			return Result{}, err
		}
		// settled concurrently; report what won
		o := <-p.done
		return o.result, o.err
	}
	c.countSent(name, mode)
	slog.Debug("Command sent", "id", cmd.ID, "command", name, "delivery", mode.String(), "timeout", p.timeout)

	select {
	case o := <-p.done:
		return o.result, o.err
	case <-ctx.Done():
		if c.take(cmd.ID) != nil {
			p.timer.Stop()
			c.countOutcome(name, "cancelled")
			return Result{}, ctx.Err()
		}
		o := <-p.done
		return o.result, o.err
	}
}

// Execute runs a correlated command and returns its response data.
func (c *Correlator) Execute(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	res, err := c.Send(ctx, name, params, proto.Correlated)
	return res.Data, err
}

// Resolve settles the pending request matching resp. Responses with no pending
// request (late, unknown or fire-and-forget) are dropped and report false.
func (c *Correlator) Resolve(resp proto.Response) bool {
	p := c.take(resp.ID)
	if p == nil {
		slog.Debug("Dropping response with no pending request", "id", resp.ID, "status", resp.Status)
		if c.metrics != nil {
			c.metrics.DroppedFrames.WithLabelValues("unmatched_response").Inc()
		}
		return false
	}
	p.timer.Stop()

	if c.metrics != nil {
		c.metrics.CommandLatency.WithLabelValues(p.command).Observe(time.Since(p.sentAt).Seconds())
	}

	if resp.Status == proto.StatusOK {
		c.countOutcome(p.command, "ok")
		p.done <- outcome{result: Result{ID: resp.ID, Data: resp.Data}}
		return true
	}
	c.countOutcome(p.command, "error")
	p.done <- outcome{err: &CommandError{ID: resp.ID, Command: p.command, Message: resp.ErrorMessage()}}
	return true
}

// RejectAll fails every pending request with err.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()
	c.updatePending()

	for id, p := range pending {
		p.timer.Stop()
		c.countOutcome(p.command, "rejected")
		p.done <- outcome{err: fmt.Errorf("%s %s: %w", p.command, id, err)}
	}
	return len(pending)
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) expire(id string) {
	p := c.take(id)
	if p == nil {
		return
	}
	slog.Warn("Command timed out", "id", id, "command", p.command, "timeout", p.timeout)
	c.countOutcome(p.command, "timeout")
	p.done <- outcome{err: fmt.Errorf("%w: %s after %s", ErrTimeout, p.command, p.timeout)}
}

func (c *Correlator) take(id string) *pendingRequest {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		c.updatePending()
		return p
	}
	return nil
}

func (c *Correlator) updatePending() {
	if c.metrics == nil {
		return
	}
	c.metrics.Pending.Set(float64(c.Pending()))
}

func (c *Correlator) countSent(name string, mode proto.Delivery) {
	if c.metrics != nil {
		c.metrics.CommandsSent.WithLabelValues(name, mode.String()).Inc()
	}
}

func (c *Correlator) countOutcome(name, outcome string) {
	if c.metrics != nil {
		c.metrics.CommandOutcomes.WithLabelValues(name, outcome).Inc()
	}
}
