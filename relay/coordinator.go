package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbocsi/gorover/assistant"
	"github.com/mbocsi/gorover/proto"
)

// Responder answers observer chat, possibly running commands along the way.
type Responder interface {
	Respond(ctx context.Context, text string) (assistant.Reply, error)
}

// EventSink receives every device event after it is broadcast.
type EventSink interface {
	Publish(event proto.Event) error
}

// Coordinator wires the device link, the correlator and the observers together.
type Coordinator struct {
	Slot        *DeviceSlot
	Correlator  *Correlator
	Broadcaster *Broadcaster
	Metrics     *Metrics
	Assistant   Responder // optional
	Sinks       []EventSink

	Transports []Transport

	failPendingOnDisconnect bool
	chatTimeout             time.Duration
	ctx                     context.Context
}

type CoordinatorOptions struct {
	Timeouts                Timeouts
	FailPendingOnDisconnect bool
	ChatTimeout             time.Duration
	Metrics                 *Metrics
	Context                 context.Context // bounds chat turns; defaults to context.Background()
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = 2 * time.Minute
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	c := &Coordinator{
		Slot:                    NewDeviceSlot(),
		Broadcaster:             NewBroadcaster(opts.Metrics),
		Metrics:                 opts.Metrics,
		failPendingOnDisconnect: opts.FailPendingOnDisconnect,
		chatTimeout:             opts.ChatTimeout,
		ctx:                     opts.Context,
	}
	c.Correlator = NewCorrelator(c.forward, opts.Timeouts, opts.Metrics)
	return c
}

// RegisterDeviceTransport routes a transport's connections to the device slot.
func (c *Coordinator) RegisterDeviceTransport(t Transport) {
	t.OnMessage(c.HandleDeviceMessage)
	t.OnConnect(c.RegisterDevice)
	t.OnDisconnect(c.UnregisterDevice)
	c.Transports = append(c.Transports, t)
}

// RegisterObserverTransport routes a transport's connections to the broadcaster.
func (c *Coordinator) RegisterObserverTransport(t Transport) {
	t.OnMessage(c.HandleObserverMessage)
	t.OnConnect(c.RegisterObserver)
	t.OnDisconnect(c.UnregisterObserver)
	c.Transports = append(c.Transports, t)
}

func (c *Coordinator) AddSink(s EventSink) {
	c.Sinks = append(c.Sinks, s)
}

// Start blocks until ctx is done, then closes every transport.
func (c *Coordinator) Start(ctx context.Context) error {
	<-ctx.Done()
	slog.Info("Shutting down transports")
	for _, t := range c.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down a transport", "error", err.Error())
		}
	}
	if n := c.Correlator.RejectAll(fmt.Errorf("relay shutting down")); n > 0 {
		slog.Info("Rejected pending commands on shutdown", "count", n)
	}
	return nil
}

// RegisterDevice puts c in the device slot. A previous device connection is
// closed; its pending commands keep running until their own timeouts.
func (c *Coordinator) RegisterDevice(client Client) error {
	if prev := c.Slot.Set(client); prev != nil {
		slog.Info("Replacing device connection", "old", prev.Meta().Id, "new", client.Meta().Id)
		prev.Close()
	}
	c.Metrics.DeviceConnected.Set(1)
	slog.Info("Registered device", "id", client.Meta().Id, "addr", client.Meta().RemoteAddr)
	c.Broadcaster.Broadcast(c.Status())
	return nil
}

func (c *Coordinator) UnregisterDevice(client Client) {
	if !c.Slot.Release(client) {
		slog.Debug("Stale device disconnect ignored", "id", client.Meta().Id)
		return
	}
	c.Metrics.DeviceConnected.Set(0)
	slog.Info("Device disconnected", "id", client.Meta().Id, "pending", c.Correlator.Pending())
	if c.failPendingOnDisconnect {
		if n := c.Correlator.RejectAll(ErrDisconnected); n > 0 {
			slog.Warn("Rejected pending commands after disconnect", "count", n)
		}
	}
	c.Broadcaster.Broadcast(c.Status())
}

// RegisterObserver adds an observer and sends it the current status. Observers
// get no history.
func (c *Coordinator) RegisterObserver(client Client) error {
	c.Broadcaster.Add(client)
	c.Broadcaster.Broadcast(c.Status())
	return nil
}

func (c *Coordinator) UnregisterObserver(client Client) {
	if c.Broadcaster.Remove(client) {
		c.Broadcaster.Broadcast(c.Status())
	}
}

// forward writes a command to the device in the slot.
func (c *Coordinator) forward(cmd proto.Command) error {
	device, ok := c.Slot.Get()
	if !ok {
		return ErrDeviceUnavailable
	}
	if err := device.Send(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

func (c *Coordinator) Status() proto.StatusFrame {
	st := proto.StatusFrame{
		Type:      proto.ObserverStatus,
		Observers: c.Broadcaster.Count(),
		Timestamp: time.Now().UTC(),
	}
	if device, ok := c.Slot.Get(); ok {
		st.DeviceConnected = true
		st.DeviceAddr = device.Meta().RemoteAddr
	}
	return st
}
