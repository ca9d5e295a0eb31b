package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbocsi/gorover/proto"
)

type RoverConfig struct {
	RelayURL          string // empty: discover over mDNS
	Tick              time.Duration
	ReconnectInterval time.Duration
	TelemetryInterval time.Duration
	InboundQueue      int
	DialTimeout       time.Duration
}

// Rover is the device main loop. Every tick runs, in order: inbound command
// polling, the reconnect check, a pending capture, the deferred result flush,
// telemetry, one range sample and one detection step. Nothing else touches the
// motors, the sensor or the dispatcher.
type Rover struct {
	cfg        RoverConfig
	hw         Hardware
	link       Transport
	detector   *Detector
	dispatcher *Dispatcher

	inbound   chan Inbound
	seq       atomic.Uint64
	reconnect reconnector
	discover  func(timeout time.Duration) (string, error)

	lastTelemetry time.Time
	now           func() time.Time
}

func NewRover(cfg RoverConfig, hw Hardware, detector *Detector, dispatcher *Dispatcher, link Transport) *Rover {
	if cfg.InboundQueue < 1 {
		cfg.InboundQueue = 16
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	return &Rover{
		cfg:        cfg,
		hw:         hw,
		link:       link,
		detector:   detector,
		dispatcher: dispatcher,
		inbound:    make(chan Inbound, cfg.InboundQueue),
		reconnect:  reconnector{interval: cfg.ReconnectInterval},
		discover:   DiscoverRelay,
		now:        time.Now,
	}
}

func (r *Rover) Dispatcher() *Dispatcher { return r.dispatcher }

// Run ticks until ctx is done.
func (r *Rover) Run(ctx context.Context) error {
	if err := r.hw.Sensor.StartContinuous(); err != nil {
		return fmt.Errorf("start range sensor: %w", err)
	}
	slog.Info("Rover started", "tick", r.cfg.Tick, "relay", r.cfg.RelayURL)

	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Rover stopping")
			if err := r.hw.Motors.Stop(); err != nil {
				slog.Warn("Failed to stop motors", "error", err.Error())
			}
			r.link.Close()
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

func (r *Rover) Tick(ctx context.Context) {
	r.poll(ctx)
	r.maintainLink(ctx)
	r.dispatcher.RunPendingCapture(ctx)
	r.dispatcher.FlushDeferred()
	r.sample(ctx)
}

// poll executes every command queued by the reader since the last tick.
func (r *Rover) poll(ctx context.Context) {
	for {
		select {
		case in := <-r.inbound:
			resp, respond := r.dispatcher.Dispatch(ctx, in)
			if !respond {
				continue
			}
			if err := r.link.Send(resp); err != nil {
				slog.Warn("Failed to send response", "id", resp.ID, "error", err.Error())
			}
		default:
			return
		}
	}
}

func (r *Rover) maintainLink(ctx context.Context) {
	if r.link.Connected() || !r.reconnect.due(r.now()) {
		return
	}

	addr := r.cfg.RelayURL
	if addr == "" {
		found, err := r.discover(time.Second)
		if err != nil {
			slog.Warn("Relay discovery failed", "error", err.Error())
			return
		}
		addr = found
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()
	reader, err := r.link.Connect(dialCtx, addr)
	if err != nil {
		slog.Warn("Relay connection failed", "addr", addr, "error", err.Error())
		return
	}
	slog.Info("Connected to relay", "addr", addr)
	go r.readLoop(reader)
}

// readLoop decodes frames for one connection and queues commands for the tick.
func (r *Rover) readLoop(reader FrameReader) {
	for {
		data, err := reader.Read()
		if err != nil {
			slog.Warn("Relay connection lost", "error", err.Error())
			return
		}

		frame, err := proto.Decode(data)
		if err != nil {
			slog.Warn("Invalid frame received", "error", err.Error(), "data", string(data))
			continue
		}
		if frame.Command == nil {
			slog.Warn("Ignoring non-command frame from relay")
			continue
		}

		in := Inbound{Seq: r.seq.Add(1), Command: *frame.Command}
		slog.Debug("Command received", "id", in.Command.ID, "command", in.Command.Command, "seq", in.Seq)
		if in.Command.Command == proto.CmdStop {
			r.dispatcher.NotifyStop(in.Seq)
		}

		select {
		case r.inbound <- in:
		default:
			slog.Warn("Command queue full, rejecting", "id", in.Command.ID, "command", in.Command.Command)
			if in.Command.Correlated() {
				r.link.Send(proto.Fail(in.Command.ID, "device busy: command queue full"))
			}
		}
	}
}

func (r *Rover) sample(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, r.cfg.Tick)
	defer cancel()

	mm, err := r.hw.Sensor.ReadMM(readCtx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("Range read failed, skipping tick", "error", err.Error())
		}
		return
	}
	r.dispatcher.RecordDistance(mm)
	r.telemetry(mm)

	switch r.detector.Observe(mm) {
	case Triggered:
		r.onDetected(ctx, mm)
	case Cleared:
		slog.Info("Obstacle cleared", "distance_mm", mm)
		if err := r.hw.Display.Clear(); err != nil {
			slog.Warn("Failed to clear display", "error", err.Error())
		}
		r.dispatcher.emit(proto.EventObstacleCleared, map[string]any{"distance_mm": mm})
	}
}

func (r *Rover) onDetected(ctx context.Context, mm int) {
	slog.Info("Obstacle detected", "distance_mm", mm)
	if err := r.hw.Motors.Stop(); err != nil {
		slog.Error("Failed to halt motors", "error", err.Error())
	}
	r.dispatcher.emit(proto.EventObstacleDetected, map[string]any{"distance_mm": mm})
	r.hw.Display.Show("Obstacle", fmt.Sprintf("%d mm", mm))

	result := r.dispatcher.Recognize(ctx, "detection")
	r.detector.MarkRecognized(r.now())

	data := result.Data()
	data["source"] = "detection"
	r.dispatcher.emit(proto.EventRecognitionResult, data)
	r.hw.Display.Show("Saw:", result.Text())
}

func (r *Rover) telemetry(mm int) {
	if r.cfg.TelemetryInterval <= 0 || !r.link.Connected() {
		return
	}
	now := r.now()
	if now.Sub(r.lastTelemetry) < r.cfg.TelemetryInterval {
		return
	}
	r.lastTelemetry = now
	r.dispatcher.emit(proto.EventTelemetry, map[string]any{
		"distance_mm": mm,
		"state":       r.detector.Phase().String(),
		"busy":        r.hw.Arbiter.Busy(),
	})
}

// reconnector allows one attempt per fixed interval.
type reconnector struct {
	interval time.Duration
	last     time.Time
}

func (c *reconnector) due(now time.Time) bool {
	if !c.last.IsZero() && now.Sub(c.last) < c.interval {
		return false
	}
	c.last = now
	return true
}
