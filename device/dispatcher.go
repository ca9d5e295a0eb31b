package device

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mbocsi/gorover/proto"
	"github.com/mbocsi/gorover/recognition"
)

// Inbound is a decoded command with its arrival sequence number.
type Inbound struct {
	Seq     uint64
	Command proto.Command
}

type DispatcherConfig struct {
	BaseSpeed     int
	MaxDurationMs int
}

type Hardware struct {
	Motors     Motors
	Sensor     RangeSensor
	Display    Display
	Arbiter    *Arbiter
	Recognizer recognition.Recognizer
}

// Dispatcher executes commands on the rover's single execution context.
type Dispatcher struct {
	cfg      DispatcherConfig
	hw       Hardware
	detector *Detector
	link     Transport

	slot    captureSlot
	results resultCache

	// stopSeq is the sequence number of the newest stop command seen by the reader.
	stopSeq      atomic.Uint64
	stopCh       chan struct{}
	lastDistance atomic.Int64
}

func NewDispatcher(cfg DispatcherConfig, hw Hardware, detector *Detector, link Transport) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		hw:       hw,
		detector: detector,
		link:     link,
		stopCh:   make(chan struct{}, 1),
	}
}

// NotifyStop is called from the reader goroutine as soon as a stop frame arrives,
// ahead of its turn in the queue, so that a blocking timed motion ends early.
func (d *Dispatcher) NotifyStop(seq uint64) {
	for {
		cur := d.stopSeq.Load()
		if seq <= cur || d.stopSeq.CompareAndSwap(cur, seq) {
			break
		}
	}
	select {
	case d.stopCh <- struct{}{}:
	default:
	}
}

// Dispatch executes one command. respond is false when the response is deferred
// (capture) or nobody is waiting for it.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) (resp proto.Response, respond bool) {
	cmd := in.Command
	resp, deferred := d.execute(ctx, in)
	if deferred {
		return proto.Response{}, false
	}
	if resp.Status == proto.StatusError {
		slog.Warn("Command failed", "id", cmd.ID, "command", cmd.Command, "error", resp.ErrorMessage())
	}
	return resp, cmd.Correlated()
}

func (d *Dispatcher) execute(ctx context.Context, in Inbound) (proto.Response, bool) {
	cmd := in.Command
	spec, ok := proto.LookupCommand(cmd.Command)
	if !ok {
		return proto.Fail(cmd.ID, "unknown command: "+cmd.Command), false
	}

	if spec.Motion {
		return d.move(ctx, in, directionOf(cmd.Command)), false
	}

	switch cmd.Command {
	case proto.CmdStop:
		if err := d.hw.Motors.Stop(); err != nil {
			return proto.Fail(cmd.ID, "stop failed: "+err.Error()), false
		}
		return proto.OK(cmd.ID, map[string]any{"executed": true}), false

	case proto.CmdCapture:
		return d.requestCapture(cmd)

	case proto.CmdGetDistance:
		mm, err := d.hw.Sensor.ReadMM(ctx)
		if err != nil {
			return proto.Fail(cmd.ID, "range read failed: "+err.Error()), false
		}
		d.RecordDistance(mm)
		return proto.OK(cmd.ID, map[string]any{"distance_mm": mm}), false

	case proto.CmdDisplay:
		text, ok := proto.String(cmd.Params, "text")
		if !ok || strings.TrimSpace(text) == "" {
			return proto.Fail(cmd.ID, "missing text"), false
		}
		if err := d.hw.Display.Show(strings.Split(text, "\n")...); err != nil {
			return proto.Fail(cmd.ID, "display failed: "+err.Error()), false
		}
		return proto.OK(cmd.ID, map[string]any{"displayed": true}), false

	case proto.CmdGetStatus:
		return proto.OK(cmd.ID, d.Status().Map()), false
	}

	return proto.Fail(cmd.ID, "unsupported command: "+cmd.Command), false
}

func directionOf(name string) Direction {
	switch name {
	case proto.CmdMoveBackward:
		return Backward
	case proto.CmdTurnLeft:
		return TurnLeft
	case proto.CmdTurnRight:
		return TurnRight
	default:
		return Forward
	}
}

// move drives and, for a nonzero duration, blocks the loop until the duration
// passes or a newer stop arrives.
func (d *Dispatcher) move(ctx context.Context, in Inbound, dir Direction) proto.Response {
	id := in.Command.ID
	p := proto.ParseMotion(in.Command.Params, d.cfg.BaseSpeed, d.cfg.MaxDurationMs)

	if err := d.hw.Motors.Drive(dir, p.Speed); err != nil {
		if stopErr := d.hw.Motors.Stop(); stopErr != nil {
			slog.Error("Failed to stop motors after a drive failure", "error", stopErr.Error())
		}
		return proto.Fail(id, "drive failed: "+err.Error())
	}
	if p.DurationMs == 0 {
		return proto.OK(id, map[string]any{"executed": true, "speed": p.Speed})
	}

	interrupted := d.hold(ctx, in.Seq, time.Duration(p.DurationMs)*time.Millisecond)
	if err := d.hw.Motors.Stop(); err != nil {
		return proto.Fail(id, "stop failed: "+err.Error())
	}

	data := map[string]any{"executed": true, "speed": p.Speed, "duration_ms": p.DurationMs}
	if interrupted {
		data["interrupted"] = true
	}
	return proto.OK(id, data)
}

func (d *Dispatcher) hold(ctx context.Context, seq uint64, dur time.Duration) (interrupted bool) {
	if d.stopSeq.Load() > seq {
		return true
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return false
		case <-ctx.Done():
			return true
		case <-d.stopCh:
			if d.stopSeq.Load() > seq {
				return true
			}
		}
	}
}

// requestCapture is phase one of a capture: acknowledge with an event and park
// the id. The capture itself runs on the next tick.
func (d *Dispatcher) requestCapture(cmd proto.Command) (proto.Response, bool) {
	if err := d.slot.Request(cmd.ID); err != nil {
		return proto.Fail(cmd.ID, "camera busy: a capture is already pending"), false
	}
	d.emit(proto.EventRecognitionStart, map[string]any{"id": cmd.ID})
	return proto.Response{}, true
}

// RunPendingCapture is phase two: capture and recognize, then park the result
// for FlushDeferred whether or not the link is up.
func (d *Dispatcher) RunPendingCapture(ctx context.Context) {
	id, ok := d.slot.Requested()
	if !ok {
		return
	}
	slog.Info("Running capture", "id", id)
	result := d.Recognize(ctx, "command")
	d.slot.Store(result)
}

// FlushDeferred delivers a parked capture result as both a response and an event.
// Each is sent once; the slot is freed when both went out.
func (d *Dispatcher) FlushDeferred() bool {
	id, result, responseSent, ok := d.slot.Ready()
	if !ok || !d.link.Connected() {
		return false
	}

	data := result.Data()
	if !responseSent && id != "" && id != proto.NoCorrelation {
		if err := d.link.Send(proto.OK(id, data)); err != nil {
			slog.Warn("Deferred capture response not delivered", "id", id, "error", err.Error())
			return false
		}
		d.slot.MarkResponseSent()
	}

	eventData := result.Data()
	eventData["id"] = id
	if err := d.link.Send(proto.Event{Event: proto.EventRecognitionResult, Data: eventData}); err != nil {
		slog.Warn("Deferred capture event not delivered", "id", id, "error", err.Error())
		return false
	}
	d.slot.Clear()
	slog.Info("Delivered capture result", "id", id, "result", result.Text())
	return true
}

// Recognize pauses ranging, runs a capture through the arbiter and caches the result.
func (d *Dispatcher) Recognize(ctx context.Context, source string) Recognition {
	if err := d.hw.Sensor.StopContinuous(); err != nil {
		slog.Warn("Failed to pause range sensor", "error", err.Error())
	}
	result := d.hw.Arbiter.Recognize(ctx, d.hw.Recognizer)
	if err := d.hw.Sensor.StartContinuous(); err != nil {
		slog.Warn("Failed to resume range sensor", "error", err.Error())
	}
	d.results.Set(result, source)
	slog.Info("Recognition finished", "source", source, "result", result.Text(), "failure", string(result.Failure))
	return result
}

// emit sends an event if the link is up. Events are not buffered.
func (d *Dispatcher) emit(name string, data map[string]any) {
	if !d.link.Connected() {
		slog.Debug("Event dropped, relay not connected", "event", name)
		return
	}
	if err := d.link.Send(proto.Event{Event: name, Data: data}); err != nil {
		slog.Warn("Failed to send event", "event", name, "error", err.Error())
	}
}

func (d *Dispatcher) RecordDistance(mm int) {
	d.lastDistance.Store(int64(mm))
}

type Status struct {
	State          string        `json:"state"`
	ConfirmCount   int           `json:"confirm_count"`
	DistanceMM     int           `json:"distance_mm"`
	CameraBusy     bool          `json:"busy"`
	CapturePending bool          `json:"capture_pending"`
	Connected      bool          `json:"connected"`
	LastResult     *CachedResult `json:"last_result,omitempty"`
}

func (d *Dispatcher) Status() Status {
	st := d.detector.State()
	return Status{
		State:          d.detector.Phase().String(),
		ConfirmCount:   st.ConfirmCount,
		DistanceMM:     int(d.lastDistance.Load()),
		CameraBusy:     d.hw.Arbiter.Busy(),
		CapturePending: d.slot.Occupied(),
		Connected:      d.link.Connected(),
		LastResult:     d.results.Get(),
	}
}

func (s Status) Map() map[string]any {
	m := map[string]any{
		"state":           s.State,
		"confirm_count":   s.ConfirmCount,
		"distance_mm":     s.DistanceMM,
		"busy":            s.CameraBusy,
		"capture_pending": s.CapturePending,
		"connected":       s.Connected,
	}
	if s.LastResult != nil {
		m["last_result"] = map[string]any{
			"text":   s.LastResult.Text,
			"source": s.LastResult.Source,
			"at":     s.LastResult.At.Format(time.RFC3339),
		}
	}
	return m
}
