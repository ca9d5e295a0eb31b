package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/gorover/recognition"
)

var (
	ErrResourceBusy      = errors.New("camera busy")
	ErrSnapshotsDisabled = errors.New("snapshots unavailable while the camera is power cycled")
)

type Priority int

const (
	PriorityPreview Priority = iota
	PriorityCapture
)

// Failure is the category of a failed recognition.
type Failure string

const (
	FailureNone                Failure = ""
	FailureResourceUnavailable Failure = "resource_unavailable"
	FailureFrameUnreadable     Failure = "frame_unreadable"
	FailureConnectivity        Failure = "connectivity_unavailable"
	FailureClassification      Failure = "classification_failed"
	FailureBadResponse         Failure = "bad_response"
)

var failureText = map[Failure]string{
	FailureResourceUnavailable: "ERROR: camera unavailable",
	FailureFrameUnreadable:     "ERROR: could not read frame",
	FailureConnectivity:        "ERROR: no connection to vision service",
	FailureClassification:      "ERROR: recognition failed",
	FailureBadResponse:         "ERROR: unreadable vision response",
}

// Recognition is the outcome of a capture. Failures are carried as text so that
// observers always get something to show.
type Recognition struct {
	Label   string
	Failure Failure
	At      time.Time
}

func (r Recognition) OK() bool { return r.Failure == FailureNone }

func (r Recognition) Text() string {
	if r.OK() {
		return r.Label
	}
	return failureText[r.Failure]
}

func (r Recognition) Data() map[string]any {
	data := map[string]any{"result": r.Text()}
	if !r.OK() {
		data["failure"] = string(r.Failure)
	}
	return data
}

type ArbiterOptions struct {
	// PowerCycle initializes the camera right before a capture and tears it down right
	// after, for boards where the camera cannot stay up next to the range sensor bus.
	PowerCycle     bool
	AcquireTimeout time.Duration
}

// Arbiter serializes the single camera between the preview producer and
// recognition captures. Captures have priority: while one is running the preview
// skips without touching the lease.
type Arbiter struct {
	cam   Camera
	opts  ArbiterOptions
	lease chan struct{}
	inUse atomic.Bool
	// set for the whole of Recognize, including the recognizer call after the lease is returned
	recognizing atomic.Bool

	skipped atomic.Uint64
}

func NewArbiter(cam Camera, opts ArbiterOptions) *Arbiter {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 2 * time.Second
	}
	return &Arbiter{cam: cam, opts: opts, lease: make(chan struct{}, 1)}
}

// Busy reports whether a capture or its recognition is in progress.
func (a *Arbiter) Busy() bool {
	return a.inUse.Load() || a.recognizing.Load()
}

func (a *Arbiter) PowerCycled() bool {
	return a.opts.PowerCycle
}

// Skipped is the number of preview cycles given up to a capture.
func (a *Arbiter) Skipped() uint64 {
	return a.skipped.Load()
}

// TryAcquire takes the lease without waiting. Preview requests also give way to a
// capture that has announced itself but not yet taken the lease.
func (a *Arbiter) TryAcquire(p Priority) (release func(), ok bool) {
	if p == PriorityPreview && a.inUse.Load() {
		return nil, false
	}
	select {
	case a.lease <- struct{}{}:
		return a.releaser(), true
	default:
		return nil, false
	}
}

// Acquire waits up to the configured timeout for the lease.
func (a *Arbiter) Acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(a.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case a.lease <- struct{}{}:
		return a.releaser(), nil
	case <-timer.C:
		return nil, ErrResourceBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Arbiter) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-a.lease })
	}
}

// TryGrab takes one frame at preview priority. It never blocks on the lease.
func (a *Arbiter) TryGrab() ([]byte, error) {
	if a.opts.PowerCycle {
		return nil, ErrSnapshotsDisabled
	}
	release, ok := a.TryAcquire(PriorityPreview)
	if !ok {
		a.skipped.Add(1)
		return nil, ErrResourceBusy
	}
	defer release()

	frame, err := a.cam.Grab()
	if err != nil {
		return nil, fmt.Errorf("grab frame: %w", err)
	}
	return frame, nil
}

// Grab takes one frame at capture priority.
func (a *Arbiter) Grab(ctx context.Context) ([]byte, Failure) {
	a.inUse.Store(true)
	defer a.inUse.Store(false)

	release, err := a.Acquire(ctx)
	if err != nil {
		slog.Warn("Camera lease not acquired", "error", err.Error())
		return nil, FailureResourceUnavailable
	}
	defer release()

	if a.opts.PowerCycle {
		if err := a.cam.Init(); err != nil {
			slog.Error("Camera init failed", "error", err.Error())
			return nil, FailureResourceUnavailable
		}
		defer func() {
			if err := a.cam.Deinit(); err != nil {
				slog.Warn("Camera deinit failed", "error", err.Error())
			}
		}()
	}

	frame, err := a.cam.Grab()
	if err != nil {
		slog.Warn("Camera grab failed", "error", err.Error())
		return nil, FailureFrameUnreadable
	}
	if !isJPEG(frame) {
		slog.Warn("Camera returned an unreadable frame", "size", len(frame))
		return nil, FailureFrameUnreadable
	}
	return frame, FailureNone
}

// Recognize captures a frame and classifies it. It never fails past this point:
// every failure becomes a Recognition with a Failure category.
func (a *Arbiter) Recognize(ctx context.Context, rec recognition.Recognizer) Recognition {
	a.recognizing.Store(true)
	defer a.recognizing.Store(false)

	frame, failure := a.Grab(ctx)
	if failure != FailureNone {
		return Recognition{Failure: failure, At: time.Now()}
	}

	label, err := rec.Recognize(ctx, frame)
	if err != nil {
		slog.Warn("Recognition failed", "error", err.Error())
		return Recognition{Failure: classify(err), At: time.Now()}
	}
	return Recognition{Label: label, At: time.Now()}
}

func classify(err error) Failure {
	switch {
	case errors.Is(err, recognition.ErrConnectivity):
		return FailureConnectivity
	case errors.Is(err, recognition.ErrBadResponse):
		return FailureBadResponse
	default:
		return FailureClassification
	}
}

func isJPEG(b []byte) bool {
	return len(b) > 2 && b[0] == 0xFF && b[1] == 0xD8
}
