package device

import (
	"sync"
	"time"
)

type DetectorConfig struct {
	StopDistanceMM int
	MaxRangeMM     int
	Confirmations  int
	Cooldown       time.Duration
}

type Phase int

const (
	Idle Phase = iota
	Confirming
	Detected
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Confirming:
		return "confirming"
	case Detected:
		return "detected"
	default:
		return "unknown"
	}
}

// Transition is what a single sample did to the detector.
type Transition int

const (
	NoChange Transition = iota
	Triggered
	Cleared
)

type DetectionState struct {
	ConfirmCount      int
	Detected          bool
	LastRecognitionAt time.Time
}

// Detector debounces range samples into obstacle detections. One Observe per tick.
type Detector struct {
	cfg DetectorConfig
	now func() time.Time

	mu    sync.RWMutex
	state DetectionState
}

func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.Confirmations < 1 {
		cfg.Confirmations = 1
	}
	return &Detector{cfg: cfg, now: time.Now}
}

// Observe feeds one distance sample.
func (d *Detector) Observe(mm int) Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mm <= 0 || mm > d.cfg.MaxRangeMM {
		d.state.ConfirmCount = 0
		return NoChange
	}

	if mm >= d.cfg.StopDistanceMM {
		d.state.ConfirmCount = 0
		if d.state.Detected {
			d.state.Detected = false
			return Cleared
		}
		return NoChange
	}

	if d.state.Detected {
		return NoChange
	}

	if !d.state.LastRecognitionAt.IsZero() && d.now().Sub(d.state.LastRecognitionAt) < d.cfg.Cooldown {
		return NoChange
	}

	d.state.ConfirmCount++
	if d.state.ConfirmCount < d.cfg.Confirmations {
		return NoChange
	}

	d.state.ConfirmCount = 0
	d.state.Detected = true
	return Triggered
}

// MarkRecognized starts the cooldown window.
func (d *Detector) MarkRecognized(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.LastRecognitionAt = at
}

func (d *Detector) State() DetectionState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Detector) Phase() Phase {
	s := d.State()
	switch {
	case s.Detected:
		return Detected
	case s.ConfirmCount > 0:
		return Confirming
	default:
		return Idle
	}
}
