package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbocsi/gorover/recognition"
)

func TestArbiter_PreviewSkipsDuringCapture(t *testing.T) {
	cam := &MockCamera{}
	a := NewArbiter(cam, ArbiterOptions{AcquireTimeout: 100 * time.Millisecond})

	var previewErr error
	cam.grabHook = func() {
		// runs inside the capture grab, with inUse set and the lease held
		_, previewErr = a.TryGrab()
	}

	frame, failure := a.Grab(context.Background())
	if failure != FailureNone {
		t.Fatalf("Expected capture to succeed, got %s", failure)
	}
	if len(frame) == 0 {
		t.Error("Expected a frame")
	}
	if !errors.Is(previewErr, ErrResourceBusy) {
		t.Errorf("Expected preview to skip with ErrResourceBusy, got %v", previewErr)
	}
	if a.Skipped() != 1 {
		t.Errorf("Expected one skipped preview cycle, got %d", a.Skipped())
	}
	if a.Busy() {
		t.Error("Expected busy flag cleared after capture")
	}
}

func TestArbiter_BusyDuringRecognition(t *testing.T) {
	a := NewArbiter(&MockCamera{}, ArbiterOptions{AcquireTimeout: 100 * time.Millisecond})

	var busy, previewOK bool
	rec := &MockRecognizer{label: "a mug"}
	rec.hook = func() {
		busy = a.Busy()
		// the lease is already returned, so previews may run
		_, err := a.TryGrab()
		previewOK = err == nil
	}

	if r := a.Recognize(context.Background(), rec); !r.OK() {
		t.Fatalf("Expected recognition to succeed, got %s", r.Failure)
	}
	if !busy {
		t.Error("Expected busy while the recognizer runs")
	}
	if !previewOK {
		t.Error("Expected preview frames while the recognizer runs")
	}
	if a.Busy() {
		t.Error("Expected busy flag cleared after recognition")
	}
}

func TestArbiter_TryAcquireNeverBlocks(t *testing.T) {
	a := NewArbiter(&MockCamera{}, ArbiterOptions{})

	release, ok := a.TryAcquire(PriorityCapture)
	if !ok {
		t.Fatal("Expected first acquire to succeed")
	}

	done := make(chan bool, 1)
	go func() {
		_, ok := a.TryAcquire(PriorityPreview)
		done <- ok
	}()
	select {
	case ok := <-done:
		if ok {
			t.Error("Expected preview acquire to fail while the lease is held")
		}
	case <-time.After(time.Second):
		t.Fatal("TryAcquire blocked")
	}

	release()
	release() // idempotent

	release2, ok := a.TryAcquire(PriorityPreview)
	if !ok {
		t.Fatal("Expected acquire to succeed after release")
	}
	release2()
}

func TestArbiter_CaptureWaitsForPreviewLease(t *testing.T) {
	a := NewArbiter(&MockCamera{}, ArbiterOptions{AcquireTimeout: time.Second})

	release, ok := a.TryAcquire(PriorityPreview)
	if !ok {
		t.Fatal("Expected preview acquire to succeed")
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	if _, failure := a.Grab(context.Background()); failure != FailureNone {
		t.Errorf("Expected capture to get the lease once preview released it, got %s", failure)
	}
}

func TestArbiter_CaptureTimesOut(t *testing.T) {
	a := NewArbiter(&MockCamera{}, ArbiterOptions{AcquireTimeout: 20 * time.Millisecond})
	release, _ := a.TryAcquire(PriorityPreview)
	defer release()

	if _, failure := a.Grab(context.Background()); failure != FailureResourceUnavailable {
		t.Errorf("Expected resource unavailable, got %q", failure)
	}
	if a.Busy() {
		t.Error("Expected busy flag cleared after a failed capture")
	}
}

func TestArbiter_ReleasesOnEveryFailure(t *testing.T) {
	cam := &MockCamera{grabErr: errors.New("sensor timeout")}
	a := NewArbiter(cam, ArbiterOptions{AcquireTimeout: 20 * time.Millisecond})

	if _, failure := a.Grab(context.Background()); failure != FailureFrameUnreadable {
		t.Errorf("Expected frame unreadable, got %q", failure)
	}

	cam.grabErr = nil
	cam.frame = []byte("not a jpeg")
	if _, failure := a.Grab(context.Background()); failure != FailureFrameUnreadable {
		t.Errorf("Expected frame unreadable for non-JPEG data, got %q", failure)
	}

	release, ok := a.TryAcquire(PriorityPreview)
	if !ok {
		t.Fatal("Lease leaked after failed captures")
	}
	release()
}

func TestArbiter_PowerCycle(t *testing.T) {
	cam := &MockCamera{}
	a := NewArbiter(cam, ArbiterOptions{PowerCycle: true})

	if _, failure := a.Grab(context.Background()); failure != FailureNone {
		t.Fatalf("Unexpected failure %q", failure)
	}
	if cam.inits != 1 || cam.deinits != 1 {
		t.Errorf("Expected one init and one deinit, got %d/%d", cam.inits, cam.deinits)
	}

	cam.initErr = errors.New("no camera")
	if _, failure := a.Grab(context.Background()); failure != FailureResourceUnavailable {
		t.Errorf("Expected resource unavailable on init failure, got %q", failure)
	}

	if _, err := a.TryGrab(); !errors.Is(err, ErrSnapshotsDisabled) {
		t.Errorf("Expected snapshots disabled in power cycle mode, got %v", err)
	}
}

func TestArbiter_RecognizeFailureCategories(t *testing.T) {
	cases := []struct {
		err  error
		want Failure
	}{
		{nil, FailureNone},
		{recognition.ErrConnectivity, FailureConnectivity},
		{recognition.ErrBadResponse, FailureBadResponse},
		{recognition.ErrClassification, FailureClassification},
		{errors.New("anything else"), FailureClassification},
	}

	for _, c := range cases {
		a := NewArbiter(&MockCamera{}, ArbiterOptions{})
		rec := &MockRecognizer{label: "chair", err: c.err}
		got := a.Recognize(context.Background(), rec)
		if got.Failure != c.want {
			t.Errorf("err=%v: expected %q, got %q", c.err, c.want, got.Failure)
		}
		if got.Text() == "" {
			t.Errorf("err=%v: expected non-empty result text", c.err)
		}
		if c.err == nil && got.Text() != "chair" {
			t.Errorf("Expected label chair, got %q", got.Text())
		}
	}
}
