package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbocsi/gorover/proto"
)

func newTestRover(rig *testRig, relayURL string) *Rover {
	return NewRover(RoverConfig{
		RelayURL:          relayURL,
		Tick:              50 * time.Millisecond,
		ReconnectInterval: time.Second,
		InboundQueue:      1,
	}, rig.hardware(), rig.detector, rig.dispatcher, rig.link)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestRover_DetectionScenario(t *testing.T) {
	rig := newTestRig(true)
	rig.sensor.script = []int{350, 350, 250, 250, 250}
	rover := newTestRover(rig, "ws://relay/device")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		rover.Tick(ctx)
	}
	if n := len(rig.link.Events(proto.EventObstacleDetected)); n != 0 {
		t.Fatalf("Expected no detection before the third confirming sample, got %d", n)
	}

	rover.Tick(ctx)
	detected := rig.link.Events(proto.EventObstacleDetected)
	if len(detected) != 1 {
		t.Fatalf("Expected exactly one obstacle_detected, got %d", len(detected))
	}
	if detected[0].Data["distance_mm"] != 250 {
		t.Errorf("Expected distance 250, got %v", detected[0].Data["distance_mm"])
	}

	stopped := false
	for _, c := range rig.motors.Calls() {
		if c.Stop {
			stopped = true
		}
	}
	if !stopped {
		t.Error("Expected motors halted on detection")
	}

	results := rig.link.Events(proto.EventRecognitionResult)
	if len(results) != 1 || results[0].Data["source"] != "detection" || results[0].Data["result"] != "coffee mug" {
		t.Fatalf("Expected one recognition_result from detection, got %+v", results)
	}
	if rig.detector.State().LastRecognitionAt.IsZero() {
		t.Error("Expected the recognition time recorded")
	}

	// more close samples keep the state without re-triggering
	rig.sensor.script = append(rig.sensor.script, 200, 200, 200)
	for i := 0; i < 3; i++ {
		rover.Tick(ctx)
	}
	if n := len(rig.link.Events(proto.EventObstacleDetected)); n != 1 {
		t.Errorf("Expected no repeat detection, got %d", n)
	}

	// fallback reading is far, which clears
	rover.Tick(ctx)
	if n := len(rig.link.Events(proto.EventObstacleCleared)); n != 1 {
		t.Errorf("Expected one obstacle_cleared, got %d", n)
	}
	if rig.display.clears != 1 {
		t.Errorf("Expected display cleared once, got %d", rig.display.clears)
	}
}

func TestRover_SensorFaultSkipsTick(t *testing.T) {
	rig := newTestRig(true)
	rig.sensor.script = []int{250, 250, -1, 250}
	rover := newTestRover(rig, "ws://relay/device")

	for i := 0; i < 4; i++ {
		rover.Tick(context.Background())
	}
	if n := len(rig.link.Events(proto.EventObstacleDetected)); n != 1 {
		t.Errorf("Expected the fault to leave the confirm count alone, got %d detections", n)
	}
}

func TestRover_ReconnectAndExecute(t *testing.T) {
	rig := newTestRig(false)
	rover := newTestRover(rig, "ws://relay/device")
	ctx := context.Background()
	defer close(rig.link.reads)

	rover.Tick(ctx)
	if rig.link.connects != 1 || !rig.link.Connected() {
		t.Fatalf("Expected one connect attempt, got %d", rig.link.connects)
	}

	rig.link.reads <- []byte(`{"id":"c1","command":"get_distance"}`)
	waitFor(t, func() bool { return len(rover.inbound) == 1 })

	rover.Tick(ctx)
	responses := rig.link.Responses()
	if len(responses) != 1 || responses[0].ID != "c1" || responses[0].Status != proto.StatusOK {
		t.Fatalf("Expected one ok response for c1, got %+v", responses)
	}
}

func TestRover_QueueFullRejects(t *testing.T) {
	rig := newTestRig(false)
	rover := newTestRover(rig, "ws://relay/device")
	ctx := context.Background()
	defer close(rig.link.reads)

	rover.Tick(ctx)
	rig.link.reads <- []byte(`{"id":"a","command":"get_status"}`)
	rig.link.reads <- []byte(`{"id":"b","command":"get_status"}`)

	waitFor(t, func() bool { return len(rig.link.Responses()) == 1 })
	resp := rig.link.Responses()[0]
	if resp.ID != "b" || resp.Status != proto.StatusError {
		t.Errorf("Expected the second command rejected as busy, got %+v", resp)
	}
}

func TestRover_DiscoversRelayWhenUnset(t *testing.T) {
	rig := newTestRig(false)
	rover := newTestRover(rig, "")
	defer close(rig.link.reads)

	calls := 0
	rover.discover = func(time.Duration) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("no relay found")
		}
		return "ws://10.0.0.2:8090/device", nil
	}

	now := time.Unix(1000, 0)
	rover.now = func() time.Time { return now }

	rover.Tick(context.Background())
	if rig.link.connects != 0 {
		t.Fatal("Expected no dial without an address")
	}

	now = now.Add(500 * time.Millisecond)
	rover.Tick(context.Background())
	if calls != 1 {
		t.Errorf("Expected retries held back by the interval, got %d lookups", calls)
	}

	now = now.Add(time.Second)
	rover.Tick(context.Background())
	if rig.link.connects != 1 {
		t.Errorf("Expected a dial after discovery, got %d", rig.link.connects)
	}
}

func TestReconnector_FixedInterval(t *testing.T) {
	c := reconnector{interval: 5 * time.Second}
	t0 := time.Unix(0, 0)

	if !c.due(t0) {
		t.Error("Expected the first attempt to be due")
	}
	if c.due(t0.Add(4 * time.Second)) {
		t.Error("Expected no attempt inside the interval")
	}
	if !c.due(t0.Add(5 * time.Second)) {
		t.Error("Expected an attempt after the interval")
	}
}

func TestRover_TelemetryInterval(t *testing.T) {
	rig := newTestRig(true)
	rover := NewRover(RoverConfig{
		RelayURL:          "ws://relay/device",
		Tick:              50 * time.Millisecond,
		ReconnectInterval: time.Second,
		TelemetryInterval: time.Second,
	}, rig.hardware(), rig.detector, rig.dispatcher, rig.link)
	now := time.Unix(1000, 0)
	rover.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rover.Tick(ctx)
	}
	events := rig.link.Events(proto.EventTelemetry)
	if len(events) != 1 {
		t.Fatalf("Expected one telemetry event within the interval, got %d", len(events))
	}
	if events[0].Data["distance_mm"] != 1000 || events[0].Data["busy"] != false {
		t.Errorf("Unexpected telemetry payload %+v", events[0].Data)
	}

	now = now.Add(time.Second)
	rover.Tick(ctx)
	if n := len(rig.link.Events(proto.EventTelemetry)); n != 2 {
		t.Errorf("Expected a second telemetry event after the interval, got %d", n)
	}

	rig.link.SetConnected(false)
	now = now.Add(time.Second)
	rover.sample(ctx)
	if n := len(rig.link.Events(proto.EventTelemetry)); n != 2 {
		t.Errorf("Expected no telemetry while disconnected, got %d", n)
	}
}
