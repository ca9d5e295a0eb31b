package proto

import (
	"errors"
	"testing"
)

func TestDecode_Response(t *testing.T) {
	f, err := Decode([]byte(`{"id":"c1","status":"ok","data":{"executed":true}}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.Response == nil {
		t.Fatal("Expected response frame")
	}
	if f.Response.ID != "c1" || f.Response.Status != StatusOK {
		t.Errorf("Unexpected response %+v", f.Response)
	}
	if f.Response.Data["executed"] != true {
		t.Errorf("Expected executed=true, got %v", f.Response.Data["executed"])
	}
}

func TestDecode_Event(t *testing.T) {
	f, err := Decode([]byte(`{"event":"obstacle_detected","data":{"distance_mm":250}}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.Event == nil || f.Event.Event != EventObstacleDetected {
		t.Fatalf("Expected obstacle event, got %+v", f)
	}
}

func TestDecode_CommandWithoutIdUsesSentinel(t *testing.T) {
	f, err := Decode([]byte(`{"command":"stop"}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.Command == nil {
		t.Fatal("Expected command frame")
	}
	if f.Command.ID != NoCorrelation {
		t.Errorf("Expected sentinel id, got %q", f.Command.ID)
	}
	if f.Command.Correlated() {
		t.Error("Command without id should not be correlated")
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"status":"ok"}`,
		`{"id":"x","status":"maybe"}`,
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); !errors.Is(err, ErrProtocol) {
			t.Errorf("Decode(%s): expected protocol error, got %v", c, err)
		}
	}
}

func TestParseMotion_DefaultsAndClamp(t *testing.T) {
	p := ParseMotion(nil, 150, 5000)
	if p.Speed != 150 || p.DurationMs != 0 {
		t.Errorf("Expected defaults {150 0}, got %+v", p)
	}

	p = ParseMotion(map[string]any{"speed": 999.0, "duration_ms": 60000.0}, 150, 5000)
	if p.Speed != MaxSpeed {
		t.Errorf("Expected speed clamped to %d, got %d", MaxSpeed, p.Speed)
	}
	if p.DurationMs != 5000 {
		t.Errorf("Expected duration clamped to 5000, got %d", p.DurationMs)
	}

	p = ParseMotion(map[string]any{"speed": -4, "duration_ms": -1}, 150, 5000)
	if p.Speed != 0 || p.DurationMs != 0 {
		t.Errorf("Expected negatives clamped to zero, got %+v", p)
	}

	for _, huge := range []float64{1e19, 1e30} {
		p = ParseMotion(map[string]any{"speed": huge, "duration_ms": huge}, 150, 5000)
		if p.Speed != MaxSpeed || p.DurationMs != 5000 {
			t.Errorf("Expected %g clamped to {%d 5000}, got %+v", huge, MaxSpeed, p)
		}
	}

	p = ParseMotion(map[string]any{"speed": -1e19, "duration_ms": -1e19}, 150, 5000)
	if p.Speed != 0 || p.DurationMs != 0 {
		t.Errorf("Expected huge negatives clamped to zero, got %+v", p)
	}
}

func TestValidateCommand(t *testing.T) {
	if err := ValidateCommand(CmdMoveForward); err != nil {
		t.Errorf("Expected move_forward to be valid: %v", err)
	}
	if err := ValidateCommand("fly"); err == nil {
		t.Error("Expected unknown command to be rejected")
	}
	if err := ValidateCommand("  "); err == nil {
		t.Error("Expected empty command to be rejected")
	}
}
