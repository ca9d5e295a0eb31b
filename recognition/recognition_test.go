package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func newTestRecognizer(url string, attempts int) *OllamaRecognizer {
	return NewOllamaRecognizer(Options{
		URL:      url,
		Model:    "llava",
		Prompt:   "what is this",
		Attempts: attempts,
		Backoff:  time.Millisecond,
		Timeout:  time.Second,
	})
}

func TestRecognize_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Images) != 1 {
			t.Errorf("Expected one image, got %d", len(req.Images))
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "A coffee mug.\nIt is blue.", Done: true})
	}))
	defer srv.Close()

	label, err := newTestRecognizer(srv.URL, 1).Recognize(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if label != "A coffee mug" {
		t.Errorf("Expected normalized label, got %q", label)
	}
}

func TestRecognize_RetriesClassificationFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "cat", Done: true})
	}))
	defer srv.Close()

	label, err := newTestRecognizer(srv.URL, 3).Recognize(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if label != "cat" {
		t.Errorf("Expected cat, got %q", label)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestRecognize_FailureCategories(t *testing.T) {
	badJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer badJSON.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	if _, err := newTestRecognizer(badJSON.URL, 3).Recognize(context.Background(), nil); !errors.Is(err, ErrBadResponse) {
		t.Errorf("Expected ErrBadResponse, got %v", err)
	}
	if _, err := newTestRecognizer(failing.URL, 2).Recognize(context.Background(), nil); !errors.Is(err, ErrClassification) {
		t.Errorf("Expected ErrClassification, got %v", err)
	}
	if _, err := newTestRecognizer("http://127.0.0.1:1", 1).Recognize(context.Background(), nil); !errors.Is(err, ErrConnectivity) {
		t.Errorf("Expected ErrConnectivity, got %v", err)
	}
}

func TestRecognize_BadResponseNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(generateResponse{Response: "  ", Done: true})
	}))
	defer srv.Close()

	if _, err := newTestRecognizer(srv.URL, 5).Recognize(context.Background(), nil); !errors.Is(err, ErrBadResponse) {
		t.Errorf("Expected ErrBadResponse, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestRecognize_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := NewOllamaRecognizer(Options{URL: srv.URL, Attempts: 5, Backoff: time.Minute, Timeout: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := rec.Recognize(ctx, nil)
	if !errors.Is(err, ErrConnectivity) {
		t.Errorf("Expected ErrConnectivity after cancellation, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Expected the backoff wait to end with the context, took %s", time.Since(start))
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  \"Banana!\"  "); got != "Banana" {
		t.Errorf("Expected Banana, got %q", got)
	}
	long := "a very long description that goes on and on about the scene in front of the robot"
	if got := Normalize(long); len(got) > maxLabelLen {
		t.Errorf("Expected label cut to %d chars, got %d", maxLabelLen, len(got))
	}
}

func TestNormalize_CutsOnRuneBoundary(t *testing.T) {
	got := Normalize("a" + strings.Repeat("é", 40))
	if !utf8.ValidString(got) {
		t.Errorf("Expected valid UTF-8, got %q", got)
	}
	if len(got) > maxLabelLen || len(got) < maxLabelLen-1 {
		t.Errorf("Expected the label cut near %d bytes, got %d", maxLabelLen, len(got))
	}
}
