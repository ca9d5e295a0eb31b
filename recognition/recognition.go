package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrConnectivity   = errors.New("vision service unreachable")
	ErrClassification = errors.New("vision service failed to classify")
	ErrBadResponse    = errors.New("vision service returned an unparsable response")
)

// Recognizer turns a JPEG frame into a short text label.
// Implementations own their retry policy.
type Recognizer interface {
	Recognize(ctx context.Context, jpeg []byte) (string, error)
}

// OllamaRecognizer asks an Ollama compatible vision model to name what it sees.
type OllamaRecognizer struct {
	baseURL    string
	model      string
	prompt     string
	attempts   int
	backoff    time.Duration
	httpClient *http.Client
}

type Options struct {
	URL      string
	Model    string
	Prompt   string
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

func NewOllamaRecognizer(opts Options) *OllamaRecognizer {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &OllamaRecognizer{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		model:      opts.Model,
		prompt:     opts.Prompt,
		attempts:   opts.Attempts,
		backoff:    opts.Backoff,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Recognize retries connectivity and classification failures with an
// exponential backoff. Unparsable responses are not retried.
func (r *OllamaRecognizer) Recognize(ctx context.Context, jpeg []byte) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  r.model,
		Prompt: r.prompt,
		Images: []string{base64.StdEncoding.EncodeToString(jpeg)},
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	attempt := 0
	label, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		label, err := r.generate(ctx, body)
		if errors.Is(err, ErrBadResponse) {
			return "", backoff.Permanent(err)
		}
		return label, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("Vision request failed, retrying", "attempt", attempt, "wait", wait, "error", err.Error())
		}),
	)
	if err == nil {
		return label, nil
	}
	if !errors.Is(err, ErrConnectivity) && !errors.Is(err, ErrClassification) && !errors.Is(err, ErrBadResponse) {
		// cancelled between attempts
		return "", fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return "", err
}

func (r *OllamaRecognizer) newBackOff() backoff.BackOff {
	if r.backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.backoff
	b.Multiplier = 2
	return b
}

func (r *OllamaRecognizer) generate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrClassification, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrClassification, out.Error)
	}

	label := Normalize(out.Response)
	if label == "" {
		return "", fmt.Errorf("%w: empty label", ErrBadResponse)
	}
	return label, nil
}

const maxLabelLen = 48

// Normalize keeps the first line of a model answer, trimmed of punctuation and
// cut on a rune boundary to fit a display line.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, " \t\"'.!*")
	if len(s) > maxLabelLen {
		n := maxLabelLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = strings.TrimSpace(s[:n])
	}
	return s
}
