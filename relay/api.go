package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mbocsi/gorover/proto"
)

type commandRequest struct {
	Command  string         `json:"command"`
	Params   map[string]any `json:"params,omitempty"`
	Delivery string         `json:"delivery,omitempty"` // "correlated" (default) or "fire_and_forget"
}

type commandResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

type statusResponse struct {
	proto.StatusFrame
	Pending    int                 `json:"pending"`
	Transports []TransportMetadata `json:"transports"`
}

// Routes builds the relay's HTTP surface: the two websocket endpoints, the
// JSON API, metrics and the observer console.
func (c *Coordinator) Routes(device, observers http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", c.HandleConsole)
	r.Handle("/device", device)
	r.Handle("/ws", observers)
	r.Handle("/metrics", c.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", c.HandleStatus)
		r.Get("/commands", c.HandleListCommands)
		r.Post("/commands", c.HandleSendCommand)
	})
	return r
}

func (c *Coordinator) HandleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.handleError(w, APIError{Code: ErrCodeInvalidInput, Message: "Invalid JSON body", Cause: err})
		return
	}

	mode := proto.Correlated
	switch req.Delivery {
	case "", proto.Correlated.String():
	case proto.FireAndForget.String():
		mode = proto.FireAndForget
	default:
		c.handleError(w, APIError{Code: ErrCodeInvalidInput, Message: "Unknown delivery " + req.Delivery})
		return
	}

	res, err := c.Correlator.Send(r.Context(), req.Command, req.Params, mode)
	if err != nil {
		c.handleError(w, toAPIError(err))
		return
	}

	if mode == proto.FireAndForget {
		writeJSON(w, http.StatusAccepted, commandResponse{ID: res.ID, Status: "sent"})
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{ID: res.ID, Status: proto.StatusOK, Data: res.Data})
}

func (c *Coordinator) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		StatusFrame: c.Status(),
		Pending:     c.Correlator.Pending(),
		Transports:  make([]TransportMetadata, 0, len(c.Transports)),
	}
	for _, t := range c.Transports {
		resp.Transports = append(resp.Transports, t.Meta())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Coordinator) HandleListCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proto.Commands())
}

// handleError writes err with the HTTP status matching its code.
func (c *Coordinator) handleError(w http.ResponseWriter, err APIError) {
	if err.Code == ErrCodeInternal {
		slog.Error("API error", "error", err.Error())
	} else {
		slog.Warn("API request failed", "code", err.Code, "error", err.Error())
	}
	writeJSON(w, err.StatusCode(), err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err.Error())
	}
}
