package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

type RelayServerOptions struct {
	Addr                    string
	Timeouts                Timeouts
	FailPendingOnDisconnect bool
	ObserverQueue           int
	ChatTimeout             time.Duration

	MCPServer  *MCPServer      // Optional, started alongside the HTTP server
	Advertiser *Advertiser     // Optional mDNS announcement, shut down with the server
	Metrics    *Metrics        // Optional (defaults to new Metrics if nil)
	Context    context.Context // Optional (defaults to context.Background())
}

type RelayServer struct {
	options     RelayServerOptions
	coordinator *Coordinator
	device      *WSTransport
	observers   *WSTransport
	http        *http.Server
}

func NewRelayServer(opts RelayServerOptions) *RelayServer {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	coordinator := NewCoordinator(CoordinatorOptions{
		Timeouts:                opts.Timeouts,
		FailPendingOnDisconnect: opts.FailPendingOnDisconnect,
		ChatTimeout:             opts.ChatTimeout,
		Metrics:                 opts.Metrics,
		Context:                 opts.Context,
	})

	device := NewWSTransport(RoleDevice)
	device.SetName("Device link")
	device.SetMaxClients(2) // room for a replacement while the old socket closes
	device.SetQueueSize(64)
	coordinator.RegisterDeviceTransport(device)

	observers := NewWSTransport(RoleObserver)
	observers.SetName("Observers")
	observers.SetMaxClients(64)
	if opts.ObserverQueue > 0 {
		observers.SetQueueSize(opts.ObserverQueue)
	}
	coordinator.RegisterObserverTransport(observers)

	if opts.MCPServer != nil {
		opts.MCPServer.RegisterTools(coordinator.Correlator, coordinator.Status)
	}

	return &RelayServer{
		options:     opts,
		coordinator: coordinator,
		device:      device,
		observers:   observers,
	}
}

func (s *RelayServer) Coordinator() *Coordinator {
	return s.coordinator
}

func (s *RelayServer) SetAssistant(a Responder) {
	s.coordinator.Assistant = a
}

func (s *RelayServer) AddSink(sink EventSink) {
	s.coordinator.AddSink(sink)
}

func (s *RelayServer) Handler() http.Handler {
	return s.coordinator.Routes(s.device, s.observers)
}

// Start serves until SIGINT, SIGTERM or the options context ends.
func (s *RelayServer) Start() error {
	ctx, stop := signal.NotifyContext(s.options.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.http = &http.Server{Addr: s.options.Addr, Handler: s.Handler()}
	errCh := make(chan error, 2)

	go func() {
		slog.Info("Starting relay", "addr", s.options.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.options.MCPServer != nil {
		go func() {
			if err := s.options.MCPServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("MCP server stopped", "error", err.Error())
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		s.coordinator.Start(ctx)
		close(done)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.Error("There was an error when shutting down the relay", "error", err.Error())
	}
	return runErr
}

func (s *RelayServer) Shutdown(ctx context.Context) error {
	if err := s.options.Advertiser.Shutdown(); err != nil {
		slog.Warn("mDNS shutdown failed", "error", err.Error())
	}
	if s.options.MCPServer != nil {
		if err := s.options.MCPServer.Shutdown(ctx); err != nil {
			slog.Error("There was an error when shutting down MCP server", "error", err.Error())
		}
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// SetupLogger installs a JSON slog handler as the default logger. Stdio MCP owns
// stdout, so callers pass os.Stderr in that mode.
func SetupLogger(level string, w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
