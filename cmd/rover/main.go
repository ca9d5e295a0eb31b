package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbocsi/gorover/config"
	"github.com/mbocsi/gorover/device"
	"github.com/mbocsi/gorover/recognition"
	"github.com/mbocsi/gorover/sim"
)

var (
	configDir string
	startMM   int
	noiseMM   float64
	fakeLabel string
)

var rootCmd = &cobra.Command{
	Use:   "rover",
	Short: "Run the rover control loop against simulated hardware",
	RunE:  runRover,
}

func init() {
	rootCmd.Flags().StringVar(&configDir, "config", "", "directory containing rover.yaml")
	rootCmd.Flags().IntVar(&startMM, "start-mm", 1500, "distance to the simulated obstacle")
	rootCmd.Flags().Float64Var(&noiseMM, "noise-mm", 5, "simulated range sensor jitter")
	rootCmd.Flags().StringVar(&fakeLabel, "fake-vision", "", "answer captures with this label instead of calling the vision model")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRover(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadRover(configDir)
	if err != nil {
		return err
	}
	device.SetupLogger(cfg.LogLevel)

	world := sim.NewWorld(startMM, noiseMM)
	motors, sensor, display, camera := sim.Hardware(world, cfg.Detection.MaxRangeMM, cfg.Camera.PowerCycle)

	var recognizer recognition.Recognizer
	if fakeLabel != "" || cfg.Vision.URL == "" {
		recognizer = &sim.Recognizer{Label: fakeLabel}
	} else {
		recognizer = recognition.NewOllamaRecognizer(recognition.Options{
			URL:      cfg.Vision.URL,
			Model:    cfg.Vision.Model,
			Prompt:   cfg.Vision.Prompt,
			Attempts: cfg.Vision.Attempts,
			Backoff:  cfg.Vision.Backoff,
			Timeout:  cfg.Vision.Timeout,
		})
	}

	arbiter := device.NewArbiter(camera, device.ArbiterOptions{
		PowerCycle:     cfg.Camera.PowerCycle,
		AcquireTimeout: cfg.Camera.AcquireTimeout,
	})
	hw := device.Hardware{
		Motors:     motors,
		Sensor:     sensor,
		Display:    display,
		Arbiter:    arbiter,
		Recognizer: recognizer,
	}

	detector := device.NewDetector(device.DetectorConfig{
		StopDistanceMM: cfg.Detection.StopDistanceMM,
		MaxRangeMM:     cfg.Detection.MaxRangeMM,
		Confirmations:  cfg.Detection.Confirmations,
		Cooldown:       cfg.Detection.Cooldown,
	})
	link := device.NewWebSocketTransport()
	dispatcher := device.NewDispatcher(device.DispatcherConfig{
		BaseSpeed:     cfg.BaseSpeed,
		MaxDurationMs: cfg.MaxDurationMs,
	}, hw, detector, link)

	rover := device.NewRover(device.RoverConfig{
		RelayURL:          cfg.RelayURL,
		Tick:              cfg.Tick,
		ReconnectInterval: cfg.ReconnectInterval,
		TelemetryInterval: cfg.TelemetryInterval,
		InboundQueue:      cfg.InboundQueue,
	}, hw, detector, dispatcher, link)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frames := device.NewFrameStore()
	go device.NewPreview(arbiter, frames, cfg.Camera.PreviewInterval).Run(ctx)

	snapshots := device.NewSnapshotServer(cfg.HTTPAddr, arbiter, frames, dispatcher)
	go func() {
		if err := snapshots.Start(); err != nil {
			slog.Error("Snapshot server stopped", "error", err.Error())
		}
	}()

	runErr := rover.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := snapshots.Shutdown(shutdownCtx); err != nil {
		slog.Error("There was an error when shutting down the snapshot server", "error", err.Error())
	}
	return runErr
}
