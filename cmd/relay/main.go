package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mbocsi/gorover/assistant"
	"github.com/mbocsi/gorover/config"
	"github.com/mbocsi/gorover/relay"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay between the rover, observers and language-driven orchestrators",
	RunE:  runRelay,
}

func init() {
	rootCmd.Flags().StringVar(&configDir, "config", "", "directory containing relay.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadRelay(configDir)
	if err != nil {
		return err
	}

	// stdio MCP owns stdout
	logOut := os.Stdout
	if cfg.MCP.Mode == relay.MCPStdio {
		logOut = os.Stderr
	}
	relay.SetupLogger(cfg.LogLevel, logOut)

	opts := relay.RelayServerOptions{
		Addr:                    cfg.Addr,
		Timeouts:                relay.Timeouts{Default: cfg.DefaultTimeout, Capture: cfg.CaptureTimeout},
		FailPendingOnDisconnect: cfg.FailPendingOnDisconnect,
		ObserverQueue:           cfg.ObserverQueue,
		ChatTimeout:             cfg.Assistant.Timeout,
		Context:                 context.Background(),
	}

	if cfg.MCP.Mode != "off" {
		opts.MCPServer = relay.NewMCPServer(cfg.MCP.Mode, cfg.MCP.SSEAddr)
	}

	if cfg.MDNS.Advertise {
		port := cfg.MDNS.Port
		if port == 0 {
			port = portOf(cfg.Addr)
		}
		adv, err := relay.Advertise(cfg.MDNS.Instance, port)
		if err != nil {
			slog.Warn("mDNS advertisement disabled", "error", err.Error())
		} else {
			opts.Advertiser = adv
		}
	}

	server := relay.NewRelayServer(opts)

	if cfg.Assistant.Enabled {
		client := assistant.NewOllamaClient(cfg.Assistant.URL, cfg.Assistant.Model, cfg.Assistant.Timeout)
		server.SetAssistant(assistant.New(client, server.Coordinator().Correlator, assistant.Options{
			MaxRounds: cfg.Assistant.MaxRounds,
		}))
		slog.Info("Assistant enabled", "url", cfg.Assistant.URL, "model", cfg.Assistant.Model)
	}

	if cfg.MQTT.Broker != "" {
		client, err := relay.DialMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer client.Disconnect(250)
		server.AddSink(relay.NewMQTTMirror(client, cfg.MQTT.TopicPrefix))
	}

	if err := server.Start(); err != nil {
		slog.Error("Relay stopped with an error", "error", err.Error())
		return err
	}
	return nil
}

func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(p)
	return port
}
