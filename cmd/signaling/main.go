package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velar/ringline/internal/banner"
	"github.com/velar/ringline/internal/logger"
	"github.com/velar/ringline/internal/signaling/app"
	"github.com/velar/ringline/internal/signaling/config"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	// Create server
	ringline, err := app.NewServer(cfg)
	if err != nil {
		slog.Error("Failed to create signaling server", "error", err)
		os.Exit(1)
	}
	defer ringline.Close()

	run(ringline, cfg)
}

func run(server *app.Ringline, cfg *config.Config) {
	banner.Print("Ringline Call Session Manager", []banner.ConfigLine{
		{Label: "HTTP", Value: cfg.HTTPAddr},
		{Label: "Node", Value: cfg.NodeID},
		{Label: "Ring timeout", Value: cfg.RingTimeout.String()},
		{Label: "Retention", Value: cfg.Retention.String()},
		{Label: "Recorder", Value: cfg.RecorderBackend},
	})
	slog.Info("Starting Ringline Call Session Manager",
		"addr", cfg.HTTPAddr,
		"node", cfg.NodeID,
		"ring_timeout", cfg.RingTimeout,
		"recorder", cfg.RecorderBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)
	cancel()

	time.Sleep(1 * time.Second)
}
