// Command fleetpulsed runs the fleetpulse telemetry service: MQTT
// ingest, the durable store, live websocket fan-out, and the HTTP/gRPC
// query surfaces, all in one process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fleetpulse/internal/app"
	"fleetpulse/pkg/config"
	"fleetpulse/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (built-in defaults when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Log.Error("fleetpulsed exited with error", "error", err)
		os.Exit(1)
	}
}
