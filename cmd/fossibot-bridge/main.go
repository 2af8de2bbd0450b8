// Command fossibot-bridge is the daemon entrypoint: it loads
// configuration, builds the Bridge, runs it until SIGINT/SIGTERM, and
// shuts it down gracefully. Grounded on the teacher's main.go
// (NewApplication + signal.Notify(SIGINT, SIGTERM) + deferred
// shutdown), generalised from the teacher's single gateway/publisher
// pair to the Bridge Orchestrator's multi-account startup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridge"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/config"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := "config.json"
	for _, arg := range os.Args[1:] {
		if arg == "--help" || arg == "-h" {
			fmt.Printf("Usage: %s [config_path]\n", os.Args[0])
			return 0
		}
		configPath = arg
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fossibot-bridge: loading configuration: %v\n", err)
		return 1
	}

	log, err := logging.New(cfg.Daemon.LogFile, cfg.Daemon.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fossibot-bridge: opening log file: %v\n", err)
		return 1
	}
	logging.SetDefault(log)

	b, err := bridge.New(cfg, log)
	if err != nil {
		log.Error("fossibot-bridge: %v", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(context.Background()) }()

	select {
	case sig := <-sigChan:
		log.Info("fossibot-bridge: received %s, shutting down", sig)
	case err := <-runErr:
		if err != nil {
			log.Error("fossibot-bridge: %v", err)
		}
	}

	b.Stop()
	return 0
}
