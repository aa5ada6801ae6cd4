package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/kivoice"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/runner"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := kivoice.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	engine, err := kivoice.NewEngine(cfg, kivoice.DefaultRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init engine: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lr := runner.NewLifecycleRunner(engine, runner.Hooks{
		OnStart: func() {
			if err := engine.Start(ctx); err != nil {
				slog.Error("engine_start_failed", slog.String("error", err.Error()))
				stop()
			}
		},
		OnStop: func() {
			slog.Info("engine_stopped")
		},
	}, 15*time.Second)

	if err := lr.Run(ctx); err != nil {
		slog.Error("runner_error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
