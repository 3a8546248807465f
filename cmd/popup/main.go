// Package main provides the popup client for the Chime daemon: it
// mirrors the daemon's settings and renders a live countdown to the
// next reminder.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chimeapp/chime-server/internal/logger"
	"github.com/chimeapp/chime-server/internal/popup"
)

func main() {
	var (
		addr  = flag.String("addr", "http://localhost:8750", "chimed command surface address")
		level = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	log := logger.New(logger.Config{
		Writer: os.Stderr,
		Level:  logger.ParseLevel(*level),
	})

	client := popup.NewClient(*addr, log.Logger)
	agent := popup.NewAgent(client, os.Stdout, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not reach chimed at %s: %v\n", *addr, err)
		os.Exit(1)
	}

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("popup loop failed", "error", err)
		os.Exit(1)
	}
	fmt.Println()
}
