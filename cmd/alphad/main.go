package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"alpha-engine/config"
	"alpha-engine/internal/alphad"
	"alpha-engine/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("alphad", logger.ParseLevel(cfg.LogLevel))

	svc, err := alphad.New(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("[alphad] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx, prometheus.DefaultGatherer); err != nil {
		log.Fatalf("[alphad] fatal: %v", err)
	}
}
