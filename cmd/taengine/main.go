package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quantedge-ta/internal/logger"
	"quantedge-ta/internal/taengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	slogger := logger.Init("taengine", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg := taengine.LoadConfig()
	slogger.Info("starting",
		slog.Any("intervals", cfg.Intervals),
		slog.Any("symbols", cfg.Symbols),
		slog.Int("snapshot_interval_s", cfg.SnapshotIntervalS),
	)

	svc, err := taengine.New(cfg)
	if err != nil {
		log.Fatalf("[taengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[taengine] fatal: %v", err)
	}
}
