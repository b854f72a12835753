package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"transit-hub/internal/auth"
	"transit-hub/internal/config"
	"transit-hub/internal/db"
	"transit-hub/internal/logging"
	"transit-hub/internal/sim"
)

func main() {
	cfg, err := config.LoadSim()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	mgr := sim.NewManager(cfg.HubURL, auth.NewJWTVerifier(cfg.JWTSecret), db.NewCatalog(sqlDB),
		cfg.PublishInterval, cfg.SpeedMultiplier, cfg.SpeedKmh, logger)
	mgr.Start(ctx, cfg.DriverUserIDs)
	logger.Info("simulator started", "drivers", len(cfg.DriverUserIDs), "hub", cfg.HubURL)

	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		mgr.Stop()
	case <-done:
	}
	logger.Info("simulator finished")
}
