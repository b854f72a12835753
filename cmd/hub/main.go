package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transit-hub/internal/auth"
	"transit-hub/internal/config"
	"transit-hub/internal/db"
	"transit-hub/internal/hub"
	"transit-hub/internal/logging"
	"transit-hub/internal/metrics"
	"transit-hub/internal/publisher"
	"transit-hub/internal/server"
	"transit-hub/internal/session"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel)).
		With("instance_id", cfg.InstanceID)

	// Root context with cancellation on SIGINT/SIGTERM
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

	// Metrics setup; the collector is always live so the hub can count, the
	// endpoint only when an address is configured.
	mcol := metrics.NewCollector()
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = mcol.Serve(cfg.MetricsAddr, logger)
	}

	// Initialize NATS publisher
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.InstanceID, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), logger)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	sessions, err := openSessionStore(cfg, pub)
	if err != nil {
		log.Fatalf("session store error: %v", err)
	}

	h := hub.New(db.NewCatalog(sqlDB), sessions, pub, logger, mcol, hub.Options{
		ETAStopLimit:    cfg.ETAStopLimit,
		AverageSpeedKmh: cfg.AverageSpeedKmh,
		LocationRate:    cfg.LocationRate,
	})
	if err := pub.SubscribeLocations(h.Relay); err != nil {
		log.Fatalf("nats subscribe error: %v", err)
	}

	ws := server.New(h, auth.NewJWTVerifier(cfg.JWTSecret), logger, mcol, server.Options{})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("hub listening", "addr", cfg.ListenAddr, "session_store", cfg.SessionStore)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogError(logger, "http server error", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	ws.Close()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete")
}

func openSessionStore(cfg *config.Config, pub *publisher.NATSPublisher) (hub.SessionStore, error) {
	ttl := session.TTLs{
		Session:    cfg.SessionTTL,
		Location:   cfg.LocationTTL,
		ETA:        cfg.ETATTL,
		ActiveTrip: cfg.ActiveTripTTL,
	}
	if cfg.SessionStore == "memory" {
		return session.NewMemoryStore(ttl), nil
	}
	js, err := pub.JetStream()
	if err != nil {
		return nil, err
	}
	kv, err := session.NewKVStore(js, ttl)
	if err != nil {
		return nil, err
	}
	return kv, nil
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
