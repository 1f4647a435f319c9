package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cosmail/engine/internal/bridge"
	"github.com/cosmail/engine/internal/config"
	"github.com/cosmail/engine/internal/engine"
	"github.com/cosmail/engine/internal/graph"
	"github.com/cosmail/engine/internal/mirror"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := mirror.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	log.Printf("Successfully connected to database")

	local := bridge.NewClient(cfg.BridgeURL)

	var cloud *graph.Client
	if cfg.CloudConfigured() {
		tokens := graph.NewTokenProvider(cfg.ClientID, cfg.ClientSecret, cfg.TenantID, cfg.TokenPath)
		cloud = graph.NewClient(cfg.GraphBaseURL, tokens)
	}

	eng := newEngine(local, cloud)

	state, err := eng.Connect(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrConnectionUnavailable) {
			log.Fatalf("No mail connection available: %s", state.Remediation)
		}
		log.Fatalf("Failed to connect: %v", err)
	}

	log.Printf("Mail engine running via %s (environment: %s)", state.Protocol, cfg.Environment)

	// The mirror only syncs through the cloud API; the bridge has no delta
	// query to drive it.
	if cloud != nil && cloud.Authorized() {
		syncer := mirror.NewSyncer(pool, cloud, cfg.Mailbox, cfg.SyncWindowDays)
		runSyncLoop(ctx, syncer, cfg.SyncInterval)
	} else {
		log.Printf("Cloud API not available, mirror sync disabled")
		<-ctx.Done()
	}

	log.Printf("Shutting down")
}

// newEngine wires the backends into the engine, keeping the nil-interface
// cases explicit.
func newEngine(local *bridge.Client, cloud *graph.Client) *engine.Engine {
	var localBackend engine.LocalBackend
	if local != nil {
		localBackend = local
	}
	var cloudBackend engine.CloudBackend
	if cloud != nil {
		cloudBackend = cloud
	}
	return engine.New(localBackend, cloudBackend, nil)
}

// runSyncLoop runs one sync immediately, then keeps the mirror current until
// the context is canceled.
func runSyncLoop(ctx context.Context, syncer *mirror.Syncer, interval time.Duration) {
	if _, err := syncer.Sync(ctx); err != nil {
		log.Printf("Warning: mirror sync failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := syncer.Sync(ctx); err != nil {
				log.Printf("Warning: mirror sync failed: %v", err)
			}
		}
	}
}
