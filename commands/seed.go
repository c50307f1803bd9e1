package commands

import (
	"context"
	"fmt"
	"net"
	"seedmesh/config"
	"seedmesh/datamodel/member"
	"seedmesh/datastore/leveldb"
	"seedmesh/datastore/peerfile"
	"seedmesh/net/transport"
	"seedmesh/swarm/registry"
	"seedmesh/telemetry"

	"golang.org/x/sync/errgroup"
)

func openMemberStore(cfg *config.Config) (member.Store, error) {
	switch cfg.Seed.Store {
	case config.StoreLevelDB:
		return leveldb.NewMemberIndex(cfg.Seed.LevelDBPath)
	default:
		return peerfile.New(cfg.Seed.PeerFile)
	}
}

func RunSeed(ctx context.Context, cfg *config.Config) {
	if err := runSeed(ctx, cfg); err != nil {
		log.Fatalf("Seed failed: %v", err)
	}
}

// runSeed returns instead of exiting so the store is always closed.
func runSeed(ctx context.Context, cfg *config.Config) error {
	store, err := openMemberStore(cfg)
	if err != nil {
		return fmt.Errorf("open member store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Failed to close member store: %v", err)
		}
	}()

	metrics := telemetry.New()
	reg := registry.New(store,
		registry.WithHeartbeatTimeout(cfg.Seed.HeartbeatTimeout.Std()),
		registry.WithMetrics(metrics),
	)

	if cfg.Seed.WarmStart {
		if err := reg.WarmStart(); err != nil {
			log.Errorf("Failed to load persisted members, starting empty: %v", err)
		}
	}

	l, err := net.Listen("tcp", cfg.Seed.Listen)
	if err != nil {
		return fmt.Errorf("create seed listener: %w", err)
	}

	srv := transport.NewServer(l, reg, transport.Options{
		Timeout:     cfg.Network.Timeout.Std(),
		MaxConns:    cfg.Network.MaxConns,
		AcceptRate:  cfg.Network.AcceptRate,
		AcceptBurst: cfg.Network.AcceptBurst,
	})
	svc := registry.NewService(reg, srv, cfg.Seed.SweepInterval.Std())

	wg, cctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return svc.Run(cctx)
	})
	if cfg.Metrics.Listen != "" {
		wg.Go(func() error {
			return metrics.Serve(cctx, cfg.Metrics.Listen)
		})
	}

	if err := wg.Wait(); err != nil {
		return err
	}
	log.Infof("Seed stopped with %d members", reg.Len())
	return nil
}
