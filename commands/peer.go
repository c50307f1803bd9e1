package commands

import (
	"context"
	"math/rand/v2"
	"seedmesh/config"
	"seedmesh/net/transport"
	"seedmesh/peerid"
	"seedmesh/swarm/agent"
)

func loadSeeds(cfg *config.Config) []peerid.PeerID {
	seeds, err := config.LoadSeedList(cfg.Node.SeedList)
	if err != nil {
		log.Fatalf("Failed to load seed list: %v", err)
	}
	return seeds
}

func RunPeer(ctx context.Context, cfg *config.Config) {
	seeds := loadSeeds(cfg)

	ports := transport.CandidatePorts(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		cfg.Network.Port, cfg.Network.PortRangeLow, cfg.Network.PortRangeHigh, cfg.Network.PortAttempts)

	l, err := transport.ListenFirstAvailable(cfg.Network.ListenHost, ports)
	if err != nil {
		log.Fatalf("Failed to bind a peer port: %v", err)
	}

	self, err := transport.AdvertiseAddr(l, cfg.Network.AdvertiseHost)
	if err != nil {
		log.Fatalf("Failed to work out the advertised address: %v", err)
	}

	a, err := agent.New(cfg, self, seeds, l)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	// Heartbeats register us with the seeds later if this fails.
	if err := a.Bootstrap(ctx); err != nil {
		log.Errorf("Bootstrap: %v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("Failed to run agent: %v", err)
	}
	log.Infof("Agent %s stopped with %d neighbors", self, a.Table.Len())
}
