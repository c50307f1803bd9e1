package commands

import (
	"context"
	"fmt"
	"seedmesh/config"
	"seedmesh/peerid"
	"seedmesh/swarm/client"
)

// RunInfo asks every seed for its members and prints the union.
func RunInfo(ctx context.Context, cfg *config.Config) {
	seeds := loadSeeds(cfg)
	c := client.New(cfg.Network.Timeout.Std())

	var all []peerid.PeerID
	for _, seed := range seeds {
		peers, err := c.GetPeers(ctx, seed)
		if err != nil {
			log.Errorf("Seed %s: %v", seed, err)
			continue
		}
		log.Infof("Seed %s: %d members", seed, len(peers))
		all = append(all, peers...)
	}

	all = peerid.Dedup(all)
	peerid.Sort(all)
	log.Infof("Network: %d distinct members", len(all))
	for _, id := range all {
		fmt.Println(id)
	}
}
