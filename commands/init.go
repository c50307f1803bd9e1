package commands

import (
	"context"
	"seedmesh/config"

	"github.com/sirupsen/logrus"
)

// Shares the standard logger so -loglevel applies here too.
var log = logrus.StandardLogger()

// RunInit writes cfg, normally the defaults, to its config file.
func RunInit(ctx context.Context, cfg *config.Config) {
	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	log.Infof("RunInit: seed list is read from %s, one host:port per line", cfg.Node.SeedList)
}
