package registry

import (
	"context"
	"time"

	"seedmesh/helper/timer"
	"seedmesh/net/transport"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

const DefaultSweepInterval = 10 * time.Second

// Service runs a Registry behind a transport server with its expiry sweep.
type Service struct {
	Registry      *Registry
	Server        *transport.Server
	SweepInterval time.Duration
}

func NewService(reg *Registry, srv *transport.Server, sweepInterval time.Duration) *Service {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Service{
		Registry:      reg,
		Server:        srv,
		SweepInterval: sweepInterval,
	}
}

// This is run via the RunWithTicker() helper
func (s *Service) sweep(ctx context.Context) error {
	if expired := s.Registry.Sweep(); len(expired) > 0 {
		log.Infof("Service.sweep: expired %d members, %d left", len(expired), s.Registry.Len())
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	log.Infof("Seed registry listening on %s", s.Server.Addr())

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return s.Server.Serve(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: s.SweepInterval,
		}
		return timer.RunWithTicker(cctx, interval, s.sweep)
	})

	return wg.Wait()
}
