package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/sirupsen/logrus"
)

const namespace = "seedmesh"

// Metrics owns its registry so several agents in one process (tests) never
// collide on registration.
type Metrics struct {
	Registry *prometheus.Registry

	Requests *prometheus.CounterVec

	// Registry side
	Registrations prometheus.Counter
	DeadReports   prometheus.Counter
	Expirations   prometheus.Counter
	Members       prometheus.Gauge

	// Agent side
	Handshakes       *prometheus.CounterVec
	Neighbors        prometheus.Gauge
	GossipOriginated prometheus.Counter
	GossipReceived   prometheus.Counter
	GossipDuplicates prometheus.Counter
	GossipRelayed    prometheus.Counter
	Probes           *prometheus.CounterVec
	Evictions        prometheus.Counter
	Heartbeats       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inbound requests by message kind and outcome.",
		}, []string{"kind", "status"}),

		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Register requests and implicit registrations by heartbeat.",
		}),
		DeadReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "dead_reports_total",
			Help:      "dead_node reports received.",
		}),
		Expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "expirations_total",
			Help:      "Members removed by the heartbeat expiry sweep.",
		}),
		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "members",
			Help:      "Current size of the membership table.",
		}),

		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "handshakes_total",
			Help:      "Outbound connect handshakes by result.",
		}, []string{"result"}),
		Neighbors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "neighbors",
			Help:      "Current size of the neighbor table.",
		}),
		GossipOriginated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "originated_total",
			Help:      "Gossip payloads created by this node.",
		}),
		GossipReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "received_total",
			Help:      "Gossip payloads received from neighbors.",
		}),
		GossipDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "duplicates_total",
			Help:      "Received payloads dropped as already seen.",
		}),
		GossipRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "relayed_total",
			Help:      "Payload sends to neighbors, one per neighbor.",
		}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "probes_total",
			Help:      "Neighbor pings by result.",
		}, []string{"result"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "evictions_total",
			Help:      "Neighbors evicted after too many missed pings.",
		}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent to seeds by result.",
		}, []string{"result"}),
	}

	startTime := time.Now()
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	}, func() float64 { return time.Since(startTime).Seconds() })

	m.Registry.MustRegister(
		m.Requests,
		m.Registrations, m.DeadReports, m.Expirations, m.Members,
		m.Handshakes, m.Neighbors,
		m.GossipOriginated, m.GossipReceived, m.GossipDuplicates, m.GossipRelayed,
		m.Probes, m.Evictions, m.Heartbeats,
		uptime,
	)
	return m
}

// Result labels a best-effort outcome.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("telemetry: shutdown of %s: %v", addr, err)
		}
	})
	defer stop()

	log.Infof("telemetry: serving metrics on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
