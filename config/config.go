package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Shares the standard logger so -loglevel applies here too.
var log = logrus.StandardLogger()

const (
	StoreFile    = "file"
	StoreLevelDB = "leveldb"

	PolicySublinear = "sublinear"
	PolicyFixed     = "fixed"
)

// Config represents the configuration for a seed or peer process
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		// Bootstrap seeds, one host:port per line
		SeedList string `json:"seed_list"`
	} `json:"node"`

	Network struct {
		ListenHost    string   `json:"listen_host"`
		AdvertiseHost string   `json:"advertise_host"`
		Port          int      `json:"port"`
		PortRangeLow  int      `json:"port_range_low"`
		PortRangeHigh int      `json:"port_range_high"`
		PortAttempts  int      `json:"port_attempts"`
		Timeout       Duration `json:"timeout"`
		MaxConns      int      `json:"max_conns"`
		AcceptRate    float64  `json:"accept_rate"`
		AcceptBurst   int      `json:"accept_burst"`
	} `json:"network"`

	Seed struct {
		Listen           string   `json:"listen"`
		HeartbeatTimeout Duration `json:"heartbeat_timeout"`
		SweepInterval    Duration `json:"sweep_interval"`
		WarmStart        bool     `json:"warm_start"`
		Store            string   `json:"store"`
		PeerFile         string   `json:"peer_file"`
		LevelDBPath      string   `json:"leveldb_path"`
	} `json:"seed"`

	Peer struct {
		GossipInterval    Duration `json:"gossip_interval"`
		ProbeInterval     Duration `json:"probe_interval"`
		HeartbeatInterval Duration `json:"heartbeat_interval"`
		TopologyInterval  Duration `json:"topology_interval"`
		Jitter            Duration `json:"jitter"`
		MaxMissedPings    int      `json:"max_missed_pings"`
		TopologyPolicy    string   `json:"topology_policy"`
		FixedCap          int      `json:"fixed_cap"`
		SeenSet           string   `json:"seen_set"`
		SeenCapacity      int      `json:"seen_capacity"`
		BloomFPRate       float64  `json:"bloom_fp_rate"`
	} `json:"peer"`

	Metrics struct {
		// Empty disables the /metrics endpoint
		Listen string `json:"listen"`
	} `json:"metrics"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Node.SeedList = "seeds.txt"

	cfg.Network.ListenHost = "0.0.0.0"
	cfg.Network.PortRangeLow = 5001
	cfg.Network.PortRangeHigh = 6000
	cfg.Network.PortAttempts = 20
	cfg.Network.Timeout = Duration(5 * time.Second)
	cfg.Network.MaxConns = 256

	cfg.Seed.Listen = "0.0.0.0:5000"
	cfg.Seed.HeartbeatTimeout = Duration(15 * time.Second)
	cfg.Seed.SweepInterval = Duration(10 * time.Second)
	cfg.Seed.WarmStart = true
	cfg.Seed.Store = StoreFile
	cfg.Seed.PeerFile = "/tmp/seedmesh/peers.txt"
	cfg.Seed.LevelDBPath = "/tmp/seedmesh/members"

	cfg.Peer.GossipInterval = Duration(5 * time.Second)
	cfg.Peer.ProbeInterval = Duration(13 * time.Second)
	cfg.Peer.HeartbeatInterval = Duration(10 * time.Second)
	cfg.Peer.TopologyInterval = Duration(30 * time.Second)
	cfg.Peer.MaxMissedPings = 3
	cfg.Peer.TopologyPolicy = PolicySublinear
	cfg.Peer.FixedCap = 5
	cfg.Peer.SeenSet = "unbounded"
	cfg.Peer.SeenCapacity = 100000
	cfg.Peer.BloomFPRate = 0.0001

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

// Load overlays the file on top of the current values, so keys missing
// from the file keep their defaults.
func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
