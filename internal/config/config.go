package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// BackendZooKeeper stores state in a ZooKeeper ensemble.
	BackendZooKeeper = "zookeeper"
	// BackendMemory keeps state in process, for local runs and tests.
	BackendMemory = "memory"

	// StoreCoordination applies counters through the coordination service.
	StoreCoordination = "coordination"
	// StoreLedger applies counters as TigerBeetle transfers.
	StoreLedger = "ledger"

	// DefaultNodePrefix is prepended to every counter node name.
	DefaultNodePrefix = "api_call_atomic_counter_zookeeper_"
	// DefaultQueueCapacity bounds the async ingestion queue.
	DefaultQueueCapacity = 1_000_000
)

// Config is the tally YAML configuration.
type Config struct {
	Coordination Coordination `yaml:"coordination"`
	Counters     Counters     `yaml:"counters"`
	Limits       Limits       `yaml:"limits"`
	Ledger       Ledger       `yaml:"ledger"`
	Server       Server       `yaml:"server"`
}

// Coordination selects and addresses the coordination service.
type Coordination struct {
	Backend        string        `yaml:"backend"`
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Counters configures counter paths and the ingestion pipeline.
type Counters struct {
	Root            string        `yaml:"root"`
	NodePrefix      string        `yaml:"node_prefix"`
	Async           bool          `yaml:"async"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	HandleCacheSize int           `yaml:"handle_cache_size"`
	Store           string        `yaml:"store"`
	Attempts        int           `yaml:"attempts"`
	AttemptSleep    time.Duration `yaml:"attempt_sleep"`
	Backoff         Backoff       `yaml:"backoff"`
}

// Backoff bounds the delay between failed increment attempts.
type Backoff struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// Limits configures the limit namespace and bootstrap defaults.
type Limits struct {
	Root               string        `yaml:"root"`
	Categories         CategoryList  `yaml:"categories"`
	SupervisorInterval time.Duration `yaml:"supervisor_interval"`
	RearmAttempts      int           `yaml:"rearm_attempts"`
}

// Ledger addresses a TigerBeetle cluster for the ledger counter store.
type Ledger struct {
	ClusterID uint32   `yaml:"cluster_id"`
	Addresses []string `yaml:"addresses"`
	Sessions  int      `yaml:"sessions"`
}

// Server configures the serve command.
type Server struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// CategoryList holds raw `category:limit` entries. YAML may give either a
// comma separated string or a sequence.
type CategoryList []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (l *CategoryList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		*l = splitEntries(raw)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		var out CategoryList
		for _, item := range items {
			out = append(out, splitEntries(item)...)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: categories must be a string or a list", value.Line)
	}
}

func splitEntries(raw string) []string {
	var entries []string
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		entries = append(entries, part)
	}
	return entries
}

// Load reads, parses, defaults and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Coordination.Backend == "" {
		cfg.Coordination.Backend = BackendZooKeeper
	}
	if cfg.Coordination.SessionTimeout <= 0 {
		cfg.Coordination.SessionTimeout = 15 * time.Second
	}
	if cfg.Coordination.ConnectTimeout <= 0 {
		cfg.Coordination.ConnectTimeout = 10 * time.Second
	}
	if cfg.Counters.Root == "" {
		cfg.Counters.Root = "/tally/counters"
	}
	if cfg.Counters.NodePrefix == "" {
		cfg.Counters.NodePrefix = DefaultNodePrefix
	}
	if cfg.Counters.QueueCapacity <= 0 {
		cfg.Counters.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Counters.Store == "" {
		cfg.Counters.Store = StoreCoordination
	}
	if cfg.Counters.Attempts <= 0 {
		cfg.Counters.Attempts = 10
	}
	if cfg.Counters.AttemptSleep <= 0 {
		cfg.Counters.AttemptSleep = 10 * time.Millisecond
	}
	if cfg.Counters.Backoff.Initial <= 0 {
		cfg.Counters.Backoff.Initial = 10 * time.Millisecond
	}
	if cfg.Counters.Backoff.Max <= 0 {
		cfg.Counters.Backoff.Max = 5 * time.Second
	}
	if cfg.Limits.Root == "" {
		cfg.Limits.Root = "/tally/limits"
	}
	if cfg.Limits.SupervisorInterval <= 0 {
		cfg.Limits.SupervisorInterval = 30 * time.Second
	}
	if cfg.Limits.RearmAttempts <= 0 {
		cfg.Limits.RearmAttempts = 5
	}
	if cfg.Ledger.Sessions <= 0 {
		cfg.Ledger.Sessions = 1
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
}
