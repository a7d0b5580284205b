package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Upstream backend identifiers.
const (
	BackendOPCUA = "opcua"
	BackendS7    = "s7"
)

// Config holds the complete application configuration.
type Config struct {
	Namespace string         `yaml:"namespace"` // Required: instance namespace for topic/key isolation
	Upstream  UpstreamConfig `yaml:"upstream"`
	Points    []Point        `yaml:"points"`
	Web       WebConfig      `yaml:"web"`
	MQTT      []MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey    []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig  `yaml:"kafka,omitempty"`

	// Data mutex protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call UnlockAndSave().
	// Save() acquires the lock internally for callers that don't hold it.
	dataMu sync.Mutex `yaml:"-"`
}

// UpstreamConfig describes the single upstream data source.
type UpstreamConfig struct {
	Backend          string        `yaml:"backend"` // "opcua" or "s7"
	PrimaryEndpoint  string        `yaml:"primary_endpoint"`
	FallbackEndpoint string        `yaml:"fallback_endpoint,omitempty"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay,omitempty"`  // default 5s
	SessionTimeout   time.Duration `yaml:"session_timeout,omitempty"`  // OPC UA requested session timeout
	PublishInterval  time.Duration `yaml:"publish_interval,omitempty"` // OPC UA subscription publishing interval, default 1s
	PollRate         time.Duration `yaml:"poll_rate,omitempty"`        // poll interval for non-subscribing backends, default 2s
	WriteTimeout     time.Duration `yaml:"write_timeout,omitempty"`    // bound on a single upstream write, default 3s
	Rack             int           `yaml:"rack,omitempty"`             // S7 only
	Slot             int           `yaml:"slot,omitempty"`             // S7 only
}

// WebConfig holds web server configuration.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"` // host:port format
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database"`           // Redis DB number (default 0)
	Selector       string        `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS         bool          `yaml:"use_tls,omitempty"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"`         // TTL for keys (0 = no expiry)
	PublishChanges bool          `yaml:"publish_changes,omitempty"` // Publish to Pub/Sub on changes
}

// KafkaConfig holds Kafka cluster configuration.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`
	Selector      string        `yaml:"selector,omitempty"` // Optional sub-namespace
}

// DefaultConfig returns a config populated with usable defaults.
func DefaultConfig() *Config {
	return &Config{
		Points: []Point{},
		Upstream: UpstreamConfig{
			Backend:         BackendOPCUA,
			ReconnectDelay:  5 * time.Second,
			PublishInterval: time.Second,
			PollRate:        2 * time.Second,
			WriteTimeout:    3 * time.Second,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		MQTT:   []MQTTConfig{},
		Valkey: []ValkeyConfig{},
		Kafka:  []KafkaConfig{},
	}
}

// DefaultPath returns the default configuration file path (~/.plantlink/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".plantlink", "config.yaml")
}

// Load reads configuration from a YAML file.
// A missing file yields defaults rather than an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults backfills zero-valued timing fields after unmarshal.
func (c *Config) applyDefaults() {
	if c.Upstream.Backend == "" {
		c.Upstream.Backend = BackendOPCUA
	}
	if c.Upstream.ReconnectDelay <= 0 {
		c.Upstream.ReconnectDelay = 5 * time.Second
	}
	if c.Upstream.PublishInterval <= 0 {
		c.Upstream.PublishInterval = time.Second
	}
	if c.Upstream.PollRate <= 0 {
		c.Upstream.PollRate = 2 * time.Second
	}
	if c.Upstream.WriteTimeout <= 0 {
		c.Upstream.WriteTimeout = 3 * time.Second
	}
}

// Lock acquires the config data mutex.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.saveLocked(path)
}

// UnlockAndSave saves the config and releases the lock. For callers that
// already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	defer c.dataMu.Unlock()
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// FindPoint returns the point with the given ID, or nil if not found.
func (c *Config) FindPoint(id string) *Point {
	for i := range c.Points {
		if c.Points[i].ID == id {
			return &c.Points[i]
		}
	}
	return nil
}

// FindMQTT returns the MQTT config with the given name, or nil if not found.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// FindValkey returns the Valkey config with the given name, or nil if not found.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// FindKafka returns the Kafka config with the given name, or nil if not found.
func (c *Config) FindKafka(name string) *KafkaConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, and underscores")
	}

	switch c.Upstream.Backend {
	case BackendOPCUA, BackendS7:
	default:
		return fmt.Errorf("unknown upstream backend %q", c.Upstream.Backend)
	}

	if c.Upstream.PrimaryEndpoint == "" {
		return fmt.Errorf("upstream primary_endpoint is required")
	}

	seen := make(map[string]bool, len(c.Points))
	for i := range c.Points {
		p := &c.Points[i]
		if p.ID == "" {
			return fmt.Errorf("point %d: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate point id %q", p.ID)
		}
		seen[p.ID] = true

		if !p.DataType.Valid() {
			return fmt.Errorf("point %q: unknown data type %q", p.ID, p.DataType)
		}

		switch c.Upstream.Backend {
		case BackendOPCUA:
			if p.NodeID == "" {
				return fmt.Errorf("point %q: node_id is required for the opcua backend", p.ID)
			}
		case BackendS7:
			if p.Address == nil {
				return fmt.Errorf("point %q: address is required for the s7 backend", p.ID)
			}
			if p.DataType == TypeString && p.Address.Length <= 0 {
				return fmt.Errorf("point %q: string points need a positive address length", p.ID)
			}
		}
	}

	for i := range c.Kafka {
		k := &c.Kafka[i]
		if k.Enabled && len(k.Brokers) == 0 {
			return fmt.Errorf("kafka %q: at least one broker is required", k.Name)
		}
	}

	return nil
}

// IsValidNamespace returns true if the namespace is valid.
// Valid namespaces contain only alphanumeric characters, hyphens, underscores, and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
