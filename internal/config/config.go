// Package config loads and validates the single YAML configuration
// document shared by the broker and worker binaries.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"wgkex/internal/model"
)

const (
	// EnvConfigFile overrides the default config file path.
	EnvConfigFile = "WGKEX_CONFIG_FILE"
	// DefaultConfigFile is used when EnvConfigFile is unset.
	DefaultConfigFile = "/etc/wgkex/config.yaml"

	ipamBackendJSON   = "json"
	ipamBackendNetbox = "netbox"
)

// Listen describes an HTTP bind address.
type Listen struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr renders the listen address as host:port.
func (l Listen) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// MQTT describes the pub/sub bus connection.
type MQTT struct {
	BrokerURL  string `mapstructure:"broker_url"`
	BrokerPort int    `mapstructure:"broker_port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Keepalive  int    `mapstructure:"keepalive"`
	TLS        bool   `mapstructure:"tls"`
}

// URL renders the broker_url/broker_port pair as a tcp:// or ssl:// URL for
// paho's client options, depending on TLS.
func (m MQTT) URL() string {
	scheme := "tcp"
	if m.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.BrokerURL, m.BrokerPort)
}

// Worker is one entry of the `workers` map: broker-side load-balancer
// weight. PoP is an additive field; when unset, all workers are treated
// as a single implicit PoP and selection is unaffected.
type Worker struct {
	Weight int    `mapstructure:"weight"`
	PoP    string `mapstructure:"pop"`
}

// IPv6Prefixes configures the length of IPv6 prefix Parker hands out.
type IPv6Prefixes struct {
	Length int `mapstructure:"length"`
}

// Prefixes groups the allocator's prefix-length configuration.
type Prefixes struct {
	IPv6 IPv6Prefixes `mapstructure:"ipv6"`
}

// NetboxIPAM configures the remote (external-API) IPAM backend.
type NetboxIPAM struct {
	BaseURL     string `mapstructure:"base_url"`
	Token       string `mapstructure:"token"`
	ParentCIDR  string `mapstructure:"parent_prefix"`
	CreatedByID string `mapstructure:"created_by"`
}

// JSONIPAM configures the file-backed IPAM backend.
type JSONIPAM struct {
	Path         string `mapstructure:"path"`
	ParentPrefix string `mapstructure:"parent_prefix"`
}

// Parker configures the v3 signed-prefix endpoint.
type Parker struct {
	Enabled  bool       `mapstructure:"enabled"`
	IPAM     string     `mapstructure:"ipam"`
	Prefixes Prefixes   `mapstructure:"prefixes"`
	JSON     JSONIPAM   `mapstructure:"json"`
	Netbox   NetboxIPAM `mapstructure:"netbox"`
	// Range4 is the fixed 464XLAT CLAT IPv4 subnet handed to every node
	// as the response's range4/address4 fields; unlike range6 it is not
	// individually allocated per key.
	Range4 string `mapstructure:"range4"`
}

// Allowlist configures the allow-list file and reload interval.
type Allowlist struct {
	Path            string `mapstructure:"path"`
	ReloadIntervalS int    `mapstructure:"reload_interval_seconds"`
}

// Blacklist configures the deny-list file.
type Blacklist struct {
	Path string `mapstructure:"path"`
}

// Log configures the shared zap logger.
type Log struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// WorkerRuntime configures worker-process-only behavior.
type WorkerRuntime struct {
	ExternalName        string `mapstructure:"external_name"`
	MetricsIntervalS    int    `mapstructure:"metrics_interval_seconds"`
	CleanupIntervalS    int    `mapstructure:"cleanup_interval_seconds"`
	StaleHandshakeS     int    `mapstructure:"stale_handshake_seconds"`
	ConnectedHandshakeS int    `mapstructure:"connected_handshake_seconds"`
}

// Config is the fully validated configuration document shared by both
// binaries; each binary only reads the sections it needs.
type Config struct {
	Domains          []string          `mapstructure:"domains"`
	DomainPrefixes   []string          `mapstructure:"domain_prefixes"`
	BrokerListen     Listen            `mapstructure:"broker_listen"`
	MQTT             MQTT              `mapstructure:"mqtt"`
	Workers          map[string]Worker `mapstructure:"workers"`
	Parker           Parker            `mapstructure:"parker"`
	BrokerSigningKey string            `mapstructure:"broker_signing_key"`
	Allowlist        Allowlist         `mapstructure:"allowlist"`
	Blacklist        Blacklist         `mapstructure:"blacklist"`
	Log              Log               `mapstructure:"log"`
	Worker           WorkerRuntime     `mapstructure:"worker"`

	// DomainTable resolves Domains/DomainPrefixes once at Load() time, so
	// both binaries share a single validated view instead of reparsing it.
	DomainTable *model.DomainTable `mapstructure:"-"`
}

// ConfigFilePath resolves the config file path from the environment:
// $WGKEX_CONFIG_FILE overrides a default absolute path.
func ConfigFilePath() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}
	return DefaultConfigFile
}

// Load reads, defaults, and validates the configuration document at path.
// Any validation failure is meant to be treated as fatal by main().
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)
	v.SetEnvPrefix("wgkex")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	table, err := model.NewDomainTable(cfg.Domains, cfg.DomainPrefixes)
	if err != nil {
		return nil, fmt.Errorf("validating domains: %w", err)
	}
	cfg.DomainTable = table

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker_listen.host", "0.0.0.0")
	v.SetDefault("broker_listen.port", 8080)
	v.SetDefault("mqtt.broker_port", 1883)
	v.SetDefault("mqtt.keepalive", 5)
	v.SetDefault("mqtt.tls", false)
	v.SetDefault("parker.enabled", false)
	v.SetDefault("parker.ipam", ipamBackendJSON)
	v.SetDefault("parker.prefixes.ipv6.length", 63)
	v.SetDefault("parker.json.path", "/var/local/wgkex/broker/ipv6_ranges.json")
	v.SetDefault("parker.range4", "10.80.99.0/22")
	v.SetDefault("allowlist.reload_interval_seconds", 300)
	v.SetDefault("worker.metrics_interval_seconds", 60)
	v.SetDefault("worker.cleanup_interval_seconds", 3600)
	v.SetDefault("worker.stale_handshake_seconds", 3*60*60)
	v.SetDefault("worker.connected_handshake_seconds", 3*60)
}

func (c *Config) validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("config: at least one domain must be configured")
	}
	if c.MQTT.BrokerURL == "" {
		return fmt.Errorf("config: mqtt.broker_url is required")
	}
	for name, w := range c.Workers {
		if w.Weight == 0 {
			w.Weight = 1
			c.Workers[name] = w
		}
		if w.Weight < 0 {
			return fmt.Errorf("config: worker %q has negative weight %d", name, w.Weight)
		}
	}
	if c.Parker.Enabled {
		if c.BrokerSigningKey == "" {
			return fmt.Errorf("config: broker_signing_key is required when parker.enabled")
		}
		if c.Parker.Prefixes.IPv6.Length <= 0 || c.Parker.Prefixes.IPv6.Length > 128 {
			return fmt.Errorf("config: parker.prefixes.ipv6.length must be in (0,128]")
		}
		switch c.Parker.IPAM {
		case ipamBackendJSON, ipamBackendNetbox:
		default:
			return fmt.Errorf("config: parker.ipam must be %q or %q, got %q", ipamBackendJSON, ipamBackendNetbox, c.Parker.IPAM)
		}
	}
	return nil
}
