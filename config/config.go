package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/ingest"
	"github.com/c360/takstreams/layer"
	"github.com/c360/takstreams/pkg/tlsutil"
	"github.com/c360/takstreams/style"
)

// Log store backends
const (
	LogStoreKV     = "kv"     // NATS JetStream KV bucket
	LogStoreSQLite = "sqlite" // local SQLite file
	LogStoreNone   = "none"   // feature log disabled
)

// Config represents the complete application configuration
type Config struct {
	NATS            NATSConfig         `json:"nats"`
	Metrics         MetricsConfig      `json:"metrics"`
	LogStore        LogStoreConfig     `json:"log_store"`
	Outgoing        OutgoingConfig     `json:"outgoing"`
	Ingest          ingest.InputConfig `json:"ingest"`
	ShutdownTimeout time.Duration      `json:"shutdown_timeout" env:"TAKSTREAMS_SHUTDOWN_TIMEOUT"`

	Connections []layer.Connection `json:"connections"`
	Data        []layer.Data       `json:"data"`
	Layers      []LayerConfig      `json:"layers"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs                    []string      `json:"urls,omitempty" env:"TAKSTREAMS_NATS_URLS" envSeparator:","`
	Name                    string        `json:"name,omitempty" env:"TAKSTREAMS_NATS_NAME"`
	Username                string        `json:"username,omitempty" env:"TAKSTREAMS_NATS_USERNAME"`
	Password                string        `json:"password,omitempty" env:"TAKSTREAMS_NATS_PASSWORD"`
	Token                   string        `json:"token,omitempty" env:"TAKSTREAMS_NATS_TOKEN"`
	MaxReconnects           int           `json:"max_reconnects,omitempty"`
	ReconnectWait           time.Duration `json:"reconnect_wait,omitempty"`
	Timeout                 time.Duration `json:"timeout,omitempty" env:"TAKSTREAMS_NATS_TIMEOUT"`
	CircuitBreakerThreshold int32         `json:"circuit_breaker_threshold,omitempty"`
	TLS                     tlsutil.ClientConfig `json:"tls"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"TAKSTREAMS_METRICS_ENABLED"`
	Port    int    `json:"port" env:"TAKSTREAMS_METRICS_PORT"`
	Path    string `json:"path"`
	TLS     tlsutil.ServerConfig `json:"tls"`
}

// LogStoreConfig selects where feature snapshots are persisted
type LogStoreConfig struct {
	Backend  string `json:"backend" env:"TAKSTREAMS_LOG_STORE"`
	Bucket   string `json:"bucket,omitempty" env:"TAKSTREAMS_LOG_STORE_BUCKET"`
	Path     string `json:"path,omitempty" env:"TAKSTREAMS_LOG_STORE_PATH"`
	Replicas int    `json:"replicas,omitempty"`
}

// OutgoingConfig controls the broker sinks
type OutgoingConfig struct {
	Enabled       bool   `json:"enabled" env:"TAKSTREAMS_OUTGOING_ENABLED"`
	Stream        string `json:"stream" env:"TAKSTREAMS_OUTGOING_STREAM"`
	SubjectPrefix string `json:"subject_prefix" env:"TAKSTREAMS_OUTGOING_SUBJECT_PREFIX"`
}

// LayerConfig is a layer as written in the config file. Styles stay raw until
// they have been checked against the style schema.
type LayerConfig struct {
	layer.Layer
	Styles json.RawMessage `json:"styles,omitempty"`
}

// Resolve validates the styles and returns the layer
func (lc LayerConfig) Resolve() (layer.Layer, error) {
	l := lc.Layer
	if err := checkStyleSize(l.ID, lc.Styles); err != nil {
		return layer.Layer{}, err
	}
	styles, err := style.ParseContainer(lc.Styles)
	if err != nil {
		return layer.Layer{}, errors.Wrap(err, "LayerConfig", "Resolve", fmt.Sprintf("parse styles of layer %d", l.ID))
	}
	l.Styles = styles
	return l, nil
}

// Default returns the configuration used as the base of every load
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "takstreams",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		LogStore: LogStoreConfig{
			Backend: LogStoreKV,
			Bucket:  "TAK_FEATURE_LOG",
			Path:    "takstreams.db",
		},
		Outgoing: OutgoingConfig{
			Enabled:       true,
			Stream:        "TAK_OUTGOING",
			SubjectPrefix: "tak.outgoing",
		},
		Ingest:          ingest.DefaultInputConfig(),
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return invalid("nats.urls is required")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}
	if t := c.Metrics.TLS; t.Enabled && (t.CertFile == "" || t.KeyFile == "") {
		return invalid("metrics.tls requires cert_file and key_file")
	}
	if t := c.NATS.TLS; t.Enabled && (t.CertFile == "") != (t.KeyFile == "") {
		return invalid("nats.tls cert_file and key_file must be set together")
	}

	switch c.LogStore.Backend {
	case LogStoreKV:
		if c.LogStore.Bucket == "" {
			return invalid("log_store.bucket is required for the kv backend")
		}
	case LogStoreSQLite:
		if c.LogStore.Path == "" {
			return invalid("log_store.path is required for the sqlite backend")
		}
	case LogStoreNone:
	default:
		return invalid("log_store.backend %q must be one of kv, sqlite, none", c.LogStore.Backend)
	}

	if c.Outgoing.Enabled {
		if c.Outgoing.Stream == "" {
			return invalid("outgoing.stream is required")
		}
		if !isValidNATSSubjectPart(c.Outgoing.SubjectPrefix) {
			return invalid("outgoing.subject_prefix %q is not valid for NATS subjects", c.Outgoing.SubjectPrefix)
		}
	}

	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown_timeout must be positive")
	}

	if c.Ingest.Workers < 0 || c.Ingest.QueueSize < 0 || c.Ingest.RateLimit < 0 {
		return invalid("ingest workers, queue_size and rate_limit must not be negative")
	}

	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// Registry builds the layer registry described by the config. Connections
// are registered first, then data syncs, then layers, so references resolve
// regardless of section order.
func (c *Config) Registry() (*layer.Registry, error) {
	reg := layer.NewRegistry()

	seen := make(map[int64]bool, len(c.Connections))
	for _, conn := range c.Connections {
		if seen[conn.ID] {
			return nil, invalid("duplicate connection id %d", conn.ID)
		}
		seen[conn.ID] = true
		reg.PutConnection(conn)
	}

	seen = make(map[int64]bool, len(c.Data))
	for _, d := range c.Data {
		if seen[d.ID] {
			return nil, invalid("duplicate data id %d", d.ID)
		}
		seen[d.ID] = true
		if err := reg.PutData(d); err != nil {
			return nil, errors.Wrap(err, "Config", "Registry", fmt.Sprintf("register data %d", d.ID))
		}
	}

	seen = make(map[int64]bool, len(c.Layers))
	for _, lc := range c.Layers {
		if seen[lc.ID] {
			return nil, invalid("duplicate layer id %d", lc.ID)
		}
		seen[lc.ID] = true
		l, err := lc.Resolve()
		if err != nil {
			return nil, err
		}
		if err := reg.PutLayer(l); err != nil {
			return nil, errors.Wrap(err, "Config", "Registry", fmt.Sprintf("register layer %d", l.ID))
		}
	}
	return reg, nil
}

func invalid(format string, args ...any) error {
	cause := fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...))
	return errors.WrapFatal(cause, "Config", "Validate", "validate config")
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	root       string
	layers     []string
	validation bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// SetRoot restricts every layer to files under dir. An empty dir lifts the
// restriction.
func (l *Loader) SetRoot(dir string) {
	l.root = dir
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load reads the given files over the defaults, applies environment
// overrides and validates the result.
func Load(paths ...string) (*Config, error) {
	l := NewLoader()
	for _, p := range paths {
		l.AddLayer(p)
	}
	l.EnableValidation(true)
	return l.Load()
}

// Load loads and merges all configuration layers. Later layers override
// earlier ones key by key; lists are replaced whole.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode merged config")
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "decode merged config")
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file, chosen by extension, into a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readLayer(l.root, path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if err := checkNesting(raw, 1); err != nil {
			return nil, err
		}
	default:
		if err := checkJSONNesting(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	parseDurations(raw)
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "toMap", "encode defaults")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "toMap", "decode defaults")
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

var durationKeys = map[string]bool{
	"reconnect_wait":   true,
	"timeout":          true,
	"shutdown_timeout": true,
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) {
	for k, v := range data {
		switch val := v.(type) {
		case string:
			if durationKeys[k] {
				if d, err := time.ParseDuration(val); err == nil {
					data[k] = d.Nanoseconds()
				}
			}
		case map[string]any:
			parseDurations(val)
		}
	}
}
