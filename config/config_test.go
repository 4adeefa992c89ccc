package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/takstreams/errors"
	"github.com/c360/takstreams/layer"
	"github.com/c360/takstreams/pkg/tlsutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const yamlConfig = `
nats:
  urls: ["nats://nats-1:4222", "nats://nats-2:4222"]
  reconnect_wait: 5s
log_store:
  backend: sqlite
  path: /var/lib/takstreams/log.db
ingest:
  workers: 8
  rate_limit: 50
connections:
  - id: 1
    name: primary
    enabled: true
data:
  - id: 10
    name: ops
    connection: 1
    mission_sync: true
    mission_diff: true
layers:
  - id: 100
    name: tracks
    enabled: true
    data: 10
    logging: true
    stale: 120
    enabled_styles: true
    outgoing:
      subject: tak.outgoing.tracks
    styles:
      callsign: "{{name}}"
      point:
        color: "#ff0000"
      queries:
        - query: "properties.metadata.kind = 'boat'"
          styles:
            remarks: "Boat {{name}}"
`

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "takstreams.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://nats-1:4222", "nats://nats-2:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.NATS.Timeout, "defaults survive partial sections")
	assert.Equal(t, LogStoreSQLite, cfg.LogStore.Backend)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 50.0, cfg.Ingest.RateLimit)
	assert.Equal(t, "tak.layer.*.ingest", cfg.Ingest.Subject)

	require.Len(t, cfg.Layers, 1)
	l, err := cfg.Layers[0].Resolve()
	require.NoError(t, err)
	assert.Equal(t, int64(120), l.Stale)
	assert.Equal(t, "{{name}}", l.Styles.Callsign)
	require.NotNil(t, l.Styles.Point)
	assert.Equal(t, "#ff0000", l.Styles.Point.Color)
	require.Len(t, l.Styles.Queries, 1)
	assert.Equal(t, "Boat {{name}}", l.Styles.Queries[0].Styles.Remarks)
	require.NotNil(t, l.Outgoing)
	assert.Equal(t, "tak.outgoing.tracks", l.Outgoing.Subject)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	entry, err := reg.Layer(100)
	require.NoError(t, err)
	assert.True(t, entry.MissionDiff())
}

func TestLoad_JSONLayers(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"nats": {"urls": ["nats://base:4222"], "timeout": "2s"},
		"metrics": {"port": 9191},
		"connections": [{"id": 1, "name": "a", "enabled": true}]
	}`)
	site := writeFile(t, "site.json", `{
		"nats": {"urls": ["nats://site:4222"]},
		"outgoing": {"enabled": false}
	}`)

	cfg, err := Load(base, site)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://site:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 2*time.Second, cfg.NATS.Timeout)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Outgoing.Enabled)
	assert.Equal(t, "TAK_OUTGOING", cfg.Outgoing.Stream)
	assert.Len(t, cfg.Connections, 1)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TAKSTREAMS_NATS_URLS", "nats://env-1:4222,nats://env-2:4222")
	t.Setenv("TAKSTREAMS_LOG_STORE", "none")
	t.Setenv("TAKSTREAMS_INGEST_WORKERS", "2")
	t.Setenv("TAKSTREAMS_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("TAKSTREAMS_NATS_TLS_ENABLED", "true")
	t.Setenv("TAKSTREAMS_NATS_TLS_CA_FILES", "/etc/tak/ca.pem,/etc/tak/int.pem")

	cfg, err := Load(writeFile(t, "takstreams.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://env-1:4222", "nats://env-2:4222"}, cfg.NATS.URLs)
	assert.Equal(t, LogStoreNone, cfg.LogStore.Backend)
	assert.Equal(t, 2, cfg.Ingest.Workers)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.NATS.TLS.Enabled)
	assert.Equal(t, []string{"/etc/tak/ca.pem", "/etc/tak/int.pem"}, cfg.NATS.TLS.CAFiles)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	_, err = Load(writeFile(t, "takstreams.toml", "x = 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON or YAML")

	_, err = Load(writeFile(t, "broken.json", `{"nats": {`))
	require.Error(t, err)
}

func TestLoad_StyleSchemaRejected(t *testing.T) {
	path := writeFile(t, "takstreams.json", `{
		"connections": [{"id": 1, "name": "a", "enabled": true}],
		"layers": [{"id": 1, "enabled": true, "connection": 1, "styles": {"colour": "#fff"}}]
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		is     error
	}{
		{"no nats urls", func(c *Config) { c.NATS.URLs = nil }, errors.ErrInvalidConfig},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, errors.ErrInvalidConfig},
		{"metrics tls without key", func(c *Config) {
			c.Metrics.TLS = tlsutil.ServerConfig{Enabled: true, CertFile: "cert.pem"}
		}, errors.ErrInvalidConfig},
		{"nats client cert without key", func(c *Config) {
			c.NATS.TLS = tlsutil.ClientConfig{Enabled: true, CertFile: "cert.pem"}
		}, errors.ErrInvalidConfig},
		{"unknown backend", func(c *Config) { c.LogStore.Backend = "s3" }, errors.ErrInvalidConfig},
		{"kv without bucket", func(c *Config) { c.LogStore.Bucket = "" }, errors.ErrInvalidConfig},
		{"sqlite without path", func(c *Config) {
			c.LogStore.Backend = LogStoreSQLite
			c.LogStore.Path = ""
		}, errors.ErrInvalidConfig},
		{"bad subject prefix", func(c *Config) { c.Outgoing.SubjectPrefix = "tak.>" }, errors.ErrInvalidConfig},
		{"no shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, errors.ErrInvalidConfig},
		{"negative workers", func(c *Config) { c.Ingest.Workers = -1 }, errors.ErrInvalidConfig},
		{"duplicate connection", func(c *Config) {
			c.Connections = append(c.Connections, c.Connections[0])
		}, errors.ErrInvalidConfig},
		{"data on unknown connection", func(c *Config) {
			c.Data = append(c.Data, layer.Data{ID: 11, Name: "x", Connection: 9})
		}, errors.ErrConnectionNotFound},
		{"layer without target", func(c *Config) {
			c.Layers = append(c.Layers, LayerConfig{Layer: layer.Layer{ID: 2}})
		}, errors.ErrValidation},
		{"second layer on diff data", func(c *Config) {
			data := int64(10)
			c.Layers = append(c.Layers, LayerConfig{Layer: layer.Layer{ID: 2, Data: &data}})
		}, errors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.is)
		})
	}

	require.NoError(t, validConfig().Validate())
}

func validConfig() *Config {
	cfg := Default()
	data := int64(10)
	cfg.Connections = []layer.Connection{{ID: 1, Name: "primary", Enabled: true}}
	cfg.Data = []layer.Data{{ID: 10, Name: "ops", Connection: 1, MissionSync: true, MissionDiff: true}}
	cfg.Layers = []LayerConfig{{Layer: layer.Layer{ID: 1, Enabled: true, Data: &data}}}
	return cfg
}

func TestCheckJSONNesting(t *testing.T) {
	assert.NoError(t, checkJSONNesting([]byte(`{"a": [1, {"b": "}"}]}`)))
	assert.ErrorIs(t, checkJSONNesting([]byte(`{"a": [1]]}`)), errors.ErrParsingFailed)
	assert.ErrorIs(t, checkJSONNesting([]byte(`{"a": {`)), errors.ErrParsingFailed)

	deep := strings.Repeat("[", maxNesting+1) + strings.Repeat("]", maxNesting+1)
	assert.ErrorIs(t, checkJSONNesting([]byte(deep)), errors.ErrInvalidConfig)

	limit := strings.Repeat("[", maxNesting) + strings.Repeat("]", maxNesting)
	assert.NoError(t, checkJSONNesting([]byte(limit)))
}

func TestLoad_YAMLNestingLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("metadata:\n")
	for i := 0; i < maxNesting; i++ {
		b.WriteString(strings.Repeat("  ", i+1) + "k:\n")
	}
	b.WriteString(strings.Repeat("  ", maxNesting+1) + "v: 1\n")

	_, err := Load(writeFile(t, "deep.yaml", b.String()))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoad_OversizedLayer(t *testing.T) {
	path := writeFile(t, "big.json", "{}")
	require.NoError(t, os.Truncate(path, maxLayerSize+1))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "limit")
}

func TestLoader_SetRoot(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "takstreams.yaml")
	require.NoError(t, os.WriteFile(inside, []byte("metrics:\n  port: 9400\n"), 0600))
	outside := writeFile(t, "site.yaml", "metrics:\n  port: 9500\n")

	l := NewLoader()
	l.SetRoot(root)
	l.AddLayer(inside)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 9400, cfg.Metrics.Port)

	l.AddLayer(outside)
	_, err = l.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "outside config dir")

	link := filepath.Join(root, "linked.yaml")
	require.NoError(t, os.Symlink(outside, link))
	l = NewLoader()
	l.SetRoot(root)
	l.AddLayer(link)
	_, err = l.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside config dir")

	// without a root any readable layer is accepted
	cfg, err = Load(outside)
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Metrics.Port)
}

func TestLayerConfig_Resolve_StyleSizeLimit(t *testing.T) {
	big := `{"remarks": "` + strings.Repeat("x", maxStyleSize) + `"}`
	lc := LayerConfig{Layer: layer.Layer{ID: 4}, Styles: json.RawMessage(big)}

	_, err := lc.Resolve()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "layer 4")

	lc.Styles = json.RawMessage(`{"remarks": "ok"}`)
	l, err := lc.Resolve()
	require.NoError(t, err)
	assert.Equal(t, int64(4), l.ID)
}
