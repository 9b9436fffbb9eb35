package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/natsbridge/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout.Std())
	assert.Equal(t, time.Second, cfg.NATS.ReconnectWait.Std())
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 10*time.Second, cfg.NATS.DrainTimeout.Std())
	assert.Equal(t, 2*time.Minute, cfg.NATS.PingInterval.Std())
	assert.Equal(t, 12345, cfg.HTTP.Port)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, 256, cfg.Subscriptions.BufferSize)
	assert.True(t, cfg.Subscriptions.Resubscribe)
	assert.Equal(t, StringList{SinkStdout}, cfg.Sink.Types)
	assert.Equal(t, 0, cfg.Metrics.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "bridge.json", `{
		"nats": {
			"url": "nats://bus.local:4222",
			"reconnect_wait": "3s",
			"drain_timeout": 2000000000
		},
		"http": {"port": 8080},
		"sink": {"type": ["stdout", "webhook"], "webhook": {"url": "http://127.0.0.1:9000/in", "retries": 1}}
	}`)

	loader := NewLoader()
	loader.lookupEnv = noEnv
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://bus.local:4222", cfg.NATS.URL)
	assert.Equal(t, 3*time.Second, cfg.NATS.ReconnectWait.Std())
	assert.Equal(t, 2*time.Second, cfg.NATS.DrainTimeout.Std())
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, StringList{SinkStdout, SinkWebhook}, cfg.Sink.Types)
	assert.Equal(t, 1, cfg.Sink.Webhook.Retries)

	// untouched fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout.Std())
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, 10*time.Second, cfg.Sink.Webhook.Timeout.Std())
	assert.True(t, cfg.Subscriptions.Resubscribe)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "bridge.yaml", `
nats:
  url: nats://yaml.local:4222
  creds_file: /etc/nats/bridge.creds
  connect_timeout: 750ms
  tls:
    ca_files: [/etc/nats/ca.pem]
    min_version: "1.3"
subscriptions:
  buffer_size: 16
  resubscribe: false
sink:
  type: file
  file:
    path: /var/log/bridge.jsonl
metrics:
  port: 9090
`)

	loader := NewLoader()
	loader.lookupEnv = noEnv
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://yaml.local:4222", cfg.NATS.URL)
	assert.Equal(t, "/etc/nats/bridge.creds", cfg.NATS.CredsFile)
	assert.Equal(t, 750*time.Millisecond, cfg.NATS.ConnectTimeout.Std())
	assert.Equal(t, []string{"/etc/nats/ca.pem"}, cfg.NATS.TLS.CAFiles)
	assert.Equal(t, "1.3", cfg.NATS.TLS.MinVersion)
	assert.Equal(t, 16, cfg.Subscriptions.BufferSize)
	assert.False(t, cfg.Subscriptions.Resubscribe)
	assert.Equal(t, StringList{SinkFile}, cfg.Sink.Types)
	assert.Equal(t, "/var/log/bridge.jsonl", cfg.Sink.File.Path)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 12345, cfg.HTTP.Port)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", `{"nats": {"url": "nats://base:4222"}, "http": {"port": 1000}}`)
	override := writeFile(t, "override.yml", "http:\n  port: 2000\n")

	loader := NewLoader()
	loader.lookupEnv = noEnv
	loader.AddLayer(base)
	loader.AddLayer(override)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "nats://base:4222", cfg.NATS.URL)
	assert.Equal(t, 2000, cfg.HTTP.Port)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("NATSBRIDGE_NATS_URL", "nats://env:4222")
	t.Setenv("NATSBRIDGE_NATS_CREDS_FILE", "/tmp/env.creds")
	t.Setenv("NATSBRIDGE_HTTP_PORT", "4321")
	t.Setenv("NATSBRIDGE_METRICS_PORT", "9191")
	t.Setenv("NATSBRIDGE_SINK_TYPE", "stdout,websocket")

	path := writeFile(t, "bridge.json", `{"nats": {"url": "nats://file:4222"}, "http": {"port": 1111}}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "/tmp/env.creds", cfg.NATS.CredsFile)
	assert.Equal(t, 4321, cfg.HTTP.Port)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, StringList{SinkStdout, SinkWebSocket}, cfg.Sink.Types)
}

func TestLoader_EnvOverrideInvalidPort(t *testing.T) {
	t.Setenv("NATSBRIDGE_HTTP_PORT", "not-a-port")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, stderrors.Is(err, errors.ErrInvalidConfig))
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"malformed json", "bad.json", `{"nats": {`},
		{"malformed yaml", "bad.yaml", "nats: [unclosed"},
		{"bad duration", "dur.json", `{"nats": {"reconnect_wait": "soon"}}`},
		{"unsupported extension", "bridge.toml", `url = "nats://x"`},
		{"too deep", "deep.json", strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeFile(t, test.file, test.content)
			loader := NewLoader()
			loader.lookupEnv = noEnv

			_, err := loader.LoadFile(path)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		loader := NewLoader()
		loader.lookupEnv = noEnv
		_, err := loader.LoadFile(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})
}

func TestLoader_Validation(t *testing.T) {
	path := writeFile(t, "bridge.json", `{"http": {"port": 0}}`)

	loader := NewLoader()
	loader.lookupEnv = noEnv
	_, err := loader.LoadFile(path)
	require.NoError(t, err, "validation is off by default")

	loader.EnableValidation(true)
	_, err = loader.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.port 0 out of range")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid default", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.NATS.URL = "" }, "nats.url is required"},
		{"bad url", func(c *Config) { c.NATS.URL = "not a url" }, "is not a valid URL"},
		{"zero connect timeout", func(c *Config) { c.NATS.ConnectTimeout = 0 }, "connect_timeout"},
		{"bad max reconnects", func(c *Config) { c.NATS.MaxReconnects = -5 }, "max_reconnects"},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"no body limit", func(c *Config) { c.HTTP.MaxBodyBytes = 0 }, "max_body_bytes"},
		{"zero ping interval", func(c *Config) { c.NATS.PingInterval = 0 }, "nats.ping_interval"},
		{"zero buffer", func(c *Config) { c.Subscriptions.BufferSize = 0 }, "buffer_size"},
		{"metrics port", func(c *Config) { c.Metrics.Port = -1 }, "metrics.port"},
		{"no sinks", func(c *Config) { c.Sink.Types = nil }, "sink.type is required"},
		{"unknown sink", func(c *Config) { c.Sink.Types = StringList{"kafka"} }, `unknown sink type "kafka"`},
		{"file without path", func(c *Config) { c.Sink.Types = StringList{SinkFile} }, "sink.file.path"},
		{"webhook without url", func(c *Config) { c.Sink.Types = StringList{SinkWebhook} }, "sink.webhook.url"},
		{"webhook ftp", func(c *Config) {
			c.Sink.Types = StringList{SinkWebhook}
			c.Sink.Webhook.URL = "ftp://host/x"
		}, "sink.webhook.url"},
		{"websocket bad path", func(c *Config) {
			c.Sink.Types = StringList{SinkWebSocket}
			c.Sink.WebSocket.Path = "ws"
		}, "sink.websocket.path"},
		{"nats tls cert without key", func(c *Config) { c.NATS.TLS.CertFile = "/etc/bridge/cert.pem" }, "nats.tls"},
		{"webhook tls version", func(c *Config) {
			c.Sink.Types = StringList{SinkWebhook}
			c.Sink.Webhook.URL = "https://hooks.local/in"
			c.Sink.Webhook.TLS.MinVersion = "1.0"
		}, "sink.webhook.tls"},
		{"valid websocket", func(c *Config) {
			c.Sink.Types = StringList{SinkWebSocket}
			c.Sink.WebSocket.Port = 12346
		}, ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)

			err := cfg.Validate()
			if test.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.errMsg)
			assert.True(t, errors.IsInvalid(err))
			assert.True(t, stderrors.Is(err, errors.ErrInvalidConfig))
		})
	}

	t.Run("nil config", func(t *testing.T) {
		var cfg *Config
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrMissingConfig))
	})
}

func TestConfig_SaveAndReload(t *testing.T) {
	cfg := Default()
	cfg.NATS.URL = "nats://saved:4222"
	cfg.NATS.DrainTimeout = Duration(3 * time.Second)
	cfg.Sink.Types = StringList{SinkStdout, SinkFile}
	cfg.Sink.File.Path = "/tmp/out.jsonl"

	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"drain_timeout": "3s"`)

	loader := NewLoader()
	loader.lookupEnv = noEnv
	loaded, err := loader.LoadFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("reloaded config differs (-saved +loaded):\n%s", diff)
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	cfg.Sink.Webhook.Headers = map[string]string{"Authorization": "Bearer x"}

	clone := cfg.Clone()
	clone.Sink.Types[0] = SinkFile
	clone.Sink.Webhook.Headers["Authorization"] = "changed"

	assert.Equal(t, SinkStdout, cfg.Sink.Types[0])
	assert.Equal(t, "Bearer x", cfg.Sink.Webhook.Headers["Authorization"])
}

func TestSinkConfig_Has(t *testing.T) {
	s := SinkConfig{Types: StringList{SinkStdout, SinkWebhook}}
	assert.True(t, s.Has(SinkWebhook))
	assert.False(t, s.Has(SinkFile))
}
