package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/pkg/tlsutil"
)

// Sink types accepted in sink.type
const (
	SinkStdout    = "stdout"
	SinkFile      = "file"
	SinkWebhook   = "webhook"
	SinkWebSocket = "websocket"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "NATSBRIDGE"

// Config is the complete bridge configuration.
type Config struct {
	NATS          NATSConfig         `json:"nats"          yaml:"nats"`
	HTTP          HTTPConfig         `json:"http"          yaml:"http"`
	Subscriptions SubscriptionConfig `json:"subscriptions" yaml:"subscriptions"`
	Sink          SinkConfig         `json:"sink"          yaml:"sink"`
	Metrics       MetricsConfig      `json:"metrics"       yaml:"metrics"`
}

// NATSConfig configures the bus connection.
type NATSConfig struct {
	URL            string   `json:"url"                 yaml:"url"`
	CredsFile      string   `json:"creds_file,omitempty" yaml:"creds_file,omitempty"`
	Name           string   `json:"name,omitempty"      yaml:"name,omitempty"`
	ConnectTimeout Duration `json:"connect_timeout"     yaml:"connect_timeout"`
	ReconnectWait  Duration `json:"reconnect_wait"      yaml:"reconnect_wait"`
	MaxReconnects  int      `json:"max_reconnects"      yaml:"max_reconnects"`
	DrainTimeout   Duration `json:"drain_timeout"       yaml:"drain_timeout"`
	PingInterval   Duration `json:"ping_interval"       yaml:"ping_interval"`

	TLS tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// HTTPConfig configures the loopback gateway.
type HTTPConfig struct {
	Port         int   `json:"port"           yaml:"port"`
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// SubscriptionConfig configures the subscription registry.
type SubscriptionConfig struct {
	BufferSize  int  `json:"buffer_size" yaml:"buffer_size"`
	Resubscribe bool `json:"resubscribe" yaml:"resubscribe"`
}

// SinkConfig selects and configures the output sinks.
type SinkConfig struct {
	Types     StringList      `json:"type"                yaml:"type"`
	File      FileSinkConfig  `json:"file,omitempty"      yaml:"file,omitempty"`
	Webhook   WebhookConfig   `json:"webhook,omitempty"   yaml:"webhook,omitempty"`
	WebSocket WebSocketConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// Has reports whether the sink type is selected.
func (s SinkConfig) Has(kind string) bool {
	for _, t := range s.Types {
		if t == kind {
			return true
		}
	}
	return false
}

// FileSinkConfig configures the file sink.
type FileSinkConfig struct {
	Path string `json:"path" yaml:"path"`
}

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	URL     string            `json:"url"               yaml:"url"`
	Timeout Duration          `json:"timeout"           yaml:"timeout"`
	Retries int               `json:"retries"           yaml:"retries"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// WebSocketConfig configures the websocket broadcast sink.
type WebSocketConfig struct {
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path" yaml:"path"`
}

// MetricsConfig configures the metrics and health listener. Port 0 disables it.
type MetricsConfig struct {
	Port int `json:"port" yaml:"port"`
}

// Duration is a time.Duration that reads "5s" style strings or nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(value))
	case nil:
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" {
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return err
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// StringList reads either a single string or a list of strings.
type StringList []string

// UnmarshalJSON accepts "a" or ["a", "b"].
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// UnmarshalYAML accepts a scalar or a sequence.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = StringList{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ConnectTimeout: Duration(5 * time.Second),
			ReconnectWait:  Duration(time.Second),
			MaxReconnects:  -1,
			DrainTimeout:   Duration(10 * time.Second),
			PingInterval:   Duration(2 * time.Minute),
		},
		HTTP: HTTPConfig{
			Port:         12345,
			MaxBodyBytes: 1 << 20,
		},
		Subscriptions: SubscriptionConfig{
			BufferSize:  256,
			Resubscribe: true,
		},
		Sink: SinkConfig{
			Types: StringList{SinkStdout},
			Webhook: WebhookConfig{
				Timeout: Duration(10 * time.Second),
				Retries: 3,
			},
			WebSocket: WebSocketConfig{
				Path: "/ws",
			},
		},
	}
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment override prefix.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies defaults, every file layer and environment overrides in order.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.mergeFile(cfg, path); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
				"Loader", "Load", "read config layer")
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// mergeFile decodes path on top of cfg; fields absent from the file keep
// their current values.
func (l *Loader) mergeFile(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if val, ok := l.env("NATS_URL"); ok {
		cfg.NATS.URL = val
	}
	if val, ok := l.env("NATS_CREDS_FILE"); ok {
		cfg.NATS.CredsFile = val
	}
	if val, ok := l.env("NATS_NAME"); ok {
		cfg.NATS.Name = val
	}
	if val, ok := l.env("HTTP_PORT"); ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_HTTP_PORT: %w", errors.ErrInvalidConfig, l.envPrefix, err)
		}
		cfg.HTTP.Port = port
	}
	if val, ok := l.env("METRICS_PORT"); ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_METRICS_PORT: %w", errors.ErrInvalidConfig, l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}
	if val, ok := l.env("SINK_TYPE"); ok {
		cfg.Sink.Types = strings.Split(val, ",")
	}
	return nil
}

func (l *Loader) env(key string) (string, bool) {
	name := l.envPrefix + "_" + key
	val, ok := l.lookupEnv(name)
	if !ok || val == "" {
		return "", false
	}
	if err := validateEnvVar(name, val); err != nil {
		return "", false
	}
	return strings.TrimSpace(val), true
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "check config")
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.NATS.URL == "" {
		add("nats.url is required")
	} else if u, err := url.Parse(c.NATS.URL); err != nil || u.Host == "" {
		add("nats.url %q is not a valid URL", c.NATS.URL)
	}
	if c.NATS.ConnectTimeout <= 0 {
		add("nats.connect_timeout must be positive")
	}
	if c.NATS.ReconnectWait <= 0 {
		add("nats.reconnect_wait must be positive")
	}
	if c.NATS.DrainTimeout <= 0 {
		add("nats.drain_timeout must be positive")
	}
	if c.NATS.PingInterval <= 0 {
		add("nats.ping_interval must be positive")
	}
	if c.NATS.MaxReconnects < -1 {
		add("nats.max_reconnects must be -1 (unlimited) or greater")
	}
	if err := c.NATS.TLS.Validate(); err != nil {
		add("nats.tls: %v", err)
	}

	if !validPort(c.HTTP.Port) {
		add("http.port %d out of range", c.HTTP.Port)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		add("http.max_body_bytes must be positive")
	}
	if c.Subscriptions.BufferSize <= 0 {
		add("subscriptions.buffer_size must be positive")
	}
	if c.Metrics.Port != 0 && !validPort(c.Metrics.Port) {
		add("metrics.port %d out of range", c.Metrics.Port)
	}

	if len(c.Sink.Types) == 0 {
		add("sink.type is required")
	}
	for _, kind := range c.Sink.Types {
		switch kind {
		case SinkStdout:
		case SinkFile:
			if c.Sink.File.Path == "" {
				add("sink.file.path is required for the file sink")
			}
		case SinkWebhook:
			if u, err := url.Parse(c.Sink.Webhook.URL); err != nil || u.Host == "" ||
				(u.Scheme != "http" && u.Scheme != "https") {
				add("sink.webhook.url %q must be an http(s) URL", c.Sink.Webhook.URL)
			}
			if c.Sink.Webhook.Timeout <= 0 {
				add("sink.webhook.timeout must be positive")
			}
			if c.Sink.Webhook.Retries < 0 {
				add("sink.webhook.retries must not be negative")
			}
			if err := c.Sink.Webhook.TLS.Validate(); err != nil {
				add("sink.webhook.tls: %v", err)
			}
		case SinkWebSocket:
			if c.Sink.WebSocket.Port < 0 || c.Sink.WebSocket.Port > 65535 {
				add("sink.websocket.port %d out of range", c.Sink.WebSocket.Port)
			}
			if !strings.HasPrefix(c.Sink.WebSocket.Path, "/") {
				add("sink.websocket.path must start with /")
			}
		default:
			add("unknown sink type %q", kind)
		}
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "check config")
	}
	return nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Sink.Types = append(StringList(nil), c.Sink.Types...)
	clone.NATS.TLS.CAFiles = append([]string(nil), c.NATS.TLS.CAFiles...)
	clone.Sink.Webhook.TLS.CAFiles = append([]string(nil), c.Sink.Webhook.TLS.CAFiles...)
	if c.Sink.Webhook.Headers != nil {
		clone.Sink.Webhook.Headers = make(map[string]string, len(c.Sink.Webhook.Headers))
		for k, v := range c.Sink.Webhook.Headers {
			clone.Sink.Webhook.Headers[k] = v
		}
	}
	return &clone
}
