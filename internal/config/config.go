package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicetest/dltcos/internal/criteria"
	"github.com/devicetest/dltcos/internal/overlap"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort          = 8080
	DefaultRetention         = 7 * 24 * time.Hour
	DefaultBroadcastInterval = 5 * time.Second
	DefaultBufferSize        = 100
	DefaultCooldown          = 15 * time.Minute
	DefaultTopic             = "dltcos.weekly-reports"
)

// Config is the top-level configuration. config.example.yaml at the repository
// root shows every field.
type Config struct {
	Engine EngineConfig  `yaml:"engine"`
	Inputs []InputConfig `yaml:"inputs"`
	Server ServerConfig  `yaml:"server"`
	Sink   SinkConfig    `yaml:"sink"`
}

// EngineConfig controls classification and aggregation.
type EngineConfig struct {
	// Thresholds overrides individual acceptance ranges; omitted ranges keep
	// their production defaults.
	Thresholds criteria.Thresholds `yaml:"thresholds"`

	// WeekEnd is the last day of each reporting week (default sunday).
	WeekEnd Weekday `yaml:"week_end"`

	// Workers is the number of goroutines evaluating devices. 0 or 1 is sequential.
	Workers int `yaml:"workers"`
}

// InputConfig is one RF/BLE export pair.
type InputConfig struct {
	// CellID overrides the cell identifier read from the RF file.
	CellID string `yaml:"cell_id"`

	RFFile  string `yaml:"rf_file"`
	BLEFile string `yaml:"ble_file"`
}

// Name identifies the input in logs: its cell override or RF file name.
func (in InputConfig) Name() string {
	if in.CellID != "" {
		return in.CellID
	}
	return filepath.Base(in.RFFile)
}

// ServerConfig holds the serve-mode settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth gates /api/ and /ws/ behind an API key.
	Auth AuthConfig `yaml:"auth"`

	// Retention is how long a cell's report is served after its inputs were
	// last processed (default 168h).
	Retention time.Duration `yaml:"retention"`

	// BroadcastInterval is how often the report set is pushed to websocket
	// clients even when nothing changed (default 5s).
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "X-API-Key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "X-API-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition compares a weekly count against a number, for example
	// "rx_spot_multi > 3" or "no_ble >= 10".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// SinkConfig configures where processed reports are published.
type SinkConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the Kafka report publisher. Publishing is disabled
// when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// BufferSize is the maximum number of reports held in memory while the
	// brokers are unreachable. The oldest report is dropped when full.
	BufferSize int `yaml:"buffer_size"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Weekday is a time.Weekday that unmarshals from a day name.
type Weekday time.Weekday

// UnmarshalYAML accepts full or three-letter English day names, any case.
func (d *Weekday) UnmarshalYAML(node *yaml.Node) error {
	wd, err := ParseWeekday(node.Value)
	if err != nil {
		return err
	}
	*d = Weekday(wd)
	return nil
}

// ParseWeekday parses "sunday", "Sun", "FRIDAY" and the like.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	// Relative input paths are resolved against the config file's directory.
	base := filepath.Dir(path)
	for i := range cfg.Inputs {
		cfg.Inputs[i].RFFile = resolve(base, cfg.Inputs[i].RFFile)
		cfg.Inputs[i].BLEFile = resolve(base, cfg.Inputs[i].BLEFile)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			Thresholds: criteria.DefaultThresholds(),
			WeekEnd:    Weekday(time.Sunday),
		},
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			Retention:         DefaultRetention,
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Sink: SinkConfig{
			Kafka: KafkaConfig{
				Topic:      DefaultTopic,
				BufferSize: DefaultBufferSize,
			},
		},
	}
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if err := cfg.Engine.Thresholds.Validate(); err != nil {
		return fmt.Errorf("engine.thresholds: %w", err)
	}
	if err := overlap.CheckCodes(); err != nil {
		return err
	}
	if cfg.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}

	for i, in := range cfg.Inputs {
		if in.RFFile == "" || in.BLEFile == "" {
			return fmt.Errorf("inputs[%d]: rf_file and ble_file are required", i)
		}
	}

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Auth.Mode == "apikey" && cfg.Server.Auth.KeyEnv == "" {
		return fmt.Errorf("server.auth.key_env is required when mode is apikey")
	}
	if cfg.Server.Retention < 0 {
		return fmt.Errorf("server.retention must not be negative")
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}

	for i, r := range cfg.Server.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name and condition are required", i)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%d]: severity %q unknown: want critical|warning|info", i, r.Severity)
		}
	}
	for i, w := range cfg.Server.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: type %q unknown: want teams|slack|http", i, w.Type)
		}
	}

	if cfg.Sink.Kafka.Enabled() {
		if cfg.Sink.Kafka.Topic == "" {
			return fmt.Errorf("sink.kafka.topic is required when brokers are set")
		}
		if cfg.Sink.Kafka.BufferSize <= 0 {
			return fmt.Errorf("sink.kafka.buffer_size must be positive")
		}
	}
	return nil
}
