package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CaptureConfig describes where segments and feature files live and how windows are scheduled.
type CaptureConfig struct {
	PcapDir        string `yaml:"pcap_dir" validate:"required"`
	CSVDir         string `yaml:"csv_dir" validate:"required"`
	WindowDuration string `yaml:"window_duration" validate:"required"`
	MaxWindowsKeep int    `yaml:"max_windows_keep" validate:"gte=1"`
	TickInterval   string `yaml:"tick_interval" validate:"required"`
	MinSegmentAge  string `yaml:"min_segment_age" validate:"required"`
	Watch          bool   `yaml:"watch"`
	NumWorkers     int    `yaml:"num_workers" validate:"gte=1"`
}

// ExtractorConfig holds the settings passed to the external flow-feature extraction tool.
type ExtractorConfig struct {
	BinaryPath      string `yaml:"binary_path" validate:"required"`
	Threads         int    `yaml:"threads" validate:"gte=1"`
	MinFlows        int    `yaml:"min_flows" validate:"gte=0"`
	MinRows         int    `yaml:"min_rows" validate:"gte=0"`
	MaxRows         int    `yaml:"max_rows" validate:"gte=1"`
	Timeout         string `yaml:"timeout" validate:"required"`
	MaxRetries      int    `yaml:"max_retries" validate:"gte=0"`
	RetryDelay      string `yaml:"retry_delay" validate:"required"`
	Backoff         string `yaml:"backoff" validate:"oneof=fixed exponential"`
	ParallelWorkers int    `yaml:"parallel_workers" validate:"gte=1"`
}

// MLConfig controls the flow classifier.
type MLConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Backend   string  `yaml:"backend" validate:"oneof=softmax http"`
	ModelPath string  `yaml:"model_path"`
	ModelURL  string  `yaml:"model_url" validate:"omitempty,url"`
	Threshold float64 `yaml:"threshold" validate:"gte=0,lte=1"`
	Timeout   string  `yaml:"timeout"`
}

// LLMConfig controls narrative enrichment.
type LLMConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Provider        string `yaml:"provider" validate:"oneof=ollama openai anthropic"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv       string `yaml:"api_key_env"`
	Timeout         string `yaml:"timeout" validate:"required"`
	BreakerFailures uint32 `yaml:"breaker_failures"`
	BreakerCooldown string `yaml:"breaker_cooldown"`
}

// AlertsConfig holds the alert rule thresholds.
type AlertsConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	AttackPercentThreshold  float64 `yaml:"attack_percent_threshold" validate:"gte=0,lte=100"`
	UnknownPercentThreshold float64 `yaml:"unknown_percent_threshold" validate:"gte=0,lte=100"`
	FlowCountThreshold      int     `yaml:"flow_count_threshold" validate:"gte=0"`
	LabelCountThreshold     int     `yaml:"label_count_threshold" validate:"gte=1"`
}

// StorageConfig selects the system-of-record database.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ArchiveSinkDef defines a single archive sink.
type ArchiveSinkDef struct {
	Type       string           `yaml:"type" validate:"oneof=json clickhouse"`
	Enabled    bool             `yaml:"enabled"`
	RootPath   string           `yaml:"root_path"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ArchiveConfig lists the sinks every persisted window is copied to.
type ArchiveConfig struct {
	Sinks []ArchiveSinkDef `yaml:"sinks" validate:"dive"`
}

// EventsConfig controls NATS event publishing.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url"`
	WindowSubject string `yaml:"window_subject"`
	AlertSubject  string `yaml:"alert_subject"`
}

// SMTPConfig holds the settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// NotificationsConfig controls which alerts reach an operator and how.
type NotificationsConfig struct {
	AlertOnCritical bool       `yaml:"alert_on_critical"`
	AlertOnElevated bool       `yaml:"alert_on_elevated"`
	AlertOnInfo     bool       `yaml:"alert_on_info"`
	EmailEnabled    bool       `yaml:"email_enabled"`
	SMTP            SMTPConfig `yaml:"smtp"`
	WebhookEnabled  bool       `yaml:"webhook_enabled"`
	WebhookURL      string     `yaml:"webhook_url" validate:"omitempty,url"`
}

// APIConfig holds listen addresses for the HTTP and gRPC surfaces.
type APIConfig struct {
	HTTPListenAddr string `yaml:"http_listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	Extractor     ExtractorConfig     `yaml:"extractor"`
	ML            MLConfig            `yaml:"ml"`
	LLM           LLMConfig           `yaml:"llm"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Storage       StorageConfig       `yaml:"storage"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Events        EventsConfig        `yaml:"events"`
	Notifications NotificationsConfig `yaml:"notifications"`
	API           APIConfig           `yaml:"api"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			PcapDir:        "/var/pcaps",
			CSVDir:         "/var/netmon/flows",
			WindowDuration: "5m",
			MaxWindowsKeep: 12,
			TickInterval:   "60s",
			MinSegmentAge:  "10s",
			NumWorkers:     2,
		},
		Extractor: ExtractorConfig{
			BinaryPath:      "/opt/netmon/env/bin/ntlflowlyzer",
			Threads:         4,
			MinFlows:        1,
			MinRows:         1,
			MaxRows:         800000,
			Timeout:         "10m",
			MaxRetries:      3,
			RetryDelay:      "5s",
			Backoff:         "fixed",
			ParallelWorkers: 1,
		},
		ML: MLConfig{
			Enabled:   true,
			Backend:   "softmax",
			ModelPath: "/opt/netmon/model/netmon_softmax.json",
			Threshold: 0.90,
			Timeout:   "2s",
		},
		LLM: LLMConfig{
			Enabled:         true,
			Provider:        "ollama",
			Model:           "smollm2:135m",
			BaseURL:         "http://127.0.0.1:11434",
			Timeout:         "60s",
			BreakerFailures: 3,
			BreakerCooldown: "5m",
		},
		Alerts: AlertsConfig{
			Enabled:                 true,
			AttackPercentThreshold:  10.0,
			UnknownPercentThreshold: 20.0,
			FlowCountThreshold:      1000,
			LabelCountThreshold:     10,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "/var/netmon/db/netmon.db",
		},
		Events: EventsConfig{
			NATSURL:       "nats://127.0.0.1:4222",
			WindowSubject: "netmon.windows",
			AlertSubject:  "netmon.alerts",
		},
		Notifications: NotificationsConfig{
			AlertOnCritical: true,
		},
		API: APIConfig{
			HTTPListenAddr: ":8080",
			GRPCListenAddr: ":50051",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
// Keys missing from the file keep their default values and ${VAR} references
// are expanded from the environment.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config YAML")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints and that every duration string parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	durations := map[string]string{
		"capture.window_duration": c.Capture.WindowDuration,
		"capture.tick_interval":   c.Capture.TickInterval,
		"capture.min_segment_age": c.Capture.MinSegmentAge,
		"extractor.timeout":       c.Extractor.Timeout,
		"extractor.retry_delay":   c.Extractor.RetryDelay,
		"llm.timeout":             c.LLM.Timeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "invalid duration for %s", key)
		}
		if d < 0 {
			return errors.Newf("%s must not be negative", key)
		}
	}
	if c.ML.Timeout != "" {
		if _, err := time.ParseDuration(c.ML.Timeout); err != nil {
			return errors.Wrap(err, "invalid duration for ml.timeout")
		}
	}
	if c.LLM.BreakerCooldown != "" {
		if _, err := time.ParseDuration(c.LLM.BreakerCooldown); err != nil {
			return errors.Wrap(err, "invalid duration for llm.breaker_cooldown")
		}
	}
	return nil
}

// mustDuration parses a duration that Validate has already checked.
func mustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// WindowLength is the capture window duration.
func (c CaptureConfig) WindowLength() time.Duration {
	return mustDuration(c.WindowDuration, 5*time.Minute)
}

// Interval is the time between scheduler ticks.
func (c CaptureConfig) Interval() time.Duration {
	return mustDuration(c.TickInterval, time.Minute)
}

// MinAge is how long a segment must sit unmodified before it is extracted.
func (c CaptureConfig) MinAge() time.Duration {
	return mustDuration(c.MinSegmentAge, 10*time.Second)
}

// AttemptTimeout bounds a single run of the extraction tool.
func (c ExtractorConfig) AttemptTimeout() time.Duration {
	return mustDuration(c.Timeout, 10*time.Minute)
}

// Delay is the wait before the first extraction retry.
func (c ExtractorConfig) Delay() time.Duration {
	return mustDuration(c.RetryDelay, 5*time.Second)
}

// RequestTimeout bounds one call to a remote classification model.
func (c MLConfig) RequestTimeout() time.Duration {
	return mustDuration(c.Timeout, 2*time.Second)
}

// RequestTimeout bounds one narrative generation request.
func (c LLMConfig) RequestTimeout() time.Duration {
	return mustDuration(c.Timeout, time.Minute)
}

// Cooldown is how long the enrichment breaker stays open.
func (c LLMConfig) Cooldown() time.Duration {
	return mustDuration(c.BreakerCooldown, 5*time.Minute)
}

// APIKey resolves the provider credential from the environment.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}
