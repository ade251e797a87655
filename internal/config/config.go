package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile = "CRIBOPS_CONFIG_FILE"

	defaultBaseURL       = "https://app.cribops.com"
	defaultTenantID      = "default"
	defaultListenAddr    = "127.0.0.1:8088"
	defaultWebhookPath   = "/webhook"
	defaultPollInterval  = 30 * time.Second
	defaultPollBatchSize = 10
	maxPollBatchSize     = 100
)

type Config struct {
	BaseURL  string
	APIToken string

	TenantID      string
	QueueName     string
	PollEnabled   bool
	PollInterval  time.Duration
	PollBatchSize int

	ListenAddr     string
	WebhookPath    string
	WebhookSecret  string
	AllowedEvents  []string
	IncludeHeaders bool

	WorkflowURL   string
	WorkflowToken string

	DBDriver string
	DBDSN    string
}

type fileConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`

	TenantID      string `yaml:"tenant_id"`
	QueueName     string `yaml:"queue_name"`
	PollEnabled   *bool  `yaml:"poll_enabled"`
	PollInterval  string `yaml:"poll_interval"`
	PollBatchSize int    `yaml:"poll_batch_size"`

	ListenAddr     string   `yaml:"listen_addr"`
	WebhookPath    string   `yaml:"webhook_path"`
	WebhookSecret  string   `yaml:"webhook_secret"`
	AllowedEvents  []string `yaml:"allowed_events"`
	IncludeHeaders *bool    `yaml:"include_headers"`

	WorkflowURL   string `yaml:"workflow_url"`
	WorkflowToken string `yaml:"workflow_token"`

	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`
}

// Load builds the configuration from the optional YAML file named by
// CRIBOPS_CONFIG_FILE, with environment variables taking precedence.
func Load() (Config, error) {
	cfg := Config{
		BaseURL:       defaultBaseURL,
		TenantID:      defaultTenantID,
		PollEnabled:   true,
		PollInterval:  defaultPollInterval,
		PollBatchSize: defaultPollBatchSize,
		ListenAddr:    defaultListenAddr,
		WebhookPath:   defaultWebhookPath,
		DBDriver:      "sqlite",
	}

	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		applyFile(&cfg, fc)
	}
	applyEnv(&cfg)

	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = defaultPollBatchSize
	}
	if cfg.PollBatchSize > maxPollBatchSize {
		cfg.PollBatchSize = maxPollBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return cfg, nil
}

func loadFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func applyFile(cfg *Config, fc fileConfig) {
	setString(&cfg.BaseURL, fc.BaseURL)
	setString(&cfg.APIToken, fc.APIToken)
	setString(&cfg.TenantID, fc.TenantID)
	setString(&cfg.QueueName, fc.QueueName)
	if fc.PollEnabled != nil {
		cfg.PollEnabled = *fc.PollEnabled
	}
	if interval := strings.TrimSpace(fc.PollInterval); interval != "" {
		if parsed, err := time.ParseDuration(interval); err == nil {
			cfg.PollInterval = parsed
		}
	}
	if fc.PollBatchSize > 0 {
		cfg.PollBatchSize = fc.PollBatchSize
	}
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.WebhookPath, fc.WebhookPath)
	setString(&cfg.WebhookSecret, fc.WebhookSecret)
	if len(fc.AllowedEvents) > 0 {
		cfg.AllowedEvents = trimAll(fc.AllowedEvents)
	}
	if fc.IncludeHeaders != nil {
		cfg.IncludeHeaders = *fc.IncludeHeaders
	}
	setString(&cfg.WorkflowURL, fc.WorkflowURL)
	setString(&cfg.WorkflowToken, fc.WorkflowToken)
	setString(&cfg.DBDriver, fc.DBDriver)
	setString(&cfg.DBDSN, fc.DBDSN)
}

func applyEnv(cfg *Config) {
	setString(&cfg.BaseURL, os.Getenv("CRIBOPS_API_URL"))
	setString(&cfg.APIToken, os.Getenv("CRIBOPS_API_TOKEN"))
	setString(&cfg.TenantID, os.Getenv("CRIBOPS_TENANT_ID"))
	setString(&cfg.QueueName, os.Getenv("CRIBOPS_QUEUE_NAME"))
	if v := strings.TrimSpace(os.Getenv("CRIBOPS_POLL_ENABLED")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PollEnabled = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CRIBOPS_POLL_INTERVAL")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CRIBOPS_POLL_BATCH_SIZE")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.PollBatchSize = parsed
		}
	}
	setString(&cfg.ListenAddr, os.Getenv("BRIDGE_LISTEN_ADDR"))
	setString(&cfg.WebhookPath, os.Getenv("BRIDGE_WEBHOOK_PATH"))
	setString(&cfg.WebhookSecret, os.Getenv("BRIDGE_WEBHOOK_SECRET"))
	if v := strings.TrimSpace(os.Getenv("BRIDGE_ALLOWED_EVENTS")); v != "" {
		cfg.AllowedEvents = trimAll(strings.Split(v, ","))
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_INCLUDE_HEADERS")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.IncludeHeaders = parsed
		}
	}
	setString(&cfg.WorkflowURL, os.Getenv("BRIDGE_WORKFLOW_URL"))
	setString(&cfg.WorkflowToken, os.Getenv("BRIDGE_WORKFLOW_TOKEN"))
	setString(&cfg.DBDriver, os.Getenv("BRIDGE_DB_DRIVER"))
	setString(&cfg.DBDSN, os.Getenv("BRIDGE_DB_DSN"))
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIToken) == "" {
		return fmt.Errorf("CRIBOPS_API_TOKEN is required")
	}
	if err := validateBaseURL(c.BaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("CRIBOPS_TENANT_ID must not be empty")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("BRIDGE_LISTEN_ADDR must not be empty")
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		return fmt.Errorf("BRIDGE_WEBHOOK_PATH must start with /")
	}
	if url := strings.TrimSpace(c.WorkflowURL); url != "" {
		if err := validateHTTPURL("BRIDGE_WORKFLOW_URL", url); err != nil {
			return err
		}
	}
	return nil
}

func validateBaseURL(raw string) error {
	return validateHTTPURL("CRIBOPS_API_URL", raw)
}

func validateHTTPURL(name, raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%s must include scheme and host", name)
	}
	return nil
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
