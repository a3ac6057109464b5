package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lira/pkg/models"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "LIRA_CONFIG"

// Config holds the configuration for the application.
type Config struct {
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`

	SubmitWDL        string `mapstructure:"submit_wdl"`
	CromwellURL      string `mapstructure:"cromwell_url"`
	CromwellUser     string `mapstructure:"cromwell_user"`
	CromwellPassword string `mapstructure:"cromwell_password"`

	UseCaaS        bool   `mapstructure:"use_caas"`
	CaaSKey        string `mapstructure:"caas_key"`
	CollectionName string `mapstructure:"collection_name"`
	GCSRoot        string `mapstructure:"gcs_root"`
	GoogleProject  string `mapstructure:"google_project"`
	GCSKey         string `mapstructure:"gcs_key"`

	NotificationToken string `mapstructure:"notification_token"`
	HMACKey           string `mapstructure:"hmac_key"`
	// StaleNotificationTimeout is in seconds; zero disables the check.
	StaleNotificationTimeout int `mapstructure:"stale_notification_timeout"`

	DSSURL             string `mapstructure:"dss_url"`
	IngestURL          string `mapstructure:"ingest_url"`
	SchemaURL          string `mapstructure:"schema_url"`
	MaxCromwellRetries int    `mapstructure:"max_cromwell_retries"`

	CacheWDLs        bool   `mapstructure:"cache_wdls"`
	DryRun           bool   `mapstructure:"dry_run"`
	SubmitAndHold    bool   `mapstructure:"submit_and_hold"`
	MaxContentLength int64  `mapstructure:"max_content_length"`
	LogLevel         string `mapstructure:"log_level"`

	Server struct {
		Address      string        `mapstructure:"address"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`
	Timeouts struct {
		Fetch    time.Duration `mapstructure:"fetch"`
		Metadata time.Duration `mapstructure:"metadata"`
		Submit   time.Duration `mapstructure:"submit"`
		Build    time.Duration `mapstructure:"build"`
	} `mapstructure:"timeouts"`
	FetchRetries int `mapstructure:"fetch_retries"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`

	// MCP serves the operator tools under /mcp when enabled.
	MCP struct {
		Enable bool `mapstructure:"enable"`
	} `mapstructure:"mcp"`

	WDLs []models.WorkflowConfig `mapstructure:"wdls"`
}

// ConfigurationError lists every problem found in a configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

var defaults = map[string]any{
	"env":                        "",
	"version":                    "dev",
	"submit_wdl":                 "",
	"cromwell_url":               "",
	"cromwell_user":              "",
	"cromwell_password":          "",
	"use_caas":                   false,
	"caas_key":                   "",
	"collection_name":            "",
	"gcs_root":                   "",
	"google_project":             "",
	"gcs_key":                    "",
	"notification_token":         "",
	"hmac_key":                   "",
	"stale_notification_timeout": 0,
	"dss_url":                    "",
	"ingest_url":                 "",
	"schema_url":                 "",
	"max_cromwell_retries":       0,
	"cache_wdls":                 true,
	"dry_run":                    false,
	"submit_and_hold":            false,
	"max_content_length":         10 * 1024 * 1024,
	"log_level":                  "info",
	"server.address":             ":8080",
	"server.read_timeout":        "15s",
	"server.write_timeout":       "5m",
	"timeouts.fetch":             "30s",
	"timeouts.metadata":          "30s",
	"timeouts.submit":            "60s",
	"timeouts.build":             "2m",
	"fetch_retries":              3,
	"tls.enable":                 false,
	"tls.cert_file":              "",
	"tls.key_file":               "",
	"tls.hostnames":              []string{},
	"mcp.enable":                 false,
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path falls back to $LIRA_CONFIG, then to config.{yaml,json}
// in the working directory or ./config. Environment variables prefixed
// with LIRA_ override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("lira")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var config Config
	if err := v.UnmarshalExact(&config); err != nil {
		return nil, &ConfigurationError{Problems: []string{err.Error()}}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks required fields and cross-field rules. The returned
// error is a *ConfigurationError.
func (c *Config) Validate() error {
	var problems []string
	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, name+" is required")
		}
	}

	require("env", c.Env)
	require("submit_wdl", c.SubmitWDL)
	require("cromwell_url", c.CromwellURL)

	switch {
	case c.NotificationToken == "" && c.HMACKey == "":
		problems = append(problems, "one of notification_token or hmac_key is required")
	case c.NotificationToken != "" && c.HMACKey != "":
		problems = append(problems, "notification_token and hmac_key are mutually exclusive")
	}
	if c.StaleNotificationTimeout < 0 {
		problems = append(problems, "stale_notification_timeout must not be negative")
	}

	if c.UseCaaS {
		require("caas_key", c.CaaSKey)
	} else {
		require("cromwell_user", c.CromwellUser)
		require("cromwell_password", c.CromwellPassword)
	}

	if c.MaxContentLength <= 0 {
		problems = append(problems, "max_content_length must be positive")
	}
	if c.FetchRetries < 0 {
		problems = append(problems, "fetch_retries must not be negative")
	}
	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		problems = append(problems, "tls.cert_file and tls.key_file are required when tls is enabled")
	}

	if len(c.WDLs) == 0 {
		problems = append(problems, "wdls must list at least one workflow")
	}
	seen := make(map[string]bool, len(c.WDLs))
	for i, wdl := range c.WDLs {
		prefix := fmt.Sprintf("wdls[%d].", i)
		require(prefix+"subscription_id", wdl.SubscriptionID)
		require(prefix+"wdl_link", wdl.WDLLink)
		require(prefix+"workflow_name", wdl.WorkflowName)
		require(prefix+"wdl_static_inputs_link", wdl.StaticInputsLink)
		require(prefix+"options_link", wdl.OptionsLink)
		if wdl.AnalysisWDLs == nil {
			problems = append(problems, prefix+"analysis_wdls is required")
		}
		if wdl.SubscriptionID == "" {
			continue
		}
		if seen[wdl.SubscriptionID] {
			problems = append(problems, "duplicate subscription_id "+wdl.SubscriptionID)
		}
		seen[wdl.SubscriptionID] = true
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// StaleTimeout returns the notification staleness window.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.StaleNotificationTimeout) * time.Second
}

// IsConfigurationError reports whether err is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
