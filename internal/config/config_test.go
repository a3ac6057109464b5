package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
env: test
submit_wdl: https://raw.githubusercontent.com/HumanCellAtlas/pipeline-tools/v1.2.0/adapter_pipelines/submit.wdl
cromwell_url: https://cromwell.example.org/api/workflows/v1
cromwell_user: user
cromwell_password: secret
notification_token: token
dss_url: https://dss.example.org/v1
max_content_length: 1048576
timeouts:
  build: 90s
wdls:
  - subscription_id: sub-ss2
    wdl_link: https://example.org/ss2.wdl
    analysis_wdls:
      - https://example.org/smartseq2.wdl
    workflow_name: AdapterSmartSeq2SingleCell
    workflow_version: v1.0.0
    wdl_static_inputs_link: https://example.org/ss2_inputs.json
    options_link: https://example.org/options.json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "token", cfg.NotificationToken)
	assert.True(t, cfg.CacheWDLs, "cache_wdls defaults to true")
	assert.Equal(t, int64(1048576), cfg.MaxContentLength)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Build)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Fetch)
	assert.Equal(t, ":8080", cfg.Server.Address)
	require.Len(t, cfg.WDLs, 1)
	assert.Equal(t, "AdapterSmartSeq2SingleCell", cfg.WDLs[0].WorkflowName)
	assert.Equal(t, []string{"https://example.org/smartseq2.wdl"}, cfg.WDLs[0].AnalysisWDLs)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("LIRA_CROMWELL_USER", "from-env")
	t.Setenv("LIRA_CACHE_WDLS", "false")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.CromwellUser)
	assert.False(t, cfg.CacheWDLs)
}

func TestLoadConfigPathFromEnvironment(t *testing.T) {
	t.Setenv(EnvConfigPath, writeConfig(t, validYAML))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Env)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, validYAML+"unexpected_key: 1\n"))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		problem string
	}{
		{
			name:    "missing env",
			mutate:  func(c *Config) { c.Env = "" },
			problem: "env is required",
		},
		{
			name:    "missing cromwell url",
			mutate:  func(c *Config) { c.CromwellURL = "" },
			problem: "cromwell_url is required",
		},
		{
			name:    "no auth mode",
			mutate:  func(c *Config) { c.NotificationToken = "" },
			problem: "one of notification_token or hmac_key is required",
		},
		{
			name:    "both auth modes",
			mutate:  func(c *Config) { c.HMACKey = "key" },
			problem: "notification_token and hmac_key are mutually exclusive",
		},
		{
			name:    "missing cromwell password",
			mutate:  func(c *Config) { c.CromwellPassword = "" },
			problem: "cromwell_password is required",
		},
		{
			name: "caas without key",
			mutate: func(c *Config) {
				c.UseCaaS = true
				c.CromwellUser = ""
				c.CromwellPassword = ""
			},
			problem: "caas_key is required",
		},
		{
			name:    "no workflows",
			mutate:  func(c *Config) { c.WDLs = nil },
			problem: "wdls must list at least one workflow",
		},
		{
			name:    "missing subscription id",
			mutate:  func(c *Config) { c.WDLs[0].SubscriptionID = "" },
			problem: "wdls[0].subscription_id is required",
		},
		{
			name:    "missing analysis wdls",
			mutate:  func(c *Config) { c.WDLs[0].AnalysisWDLs = nil },
			problem: "wdls[0].analysis_wdls is required",
		},
		{
			name: "duplicate subscription id",
			mutate: func(c *Config) {
				dup := c.WDLs[0]
				dup.WorkflowName = "Other"
				c.WDLs = append(c.WDLs, dup)
			},
			problem: "duplicate subscription_id sub-ss2",
		},
		{
			name:    "negative staleness",
			mutate:  func(c *Config) { c.StaleNotificationTimeout = -1 },
			problem: "stale_notification_timeout must not be negative",
		},
		{
			name: "tls without files",
			mutate: func(c *Config) {
				c.TLS.Enable = true
			},
			problem: "tls.cert_file and tls.key_file are required when tls is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Problems, tt.problem)
		})
	}
}

func TestValidateCaaSDoesNotNeedBasicAuth(t *testing.T) {
	cfg := validConfig(t)
	cfg.UseCaaS = true
	cfg.CaaSKey = "/secrets/caas.json"
	cfg.CromwellUser = ""
	cfg.CromwellPassword = ""

	assert.NoError(t, cfg.Validate())
}

func TestStaleTimeout(t *testing.T) {
	cfg := &Config{StaleNotificationTimeout: 45}
	assert.Equal(t, 45*time.Second, cfg.StaleTimeout())
}
