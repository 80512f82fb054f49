package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cfg := New()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
	assert.True(t, cfg.Server.Metrics.Enabled)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.Equal(t, "oauth", cfg.Salesforce.AuthMode)
	assert.Equal(t, "61.0", cfg.Salesforce.APIVersion)
	assert.Equal(t, uint(3), cfg.Salesforce.TransportRetries)
	assert.Equal(t, 3, cfg.Deploy.PollIntervalSeconds)
	assert.Equal(t, 15, cfg.Deploy.MaxPollAttempts)
	assert.Zero(t, cfg.Deploy.PollDeadlineSeconds)
	assert.True(t, cfg.Deploy.IncludeTriggerBody)
	assert.Equal(t, "Account", cfg.Deploy.PlaceholderSObject)
	assert.Equal(t, "NoTestRun", cfg.Deploy.TestLevel)
	assert.True(t, cfg.Deploy.TrackInBackground)
	assert.Equal(t, 86400, cfg.GarbageCollect.Deployments.RetentionSeconds)

	assert.NoError(t, cfg.Validate())
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(`
log:
  level: debug
salesforce:
  login_url: https://test.salesforce.com
  client_id: abc
  client_secret: xyz
deploy:
  max_poll_attempts: 20
  placeholder_sobject: Invoice__c
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "https://test.salesforce.com", cfg.Salesforce.LoginURL)
	assert.Equal(t, "61.0", cfg.Salesforce.APIVersion)
	assert.Equal(t, 20, cfg.Deploy.MaxPollAttempts)
	assert.Equal(t, 3, cfg.Deploy.PollIntervalSeconds)
	assert.Equal(t, "Invoice__c", cfg.Deploy.PlaceholderSObject)
	assert.Equal(t, 600, cfg.GarbageCollect.Deployments.IntervalSeconds)

	assert.NoError(t, cfg.Validate())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(""))
	require.NoError(t, err)
	assert.Equal(t, New(), cfg)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse(FormatYAML, []byte("log: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"log level":     func(c *Config) { c.Log.Level = "verbose" },
		"auth mode":     func(c *Config) { c.Salesforce.AuthMode = "jwt" },
		"login url":     func(c *Config) { c.Salesforce.LoginURL = "not a url" },
		"api version":   func(c *Config) { c.Salesforce.APIVersion = "20.0" },
		"malformed api": func(c *Config) { c.Salesforce.APIVersion = "sixty" },
		"poll attempts": func(c *Config) { c.Deploy.MaxPollAttempts = 0 },
		"deadline":      func(c *Config) { c.Deploy.PollDeadlineSeconds = -1 },
		"sobject":       func(c *Config) { c.Deploy.PlaceholderSObject = "Account; DROP" },
		"test level":    func(c *Config) { c.Deploy.TestLevel = "RunEverything" },
		"retries":       func(c *Config) { c.Salesforce.TransportRetries = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := New()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidatorTriggerName(t *testing.T) {
	type request struct {
		Trigger string `validate:"required,trigger_name"`
	}

	assert.NoError(t, Validator().Struct(request{Trigger: "AccountTrigger"}))
	assert.Error(t, Validator().Struct(request{Trigger: "Foo; DROP"}))
	assert.Error(t, Validator().Struct(request{}))
}

func TestToYAMLMasksSecrets(t *testing.T) {
	cfg := New()
	cfg.Salesforce.ClientSecret = "super-secret"

	out := cfg.ToYAML()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "*******")
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_address: :9090\n"), 0o600))

	cfg, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.ListenAddress)

	_, err = ParseFile(filepath.Join(dir, "config.json"))
	assert.Error(t, err)

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseFileExpandsEnv(t *testing.T) {
	t.Setenv("SFTT_TEST_CLIENT_SECRET", "from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("salesforce:\n  client_secret: ${SFTT_TEST_CLIENT_SECRET}\n"), 0o600))

	cfg, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Salesforce.ClientSecret)
}
