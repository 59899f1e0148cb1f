package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/registration"
)

// TestGetEnv tests the getEnv helper against env and defaults file values
func TestGetEnv(t *testing.T) {
	src := envSource{defaults: map[string]string{"TEST_FROM_FILE": "file"}}

	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
		{
			name:         "returns file value when env not set",
			key:          "TEST_FROM_FILE",
			defaultValue: "default",
			want:         "file",
		},
		{
			name:         "env wins over file value",
			key:          "TEST_FROM_FILE",
			defaultValue: "default",
			envValue:     "env",
			want:         "env",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := src.getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvTyped tests the bool, int and duration helpers
func TestGetEnvTyped(t *testing.T) {
	src := envSource{}

	t.Setenv("TEST_BOOL_TRUE", "true")
	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_BOOL_FALSE", "false")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")
	t.Setenv("TEST_DURATION", "3s")
	t.Setenv("TEST_DURATION_BAD", "soon")

	if !src.getEnvBool("TEST_BOOL_TRUE", false) {
		t.Error("expected true for 'true'")
	}
	if !src.getEnvBool("TEST_BOOL_ONE", false) {
		t.Error("expected true for '1'")
	}
	if src.getEnvBool("TEST_BOOL_FALSE", true) {
		t.Error("expected false for 'false'")
	}
	if !src.getEnvBool("TEST_BOOL_UNSET", true) {
		t.Error("expected default for unset bool")
	}
	if got := src.getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := src.getEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %d, want default 7", got)
	}
	if got := src.getEnvDuration("TEST_DURATION", 0); got != 3*time.Second {
		t.Errorf("getEnvDuration() = %v, want 3s", got)
	}
	if got := src.getEnvDuration("TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() with invalid value = %v, want default", got)
	}

	t.Setenv("TEST_FLOAT", "0.25")
	if got := src.getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := src.getEnvFloat("TEST_FLOAT_UNSET", 1); got != 1 {
		t.Errorf("getEnvFloat() unset = %v, want default 1", got)
	}
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"DEBUG", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"bogus", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestLoadConfig_Defaults tests a config built from an empty environment
func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := load(envSource{})
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Server.RelativeURLRoot != "/b" {
		t.Errorf("RelativeURLRoot = %q, want /b", cfg.Server.RelativeURLRoot)
	}
	if cfg.Server.Production() {
		t.Error("default environment should not be production")
	}
	if cfg.Auth.Policy != registration.PolicyOpen {
		t.Errorf("Policy = %q, want open", cfg.Auth.Policy)
	}
	if cfg.Auth.MultiTenant {
		t.Error("multi-tenant should default to false")
	}
	if !cfg.Auth.AllowUserSignup {
		t.Error("user signup should default to allowed")
	}
	if cfg.Providers.LDAP.Port != 389 || cfg.Providers.LDAP.Method != "plain" {
		t.Errorf("unexpected LDAP defaults port=%d method=%s", cfg.Providers.LDAP.Port, cfg.Providers.LDAP.Method)
	}
	if cfg.Providers.Office365.Tenant != "common" {
		t.Errorf("Office365 tenant = %q, want common", cfg.Providers.Office365.Tenant)
	}
	if cfg.Storage.Type != "memory" || cfg.Session.Store != "memory" {
		t.Errorf("unexpected store defaults %s/%s", cfg.Storage.Type, cfg.Session.Store)
	}
	if cfg.Auth.InviteValidity != 48*time.Hour {
		t.Errorf("InviteValidity = %v, want 48h", cfg.Auth.InviteValidity)
	}
	if cfg.Auth.LoginRateLimit != 10 || cfg.Auth.LoginBurst != 5 {
		t.Errorf("unexpected login throttling defaults %d/%d", cfg.Auth.LoginRateLimit, cfg.Auth.LoginBurst)
	}
	if cfg.Observability.OTelSampleRatio != 1 {
		t.Errorf("OTelSampleRatio = %v, want 1", cfg.Observability.OTelSampleRatio)
	}
}

// TestLoadConfig_LDAPDisablesSignup tests that a complete LDAP configuration
// forces self-service signup off regardless of the configured value
func TestLoadConfig_LDAPDisablesSignup(t *testing.T) {
	ldapEnv := map[string]string{
		"GATEHOUSE_LDAP_SERVER":   "ldap.example.com",
		"GATEHOUSE_LDAP_UID":      "uid",
		"GATEHOUSE_LDAP_BASE":     "dc=example,dc=com",
		"GATEHOUSE_LDAP_BIND_DN":  "cn=admin,dc=example,dc=com",
		"GATEHOUSE_LDAP_PASSWORD": "secret",
	}

	t.Run("complete LDAP settings", func(t *testing.T) {
		for k, v := range ldapEnv {
			t.Setenv(k, v)
		}
		t.Setenv("GATEHOUSE_ALLOW_USER_SIGNUP", "true")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if !cfg.Providers.LDAP.Enabled() {
			t.Fatal("expected LDAP to be enabled")
		}
		if cfg.Auth.AllowUserSignup {
			t.Error("expected signup to be disabled when LDAP is enabled")
		}
	})

	t.Run("missing bind password", func(t *testing.T) {
		for k, v := range ldapEnv {
			if k != "GATEHOUSE_LDAP_PASSWORD" {
				t.Setenv(k, v)
			}
		}
		t.Setenv("GATEHOUSE_LDAP_PASSWORD", "")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Providers.LDAP.Enabled() {
			t.Error("LDAP must not be enabled without a bind password")
		}
		if !cfg.Auth.AllowUserSignup {
			t.Error("signup should stay enabled")
		}
	})
}

// TestProviderEnabledFlags tests the per-provider enablement rules
func TestProviderEnabledFlags(t *testing.T) {
	if (SAMLConfig{Issuer: "i", TargetURL: "u"}).Enabled() {
		t.Error("SAML needs a fingerprint")
	}
	if !(SAMLConfig{Issuer: "i", TargetURL: "u", Fingerprint: "f"}).Enabled() {
		t.Error("SAML with issuer, target and fingerprint should be enabled")
	}
	if (OAuthClientConfig{ClientID: "id"}).Enabled() {
		t.Error("OAuth client needs a secret")
	}
	if !(OAuthClientConfig{ClientID: "id", ClientSecret: "s"}).Enabled() {
		t.Error("OAuth client with id and secret should be enabled")
	}
}

// TestLoadConfig_InvalidPolicy tests that an unknown registration policy is rejected
func TestLoadConfig_InvalidPolicy(t *testing.T) {
	t.Setenv("GATEHOUSE_REGISTRATION_POLICY", "whoever")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for unknown registration policy")
	}
}

// TestLoadConfig_TrustedProxies tests the comma separated proxy list
func TestLoadConfig_TrustedProxies(t *testing.T) {
	t.Setenv("GATEHOUSE_TRUSTED_PROXIES", "10.0.0.0/8, ,172.16.0.1")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[1] != "172.16.0.1" {
		t.Errorf("TrustedProxies = %v", cfg.Server.TrustedProxies)
	}
}

// TestLoadConfig_DefaultsFile tests reading unset variables from a YAML file
func TestLoadConfig_DefaultsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")
	content := []byte(`
REGISTRATION_POLICY: approval-required
GATEHOUSE_MULTI_TENANT: true
GATEHOUSE_PORT: 8181
GATEHOUSE_GOOGLE_OAUTH2_ID: file-id
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("GATEHOUSE_CONFIG_FILE", path)
	t.Setenv("GATEHOUSE_PORT", "8282")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Auth.Policy != registration.PolicyApproval {
		t.Errorf("Policy = %q, want approval", cfg.Auth.Policy)
	}
	if !cfg.Auth.MultiTenant {
		t.Error("expected multi-tenant from file")
	}
	if cfg.Server.Port != "8282" {
		t.Errorf("Port = %q, env should win over file", cfg.Server.Port)
	}
	if cfg.Providers.Google.ClientID != "file-id" {
		t.Errorf("Google client id = %q", cfg.Providers.Google.ClientID)
	}
}

// TestLoadConfig_MissingDefaultsFile tests the error for an unreadable file
func TestLoadConfig_MissingDefaultsFile(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for missing config file")
	}
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := load(envSource{})
		if err != nil {
			t.Fatalf("load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = c.Server.Port }, wantErr: true},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: true},
		{name: "relative root without slash", mutate: func(c *Config) { c.Server.RelativeURLRoot = "b" }, wantErr: true},
		{name: "empty relative root", mutate: func(c *Config) { c.Server.RelativeURLRoot = "" }},
		{name: "trusted proxies", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1"} }},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/40"} }, wantErr: true},
		{name: "postgres without URL", mutate: func(c *Config) { c.Storage.Type = "postgres" }, wantErr: true},
		{name: "postgres with URL", mutate: func(c *Config) {
			c.Storage.Type = "postgres"
			c.Storage.PostgresURL = "postgres://localhost/gatehouse"
		}},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "s3" }, wantErr: true},
		{name: "redis sessions without URL", mutate: func(c *Config) { c.Session.Store = "redis" }, wantErr: true},
		{name: "redis sessions with URL", mutate: func(c *Config) {
			c.Session.Store = "redis"
			c.Storage.RedisURL = "redis://localhost:6379"
		}},
		{name: "zero session TTL", mutate: func(c *Config) { c.Session.TTL = 0 }, wantErr: true},
		{name: "zero call timeout", mutate: func(c *Config) { c.Auth.CallTimeout = 0 }, wantErr: true},
		{name: "zero invite validity", mutate: func(c *Config) { c.Auth.InviteValidity = 0 }, wantErr: true},
		{name: "negative login limit", mutate: func(c *Config) { c.Auth.LoginRateLimit = -1 }, wantErr: true},
		{name: "login throttling disabled", mutate: func(c *Config) { c.Auth.LoginRateLimit = 0 }},
		{name: "bad LDAP method", mutate: func(c *Config) { c.Providers.LDAP.Method = "starttls" }, wantErr: true},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
