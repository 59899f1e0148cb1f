package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/registration"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "GATEHOUSE_"

// Config holds all application configuration. It is built once at startup
// and passed by reference; nothing mutates it afterwards.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Providers     ProvidersConfig
	Session       SessionConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string // public scheme://host used to build callback URLs
	RelativeURLRoot string // path prefix the app is mounted under
	Environment     string // "production" enables the relative root for LDAP callbacks
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// CIDRs whose X-Forwarded-For is believed
	TrustedProxies []string
}

// Production reports whether the process runs in the production environment
func (s ServerConfig) Production() bool {
	return s.Environment == "production"
}

// StorageConfig selects and configures the identity store backend
type StorageConfig struct {
	Type             string // "postgres" or "memory"
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
	AutoMigrate      bool

	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// AuthConfig holds the decision engine settings
type AuthConfig struct {
	MultiTenant        bool
	TenantBaseDomain   string
	Policy             registration.Policy
	AllowUserSignup    bool
	EmailNotifications bool
	CallTimeout        time.Duration
	InviteValidity     time.Duration

	// Sign-in attempts allowed per client address each minute; 0 disables throttling
	LoginRateLimit int
	LoginBurst     int
}

// LDAPConfig holds directory bind parameters
type LDAPConfig struct {
	Server   string
	Port     int
	Method   string // plain, ssl or tls
	UID      string
	Base     string
	BindDN   string
	Password string
}

// Enabled reports whether every required LDAP setting is present
func (c LDAPConfig) Enabled() bool {
	return c.Server != "" && c.UID != "" && c.Base != "" && c.BindDN != "" && c.Password != ""
}

// SAMLConfig holds identity provider parameters
type SAMLConfig struct {
	Issuer      string
	TargetURL   string
	Fingerprint string
	Certificate string // PEM encoded IdP signing certificate
}

// Enabled reports whether issuer, target URL and fingerprint are present
func (c SAMLConfig) Enabled() bool {
	return c.Issuer != "" && c.TargetURL != "" && c.Fingerprint != ""
}

// OAuthClientConfig holds an OAuth2 client id/secret pair
type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
}

// Enabled reports whether both id and secret are present
func (c OAuthClientConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// GoogleConfig holds Google OAuth2 parameters
type GoogleConfig struct {
	OAuthClientConfig
	EnableYouTubeUploading bool
}

// Office365Config holds Azure AD parameters
type Office365Config struct {
	OAuthClientConfig
	Tenant string // directory tenant, "common" for multi-tenant apps
}

// ProvidersConfig holds every identity provider's settings
type ProvidersConfig struct {
	LDAP      LDAPConfig
	SAML      SAMLConfig
	Twitter   OAuthClientConfig
	Google    GoogleConfig
	Office365 Office365Config
}

// SessionConfig holds session store settings
type SessionConfig struct {
	Store         string // "redis" or "memory"
	TTL           time.Duration
	CookieName    string
	CookieSecure  bool
	MemoryMaxSize int
	PurgeSchedule string // cron spec for the in-memory expiry purge
}

// NotifyConfig holds notification delivery settings
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables. When
// GATEHOUSE_CONFIG_FILE names a YAML file of VAR: value pairs, those values
// are used for any variable the environment leaves unset.
func LoadConfig() (*Config, error) {
	src := envSource{}
	if path := os.Getenv(EnvPrefix + "CONFIG_FILE"); path != "" {
		defaults, err := loadDefaultsFile(path)
		if err != nil {
			return nil, err
		}
		src.defaults = defaults
	}
	return load(src)
}

func load(src envSource) (*Config, error) {
	auth, err := src.loadAuthConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        src.loadServerConfig(),
		Storage:       src.loadStorageConfig(),
		Auth:          auth,
		Providers:     src.loadProvidersConfig(),
		Session:       src.loadSessionConfig(),
		Notify:        src.loadNotifyConfig(),
		Observability: src.loadObservabilityConfig(),
	}

	// A directory provider owns sign-in; self-service signup is unavailable.
	if cfg.Providers.LDAP.Enabled() {
		cfg.Auth.AllowUserSignup = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDefaultsFile reads a flat YAML mapping of variable names to values
func loadDefaultsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	defaults := make(map[string]string, len(raw))
	for key, value := range raw {
		name := strings.ToUpper(key)
		if !strings.HasPrefix(name, EnvPrefix) {
			name = EnvPrefix + name
		}
		if value == nil {
			continue
		}
		defaults[name] = fmt.Sprint(value)
	}
	return defaults, nil
}

func (s envSource) loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            s.getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            s.getEnv("GATEHOUSE_PORT", "8080"),
		BaseURL:         strings.TrimRight(s.getEnv("GATEHOUSE_BASE_URL", "http://localhost:8080"), "/"),
		RelativeURLRoot: s.getEnv("GATEHOUSE_RELATIVE_URL_ROOT", "/b"),
		TrustedProxies:  s.getEnvList("GATEHOUSE_TRUSTED_PROXIES"),
		Environment:     s.getEnv("GATEHOUSE_ENV", "development"),
		ReadTimeout:     s.getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    s.getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     s.getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: s.getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      s.getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
	}
}

func (s envSource) loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:             s.getEnv("GATEHOUSE_STORAGE_TYPE", "memory"),
		PostgresURL:      s.getEnv("GATEHOUSE_POSTGRES_URL", ""),
		PostgresMaxConns: s.getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: s.getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:  s.getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 30*time.Second),
		AutoMigrate:      s.getEnvBool("GATEHOUSE_POSTGRES_AUTO_MIGRATE", true),
		RedisURL:         s.getEnv("GATEHOUSE_REDIS_URL", ""),
		RedisPassword:    s.getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
		RedisDB:          s.getEnvInt("GATEHOUSE_REDIS_DB", 0),
		RedisPoolSize:    s.getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 10),
	}
}

func (s envSource) loadAuthConfig() (AuthConfig, error) {
	policy, err := registration.ParsePolicy(s.getEnv("GATEHOUSE_REGISTRATION_POLICY", "open"))
	if err != nil {
		return AuthConfig{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return AuthConfig{
		MultiTenant:        s.getEnvBool("GATEHOUSE_MULTI_TENANT", false),
		TenantBaseDomain:   strings.ToLower(s.getEnv("GATEHOUSE_TENANT_BASE_DOMAIN", "")),
		Policy:             policy,
		AllowUserSignup:    s.getEnvBool("GATEHOUSE_ALLOW_USER_SIGNUP", true),
		EmailNotifications: s.getEnvBool("GATEHOUSE_EMAIL_NOTIFICATIONS", false),
		CallTimeout:        s.getEnvDuration("GATEHOUSE_CALL_TIMEOUT", 5*time.Second),
		InviteValidity:     s.getEnvDuration("GATEHOUSE_INVITE_VALIDITY", 48*time.Hour),
		LoginRateLimit:     s.getEnvInt("GATEHOUSE_LOGIN_RATE_LIMIT", 10),
		LoginBurst:         s.getEnvInt("GATEHOUSE_LOGIN_BURST", 5),
	}, nil
}

func (s envSource) loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		LDAP: LDAPConfig{
			Server:   s.getEnv("GATEHOUSE_LDAP_SERVER", ""),
			Port:     s.getEnvInt("GATEHOUSE_LDAP_PORT", 389),
			Method:   strings.ToLower(s.getEnv("GATEHOUSE_LDAP_METHOD", "plain")),
			UID:      s.getEnv("GATEHOUSE_LDAP_UID", ""),
			Base:     s.getEnv("GATEHOUSE_LDAP_BASE", ""),
			BindDN:   s.getEnv("GATEHOUSE_LDAP_BIND_DN", ""),
			Password: s.getEnv("GATEHOUSE_LDAP_PASSWORD", ""),
		},
		SAML: SAMLConfig{
			Issuer:      s.getEnv("GATEHOUSE_SAML_ISSUER", ""),
			TargetURL:   s.getEnv("GATEHOUSE_SAML_TARGET_URL", ""),
			Fingerprint: s.getEnv("GATEHOUSE_SAML_FINGERPRINT", ""),
			Certificate: s.getEnv("GATEHOUSE_SAML_CERTIFICATE", ""),
		},
		Twitter: OAuthClientConfig{
			ClientID:     s.getEnv("GATEHOUSE_TWITTER_ID", ""),
			ClientSecret: s.getEnv("GATEHOUSE_TWITTER_SECRET", ""),
		},
		Google: GoogleConfig{
			OAuthClientConfig: OAuthClientConfig{
				ClientID:     s.getEnv("GATEHOUSE_GOOGLE_OAUTH2_ID", ""),
				ClientSecret: s.getEnv("GATEHOUSE_GOOGLE_OAUTH2_SECRET", ""),
			},
			EnableYouTubeUploading: s.getEnvBool("GATEHOUSE_ENABLE_YOUTUBE_UPLOADING", false),
		},
		Office365: Office365Config{
			OAuthClientConfig: OAuthClientConfig{
				ClientID:     s.getEnv("GATEHOUSE_OFFICE365_KEY", ""),
				ClientSecret: s.getEnv("GATEHOUSE_OFFICE365_SECRET", ""),
			},
			Tenant: s.getEnv("GATEHOUSE_OFFICE365_TENANT", "common"),
		},
	}
}

func (s envSource) loadSessionConfig() SessionConfig {
	return SessionConfig{
		Store:         s.getEnv("GATEHOUSE_SESSION_STORE", "memory"),
		TTL:           s.getEnvDuration("GATEHOUSE_SESSION_TTL", 7*24*time.Hour),
		CookieName:    s.getEnv("GATEHOUSE_SESSION_COOKIE", "gatehouse_session"),
		CookieSecure:  s.getEnvBool("GATEHOUSE_SESSION_COOKIE_SECURE", true),
		MemoryMaxSize: s.getEnvInt("GATEHOUSE_SESSION_MEMORY_MAX", 100000),
		PurgeSchedule: s.getEnv("GATEHOUSE_SESSION_PURGE_SCHEDULE", "@every 5m"),
	}
}

func (s envSource) loadNotifyConfig() NotifyConfig {
	return NotifyConfig{
		WebhookURL:    s.getEnv("GATEHOUSE_NOTIFY_WEBHOOK_URL", ""),
		WebhookSecret: s.getEnv("GATEHOUSE_NOTIFY_WEBHOOK_SECRET", ""),
		Timeout:       s.getEnvDuration("GATEHOUSE_NOTIFY_TIMEOUT", 10*time.Second),
		MaxAttempts:   s.getEnvInt("GATEHOUSE_NOTIFY_MAX_ATTEMPTS", 3),
	}
}

func (s envSource) loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(s.getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     s.getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        s.getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       s.getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    s.getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: s.getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       s.getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
		OTelSampleRatio:    s.getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RelativeURLRoot != "" && !strings.HasPrefix(c.Server.RelativeURLRoot, "/") {
		return fmt.Errorf("relative URL root must start with '/'")
	}

	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis session store")
		}
	default:
		return fmt.Errorf("invalid session store: %s (must be memory or redis)", c.Session.Store)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if c.Auth.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	if c.Auth.InviteValidity <= 0 {
		return fmt.Errorf("invite validity must be positive")
	}
	if c.Auth.LoginRateLimit < 0 || c.Auth.LoginBurst < 0 {
		return fmt.Errorf("login rate limit and burst must not be negative")
	}

	switch c.Providers.LDAP.Method {
	case "plain", "ssl", "tls":
	default:
		return fmt.Errorf("invalid LDAP method: %s (must be plain, ssl, or tls)", c.Providers.LDAP.Method)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string, defaulting to info
func parseLogLevel(level string) observability.LogLevel {
	lvl, err := observability.ParseLogLevel(level)
	if err != nil {
		return observability.InfoLevel
	}
	return lvl
}

// envSource reads variables from the environment, falling back to the
// defaults file
type envSource struct {
	defaults map[string]string
}

func (s envSource) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.defaults[key]
}

// getEnv returns an environment variable value or a default
func (s envSource) getEnv(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func (s envSource) getEnvBool(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func (s envSource) getEnvInt(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable as a list
func (s envSource) getEnvList(key string) []string {
	var list []string
	for _, item := range strings.Split(s.lookup(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// getEnvDuration returns a duration environment variable or a default
func (s envSource) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func (s envSource) getEnvFloat(key string, defaultValue float64) float64 {
	if value := s.lookup(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
