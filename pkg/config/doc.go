// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Configuration is read once at startup into an immutable Config that is
// passed to every component. Each setting comes from a GATEHOUSE_-prefixed
// environment variable. When GATEHOUSE_CONFIG_FILE names a YAML file of
// VARIABLE: value pairs, the file supplies values for variables the
// environment leaves unset.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//	GATEHOUSE_BASE_URL="https://rooms.example.com"
//	GATEHOUSE_RELATIVE_URL_ROOT="/b"
//	GATEHOUSE_ENV="production"
//
// Authentication settings:
//
//	GATEHOUSE_MULTI_TENANT="true"
//	GATEHOUSE_TENANT_BASE_DOMAIN="example.com"
//	GATEHOUSE_REGISTRATION_POLICY="open"  # open, invite, approval
//	GATEHOUSE_ALLOW_USER_SIGNUP="true"
//	GATEHOUSE_EMAIL_NOTIFICATIONS="true"
//	GATEHOUSE_CALL_TIMEOUT="5s"
//
// Identity providers (each is enabled only when all of its required
// variables are present):
//
//	GATEHOUSE_LDAP_SERVER, _PORT, _METHOD, _UID, _BASE, _BIND_DN, _PASSWORD
//	GATEHOUSE_SAML_ISSUER, _TARGET_URL, _FINGERPRINT, _CERTIFICATE
//	GATEHOUSE_GOOGLE_OAUTH2_ID, _SECRET, GATEHOUSE_ENABLE_YOUTUBE_UPLOADING
//	GATEHOUSE_TWITTER_ID, _SECRET
//	GATEHOUSE_OFFICE365_KEY, _SECRET, _TENANT
//
// An enabled LDAP provider disables self-service signup.
//
// Storage and sessions:
//
//	GATEHOUSE_STORAGE_TYPE="postgres"  # memory, postgres
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse"
//	GATEHOUSE_SESSION_STORE="redis"    # memory, redis
//	GATEHOUSE_REDIS_URL="redis://localhost:6379"
//	GATEHOUSE_SESSION_TTL="168h"
//
// Notifications:
//
//	GATEHOUSE_NOTIFY_WEBHOOK_URL="https://hooks.example.com/gatehouse"
//	GATEHOUSE_NOTIFY_WEBHOOK_SECRET="..."
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_OTEL_ENABLED="true"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
