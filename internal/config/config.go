package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string
	AppURL  string // public base URL of the web app, used to build verification URIs

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	// PairingStore selects the pairing-session backend: "memory" or "dynamo".
	PairingStore string

	PairingCodeTTL        time.Duration // lifetime of a pairing session
	BasePollInterval      int           // seconds between polls, starting value
	PollIntervalStep      int           // seconds added per premature poll
	MaxPollInterval       int           // ceiling for the poll interval
	RetentionWindow       time.Duration // how long terminal sessions stay around
	ReapInterval          time.Duration // how often the reaper sweeps
	MaxApproveAttempts    int           // failed approvals allowed per user per window
	ApproveAttemptsWindow time.Duration
	AuditRetention        time.Duration // TTL applied to audit events

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	AccessTokenTTL    time.Duration

	SNSRegion   string
	SNSTopicARN string // empty disables pairing event notifications

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Pairings    string
	Devices     string
	AuditEvents string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),
		AppURL:  getEnv("APP_URL", "http://localhost:3000"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Pairings:    getEnv("DYNAMO_TABLE_PAIRINGS", "pairing_sessions"),
			Devices:     getEnv("DYNAMO_TABLE_DEVICES", "user_devices"),
			AuditEvents: getEnv("DYNAMO_TABLE_AUDIT_EVENTS", "pairing_audit_events"),
		},

		PairingStore: getEnv("PAIRING_STORE", "memory"),

		PairingCodeTTL:        getEnvDuration("PAIRING_CODE_TTL", 10*time.Minute),
		BasePollInterval:      getEnvInt("PAIRING_POLL_INTERVAL", 5),
		PollIntervalStep:      getEnvInt("PAIRING_POLL_INTERVAL_STEP", 5),
		MaxPollInterval:       getEnvInt("PAIRING_POLL_INTERVAL_MAX", 30),
		RetentionWindow:       getEnvDuration("PAIRING_RETENTION_WINDOW", 10*time.Minute),
		ReapInterval:          getEnvDuration("PAIRING_REAP_INTERVAL", 30*time.Second),
		MaxApproveAttempts:    getEnvInt("PAIRING_MAX_APPROVE_ATTEMPTS", 5),
		ApproveAttemptsWindow: getEnvDuration("PAIRING_APPROVE_ATTEMPTS_WINDOW", 15*time.Minute),
		AuditRetention:        getEnvDuration("PAIRING_AUDIT_RETENTION", 30*24*time.Hour),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		AccessTokenTTL:    getEnvDuration("ACCESS_TOKEN_TTL", 120*time.Hour),

		SNSRegion:   getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN: getEnv("SNS_TOPIC_ARN", ""),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
