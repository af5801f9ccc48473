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

	LedgerBackend    string // "file" | "dynamo"
	LedgerPath       string
	LedgerBackupPath string
	LedgerTmpPath    string
	AuditLogPath     string
	CodeLength       int
	MatchPolicy      string // "handle_bound" | "code_only"
	DeliveryInterval time.Duration

	DiscordToken   string
	ServerID       string
	VerifiedRoleID string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoLedger   string
	S3BackupBucket string // empty disables offsite backup copies
	SNSAuditTopic  string // empty disables audit fan-out

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration
	AllowedOrigins    []string // CORS allowed origins
	TrustedProxies    []string // CIDRs whose forwarding headers are believed
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		LedgerBackend:    getEnv("LEDGER_BACKEND", "file"),
		LedgerPath:       getEnv("LEDGER_PATH", "json/verified.json"),
		LedgerBackupPath: getEnv("LEDGER_BACKUP_PATH", "json/verified_backup.json"),
		LedgerTmpPath:    getEnv("LEDGER_TMP_PATH", "json/verified.tmp"),
		AuditLogPath:     getEnv("AUDIT_LOG_PATH", "verification.log"),
		CodeLength:       getEnvInt("CODE_LENGTH", 6),
		MatchPolicy:      getEnv("MATCH_POLICY", "handle_bound"),
		DeliveryInterval: getEnvDuration("DELIVERY_INTERVAL", 60*time.Second),

		DiscordToken:   getEnv("DISCORD_TOKEN", ""),
		ServerID:       getEnv("SERVER_ID", ""),
		VerifiedRoleID: getEnv("VERIFIED_STUDENT_ROLE_ID", ""),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoLedger:   getEnv("DYNAMO_TABLE_LEDGER", "verification_ledger"),
		S3BackupBucket: getEnv("S3_BACKUP_BUCKET", ""),
		SNSAuditTopic:  getEnv("SNS_AUDIT_TOPIC_ARN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24*30)) * time.Hour,
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustedProxies:    getEnvList("TRUSTED_PROXIES"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
