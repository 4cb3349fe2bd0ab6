package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Assignment policies for newly created tickets.
const (
	AssignmentNone       = "none"
	AssignmentRoundRobin = "round_robin"
	AssignmentDefault    = "default"
)

// SMTP security modes.
const (
	SMTPSecurityNone     = "none"
	SMTPSecurityStartTLS = "starttls"
	SMTPSecurityTLS      = "tls"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	SMTP         SMTPConfig
	IMAP         IMAPConfig
	Poller       PollerConfig
	Ingestion    IngestionConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Encoding    string
	Development bool
	Service     string
}

// SMTPConfig configures the outbound transport. An empty Host selects the
// logging sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Security string
	From     string
	FromName string
	Timeout  time.Duration
}

// Addr returns host:port for dialing.
func (s SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IMAPConfig configures the polled mailbox.
type IMAPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TLS         bool
	Folder      string
	DialTimeout time.Duration
}

// Enabled reports whether a mailbox is configured.
func (i IMAPConfig) Enabled() bool {
	return strings.TrimSpace(i.Host) != "" && strings.TrimSpace(i.Username) != ""
}

// Addr returns host:port for dialing.
func (i IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// PollerConfig controls the mailbox poll cycle.
type PollerConfig struct {
	Schedule        string
	BatchSize       int
	CycleTimeout    time.Duration
	InitialLookback time.Duration
	TriggerSecret   string
}

// IngestionConfig controls correlation and the new-ticket path.
type IngestionConfig struct {
	CorrelationWindow     time.Duration
	RegisteredClientsOnly bool
	AssignmentPolicy      string
	DefaultAssigneeEmail  string
	SystemUserEmail       string
	SupportDomain         string
	DedupClaimTTL         time.Duration
}

// NotificationConfig holds assignee notification settings.
type NotificationConfig struct {
	EmailFrom string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	smtpFrom := getEnv("SMTP_FROM", "support@localhost")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "skydesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "skydesk:"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Encoding:    getEnv("LOG_ENCODING", "json"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			Security: strings.ToLower(getEnv("SMTP_SECURITY", SMTPSecurityStartTLS)),
			From:     smtpFrom,
			FromName: getEnv("SMTP_FROM_NAME", "Support"),
			Timeout:  getEnvAsDuration("SMTP_TIMEOUT", 30*time.Second),
		},
		IMAP: IMAPConfig{
			Host:        os.Getenv("IMAP_HOST"),
			Port:        getEnvAsInt("IMAP_PORT", 993),
			Username:    os.Getenv("IMAP_USERNAME"),
			Password:    os.Getenv("IMAP_PASSWORD"),
			TLS:         getEnvAsBool("IMAP_TLS", true),
			Folder:      getEnv("IMAP_FOLDER", "INBOX"),
			DialTimeout: getEnvAsDuration("IMAP_DIAL_TIMEOUT", 15*time.Second),
		},
		Poller: PollerConfig{
			Schedule:        os.Getenv("POLL_SCHEDULE"),
			BatchSize:       getEnvAsInt("POLL_BATCH_SIZE", 25),
			CycleTimeout:    getEnvAsDuration("POLL_CYCLE_TIMEOUT", 55*time.Second),
			InitialLookback: getEnvAsDuration("POLL_INITIAL_LOOKBACK", 24*time.Hour),
			TriggerSecret:   os.Getenv("POLL_TRIGGER_SECRET"),
		},
		Ingestion: IngestionConfig{
			CorrelationWindow:     getEnvAsDuration("CORRELATION_WINDOW", 5*time.Minute),
			RegisteredClientsOnly: getEnvAsBool("INGEST_REGISTERED_CLIENTS_ONLY", false),
			AssignmentPolicy:      strings.ToLower(getEnv("ASSIGNMENT_POLICY", AssignmentRoundRobin)),
			DefaultAssigneeEmail:  os.Getenv("DEFAULT_ASSIGNEE_EMAIL"),
			SystemUserEmail:       os.Getenv("SYSTEM_USER_EMAIL"),
			SupportDomain:         getEnv("SUPPORT_DOMAIN", domainOf(smtpFrom)),
			DedupClaimTTL:         getEnvAsDuration("DEDUP_CLAIM_TTL", 24*time.Hour),
		},
		Notification: NotificationConfig{
			EmailFrom: getEnv("NOTIFY_EMAIL_FROM", smtpFrom),
		},
	}

	cfg.Logger.Service = cfg.App.Name

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration combinations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Ingestion.AssignmentPolicy {
	case AssignmentNone, AssignmentRoundRobin:
	case AssignmentDefault:
		if strings.TrimSpace(c.Ingestion.DefaultAssigneeEmail) == "" {
			errs = append(errs, errors.New("ASSIGNMENT_POLICY=default requires DEFAULT_ASSIGNEE_EMAIL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ASSIGNMENT_POLICY %q", c.Ingestion.AssignmentPolicy))
	}
	switch c.SMTP.Security {
	case SMTPSecurityNone, SMTPSecurityStartTLS, SMTPSecurityTLS:
	default:
		errs = append(errs, fmt.Errorf("unknown SMTP_SECURITY %q", c.SMTP.Security))
	}
	if c.Ingestion.CorrelationWindow <= 0 {
		errs = append(errs, errors.New("CORRELATION_WINDOW must be positive"))
	}
	if c.Poller.BatchSize <= 0 {
		errs = append(errs, errors.New("POLL_BATCH_SIZE must be positive"))
	}
	if c.Poller.CycleTimeout <= 0 {
		errs = append(errs, errors.New("POLL_CYCLE_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func domainOf(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "localhost"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
