package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Server settings
	HTTPAddr       string
	LogLevel       string
	StorePath      string
	MaxUploadBytes int64

	// Mail server coordinates
	IMAP IMAPConfig
	SMTP SMTPConfig

	// Folder candidates per logical role, ordered by likelihood
	Folders FolderCandidates

	// DateLayout renders message dates in fetch responses
	DateLayout   string
	// DateLocation is the zone dates are rendered in
	DateLocation *time.Location

	// ParseConcurrency bounds concurrent MIME parses within one fetch
	ParseConcurrency int

	// New-mail watcher
	WatchPollInterval time.Duration
	WatchPollRate     float64
}

// IMAPConfig holds the IMAP connection constants shared by every request
type IMAPConfig struct {
	Host              string
	Port              int
	UseTLS            bool
	ConnectTimeout    time.Duration
	AuthTimeout       time.Duration
	KeepaliveInterval time.Duration
	// CommandTimeout bounds every command sent after LOGIN
	CommandTimeout    time.Duration

	// AllowInvalidCerts disables peer certificate verification. Transport
	// stays encrypted.
	AllowInvalidCerts bool
}

// SMTPConfig holds the SMTP connection constants and the send retry policy
type SMTPConfig struct {
	Host              string
	Port              int
	UseTLS            bool
	// StartTLS upgrades a plain connection; ignored when UseTLS is set
	StartTLS          bool
	ConnectTimeout    time.Duration
	SocketTimeout     time.Duration
	GreetingTimeout   time.Duration
	AllowInvalidCerts bool

	VerifyTimeout time.Duration
	SendTimeout   time.Duration
	MaxAttempts   int
	// RetryBackoff is multiplied by the attempt number before the next try
	RetryBackoff time.Duration
}

// FolderCandidates maps each logical folder role to real folder names
type FolderCandidates struct {
	Inbox []string
	Sent  []string
	Trash []string
}

// Addr returns host:port for the IMAP server
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns host:port for the SMTP server
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultFolders returns the built-in candidate lists
func DefaultFolders() FolderCandidates {
	return FolderCandidates{
		Inbox: []string{"INBOX"},
		Sent:  []string{"INBOX.Sent", "Sent", "SENT"},
		Trash: []string{"INBOX.Trash", "Trash", "INBOX.Deleted Items", "Deleted Items"},
	}
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	allowInvalid := getEnvBool("MAIL_TLS_ALLOW_INVALID_CERTS", true)
	defaults := DefaultFolders()

	location := time.Local
	if zone := getEnv("MAIL_DATE_TIMEZONE", ""); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("invalid MAIL_DATE_TIMEZONE: %w", err)
		}
		location = loc
	}

	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":3001"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StorePath:      getEnv("STORE_PATH", "./data/gateway.db"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 25<<20)),
		IMAP: IMAPConfig{
			Host:              getEnv("IMAP_HOST", ""),
			Port:              getEnvInt("IMAP_PORT", 993),
			UseTLS:            getEnvBool("IMAP_TLS", true),
			ConnectTimeout:    getEnvDuration("IMAP_CONNECT_TIMEOUT", 90*time.Second),
			AuthTimeout:       getEnvDuration("IMAP_AUTH_TIMEOUT", 10*time.Second),
			KeepaliveInterval: getEnvDuration("IMAP_KEEPALIVE_INTERVAL", 10*time.Second),
			CommandTimeout:    getEnvDuration("IMAP_COMMAND_TIMEOUT", 60*time.Second),
			AllowInvalidCerts: allowInvalid,
		},
		SMTP: SMTPConfig{
			Host:              getEnv("SMTP_HOST", ""),
			Port:              getEnvInt("SMTP_PORT", 465),
			UseTLS:            getEnvBool("SMTP_TLS", true),
			StartTLS:          getEnvBool("SMTP_STARTTLS", true),
			ConnectTimeout:    getEnvDuration("SMTP_CONNECT_TIMEOUT", 60*time.Second),
			SocketTimeout:     getEnvDuration("SMTP_SOCKET_TIMEOUT", 60*time.Second),
			GreetingTimeout:   getEnvDuration("SMTP_GREETING_TIMEOUT", 30*time.Second),
			AllowInvalidCerts: allowInvalid,
			VerifyTimeout:     getEnvDuration("SMTP_VERIFY_TIMEOUT", 30*time.Second),
			SendTimeout:       getEnvDuration("SMTP_SEND_TIMEOUT", 60*time.Second),
			MaxAttempts:       getEnvInt("SMTP_MAX_ATTEMPTS", 3),
			RetryBackoff:      getEnvDuration("SMTP_RETRY_BACKOFF", 2*time.Second),
		},
		Folders: FolderCandidates{
			Inbox: getEnvList("FOLDERS_INBOX", defaults.Inbox),
			Sent:  getEnvList("FOLDERS_SENT", defaults.Sent),
			Trash: getEnvList("FOLDERS_TRASH", defaults.Trash),
		},
		DateLayout:        getEnv("MAIL_DATE_LAYOUT", "1/2/2006, 3:04:05 PM"),
		DateLocation:      location,
		ParseConcurrency:  getEnvInt("FETCH_PARSE_CONCURRENCY", 8),
		WatchPollInterval: getEnvDuration("WATCH_POLL_INTERVAL", 30*time.Second),
		WatchPollRate:     getEnvFloat("WATCH_POLL_RATE", 5),
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, keeping order
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("IMAP_HOST is required")
	}
	if c.SMTP.Host == "" {
		return fmt.Errorf("SMTP_HOST is required")
	}
	if c.IMAP.Port < 1 || c.IMAP.Port > 65535 {
		return fmt.Errorf("invalid IMAP_PORT")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid SMTP_PORT")
	}
	if c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required")
	}
	if c.SMTP.MaxAttempts < 1 {
		return fmt.Errorf("SMTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.ParseConcurrency < 1 {
		return fmt.Errorf("FETCH_PARSE_CONCURRENCY must be at least 1")
	}
	if c.WatchPollInterval <= 0 {
		return fmt.Errorf("WATCH_POLL_INTERVAL must be positive")
	}

	for role, names := range map[string][]string{
		"FOLDERS_INBOX": c.Folders.Inbox,
		"FOLDERS_SENT":  c.Folders.Sent,
		"FOLDERS_TRASH": c.Folders.Trash,
	} {
		if len(names) == 0 {
			return fmt.Errorf("%s must list at least one folder", role)
		}
	}

	timeouts := map[string]time.Duration{
		"IMAP_CONNECT_TIMEOUT":  c.IMAP.ConnectTimeout,
		"IMAP_AUTH_TIMEOUT":     c.IMAP.AuthTimeout,
		"IMAP_COMMAND_TIMEOUT":  c.IMAP.CommandTimeout,
		"SMTP_CONNECT_TIMEOUT":  c.SMTP.ConnectTimeout,
		"SMTP_SOCKET_TIMEOUT":   c.SMTP.SocketTimeout,
		"SMTP_GREETING_TIMEOUT": c.SMTP.GreetingTimeout,
		"SMTP_VERIFY_TIMEOUT":   c.SMTP.VerifyTimeout,
		"SMTP_SEND_TIMEOUT":     c.SMTP.SendTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}
