package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("SMTP_HOST", "smtp.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 993, cfg.IMAP.Port)
	assert.Equal(t, 90*time.Second, cfg.IMAP.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.IMAP.AuthTimeout)
	assert.Equal(t, 60*time.Second, cfg.IMAP.CommandTimeout)
	assert.True(t, cfg.SMTP.StartTLS)
	assert.Equal(t, time.Local, cfg.DateLocation)
	assert.Equal(t, 30*time.Second, cfg.SMTP.VerifyTimeout)
	assert.Equal(t, 60*time.Second, cfg.SMTP.SendTimeout)
	assert.Equal(t, 3, cfg.SMTP.MaxAttempts)
	assert.True(t, cfg.IMAP.AllowInvalidCerts)
	assert.Equal(t, "imap.example.com:993", cfg.IMAP.Addr())
	assert.Equal(t, []string{"INBOX.Trash", "Trash", "INBOX.Deleted Items", "Deleted Items"}, cfg.Folders.Trash)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "587")
	t.Setenv("SMTP_TLS", "false")
	t.Setenv("IMAP_AUTH_TIMEOUT", "3")
	t.Setenv("SMTP_SEND_TIMEOUT", "1500ms")
	t.Setenv("FOLDERS_SENT", " Sent Items , ,Sent")
	t.Setenv("MAIL_TLS_ALLOW_INVALID_CERTS", "false")
	t.Setenv("SMTP_STARTTLS", "false")
	t.Setenv("IMAP_COMMAND_TIMEOUT", "15s")
	t.Setenv("MAIL_DATE_TIMEZONE", "UTC")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.False(t, cfg.SMTP.UseTLS)
	assert.Equal(t, 3*time.Second, cfg.IMAP.AuthTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.SMTP.SendTimeout)
	assert.Equal(t, []string{"Sent Items", "Sent"}, cfg.Folders.Sent)
	assert.False(t, cfg.SMTP.AllowInvalidCerts)
	assert.False(t, cfg.SMTP.StartTLS)
	assert.Equal(t, 15*time.Second, cfg.IMAP.CommandTimeout)
	assert.Equal(t, time.UTC, cfg.DateLocation)
}

func TestLoadConfig_BadTimezone(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("MAIL_DATE_TIMEZONE", "Mars/Olympus_Mons")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("SMTP_HOST", "smtp.example.com")

	base, err := LoadConfig()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing imap host", func(c *Config) { c.IMAP.Host = "" }},
		{"missing smtp host", func(c *Config) { c.SMTP.Host = "" }},
		{"bad port", func(c *Config) { c.SMTP.Port = 70000 }},
		{"no attempts", func(c *Config) { c.SMTP.MaxAttempts = 0 }},
		{"empty trash list", func(c *Config) { c.Folders.Trash = nil }},
		{"zero verify timeout", func(c *Config) { c.SMTP.VerifyTimeout = 0 }},
		{"zero command timeout", func(c *Config) { c.IMAP.CommandTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
