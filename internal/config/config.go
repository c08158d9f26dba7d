// Package config handles configuration loading and management
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port           string
	BaudRate       int
	DataBits       int
	Parity         string
	StopBits       string
	DefaultTimeout time.Duration
	HistoryDSN     string
	LogLevel       string
}

// FromEnv reads configuration from the environment. The .env file is loaded
// into the environment by main before any command runs.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:       getEnv(EnvPort, DefaultPort),
		Parity:     getEnv(EnvParity, DefaultParity),
		StopBits:   getEnv(EnvStopBits, DefaultStopBits),
		HistoryDSN: getEnv(EnvHistoryDSN, ""),
		LogLevel:   getEnv(EnvLogLevel, "info"),
	}

	baud, err := strconv.Atoi(getEnv(EnvBaud, strconv.Itoa(DefaultBaudRate)))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvBaud, err)
	}
	cfg.BaudRate = baud

	dataBits, err := strconv.Atoi(getEnv(EnvDataBits, strconv.Itoa(DefaultDataBits)))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvDataBits, err)
	}
	cfg.DataBits = dataBits

	timeout, err := time.ParseDuration(getEnv(EnvDefaultTimeout, DefaultTimeout.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvDefaultTimeout, err)
	}
	cfg.DefaultTimeout = timeout

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate must be positive", ErrInvalidConfig)
	}

	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: data bits must be between 5 and 8", ErrInvalidConfig)
	}

	switch c.Parity {
	case "none", "odd", "even", "mark", "space":
	default:
		return fmt.Errorf("%w: unknown parity %q", ErrInvalidConfig, c.Parity)
	}

	switch c.StopBits {
	case "1", "1.5", "2":
	default:
		return fmt.Errorf("%w: unknown stop bits %q", ErrInvalidConfig, c.StopBits)
	}

	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("%w: default timeout must be positive", ErrInvalidConfig)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) String() string {
	portDisplay := c.Port
	if portDisplay == "" {
		portDisplay = "(not set)"
	}

	return fmt.Sprintf(`Current Configuration:
======================
Serial Port:      %s
Baud Rate:        %d
Framing:          %d%s%s
Default Timeout:  %s
History DSN:      %s
Log Level:        %s`,
		portDisplay,
		c.BaudRate,
		c.DataBits,
		parityLetter(c.Parity),
		c.StopBits,
		c.DefaultTimeout,
		MaskDSN(c.HistoryDSN),
		c.LogLevel,
	)
}

// MaskDSN hides the password of a connection string.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return "(not set)"
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable)"
	}

	return u.Redacted()
}

func parityLetter(parity string) string {
	switch parity {
	case "odd":
		return "O"
	case "even":
		return "E"
	case "mark":
		return "M"
	case "space":
		return "S"
	default:
		return "N"
	}
}
