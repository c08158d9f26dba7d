package config

import (
	"errors"
	"time"
)

// Environment variables read by Load.
const (
	EnvPort           = "ATRUNNER_PORT"
	EnvBaud           = "ATRUNNER_BAUD"
	EnvDataBits       = "ATRUNNER_DATA_BITS"
	EnvParity         = "ATRUNNER_PARITY"
	EnvStopBits       = "ATRUNNER_STOP_BITS"
	EnvDefaultTimeout = "ATRUNNER_DEFAULT_TIMEOUT"
	EnvHistoryDSN     = "ATRUNNER_HISTORY_DSN"
	EnvLogLevel       = "LOG_LEVEL"
)

const (
	// DefaultPort is empty so the CLI asks for one.
	DefaultPort = ""
	// DefaultBaudRate is the serial speed when none is configured.
	DefaultBaudRate = 115200
	// DefaultDataBits is the serial frame size.
	DefaultDataBits = 8
	// DefaultParity is the serial parity mode.
	DefaultParity = "none"
	// DefaultStopBits is the number of serial stop bits.
	DefaultStopBits = "1"
	// DefaultTimeout applies to commands without their own timeout.
	DefaultTimeout = time.Second
	// DefaultChannel names the single serial channel the CLI opens.
	DefaultChannel = "serial"
)

// ErrInvalidConfig is returned when a configured value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")
