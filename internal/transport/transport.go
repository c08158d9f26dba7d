// Package transport connects to devices and moves raw bytes to and from
// them.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConnect is returned when a channel cannot be opened.
	ErrConnect = errors.New("connect failed")
	// ErrTransport is returned when an open channel fails.
	ErrTransport = errors.New("transport error")
	// ErrNotConnected is returned for an unknown or closed channel.
	ErrNotConnected = errors.New("channel not connected")
)

// Handler receives every chunk read from a channel.
type Handler func(channel string, chunk []byte)

// Params describes one serial connection.
type Params struct {
	// Channel names the connection. The port name is used when empty.
	Channel     string
	Port        string
	BaudRate    int
	DataBits    int
	Parity      string
	StopBits    string
	ReadTimeout time.Duration
}

// Transport is the byte-level device boundary.
type Transport interface {
	Connect(ctx context.Context, p Params) (string, error)
	Send(ctx context.Context, channel string, data []byte) error
	OnReceive(h Handler)
	Disconnect(channel string) error
	Close() error
}
