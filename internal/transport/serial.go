package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReadTimeout = 50 * time.Millisecond
	readBufferSize     = 1024
)

// port is the part of serial.Port the transport uses.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a named port with the given mode.
type Opener func(name string, mode *serial.Mode) (port, error)

func openSerial(name string, mode *serial.Mode) (port, error) {
	return serial.Open(name, mode)
}

type conn struct {
	port   port
	cancel context.CancelFunc
	group  *errgroup.Group

	writeMu sync.Mutex
}

// Serial is a Transport over local serial ports.
type Serial struct {
	log  logrus.FieldLogger
	open Opener

	mu      sync.RWMutex
	conns   map[string]*conn
	handler Handler
}

// NewSerial creates a serial transport.
func NewSerial(log logrus.FieldLogger) *Serial {
	return newSerial(log, openSerial)
}

func newSerial(log logrus.FieldLogger, open Opener) *Serial {
	return &Serial{
		log:   log.WithField("component", "serial_transport"),
		open:  open,
		conns: make(map[string]*conn),
	}
}

// OnReceive sets the handler for inbound chunks on every channel.
func (s *Serial) OnReceive(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = h
}

// Connect opens the port and starts its reader.
func (s *Serial) Connect(ctx context.Context, p Params) (string, error) {
	if p.Port == "" {
		return "", fmt.Errorf("%w: no port given", ErrConnect)
	}

	mode, err := modeFor(p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnect, err)
	}

	channel := p.Channel
	if channel == "" {
		channel = p.Port
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[channel]; ok {
		return "", fmt.Errorf("%w: channel %s already open", ErrConnect, channel)
	}

	pt, err := s.open(p.Port, mode)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %w", ErrConnect, p.Port, err)
	}

	readTimeout := p.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	if err := pt.SetReadTimeout(readTimeout); err != nil {
		_ = pt.Close()
		return "", fmt.Errorf("%w: setting read timeout: %w", ErrConnect, err)
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(readCtx)

	c := &conn{port: pt, cancel: cancel, group: g}
	s.conns[channel] = c

	g.Go(func() error {
		return s.read(gctx, channel, pt)
	})

	s.log.WithFields(logrus.Fields{
		"channel": channel,
		"port":    p.Port,
		"baud":    mode.BaudRate,
	}).Info("serial port connected")

	return channel, nil
}

func (s *Serial) read(ctx context.Context, channel string, pt port) error {
	buf := make([]byte, readBufferSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := pt.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			s.mu.RLock()
			h := s.handler
			s.mu.RUnlock()

			if h != nil {
				h(channel, chunk)
			}
		}

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return nil
			}

			s.log.WithError(err).WithField("channel", channel).Error("serial read failed")

			return fmt.Errorf("%w: reading %s: %w", ErrTransport, channel, err)
		}
	}
}

// Send writes data to the channel.
func (s *Serial) Send(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	c, ok := s.conns[channel]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, channel)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for written := 0; written < len(data); {
		n, err := c.port.Write(data[written:])
		if err != nil {
			return fmt.Errorf("%w: writing %s: %w", ErrTransport, channel, err)
		}
		written += n
	}

	return nil
}

// Disconnect stops the reader and closes the port.
func (s *Serial) Disconnect(channel string) error {
	s.mu.Lock()
	c, ok := s.conns[channel]
	delete(s.conns, channel)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, channel)
	}

	c.cancel()

	closeErr := c.port.Close()
	readErr := c.group.Wait()

	s.log.WithField("channel", channel).Info("serial port disconnected")

	if closeErr != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrTransport, channel, closeErr)
	}

	return readErr
}

// Close disconnects every channel.
func (s *Serial) Close() error {
	s.mu.RLock()
	channels := make([]string, 0, len(s.conns))
	for ch := range s.conns {
		channels = append(channels, ch)
	}
	s.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if err := s.Disconnect(ch); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func modeFor(p Params) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
	}

	if mode.BaudRate == 0 {
		mode.BaudRate = 115200
	}

	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch p.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unknown parity %q", p.Parity)
	}

	switch p.StopBits {
	case "", "1":
		mode.StopBits = serial.OneStopBit
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unknown stop bits %q", p.StopBits)
	}

	return mode, nil
}

// PortInfo describes one local serial port.
type PortInfo struct {
	Name         string
	USB          bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts enumerates local serial ports.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}

	return ports, nil
}

var _ Transport = (*Serial)(nil)
