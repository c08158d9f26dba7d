// Package router dispatches inbound bytes along two paths: every chunk goes
// to the channel's display sink, and while a capture window is open the same
// chunk is also buffered for command matching.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownChannel is returned for a channel that was never registered.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrChannelExists is returned when registering a channel twice.
	ErrChannelExists = errors.New("channel already registered")
	// ErrCaptureActive is returned when a capture window is already open.
	ErrCaptureActive = errors.New("capture window already open")
	// ErrNoCapture is returned when closing a channel with no open window.
	ErrNoCapture = errors.New("no capture window open")
)

// Listener observes every routed chunk on every channel.
type Listener func(channelID string, chunk []byte)

type channel struct {
	sink    io.Writer
	capture *Capture
	// free holds a single token while no capture window is open.
	free chan struct{}
	// gone is closed when the channel is unregistered.
	gone chan struct{}
}

// Router owns the per-channel display sinks and capture windows.
type Router struct {
	log logrus.FieldLogger

	mu        sync.Mutex
	channels  map[string]*channel
	listeners map[int]Listener
	nextID    int
}

// New creates an empty router.
func New(log logrus.FieldLogger) *Router {
	return &Router{
		log:       log.WithField("component", "byte_router"),
		channels:  make(map[string]*channel),
		listeners: make(map[int]Listener),
	}
}

// RegisterChannel attaches a display sink to a channel. A nil sink discards.
func (r *Router) RegisterChannel(id string, sink io.Writer) error {
	if sink == nil {
		sink = io.Discard
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[id]; ok {
		return fmt.Errorf("%w: %s", ErrChannelExists, id)
	}

	ch := &channel{sink: sink, free: make(chan struct{}, 1), gone: make(chan struct{})}
	ch.free <- struct{}{}
	r.channels[id] = ch

	r.log.WithField("channel", id).Debug("channel registered")

	return nil
}

// UnregisterChannel removes a channel and discards any open capture.
// Writers blocked in AcquireCapture return ErrUnknownChannel.
func (r *Router) UnregisterChannel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[id]
	if !ok {
		return
	}

	delete(r.channels, id)
	ch.capture = nil
	close(ch.gone)

	r.log.WithField("channel", id).Debug("channel unregistered")
}

// OpenCapture opens a capture window without waiting. It fails with
// ErrCaptureActive while another window is open on the channel.
func (r *Router) OpenCapture(id string) (*Capture, error) {
	ch, err := r.channel(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-ch.free:
		return r.open(id, ch), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrCaptureActive, id)
	}
}

// AcquireCapture waits until the channel has no open window and opens one.
// All writers to a channel go through here, which serializes their sends.
func (r *Router) AcquireCapture(ctx context.Context, id string) (*Capture, error) {
	ch, err := r.channel(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-ch.free:
		return r.open(id, ch), nil
	case <-ch.gone:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Router) open(id string, ch *channel) *Capture {
	capture := newCapture()

	r.mu.Lock()
	ch.capture = capture
	r.mu.Unlock()

	r.log.WithField("channel", id).Debug("capture window opened")

	return capture
}

// CloseCapture closes the channel's window and returns everything captured
// since it opened. Later chunks are not attributed to it.
func (r *Router) CloseCapture(id string) ([]byte, error) {
	r.mu.Lock()
	ch, ok := r.channels[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}

	capture := ch.capture
	ch.capture = nil
	r.mu.Unlock()

	if capture == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCapture, id)
	}

	data := capture.drain()
	ch.free <- struct{}{}

	r.log.WithFields(logrus.Fields{
		"channel": id,
		"bytes":   len(data),
	}).Debug("capture window closed")

	return data, nil
}

// Route forwards chunk to the channel's display sink, then appends it to the
// open capture window if any, then notifies listeners.
func (r *Router) Route(id string, chunk []byte) error {
	ch, err := r.channel(id)
	if err != nil {
		return err
	}

	if _, err := ch.sink.Write(chunk); err != nil {
		r.log.WithError(err).WithField("channel", id).Warn("display sink write failed")
	}

	r.mu.Lock()
	capture := ch.capture
	if capture != nil {
		capture.write(chunk)
	}

	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	if capture != nil {
		capture.signal(chunk)
	}

	for _, l := range listeners {
		l(id, chunk)
	}

	return nil
}

// Subscribe registers a listener for every chunk on every channel and
// returns a function that removes it.
func (r *Router) Subscribe(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.listeners[id] = l

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Capturing reports whether a capture window is open on the channel.
func (r *Router) Capturing(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[id]

	return ok && ch.capture != nil
}

func (r *Router) channel(id string) (*channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}

	return ch, nil
}
