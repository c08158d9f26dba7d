// Package urc detects unsolicited result codes in the inbound byte stream
// and dispatches the actions of their triggers.
package urc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ethpandaops/atrunner/internal/bus"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// WindowSize bounds the bytes retained per channel for matching patterns
	// that straddle chunk boundaries.
	WindowSize = 4096

	defaultQueueSize = 64
)

var (
	// ErrDuplicateTrigger is returned when a trigger id is registered twice.
	ErrDuplicateTrigger = errors.New("trigger already registered")
	// ErrInvalidTrigger is returned for a trigger without id or with a bad pattern.
	ErrInvalidTrigger = errors.New("invalid trigger")

	errAlreadyStarted = errors.New("matcher already started")
)

// Firing is one trigger match handed to the action handler.
type Firing struct {
	Trigger *testcase.Trigger
	Channel string
	Match   string
	Context *testcase.ExecutionContext
	Time    time.Time
}

// ActionHandler runs the actions of a fired trigger.
type ActionHandler func(ctx context.Context, f Firing) error

type compiledTrigger struct {
	trigger *testcase.Trigger
	re      *regexp.Regexp
}

// Matcher scans routed bytes for registered trigger patterns.
type Matcher struct {
	log     logrus.FieldLogger
	bus     *bus.Bus
	handler ActionHandler

	mu       sync.Mutex
	triggers []compiledTrigger
	windows  map[string][]byte

	queue  chan Firing
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewMatcher creates a matcher. The bus may be nil.
func NewMatcher(log logrus.FieldLogger, b *bus.Bus, handler ActionHandler) *Matcher {
	return &Matcher{
		log:     log.WithField("component", "urc_matcher"),
		bus:     b,
		handler: handler,
		windows: make(map[string][]byte),
		queue:   make(chan Firing, defaultQueueSize),
	}
}

// SetHandler replaces the action handler. It must be called before Start.
func (m *Matcher) SetHandler(handler ActionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = handler
}

// RegisterTrigger compiles and adds a trigger.
func (m *Matcher) RegisterTrigger(t *testcase.Trigger) error {
	if t == nil || t.ID == "" || t.Pattern == "" {
		return fmt.Errorf("%w: id and pattern are required", ErrInvalidTrigger)
	}

	re, err := regexp.Compile(t.Pattern)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidTrigger, t.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.triggers {
		if existing.trigger.ID == t.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateTrigger, t.ID)
		}
	}

	m.triggers = append(m.triggers, compiledTrigger{trigger: t, re: re})

	m.log.WithFields(logrus.Fields{
		"trigger": t.ID,
		"pattern": t.Pattern,
	}).Debug("registered trigger")

	return nil
}

// Triggers returns the registered triggers in registration order.
func (m *Matcher) Triggers() []*testcase.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*testcase.Trigger, len(m.triggers))
	for i, ct := range m.triggers {
		out[i] = ct.trigger
	}

	return out
}

// Reset drops the scan windows of every channel.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windows = make(map[string][]byte)
}

// ResetChannel drops the scan window of one channel.
func (m *Matcher) ResetChannel(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, channel)
}

// Start launches the worker that drains fired triggers.
func (m *Matcher) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.group != nil {
		return errAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	m.cancel = cancel
	m.group = g

	g.Go(func() error {
		return m.work(gctx)
	})

	m.log.Debug("urc matcher started")

	return nil
}

// Stop stops the worker and waits for an in-flight action to finish.
func (m *Matcher) Stop() error {
	m.mu.Lock()
	cancel, g := m.cancel, m.group
	m.cancel, m.group = nil, nil
	m.mu.Unlock()

	if g == nil {
		return nil
	}

	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stopping urc worker: %w", err)
	}

	m.log.Debug("urc matcher stopped")

	return nil
}

func (m *Matcher) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-m.queue:
			m.dispatch(ctx, f)
		}
	}
}

func (m *Matcher) dispatch(ctx context.Context, f Firing) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return
	}

	if err := handler(ctx, f); err != nil {
		m.log.WithError(err).WithField("trigger", f.Trigger.ID).Warn("urc action failed")
		m.publish(bus.KindWarn, f.Channel, fmt.Sprintf("URC %s action failed: %v", f.Trigger.ID, err))
	}
}

// OnData appends chunk to the channel's window and fires every trigger that
// matches and has not fired yet during the run that owns ectx.
func (m *Matcher) OnData(channel string, chunk []byte, ectx *testcase.ExecutionContext) {
	if ectx == nil || len(chunk) == 0 {
		return
	}

	m.mu.Lock()
	window := append(m.windows[channel], chunk...)
	if len(window) > WindowSize {
		window = append([]byte(nil), window[len(window)-WindowSize:]...)
	}
	m.windows[channel] = window

	var fired []Firing
	for _, ct := range m.triggers {
		if ct.trigger.Channel != "" && ct.trigger.Channel != channel {
			continue
		}

		if ectx.Triggered(ct.trigger.ID) {
			continue
		}

		loc := ct.re.FindIndex(window)
		if loc == nil {
			continue
		}

		if !ectx.MarkTriggered(ct.trigger.ID) {
			continue
		}

		fired = append(fired, Firing{
			Trigger: ct.trigger,
			Channel: channel,
			Match:   string(window[loc[0]:loc[1]]),
			Context: ectx,
			Time:    time.Now(),
		})
	}
	m.mu.Unlock()

	for _, f := range fired {
		m.log.WithFields(logrus.Fields{
			"trigger": f.Trigger.ID,
			"channel": channel,
		}).Info("urc matched")
		m.publish(bus.KindInfo, channel, fmt.Sprintf("URC %s matched: %q", f.Trigger.ID, f.Match))

		select {
		case m.queue <- f:
		default:
			m.log.WithField("trigger", f.Trigger.ID).Warn("urc queue full, dropping firing")
		}
	}
}

func (m *Matcher) publish(kind bus.Kind, channel, text string) {
	if m.bus == nil {
		return
	}

	m.bus.Publish(bus.Message{Kind: kind, Channel: channel, Text: text})
}
