// Package runner executes a single command against a channel: send, wait for
// the expected response or a timeout, retry, extract parameters.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethpandaops/atrunner/internal/bus"
	"github.com/ethpandaops/atrunner/internal/params"
	"github.com/ethpandaops/atrunner/internal/router"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout applies to commands that do not set one.
const DefaultTimeout = time.Second

var (
	// ErrTimeout means nothing arrived before the deadline.
	ErrTimeout = errors.New("timeout waiting for response")
	// ErrPatternMismatch means bytes arrived but did not match, or the
	// command's fail pattern was seen.
	ErrPatternMismatch = errors.New("response did not match")
	// ErrTransportFault means a send failed. It aborts the top-level run.
	ErrTransportFault = errors.New("transport fault")
)

// Kind classifies an outcome for reporting.
type Kind string

// Outcome kinds.
const (
	KindSuccess         Kind = "success"
	KindTimeout         Kind = "timeout"
	KindPatternMismatch Kind = "pattern_mismatch"
	KindTransportFault  Kind = "transport_fault"
	KindCanceled        Kind = "canceled"
)

// Sender writes bytes to a channel.
type Sender interface {
	Send(ctx context.Context, channel string, data []byte) error
}

// Outcome is the result of running one command.
type Outcome struct {
	Success  bool
	Kind     Kind
	Err      error
	Resolved string
	// Response holds the bytes judged by the final attempt.
	Response []byte
	// Window holds everything captured across all attempts.
	Window   []byte

	ResponseTime time.Duration
	Attempts     int
}

// Fatal reports whether the outcome must abort the top-level run.
func (o Outcome) Fatal() bool {
	return o.Kind == KindTransportFault || o.Kind == KindCanceled
}

// Config configures a Runner.
type Config struct {
	Logger         logrus.FieldLogger
	Router         *router.Router
	Sender         Sender
	Bus            *bus.Bus
	DefaultTimeout time.Duration
}

// Runner executes commands. It is safe for concurrent use; sends to the same
// channel are serialized through the router's capture window.
type Runner struct {
	log            logrus.FieldLogger
	router         *router.Router
	sender         Sender
	bus            *bus.Bus
	defaultTimeout time.Duration
}

// New creates a Runner.
func New(cfg Config) *Runner {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Runner{
		log:            cfg.Logger.WithField("component", "command_runner"),
		router:         cfg.Router,
		sender:         cfg.Sender,
		bus:            cfg.Bus,
		defaultTimeout: timeout,
	}
}

type matcher struct {
	mode   testcase.MatchMode
	expect string
	fail   string
	re     *regexp.Regexp
}

func newMatcher(cmd *testcase.Command, values map[string]string) (*matcher, error) {
	m := &matcher{
		mode:   cmd.MatchMode,
		expect: params.Resolve(cmd.ExpectedResponse, values),
		fail:   cmd.FailResponse,
	}

	if m.mode == testcase.MatchRegex && m.expect != "" {
		re, err := regexp.Compile(m.expect)
		if err != nil {
			return nil, fmt.Errorf("compiling expected pattern: %w", err)
		}
		m.re = re
	}

	return m, nil
}

// check returns true when the buffer satisfies the expectation and an error
// when the fail pattern was seen.
func (m *matcher) check(buf []byte) (bool, error) {
	if m.fail != "" && bytes.Contains(buf, []byte(m.fail)) {
		return false, fmt.Errorf("%w: fail pattern %q seen", ErrPatternMismatch, m.fail)
	}

	switch m.mode {
	case testcase.MatchExact:
		return strings.TrimSpace(string(buf)) == m.expect, nil
	case testcase.MatchRegex:
		return m.re.Match(buf), nil
	default:
		return bytes.Contains(buf, []byte(m.expect)), nil
	}
}

// Run executes cmd on channel using ectx for placeholder values and
// extracted parameters.
func (r *Runner) Run(ctx context.Context, channel string, cmd *testcase.Command, ectx *testcase.ExecutionContext) Outcome {
	values := ectx.Params()
	resolved := params.Resolve(cmd.Text, values)

	log := r.log.WithFields(logrus.Fields{
		"channel": channel,
		"command": resolved,
	})

	outcome := Outcome{Resolved: resolved}
	cmd.Status = testcase.CommandRunning
	cmd.Attempts = 0

	m, err := newMatcher(cmd, values)
	if err != nil {
		outcome.Kind = KindPatternMismatch
		outcome.Err = fmt.Errorf("%w: %w", ErrPatternMismatch, err)
		cmd.Status = testcase.CommandFailed

		return outcome
	}

	capture, err := r.router.AcquireCapture(ctx, channel)
	if err != nil {
		cmd.Status = testcase.CommandFailed
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcome.Kind = KindCanceled
			outcome.Err = ctxErr

			return outcome
		}

		outcome.Kind = KindTransportFault
		outcome.Err = fmt.Errorf("%w: %w", ErrTransportFault, err)

		return outcome
	}

	outcome = r.attempt(ctx, log, channel, cmd, m, capture, resolved)

	if window, err := r.router.CloseCapture(channel); err != nil {
		log.WithError(err).Warn("closing capture window")
	} else {
		outcome.Window = window
	}

	if outcome.Success {
		cmd.Status = testcase.CommandSuccess
		r.extract(log, channel, cmd, outcome.Response, ectx)
	} else {
		cmd.Status = testcase.CommandFailed
	}

	if outcome.Fatal() {
		return outcome
	}

	if err := sleep(ctx, cmd.WaitTime); err != nil {
		outcome.Kind = KindCanceled
		outcome.Success = false
		outcome.Err = err
		cmd.Status = testcase.CommandFailed
	}

	return outcome
}

func (r *Runner) attempt(
	ctx context.Context,
	log logrus.FieldLogger,
	channel string,
	cmd *testcase.Command,
	m *matcher,
	capture *router.Capture,
	resolved string,
) Outcome {
	var (
		outcome  = Outcome{Resolved: resolved}
		attempts = cmd.MaxAttempts
		timeout  = cmd.Timeout
		payload  = []byte(resolved + cmd.LineEnding)
	)

	if attempts < 1 {
		attempts = 1
	}

	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		mark := capture.Mark()
		cmd.Attempts = attempt
		outcome.Attempts = attempt

		if attempt > 1 {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"max":     attempts,
				"error":   outcome.Err,
			}).Debug("retrying command")
			r.publish(bus.KindDebug, channel, fmt.Sprintf("retry %d/%d: %s (%v)", attempt, attempts, resolved, outcome.Err))
		}

		start := time.Now()

		if err := r.sender.Send(ctx, channel, payload); err != nil {
			outcome.Kind = KindTransportFault
			outcome.Err = fmt.Errorf("%w: sending %q: %w", ErrTransportFault, resolved, err)
			outcome.ResponseTime = time.Since(start)
			r.publish(bus.KindError, channel, outcome.Err.Error())

			return outcome
		}

		r.publish(bus.KindTx, channel, resolved)

		if m.expect == "" {
			outcome.Success = true
			outcome.Kind = KindSuccess
			outcome.Err = nil
			outcome.ResponseTime = time.Since(start)

			return outcome
		}

		ok, err := wait(ctx, capture, mark, m, timeout)
		outcome.ResponseTime = time.Since(start)
		outcome.Response = capture.Since(mark)

		if len(outcome.Response) > 0 {
			r.publish(bus.KindRx, channel, strings.TrimSpace(string(outcome.Response)))
		}

		if ok {
			outcome.Success = true
			outcome.Kind = KindSuccess
			outcome.Err = nil

			return outcome
		}

		outcome.Err = err
		switch {
		case errors.Is(err, ErrTimeout):
			outcome.Kind = KindTimeout
		case errors.Is(err, ErrPatternMismatch):
			outcome.Kind = KindPatternMismatch
		default:
			outcome.Kind = KindCanceled
			return outcome
		}
	}

	log.WithFields(logrus.Fields{
		"attempts": outcome.Attempts,
		"kind":     outcome.Kind,
	}).WithError(outcome.Err).Debug("command failed")

	return outcome
}

// wait blocks until the capture satisfies m, the fail pattern is seen, the
// timeout elapses, or ctx is done.
func wait(ctx context.Context, capture *router.Capture, mark int, m *matcher, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		ok, err := m.check(capture.Since(mark))
		if err != nil {
			return false, err
		}

		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-capture.Notify():
		case <-timer.C:
			buf := capture.Since(mark)
			if ok, err := m.check(buf); ok || err != nil {
				return ok, err
			}

			if len(buf) == 0 {
				return false, fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}

			return false, fmt.Errorf("%w: expected %q, got %q", ErrPatternMismatch, m.expect, strings.TrimSpace(string(buf)))
		}
	}
}

func (r *Runner) extract(log logrus.FieldLogger, channel string, cmd *testcase.Command, response []byte, ectx *testcase.ExecutionContext) {
	if cmd.ExtractPattern == "" {
		return
	}

	values, err := params.Extract(cmd.ExtractPattern, response, ectx)
	if err != nil {
		log.WithError(err).Warn("parameter extraction failed")
		r.publish(bus.KindWarn, channel, fmt.Sprintf("extract from %q: %v", cmd.Text, err))

		return
	}

	log.WithField("params", values).Debug("extracted parameters")
}

func (r *Runner) publish(kind bus.Kind, channel, text string) {
	if r.bus == nil {
		return
	}

	r.bus.Publish(bus.Message{Kind: kind, Channel: channel, Text: text})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
