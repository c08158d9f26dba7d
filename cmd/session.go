package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethpandaops/atrunner/internal/bus"
	"github.com/ethpandaops/atrunner/internal/config"
	"github.com/ethpandaops/atrunner/internal/engine"
	"github.com/ethpandaops/atrunner/internal/interactive"
	"github.com/ethpandaops/atrunner/internal/metrics"
	"github.com/ethpandaops/atrunner/internal/output"
	"github.com/ethpandaops/atrunner/internal/policy"
	"github.com/ethpandaops/atrunner/internal/router"
	"github.com/ethpandaops/atrunner/internal/runner"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/ethpandaops/atrunner/internal/transport"
	"github.com/ethpandaops/atrunner/internal/urc"
	"github.com/sirupsen/logrus"
)

var errUnknownPromptMode = errors.New("unknown --on-prompt mode")

// Prompt modes accepted by --on-prompt.
const (
	promptAsk      = "ask"
	promptStop     = "stop"
	promptContinue = "continue"
)

// sessionOptions are the per-invocation overrides of the loaded config.
type sessionOptions struct {
	Port     string
	BaudRate int
	OnPrompt string
	Echo     bool
	Verbose  bool
}

// session wires one serial channel to a ready orchestrator.
type session struct {
	log          logrus.FieldLogger
	cfg          *config.Config
	transport    *transport.Serial
	router       *router.Router
	bus          *bus.Bus
	matcher      *urc.Matcher
	orchestrator *engine.Orchestrator
	metrics      metrics.Collector
	formatter    output.Formatter
	channel      string

	unsubscribe func()
}

func newDecider(mode string, prompter *interactive.Prompter) (policy.Decider, error) {
	switch mode {
	case "", promptAsk:
		return interactive.NewPromptDecider(prompter), nil
	case promptStop:
		return policy.StaticDecider(policy.DecisionStop), nil
	case promptContinue:
		return policy.StaticDecider(policy.DecisionContinue), nil
	default:
		return nil, fmt.Errorf("%w: %q (must be one of: ask, stop, continue)", errUnknownPromptMode, mode)
	}
}

// openSession connects the configured port and starts the engine. Close
// must be called on success.
func openSession(ctx context.Context, log logrus.FieldLogger, cfg *config.Config, opts sessionOptions) (*session, error) {
	if opts.Port != "" {
		cfg.Port = opts.Port
	}

	if opts.BaudRate > 0 {
		cfg.BaudRate = opts.BaudRate
	}

	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: no serial port (set %s or pass --port)", config.ErrInvalidConfig, config.EnvPort)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prompter := interactive.NewPrompter(os.Stdin, os.Stdout)

	decider, err := newDecider(opts.OnPrompt, prompter)
	if err != nil {
		return nil, err
	}

	s := &session{
		log:       log,
		cfg:       cfg,
		transport: transport.NewSerial(log),
		router:    router.New(log),
		bus:       bus.New(bus.DefaultCapacity),
		metrics:   metrics.NewCollector(log),
		formatter: output.NewFormatter(log, os.Stdout, opts.Verbose),
		channel:   config.DefaultChannel,
	}

	var sink io.Writer
	if opts.Echo {
		sink = os.Stdout
	}

	if err := s.router.RegisterChannel(s.channel, sink); err != nil {
		return nil, fmt.Errorf("registering channel: %w", err)
	}

	s.transport.OnReceive(func(channel string, chunk []byte) {
		if err := s.router.Route(channel, chunk); err != nil {
			s.log.WithError(err).WithField("channel", channel).Debug("dropping chunk")
		}
	})

	// Traffic is printed only in verbose mode; warnings and errors always.
	s.unsubscribe = s.bus.Subscribe(func(msg bus.Message) {
		if opts.Verbose || msg.Kind == bus.KindWarn || msg.Kind == bus.KindError {
			s.formatter.PrintMessage(msg)
		}
	})

	s.matcher = urc.NewMatcher(log, s.bus, nil)
	s.orchestrator = engine.NewOrchestrator(&engine.Config{
		Logger: log,
		Runner: runner.New(runner.Config{
			Logger:         log,
			Router:         s.router,
			Sender:         s.transport,
			Bus:            s.bus,
			DefaultTimeout: cfg.DefaultTimeout,
		}),
		Router:  s.router,
		Matcher: s.matcher,
		Bus:     s.bus,
		Metrics: s.metrics,
		Decider: decider,
		Channel: s.channel,
	})

	if err := s.metrics.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting metrics collector: %w", err)
	}

	if err := s.orchestrator.Start(ctx); err != nil {
		_ = s.metrics.Stop()
		return nil, fmt.Errorf("starting orchestrator: %w", err)
	}

	if _, err := s.transport.Connect(ctx, transport.Params{
		Channel:  s.channel,
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
	}); err != nil {
		_ = s.orchestrator.Stop()
		_ = s.metrics.Stop()
		return nil, fmt.Errorf("connecting: %w", err)
	}

	return s, nil
}

// registerTriggers binds the plan's URC triggers.
func (s *session) registerTriggers(triggers []*testcase.Trigger) error {
	if len(triggers) == 0 {
		return nil
	}

	if err := s.orchestrator.RegisterTriggers(triggers); err != nil {
		return fmt.Errorf("registering triggers: %w", err)
	}

	return nil
}

// Close disconnects the port and stops the engine.
func (s *session) Close() error {
	var errs []error

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing transport: %w", err))
	}

	s.router.UnregisterChannel(s.channel)

	if err := s.orchestrator.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping orchestrator: %w", err))
	}

	if err := s.metrics.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping metrics collector: %w", err))
	}

	return errors.Join(errs...)
}
