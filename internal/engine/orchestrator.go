// Package engine drives a test case tree through the command runner,
// applying failure policy, repeat counts, pause and resume, and URC
// bindings, and assembles one ExecutionResult per top-level run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/atrunner/internal/bus"
	"github.com/ethpandaops/atrunner/internal/metrics"
	"github.com/ethpandaops/atrunner/internal/policy"
	"github.com/ethpandaops/atrunner/internal/router"
	"github.com/ethpandaops/atrunner/internal/runner"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/ethpandaops/atrunner/internal/urc"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyRunning is returned when a case in the tree is already part
	// of an active run.
	ErrAlreadyRunning = errors.New("case already running")
	// ErrNotPaused is returned by Resume for a case with no paused run.
	ErrNotPaused = errors.New("case has no paused run")
	// ErrPausedElsewhere is returned by Run for a case inside the tree of a
	// paused run rooted at another case. Resume that root instead.
	ErrPausedElsewhere = errors.New("case belongs to a paused run")

	errNilCase   = errors.New("test case is nil")
	errPaused    = errors.New("run paused")
	errPanicked  = errors.New("unexpected panic")
	errNoChannel = errors.New("no channel configured")
)

// CommandRunner executes one command.
type CommandRunner interface {
	Run(ctx context.Context, channel string, cmd *testcase.Command, ectx *testcase.ExecutionContext) runner.Outcome
}

// Config contains the orchestrator's collaborators. Matcher, Router, Bus,
// Metrics and Decider are optional.
type Config struct {
	Logger  logrus.FieldLogger
	Runner  CommandRunner
	Router  *router.Router
	Matcher *urc.Matcher
	Bus     *bus.Bus
	Metrics metrics.Collector
	Decider policy.Decider
	Channel string
}

// Orchestrator runs test case trees.
type Orchestrator struct {
	log     logrus.FieldLogger
	runner  CommandRunner
	router  *router.Router
	matcher *urc.Matcher
	bus     *bus.Bus
	metrics metrics.Collector
	decider policy.Decider
	channel string

	mu sync.Mutex
	// registry maps every case id of an active run to that run.
	registry map[string]*run
	// paused holds suspended runs by root case id.
	paused map[string]*run
}

type run struct {
	id      string
	root    *testcase.TestCase
	token   *PauseToken
	ectx    *testcase.ExecutionContext
	result  *testcase.ExecutionResult
	channel string
}

// faultError marks a failure that aborts the whole run.
type faultError struct {
	caseID  string
	command string
	err     error
}

func (e *faultError) Error() string {
	return e.err.Error()
}

func (e *faultError) Unwrap() error {
	return e.err
}

// NewOrchestrator creates an orchestrator and installs its URC action
// handler on the matcher.
func NewOrchestrator(cfg *Config) *Orchestrator {
	o := &Orchestrator{
		log:      cfg.Logger.WithField("component", "case_orchestrator"),
		runner:   cfg.Runner,
		router:   cfg.Router,
		matcher:  cfg.Matcher,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		decider:  cfg.Decider,
		channel:  cfg.Channel,
		registry: make(map[string]*run),
		paused:   make(map[string]*run),
	}

	if o.matcher != nil {
		o.matcher.SetHandler(o.handleFiring)
	}

	return o
}

// Start starts the URC matcher worker.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.matcher == nil {
		return nil
	}

	if err := o.matcher.Start(ctx); err != nil {
		return fmt.Errorf("starting urc matcher: %w", err)
	}

	return nil
}

// Stop stops the URC matcher worker.
func (o *Orchestrator) Stop() error {
	if o.matcher == nil {
		return nil
	}

	return o.matcher.Stop()
}

// Run executes tc as a new top-level run. A nil token gets a fresh one.
// Paused runs rooted at tc or inside its tree are discarded. A tc that sits
// inside another case's paused run is rejected with ErrPausedElsewhere.
func (o *Orchestrator) Run(ctx context.Context, tc *testcase.TestCase, token *PauseToken) (*testcase.ExecutionResult, error) {
	if tc == nil {
		return nil, errNilCase
	}

	if o.channel == "" {
		return nil, errNoChannel
	}

	if token == nil {
		token = NewPauseToken()
	}

	rn := &run{
		id:      uuid.NewString(),
		root:    tc,
		token:   token,
		ectx:    testcase.NewExecutionContext(),
		channel: o.channel,
	}

	if rootID := o.pausedOwner(tc); rootID != "" {
		return nil, fmt.Errorf("%w: %s is paused under %s", ErrPausedElsewhere, tc.ID, rootID)
	}

	if err := o.register(rn); err != nil {
		return nil, err
	}

	o.discardPaused(tc)

	rn.ectx.Reset()
	tc.ResetRunState()

	if o.matcher != nil {
		o.matcher.ResetChannel(rn.channel)
	}

	rn.result = &testcase.ExecutionResult{
		RunID:     rn.id,
		CaseID:    tc.ID,
		CaseName:  tc.Name,
		Status:    testcase.CaseRunning,
		StartTime: time.Now(),
		Failures:  make([]testcase.FailureRecord, 0),
	}

	o.log.WithFields(logrus.Fields{
		"run_id":  rn.id,
		"case_id": tc.ID,
	}).Info("starting run")
	o.publish(bus.KindInfo, tc.ID, fmt.Sprintf("run %s started: %s", rn.id, tc.Name))

	return o.execute(ctx, rn), nil
}

// Resume continues a paused run of caseID after its last completed command,
// keeping the run's context and accumulated counts.
func (o *Orchestrator) Resume(ctx context.Context, caseID string, token *PauseToken) (*testcase.ExecutionResult, error) {
	o.mu.Lock()
	rn, ok := o.paused[caseID]
	o.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPaused, caseID)
	}

	if token == nil {
		token = NewPauseToken()
	}

	rn.token = token

	if err := o.register(rn); err != nil {
		return nil, err
	}

	o.mu.Lock()
	delete(o.paused, caseID)
	o.mu.Unlock()

	rn.result.Paused = false
	rn.result.Status = testcase.CaseRunning

	o.log.WithFields(logrus.Fields{
		"run_id":  rn.id,
		"case_id": caseID,
	}).Info("resuming run")
	o.publish(bus.KindInfo, caseID, fmt.Sprintf("run %s resumed", rn.id))

	return o.execute(ctx, rn), nil
}

// pausedOwner returns the root id of a paused run that contains tc without
// being rooted at it, or "" if there is none.
func (o *Orchestrator) pausedOwner(tc *testcase.TestCase) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	for rootID, rn := range o.paused {
		if rootID != tc.ID && rn.root.Find(tc.ID) != nil {
			return rootID
		}
	}

	return ""
}

// discardPaused drops every paused run rooted inside tc's tree, since
// resetting tc clears their cursors.
func (o *Orchestrator) discardPaused(tc *testcase.TestCase) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for rootID, rn := range o.paused {
		if tc.Find(rootID) == nil {
			continue
		}

		delete(o.paused, rootID)

		o.log.WithFields(logrus.Fields{
			"run_id":  rn.id,
			"case_id": rootID,
		}).Info("discarded paused run")
	}
}

// Pause revokes the token of the run that contains caseID. It returns false
// when no active run contains it.
func (o *Orchestrator) Pause(caseID string) bool {
	o.mu.Lock()
	rn, ok := o.registry[caseID]
	o.mu.Unlock()

	if !ok {
		return false
	}

	rn.token.Revoke()

	o.log.WithFields(logrus.Fields{
		"run_id":  rn.id,
		"case_id": caseID,
	}).Info("pause requested")

	return true
}

// IsRunning reports whether caseID belongs to an active run.
func (o *Orchestrator) IsRunning(caseID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.registry[caseID]

	return ok
}

// IsPaused reports whether caseID is the root of a paused run.
func (o *Orchestrator) IsPaused(caseID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.paused[caseID]

	return ok
}

func (o *Orchestrator) register(rn *run) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var conflict string
	rn.root.Walk(func(c *testcase.TestCase) bool {
		if _, ok := o.registry[c.ID]; ok {
			conflict = c.ID
			return false
		}
		return true
	})

	if conflict != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, conflict)
	}

	rn.root.Walk(func(c *testcase.TestCase) bool {
		o.registry[c.ID] = rn
		return true
	})

	return nil
}

func (o *Orchestrator) unregister(rn *run) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rn.root.Walk(func(c *testcase.TestCase) bool {
		if o.registry[c.ID] == rn {
			delete(o.registry, c.ID)
		}
		return true
	})
}

// execute traverses the tree and finalizes the result. It always returns a
// result.
func (o *Orchestrator) execute(ctx context.Context, rn *run) *testcase.ExecutionResult {
	defer o.unregister(rn)

	if o.matcher != nil && o.router != nil {
		unsubscribe := o.router.Subscribe(func(channel string, chunk []byte) {
			if channel == rn.channel {
				o.matcher.OnData(channel, chunk, rn.ectx)
			}
		})
		defer unsubscribe()
	}

	err := o.traverse(ctx, rn)

	result := rn.result
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.TotalCommands = result.PassedCommands + result.FailedCommands

	log := o.log.WithFields(logrus.Fields{
		"run_id":  rn.id,
		"case_id": rn.root.ID,
	})

	var fault *faultError
	if err != nil && !errors.Is(err, errPaused) && !errors.As(err, &fault) {
		fault = &faultError{caseID: rn.root.ID, err: err}
	}

	switch {
	case err == nil:
		result.Status = rn.root.Status
		clearCursors(rn.root)
	case errors.Is(err, errPaused):
		revertRunning(rn.root)
		result.Status = testcase.CasePending
		result.Paused = true

		o.mu.Lock()
		o.paused[rn.root.ID] = rn
		o.mu.Unlock()

		log.Info("run paused")
		o.publish(bus.KindWarn, rn.root.ID, fmt.Sprintf("run %s paused", rn.id))
	default:
		failRunning(rn.root)
		rn.root.Status = testcase.CaseFailed
		result.Status = testcase.CaseFailed
		result.Errors++
		result.Failures = append(result.Failures, testcase.FailureRecord{
			CommandIndex: testcase.SyntheticIndex,
			CaseID:       fault.caseID,
			Command:      fault.command,
			Error:        fault.Error(),
			Severity:     testcase.SeverityError,
			Timestamp:    time.Now(),
		})

		log.WithError(err).Error("run aborted")
		o.publish(bus.KindError, rn.root.ID, fmt.Sprintf("run %s aborted: %v", rn.id, err))
	}

	if o.metrics != nil {
		o.metrics.RecordRun(metrics.RunMetric{
			RunID:     rn.id,
			CaseID:    rn.root.ID,
			Status:    string(result.Status),
			Passed:    result.PassedCommands,
			Failed:    result.FailedCommands,
			Warnings:  result.Warnings,
			Errors:    result.Errors,
			Paused:    result.Paused,
			Duration:  result.Duration,
			Timestamp: result.EndTime,
		})
	}

	if !result.Paused {
		log.WithFields(logrus.Fields{
			"status":   result.Status,
			"passed":   result.PassedCommands,
			"failed":   result.FailedCommands,
			"duration": result.Duration,
		}).Info("run complete")
		o.publish(bus.KindInfo, rn.root.ID, fmt.Sprintf("run %s finished: %s", rn.id, result.Status))
	}

	return result.Clone()
}

// traverse turns a panic anywhere below it into a run fault.
func (o *Orchestrator) traverse(ctx context.Context, rn *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &faultError{
				caseID: rn.root.ID,
				err:    fmt.Errorf("%w: %v", errPanicked, p),
			}
		}
	}()

	_, err = o.runCase(ctx, rn, rn.root)

	return err
}

func (o *Orchestrator) publish(kind bus.Kind, caseID, text string) {
	if o.bus == nil {
		return
	}

	o.bus.Publish(bus.Message{Kind: kind, Channel: o.channel, CaseID: caseID, Text: text})
}

func revertRunning(root *testcase.TestCase) {
	root.Walk(func(c *testcase.TestCase) bool {
		if c.Running {
			c.Running = false
			c.Status = testcase.CasePending
			c.CurrentIndex = testcase.IdleIndex
		}
		return true
	})
}

func failRunning(root *testcase.TestCase) {
	root.Walk(func(c *testcase.TestCase) bool {
		if c.Running {
			c.Running = false
			c.Status = testcase.CaseFailed
			c.CurrentIndex = testcase.IdleIndex
		}
		c.SetCursor(nil)
		return true
	})
}

func clearCursors(root *testcase.TestCase) {
	root.Walk(func(c *testcase.TestCase) bool {
		c.SetCursor(nil)
		return true
	})
}
