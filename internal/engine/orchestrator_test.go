package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/atrunner/internal/bus"
	"github.com/ethpandaops/atrunner/internal/metrics"
	"github.com/ethpandaops/atrunner/internal/policy"
	"github.com/ethpandaops/atrunner/internal/router"
	"github.com/ethpandaops/atrunner/internal/runner"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/ethpandaops/atrunner/internal/urc"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "modem"

// device replies "OK" to every line except those scripted otherwise. Lines
// listed in silent get no reply at all.
type device struct {
	router *router.Router

	mu      sync.Mutex
	replies map[string]string
	silent  map[string]bool
	failOn  map[string]error
	onSend  func(line string)
	sent    []string
}

func (d *device) Send(_ context.Context, channel string, data []byte) error {
	line := strings.TrimRight(string(data), "\r\n")

	d.mu.Lock()
	if err := d.failOn[line]; err != nil {
		d.mu.Unlock()
		return err
	}

	d.sent = append(d.sent, line)
	reply, scripted := d.replies[line]
	silent := d.silent[line]
	hook := d.onSend
	d.mu.Unlock()

	if hook != nil {
		hook(line)
	}

	if silent {
		return nil
	}

	if !scripted {
		reply = "OK\r\n"
	}

	return d.router.Route(channel, []byte(reply))
}

func (d *device) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.sent...)
}

func (d *device) count(line string) int {
	n := 0
	for _, s := range d.Sent() {
		if s == line {
			n++
		}
	}

	return n
}

type harness struct {
	orch    *Orchestrator
	dev     *device
	bus     *bus.Bus
	metrics metrics.Collector
	matcher *urc.Matcher
}

func newHarness(t *testing.T, decider policy.Decider) *harness {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	rt := router.New(log)
	require.NoError(t, rt.RegisterChannel(testChannel, nil))

	dev := &device{
		router:  rt,
		replies: make(map[string]string),
		silent:  make(map[string]bool),
		failOn:  make(map[string]error),
	}

	b := bus.New(0)
	collector := metrics.NewCollector(log)
	matcher := urc.NewMatcher(log, b, nil)

	cmdRunner := runner.New(runner.Config{
		Logger:         log,
		Router:         rt,
		Sender:         dev,
		Bus:            b,
		DefaultTimeout: 30 * time.Millisecond,
	})

	orch := NewOrchestrator(&Config{
		Logger:  log,
		Runner:  cmdRunner,
		Router:  rt,
		Matcher: matcher,
		Bus:     b,
		Metrics: collector,
		Decider: decider,
		Channel: testChannel,
	})

	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, orch.Stop()) })

	return &harness{orch: orch, dev: dev, bus: b, metrics: collector, matcher: matcher}
}

func newCase(id string, strategy testcase.FailureStrategy, lines ...string) *testcase.TestCase {
	tc := testcase.NewTestCase(id, "case "+id)
	tc.Strategy = strategy
	for _, line := range lines {
		tc.Commands = append(tc.Commands, testcase.NewCommand(line, "OK"))
	}

	return tc
}

func TestRun_StopHaltsAtFirstFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.replies["AT+BAD"] = "ERROR\r\n"

	tc := newCase("stop", testcase.StrategyStop, "AT", "AT+BAD", "ATI")

	res, err := h.orch.Run(context.Background(), tc, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"AT", "AT+BAD"}, h.dev.Sent())
	assert.Equal(t, 1, res.PassedCommands)
	assert.Equal(t, 1, res.FailedCommands)
	assert.Equal(t, 2, res.TotalCommands)
	assert.Equal(t, testcase.CasePartial, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].CommandIndex)
	assert.Equal(t, testcase.CommandPending, tc.Commands[2].Status)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, h.orch.IsRunning("stop"))
}

func TestRun_StopHaltsAtFirstTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.silent["AT+CSQ"] = true

	tc := newCase("stop-timeout", testcase.StrategyStop, "AT", "AT+CSQ", "ATI")

	res, err := h.orch.Run(context.Background(), tc, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"AT", "AT+CSQ"}, h.dev.Sent())
	assert.Equal(t, 1, res.PassedCommands)
	assert.Equal(t, 1, res.FailedCommands)
	assert.Equal(t, testcase.CasePartial, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].CommandIndex)
	assert.Contains(t, res.Failures[0].Error, runner.ErrTimeout.Error())
	assert.Equal(t, testcase.CommandPending, tc.Commands[2].Status)
}

func TestRun_ContinueAttemptsEveryCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.replies["AT+BAD"] = "ERROR\r\n"

	tc := newCase("cont", testcase.StrategyContinue, "AT", "AT+BAD", "ATI")
	tc.Commands[1].Severity = testcase.SeverityWarning

	res, err := h.orch.Run(context.Background(), tc, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"AT", "AT+BAD", "ATI"}, h.dev.Sent())
	assert.Equal(t, 2, res.PassedCommands)
	assert.Equal(t, 1, res.FailedCommands)
	assert.Equal(t, 1, res.Warnings)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, testcase.SeverityWarning, res.Failures[0].Severity)
	assert.Equal(t, testcase.CasePartial, res.Status)
}

func TestRun_TerminalStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.replies["AT+BAD"] = "ERROR\r\n"

	failed, err := h.orch.Run(context.Background(), newCase("f", testcase.StrategyContinue, "AT+BAD", "AT+BAD"), nil)
	require.NoError(t, err)
	assert.Equal(t, testcase.CaseFailed, failed.Status)
	assert.False(t, failed.Success())

	ok, err := h.orch.Run(context.Background(), newCase("s", testcase.StrategyContinue, "AT"), nil)
	require.NoError(t, err)
	assert.Equal(t, testcase.CaseSuccess, ok.Status)
	assert.True(t, ok.Success())
}

func TestRun_RepeatMultipliesPassCount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	tc := newCase("rep", testcase.StrategyStop, "AT", "ATI")
	tc.Repeat = 3

	res, err := h.orch.Run(context.Background(), tc, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, res.PassedCommands)
	assert.Equal(t, 0, res.FailedCommands)
	assert.Equal(t, testcase.CaseSuccess, res.Status)
	assert.Equal(t, []string{"AT", "ATI", "AT", "ATI", "AT", "ATI"}, h.dev.Sent())
	assert.Len(t, h.metrics.GetCommandMetrics(), 6)
	require.Len(t, h.metrics.GetRunMetrics(), 1)
}

func TestRun_OnlySelectedCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	tc := newCase("sel", testcase.StrategyStop, "AT", "ATI", "AT+CSQ")
	tc.Commands[1].Selected = true

	res, err := h.orch.Run(context.Background(), tc, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ATI"}, h.dev.Sent())
	assert.Equal(t, 1, res.TotalCommands)
}

func TestPauseResume_ContinuesAfterLastCompletedCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	tc := newCase("pause", testcase.StrategyStop, "C0", "C1", "C2", "C3")

	h.dev.onSend = func(line string) {
		if line == "C1" {
			assert.True(t, h.orch.Pause("pause"))
		}
	}

	first, err := h.orch.Run(context.Background(), tc, nil)
	require.NoError(t, err)

	assert.True(t, first.Paused)
	assert.Equal(t, testcase.CasePending, first.Status)
	assert.Equal(t, testcase.CasePending, tc.Status)
	assert.Equal(t, 2, first.PassedCommands)
	assert.Equal(t, []string{"C0", "C1"}, h.dev.Sent())
	assert.Equal(t, testcase.CommandSuccess, tc.Commands[0].Status)
	assert.Equal(t, testcase.CommandSuccess, tc.Commands[1].Status)
	assert.Equal(t, testcase.CommandPending, tc.Commands[2].Status)
	assert.True(t, h.orch.IsPaused("pause"))
	assert.False(t, h.orch.IsRunning("pause"))

	h.dev.mu.Lock()
	h.dev.onSend = nil
	h.dev.mu.Unlock()

	second, err := h.orch.Resume(context.Background(), "pause", nil)
	require.NoError(t, err)

	assert.False(t, second.Paused)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, []string{"C0", "C1", "C2", "C3"}, h.dev.Sent())
	assert.Equal(t, 4, second.PassedCommands)
	assert.Equal(t, testcase.CaseSuccess, second.Status)
	assert.False(t, h.orch.IsPaused("pause"))

	_, err = h.orch.Resume(context.Background(), "pause", nil)
	require.ErrorIs(t, err, ErrNotPaused)
}

func TestPause_ObservedBeforeRepeatIteration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	tc := newCase("loop", testcase.StrategyStop, "AT")
	tc.Repeat = 3

	h.dev.onSend = func(string) {
		h.orch.Pause("loop")
	}

	res, err := h.orch.Run(context.Background(), tc, nil)
	require.NoError(t, err)
	assert.True(t, res.Paused)
	assert.Equal(t, 1, h.dev.count("AT"))

	h.dev.mu.Lock()
	h.dev.onSend = nil
	h.dev.mu.Unlock()

	res, err = h.orch.Resume(context.Background(), "loop", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, h.dev.count("AT"))
	assert.Equal(t, 3, res.PassedCommands)
}

func TestPause_FromChildCasePausesWholeRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	root := newCase("root", testcase.StrategyStop, "R0")
	child := newCase("child", testcase.StrategyStop, "K0", "K1")
	root.Children = []*testcase.TestCase{child, newCase("sibling", testcase.StrategyStop, "S0")}

	h.dev.onSend = func(line string) {
		if line == "K0" {
			assert.True(t, h.orch.IsRunning("child"))
			h.orch.Pause("child")
		}
	}

	res, err := h.orch.Run(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, res.Paused)
	assert.Equal(t, testcase.CasePending, child.Status)

	h.dev.mu.Lock()
	h.dev.onSend = nil
	h.dev.mu.Unlock()

	res, err = h.orch.Resume(context.Background(), "root", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"R0", "K0", "K1", "S0"}, h.dev.Sent())
	assert.Equal(t, 4, res.PassedCommands)
	assert.Equal(t, testcase.CaseSuccess, child.Status)
}

func TestRun_ChildOfPausedRunIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	root := newCase("root", testcase.StrategyStop, "R0")
	child := newCase("child", testcase.StrategyStop, "K0", "K1")
	root.Children = []*testcase.TestCase{child}

	h.dev.onSend = func(line string) {
		if line == "K0" {
			h.orch.Pause("root")
		}
	}

	res, err := h.orch.Run(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, res.Paused)

	h.dev.mu.Lock()
	h.dev.onSend = nil
	h.dev.mu.Unlock()

	_, err = h.orch.Run(context.Background(), child, nil)
	require.ErrorIs(t, err, ErrPausedElsewhere)
	assert.Equal(t, []string{"R0", "K0"}, h.dev.Sent())

	res, err = h.orch.Resume(context.Background(), "root", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"R0", "K0", "K1"}, h.dev.Sent())
	assert.Equal(t, 3, res.PassedCommands)
	assert.Equal(t, testcase.CaseSuccess, res.Status)
}

func TestRun_ParentDiscardsPausedChildRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	root := newCase("root", testcase.StrategyStop, "R0")
	child := newCase("child", testcase.StrategyStop, "K0", "K1")
	root.Children = []*testcase.TestCase{child}

	h.dev.onSend = func(line string) {
		if line == "K0" {
			h.orch.Pause("child")
		}
	}

	res, err := h.orch.Run(context.Background(), child, nil)
	require.NoError(t, err)
	require.True(t, res.Paused)

	h.dev.mu.Lock()
	h.dev.onSend = nil
	h.dev.mu.Unlock()

	res, err = h.orch.Run(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.PassedCommands)

	_, err = h.orch.Resume(context.Background(), "child", nil)
	require.ErrorIs(t, err, ErrNotPaused)
}

func TestRun_ParametersFlowAndClearBetweenRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.replies["AT+CGSN"] = "490154203237518\r\nOK\r\n"

	root := testcase.NewTestCase("params", "params")
	read := testcase.NewCommand("AT+CGSN", "OK")
	read.ExtractPattern = `(?P<imei>\d{15})`
	root.Commands = []*testcase.Command{read}

	child := testcase.NewTestCase("use", "use")
	child.Commands = []*testcase.Command{testcase.NewCommand("AT+QSET={imei}", "OK")}
	root.Children = []*testcase.TestCase{child}

	res, err := h.orch.Run(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, testcase.CaseSuccess, res.Status)
	assert.Contains(t, h.dev.Sent(), "AT+QSET=490154203237518")

	// A new top-level run starts with an empty parameter set.
	res, err = h.orch.Run(context.Background(), child, nil)
	require.NoError(t, err)
	assert.Equal(t, "AT+QSET={imei}", h.dev.Sent()[len(h.dev.Sent())-1])
	assert.Equal(t, testcase.CaseSuccess, res.Status)
}

func TestRun_URCFiresOncePerRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.replies["AT+A"] = "\r\nRING\r\nOK\r\n"
	h.dev.replies["AT+B"] = "\r\nRING\r\nOK\r\n"

	require.NoError(t, h.orch.RegisterTriggers([]*testcase.Trigger{{
		ID:      "ring",
		Pattern: `RING`,
		Actions: []*testcase.Command{testcase.NewCommand("ATA", "OK")},
	}}))

	res, err := h.orch.Run(context.Background(), newCase("urc", testcase.StrategyStop, "AT+A", "AT+B"), nil)
	require.NoError(t, err)
	assert.Equal(t, testcase.CaseSuccess, res.Status)

	require.Eventually(t, func() bool { return h.dev.count("ATA") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.dev.count("ATA"))

	// The next run may fire the trigger again.
	_, err = h.orch.Run(context.Background(), newCase("urc", testcase.StrategyStop, "AT+A"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.dev.count("ATA") == 2 }, time.Second, 5*time.Millisecond)
}

func TestRun_TransportFaultAbortsWithSyntheticRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.replies["AT+BAD"] = "ERROR\r\n"
	h.dev.failOn["ATI"] = errors.New("device unplugged")

	root := newCase("fault", testcase.StrategyContinue, "AT+BAD", "ATI", "AT")
	child := newCase("after", testcase.StrategyStop, "AT")
	root.Children = []*testcase.TestCase{child}

	res, err := h.orch.Run(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, testcase.CaseFailed, res.Status)
	assert.Equal(t, testcase.CaseFailed, root.Status)
	assert.Equal(t, testcase.CasePending, child.Status)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 0, res.Failures[0].CommandIndex)
	assert.True(t, res.Failures[1].Synthetic())
	assert.Contains(t, res.Failures[1].Error, "device unplugged")
	assert.Equal(t, []string{"AT+BAD"}, h.dev.Sent())
	assert.False(t, h.orch.IsRunning("fault"))
}

func TestRun_RejectsConcurrentRunOfSameCase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	root := newCase("busy", testcase.StrategyStop, "AT")
	root.Children = []*testcase.TestCase{newCase("busy-child", testcase.StrategyStop, "ATI")}

	entered := make(chan struct{})
	release := make(chan struct{})
	h.dev.onSend = func(line string) {
		if line == "AT" {
			close(entered)
			<-release
		}
	}

	done := make(chan *testcase.ExecutionResult, 1)
	go func() {
		res, err := h.orch.Run(context.Background(), root, nil)
		assert.NoError(t, err)
		done <- res
	}()

	<-entered

	_, err := h.orch.Run(context.Background(), root, nil)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	_, err = h.orch.Run(context.Background(), root.Children[0], nil)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)

	res := <-done
	assert.Equal(t, testcase.CaseSuccess, res.Status)
}

func TestRun_ChildFailureEscalatesToParent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.replies["K-BAD"] = "ERROR\r\n"

	root := newCase("parent", testcase.StrategyStop, "P0")
	failing := newCase("failing", testcase.StrategyContinue, "K-BAD", "K1")
	skipped := newCase("skipped", testcase.StrategyStop, "S0")
	root.Children = []*testcase.TestCase{failing, skipped}

	res, err := h.orch.Run(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"P0", "K-BAD", "K1"}, h.dev.Sent())
	assert.Equal(t, testcase.CasePartial, failing.Status)
	assert.Equal(t, testcase.CasePending, skipped.Status)
	assert.Equal(t, testcase.CasePartial, root.Status)
	assert.Equal(t, 2, res.PassedCommands)
	assert.Equal(t, 1, res.FailedCommands)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "failing", res.Failures[0].CaseID)
}

func TestRun_ChildWarningsUnderContinueParent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.replies["K-BAD"] = "ERROR\r\n"

	root := newCase("parent", testcase.StrategyContinue)
	failing := newCase("failing", testcase.StrategyStop, "K-BAD")
	failing.Commands[0].Severity = testcase.SeverityWarning
	root.Children = []*testcase.TestCase{failing, newCase("next", testcase.StrategyStop, "N0")}

	res, err := h.orch.Run(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"K-BAD", "N0"}, h.dev.Sent())
	assert.Equal(t, testcase.CaseFailed, failing.Status)
	assert.Equal(t, testcase.CasePartial, res.Status)
	assert.Equal(t, 1, res.Warnings)
}

type countingDecider struct {
	mu      sync.Mutex
	answer  policy.Decision
	prompts []policy.Prompt
}

func (d *countingDecider) Decide(_ context.Context, p policy.Prompt) (policy.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prompts = append(d.prompts, p)

	return d.answer, nil
}

func TestRun_PromptStrategy(t *testing.T) {
	t.Parallel()

	t.Run("continue decision", func(t *testing.T) {
		t.Parallel()

		decider := &countingDecider{answer: policy.DecisionContinue}
		h := newHarness(t, decider)
		h.dev.replies["X1"] = "ERROR\r\n"
		h.dev.replies["X2"] = "ERROR\r\n"

		res, err := h.orch.Run(context.Background(), newCase("ask", testcase.StrategyPrompt, "X1", "X2", "AT"), nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"X1", "X2", "AT"}, h.dev.Sent())
		assert.Len(t, decider.prompts, 2, "every failure asks again")
		assert.Equal(t, "X1", decider.prompts[0].Failure.Command)
		assert.Len(t, res.Failures, 2)
	})

	t.Run("stop decision", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, policy.StaticDecider(policy.DecisionStop))
		h.dev.replies["X1"] = "ERROR\r\n"

		res, err := h.orch.Run(context.Background(), newCase("ask", testcase.StrategyPrompt, "X1", "AT"), nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"X1"}, h.dev.Sent())
		assert.Equal(t, testcase.CaseFailed, res.Status)
	})

	t.Run("no decider stops", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, nil)
		h.dev.replies["X1"] = "ERROR\r\n"

		_, err := h.orch.Run(context.Background(), newCase("ask", testcase.StrategyPrompt, "X1", "AT"), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"X1"}, h.dev.Sent())
	})
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, string, *testcase.Command, *testcase.ExecutionContext) runner.Outcome {
	panic("corrupted state")
}

func TestRun_PanicBecomesSyntheticFailure(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(&Config{
		Logger:  logrus.New(),
		Runner:  panicRunner{},
		Channel: testChannel,
	})

	tc := newCase("panic", testcase.StrategyStop, "AT")
	res, err := orch.Run(context.Background(), tc, nil)
	require.NoError(t, err)

	assert.Equal(t, testcase.CaseFailed, res.Status)
	require.Len(t, res.Failures, 1)
	assert.True(t, res.Failures[0].Synthetic())
	assert.Contains(t, res.Failures[0].Error, "corrupted state")
	assert.False(t, orch.IsRunning("panic"))
}

func TestRun_CanceledContextFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Run(ctx, newCase("cancel", testcase.StrategyStop, "AT"), nil)
	require.NoError(t, err)

	assert.Equal(t, testcase.CaseFailed, res.Status)
	assert.Empty(t, h.dev.Sent())
	require.Len(t, res.Failures, 1)
	assert.True(t, res.Failures[0].Synthetic())
}

func TestRun_EveryRunEndsWithOneResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.dev.silent["AT"] = true

	res, err := h.orch.Run(context.Background(), newCase("timeout", testcase.StrategyStop, "AT"), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, testcase.CaseFailed, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Error, "timeout")

	_, err = h.orch.Run(context.Background(), nil, nil)
	require.Error(t, err)
}
