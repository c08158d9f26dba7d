package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/atrunner/internal/metrics"
	"github.com/ethpandaops/atrunner/internal/policy"
	"github.com/ethpandaops/atrunner/internal/runner"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/sirupsen/logrus"
)

// tally is the pass/fail count of a case including its descendants.
type tally struct {
	passed   int
	failed   int
	warnings int
	errors   int
}

func (t *tally) add(o tally) {
	t.passed += o.passed
	t.failed += o.failed
	t.warnings += o.warnings
	t.errors += o.errors
}

func tallyOf(c *testcase.Cursor) tally {
	return tally{passed: c.Passed, failed: c.Failed, warnings: c.Warnings, errors: c.Errors}
}

// runCase executes tc's included commands Repeat times and then its children
// once, resuming from the case's cursor if it has one. It returns errPaused
// when the run's token was revoked at a boundary and a *faultError when the
// run must abort.
func (o *Orchestrator) runCase(ctx context.Context, rn *run, tc *testcase.TestCase) (tally, error) {
	cur := tc.Cursor()
	if cur == nil {
		cur = &testcase.Cursor{}
		tc.SetCursor(cur)
	}

	log := o.log.WithFields(logrus.Fields{
		"run_id":  rn.id,
		"case_id": tc.ID,
	})

	tc.Status = testcase.CaseRunning
	tc.Running = true

	included := tc.IncludedCommands()
	repeat := tc.Repeat
	if repeat < 1 {
		repeat = 1
	}

	stopped := false

	for cur.Iteration < repeat {
		if cur.Command == 0 {
			if err := o.checkpoint(ctx, rn, tc); err != nil {
				return tally{}, err
			}
			log.WithField("iteration", cur.Iteration+1).Debug("starting repeat pass")
		}

		for cur.Command < len(included) {
			if err := o.checkpoint(ctx, rn, tc); err != nil {
				return tally{}, err
			}

			cmd := included[cur.Command]
			stop, err := o.runCommand(ctx, rn, tc, cur, cmd)
			if err != nil {
				return tally{}, err
			}

			cur.Command++

			if stop {
				stopped = true
				break
			}
		}

		if stopped {
			break
		}

		cur.Command = 0
		cur.Iteration++
	}

	for !stopped && cur.Child < len(tc.Children) {
		child := tc.Children[cur.Child]

		childTally, err := o.runCase(ctx, rn, child)
		if err != nil {
			return tally{}, err
		}

		cur.Child++
		cur.Passed += childTally.passed
		cur.Failed += childTally.failed
		cur.Warnings += childTally.warnings
		cur.Errors += childTally.errors

		if childTally.failed > 0 {
			stop, err := o.escalate(ctx, rn, tc, child, childTally)
			if err != nil {
				return tally{}, err
			}
			stopped = stop
		}
	}

	t := tallyOf(cur)

	tc.Status = testcase.TerminalStatus(t.passed, t.failed)
	tc.Running = false
	tc.CurrentIndex = testcase.IdleIndex
	tc.SetCursor(nil)

	log.WithFields(logrus.Fields{
		"status": tc.Status,
		"passed": t.passed,
		"failed": t.failed,
	}).Debug("case complete")

	return t, nil
}

// checkpoint is the boundary check run before every command and every
// repeat pass.
func (o *Orchestrator) checkpoint(ctx context.Context, rn *run, tc *testcase.TestCase) error {
	if err := ctx.Err(); err != nil {
		return &faultError{caseID: tc.ID, err: fmt.Errorf("run canceled: %w", err)}
	}

	if rn.token.Revoked() {
		return errPaused
	}

	return nil
}

// runCommand executes one command and applies the failure policy. It
// returns true when the case must stop.
func (o *Orchestrator) runCommand(
	ctx context.Context,
	rn *run,
	tc *testcase.TestCase,
	cur *testcase.Cursor,
	cmd *testcase.Command,
) (bool, error) {
	index := commandIndex(tc, cmd)
	tc.CurrentIndex = index

	out := o.runner.Run(ctx, rn.channel, cmd, rn.ectx)

	if o.metrics != nil {
		o.metrics.RecordCommand(metrics.CommandMetric{
			RunID:        rn.id,
			CaseID:       tc.ID,
			Command:      out.Resolved,
			Success:      out.Success,
			Kind:         string(out.Kind),
			Attempts:     out.Attempts,
			ResponseTime: out.ResponseTime,
			Timestamp:    time.Now(),
		})
	}

	if out.Fatal() {
		return false, &faultError{caseID: tc.ID, command: out.Resolved, err: out.Err}
	}

	if out.Success {
		cur.Passed++
		rn.result.PassedCommands++

		return false, nil
	}

	cur.Failed++
	rn.result.FailedCommands++

	record := testcase.FailureRecord{
		CommandIndex: index,
		CaseID:       tc.ID,
		Command:      out.Resolved,
		Error:        describe(out),
		Severity:     cmd.Severity,
		Timestamp:    time.Now(),
	}

	o.log.WithFields(logrus.Fields{
		"run_id":   rn.id,
		"case_id":  tc.ID,
		"command":  out.Resolved,
		"severity": cmd.Severity,
		"kind":     out.Kind,
	}).Warn("command failed")

	verdict := policy.Decide(tc.Strategy, cmd.Severity, policy.OutcomeFailure)
	if verdict.RecordFailure {
		o.record(rn, cur, record)
	}

	return o.resolve(ctx, tc, verdict, record)
}

// escalate feeds a failed child into the parent's failure policy as one
// outcome. The child's own failures are already recorded.
func (o *Orchestrator) escalate(ctx context.Context, rn *run, parent, child *testcase.TestCase, t tally) (bool, error) {
	severity := testcase.SeverityWarning
	if t.errors > 0 {
		severity = testcase.SeverityError
	}

	verdict := policy.Decide(parent.Strategy, severity, policy.OutcomeFailure)

	record := testcase.FailureRecord{
		CommandIndex: testcase.SyntheticIndex,
		CaseID:       child.ID,
		Error:        fmt.Sprintf("child case %s finished %s", child.ID, child.Status),
		Severity:     severity,
		Timestamp:    time.Now(),
	}
	if n := len(rn.result.Failures); n > 0 {
		record = rn.result.Failures[n-1]
	}

	o.log.WithFields(logrus.Fields{
		"run_id":   rn.id,
		"case_id":  parent.ID,
		"child_id": child.ID,
		"status":   child.Status,
	}).Debug("escalating child failure")

	return o.resolve(ctx, parent, verdict, record)
}

func (o *Orchestrator) resolve(ctx context.Context, tc *testcase.TestCase, verdict policy.Verdict, record testcase.FailureRecord) (bool, error) {
	stop, err := policy.Resolve(ctx, verdict, o.decider, policy.Prompt{
		CaseID:   tc.ID,
		CaseName: tc.Name,
		Failure:  record,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return true, &faultError{caseID: tc.ID, command: record.Command, err: fmt.Errorf("run canceled: %w", ctxErr)}
		}

		o.log.WithError(err).WithField("case_id", tc.ID).Warn("decision failed, stopping case")
	}

	return stop, nil
}

func (o *Orchestrator) record(rn *run, cur *testcase.Cursor, record testcase.FailureRecord) {
	rn.result.Failures = append(rn.result.Failures, record)

	if record.Severity == testcase.SeverityWarning {
		cur.Warnings++
		rn.result.Warnings++
	} else {
		cur.Errors++
		rn.result.Errors++
	}
}

func commandIndex(tc *testcase.TestCase, cmd *testcase.Command) int {
	for i, c := range tc.Commands {
		if c == cmd {
			return i
		}
	}

	return testcase.IdleIndex
}

func describe(out runner.Outcome) string {
	if out.Err == nil {
		return string(out.Kind)
	}

	return out.Err.Error()
}
