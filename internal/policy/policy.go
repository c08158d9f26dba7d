// Package policy decides whether a command outcome stops the enclosing case
// and whether it is recorded as a failure.
package policy

import (
	"context"
	"fmt"

	"github.com/ethpandaops/atrunner/internal/testcase"
)

// Outcome is the result class of one command.
type Outcome int

const (
	// OutcomeSuccess means the command matched its expected response.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure means the command timed out or mismatched.
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}

	return "failure"
}

// Verdict is the policy's answer for one outcome.
type Verdict struct {
	Stop          bool
	RecordFailure bool
	// NeedsDecision asks the caller to consult a Decider before continuing.
	NeedsDecision bool
}

// Decide applies strategy to an outcome. Severity is carried for reporting
// and never changes the verdict of the stop and continue strategies.
func Decide(strategy testcase.FailureStrategy, _ testcase.Severity, outcome Outcome) Verdict {
	if outcome == OutcomeSuccess {
		return Verdict{}
	}

	switch strategy {
	case testcase.StrategyContinue:
		return Verdict{RecordFailure: true}
	case testcase.StrategyPrompt:
		return Verdict{RecordFailure: true, NeedsDecision: true}
	default:
		return Verdict{Stop: true, RecordFailure: true}
	}
}

// Decision is an external answer to a prompt.
type Decision int

const (
	// DecisionStop halts the case.
	DecisionStop Decision = iota
	// DecisionContinue proceeds with the next command.
	DecisionContinue
)

func (d Decision) String() string {
	if d == DecisionContinue {
		return "continue"
	}

	return "stop"
}

// ParseDecision maps "stop" and "continue" to a Decision.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "stop":
		return DecisionStop, nil
	case "continue":
		return DecisionContinue, nil
	default:
		return DecisionStop, fmt.Errorf("unknown decision %q", s)
	}
}

// Prompt carries the failure a Decider is asked about.
type Prompt struct {
	CaseID   string
	CaseName string
	Failure  testcase.FailureRecord
}

// Decider supplies stop/continue decisions for the prompt strategy.
type Decider interface {
	Decide(ctx context.Context, p Prompt) (Decision, error)
}

// StaticDecider answers every prompt the same way.
type StaticDecider Decision

// Decide implements Decider.
func (s StaticDecider) Decide(context.Context, Prompt) (Decision, error) {
	return Decision(s), nil
}

// Resolve turns a verdict into a final stop flag, blocking on decider when
// the verdict needs a decision. A nil decider or a decider error stops. The
// answer applies to this occurrence only.
func Resolve(ctx context.Context, v Verdict, decider Decider, p Prompt) (bool, error) {
	if !v.NeedsDecision {
		return v.Stop, nil
	}

	if decider == nil {
		return true, nil
	}

	d, err := decider.Decide(ctx, p)
	if err != nil {
		return true, fmt.Errorf("requesting decision: %w", err)
	}

	return d == DecisionStop, nil
}
