// Package testcase defines the test case tree, its commands, and the
// per-run execution state shared by the engine's components.
package testcase

import (
	"time"
)

// FailureStrategy governs whether a command failure halts the remaining sequence.
type FailureStrategy string

const (
	// StrategyStop halts the case at the first failing command.
	StrategyStop FailureStrategy = "stop"
	// StrategyContinue attempts every included command regardless of failures.
	StrategyContinue FailureStrategy = "continue"
	// StrategyPrompt asks an external decider on each failure.
	StrategyPrompt FailureStrategy = "prompt"
)

// Valid reports whether s is a known strategy.
func (s FailureStrategy) Valid() bool {
	switch s {
	case StrategyStop, StrategyContinue, StrategyPrompt:
		return true
	default:
		return false
	}
}

// Severity classifies how seriously a command failure is reported.
type Severity string

const (
	// SeverityWarning marks a failure that should be reported but is minor.
	SeverityWarning Severity = "warning"
	// SeverityError marks a failure that should be treated as a real error.
	SeverityError Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityWarning || s == SeverityError
}

// MatchMode selects how an expected response is compared against captured bytes.
type MatchMode string

const (
	// MatchContains succeeds when the capture contains the expected text.
	MatchContains MatchMode = "contains"
	// MatchExact succeeds when the trimmed capture equals the expected text.
	MatchExact MatchMode = "exact"
	// MatchRegex succeeds when the expected text, as a regexp, matches the capture.
	MatchRegex MatchMode = "regex"
)

// Valid reports whether m is a known match mode.
func (m MatchMode) Valid() bool {
	switch m {
	case MatchContains, MatchExact, MatchRegex:
		return true
	default:
		return false
	}
}

// CaseStatus is the transient run status of a TestCase.
type CaseStatus string

// Case statuses.
const (
	CasePending CaseStatus = "pending"
	CaseRunning CaseStatus = "running"
	CaseSuccess CaseStatus = "success"
	CaseFailed  CaseStatus = "failed"
	CasePartial CaseStatus = "partial"
)

// CommandStatus is the transient run status of a Command.
type CommandStatus string

// Command statuses.
const (
	CommandPending CommandStatus = "pending"
	CommandRunning CommandStatus = "running"
	CommandSuccess CommandStatus = "success"
	CommandFailed  CommandStatus = "failed"
)

const (
	// DefaultLineEnding is appended to every command when none is configured.
	DefaultLineEnding = "\r\n"
	// IdleIndex is the CurrentIndex of a case that is not executing a command.
	IdleIndex = -1
)

// Command is a leaf unit of work: bytes to send and the response to wait for.
type Command struct {
	Text             string
	ExpectedResponse string
	MatchMode        MatchMode
	FailResponse     string
	ExtractPattern   string
	Timeout          time.Duration
	WaitTime         time.Duration
	MaxAttempts      int
	Severity         Severity
	Selected         bool
	LineEnding       string

	Status   CommandStatus
	Attempts int
}

// NewCommand returns a command with the default match mode, attempts,
// severity and line ending.
func NewCommand(text, expect string) *Command {
	return &Command{
		Text:             text,
		ExpectedResponse: expect,
		MatchMode:        MatchContains,
		MaxAttempts:      1,
		Severity:         SeverityError,
		LineEnding:       DefaultLineEnding,
		Status:           CommandPending,
	}
}

// TestCase is a node in the ordered test case tree.
type TestCase struct {
	ID        string
	DisplayID int
	Name      string
	Commands  []*Command
	Children  []*TestCase
	Repeat    int
	Strategy  FailureStrategy

	Status       CaseStatus
	CurrentIndex int
	Running      bool

	cursor *Cursor
}

// Cursor records how far a paused case got so a resume can continue after
// the last completed command instead of starting over.
type Cursor struct {
	Iteration int
	Command   int
	Child     int
	Passed    int
	Failed    int
	Warnings  int
	Errors    int
}

// NewTestCase returns a case with transient fields reset to their defaults.
func NewTestCase(id, name string) *TestCase {
	return &TestCase{
		ID:           id,
		Name:         name,
		Repeat:       1,
		Strategy:     StrategyStop,
		Status:       CasePending,
		CurrentIndex: IdleIndex,
	}
}

// IncludedCommands returns the selected commands, or all commands when none
// are selected.
func (tc *TestCase) IncludedCommands() []*Command {
	included := make([]*Command, 0, len(tc.Commands))
	for _, cmd := range tc.Commands {
		if cmd.Selected {
			included = append(included, cmd)
		}
	}

	if len(included) == 0 {
		return tc.Commands
	}

	return included
}

// Walk visits tc and its descendants depth-first in authored order. Returning
// false from fn stops the walk.
func (tc *TestCase) Walk(fn func(*TestCase) bool) bool {
	if !fn(tc) {
		return false
	}

	for _, child := range tc.Children {
		if !child.Walk(fn) {
			return false
		}
	}

	return true
}

// Find returns the case with the given id in the tree rooted at tc.
func (tc *TestCase) Find(id string) *TestCase {
	var found *TestCase
	tc.Walk(func(c *TestCase) bool {
		if c.ID == id {
			found = c
			return false
		}
		return true
	})

	return found
}

// ResetRunState restores the transient fields of the whole tree to defaults.
func (tc *TestCase) ResetRunState() {
	tc.Walk(func(c *TestCase) bool {
		c.Status = CasePending
		c.CurrentIndex = IdleIndex
		c.Running = false
		c.cursor = nil
		for _, cmd := range c.Commands {
			cmd.Status = CommandPending
			cmd.Attempts = 0
		}
		return true
	})
}

// Cursor returns the resume cursor left by a pause, or nil.
func (tc *TestCase) Cursor() *Cursor {
	return tc.cursor
}

// SetCursor stores (or clears, with nil) the resume cursor.
func (tc *TestCase) SetCursor(c *Cursor) {
	tc.cursor = c
}

// Trigger is an unsolicited-response pattern and the commands to run when it
// is seen.
type Trigger struct {
	ID      string
	Pattern string
	Channel string
	Actions []*Command
}
