package testcase

import (
	"time"
)

// SyntheticIndex is the CommandIndex of a failure record that is not tied to
// a specific command, such as a transport fault.
const SyntheticIndex = -1

// FailureRecord describes one recorded command failure.
type FailureRecord struct {
	CommandIndex int       `json:"command_index" yaml:"command_index"`
	CaseID       string    `json:"case_id" yaml:"case_id"`
	Command      string    `json:"command" yaml:"command"`
	Error        string    `json:"error" yaml:"error"`
	Severity     Severity  `json:"severity,omitempty" yaml:"severity,omitempty"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
}

// Synthetic reports whether the record describes a run-level fault.
func (f FailureRecord) Synthetic() bool {
	return f.CommandIndex == SyntheticIndex
}

// ExecutionResult is the report produced once per top-level run.
type ExecutionResult struct {
	RunID          string          `json:"run_id" yaml:"run_id"`
	CaseID         string          `json:"case_id" yaml:"case_id"`
	CaseName       string          `json:"case_name" yaml:"case_name"`
	Status         CaseStatus      `json:"status" yaml:"status"`
	StartTime      time.Time       `json:"start_time" yaml:"start_time"`
	EndTime        time.Time       `json:"end_time" yaml:"end_time"`
	Duration       time.Duration   `json:"duration" yaml:"duration"`
	TotalCommands  int             `json:"total_commands" yaml:"total_commands"`
	PassedCommands int             `json:"passed_commands" yaml:"passed_commands"`
	FailedCommands int             `json:"failed_commands" yaml:"failed_commands"`
	Warnings       int             `json:"warnings" yaml:"warnings"`
	Errors         int             `json:"errors" yaml:"errors"`
	Failures       []FailureRecord `json:"failures" yaml:"failures"`
	Paused         bool            `json:"paused,omitempty" yaml:"paused,omitempty"`
}

// Success reports whether the run finished with no failed commands.
func (r *ExecutionResult) Success() bool {
	return r.Status == CaseSuccess
}

// Clone returns a deep copy so callers can hold a snapshot while a paused
// run keeps accumulating.
func (r *ExecutionResult) Clone() *ExecutionResult {
	out := *r
	out.Failures = make([]FailureRecord, len(r.Failures))
	copy(out.Failures, r.Failures)

	return &out
}

// TerminalStatus derives a case status from its pass/fail counts: success if
// nothing failed, failed if nothing passed, partial otherwise. A case that ran
// no commands is success.
func TerminalStatus(passed, failed int) CaseStatus {
	switch {
	case failed == 0:
		return CaseSuccess
	case passed == 0:
		return CaseFailed
	default:
		return CasePartial
	}
}
