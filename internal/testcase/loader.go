package testcase

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidImportRecord marks a persisted case, command or trigger that
// failed structural validation. Such records are skipped, not fatal.
var ErrInvalidImportRecord = errors.New("invalid import record")

var (
	errCaseIDRequired        = errors.New("case id is required")
	errCaseNameRequired      = errors.New("case name is required")
	errDuplicateCaseID       = errors.New("duplicate case id")
	errInvalidStrategy       = errors.New("invalid failure strategy")
	errNegativeRepeat        = errors.New("repeat must not be negative")
	errCommandTextRequired   = errors.New("command text is required")
	errInvalidSeverity       = errors.New("invalid severity")
	errInvalidMatchMode      = errors.New("invalid match mode")
	errNegativeMaxAttempts   = errors.New("max_attempts must not be negative")
	errNegativeDuration      = errors.New("durations must not be negative")
	errTriggerIDRequired     = errors.New("trigger id is required")
	errTriggerPatternMissing = errors.New("trigger pattern is required")
	errDuplicateTriggerID    = errors.New("duplicate trigger id")
	errExpectedMapping       = errors.New("expected a mapping")
	errUnknownField          = errors.New("unknown field")
)

// Duration accepts either a Go duration string ("750ms", "2s") or an integer
// number of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}

	if ms, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: parsing duration %q: %w", node.Line, node.Value, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Document is the persisted form of a test plan: a forest of cases and the
// URC triggers bound to runs of those cases.
type Document struct {
	Cases    []*TestCase
	Triggers []*Trigger
}

// Case returns the top-level or nested case with the given id.
func (d *Document) Case(id string) *TestCase {
	for _, tc := range d.Cases {
		if found := tc.Find(id); found != nil {
			return found
		}
	}

	return nil
}

// SkippedRecord describes one record dropped during import.
type SkippedRecord struct {
	Path string
	Line int
	Err  error
}

// ImportReport summarizes an import.
type ImportReport struct {
	Cases    int
	Commands int
	Triggers int
	Skipped  []SkippedRecord
}

// Loader reads and writes test plans.
type Loader interface {
	LoadFile(path string) (*Document, *ImportReport, error)
	Decode(r io.Reader) (*Document, *ImportReport, error)
	Save(w io.Writer, doc *Document) error
	SaveFile(path string, doc *Document) error
}

type loader struct {
	log logrus.FieldLogger
}

// NewLoader creates a new test plan loader.
func NewLoader(log logrus.FieldLogger) Loader {
	return &loader{
		log: log.WithField("component", "testcase_loader"),
	}
}

// documentRecord is the top-level persisted shape. Items stay as nodes so
// each one can be validated and skipped on its own.
type documentRecord struct {
	Cases    []yaml.Node `yaml:"cases"`
	Triggers []yaml.Node `yaml:"triggers"`
}

type caseRecord struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	Commands []yaml.Node `yaml:"commands"`
	Children []yaml.Node `yaml:"children"`
	Repeat   int         `yaml:"repeat"`
	Strategy string      `yaml:"strategy"`
}

type commandRecord struct {
	Text        string   `yaml:"text"`
	Expect      string   `yaml:"expect,omitempty"`
	Match       string   `yaml:"match,omitempty"`
	FailOn      string   `yaml:"fail_on,omitempty"`
	Extract     string   `yaml:"extract,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
	Wait        Duration `yaml:"wait,omitempty"`
	MaxAttempts int      `yaml:"max_attempts,omitempty"`
	Severity    string   `yaml:"severity,omitempty"`
	Selected    bool     `yaml:"selected,omitempty"`
	LineEnding  *string  `yaml:"line_ending,omitempty"`
}

type triggerRecord struct {
	ID      string      `yaml:"id"`
	Pattern string      `yaml:"pattern"`
	Channel string      `yaml:"channel"`
	Actions []yaml.Node `yaml:"actions"`
}

// LoadFile reads a plan from disk.
func (l *loader) LoadFile(path string) (*Document, *ImportReport, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: plan path supplied by the operator
	if err != nil {
		return nil, nil, fmt.Errorf("reading file: %w", err)
	}

	l.log.WithField("path", path).Debug("loading test plan")

	return l.Decode(bytes.NewReader(data))
}

// Decode reads a plan from r. Structural problems in individual records are
// reported in the ImportReport; only an unreadable document is an error.
func (l *loader) Decode(r io.Reader) (*Document, *ImportReport, error) {
	var rec documentRecord
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return &Document{}, &ImportReport{}, nil
		}

		return nil, nil, fmt.Errorf("parsing yaml: %w", err)
	}

	var (
		doc    = &Document{}
		report = &ImportReport{}
		seen   = make(map[string]bool)
	)

	for i := range rec.Cases {
		tc := l.decodeCase(&rec.Cases[i], fmt.Sprintf("cases[%d]", i), seen, report)
		if tc != nil {
			doc.Cases = append(doc.Cases, tc)
		}
	}

	seenTriggers := make(map[string]bool)
	for i := range rec.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)

		trig, err := l.decodeTrigger(&rec.Triggers[i], path, report)
		if err == nil && seenTriggers[trig.ID] {
			err = fmt.Errorf("%w: %s", errDuplicateTriggerID, trig.ID)
		}

		if err != nil {
			l.skip(report, path, rec.Triggers[i].Line, err)
			continue
		}

		seenTriggers[trig.ID] = true
		doc.Triggers = append(doc.Triggers, trig)
		report.Triggers++
	}

	displayID := 0
	for _, tc := range doc.Cases {
		tc.Walk(func(c *TestCase) bool {
			displayID++
			c.DisplayID = displayID
			return true
		})
	}

	l.log.WithFields(logrus.Fields{
		"cases":    report.Cases,
		"commands": report.Commands,
		"triggers": report.Triggers,
		"skipped":  len(report.Skipped),
	}).Debug("test plan decoded")

	return doc, report, nil
}

func (l *loader) skip(report *ImportReport, path string, line int, err error) {
	report.Skipped = append(report.Skipped, SkippedRecord{
		Path: path,
		Line: line,
		Err:  fmt.Errorf("%w: %w", ErrInvalidImportRecord, err),
	})

	l.log.WithError(err).WithFields(logrus.Fields{
		"record": path,
		"line":   line,
	}).Warn("invalid record, skipping")
}

func (l *loader) decodeCase(node *yaml.Node, path string, seen map[string]bool, report *ImportReport) *TestCase {
	var rec caseRecord
	if err := decodeStrict(node, caseFields, &rec); err != nil {
		l.skip(report, path, node.Line, err)
		return nil
	}

	if err := validateCase(&rec); err != nil {
		l.skip(report, path, node.Line, err)
		return nil
	}

	if seen[rec.ID] {
		l.skip(report, path, node.Line, fmt.Errorf("%w: %s", errDuplicateCaseID, rec.ID))
		return nil
	}

	seen[rec.ID] = true

	tc := NewTestCase(rec.ID, rec.Name)
	if rec.Repeat > 0 {
		tc.Repeat = rec.Repeat
	}

	if rec.Strategy != "" {
		tc.Strategy = FailureStrategy(rec.Strategy)
	}

	for i := range rec.Commands {
		cmdPath := fmt.Sprintf("%s.commands[%d]", path, i)

		cmd, err := decodeCommand(&rec.Commands[i])
		if err != nil {
			l.skip(report, cmdPath, rec.Commands[i].Line, err)
			continue
		}

		tc.Commands = append(tc.Commands, cmd)
		report.Commands++
	}

	for i := range rec.Children {
		child := l.decodeCase(&rec.Children[i], fmt.Sprintf("%s.children[%d]", path, i), seen, report)
		if child != nil {
			tc.Children = append(tc.Children, child)
		}
	}

	report.Cases++

	return tc
}

func (l *loader) decodeTrigger(node *yaml.Node, path string, report *ImportReport) (*Trigger, error) {
	var rec triggerRecord
	if err := decodeStrict(node, triggerFields, &rec); err != nil {
		return nil, err
	}

	if rec.ID == "" {
		return nil, errTriggerIDRequired
	}

	if rec.Pattern == "" {
		return nil, fmt.Errorf("%w: %s", errTriggerPatternMissing, rec.ID)
	}

	if _, err := regexp.Compile(rec.Pattern); err != nil {
		return nil, fmt.Errorf("compiling trigger pattern %s: %w", rec.ID, err)
	}

	trig := &Trigger{
		ID:      rec.ID,
		Pattern: rec.Pattern,
		Channel: rec.Channel,
	}

	for i := range rec.Actions {
		cmd, err := decodeCommand(&rec.Actions[i])
		if err != nil {
			l.skip(report, fmt.Sprintf("%s.actions[%d]", path, i), rec.Actions[i].Line, err)
			continue
		}

		trig.Actions = append(trig.Actions, cmd)
	}

	return trig, nil
}

func validateCase(rec *caseRecord) error {
	if rec.ID == "" {
		return errCaseIDRequired
	}

	if rec.Name == "" {
		return fmt.Errorf("%w: %s", errCaseNameRequired, rec.ID)
	}

	if rec.Repeat < 0 {
		return fmt.Errorf("%w: %s", errNegativeRepeat, rec.ID)
	}

	if rec.Strategy != "" && !FailureStrategy(rec.Strategy).Valid() {
		return fmt.Errorf("%w: %q (must be one of: stop, continue, prompt)", errInvalidStrategy, rec.Strategy)
	}

	return nil
}

func decodeCommand(node *yaml.Node) (*Command, error) {
	var rec commandRecord
	if err := decodeStrict(node, commandFields, &rec); err != nil {
		return nil, err
	}

	if rec.Text == "" {
		return nil, errCommandTextRequired
	}

	if rec.Severity != "" && !Severity(rec.Severity).Valid() {
		return nil, fmt.Errorf("%w: %q (must be warning or error)", errInvalidSeverity, rec.Severity)
	}

	if rec.Match != "" && !MatchMode(rec.Match).Valid() {
		return nil, fmt.Errorf("%w: %q (must be one of: contains, exact, regex)", errInvalidMatchMode, rec.Match)
	}

	if rec.MaxAttempts < 0 {
		return nil, errNegativeMaxAttempts
	}

	if rec.Timeout < 0 || rec.Wait < 0 {
		return nil, errNegativeDuration
	}

	if MatchMode(rec.Match) == MatchRegex {
		if _, err := regexp.Compile(rec.Expect); err != nil {
			return nil, fmt.Errorf("compiling expect pattern: %w", err)
		}
	}

	if rec.Extract != "" {
		if _, err := regexp.Compile(rec.Extract); err != nil {
			return nil, fmt.Errorf("compiling extract pattern: %w", err)
		}
	}

	cmd := NewCommand(rec.Text, rec.Expect)
	cmd.FailResponse = rec.FailOn
	cmd.ExtractPattern = rec.Extract
	cmd.Timeout = time.Duration(rec.Timeout)
	cmd.WaitTime = time.Duration(rec.Wait)
	cmd.Selected = rec.Selected

	if rec.Match != "" {
		cmd.MatchMode = MatchMode(rec.Match)
	}

	if rec.MaxAttempts > 0 {
		cmd.MaxAttempts = rec.MaxAttempts
	}

	if rec.Severity != "" {
		cmd.Severity = Severity(rec.Severity)
	}

	if rec.LineEnding != nil {
		cmd.LineEnding = *rec.LineEnding
	}

	return cmd, nil
}

var (
	caseFields    = fieldSet("id", "name", "commands", "children", "repeat", "strategy")
	commandFields = fieldSet("text", "expect", "match", "fail_on", "extract", "timeout", "wait",
		"max_attempts", "severity", "selected", "line_ending")
	triggerFields = fieldSet("id", "pattern", "channel", "actions")
)

func fieldSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}

	return set
}

// decodeStrict decodes a single mapping node, rejecting keys outside allowed.
// yaml.Node.Decode has no KnownFields switch, so keys are checked up front.
func decodeStrict(node *yaml.Node, allowed map[string]bool, out interface{}) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %w", node.Line, errExpectedMapping)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if !allowed[key.Value] {
			return fmt.Errorf("line %d: %w %q", key.Line, errUnknownField, key.Value)
		}
	}

	if err := node.Decode(out); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}

	return nil
}
