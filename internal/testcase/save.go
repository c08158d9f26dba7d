package testcase

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Persisted shapes for writing. Only authored fields appear here; status,
// running flags and indexes are never written.
type savedDocument struct {
	Cases    []savedCase    `yaml:"cases"`
	Triggers []savedTrigger `yaml:"triggers,omitempty"`
}

type savedCase struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Commands []commandRecord `yaml:"commands,omitempty"`
	Children []savedCase     `yaml:"children,omitempty"`
	Repeat   int             `yaml:"repeat,omitempty"`
	Strategy string          `yaml:"strategy,omitempty"`
}

type savedTrigger struct {
	ID      string          `yaml:"id"`
	Pattern string          `yaml:"pattern"`
	Channel string          `yaml:"channel,omitempty"`
	Actions []commandRecord `yaml:"actions,omitempty"`
}

// Save writes doc to w as YAML.
func (l *loader) Save(w io.Writer, doc *Document) error {
	out := savedDocument{
		Cases:    make([]savedCase, 0, len(doc.Cases)),
		Triggers: make([]savedTrigger, 0, len(doc.Triggers)),
	}

	for _, tc := range doc.Cases {
		out.Cases = append(out.Cases, toSavedCase(tc))
	}

	for _, trig := range doc.Triggers {
		out.Triggers = append(out.Triggers, savedTrigger{
			ID:      trig.ID,
			Pattern: trig.Pattern,
			Channel: trig.Channel,
			Actions: toCommandRecords(trig.Actions),
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}

	return enc.Close()
}

// SaveFile writes doc to path.
func (l *loader) SaveFile(path string, doc *Document) error {
	f, err := os.Create(path) //nolint:gosec // G304: plan path supplied by the operator
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	if err := l.Save(f, doc); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

func toSavedCase(tc *TestCase) savedCase {
	out := savedCase{
		ID:       tc.ID,
		Name:     tc.Name,
		Commands: toCommandRecords(tc.Commands),
		Strategy: string(tc.Strategy),
	}

	if tc.Repeat > 1 {
		out.Repeat = tc.Repeat
	}

	for _, child := range tc.Children {
		out.Children = append(out.Children, toSavedCase(child))
	}

	return out
}

func toCommandRecords(cmds []*Command) []commandRecord {
	out := make([]commandRecord, 0, len(cmds))

	for _, cmd := range cmds {
		rec := commandRecord{
			Text:     cmd.Text,
			Expect:   cmd.ExpectedResponse,
			FailOn:   cmd.FailResponse,
			Extract:  cmd.ExtractPattern,
			Timeout:  Duration(cmd.Timeout),
			Wait:     Duration(cmd.WaitTime),
			Severity: string(cmd.Severity),
			Selected: cmd.Selected,
		}

		if cmd.MatchMode != MatchContains {
			rec.Match = string(cmd.MatchMode)
		}

		if cmd.MaxAttempts > 1 {
			rec.MaxAttempts = cmd.MaxAttempts
		}

		if cmd.LineEnding != DefaultLineEnding {
			le := cmd.LineEnding
			rec.LineEnding = &le
		}

		out = append(out, rec)
	}

	return out
}
