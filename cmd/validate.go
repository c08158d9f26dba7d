package cmd

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/ethpandaops/atrunner/internal/output"
	"github.com/ethpandaops/atrunner/internal/params"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/spf13/cobra"
)

var errInvalidPlan = errors.New("plan has invalid records")

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a plan file without running it",
	Long:  `Parses a plan, reports skipped records and prints the case tree.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return validatePlan(args[0])
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validatePlan(path string) error {
	doc, report, err := testcase.NewLoader(Logger).LoadFile(path)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}

	formatter := output.NewFormatter(Logger, os.Stdout, verbose)
	formatter.PrintImportReport(report)
	formatter.PrintCaseTree(doc)

	for _, warning := range undefinedPlaceholders(doc) {
		formatter.PrintWarning(warning)
	}

	if len(report.Skipped) > 0 {
		return fmt.Errorf("%w: %d skipped", errInvalidPlan, len(report.Skipped))
	}

	formatter.PrintSuccess("Plan is valid")

	return nil
}

// undefinedPlaceholders reports placeholders that no earlier extraction in
// the same top-level run can define. Each top-level case starts with an empty
// parameter set and commands run before child cases. Trigger actions may use
// anything extracted anywhere in the plan.
func undefinedPlaceholders(doc *testcase.Document) []string {
	var (
		warnings []string
		anywhere = make(map[string]bool)
	)

	for _, top := range doc.Cases {
		defined := make(map[string]bool)

		top.Walk(func(tc *testcase.TestCase) bool {
			for i, cmd := range tc.Commands {
				for _, name := range referenced(cmd) {
					if !defined[name] {
						warnings = append(warnings, fmt.Sprintf(
							"case %s command %d: {%s} is not extracted by an earlier command", tc.ID, i, name))
					}
				}

				names, err := params.Names(cmd.ExtractPattern)
				if cmd.ExtractPattern == "" || err != nil {
					continue
				}

				for _, name := range names {
					defined[name] = true
					anywhere[name] = true
				}
			}

			return true
		})
	}

	for _, trigger := range doc.Triggers {
		for i, action := range trigger.Actions {
			for _, name := range referenced(action) {
				if !anywhere[name] {
					warnings = append(warnings, fmt.Sprintf(
						"trigger %s action %d: {%s} is not extracted by any command", trigger.ID, i, name))
				}
			}
		}
	}

	return warnings
}

// referenced lists the placeholders in a command's text, and in its
// expectation unless that is a regex where braces are quantifiers.
func referenced(cmd *testcase.Command) []string {
	names := params.Placeholders(cmd.Text)
	if cmd.MatchMode == testcase.MatchRegex {
		return names
	}

	for _, name := range params.Placeholders(cmd.ExpectedResponse) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	return names
}
