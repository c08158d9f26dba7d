package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethpandaops/atrunner/internal/config"
	"github.com/ethpandaops/atrunner/internal/engine"
	"github.com/ethpandaops/atrunner/internal/history"
	"github.com/ethpandaops/atrunner/internal/interactive"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/spf13/cobra"
)

var (
	errCaseNotFound = errors.New("case not found")
	errNoCases      = errors.New("plan has no runnable cases")
	errRunFailed    = errors.New("some runs did not succeed")
)

var (
	// Run command flags
	runCaseID   string
	runPort     string
	runBaud     int
	runOnPrompt string
	runRecord   bool
	runEcho     bool
)

// runOptions describes one invocation of a plan.
type runOptions struct {
	Path    string
	CaseID  string
	Session sessionOptions
	Record  bool
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run test cases from a plan file",
	Long: `Run the top-level cases of a plan against the configured serial port.

Each top-level run prints an execution report. Press Ctrl+C once to pause the
run after the current command, and again to exit.

Examples:
  atrunner run plan.yaml --port /dev/ttyUSB0
  atrunner run plan.yaml --case network-attach --on-prompt continue --record`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runPlan(context.Background(), runOptions{
			Path:   args[0],
			CaseID: runCaseID,
			Session: sessionOptions{
				Port:     runPort,
				BaudRate: runBaud,
				OnPrompt: runOnPrompt,
				Echo:     runEcho,
				Verbose:  verbose,
			},
			Record: runRecord,
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runCaseID, "case", "", "Run only the case with this id (any depth)")
	runCmd.Flags().StringVar(&runPort, "port", "", "Serial port (overrides "+config.EnvPort+")")
	runCmd.Flags().IntVar(&runBaud, "baud", 0, "Baud rate (overrides "+config.EnvBaud+")")
	runCmd.Flags().StringVar(&runOnPrompt, "on-prompt", promptAsk, "Answer for prompt-strategy failures (ask, stop, continue)")
	runCmd.Flags().BoolVar(&runRecord, "record", false, "Save execution reports to the history store")
	runCmd.Flags().BoolVar(&runEcho, "echo", false, "Echo raw device output")
}

// selectCases picks the cases a run covers: the one named by id, or every
// top-level case.
func selectCases(doc *testcase.Document, id string) ([]*testcase.TestCase, error) {
	if id != "" {
		tc := doc.Case(id)
		if tc == nil {
			return nil, fmt.Errorf("%w: %s", errCaseNotFound, id)
		}

		return []*testcase.TestCase{tc}, nil
	}

	if len(doc.Cases) == 0 {
		return nil, errNoCases
	}

	return doc.Cases, nil
}

func runPlan(ctx context.Context, opts runOptions) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	doc, report, err := testcase.NewLoader(Logger).LoadFile(opts.Path)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}

	cases, err := selectCases(doc, opts.CaseID)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, Logger, cfg, opts.Session)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			Logger.WithError(err).Warn("Failed to close session")
		}
	}()

	sess.formatter.PrintImportReport(report)

	if err := sess.registerTriggers(doc.Triggers); err != nil {
		return err
	}

	var store history.Store
	if opts.Record {
		store = history.NewStore(Logger, cfg.HistoryDSN)
		if err := store.Start(ctx); err != nil {
			return fmt.Errorf("starting history store: %w", err)
		}
		defer func() {
			if err := store.Stop(); err != nil {
				Logger.WithError(err).Warn("Failed to stop history store")
			}
		}()
	}

	watcher := newInterruptWatcher(Logger, sess.orchestrator.Pause)
	watcher.Start()
	defer watcher.Stop()

	prompter := interactive.NewPrompter(os.Stdin, os.Stdout)
	failed := false

	for _, tc := range cases {
		sess.formatter.PrintPhase(fmt.Sprintf("Running %s (%s)", tc.Name, tc.ID))

		watcher.Track(tc.ID)

		result, err := sess.orchestrator.Run(ctx, tc, engine.NewPauseToken())
		for err == nil && result.Paused {
			sess.formatter.PrintResult(result)

			if !prompter.Confirm(fmt.Sprintf("Run of %s paused. Resume?", tc.ID)) {
				break
			}

			watcher.Track(tc.ID)
			result, err = sess.orchestrator.Resume(ctx, tc.ID, engine.NewPauseToken())
		}

		if err != nil {
			return fmt.Errorf("running %s: %w", tc.ID, err)
		}

		if result.Paused {
			sess.formatter.PrintWarning(fmt.Sprintf("Run of %s left paused", tc.ID))
			failed = true
			break
		}

		sess.formatter.PrintResult(result)

		if !result.Success() {
			failed = true
		}

		if store != nil {
			if err := store.Save(ctx, result); err != nil {
				sess.formatter.PrintError("Failed to record run", err)
			}
		}
	}

	watcher.Track("")
	sess.formatter.PrintSummary(sess.metrics.GetSummary())

	if failed {
		return errRunFailed
	}

	return nil
}
