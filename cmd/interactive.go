package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethpandaops/atrunner/internal/config"
	"github.com/ethpandaops/atrunner/internal/interactive"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/spf13/cobra"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Launch interactive mode",
	Long:  `Launches the interactive menu for atrunner.`,
	Run: func(_ *cobra.Command, _ []string) {
		RunInteractive()
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}

// RunInteractive shows the main menu until the user exits.
func RunInteractive() {
	fmt.Println("atrunner - Interactive Mode")
	fmt.Println("===========================")
	fmt.Println()

	prompter := interactive.NewPrompter(os.Stdin, os.Stdout)

	// report prints an action error and waits, so the menu never exits on failure.
	report := func(err error) error {
		if err != nil {
			fmt.Printf("\n❌ Error: %v\n", err)
		}
		prompter.PauseForEnter()
		return nil
	}

	for {
		options := []interactive.MenuOption{
			{
				Name:        "Run",
				Description: "Run a case from a plan file",
				Action: func() error {
					return report(interactiveRun(prompter))
				},
			},
			{
				Name:        "Validate",
				Description: "Check a plan file without running it",
				Action: func() error {
					path, err := prompter.Input("Plan file", "")
					if err != nil {
						return report(err)
					}
					return report(validatePlan(path))
				},
			},
			{
				Name:        "Ports",
				Description: "List local serial ports",
				Action: func() error {
					return report(listPorts())
				},
			},
			{
				Name:        "History",
				Description: "Show recently recorded runs",
				Action: func() error {
					return report(showHistory(context.Background(), 20))
				},
			},
			{
				Name:        "Show Config",
				Description: "Display current environment configuration",
				Action: func() error {
					return report(showConfig())
				},
			},
		}

		if err := prompter.ShowMainMenu(options); err != nil {
			if errors.Is(err, interactive.ErrExit) {
				fmt.Println("Goodbye!")
				return
			}
			Logger.WithError(err).Fatal("interactive mode failed")
		}

		fmt.Println()
	}
}

func interactiveRun(prompter *interactive.Prompter) error {
	path, err := prompter.Input("Plan file", "")
	if err != nil {
		return err
	}

	doc, _, err := testcase.NewLoader(Logger).LoadFile(path)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}

	tc, err := prompter.SelectCase(doc)
	if err != nil {
		return err
	}

	port, err := prompter.Input("Serial port", os.Getenv(config.EnvPort))
	if err != nil {
		return err
	}

	return runPlan(context.Background(), runOptions{
		Path:   path,
		CaseID: tc.ID,
		Session: sessionOptions{
			Port:     port,
			OnPrompt: promptAsk,
			Verbose:  verbose,
		},
		Record: prompter.Confirm("Record the report to history?"),
	})
}
