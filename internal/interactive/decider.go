package interactive

import (
	"context"
	"fmt"
	"sync"

	"github.com/AlecAivazis/survey/v2"
	"github.com/ethpandaops/atrunner/internal/policy"
)

const (
	choiceContinue = "Continue"
	choiceStop     = "Stop"
)

// PromptDecider asks the operator whether to continue after a failure.
type PromptDecider struct {
	prompter *Prompter
	// mu keeps concurrent runs from interleaving prompts.
	mu sync.Mutex
}

// NewPromptDecider returns a decider backed by p.
func NewPromptDecider(p *Prompter) *PromptDecider {
	return &PromptDecider{prompter: p}
}

// Decide implements policy.Decider.
func (d *PromptDecider) Decide(ctx context.Context, p policy.Prompt) (policy.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	message := fmt.Sprintf("%s: %q failed (%s). Continue?", p.CaseName, p.Failure.Command, p.Failure.Error)

	type answer struct {
		choice string
		err    error
	}

	done := make(chan answer, 1)
	go func() {
		var choice string
		err := d.prompter.ask(&survey.Select{
			Message: message,
			Options: []string{choiceContinue, choiceStop},
			Default: choiceStop,
		}, &choice)
		done <- answer{choice: choice, err: err}
	}()

	select {
	case <-ctx.Done():
		return policy.DecisionStop, ctx.Err()
	case a := <-done:
		if a.err != nil {
			return policy.DecisionStop, fmt.Errorf("asking for decision: %w", a.err)
		}

		if a.choice == choiceContinue {
			return policy.DecisionContinue, nil
		}

		return policy.DecisionStop, nil
	}
}

var _ policy.Decider = (*PromptDecider)(nil)
