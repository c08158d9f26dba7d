// Package interactive provides terminal prompts: the main menu, case
// selection, and the stop/continue decision for the prompt strategy.
package interactive

import (
	"errors"
	"fmt"
	"io"

	"github.com/AlecAivazis/survey/v2"
	"github.com/ethpandaops/atrunner/internal/testcase"
)

// MenuOption represents a menu item with its associated action
type MenuOption struct {
	Name        string
	Description string
	Action      func() error
}

var (
	// ErrExit is returned when the user chooses to exit
	ErrExit = errors.New("exit")
	// ErrInvalidSelection is returned when an invalid menu option is selected
	ErrInvalidSelection = errors.New("invalid selection")
)

// AskFunc matches survey.AskOne.
type AskFunc func(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error

// Prompter asks questions on the terminal.
type Prompter struct {
	ask AskFunc
	in  io.Reader
	out io.Writer
}

// NewPrompter returns a prompter that asks through survey.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{ask: survey.AskOne, in: in, out: out}
}

// ShowMainMenu displays the main menu and handles user selection
func (p *Prompter) ShowMainMenu(options []MenuOption) error {
	choices := make([]string, 0, len(options)+1)
	optionMap := make(map[string]MenuOption)

	for _, opt := range options {
		choice := fmt.Sprintf("%s - %s", opt.Name, opt.Description)
		choices = append(choices, choice)
		optionMap[choice] = opt
	}

	choices = append(choices, "Exit")

	var selected string
	prompt := &survey.Select{
		Message: "What would you like to do?",
		Options: choices,
	}

	if err := p.ask(prompt, &selected); err != nil {
		return ErrExit
	}

	if selected == "Exit" {
		return ErrExit
	}

	if option, ok := optionMap[selected]; ok {
		return option.Action()
	}

	return ErrInvalidSelection
}

// SelectCase asks for one of the document's top-level cases.
func (p *Prompter) SelectCase(doc *testcase.Document) (*testcase.TestCase, error) {
	if len(doc.Cases) == 0 {
		return nil, ErrInvalidSelection
	}

	choices := make([]string, 0, len(doc.Cases))
	byChoice := make(map[string]*testcase.TestCase, len(doc.Cases))

	for _, tc := range doc.Cases {
		choice := fmt.Sprintf("%d. %s (%s)", tc.DisplayID, tc.Name, tc.ID)
		choices = append(choices, choice)
		byChoice[choice] = tc
	}

	var selected string
	if err := p.ask(&survey.Select{Message: "Which case should run?", Options: choices}, &selected); err != nil {
		return nil, err
	}

	tc, ok := byChoice[selected]
	if !ok {
		return nil, ErrInvalidSelection
	}

	return tc, nil
}

// Input asks for a line of text.
func (p *Prompter) Input(message, def string) (string, error) {
	answer := def
	if err := p.ask(&survey.Input{Message: message, Default: def}, &answer); err != nil {
		return "", err
	}

	return answer, nil
}

// PauseForEnter waits for the user to press Enter
func (p *Prompter) PauseForEnter() {
	fmt.Fprintln(p.out, "\nPress Enter to continue...")
	_, _ = fmt.Fscanln(p.in)
}

// Confirm asks for user confirmation
func (p *Prompter) Confirm(message string) bool {
	confirmed := false
	prompt := &survey.Confirm{
		Message: message,
		Default: false,
	}
	_ = p.ask(prompt, &confirmed)
	return confirmed
}
