package interactive

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/ethpandaops/atrunner/internal/policy"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted answers prompts in order with the given values.
func scripted(answers ...interface{}) AskFunc {
	return func(_ survey.Prompt, response interface{}, _ ...survey.AskOpt) error {
		if len(answers) == 0 {
			return terminal.InterruptErr
		}

		next := answers[0]
		answers = answers[1:]

		if err, ok := next.(error); ok {
			return err
		}

		reflect.ValueOf(response).Elem().Set(reflect.ValueOf(next))

		return nil
	}
}

func newTestPrompter(ask AskFunc) *Prompter {
	return &Prompter{ask: ask, in: strings.NewReader("\n"), out: &bytes.Buffer{}}
}

func TestPromptDecider(t *testing.T) {
	t.Parallel()

	prompt := policy.Prompt{CaseName: "boot", Failure: testcase.FailureRecord{Command: "AT", Error: "timeout"}}

	d := NewPromptDecider(newTestPrompter(scripted(choiceContinue, choiceStop, errors.New("no tty"))))

	got, err := d.Decide(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionContinue, got)

	got, err = d.Decide(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionStop, got)

	got, err = d.Decide(context.Background(), prompt)
	require.Error(t, err)
	assert.Equal(t, policy.DecisionStop, got)
}

func TestPromptDecider_HonoursContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)

	d := NewPromptDecider(newTestPrompter(func(survey.Prompt, interface{}, ...survey.AskOpt) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := d.Decide(ctx, policy.Prompt{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, policy.DecisionStop, got)
}

func TestShowMainMenu(t *testing.T) {
	t.Parallel()

	called := false
	options := []MenuOption{{Name: "Run", Description: "run a case", Action: func() error {
		called = true
		return nil
	}}}

	require.NoError(t, newTestPrompter(scripted("Run - run a case")).ShowMainMenu(options))
	assert.True(t, called)

	require.ErrorIs(t, newTestPrompter(scripted("Exit")).ShowMainMenu(options), ErrExit)
	require.ErrorIs(t, newTestPrompter(scripted()).ShowMainMenu(options), ErrExit)
	require.ErrorIs(t, newTestPrompter(scripted("Bogus")).ShowMainMenu(options), ErrInvalidSelection)
}

func TestSelectCase(t *testing.T) {
	t.Parallel()

	boot := testcase.NewTestCase("boot", "Boot")
	boot.DisplayID = 1
	doc := &testcase.Document{Cases: []*testcase.TestCase{boot}}

	got, err := newTestPrompter(scripted("1. Boot (boot)")).SelectCase(doc)
	require.NoError(t, err)
	assert.Same(t, boot, got)

	_, err = newTestPrompter(scripted()).SelectCase(&testcase.Document{})
	require.ErrorIs(t, err, ErrInvalidSelection)
}

func TestConfirmAndInput(t *testing.T) {
	t.Parallel()

	assert.True(t, newTestPrompter(scripted(true)).Confirm("sure?"))
	assert.False(t, newTestPrompter(scripted()).Confirm("sure?"))

	got, err := newTestPrompter(scripted("/dev/ttyUSB0")).Input("Port", "")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", got)

	p := newTestPrompter(scripted())
	p.PauseForEnter()
	assert.Contains(t, p.out.(*bytes.Buffer).String(), "Press Enter")
}
