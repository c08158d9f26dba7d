package urc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/atrunner/internal/bus"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	firings []Firing
	done    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 16)}
}

func (r *recorder) handle(_ context.Context, f Firing) error {
	r.mu.Lock()
	r.firings = append(r.firings, f)
	r.mu.Unlock()
	r.done <- struct{}{}

	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.firings)
}

func newTestMatcher(t *testing.T, handler ActionHandler) *Matcher {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	m := NewMatcher(log, bus.New(0), handler)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, m.Stop()) })

	return m
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for firing")
	}
}

func TestMatcher_FiresOncePerRun(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	m := newTestMatcher(t, rec.handle)
	require.NoError(t, m.RegisterTrigger(&testcase.Trigger{ID: "ring", Pattern: `RING`}))

	ectx := testcase.NewExecutionContext()
	m.OnData("modem", []byte("\r\nRING\r\n"), ectx)
	m.OnData("modem", []byte("\r\nRING\r\n"), ectx)
	waitFor(t, rec.done)

	assert.Equal(t, 1, rec.count())
	assert.True(t, ectx.Triggered("ring"))

	// A new run gets a fresh context and may fire again.
	ectx.Reset()
	m.Reset()
	m.OnData("modem", []byte("RING"), ectx)
	waitFor(t, rec.done)
	assert.Equal(t, 2, rec.count())
}

func TestMatcher_MatchesAcrossChunks(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	m := newTestMatcher(t, rec.handle)
	require.NoError(t, m.RegisterTrigger(&testcase.Trigger{ID: "sms", Pattern: `\+CMTI: "SM",\d+`}))

	ectx := testcase.NewExecutionContext()
	m.OnData("modem", []byte(`+CM`), ectx)
	m.OnData("modem", []byte(`TI: "SM",`), ectx)
	m.OnData("modem", []byte("3\r\n"), ectx)
	waitFor(t, rec.done)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, `+CMTI: "SM",3`, rec.firings[0].Match)
	assert.Equal(t, "modem", rec.firings[0].Channel)
	assert.Same(t, ectx, rec.firings[0].Context)
}

func TestMatcher_ChannelFilter(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	m := newTestMatcher(t, rec.handle)
	require.NoError(t, m.RegisterTrigger(&testcase.Trigger{ID: "gps", Pattern: `\$GPGGA`, Channel: "gnss"}))

	ectx := testcase.NewExecutionContext()
	m.OnData("modem", []byte("$GPGGA,"), ectx)
	assert.False(t, ectx.Triggered("gps"))

	m.OnData("gnss", []byte("$GPGGA,"), ectx)
	waitFor(t, rec.done)
	assert.Equal(t, 1, rec.count())
}

func TestMatcher_WindowIsBounded(t *testing.T) {
	t.Parallel()

	m := NewMatcher(logrus.New(), nil, nil)
	ectx := testcase.NewExecutionContext()

	big := make([]byte, WindowSize*2)
	for i := range big {
		big[i] = 'x'
	}

	m.OnData("modem", big, ectx)
	m.OnData("modem", []byte("tail"), ectx)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.windows["modem"], WindowSize)
	assert.Equal(t, "tail", string(m.windows["modem"][WindowSize-4:]))
}

func TestMatcher_RegisterTriggerErrors(t *testing.T) {
	t.Parallel()

	m := NewMatcher(logrus.New(), nil, nil)

	require.ErrorIs(t, m.RegisterTrigger(&testcase.Trigger{Pattern: "x"}), ErrInvalidTrigger)
	require.ErrorIs(t, m.RegisterTrigger(&testcase.Trigger{ID: "a", Pattern: "("}), ErrInvalidTrigger)
	require.NoError(t, m.RegisterTrigger(&testcase.Trigger{ID: "a", Pattern: "A"}))
	require.ErrorIs(t, m.RegisterTrigger(&testcase.Trigger{ID: "a", Pattern: "B"}), ErrDuplicateTrigger)
	assert.Len(t, m.Triggers(), 1)
}

func TestMatcher_HandlerErrorIsPublished(t *testing.T) {
	t.Parallel()

	done := make(chan struct{}, 1)
	b := bus.New(0)
	b.Subscribe(func(msg bus.Message) {
		if msg.Kind == bus.KindWarn {
			done <- struct{}{}
		}
	})

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	m := NewMatcher(log, b, func(context.Context, Firing) error {
		return errors.New("boom")
	})
	require.NoError(t, m.Start(context.Background()))
	defer func() { require.NoError(t, m.Stop()) }()

	require.NoError(t, m.RegisterTrigger(&testcase.Trigger{ID: "ring", Pattern: "RING"}))
	m.OnData("modem", []byte("RING"), testcase.NewExecutionContext())

	waitFor(t, done)
}
