package router

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, *bytes.Buffer) {
	t.Helper()

	r := New(logrus.New())
	display := &bytes.Buffer{}
	require.NoError(t, r.RegisterChannel("p0", display))

	return r, display
}

func TestRouter_RouteAlwaysReachesDisplay(t *testing.T) {
	t.Parallel()

	r, display := newTestRouter(t)

	require.NoError(t, r.Route("p0", []byte("boot\r\n")))
	assert.Equal(t, "boot\r\n", display.String())
	assert.False(t, r.Capturing("p0"))
}

func TestRouter_CaptureWindowMatchesDisplay(t *testing.T) {
	t.Parallel()

	r, display := newTestRouter(t)

	require.NoError(t, r.Route("p0", []byte("before ")))

	capture, err := r.OpenCapture("p0")
	require.NoError(t, err)

	var seen []string
	capture.SetListener(func(chunk []byte) { seen = append(seen, string(chunk)) })

	require.NoError(t, r.Route("p0", []byte("OK")))
	require.NoError(t, r.Route("p0", []byte("\r\n")))

	select {
	case <-capture.Notify():
	default:
		t.Fatal("expected capture notification")
	}

	data, err := r.CloseCapture("p0")
	require.NoError(t, err)
	assert.Equal(t, "OK\r\n", string(data))
	assert.Equal(t, []string{"OK", "\r\n"}, seen)

	require.NoError(t, r.Route("p0", []byte(" after")))
	assert.Equal(t, "before OK\r\n after", display.String())
	assert.Empty(t, capture.Bytes())
}

func TestRouter_SecondCaptureIsRejected(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	_, err := r.OpenCapture("p0")
	require.NoError(t, err)

	_, err = r.OpenCapture("p0")
	require.ErrorIs(t, err, ErrCaptureActive)

	_, err = r.CloseCapture("p0")
	require.NoError(t, err)

	_, err = r.CloseCapture("p0")
	require.ErrorIs(t, err, ErrNoCapture)
}

func TestRouter_AcquireCaptureWaitsForRelease(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	_, err := r.OpenCapture("p0")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		_, acquireErr := r.AcquireCapture(context.Background(), "p0")
		assert.NoError(t, acquireErr)
	}()

	select {
	case <-acquired:
		t.Fatal("acquired while another window was open")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = r.CloseCapture("p0")
	require.NoError(t, err)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not complete after release")
	}
}

func TestRouter_AcquireCaptureHonoursContext(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	_, err := r.OpenCapture("p0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = r.AcquireCapture(ctx, "p0")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouter_UnregisterReleasesWaiters(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	_, err := r.OpenCapture("p0")
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, acquireErr := r.AcquireCapture(context.Background(), "p0")
		errs <- acquireErr
	}()

	time.Sleep(10 * time.Millisecond)
	r.UnregisterChannel("p0")

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrUnknownChannel)
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after unregister")
	}

	require.ErrorIs(t, r.Route("p0", []byte("late")), ErrUnknownChannel)
	_, err = r.CloseCapture("p0")
	require.ErrorIs(t, err, ErrUnknownChannel)

	r.UnregisterChannel("p0")
	require.NoError(t, r.RegisterChannel("p0", nil))
}

func TestCapture_SinceMark(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	capture, err := r.OpenCapture("p0")
	require.NoError(t, err)

	require.NoError(t, r.Route("p0", []byte("ERROR\r\n")))
	mark := capture.Mark()
	require.NoError(t, r.Route("p0", []byte("OK\r\n")))

	assert.Equal(t, 7, mark)
	assert.Equal(t, "OK\r\n", string(capture.Since(mark)))
	assert.Equal(t, "ERROR\r\nOK\r\n", string(capture.Since(0)))
	assert.Empty(t, capture.Since(100))

	data, err := r.CloseCapture("p0")
	require.NoError(t, err)
	assert.Equal(t, "ERROR\r\nOK\r\n", string(data))
}

func TestRouter_UnknownChannel(t *testing.T) {
	t.Parallel()

	r := New(logrus.New())

	require.ErrorIs(t, r.Route("nope", []byte("x")), ErrUnknownChannel)
	_, err := r.OpenCapture("nope")
	require.ErrorIs(t, err, ErrUnknownChannel)
	require.NoError(t, r.RegisterChannel("p0", nil))
	require.ErrorIs(t, r.RegisterChannel("p0", nil), ErrChannelExists)
}

func TestRouter_ListenersSeeEveryChunk(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	require.NoError(t, r.RegisterChannel("p1", nil))

	var got []string
	unsubscribe := r.Subscribe(func(ch string, chunk []byte) {
		got = append(got, ch+":"+string(chunk))
	})

	require.NoError(t, r.Route("p0", []byte("a")))
	require.NoError(t, r.Route("p1", []byte("b")))
	unsubscribe()
	require.NoError(t, r.Route("p0", []byte("c")))

	assert.Equal(t, []string{"p0:a", "p1:b"}, got)
}
