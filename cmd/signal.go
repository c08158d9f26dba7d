package cmd

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// interruptWatcher pauses the active run on the first interrupt and exits
// on the second.
type interruptWatcher struct {
	log   logrus.FieldLogger
	pause func(caseID string) bool
	exit  func(code int)

	mu      sync.Mutex
	current string
	count   int

	sigChan chan os.Signal
	done    chan struct{}
}

func newInterruptWatcher(log logrus.FieldLogger, pause func(caseID string) bool) *interruptWatcher {
	return &interruptWatcher{
		log:   log,
		pause: pause,
		exit:  os.Exit,
		done:  make(chan struct{}),
	}
}

// Start installs the signal handler.
func (w *interruptWatcher) Start() {
	w.sigChan = make(chan os.Signal, 2)
	signal.Notify(w.sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case <-w.done:
				return
			case <-w.sigChan:
				w.interrupt()
			}
		}
	}()
}

// Stop removes the signal handler.
func (w *interruptWatcher) Stop() {
	signal.Stop(w.sigChan)
	close(w.done)
}

// Track marks caseID as the run the next interrupt pauses.
func (w *interruptWatcher) Track(caseID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.current = caseID
	w.count = 0
}

func (w *interruptWatcher) interrupt() {
	w.mu.Lock()
	w.count++
	count, current := w.count, w.current
	w.mu.Unlock()

	if count == 1 && current != "" && w.pause(current) {
		w.log.Warn("Received interrupt signal, pausing after the current command (press Ctrl+C again to exit)")
		return
	}

	w.log.Warn("Received interrupt signal, exiting")
	// Exit code 130 = 128 + SIGINT(2)
	w.exit(130)
}
