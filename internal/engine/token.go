package engine

import "sync/atomic"

// PauseToken is the cancellation token of one top-level run. Revoking it
// pauses the run at the next command or repeat boundary. A command already
// waiting for its response finishes its own timeout and retry cycle first.
type PauseToken struct {
	revoked atomic.Bool
}

// NewPauseToken returns a live token.
func NewPauseToken() *PauseToken {
	return &PauseToken{}
}

// Revoke requests a pause.
func (t *PauseToken) Revoke() {
	t.revoked.Store(true)
}

// Revoked reports whether a pause was requested.
func (t *PauseToken) Revoked() bool {
	return t.revoked.Load()
}
