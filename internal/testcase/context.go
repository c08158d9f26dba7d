package testcase

import (
	"sync"
)

// ExecutionContext is the per-run state shared by the commands of one
// top-level run: extracted parameters and the set of URC triggers that have
// already fired. Nested cases share the enclosing run's context.
type ExecutionContext struct {
	mu        sync.RWMutex
	params    map[string]string
	triggered map[string]struct{}
}

// NewExecutionContext returns an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		params:    make(map[string]string),
		triggered: make(map[string]struct{}),
	}
}

// Reset clears parameters and triggered URC ids. Only a top-level run entry
// calls this.
func (c *ExecutionContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.params = make(map[string]string)
	c.triggered = make(map[string]struct{})
}

// Param returns a stored parameter.
func (c *ExecutionContext) Param(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.params[name]

	return v, ok
}

// SetParams stores all values under one lock so readers never observe a
// partial update.
func (c *ExecutionContext) SetParams(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.params[k] = v
	}
}

// Params returns a copy of the stored parameters.
func (c *ExecutionContext) Params() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}

	return out
}

// MarkTriggered records that trigger id fired. It returns false when the
// trigger had already fired during this run.
func (c *ExecutionContext) MarkTriggered(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.triggered[id]; ok {
		return false
	}

	c.triggered[id] = struct{}{}

	return true
}

// Triggered reports whether trigger id has fired during this run.
func (c *ExecutionContext) Triggered(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.triggered[id]

	return ok
}
