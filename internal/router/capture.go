package router

import (
	"bytes"
	"sync"
)

// Capture is one open capture window.
type Capture struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	notify   chan struct{}
	listener func(chunk []byte)
}

func newCapture() *Capture {
	return &Capture{notify: make(chan struct{}, 1)}
}

// Notify is signalled (coalesced) whenever new bytes arrive.
func (c *Capture) Notify() <-chan struct{} {
	return c.notify
}

// SetListener registers a function called with each captured chunk.
func (c *Capture) SetListener(fn func(chunk []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listener = fn
}

// Bytes returns a copy of everything captured so far.
func (c *Capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.buf.Bytes()...)
}

// Mark returns the current end of the window. Pass it to Since to read only
// the bytes that arrive afterwards.
func (c *Capture) Mark() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.buf.Len()
}

// Since returns a copy of the bytes captured after mark. The window itself
// keeps everything until it is closed.
func (c *Capture) Since(mark int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.buf.Bytes()
	if mark < 0 || mark > len(data) {
		mark = len(data)
	}

	return append([]byte(nil), data[mark:]...)
}

func (c *Capture) write(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(chunk)
}

// signal runs after the router lock is released so a listener may call back
// into the router.
func (c *Capture) signal(chunk []byte) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(chunk)
	}

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Capture) drain() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := append([]byte(nil), c.buf.Bytes()...)
	c.buf.Reset()

	return data
}
