package pktqueue

import (
	"sync"
)

// Handle is the buffer reserved for one neighbor's pending outbound packet.
type Handle struct {
	buf      []byte
	released bool
}

// Pool hands out packet handles and tracks how many are in use.
type Pool struct {
	mu      sync.Mutex
	bufSize int
	inUse   int
}

func NewPool(bufSize int) *Pool {
	return &Pool{bufSize: bufSize}
}

func (p *Pool) Alloc() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse++
	return &Handle{buf: make([]byte, 0, p.bufSize)}
}

// Release frees the buffer. Releasing a handle twice is a no-op.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if h.released {
		return
	}
	h.released = true
	h.buf = nil
	p.inUse--
}

// InUse reports the number of allocated, unreleased handles.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
