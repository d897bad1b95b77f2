package transport

import (
	"sync"
	"sync/atomic"

	"parlance/pkg/protocol"
)

// pendingCalls tracks in-flight requests awaiting a correlated reply. Every
// waiter is failed promptly when the connection closes so callers never sit
// out a full timeout against a dead peer.
type pendingCalls struct {
	mu      sync.Mutex
	nextSeq uint32
	waiting map[uint32]chan protocol.Envelope
	failed  error
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{waiting: make(map[uint32]chan protocol.Envelope)}
}

// register allocates a sequence number and a reply channel for it. It returns
// an error if the connection already failed.
func (p *pendingCalls) register() (uint32, chan protocol.Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed != nil {
		return 0, nil, p.failed
	}
	seq := atomic.AddUint32(&p.nextSeq, 1)
	ch := make(chan protocol.Envelope, 1)
	p.waiting[seq] = ch
	return seq, ch, nil
}

// resolve delivers a reply to the waiter registered for env.Ack. It reports
// whether anyone was waiting; unmatched replies fall through to the normal
// message path.
func (p *pendingCalls) resolve(env protocol.Envelope) bool {
	p.mu.Lock()
	ch, ok := p.waiting[env.Ack]
	if ok {
		delete(p.waiting, env.Ack)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- env
	return true
}

// forget drops a waiter that gave up (timeout or caller cancellation).
func (p *pendingCalls) forget(seq uint32) {
	p.mu.Lock()
	delete(p.waiting, seq)
	p.mu.Unlock()
}

// failAll closes every waiter's channel and poisons further registration.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed == nil {
		p.failed = err
	}
	for seq, ch := range p.waiting {
		close(ch)
		delete(p.waiting, seq)
	}
}
