package transport

import (
	"errors"
	"testing"

	"parlance/pkg/protocol"
)

func TestRegisterAllocatesDistinctSequences(t *testing.T) {
	p := newPendingCalls()

	seq1, _, err := p.register()
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	seq2, _, err := p.register()
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if seq1 == seq2 || seq1 == 0 || seq2 == 0 {
		t.Fatalf("sequence numbers must be distinct and nonzero: %d, %d", seq1, seq2)
	}
}

func TestResolveDeliversToWaiter(t *testing.T) {
	p := newPendingCalls()
	seq, ch, _ := p.register()

	env := protocol.Envelope{Type: protocol.MsgJoinResult, Ack: seq}
	if !p.resolve(env) {
		t.Fatalf("resolve should report a waiter")
	}
	got := <-ch
	if got.Type != protocol.MsgJoinResult || got.Ack != seq {
		t.Fatalf("delivered wrong envelope: %+v", got)
	}
}

func TestResolveUnmatchedAckFallsThrough(t *testing.T) {
	p := newPendingCalls()
	if p.resolve(protocol.Envelope{Ack: 42}) {
		t.Fatalf("an unmatched ack must fall through to the message path")
	}
}

func TestForgetDropsWaiter(t *testing.T) {
	p := newPendingCalls()
	seq, _, _ := p.register()
	p.forget(seq)

	if p.resolve(protocol.Envelope{Ack: seq}) {
		t.Fatalf("a forgotten waiter must not receive a late reply")
	}
}

func TestFailAllClosesWaitersAndPoisonsRegistration(t *testing.T) {
	p := newPendingCalls()
	_, ch, _ := p.register()

	cause := errors.New("connection lost")
	p.failAll(cause)

	if _, ok := <-ch; ok {
		t.Fatalf("waiter channel should be closed, not delivered to")
	}
	if _, _, err := p.register(); !errors.Is(err, cause) {
		t.Fatalf("registration after failure: got %v, want %v", err, cause)
	}
}

func TestFailAllKeepsFirstError(t *testing.T) {
	p := newPendingCalls()
	first := errors.New("first")
	p.failAll(first)
	p.failAll(errors.New("second"))

	if _, _, err := p.register(); !errors.Is(err, first) {
		t.Fatalf("got %v, want the first failure to stick", err)
	}
}
