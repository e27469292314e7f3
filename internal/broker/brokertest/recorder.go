// Package brokertest provides a recording broker.Backend for tests.
package brokertest

import (
	"context"
	"errors"
	"sync"

	"cart-service/internal/broker"
)

var ErrInjected = errors.New("brokertest: injected failure")

type Sent struct {
	Topic    string
	Envelope *broker.Envelope
}

// Recorder keeps every envelope it is asked to send.
type Recorder struct {
	mu      sync.Mutex
	sent    []Sent
	fail    bool
	panics  bool
	healthy bool
	closed  bool
}

func NewRecorder() *Recorder {
	return &Recorder{healthy: true}
}

// SetFail makes Send return ErrInjected.
func (r *Recorder) SetFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

// SetPanic makes Send panic.
func (r *Recorder) SetPanic(p bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panics = p
}

func (r *Recorder) SetHealthy(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = ok
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Topics lists the topics sent so far, in order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.Topic)
	}
	return out
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Init(ctx context.Context) error { return nil }

func (r *Recorder) Send(ctx context.Context, topic string, env *broker.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics {
		panic("brokertest: injected panic")
	}
	if r.fail {
		return ErrInjected
	}
	r.sent = append(r.sent, Sent{Topic: topic, Envelope: env})
	return nil
}

func (r *Recorder) Healthy(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

var _ broker.Backend = (*Recorder)(nil)
