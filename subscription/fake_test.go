package subscription

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/natsclient"
)

// fakeBus is an in-memory Bus. Messages published to a subject reach every
// open fakeSub on that exact subject.
type fakeBus struct {
	mu         sync.Mutex
	connectErr error
	subErr     error
	ensures    int
	subscribes int
	subs       map[string][]*fakeSub
	onConnect  []func()
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string][]*fakeSub)}
}

func (b *fakeBus) EnsureConnected(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensures++
	return b.connectErr
}

func (b *fakeBus) SubscribeSync(subject string) (natsclient.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	if b.subErr != nil {
		return nil, b.subErr
	}
	s := &fakeSub{subject: subject, msgs: make(chan *nats.Msg, 64), done: make(chan struct{})}
	b.subs[subject] = append(b.subs[subject], s)
	return s, nil
}

func (b *fakeBus) OnConnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect = append(b.onConnect, fn)
}

func (b *fakeBus) setConnectErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

func (b *fakeBus) counts() (ensures, subscribes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensures, b.subscribes
}

func (b *fakeBus) publish(subject string, data []byte) {
	b.mu.Lock()
	subs := append([]*fakeSub(nil), b.subs[subject]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(&nats.Msg{Subject: subject, Data: data})
	}
}

// fail terminates every open subscription on subject with err
func (b *fakeBus) fail(subject string, err error) {
	b.mu.Lock()
	subs := b.subs[subject]
	delete(b.subs, subject)
	b.mu.Unlock()

	for _, s := range subs {
		s.terminate(err)
	}
}

// closeConnection terminates every subscription the way a closed NATS
// connection does
func (b *fakeBus) closeConnection() {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string][]*fakeSub)
	b.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			s.terminate(nats.ErrConnectionClosed)
		}
	}
}

// reconnect runs the connect observers synchronously
func (b *fakeBus) reconnect() {
	b.mu.Lock()
	observers := append([]func(){}, b.onConnect...)
	b.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// markSlow makes the next read on subject report a slow consumer
func (b *fakeBus) markSlow(subject string) {
	b.mu.Lock()
	subs := append([]*fakeSub(nil), b.subs[subject]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.slow = true
		s.mu.Unlock()
	}
}

func (b *fakeBus) open(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[subject])
}

type fakeSub struct {
	subject string
	msgs    chan *nats.Msg
	done    chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
	slow   bool
}

func (s *fakeSub) deliver(msg *nats.Msg) {
	select {
	case s.msgs <- msg:
	case <-s.done:
	}
}

func (s *fakeSub) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}

func (s *fakeSub) NextMsgWithContext(ctx context.Context) (*nats.Msg, error) {
	s.mu.Lock()
	if s.slow {
		s.slow = false
		s.mu.Unlock()
		return nil, nats.ErrSlowConsumer
	}
	s.mu.Unlock()

	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSub) Unsubscribe() error {
	s.terminate(nats.ErrBadSubscription)
	return nil
}

var errBusDown = errors.WrapTransient(errors.ErrBusUnavailable, "fakeBus", "EnsureConnected", "connect")
