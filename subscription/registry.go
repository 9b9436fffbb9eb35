package subscription

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/metric"
	"github.com/c360/natsbridge/natsclient"
	"github.com/c360/natsbridge/pkg/retry"
	"github.com/c360/natsbridge/sink"
)

// Drop reasons recorded on the messages_dropped_total metric
const (
	DropInvalidUTF8   = "invalid_utf8"
	DropInvalidJSON   = "invalid_json"
	DropSlowConsumer  = "slow_consumer"
	defaultBufferSize = 256

	// resubscribeConcurrency bounds parallel resubscribes after a reconnect
	resubscribeConcurrency = 8
)

// Bus is the part of the connection supervisor the registry needs.
// *natsclient.Client implements it.
type Bus interface {
	EnsureConnected(ctx context.Context) error
	SubscribeSync(subject string) (natsclient.Subscription, error)
	OnConnect(fn func())
}

// Registry owns one consumer loop per subscribed subject and forwards the
// messages they receive to a sink.
type Registry struct {
	bus     Bus
	out     sink.Sink
	logger  *slog.Logger
	metrics *metric.Metrics

	bufferSize  int
	resubscribe bool
	dropLog     *rate.Limiter // drop warnings; the metric counts every drop

	mu      sync.Mutex
	entries map[string]*entry
	stale   map[string]struct{}
	closed  bool

	records      chan sink.Record
	ctx          context.Context
	cancel       context.CancelFunc
	deliverCtx   context.Context
	stopDeliver  context.CancelFunc
	consumers    sync.WaitGroup
	background   sync.WaitGroup
	dispatchDone chan struct{}
	closeOnce    sync.Once
}

type entry struct {
	subject string
	sub     natsclient.Subscription
	cancel  context.CancelFunc
}

// Option configures a Registry
type Option func(*Registry)

// WithBufferSize sets the capacity of the channel between consumers and the sink
func WithBufferSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithResubscribe controls whether subjects lost with a closed connection
// are subscribed again after the next fresh connection
func WithResubscribe(enabled bool) Option {
	return func(r *Registry) {
		r.resubscribe = enabled
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records delivery, drop and subscription metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a registry forwarding to out and starts its dispatcher
func NewRegistry(bus Bus, out sink.Sink, opts ...Option) *Registry {
	r := &Registry{
		bus:          bus,
		out:          out,
		logger:       slog.Default(),
		bufferSize:   defaultBufferSize,
		resubscribe:  true,
		entries:      make(map[string]*entry),
		stale:        make(map[string]struct{}),
		dispatchDone: make(chan struct{}),
		dropLog:      rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With("component", "subscription")
	r.records = make(chan sink.Record, r.bufferSize)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.deliverCtx, r.stopDeliver = context.WithCancel(context.Background())

	if r.resubscribe {
		bus.OnConnect(r.resubscribeStale)
	}

	go r.dispatch()
	return r
}

// Subscribe makes sure a consumer loop is running for subject. Subscribing
// to a subject that already has an active loop is a successful no-op.
func (r *Registry) Subscribe(ctx context.Context, subject string) error {
	if r.isClosed() {
		return errors.WrapTransient(errors.ErrShuttingDown, "Registry", "Subscribe", "check registry state")
	}

	if err := r.bus.EnsureConnected(ctx); err != nil {
		return errors.Wrap(err, "Registry", "Subscribe", "ensure connection")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.WrapTransient(errors.ErrShuttingDown, "Registry", "Subscribe", "check registry state")
	}
	if _, ok := r.entries[subject]; ok {
		return nil
	}

	sub, err := r.bus.SubscribeSync(subject)
	if err != nil {
		return errors.Wrap(err, "Registry", "Subscribe", fmt.Sprintf("open subscription on %s", subject))
	}

	consumerCtx, cancel := context.WithCancel(r.ctx)
	e := &entry{subject: subject, sub: sub, cancel: cancel}
	r.entries[subject] = e
	delete(r.stale, subject)

	r.consumers.Add(1)
	go r.consume(consumerCtx, e)

	r.metrics.SetActiveSubscriptions(len(r.entries))
	r.logger.Info("subscribed", "subject", subject)
	return nil
}

// consume forwards messages until the subscription fails or ctx is cancelled
func (r *Registry) consume(ctx context.Context, e *entry) {
	defer r.consumers.Done()

	for {
		msg, err := e.sub.NextMsgWithContext(ctx)
		if err != nil {
			if stderrors.Is(err, nats.ErrSlowConsumer) {
				r.metrics.RecordDropped(DropSlowConsumer)
				if r.dropLog.Allow() {
					r.logger.Warn("slow consumer, messages dropped by client", "subject", e.subject)
				}
				continue
			}
			r.finish(ctx, e, err)
			return
		}

		payload, reason := decode(msg.Data)
		if reason != "" {
			r.metrics.RecordDropped(reason)
			if r.dropLog.Allow() {
				r.logger.Warn("dropping inbound message", "subject", e.subject, "reason", reason, "size", len(msg.Data))
			}
			continue
		}

		select {
		case r.records <- sink.Record{Subject: e.subject, Payload: payload}:
		case <-ctx.Done():
			r.finish(ctx, e, ctx.Err())
			return
		}
	}
}

// finish removes e from the registry. Subjects lost because the connection
// closed are remembered for resubscription.
func (r *Registry) finish(ctx context.Context, e *entry, cause error) {
	e.cancel()
	_ = e.sub.Unsubscribe()

	lostConnection := stderrors.Is(cause, nats.ErrConnectionClosed) ||
		stderrors.Is(cause, nats.ErrBadSubscription)

	r.mu.Lock()
	if r.entries[e.subject] == e {
		delete(r.entries, e.subject)
	}
	stopping := r.closed
	if lostConnection && r.resubscribe && !stopping {
		r.stale[e.subject] = struct{}{}
	}
	active := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetActiveSubscriptions(active)

	if lostConnection {
		cause = fmt.Errorf("%w: %w", errors.ErrConnectionLost, cause)
	}
	if ctx.Err() != nil || stopping {
		r.logger.Debug("subscription stopped", "subject", e.subject)
		return
	}
	r.metrics.RecordSubscriptionFault()
	r.logger.Warn("subscription ended", "subject", e.subject, "error", cause, "will_resubscribe", lostConnection && r.resubscribe)
}

// decode validates an inbound payload and returns a private copy of it, or
// the drop reason.
func decode(data []byte) (json.RawMessage, string) {
	if !utf8.Valid(data) {
		return nil, DropInvalidUTF8
	}
	if !json.Valid(data) {
		return nil, DropInvalidJSON
	}
	payload := make(json.RawMessage, len(data))
	copy(payload, data)
	return payload, ""
}

// dispatch hands every record to the sink, one Deliver call per record
func (r *Registry) dispatch() {
	defer close(r.dispatchDone)

	for rec := range r.records {
		if err := r.out.Deliver(r.deliverCtx, rec); err != nil {
			r.metrics.RecordSinkError()
			r.logger.Error("sink delivery failed", "subject", rec.Subject, "error", err)
			continue
		}
		r.metrics.RecordDelivered()
	}
}

// resubscribeStale runs after every fresh connection
func (r *Registry) resubscribeStale() {
	r.mu.Lock()
	if r.closed || len(r.stale) == 0 {
		r.mu.Unlock()
		return
	}
	subjects := make([]string, 0, len(r.stale))
	for subject := range r.stale {
		subjects = append(subjects, subject)
	}
	r.stale = make(map[string]struct{})
	r.background.Add(1)
	r.mu.Unlock()

	defer r.background.Done()
	sort.Strings(subjects)
	r.logger.Info("resubscribing after reconnect", "subjects", subjects)

	var g errgroup.Group
	g.SetLimit(resubscribeConcurrency)
	for _, subject := range subjects {
		g.Go(func() error {
			err := retry.Do(r.ctx, retry.Quick(), func(ctx context.Context) error {
				err := r.Subscribe(ctx, subject)
				if err != nil && !errors.IsTransient(err) {
					return retry.NonRetryable(err)
				}
				return err
			})
			if err != nil {
				r.logger.Warn("resubscribe failed", "subject", subject, "error", err)
				r.mu.Lock()
				if !r.closed {
					r.stale[subject] = struct{}{}
				}
				r.mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Subjects returns the actively consumed subjects, sorted
func (r *Registry) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subjects := make([]string, 0, len(r.entries))
	for subject := range r.entries {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

// Stale returns the subjects waiting for resubscription, sorted
func (r *Registry) Stale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subjects := make([]string, 0, len(r.stale))
	for subject := range r.stale {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

// Active reports whether subject has a running consumer loop
func (r *Registry) Active(subject string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[subject]
	return ok
}

// Len returns the number of active subscriptions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stop refuses new subscriptions and marks the registry as shutting down
// without waiting. Consumer loops that end afterwards, for example because
// the connection is closed under them, are not counted as faults and are
// not resubscribed. Close must still be called.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.closed = true
	r.stale = make(map[string]struct{})
	r.mu.Unlock()
}

// Close stops every consumer loop, lets the dispatcher deliver what is
// already buffered and waits for both, bounded by ctx. The sink is not
// closed. Close is idempotent.
func (r *Registry) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.Stop()
		r.cancel()

		go func() {
			r.consumers.Wait()
			r.background.Wait()
			close(r.records)
		}()
	})

	select {
	case <-r.dispatchDone:
		r.metrics.SetActiveSubscriptions(0)
		return nil
	case <-ctx.Done():
		r.stopDeliver()
		return errors.WrapTransient(ctx.Err(), "Registry", "Close", "wait for consumers")
	}
}
