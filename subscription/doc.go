// Package subscription keeps one consumer loop per subscribed NATS subject.
//
// Registry.Subscribe is idempotent: the first call for a subject opens a
// synchronous subscription and starts a goroutine reading from it, later
// calls return nil while that goroutine is alive. Each goroutine validates
// inbound payloads (UTF-8, then JSON), drops and counts the ones that fail,
// and pushes the rest onto a bounded channel. A single dispatcher drains the
// channel into the configured sink.Sink, so a slow sink pushes back on the
// consumers instead of growing memory.
//
// A consumer that fails removes its own entry. When the failure is the NATS
// connection closing, the subject is remembered and subscribed again after
// the next fresh connection reported by the Bus.
package subscription
