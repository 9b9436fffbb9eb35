// Package sink holds the outlets that receive inbound NATS messages.
//
// Every message that arrives on a subscribed subject and passes validation
// becomes a Record and is handed to exactly one Sink.Deliver call. Available
// sinks:
//
//   - Writer: JSON lines on stdout or appended to a file
//   - Webhook: HTTP POST per record, retried with backoff on 5xx and network errors
//   - WebSocket: broadcast to every connected websocket client; slow clients are dropped
//   - Multi: fan-out to several sinks
//   - Func: adapter for tests and embedding
//
// Each record is encoded as
//
//	{"topic":"sensors.temp","payload":{"c":21}}
package sink
