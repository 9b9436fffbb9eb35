// Package errors provides the classified error model used across the bridge.
//
// # Overview
//
// Every error that crosses a component boundary is classified as Transient
// (the bus may come back, retry later), Invalid (the caller sent something
// wrong, do not retry) or Fatal (misconfiguration, stop). The gateway maps
// these classes to HTTP status codes; the subscription registry and the
// sinks use them to decide between dropping, logging and retrying.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers attach a class while preserving the chain for errors.Is:
//
//	errors.WrapTransient(err, "Client", "EnsureConnected", "connect")
//	errors.WrapInvalid(err, "Server", "handlePublish", "parse body")
//	errors.WrapFatal(err, "Config", "Validate", "check port")
//
// # Standard Error Variables
//
//   - Connection: ErrBusUnavailable, ErrConnectionLost, ErrConnectTimeout, ErrConnectionClose
//   - Subscriptions: ErrSubscriptionFailed
//   - Payloads: ErrInvalidPayload, ErrPayloadTooLarge
//   - Access: ErrAccessDenied
//   - Lifecycle: ErrAlreadyStarted, ErrShuttingDown
//   - Configuration: ErrInvalidConfig, ErrMissingConfig
//
// Reason extracts the sentinel message from a wrapped chain so that
// response bodies stay short and do not expose internal component names:
//
//	err := errors.WrapTransient(errors.ErrBusUnavailable, "Client", "EnsureConnected", "connect")
//	errors.Reason(err) // "NATS server unavailable"
package errors
