// Package gateway is the HTTP side of the bridge.
//
// The server listens on 127.0.0.1 only and refuses, with 403, any request
// whose peer address is not exactly 127.0.0.1. Two operations are exposed:
//
//	GET  /{subject}               subscribe the bridge to subject
//	POST /   (header topic: ...)  publish the JSON body on topic
//
// Every response has a short text/plain body and an X-Request-ID header,
// echoed from the request when present.
//
//	Status  Body
//	200     Subscribed to topic: <subject>
//	200     Message published successfully
//	400     Missing topic in URL
//	400     Missing "topic" header
//	400     Invalid JSON payload
//	403     Access denied
//	404     Not Found
//	413     Payload too large
//	500     Error publishing message
//	503     Failed to subscribe: <reason>
//	503     NATS server unavailable
//
// Published payloads are re-encoded as compact JSON before they reach NATS.
package gateway
