// Package consumer provides a subscription manager over Kafka consumer
// groups with per-message and per-batch delivery, pause/resume, dead-letter
// routing, and graceful shutdown.
//
// A Service owns one consumer handle per group id, created lazily on first
// subscription. Handlers run synchronously within their group's read loop:
// the next fetch does not happen until the current unit has been handled,
// giving natural backpressure per group.
//
// A message is committed only after its handler returns successfully, or
// after the failing unit has been routed to the <topic>.dlq dead-letter
// topic, so nothing is silently dropped and nothing loops forever.
package consumer
