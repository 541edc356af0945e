// Package bus provides a publish/subscribe event bus backed by Redis Streams.
//
// Events are appended durably to one stream per event type (events:<type>)
// and fanned out synchronously to in-process handlers. A distributed
// consumption loop reads matching streams through a consumer group,
// acknowledging entries after local dispatch. Claim-based failover recovers
// entries stuck behind a crashed consumer.
//
// # Delivery semantics
//
// The bus guarantees at-least-once delivery: an entry is acknowledged only
// after it has been dispatched to local handlers. Handler errors are logged
// and do not block acknowledgment; retry and dead-letter policy belong to
// the consumer service, not the bus.
package bus
