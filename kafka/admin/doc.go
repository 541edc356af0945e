// Package admin provides topic and consumer-group administration over the
// Kafka protocol.
//
// Topic creation is idempotent: creating a topic that already exists, or
// losing a creation race to a concurrent creator, converges to success. All
// other broker errors surface to the caller unmodified, with no local retry.
package admin
