// Package kafka holds the shared Kafka plumbing: connection setup (TLS,
// SASL, dialers and transports), configuration, error translation, message
// types, and the registry component tying producer and consumer lifecycles
// together.
//
// It wraps segmentio/kafka-go with eventkit conventions including health
// checking, graceful shutdown, metrics collection, and structured logging.
//
// # Architecture
//
//   - Component: ties producer/consumer lifecycle into the registry
//   - kafka/admin: topic and consumer group administration
//   - kafka/producer: message publishing with delivery guarantees
//   - kafka/consumer: consumer groups with pause/resume and dead lettering
//
// # Configuration
//
// All settings are provided via Config with ApplyDefaults()/Validate():
//
//	kafka:
//	  enabled: true
//	  brokers: ["localhost:9092"]
//	  enable_tls: false
package kafka
