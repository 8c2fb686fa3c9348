// Package queue carries stage messages between the trigger, the batch driver,
// and the stage workers.
//
// Delivery is at-least-once: a message whose handler returns an error is
// redelivered, and a message that was never acknowledged (for example because
// the process crashed) is delivered again by the Kafka consumer group after a
// rebalance. Handlers must therefore be idempotent; the stage workers achieve
// that through the status store's state guards.
//
// Two backends share the Queue interface. Memory keeps everything in process
// and is used by tests and single-node development setups. Kafka stores
// messages in a topic keyed by release version id and commits offsets only
// after the handler finished, re-producing failed messages with a not-before
// header instead of blocking the partition.
package queue
