// Package runner wires config, storage, the consumer, and the status server
// into the kafka-flow process lifecycle.
package runner
