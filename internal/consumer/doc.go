// Package consumer binds the partition flow engine to a Kafka consumer
// group.
//
// The consumer disables broker auto-commit: the only offsets it ever
// commits are the ones each PartitionFlow reports safe after a batch, so a
// crash never acknowledges records a key still holds work for. Partitions
// revoked by a rebalance are torn down through the flow's scoped release
// path, and failures inside any flow stop the member so the group can
// reassign.
package consumer
