// Package flow implements the per-partition stream-processing core.
//
// A PartitionFlow owns the keyed state machines of one assigned partition.
// It feeds record batches to per-key flows in log order, drives per-key
// timers in lock-step with the batches, and arbitrates the highest offset
// that is safe to commit back to the broker: no offset is acknowledged while
// any key still holds uncommitted work at or before it.
//
// # Structure
//
//   - PartitionFlow groups each batch by record key and fans the groups out
//     to keys in parallel, strictly in-order per key.
//   - Each key lives in a loading Cache as a PartitionKey: the user-built
//     KeyState plus a KeyContext the key uses to pin ("hold") offsets and to
//     remove itself when done.
//   - Timers model wall-clock, watermark, and offset conditions. They are
//     driven explicitly from batch timestamps; no background schedulers.
//   - Fold deduplicates journal records by offset and sequence number into a
//     Snapshot.
//
// The host is expected to call Apply serially per partition; concurrent
// readers of cache values are tolerated.
package flow
