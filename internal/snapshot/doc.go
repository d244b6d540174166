// Package snapshot persists per-key journal summaries in Pebble and adapts
// them to the partition flow's state contract.
//
// # Keyspace
//
// Snapshots are scoped by application and group, mirroring a wide-column
// keys table with primary key ((app, group), topic, partition, key) and a
// created-date secondary index:
//
//	ks/{app}/{group}/{topic}/{part_be4}/k/{key}           snapshot record
//	ksd/{app}/{group}/{day_be8}/{topic}/{part_be4}/{key}  created-date index
//
// A snapshot record stores the resume offset, the highest folded sequence
// number, the creation time, and an opaque state payload, framed with a
// crc32c checksum.
//
// # Recovery
//
// StateOf implements flow.KeyStateOf: AllKeys walks the partition's key
// prefix with a Pebble cursor, and New seeds each key's journal fold from
// its stored snapshot, so duplicate records replayed after a rebalance fold
// to nothing.
package snapshot
