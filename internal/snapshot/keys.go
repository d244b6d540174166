package snapshot

import (
	"encoding/binary"
	"time"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
//   - ks/{app}/{group}/{topic}/{part_be4}/k/{key}                  (snapshots)
//   - ksd/{app}/{group}/{day_be8}/{topic}/{part_be4}/{key}         (created-date index)
var (
	sep       = byte('/')
	ksPrefix  = []byte("ks/")
	ksdPrefix = []byte("ksd/")
	keySeg    = []byte("/k/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keySnapshot builds the snapshot key for one partition key.
func keySnapshot(app, group, topic string, partition uint32, key string) []byte {
	k := keyPartitionPrefix(app, group, topic, partition)
	k = append(k, key...)
	return k
}

// keyPartitionPrefix builds the scan prefix for all keys of one partition.
func keyPartitionPrefix(app, group, topic string, partition uint32) []byte {
	k := make([]byte, 0, len(app)+len(group)+len(topic)+24)
	k = append(k, ksPrefix...)
	k = append(k, app...)
	k = append(k, sep)
	k = append(k, group...)
	k = append(k, sep)
	k = append(k, topic...)
	k = append(k, sep)
	k = appendBE4(k, partition)
	k = append(k, keySeg...)
	return k
}

// keyCreatedIndex builds the created-date index key. The day is encoded
// big-endian so range scans walk days in order.
func keyCreatedIndex(app, group string, day uint64, topic string, partition uint32, key string) []byte {
	k := keyCreatedDayPrefix(app, group, day)
	k = append(k, topic...)
	k = append(k, sep)
	k = appendBE4(k, partition)
	k = append(k, sep)
	k = append(k, key...)
	return k
}

func keyCreatedDayPrefix(app, group string, day uint64) []byte {
	k := make([]byte, 0, len(app)+len(group)+16)
	k = append(k, ksdPrefix...)
	k = append(k, app...)
	k = append(k, sep)
	k = append(k, group...)
	k = append(k, sep)
	k = appendBE8(k, day)
	k = append(k, sep)
	return k
}

// dayOf truncates a time to its UTC day number.
func dayOf(t time.Time) uint64 {
	return uint64(t.UTC().Unix() / 86400)
}

// prefixUpperBound returns the smallest key greater than every key with the
// prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
