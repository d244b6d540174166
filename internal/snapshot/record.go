package snapshot

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"time"

	"github.com/Phill101/kafka-flow/internal/flow"
)

// Record is the persisted summary of one key's journal: the offset to resume
// from, the highest folded sequence number, the creation time, and an opaque
// state payload.
type Record struct {
	Offset    flow.Offset
	SeqNr     flow.SeqNr
	CreatedAt time.Time
	Value     []byte
}

// Value encoding: offset_be8 | seqnr_be8 | created_ms_be8 | value | crc32c(all)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord reports a snapshot value that fails its checksum or is
// truncated.
var ErrCorruptRecord = errors.New("snapshot: corrupt record")

func encodeRecord(r Record) []byte {
	out := make([]byte, 0, 24+len(r.Value)+4)
	out = appendBE8(out, uint64(r.Offset))
	out = appendBE8(out, uint64(r.SeqNr))
	out = appendBE8(out, uint64(r.CreatedAt.UnixMilli()))
	out = append(out, r.Value...)

	crc := crc32.Update(0, castagnoli, out)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < 24+4 {
		return Record{}, ErrCorruptRecord
	}
	body, tail := b[:len(b)-4], b[len(b)-4:]
	if crc32.Update(0, castagnoli, body) != binary.BigEndian.Uint32(tail) {
		return Record{}, ErrCorruptRecord
	}
	r := Record{
		Offset:    flow.Offset(binary.BigEndian.Uint64(body[0:8])),
		SeqNr:     flow.SeqNr(binary.BigEndian.Uint64(body[8:16])),
		CreatedAt: time.UnixMilli(int64(binary.BigEndian.Uint64(body[16:24]))).UTC(),
	}
	if len(body) > 24 {
		r.Value = append([]byte(nil), body[24:]...)
	}
	return r, nil
}
