package flow

// SeqNr is the per-key sequence number carried in record headers. It orders
// a key's journal independently of partition offsets.
type SeqNr int64

// SeqRange is a contiguous range of sequence numbers carried by one record.
type SeqRange struct {
	From SeqNr
	To   SeqNr
}

// Snapshot is the persisted summary of a key's journal at a point in time.
// Monotone in both offset and the sequence number of its value.
type Snapshot[V any] struct {
	Offset Offset
	Value  V
}

// Fold deduplicates and folds journal records into a Snapshot.
//
// Extract pulls the sequence range out of a record; returning a nil range
// (without error) marks the record as carrying no parseable range, which
// leaves the fold unchanged and is not an error. Project builds the snapshot
// value for a range, and SeqOf reads the sequence back out of a value for
// dedup.
type Fold[V any] struct {
	Extract func(r Record) (*SeqRange, error)
	Project func(rng SeqRange) V
	SeqOf   func(v V) SeqNr
}

// Apply folds records into s. Duplicate offsets (at or before the snapshot
// offset) and non-monotonic sequence numbers are dropped; extractor failures
// propagate.
func (f Fold[V]) Apply(s *Snapshot[V], records ...Record) (*Snapshot[V], error) {
	for _, r := range records {
		rng, err := f.Extract(r)
		if err != nil {
			return s, err
		}
		if rng == nil {
			continue
		}
		if s != nil {
			if r.Offset <= s.Offset {
				continue
			}
			if rng.To <= f.SeqOf(s.Value) {
				continue
			}
		}
		s = &Snapshot[V]{Offset: r.Offset, Value: f.Project(*rng)}
	}
	return s, nil
}
