package flow

import (
	"fmt"
	"math"
	"time"
)

// Offset is a position within a partition log. Monotone, 64-bit.
type Offset int64

// TopicPartition identifies one assigned partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// String renders "topic-partition".
func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// Timestamp travels through the pipeline as an immutable triple: the wall
// clock at batch time, the broker-assigned event time of the representative
// record (nil when the record carried none), and a log offset.
type Timestamp struct {
	Clock     time.Time
	Watermark *time.Time
	Offset    Offset
}

// OffsetToCommit returns the offset a consumer resumes from after processing
// o: one past the record. Fails with ErrOffsetOverflow when o cannot be
// incremented.
func OffsetToCommit(o Offset) (Offset, error) {
	if o == math.MaxInt64 {
		return 0, ErrOffsetOverflow
	}
	return o + 1, nil
}

// Clock supplies wall-clock time. Injectable for tests.
type Clock func() time.Time
