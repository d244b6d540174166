package log

// Field is a typed key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Str builds a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int32 builds an int32 field.
func Int32(key string, value int32) Field { return Field{Key: key, Value: value} }

// Int64 builds an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Err builds an error field. A nil error logs as "<nil>".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags entries with the owning component name.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// Topic tags entries with a topic name.
func Topic(name string) Field { return Field{Key: "topic", Value: name} }

// Partition tags entries with a partition number.
func Partition(p int32) Field { return Field{Key: "partition", Value: p} }
