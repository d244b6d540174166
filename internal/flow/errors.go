package flow

import "errors"

var (
	// ErrCacheClosed reports access to a cache after its partition flow
	// released it. Indicates a host bug.
	ErrCacheClosed = errors.New("flow: cache closed")

	// ErrOffsetOverflow reports that the next commit offset cannot be
	// represented.
	ErrOffsetOverflow = errors.New("flow: offset overflow")
)
