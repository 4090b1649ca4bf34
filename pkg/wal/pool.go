package wal

import "sync"

// pool.go reuses buffers across WAL appends to keep the hot commit path free
// of per-entry allocations, the same role the teacher's pool plays for its
// fixed-size header/payload pairs.

var (
	entryPool = sync.Pool{
		New: func() any {
			return &WALEntry{Payload: make([]byte, 0, 256)}
		},
	}

	bufferPool = sync.Pool{
		New: func() any {
			buf := make([]byte, 0, 4096)
			return &buf
		},
	}
)

// AcquireEntry obtains a pooled *WALEntry with its payload truncated to zero length.
func AcquireEntry() *WALEntry {
	e := entryPool.Get().(*WALEntry)
	e.Type = 0
	e.Payload = e.Payload[:0]
	return e
}

// ReleaseEntry returns e to the pool.
func ReleaseEntry(e *WALEntry) {
	entryPool.Put(e)
}

// AcquireBuffer obtains a pooled byte buffer truncated to zero length.
func AcquireBuffer() *[]byte {
	buf := bufferPool.Get().(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

// ReleaseBuffer returns buf to the pool.
func ReleaseBuffer(buf *[]byte) {
	bufferPool.Put(buf)
}
