package buf

import "sync"

// Scratch buffers back the readiness-bridge backend's RecvFrom/SendTo
// scatter/gather merge copy: the one case where a backend builds a fresh
// contiguous []byte out of more than one vectored segment. Size-bucketed
// pooling avoids a per-op allocation on that path, the same tradeoff the
// teacher's internal/queue buffer pool makes for large block I/O requests.
const (
	bucket4k   = 4 * 1024
	bucket16k  = 16 * 1024
	bucket64k  = 64 * 1024
	bucket256k = 256 * 1024
)

var scratchPool = struct {
	p4k   sync.Pool
	p16k  sync.Pool
	p64k  sync.Pool
	p256k sync.Pool
}{
	p4k:   sync.Pool{New: func() any { b := make([]byte, bucket4k); return &b }},
	p16k:  sync.Pool{New: func() any { b := make([]byte, bucket16k); return &b }},
	p64k:  sync.Pool{New: func() any { b := make([]byte, bucket64k); return &b }},
	p256k: sync.Pool{New: func() any { b := make([]byte, bucket256k); return &b }},
}

// GetScratch returns a pooled buffer of at least size bytes. Callers must
// return it via PutScratch once the operation's completion has been observed
// (never while the buffer could still be in flight).
func GetScratch(size int) []byte {
	switch {
	case size <= bucket4k:
		return (*scratchPool.p4k.Get().(*[]byte))[:size]
	case size <= bucket16k:
		return (*scratchPool.p16k.Get().(*[]byte))[:size]
	case size <= bucket64k:
		return (*scratchPool.p64k.Get().(*[]byte))[:size]
	case size <= bucket256k:
		return (*scratchPool.p256k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutScratch returns a buffer obtained from GetScratch to its pool. Buffers
// with a non-standard capacity (the size > 256k fallback) are simply dropped.
func PutScratch(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case bucket4k:
		scratchPool.p4k.Put(&buf)
	case bucket16k:
		scratchPool.p16k.Put(&buf)
	case bucket64k:
		scratchPool.p64k.Put(&buf)
	case bucket256k:
		scratchPool.p256k.Put(&buf)
	}
}
