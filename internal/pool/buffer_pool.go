package pool

import "sync"

// frames up to this size are recycled; larger ones are left to the GC.
const maxPooledFrame = 64 * 1024

var framePool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 512)
		return &buf
	},
}

// GetFrame returns an empty byte slice with at least size bytes of capacity.
func GetFrame(size int) *[]byte {
	bufPtr, _ := framePool.Get().(*[]byte)
	if cap(*bufPtr) < size {
		*bufPtr = make([]byte, 0, size)
	}
	*bufPtr = (*bufPtr)[:0]

	return bufPtr
}

// PutFrame returns a frame buffer obtained from GetFrame.
func PutFrame(bufPtr *[]byte) {
	if bufPtr == nil || cap(*bufPtr) > maxPooledFrame {
		return
	}
	framePool.Put(bufPtr)
}
