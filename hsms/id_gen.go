package hsms

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
)

// SystemBytesGenerator hands out system bytes for new primary messages.
//
// Values increase by one per call and wrap around at the 4-byte boundary.
// It is safe for concurrent use.
type SystemBytesGenerator struct {
	id atomic.Uint32
}

// NewSystemBytesGenerator creates a generator whose first value is start+1.
func NewSystemBytesGenerator(start uint32) *SystemBytesGenerator {
	g := &SystemBytesGenerator{}
	g.id.Store(start)

	return g
}

// NewRandomSystemBytesGenerator creates a generator seeded from crypto/rand, which
// lowers the chance of colliding with ids of a previous process run.
func NewRandomSystemBytesGenerator() *SystemBytesGenerator {
	g := &SystemBytesGenerator{}

	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err == nil {
		g.id.Store(binary.BigEndian.Uint32(buf[:]))
	}

	return g
}

// Next returns the next system bytes value.
func (g *SystemBytesGenerator) Next() uint32 {
	return g.id.Add(1)
}

// ToSystemBytes converts id to its 4-byte big-endian form.
func ToSystemBytes(id uint32) []byte {
	systemBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(systemBytes, id)

	return systemBytes
}
