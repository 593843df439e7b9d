package wire

// DefaultBufferCapacity is the initial allocation for a new Buffer.
const DefaultBufferCapacity = 4096

// Buffer is a growing per-connection byte buffer with a valid-length
// cursor distinct from its allocated capacity. Append amortizes to O(1)
// per call in the steady state; Compact discards consumed bytes by
// shifting the remaining tail to offset 0. The buffer never shrinks.
//
// Buffer is not safe for concurrent use; it is owned by a single
// connection's read loop.
type Buffer struct {
	data  []byte
	valid int
}

// NewBuffer returns a Buffer with the default initial capacity.
func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, DefaultBufferCapacity)}
}

// Bytes returns the valid prefix of the buffer: data read so far that has
// not yet been consumed by Compact.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.valid]
}

// Len returns the number of valid bytes currently held.
func (b *Buffer) Len() int {
	return b.valid
}

// Append copies p onto the end of the valid region, growing the backing
// array first if it doesn't have room. Growth doubles capacity, or grows
// exactly to fit if doubling still wouldn't be enough.
func (b *Buffer) Append(p []byte) {
	needed := b.valid + len(p)
	if needed > cap(b.data) {
		newCap := cap(b.data) * 2
		if newCap < needed {
			newCap = needed
		}
		grown := make([]byte, newCap)
		copy(grown, b.data[:b.valid])
		b.data = grown
	} else if needed > len(b.data) {
		b.data = b.data[:cap(b.data)]
	}
	copy(b.data[b.valid:needed], p)
	b.valid = needed
}

// Compact discards the first consumed bytes of the valid region, shifting
// whatever remains down to offset 0. consumed >= Len() is a fast path that
// just resets the cursor without copying.
func (b *Buffer) Compact(consumed int) {
	if consumed <= 0 {
		return
	}
	if consumed >= b.valid {
		b.valid = 0
		return
	}
	remaining := b.valid - consumed
	copy(b.data[:remaining], b.data[consumed:b.valid])
	b.valid = remaining
}
