package scan

import (
	"encoding/binary"
	"math"
)

// byteReader is a bounds-checked little-endian cursor over a telegram
// payload. Every read either returns a value and advances the position, or
// marks the reader failed and returns zero. Once failed, all subsequent
// reads return zero, so callers can issue a run of reads and check ok()
// once at the end.
type byteReader struct {
	data   []byte
	pos    int
	failed bool
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) ok() bool { return !r.failed }

// remaining reports how many unread bytes are left.
func (r *byteReader) remaining() int {
	if r.failed {
		return 0
	}
	return len(r.data) - r.pos
}

func (r *byteReader) take(n int) []byte {
	if r.failed || n < 0 || r.pos+n > len(r.data) {
		r.failed = true
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) skip(n int) {
	r.take(n)
}

func (r *byteReader) readUint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *byteReader) readUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *byteReader) readUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *byteReader) readUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *byteReader) readFloat32() float32 {
	return math.Float32frombits(r.readUint32())
}

func (r *byteReader) readUint64Slice(n int) []uint64 {
	if r.failed || n < 0 || r.remaining() < 8*n {
		r.failed = true
		return nil
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = r.readUint64()
	}
	return out
}

func (r *byteReader) readFloat32Slice(n int) []float32 {
	if r.failed || n < 0 || r.remaining() < 4*n {
		r.failed = true
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = r.readFloat32()
	}
	return out
}
