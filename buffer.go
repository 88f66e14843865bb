package dal

// Buffer is an immutable sequence of bytes, possibly composed of
// multiple contiguous segments. It supports cheap cloning: Clone
// copies only the segment slice header, sharing the underlying byte
// slices, which callers must therefore treat as read-only once they
// have been placed in a Buffer.
type Buffer struct {
	segments [][]byte
	size     int
}

// NewBuffer wraps a single byte slice in a Buffer. The slice is not
// copied; the caller must not mutate it afterwards.
func NewBuffer(b []byte) Buffer {
	if len(b) == 0 {
		return Buffer{}
	}
	return Buffer{segments: [][]byte{b}, size: len(b)}
}

// NewBufferSegments wraps multiple byte slices in a single Buffer
// without concatenating them.
func NewBufferSegments(segs ...[]byte) Buffer {
	buf := Buffer{}
	for _, s := range segs {
		if len(s) == 0 {
			continue
		}
		buf.segments = append(buf.segments, s)
		buf.size += len(s)
	}
	return buf
}

// Len returns the total number of bytes across all segments.
func (b Buffer) Len() int {
	return b.size
}

// Bytes returns the buffer contents as a single contiguous slice,
// concatenating segments if there is more than one. When there is
// exactly one segment it is returned without copying.
func (b Buffer) Bytes() []byte {
	switch len(b.segments) {
	case 0:
		return nil
	case 1:
		return b.segments[0]
	default:
		out := make([]byte, 0, b.size)
		for _, s := range b.segments {
			out = append(out, s...)
		}
		return out
	}
}

// Clone returns a Buffer sharing the same underlying segments. It is
// cheap: it copies the segment slice header, not the bytes.
func (b Buffer) Clone() Buffer {
	if len(b.segments) == 0 {
		return Buffer{}
	}
	segs := make([][]byte, len(b.segments))
	copy(segs, b.segments)
	return Buffer{segments: segs, size: b.size}
}

// Append returns a new Buffer with the given segment appended. The
// receiver is left unmodified.
func (b Buffer) Append(seg []byte) Buffer {
	if len(seg) == 0 {
		return b
	}
	segs := make([][]byte, len(b.segments), len(b.segments)+1)
	copy(segs, b.segments)
	segs = append(segs, seg)
	return Buffer{segments: segs, size: b.size + len(seg)}
}

// Empty reports whether the buffer has no bytes. An empty Buffer
// signals end-of-stream when returned from a Reader.
func (b Buffer) Empty() bool {
	return b.size == 0
}
