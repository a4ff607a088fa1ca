package apkcodec

import (
	"encoding/binary"
)

// reader is a bounds-checked little-endian cursor over an in-memory chunk.
// base is the absolute offset of buf[0] in the decoded input and is only used
// to report error positions.
type reader struct {
	buf  []byte
	pos  int
	base int64
}

func newReader(buf []byte, base int64) *reader {
	return &reader{buf: buf, base: base}
}

func (r *reader) offset() int64 {
	return r.base + int64(r.pos)
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) eof() bool {
	return r.pos >= len(r.buf)
}

func (r *reader) need(n int) error {
	if n < 0 || r.remaining() < n {
		return formatErrorf(r.offset(), ErrTruncated, "need %d bytes, %d left", n, r.remaining())
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u32s(n int) ([]uint32, error) {
	if err := r.need(4 * n); err != nil {
		return nil, err
	}
	res := make([]uint32, n)
	for i := range res {
		res[i] = binary.LittleEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
	}
	return res, nil
}

// bytes returns a copy, decoded objects never alias the input buffer.
func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	res := make([]byte, n)
	copy(res, r.buf[r.pos:])
	r.pos += n
	return res, nil
}

func (r *reader) seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return formatErrorf(r.base+int64(pos), ErrTruncated, "seek past end of chunk (%d bytes)", len(r.buf))
	}
	r.pos = pos
	return nil
}

// sub returns a reader over buf[start:end] of this reader.
func (r *reader) sub(start, end int) (*reader, error) {
	if start < 0 || end < start || end > len(r.buf) {
		return nil, formatErrorf(r.base+int64(start), ErrTruncated, "range %d-%d outside of %d bytes", start, end, len(r.buf))
	}
	return newReader(r.buf[start:end], r.base+int64(start)), nil
}

func (r *reader) header() (h Header, err error) {
	if err = r.need(chunkHeaderSize); err != nil {
		return
	}
	h.Type, _ = r.u16()
	h.HeaderSize, _ = r.u16()
	h.Size, _ = r.u32()
	return
}

// chunk reads the chunk starting at the current position and returns a reader
// spanning the whole chunk, positioned just after the generic header. The
// parent reader moves past the chunk.
func (r *reader) chunk() (Header, *reader, error) {
	start := r.pos
	h, err := r.header()
	if err != nil {
		return h, nil, err
	}

	if h.HeaderSize < chunkHeaderSize || uint32(h.HeaderSize) > h.Size {
		return h, nil, formatErrorf(r.base+int64(start), ErrMalformed, "chunk 0x%04x has header size %d and size %d", h.Type, h.HeaderSize, h.Size)
	}

	if uint64(h.Size) > uint64(len(r.buf)-start) {
		return h, nil, formatErrorf(r.base+int64(start), ErrTruncated, "chunk 0x%04x claims %d bytes, %d left", h.Type, h.Size, len(r.buf)-start)
	}

	c, err := r.sub(start, start+int(h.Size))
	if err != nil {
		return h, nil, err
	}
	c.pos = chunkHeaderSize
	r.pos = start + int(h.Size)
	return h, c, nil
}
