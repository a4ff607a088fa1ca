package apkcodec

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/anaminus/parse"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

const (
	stringFlagSorted = 0x00000001
	stringFlagUtf8   = 0x00000100
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// StringBlock is one encoded string of a pool. CharLen is the length in UTF-16
// code units, ByteLen the length of Data in UTF-8 pools. Both are written as
// decoded and only recomputed when the slot is rewritten.
type StringBlock struct {
	CharLen int
	ByteLen int
	Data    []byte
}

// StringPoolHeader holds the derived header fields of a pool.
type StringPoolHeader struct {
	Header
	StringCount  uint32
	StyleCount   uint32
	Flags        uint32
	StringsStart uint32
	StylesStart  uint32
}

// StringPool is an indexed table of strings. Style spans are carried as
// opaque bytes.
type StringPool struct {
	Flags        uint32
	Blocks       []StringBlock
	StyleOffsets []uint32
	StyleData    []byte
}

func NewStringPool(isUtf8 bool) *StringPool {
	p := &StringPool{}
	if isUtf8 {
		p.Flags |= stringFlagUtf8
	}
	return p
}

func (p *StringPool) IsUTF8() bool {
	return p.Flags&stringFlagUtf8 != 0
}

func (p *StringPool) Len() int {
	return len(p.Blocks)
}

func (p *StringPool) encode(s string) (StringBlock, error) {
	u16, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return StringBlock{}, errors.Wrapf(err, "error encoding string %q", s)
	}

	if p.IsUTF8() {
		data := []byte(s)
		return StringBlock{CharLen: len(u16) / 2, ByteLen: len(data), Data: data}, nil
	}
	return StringBlock{CharLen: len(u16) / 2, Data: u16}, nil
}

// Get returns the index of name, appending it when the pool does not hold it yet.
func (p *StringPool) Get(name string) (uint32, error) {
	b, err := p.encode(name)
	if err != nil {
		return 0, err
	}

	if idx, ok := p.find(b.Data); ok {
		return idx, nil
	}

	p.Blocks = append(p.Blocks, b)
	return uint32(len(p.Blocks) - 1), nil
}

func (p *StringPool) Index(name string) (uint32, error) {
	b, err := p.encode(name)
	if err != nil {
		return 0, err
	}

	if idx, ok := p.find(b.Data); ok {
		return idx, nil
	}
	return 0, errors.Wrapf(ErrNotFound, "string %q", name)
}

func (p *StringPool) find(data []byte) (uint32, bool) {
	for i := range p.Blocks {
		if bytes.Equal(p.Blocks[i].Data, data) {
			return uint32(i), true
		}
	}
	return 0, false
}

func (p *StringPool) Update(idx uint32, name string) error {
	if idx >= uint32(len(p.Blocks)) {
		return errors.Wrapf(ErrNotFound, "string with idx %d", idx)
	}

	b, err := p.encode(name)
	if err != nil {
		return err
	}
	p.Blocks[idx] = b
	return nil
}

func (p *StringPool) Replace(old, name string) error {
	idx, err := p.Index(old)
	if err != nil {
		return err
	}
	return p.Update(idx, name)
}

// Switch exchanges the slots of two strings, so every reference to a now points to b.
func (p *StringPool) Switch(a, b string) error {
	ia, err := p.Index(a)
	if err != nil {
		return err
	}
	ib, err := p.Index(b)
	if err != nil {
		return err
	}
	p.Blocks[ia], p.Blocks[ib] = p.Blocks[ib], p.Blocks[ia]
	return nil
}

// String decodes the string at idx. Data that is not valid text in the pool's
// encoding is returned as the raw bytes.
func (p *StringPool) String(idx uint32) (string, error) {
	if idx == NoEntry {
		return "", nil
	} else if idx >= uint32(len(p.Blocks)) {
		return "", errors.Wrapf(ErrNotFound, "string with idx %d", idx)
	}

	data := p.Blocks[idx].Data
	if p.IsUTF8() {
		return string(data), nil
	}

	s, err := utf16le.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(s) {
		return string(data), nil
	}

	// lone surrogates decode to U+FFFD, which would not encode back to data
	if back, err := utf16le.NewEncoder().Bytes(s); err != nil || !bytes.Equal(back, data) {
		return string(data), nil
	}
	return string(s), nil
}

// Strings decodes the whole pool.
func (p *StringPool) Strings() []string {
	res := make([]string, len(p.Blocks))
	for i := range p.Blocks {
		res[i], _ = p.String(uint32(i))
	}
	return res
}

// Compute returns the header the pool would be written with. With
// updateSizes, every block's length fields are first recomputed from its data.
func (p *StringPool) Compute(updateSizes bool) (StringPoolHeader, error) {
	if updateSizes {
		for i := range p.Blocks {
			b := &p.Blocks[i]
			if p.IsUTF8() {
				b.ByteLen = len(b.Data)
				b.CharLen = utf16Len(b.Data)
			} else {
				b.CharLen = len(b.Data) / 2
			}
		}
	}

	l, err := p.layout()
	if err != nil {
		return StringPoolHeader{}, err
	}
	return l.header, nil
}

// Offsets returns the offset of every block relative to the string data start.
func (p *StringPool) Offsets() []uint32 {
	offsets := make([]uint32, len(p.Blocks))
	var off uint32
	for i := range p.Blocks {
		offsets[i] = off
		off += uint32(p.blockLen(&p.Blocks[i]))
	}
	return offsets
}

func utf16Len(data []byte) int {
	n := 0
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func (p *StringPool) blockLen(b *StringBlock) int {
	if p.IsUTF8() {
		return len8(b.CharLen) + len8(b.ByteLen) + len(b.Data) + 1
	}
	return len16(b.CharLen) + len(b.Data) + 2
}

func len8(n int) int {
	if n > 0x7F {
		return 2
	}
	return 1
}

func len16(n int) int {
	if n > 0x7FFF {
		return 4
	}
	return 2
}

func appendLen8(b []byte, n int) ([]byte, error) {
	if n > 0x7FFF {
		return nil, errors.Errorf("String length %d does not fit an UTF-8 pool", n)
	} else if n > 0x7F {
		return append(b, byte(n>>8)|0x80, byte(n)), nil
	}
	return append(b, byte(n)), nil
}

func appendLen16(b []byte, n int) ([]byte, error) {
	if n > 0x7FFFFFFF {
		return nil, errors.Errorf("String length %d does not fit an UTF-16 pool", n)
	} else if n > 0x7FFF {
		b = binary.LittleEndian.AppendUint16(b, uint16(n>>16)|0x8000)
	}
	return binary.LittleEndian.AppendUint16(b, uint16(n)), nil
}

func (p *StringPool) appendBlock(out []byte, b *StringBlock) ([]byte, error) {
	var err error
	if p.IsUTF8() {
		if out, err = appendLen8(out, b.CharLen); err != nil {
			return nil, err
		}
		if out, err = appendLen8(out, b.ByteLen); err != nil {
			return nil, err
		}
		out = append(out, b.Data...)
		return append(out, 0), nil
	}

	if out, err = appendLen16(out, b.CharLen); err != nil {
		return nil, err
	}
	out = append(out, b.Data...)
	return append(out, 0, 0), nil
}

type poolLayout struct {
	header  StringPoolHeader
	offsets []uint32
	strings []byte
}

func (p *StringPool) layout() (poolLayout, error) {
	var l poolLayout
	l.offsets = make([]uint32, len(p.Blocks))

	var err error
	for i := range p.Blocks {
		l.offsets[i] = uint32(len(l.strings))
		if l.strings, err = p.appendBlock(l.strings, &p.Blocks[i]); err != nil {
			return l, errors.Wrapf(err, "string %d", i)
		}
	}

	if rem := len(l.strings) % 4; rem != 0 {
		l.strings = append(l.strings, make([]byte, 4-rem)...)
	}

	stringsStart := stringPoolHeaderSize + 4*len(l.offsets) + 4*len(p.StyleOffsets)
	size := stringsStart + len(l.strings) + len(p.StyleData)

	l.header = StringPoolHeader{
		Header: Header{
			Type:       chunkStringTable,
			HeaderSize: stringPoolHeaderSize,
			Size:       uint32(size),
		},
		StringCount:  uint32(len(l.offsets)),
		StyleCount:   uint32(len(p.StyleOffsets)),
		Flags:        p.Flags,
		StringsStart: uint32(stringsStart),
	}
	if len(p.StyleOffsets) != 0 {
		l.header.StylesStart = uint32(stringsStart + len(l.strings))
	}
	return l, nil
}

func (p *StringPool) Pack() ([]byte, error) {
	l, err := p.layout()
	if err != nil {
		return nil, err
	}

	return encodeChunk(chunkStringTable, func(w *parse.BinaryWriter) {
		w.Number(l.header.StringCount)
		w.Number(l.header.StyleCount)
		w.Number(l.header.Flags)
		w.Number(l.header.StringsStart)
		w.Number(l.header.StylesStart)
	}, func(w *parse.BinaryWriter) error {
		writeUint32s(w, l.offsets)
		writeUint32s(w, p.StyleOffsets)
		w.Bytes(l.strings)
		w.Bytes(p.StyleData)
		return nil
	})
}

func decodeStringPool(h Header, c *reader) (*StringPool, error) {
	var err error
	var stringCnt, styleCnt, stringsStart, stylesStart uint32
	p := &StringPool{}

	if stringCnt, err = c.u32(); err != nil {
		return nil, errors.Wrap(err, "error reading stringCnt")
	}
	if styleCnt, err = c.u32(); err != nil {
		return nil, errors.Wrap(err, "error reading styleCnt")
	}
	if p.Flags, err = c.u32(); err != nil {
		return nil, errors.Wrap(err, "error reading flags")
	}
	if stringsStart, err = c.u32(); err != nil {
		return nil, errors.Wrap(err, "error reading stringOffset")
	}
	if stylesStart, err = c.u32(); err != nil {
		return nil, errors.Wrap(err, "error reading styleOffset")
	}

	if err = c.seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}

	if uint64(stringCnt)*4 > uint64(c.remaining()) {
		return nil, formatErrorf(c.offset(), ErrTruncated, "too many strings in this pool (%d)", stringCnt)
	}
	offsets, err := c.u32s(int(stringCnt))
	if err != nil {
		return nil, errors.Wrap(err, "error reading string offsets")
	}

	if uint64(styleCnt)*4 > uint64(c.remaining()) {
		return nil, formatErrorf(c.offset(), ErrTruncated, "too many styles in this pool (%d)", styleCnt)
	}
	if p.StyleOffsets, err = c.u32s(int(styleCnt)); err != nil {
		return nil, errors.Wrap(err, "error reading style offsets")
	}

	stringsEnd := int(h.Size)
	if styleCnt != 0 {
		if stylesStart < stringsStart || stylesStart > h.Size {
			return nil, formatErrorf(c.base, ErrMalformed, "style data offset 0x%x out of bounds", stylesStart)
		}
		stringsEnd = int(stylesStart)
		if c.seek(stringsEnd) == nil {
			p.StyleData, _ = c.bytes(c.remaining())
		}
	}

	if stringCnt == 0 {
		return p, nil
	}

	data, err := c.sub(int(stringsStart), stringsEnd)
	if err != nil {
		return nil, errors.Wrap(err, "error reading string data")
	}

	p.Blocks = make([]StringBlock, stringCnt)
	for i, off := range offsets {
		if err = data.seek(int(off)); err != nil {
			return nil, errors.Wrapf(err, "string %d", i)
		}
		if p.IsUTF8() {
			err = decodeString8(data, &p.Blocks[i])
		} else {
			err = decodeString16(data, &p.Blocks[i])
		}
		if err != nil {
			return nil, errors.Wrapf(err, "string %d", i)
		}
	}
	return p, nil
}

func decodeLen8(r *reader) (int, error) {
	hi, err := r.u8()
	if err != nil {
		return 0, err
	}
	if hi&0x80 == 0 {
		return int(hi), nil
	}
	lo, err := r.u8()
	if err != nil {
		return 0, err
	}
	return int(hi&0x7F)<<8 | int(lo), nil
}

func decodeString8(r *reader, b *StringBlock) (err error) {
	if b.CharLen, err = decodeLen8(r); err != nil {
		return
	}
	if b.ByteLen, err = decodeLen8(r); err != nil {
		return
	}

	// Lengths of overlong strings wrap around, the terminator is authoritative.
	n := b.ByteLen
	for {
		if err = r.need(n + 1); err != nil {
			return
		}
		if r.buf[r.pos+n] == 0 {
			break
		}
		n++
	}

	b.Data, _ = r.bytes(n)
	return nil
}

func decodeString16(r *reader, b *StringBlock) error {
	hi, err := r.u16()
	if err != nil {
		return err
	}

	b.CharLen = int(hi)
	if hi&0x8000 != 0 {
		lo, err := r.u16()
		if err != nil {
			return err
		}
		b.CharLen = int(hi&0x7FFF)<<16 | int(lo)
	}

	n := 2 * b.CharLen
	for {
		if err = r.need(n + 2); err != nil {
			return err
		}
		if r.buf[r.pos+n] == 0 && r.buf[r.pos+n+1] == 0 {
			break
		}
		n += 2
	}

	b.Data, _ = r.bytes(n)
	return nil
}
