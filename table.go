package apkcodec

import (
	"github.com/anaminus/parse"
	"github.com/pkg/errors"
)

const (
	EntryFlagComplex = 0x0001
	EntryFlagPublic  = 0x0002
	EntryFlagWeak    = 0x0004
	entryFlagCompact = 0x0008

	SpecPublic = 0x40000000

	typeFlagSparse   = 0x01
	typeFlagOffset16 = 0x02

	tableConfigFixedSize   = 16
	defaultTableConfigSize = 64

	simpleEntrySize  = 8
	complexEntrySize = 16
	tableMapSize     = 4 + resValueSize
)

// TableChunk is one of *TypeSpec, *TypeType or *RawChunk.
type TableChunk interface {
	ChunkType() uint16
	encode() ([]byte, error)
}

// TypeSpec holds the configuration mask of every entry of one type.
type TypeSpec struct {
	ID    uint8
	Res0  uint8
	Res1  uint16
	Flags []uint32
}

// TypeType holds the values of one type for one configuration. A nil entry
// is a hole and is written as offset 0xFFFFFFFF.
type TypeType struct {
	ID       uint8
	Flags    uint8
	Reserved uint16
	Config   TableConfig
	Entries  []*TableEntry
}

// RawChunk keeps a chunk this package does not model, byte for byte.
type RawChunk struct {
	Header Header
	Body   []byte
}

// TableConfig is the ResTable_config of a TypeType. Rest holds everything
// past the screen type fields.
type TableConfig struct {
	Mcc         uint16
	Mnc         uint16
	Language    [2]byte
	Country     [2]byte
	Orientation uint8
	Touchscreen uint8
	Density     uint16
	Rest        []byte
}

// TableEntry is a simple value or, with EntryFlagComplex, a bag.
type TableEntry struct {
	Size  uint16
	Flags uint16
	Key   uint32

	Value ResValue

	Parent uint32
	Map    []TableMap
}

type TableMap struct {
	Name  uint32
	Value ResValue
}

func (*TypeSpec) ChunkType() uint16   { return chunkTableTypeSpec }
func (*TypeType) ChunkType() uint16   { return chunkTableType }
func (c *RawChunk) ChunkType() uint16 { return c.Header.Type }

func DefaultTableConfig() TableConfig {
	return TableConfig{Rest: make([]byte, defaultTableConfigSize-tableConfigFixedSize)}
}

func (c *TableConfig) Size() int {
	return tableConfigFixedSize + len(c.Rest)
}

func (c *TableConfig) IsDefault() bool {
	if c.Mcc != 0 || c.Mnc != 0 || c.Language != [2]byte{} || c.Country != [2]byte{} ||
		c.Orientation != 0 || c.Touchscreen != 0 || c.Density != 0 {
		return false
	}
	for _, b := range c.Rest {
		if b != 0 {
			return false
		}
	}
	return true
}

// Locale returns the two letter language and region, like "en-rUS". Packed
// three letter codes are not expanded.
func (c *TableConfig) Locale() string {
	if c.Language[0] == 0 || c.Language[0]&0x80 != 0 {
		return ""
	}
	res := string(c.Language[:])
	if c.Country[0] != 0 && c.Country[0]&0x80 == 0 {
		res += "-r" + string(c.Country[:])
	}
	return res
}

func (c *TableConfig) writeTo(w *parse.BinaryWriter) {
	w.Number(uint32(c.Size()))
	w.Number(c.Mcc)
	w.Number(c.Mnc)
	w.Bytes(c.Language[:])
	w.Bytes(c.Country[:])
	w.Number(c.Orientation)
	w.Number(c.Touchscreen)
	w.Number(c.Density)
	w.Bytes(c.Rest)
}

func decodeTableConfig(r *reader) (c TableConfig, err error) {
	start := r.offset()
	size, err := r.u32()
	if err != nil {
		return
	}
	if size < tableConfigFixedSize {
		err = formatErrorf(start, ErrMalformed, "table config of %d bytes", size)
		return
	}
	if err = r.need(int(size) - 4); err != nil {
		return
	}

	c.Mcc, _ = r.u16()
	c.Mnc, _ = r.u16()
	c.Language[0], _ = r.u8()
	c.Language[1], _ = r.u8()
	c.Country[0], _ = r.u8()
	c.Country[1], _ = r.u8()
	c.Orientation, _ = r.u8()
	c.Touchscreen, _ = r.u8()
	c.Density, _ = r.u16()
	c.Rest, err = r.bytes(int(size) - tableConfigFixedSize)
	return
}

func (e *TableEntry) IsComplex() bool {
	return e.Flags&EntryFlagComplex != 0
}

// Data is the data word of a simple entry, bags have none.
func (e *TableEntry) Data() uint32 {
	if e.IsComplex() {
		return 0
	}
	return e.Value.Data
}

func (e *TableEntry) headerSize() int {
	if e.IsComplex() {
		return complexEntrySize
	}
	return simpleEntrySize
}

func (e *TableEntry) encodedLen() int {
	n := int(e.Size)
	if n < e.headerSize() {
		n = e.headerSize()
	}
	if e.IsComplex() {
		return n + tableMapSize*len(e.Map)
	}
	return n + resValueSize
}

func (e *TableEntry) writeTo(w *parse.BinaryWriter) {
	w.Number(e.Size)
	w.Number(e.Flags)
	w.Number(e.Key)
	if e.IsComplex() {
		w.Number(e.Parent)
		w.Number(uint32(len(e.Map)))
	}
	if pad := int(e.Size) - e.headerSize(); pad > 0 {
		w.Bytes(make([]byte, pad))
	}

	if !e.IsComplex() {
		e.Value.writeTo(w)
		return
	}
	for i := range e.Map {
		w.Number(e.Map[i].Name)
		e.Map[i].Value.writeTo(w)
	}
}

func decodeTableEntry(r *reader) (*TableEntry, error) {
	start := r.pos
	if err := r.need(simpleEntrySize); err != nil {
		return nil, err
	}

	e := &TableEntry{}
	e.Size, _ = r.u16()
	e.Flags, _ = r.u16()
	e.Key, _ = r.u32()

	if int(e.Size) < e.headerSize() {
		return nil, formatErrorf(r.base+int64(start), ErrMalformed, "entry size %d", e.Size)
	}

	if !e.IsComplex() {
		if err := r.seek(start + int(e.Size)); err != nil {
			return nil, err
		}
		var err error
		e.Value, err = decodeValue(r)
		return e, err
	}

	var err error
	var count uint32
	if e.Parent, err = r.u32(); err != nil {
		return nil, errors.Wrap(err, "error reading bag parent")
	}
	if count, err = r.u32(); err != nil {
		return nil, errors.Wrap(err, "error reading bag count")
	}
	if err = r.seek(start + int(e.Size)); err != nil {
		return nil, err
	}
	if uint64(count)*tableMapSize > uint64(r.remaining()) {
		return nil, formatErrorf(r.offset(), ErrTruncated, "bag of %d values", count)
	}

	e.Map = make([]TableMap, count)
	for i := range e.Map {
		e.Map[i].Name, _ = r.u32()
		if e.Map[i].Value, err = decodeValue(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *TypeSpec) encode() ([]byte, error) {
	return encodeChunk(chunkTableTypeSpec, func(w *parse.BinaryWriter) {
		w.Number(s.ID)
		w.Number(s.Res0)
		w.Number(s.Res1)
		w.Number(uint32(len(s.Flags)))
	}, func(w *parse.BinaryWriter) error {
		writeUint32s(w, s.Flags)
		return nil
	})
}

func decodeTypeSpec(h Header, c *reader) (*TypeSpec, error) {
	if h.HeaderSize < typeSpecHeaderSize {
		return nil, formatErrorf(c.base, ErrMalformed, "type spec header size %d", h.HeaderSize)
	}

	s := &TypeSpec{}
	s.ID, _ = c.u8()
	s.Res0, _ = c.u8()
	s.Res1, _ = c.u16()
	count, _ := c.u32()

	if err := c.seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}
	if uint64(count)*4 > uint64(c.remaining()) {
		return nil, formatErrorf(c.offset(), ErrTruncated, "type spec with %d entries", count)
	}

	var err error
	s.Flags, err = c.u32s(int(count))
	return s, err
}

func (t *TypeType) encode() ([]byte, error) {
	headerSize := typeHeaderFixedSize + t.Config.Size()
	entriesStart := headerSize + 4*len(t.Entries)

	offsets := make([]uint32, len(t.Entries))
	var off int
	for i, e := range t.Entries {
		if e == nil {
			offsets[i] = NoEntry
			continue
		}
		offsets[i] = uint32(off)
		off += e.encodedLen()
	}

	return encodeChunk(chunkTableType, func(w *parse.BinaryWriter) {
		w.Number(t.ID)
		w.Number(t.Flags)
		w.Number(t.Reserved)
		w.Number(uint32(len(t.Entries)))
		w.Number(uint32(entriesStart))
		t.Config.writeTo(w)
	}, func(w *parse.BinaryWriter) error {
		writeUint32s(w, offsets)
		for _, e := range t.Entries {
			if e != nil {
				e.writeTo(w)
			}
		}
		return nil
	})
}

// decodeTypeType returns a *RawChunk for sparse and 16 bit offset types and
// for compact entries.
func decodeTypeType(h Header, c *reader) (TableChunk, error) {
	if h.HeaderSize < typeHeaderFixedSize+tableConfigFixedSize {
		return nil, formatErrorf(c.base, ErrMalformed, "type header size %d", h.HeaderSize)
	}

	t := &TypeType{}
	t.ID, _ = c.u8()
	t.Flags, _ = c.u8()
	t.Reserved, _ = c.u16()
	count, _ := c.u32()
	entriesStart, _ := c.u32()

	if t.Flags&(typeFlagSparse|typeFlagOffset16) != 0 {
		return rawChunk(h, c)
	}

	var err error
	if t.Config, err = decodeTableConfig(c); err != nil {
		return nil, errors.Wrap(err, "error reading type config")
	}

	if err = c.seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}
	if uint64(count)*4 > uint64(c.remaining()) {
		return nil, formatErrorf(c.offset(), ErrTruncated, "type with %d entries", count)
	}
	offsets, _ := c.u32s(int(count))

	entries, err := c.sub(int(entriesStart), int(h.Size))
	if err != nil {
		return nil, errors.Wrap(err, "error reading entries")
	}

	t.Entries = make([]*TableEntry, count)
	for i, off := range offsets {
		if off == NoEntry {
			continue
		}
		if err = entries.seek(int(off)); err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
		if entries.remaining() >= 4 && entries.buf[entries.pos+2]&entryFlagCompact != 0 {
			return rawChunk(h, c)
		}
		if t.Entries[i], err = decodeTableEntry(entries); err != nil {
			return nil, errors.Wrapf(err, "error reading entry %d", i)
		}
	}
	return t, nil
}

func (c *RawChunk) encode() ([]byte, error) {
	h := c.Header
	h.Size = uint32(chunkHeaderSize + len(c.Body))
	return append(h.Pack(), c.Body...), nil
}

func rawChunk(h Header, c *reader) (*RawChunk, error) {
	if err := c.seek(chunkHeaderSize); err != nil {
		return nil, err
	}
	body, err := c.bytes(c.remaining())
	if err != nil {
		return nil, err
	}
	return &RawChunk{Header: h, Body: body}, nil
}
