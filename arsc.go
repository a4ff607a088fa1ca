package apkcodec

import (
	"github.com/anaminus/parse"
	"github.com/pkg/errors"
)

// ARSC is a resource table: the global value string pool and its packages.
type ARSC struct {
	Pool     *StringPool
	Packages []*Package
}

// Package is one ResTable_package with its type and key name pools.
type Package struct {
	ID             uint32
	Name           string
	LastPublicType uint32
	LastPublicKey  uint32
	// HeaderExtra holds header fields past lastPublicKey, typeIdOffset on
	// current tables.
	HeaderExtra []byte

	TypeStrings *StringPool
	KeyStrings  *StringPool
	Chunks      []TableChunk
}

func NewARSC() *ARSC {
	return &ARSC{Pool: NewStringPool(true)}
}

func (a *ARSC) Kind() string { return "arsc" }

// DecodeARSC decodes a whole resources.arsc.
func DecodeARSC(data []byte) (*ARSC, error) {
	r := newReader(data, 0)
	h, table, err := r.chunk()
	if err != nil {
		return nil, errors.Wrap(err, "error parsing table header")
	}
	if h.Type != chunkTable {
		return nil, formatErrorf(0, ErrUnknownChunk, "invalid top chunk id 0x%04x, expected 0x%04x", h.Type, chunkTable)
	}
	if h.HeaderSize < tableHeaderSize {
		return nil, formatErrorf(0, ErrMalformed, "table header size %d", h.HeaderSize)
	}

	packageCount, _ := table.u32()
	if err := table.seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}

	a := &ARSC{}
	for !table.eof() {
		start := table.offset()
		ch, c, err := table.chunk()
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing chunk at 0x%08x", start)
		}

		switch {
		case ch.Type == chunkStringTable && a.Pool == nil:
			a.Pool, err = decodeStringPool(ch, c)
		case ch.Type == chunkTablePackage:
			var p *Package
			if p, err = decodePackage(ch, c); err == nil {
				a.Packages = append(a.Packages, p)
			}
		default:
			err = formatErrorf(start, ErrUnknownChunk, "chunk id 0x%04x", ch.Type)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "Chunk: 0x%04x", ch.Type)
		}
	}

	if a.Pool == nil {
		return nil, formatErrorf(int64(h.HeaderSize), ErrMalformed, "table has no string pool")
	}
	if uint32(len(a.Packages)) != packageCount {
		return nil, formatErrorf(0, ErrMalformed, "table declares %d packages, found %d", packageCount, len(a.Packages))
	}
	return a, nil
}

func (a *ARSC) Pack() ([]byte, error) {
	if a.Pool == nil {
		return nil, errors.New("table has no string pool")
	}

	return encodeChunk(chunkTable, func(w *parse.BinaryWriter) {
		w.Number(uint32(len(a.Packages)))
	}, func(w *parse.BinaryWriter) error {
		pool, err := a.Pool.Pack()
		if err != nil {
			return errors.Wrap(err, "error packing string pool")
		}
		w.Bytes(pool)

		for _, p := range a.Packages {
			b, err := p.Pack()
			if err != nil {
				return errors.Wrapf(err, "error packing package %q", p.Name)
			}
			w.Bytes(b)
		}
		return nil
	})
}

// Package returns the package called name.
func (a *ARSC) Package(name string) (*Package, error) {
	for _, p := range a.Packages {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "package %q", name)
}

func (p *Package) headerSize() int {
	return packageHeaderSize + len(p.HeaderExtra)
}

func (p *Package) Pack() ([]byte, error) {
	name, err := utf16le.NewEncoder().Bytes([]byte(p.Name))
	if err != nil {
		return nil, errors.Wrap(err, "error encoding package name")
	}
	if len(name) >= packageNameSize {
		return nil, errors.Errorf("Package name %q is too long", p.Name)
	}

	typeStrings, err := p.TypeStrings.Pack()
	if err != nil {
		return nil, errors.Wrap(err, "error packing type strings")
	}
	keyStrings, err := p.KeyStrings.Pack()
	if err != nil {
		return nil, errors.Wrap(err, "error packing key strings")
	}

	typeStringsStart := uint32(p.headerSize())
	keyStringsStart := typeStringsStart + uint32(len(typeStrings))

	return encodeChunk(chunkTablePackage, func(w *parse.BinaryWriter) {
		w.Number(p.ID)
		w.Bytes(name)
		w.Bytes(make([]byte, packageNameSize-len(name)))
		w.Number(typeStringsStart)
		w.Number(p.LastPublicType)
		w.Number(keyStringsStart)
		w.Number(p.LastPublicKey)
		w.Bytes(p.HeaderExtra)
	}, func(w *parse.BinaryWriter) error {
		w.Bytes(typeStrings)
		w.Bytes(keyStrings)
		for i, ch := range p.Chunks {
			b, err := ch.encode()
			if err != nil {
				return errors.Wrapf(err, "error packing chunk %d", i)
			}
			w.Bytes(b)
		}
		return nil
	})
}

func decodePackageName(raw []byte) string {
	for i := 0; i+1 < len(raw); i += 2 {
		if raw[i] == 0 && raw[i+1] == 0 {
			raw = raw[:i]
			break
		}
	}
	name, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(name)
}

func decodePackage(h Header, c *reader) (*Package, error) {
	if h.HeaderSize < packageHeaderSize {
		return nil, formatErrorf(c.base, ErrMalformed, "package header size %d", h.HeaderSize)
	}

	p := &Package{}
	p.ID, _ = c.u32()
	name, _ := c.bytes(packageNameSize)
	p.Name = decodePackageName(name)
	typeStrings, _ := c.u32()
	p.LastPublicType, _ = c.u32()
	keyStrings, _ := c.u32()
	p.LastPublicKey, _ = c.u32()
	if extra := int(h.HeaderSize) - packageHeaderSize; extra > 0 {
		p.HeaderExtra, _ = c.bytes(extra)
	}

	end := int(h.HeaderSize)
	var err error
	if p.TypeStrings, end, err = decodeSubPool(c, typeStrings, end); err != nil {
		return nil, errors.Wrap(err, "error reading type strings")
	}
	if p.KeyStrings, end, err = decodeSubPool(c, keyStrings, end); err != nil {
		return nil, errors.Wrap(err, "error reading key strings")
	}

	if err = c.seek(end); err != nil {
		return nil, err
	}

	for !c.eof() {
		start := c.offset()
		ch, cc, err := c.chunk()
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing chunk at 0x%08x", start)
		}

		var t TableChunk
		switch ch.Type {
		case chunkTableTypeSpec:
			t, err = decodeTypeSpec(ch, cc)
		case chunkTableType:
			t, err = decodeTypeType(ch, cc)
		default:
			t, err = rawChunk(ch, cc)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Chunk: 0x%04x", ch.Type)
		}
		p.Chunks = append(p.Chunks, t)
	}
	return p, nil
}

// decodeSubPool reads the pool at off and returns the furthest end of the
// pools seen so far.
func decodeSubPool(c *reader, off uint32, end int) (*StringPool, int, error) {
	if off == 0 {
		return nil, end, formatErrorf(c.base, ErrMalformed, "package has no string pool at offset 0")
	}
	if err := c.seek(int(off)); err != nil {
		return nil, end, err
	}

	h, pc, err := c.chunk()
	if err != nil {
		return nil, end, err
	}
	if h.Type != chunkStringTable {
		return nil, end, formatErrorf(pc.base, ErrUnknownChunk, "chunk id 0x%04x, expected a string pool", h.Type)
	}

	p, err := decodeStringPool(h, pc)
	if err != nil {
		return nil, end, err
	}
	if c.pos > end {
		end = c.pos
	}
	return p, end, nil
}

// TypeName returns the name of type id, ids start at 1.
func (p *Package) TypeName(id uint8) (string, error) {
	if id == 0 {
		return "", errors.Wrap(ErrNotFound, "type id 0")
	}
	return p.TypeStrings.String(uint32(id) - 1)
}

// TypeSpec returns the spec chunk of type id.
func (p *Package) TypeSpec(id uint8) *TypeSpec {
	for _, ch := range p.Chunks {
		if s, ok := ch.(*TypeSpec); ok && s.ID == id {
			return s
		}
	}
	return nil
}

// Types returns every TypeType chunk of type id, in file order.
func (p *Package) Types(id uint8) []*TypeType {
	var res []*TypeType
	for _, ch := range p.Chunks {
		if t, ok := ch.(*TypeType); ok && t.ID == id {
			res = append(res, t)
		}
	}
	return res
}
