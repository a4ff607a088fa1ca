package apkcodec

import (
	"bytes"
	"encoding/binary"

	"github.com/anaminus/parse"
	"github.com/pkg/errors"
)

const (
	chunkNull          = 0x0000
	chunkStringTable   = 0x0001
	chunkTable         = 0x0002
	chunkAxmlFile      = 0x0003
	chunkResourceIds   = 0x0180
	chunkTablePackage  = 0x0200
	chunkTableType     = 0x0201
	chunkTableTypeSpec = 0x0202
	chunkTableLibrary  = 0x0203

	chunkXmlNsStart  = 0x0100
	chunkXmlNsEnd    = 0x0101
	chunkXmlTagStart = 0x0102
	chunkXmlTagEnd   = 0x0103
	chunkXmlText     = 0x0104

	chunkHeaderSize      = (2 + 2 + 4)
	stringPoolHeaderSize = chunkHeaderSize + 5*4
	tableHeaderSize      = chunkHeaderSize + 4
	xmlNodeHeaderSize    = chunkHeaderSize + 2*4
	attributeSize        = 3*4 + resValueSize
	startElementSize     = 2*4 + 4 + 4*2
	packageNameSize      = 128 * 2
	packageHeaderSize    = chunkHeaderSize + 4 + packageNameSize + 4*4
	typeSpecHeaderSize   = chunkHeaderSize + 2*4
	typeHeaderFixedSize  = chunkHeaderSize + 3*4

	// attribute start 0x14, attribute size 0x14
	defaultAttributeLayout = uint32(startElementSize) | uint32(attributeSize)<<16
)

// NoEntry marks an absent string reference, comment or table entry offset.
const NoEntry = 0xFFFFFFFF

// Header is the 8 byte prefix shared by every chunk.
type Header struct {
	Type       uint16
	HeaderSize uint16
	Size       uint32
}

func (h Header) Pack() []byte {
	b := make([]byte, 0, chunkHeaderSize)
	b = binary.LittleEndian.AppendUint16(b, h.Type)
	b = binary.LittleEndian.AppendUint16(b, h.HeaderSize)
	return binary.LittleEndian.AppendUint32(b, h.Size)
}

// DecodeHeader reads a chunk header from the start of buf and returns the bytes following it.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	r := newReader(buf, 0)
	h, err := r.header()
	if err != nil {
		return h, nil, err
	}
	return h, buf[chunkHeaderSize:], nil
}

// encodeChunk writes a chunk whose header_size and size are taken from what
// the header and body callbacks produced.
func encodeChunk(typ uint16, header func(w *parse.BinaryWriter), body func(w *parse.BinaryWriter) error) ([]byte, error) {
	var hdr, data bytes.Buffer

	if header != nil {
		hw := parse.NewBinaryWriter(&hdr)
		header(hw)
		if _, err := hw.End(); err != nil {
			return nil, errors.Wrapf(err, "error writing header of chunk 0x%04x", typ)
		}
	}

	if body != nil {
		bw := parse.NewBinaryWriter(&data)
		if err := body(bw); err != nil {
			return nil, err
		}
		if _, err := bw.End(); err != nil {
			return nil, errors.Wrapf(err, "error writing chunk 0x%04x", typ)
		}
	}

	headerSize := chunkHeaderSize + hdr.Len()
	if headerSize > 0xFFFF {
		return nil, errors.Errorf("Header of chunk 0x%04x is too big (%d bytes)", typ, headerSize)
	}

	size := int64(headerSize) + int64(data.Len())
	if size > 0xFFFFFFFF {
		return nil, errors.Errorf("Chunk 0x%04x is too big (%d bytes)", typ, size)
	}

	h := Header{Type: typ, HeaderSize: uint16(headerSize), Size: uint32(size)}
	out := make([]byte, 0, size)
	out = append(out, h.Pack()...)
	out = append(out, hdr.Bytes()...)
	return append(out, data.Bytes()...), nil
}

// writeUint32s writes vs as consecutive little endian words. BinaryWriter.Number
// only takes scalars.
func writeUint32s(w *parse.BinaryWriter, vs []uint32) {
	for _, v := range vs {
		w.Number(v)
	}
}
