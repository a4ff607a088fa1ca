package apkcodec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/anaminus/parse"
	"github.com/pkg/errors"
)

// ManifestEncoder receives the decoded document as encoding/xml tokens,
// *xml.Encoder satisfies it.
type ManifestEncoder interface {
	EncodeToken(t xml.Token) error
	Flush() error
}

// AXML is a binary XML document: string pool, optional resource map and the
// node stream.
type AXML struct {
	// Type of the outer chunk, Android doesn't check it.
	Type        uint16
	Pool        *StringPool
	ResourceMap *ResourceMap
	Nodes       []XmlNode

	// Catalog resolves attribute resource IDs, SystemAttributes() when nil.
	Catalog *AttributeCatalog
}

func NewAXML() *AXML {
	return &AXML{
		Type:        chunkAxmlFile,
		Pool:        NewStringPool(false),
		ResourceMap: &ResourceMap{},
	}
}

func (x *AXML) Kind() string { return "axml" }

func (x *AXML) catalog() *AttributeCatalog {
	if x.Catalog != nil {
		return x.Catalog
	}
	return SystemAttributes()
}

func isPlainText(data []byte) bool {
	return bytes.HasPrefix(data, []byte("<?xml ")) || bytes.HasPrefix(data, []byte("<manif"))
}

// DecodeAXML decodes a whole binary XML document.
func DecodeAXML(data []byte) (*AXML, error) {
	if isPlainText(data) {
		return nil, ErrPlainTextManifest
	}

	r := newReader(data, 0)
	h, doc, err := r.chunk()
	if err != nil {
		return nil, errors.Wrap(err, "error parsing xml header")
	}
	if err := doc.seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}

	x := &AXML{Type: h.Type}
	for !doc.eof() {
		start := doc.offset()
		ch, c, err := doc.chunk()
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing chunk at 0x%08x", start)
		}

		switch {
		case ch.Type == chunkStringTable && x.Pool == nil:
			x.Pool, err = decodeStringPool(ch, c)
		case ch.Type == chunkResourceIds && x.ResourceMap == nil:
			x.ResourceMap, err = decodeResourceMap(ch, c)
		case isXmlNode(ch.Type):
			var n XmlNode
			if n, err = decodeNode(ch, c); err == nil {
				x.Nodes = append(x.Nodes, n)
			}
		default:
			err = formatErrorf(start, ErrUnknownChunk, "chunk id 0x%04x", ch.Type)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "Chunk: 0x%04x", ch.Type)
		}
	}

	if x.Pool == nil {
		return nil, formatErrorf(int64(h.HeaderSize), ErrMalformed, "document has no string pool")
	}
	return x, nil
}

// Pack encodes the document, deriving every size and offset from its content.
func (x *AXML) Pack() ([]byte, error) {
	if x.Pool == nil {
		return nil, errors.New("document has no string pool")
	}

	typ := x.Type
	if typ == chunkNull {
		typ = chunkAxmlFile
	}

	return encodeChunk(typ, nil, func(w *parse.BinaryWriter) error {
		pool, err := x.Pool.Pack()
		if err != nil {
			return errors.Wrap(err, "error packing string pool")
		}
		w.Bytes(pool)

		if x.ResourceMap != nil {
			m, err := x.ResourceMap.Pack()
			if err != nil {
				return err
			}
			w.Bytes(m)
		}

		for i, n := range x.Nodes {
			b, err := n.encode()
			if err != nil {
				return errors.Wrapf(err, "error packing node %d", i)
			}
			w.Bytes(b)
		}
		return nil
	})
}

func (x *AXML) str(idx uint32) string {
	s, _ := x.Pool.String(idx)
	return s
}

// AttributeName resolves an attribute name index. Indices covered by the
// resource map go through the catalog, the string pool is the fallback.
func (x *AXML) AttributeName(idx uint32) (string, error) {
	if id, ok := x.ResourceMap.ID(idx); ok {
		if name, ok := x.catalog().Name(id); ok {
			return name, nil
		}
	}
	return x.Pool.String(idx)
}

// FormatValue renders an attribute value the way it is written in XML.
func (x *AXML) FormatValue(a *Attribute) string {
	data := a.Value.Data
	switch a.Value.DataType {
	case TypeString:
		idx := a.RawValue
		if idx == NoEntry {
			idx = data
		}
		return x.str(idx)
	case TypeIntBool:
		return strconv.FormatBool(data != 0)
	case TypeIntHex:
		return fmt.Sprintf("0x%x", data)
	case TypeFloat:
		// keep a decimal point so that the text compiles back to a float
		s := strconv.FormatFloat(float64(math.Float32frombits(data)), 'g', -1, 32)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case TypeReference:
		if data>>24 == 0x01 {
			return fmt.Sprintf("@android:%08x", data)
		}
		return fmt.Sprintf("@%x", data)
	default:
		return strconv.FormatInt(int64(int32(data)), 10)
	}
}

// ParseXml decodes a binary XML document and streams it into enc. The
// resources are optional and can be nil, when present references to string
// values are resolved.
func ParseXml(r io.Reader, enc ManifestEncoder, resources *ARSC) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "error reading xml")
	}

	x, err := DecodeAXML(data)
	if err != nil {
		return err
	}
	return x.EncodeTokens(enc, resources)
}

// EncodeTokens writes the node stream as encoding/xml tokens. Namespaces are
// put on names as URIs and declared by the encoder.
func (x *AXML) EncodeTokens(enc ManifestEncoder, resources *ARSC) error {
	for _, node := range x.Nodes {
		var err error
		switch n := node.(type) {
		case *StartElement:
			err = enc.EncodeToken(x.startToken(n, resources))
		case *EndElement:
			err = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: x.str(n.Namespace), Local: x.str(n.Name)}})
		case *CData:
			err = enc.EncodeToken(xml.CharData(x.str(n.Data)))
		case *StartNamespace, *EndNamespace:
		}
		if err != nil {
			return err
		}
	}
	return enc.Flush()
}

func (x *AXML) startToken(n *StartElement, resources *ARSC) xml.StartElement {
	tok := xml.StartElement{
		Name: xml.Name{Space: x.str(n.Namespace), Local: x.str(n.Name)},
	}

	for i := range n.Attributes {
		a := &n.Attributes[i]
		name, _ := x.AttributeName(a.Name)
		space := x.str(a.Namespace)

		// A resource ID is only ever looked up in the android namespace,
		// obfuscators like to drop it.
		if _, mapped := x.ResourceMap.ID(a.Name); mapped && space == "" && !strings.HasPrefix(name, "platformBuildVersion") && name != "package" {
			space = AndroidNamespace
		}

		value := x.FormatValue(a)
		if a.Value.DataType == TypeReference && resources != nil {
			if s, err := resources.ResolveString(a.Value.Data); err == nil {
				value = s
			}
		}

		tok.Attr = append(tok.Attr, xml.Attr{
			Name:  xml.Name{Space: space, Local: name},
			Value: value,
		})
	}
	return tok
}
