package apkcodec

import (
	"github.com/anaminus/parse"
	"github.com/pkg/errors"
)

// NodeHeader is carried by every node of the XML stream.
type NodeHeader struct {
	LineNumber uint32
	Comment    uint32
}

// XmlNode is one of *StartNamespace, *EndNamespace, *StartElement,
// *EndElement or *CData.
type XmlNode interface {
	NodeType() uint16
	encode() ([]byte, error)
}

type StartNamespace struct {
	NodeHeader
	Prefix uint32
	URI    uint32
}

type EndNamespace struct {
	NodeHeader
	Prefix uint32
	URI    uint32
}

type StartElement struct {
	NodeHeader
	Namespace uint32
	Name      uint32

	// AttributeLayout packs attributeStart (low half) and attributeSize (high half).
	AttributeLayout uint32
	// 1-based index of the "id" attribute, 0 if none.
	IDIndex    uint16
	ClassIndex int16
	StyleIndex int16

	Attributes []Attribute
}

type EndElement struct {
	NodeHeader
	Namespace uint32
	Name      uint32
}

// CData is a text node.
type CData struct {
	NodeHeader
	Data  uint32
	Value ResValue
}

// Attribute is a 20 byte attribute record of a StartElement.
type Attribute struct {
	Namespace uint32
	Name      uint32
	RawValue  uint32
	Value     ResValue
}

func (*StartNamespace) NodeType() uint16 { return chunkXmlNsStart }
func (*EndNamespace) NodeType() uint16   { return chunkXmlNsEnd }
func (*StartElement) NodeType() uint16   { return chunkXmlTagStart }
func (*EndElement) NodeType() uint16     { return chunkXmlTagEnd }
func (*CData) NodeType() uint16          { return chunkXmlText }

func NewStartElement(ns, name uint32) *StartElement {
	return &StartElement{
		NodeHeader:      NodeHeader{Comment: NoEntry},
		Namespace:       ns,
		Name:            name,
		AttributeLayout: defaultAttributeLayout,
		ClassIndex:      -1,
		StyleIndex:      -1,
	}
}

func encodeNode(typ uint16, h NodeHeader, body func(w *parse.BinaryWriter) error) ([]byte, error) {
	return encodeChunk(typ, func(w *parse.BinaryWriter) {
		w.Number(h.LineNumber)
		w.Number(h.Comment)
	}, body)
}

func (n *StartNamespace) encode() ([]byte, error) {
	return encodeNode(chunkXmlNsStart, n.NodeHeader, func(w *parse.BinaryWriter) error {
		w.Number(n.Prefix)
		w.Number(n.URI)
		return nil
	})
}

func (n *EndNamespace) encode() ([]byte, error) {
	return encodeNode(chunkXmlNsEnd, n.NodeHeader, func(w *parse.BinaryWriter) error {
		w.Number(n.Prefix)
		w.Number(n.URI)
		return nil
	})
}

func (n *StartElement) encode() ([]byte, error) {
	if len(n.Attributes) > 0xFFFF {
		return nil, errors.Errorf("Too many attributes (%d)", len(n.Attributes))
	}

	return encodeNode(chunkXmlTagStart, n.NodeHeader, func(w *parse.BinaryWriter) error {
		w.Number(n.Namespace)
		w.Number(n.Name)
		w.Number(n.AttributeLayout)
		w.Number(uint16(len(n.Attributes)))
		w.Number(n.IDIndex)
		w.Number(n.ClassIndex)
		w.Number(n.StyleIndex)
		for i := range n.Attributes {
			n.Attributes[i].writeTo(w)
		}
		return nil
	})
}

func (n *EndElement) encode() ([]byte, error) {
	return encodeNode(chunkXmlTagEnd, n.NodeHeader, func(w *parse.BinaryWriter) error {
		w.Number(n.Namespace)
		w.Number(n.Name)
		return nil
	})
}

func (n *CData) encode() ([]byte, error) {
	return encodeNode(chunkXmlText, n.NodeHeader, func(w *parse.BinaryWriter) error {
		w.Number(n.Data)
		n.Value.writeTo(w)
		return nil
	})
}

func (a *Attribute) writeTo(w *parse.BinaryWriter) {
	w.Number(a.Namespace)
	w.Number(a.Name)
	w.Number(a.RawValue)
	a.Value.writeTo(w)
}

func decodeAttribute(r *reader) (a Attribute, err error) {
	if err = r.need(attributeSize); err != nil {
		return
	}
	a.Namespace, _ = r.u32()
	a.Name, _ = r.u32()
	a.RawValue, _ = r.u32()
	a.Value, err = decodeValue(r)
	return
}

func isXmlNode(typ uint16) bool {
	return typ >= chunkXmlNsStart && typ <= chunkXmlText
}

// decodeNode decodes one node chunk, c spans the whole chunk.
func decodeNode(h Header, c *reader) (XmlNode, error) {
	if h.HeaderSize < xmlNodeHeaderSize {
		return nil, formatErrorf(c.base, ErrMalformed, "node 0x%04x header size %d", h.Type, h.HeaderSize)
	}

	var nh NodeHeader
	nh.LineNumber, _ = c.u32()
	nh.Comment, _ = c.u32()

	if err := c.seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}

	switch h.Type {
	case chunkXmlNsStart, chunkXmlNsEnd:
		prefix, err := c.u32()
		if err != nil {
			return nil, errors.Wrap(err, "error reading namespace prefix")
		}
		uri, err := c.u32()
		if err != nil {
			return nil, errors.Wrap(err, "error reading namespace uri")
		}
		if h.Type == chunkXmlNsStart {
			return &StartNamespace{NodeHeader: nh, Prefix: prefix, URI: uri}, nil
		}
		return &EndNamespace{NodeHeader: nh, Prefix: prefix, URI: uri}, nil
	case chunkXmlTagStart:
		return decodeStartElement(nh, h, c)
	case chunkXmlTagEnd:
		n := &EndElement{NodeHeader: nh}
		if err := c.need(2 * 4); err != nil {
			return nil, errors.Wrap(err, "error reading end element")
		}
		n.Namespace, _ = c.u32()
		n.Name, _ = c.u32()
		return n, nil
	case chunkXmlText:
		n := &CData{NodeHeader: nh}
		var err error
		if n.Data, err = c.u32(); err != nil {
			return nil, errors.Wrap(err, "error reading text idx")
		}
		if n.Value, err = decodeValue(c); err != nil {
			return nil, errors.Wrap(err, "error reading text value")
		}
		return n, nil
	}
	return nil, formatErrorf(c.base, ErrUnknownChunk, "chunk id 0x%04x", h.Type)
}

func decodeStartElement(nh NodeHeader, h Header, c *reader) (*StartElement, error) {
	n := &StartElement{NodeHeader: nh}
	if err := c.need(startElementSize); err != nil {
		return nil, errors.Wrap(err, "error reading start element")
	}

	n.Namespace, _ = c.u32()
	n.Name, _ = c.u32()
	n.AttributeLayout, _ = c.u32()
	attrCount, _ := c.u16()
	n.IDIndex, _ = c.u16()
	class, _ := c.u16()
	style, _ := c.u16()
	n.ClassIndex, n.StyleIndex = int16(class), int16(style)

	attrStart := int(n.AttributeLayout & 0xFFFF)
	attrSize := int(n.AttributeLayout >> 16)
	if attrCount != 0 && attrSize < attributeSize {
		return nil, formatErrorf(c.base, ErrMalformed, "attribute size %d", attrSize)
	}

	n.Attributes = make([]Attribute, attrCount)
	for i := range n.Attributes {
		if err := c.seek(int(h.HeaderSize) + attrStart + i*attrSize); err != nil {
			return nil, errors.Wrapf(err, "attribute %d", i)
		}

		var err error
		if n.Attributes[i], err = decodeAttribute(c); err != nil {
			return nil, errors.Wrapf(err, "error reading attribute %d", i)
		}
	}
	return n, nil
}
