package apkcodec

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
)

var (
	androidRefRegex = regexp.MustCompile(`^@android:[0-9a-fA-F]+$`)
	refRegex        = regexp.MustCompile(`^@[0-9a-fA-F]+$`)
	hexRegex        = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)
)

// Attributes whose values stay strings even when they look like numbers.
var stringAttributes = map[string]bool{
	"versionName":               true,
	"compileSdkVersionCodename": true,
}

// ToXML converts the node stream into an XML document.
func (x *AXML) ToXML() (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	prefixes := make(map[string]string)
	var pending [][2]string
	var root *etree.Element
	var stack []*etree.Element

	prefixFor := func(uri string) string {
		if p, ok := prefixes[uri]; ok {
			return p
		}
		p := fmt.Sprintf("ns%d", len(prefixes))
		prefixes[uri] = p
		if root != nil {
			root.CreateAttr("xmlns:"+p, uri)
		} else {
			pending = append(pending, [2]string{p, uri})
		}
		return p
	}

	for i, node := range x.Nodes {
		switch n := node.(type) {
		case *StartNamespace:
			prefix, uri := x.str(n.Prefix), x.str(n.URI)
			if _, ok := prefixes[uri]; !ok {
				prefixes[uri] = prefix
				pending = append(pending, [2]string{prefix, uri})
			}
		case *EndNamespace:
		case *StartElement:
			name, err := x.Pool.String(n.Name)
			if err != nil {
				return nil, errors.Wrapf(err, "node %d: error decoding name", i)
			}

			var el *etree.Element
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.Errorf("node %d: second root element <%s>", i, name)
				}
				el = doc.CreateElement(name)
				root = el
			} else {
				el = stack[len(stack)-1].CreateElement(name)
			}

			for _, p := range pending {
				el.CreateAttr("xmlns:"+p[0], p[1])
			}
			pending = nil

			if ns := x.str(n.Namespace); ns != "" {
				el.Space = prefixFor(ns)
			}

			for j := range n.Attributes {
				a := &n.Attributes[j]
				attrName, err := x.AttributeName(a.Name)
				if err != nil {
					return nil, errors.Wrapf(err, "node %d: error decoding attribute %d name", i, j)
				}
				if ns := x.str(a.Namespace); ns != "" {
					attrName = prefixFor(ns) + ":" + attrName
				}
				el.CreateAttr(attrName, x.FormatValue(a))
			}
			stack = append(stack, el)
		case *EndElement:
			if len(stack) == 0 {
				return nil, errors.Errorf("node %d: end element without start", i)
			}
			stack = stack[:len(stack)-1]
		case *CData:
			if len(stack) != 0 {
				stack[len(stack)-1].CreateText(x.str(n.Data))
			}
		}
	}

	if len(stack) != 0 {
		return nil, errors.Errorf("%d elements are not closed", len(stack))
	}
	return doc, nil
}

func isNamespaceDecl(a *etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

// FromXML replaces the document with the encoding of the tree rooted at root.
func (x *AXML) FromXML(root *etree.Element) error {
	if root == nil {
		return errors.New("empty tree")
	}

	x.Type = chunkAxmlFile
	x.Pool = NewStringPool(false)
	x.ResourceMap = &ResourceMap{}
	x.Nodes = nil

	if err := x.mapAttributes(root); err != nil {
		return err
	}

	prefix, err := x.Pool.Get("android")
	if err != nil {
		return err
	}
	uri, err := x.Pool.Get(AndroidNamespace)
	if err != nil {
		return err
	}

	x.Nodes = append(x.Nodes, &StartNamespace{NodeHeader: NodeHeader{Comment: NoEntry}, Prefix: prefix, URI: uri})
	if err := x.addElement(root); err != nil {
		return err
	}
	x.Nodes = append(x.Nodes, &EndNamespace{NodeHeader: NodeHeader{Comment: NoEntry}, Prefix: prefix, URI: uri})
	return nil
}

// mapAttributes puts every known android: attribute name first in the pool so
// that its index is also its position in the resource map.
func (x *AXML) mapAttributes(e *etree.Element) error {
	cat := x.catalog()
	for i := range e.Attr {
		a := &e.Attr[i]
		if isNamespaceDecl(a) || a.NamespaceURI() != AndroidNamespace {
			continue
		}

		id, ok := cat.ID(a.Key)
		if !ok {
			continue
		}
		if _, dup := x.ResourceMap.IndexOf(id); dup {
			continue
		}

		if _, err := x.Pool.Get(a.Key); err != nil {
			return err
		}
		x.ResourceMap.IDs = append(x.ResourceMap.IDs, id)
	}

	for _, c := range e.ChildElements() {
		if err := x.mapAttributes(c); err != nil {
			return err
		}
	}
	return nil
}

func (x *AXML) addElement(e *etree.Element) error {
	name, err := x.Pool.Get(e.Tag)
	if err != nil {
		return err
	}

	ns := uint32(NoEntry)
	if uri := e.NamespaceURI(); uri != "" {
		if ns, err = x.Pool.Get(uri); err != nil {
			return err
		}
	}

	n := NewStartElement(ns, name)
	for i := range e.Attr {
		a := &e.Attr[i]
		if isNamespaceDecl(a) {
			continue
		}

		attr, err := x.newAttribute(a)
		if err != nil {
			return errors.Wrapf(err, "<%s %s>", e.Tag, a.FullKey())
		}
		n.Attributes = append(n.Attributes, attr)
	}
	x.Nodes = append(x.Nodes, n)

	for _, child := range e.Child {
		switch c := child.(type) {
		case *etree.Element:
			if err := x.addElement(c); err != nil {
				return err
			}
		case *etree.CharData:
			if strings.TrimSpace(c.Data) == "" {
				continue
			}
			idx, err := x.Pool.Get(c.Data)
			if err != nil {
				return err
			}
			x.Nodes = append(x.Nodes, &CData{
				NodeHeader: NodeHeader{Comment: NoEntry},
				Data:       idx,
				Value:      NewValue(TypeNull, 0),
			})
		}
	}

	x.Nodes = append(x.Nodes, &EndElement{NodeHeader: NodeHeader{Comment: NoEntry}, Namespace: ns, Name: name})
	return nil
}

func (x *AXML) newAttribute(a *etree.Attr) (Attribute, error) {
	res := Attribute{Namespace: NoEntry, RawValue: NoEntry}

	var err error
	if uri := a.NamespaceURI(); uri != "" {
		if res.Namespace, err = x.Pool.Get(uri); err != nil {
			return res, err
		}
	}
	if res.Name, err = x.Pool.Get(a.Key); err != nil {
		return res, err
	}

	if v, ok := inferValue(a.Key, a.Value); ok {
		res.Value = v
		return res, nil
	}

	idx, err := x.Pool.Get(a.Value)
	if err != nil {
		return res, err
	}
	res.RawValue = idx
	res.Value = NewValue(TypeString, idx)
	return res, nil
}

// inferValue types a literal attribute value, false means it is a string.
func inferValue(name, value string) (ResValue, bool) {
	if stringAttributes[name] {
		return ResValue{}, false
	}

	switch {
	case value == "true":
		// aapt writes all bits set, readers treat any non-zero data as true
		return NewValue(TypeIntBool, 0xFFFFFFFF), true
	case value == "false":
		return NewValue(TypeIntBool, 0), true
	case androidRefRegex.MatchString(value):
		digits := value[len("@android:"):]
		if len(digits) > 8 {
			digits = digits[len(digits)-8:]
		}
		id, _ := strconv.ParseUint(digits, 16, 32)
		return NewValue(TypeReference, uint32(id)), true
	case refRegex.MatchString(value):
		if id, err := strconv.ParseUint(value[1:], 16, 32); err == nil {
			return NewValue(TypeReference, uint32(id)), true
		}
	case hexRegex.MatchString(value):
		if v, err := strconv.ParseUint(value[2:], 16, 32); err == nil {
			return NewValue(TypeIntHex, uint32(v)), true
		}
	}

	if v, err := strconv.ParseInt(value, 10, 32); err == nil {
		return NewValue(TypeIntDec, uint32(int32(v))), true
	}

	if f, err := strconv.ParseFloat(value, 32); err == nil {
		return NewValue(TypeFloat, math.Float32bits(float32(f))), true
	}
	return ResValue{}, false
}
