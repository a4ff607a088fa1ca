package apkcodec_test

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/pkg/errors"

	"github.com/avast/apkcodec"
)

const minimalManifest = `<manifest xmlns:android="http://schemas.android.com/apk/res/android" android:versionName="1.0"><application/></manifest>`

func compile(t *testing.T, src string) (*apkcodec.AXML, []byte) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(src); err != nil {
		t.Fatalf("failed to parse xml: %s", err.Error())
	}

	x := apkcodec.NewAXML()
	if err := x.FromXML(doc.Root()); err != nil {
		t.Fatalf("failed to compile xml: %s", err.Error())
	}

	data, err := x.Pack()
	if err != nil {
		t.Fatalf("failed to pack xml: %s", err.Error())
	}
	return x, data
}

func TestManifestNodeStream(t *testing.T) {
	_, data := compile(t, minimalManifest)

	x, err := apkcodec.DecodeAXML(data)
	if err != nil {
		t.Fatalf("failed to decode: %s", err.Error())
	}

	str := func(idx uint32) string {
		s, err := x.Pool.String(idx)
		if err != nil {
			t.Fatalf("bad string index %d: %s", idx, err.Error())
		}
		return s
	}

	if len(x.Nodes) != 6 {
		t.Fatalf("decoded %d nodes, expected 6", len(x.Nodes))
	}

	ns, ok := x.Nodes[0].(*apkcodec.StartNamespace)
	if !ok || str(ns.Prefix) != "android" || str(ns.URI) != apkcodec.AndroidNamespace {
		t.Fatalf("node 0 is %#v", x.Nodes[0])
	}

	manifest, ok := x.Nodes[1].(*apkcodec.StartElement)
	if !ok || str(manifest.Name) != "manifest" || len(manifest.Attributes) != 1 {
		t.Fatalf("node 1 is %#v", x.Nodes[1])
	}
	attr := &manifest.Attributes[0]
	if attr.Value.DataType != apkcodec.TypeString || x.FormatValue(attr) != "1.0" {
		t.Fatalf("versionName decoded as %+v", attr)
	}
	if name, err := x.AttributeName(attr.Name); err != nil || name != "versionName" {
		t.Fatalf("attribute name decoded as %q, %v", name, err)
	}
	if manifest.ClassIndex != -1 || manifest.StyleIndex != -1 || manifest.IDIndex != 0 {
		t.Fatalf("unexpected element indices %d %d %d", manifest.IDIndex, manifest.ClassIndex, manifest.StyleIndex)
	}

	app, ok := x.Nodes[2].(*apkcodec.StartElement)
	if !ok || str(app.Name) != "application" || len(app.Attributes) != 0 {
		t.Fatalf("node 2 is %#v", x.Nodes[2])
	}
	if end, ok := x.Nodes[3].(*apkcodec.EndElement); !ok || str(end.Name) != "application" {
		t.Fatalf("node 3 is %#v", x.Nodes[3])
	}
	if end, ok := x.Nodes[4].(*apkcodec.EndElement); !ok || str(end.Name) != "manifest" {
		t.Fatalf("node 4 is %#v", x.Nodes[4])
	}
	if end, ok := x.Nodes[5].(*apkcodec.EndNamespace); !ok || str(end.Prefix) != "android" {
		t.Fatalf("node 5 is %#v", x.Nodes[5])
	}

	if x.ResourceMap == nil || len(x.ResourceMap.IDs) != 1 || x.ResourceMap.IDs[0] != 0x0101021c {
		t.Fatalf("unexpected resource map %+v", x.ResourceMap)
	}

	repacked, err := x.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(repacked, data) {
		t.Fatalf("decoded document does not pack back to the same bytes")
	}
}

func TestDocumentLayout(t *testing.T) {
	_, data := compile(t, minimalManifest)

	h, _, err := apkcodec.DecodeHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	if h.Type != 0x0003 || h.HeaderSize != 8 || int(h.Size) != len(data) {
		t.Fatalf("unexpected document header %+v for %d bytes", h, len(data))
	}

	// every chunk is 4 byte aligned and the sizes add up to the document
	off := int(h.HeaderSize)
	for off < len(data) {
		ch, _, err := apkcodec.DecodeHeader(data[off:])
		if err != nil {
			t.Fatalf("bad chunk at 0x%x: %s", off, err.Error())
		}
		if ch.Size%4 != 0 {
			t.Fatalf("chunk 0x%04x at 0x%x has unaligned size %d", ch.Type, off, ch.Size)
		}
		off += int(ch.Size)
	}
	if off != len(data) {
		t.Fatalf("chunks end at 0x%x, document is 0x%x bytes", off, len(data))
	}
}

func TestTypedAttributes(t *testing.T) {
	_, data := compile(t, `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example"
		android:versionCode="3" android:versionName="2" android:compileSdkVersionCodename="14">
	<application android:debuggable="true" android:hasCode="false" android:icon="@7f010000"
		android:theme="@android:01030005" android:label="0x10" android:persistent="1.5"
		android:enabled="2.0" android:alpha="1e5"/>
</manifest>`)

	x, err := apkcodec.DecodeAXML(data)
	if err != nil {
		t.Fatal(err)
	}

	expected := map[string]struct {
		dataType uint8
		data     uint32
		text     string
	}{
		"package":                   {apkcodec.TypeString, 0, "com.example"},
		"versionCode":               {apkcodec.TypeIntDec, 3, "3"},
		"versionName":               {apkcodec.TypeString, 0, "2"},
		"compileSdkVersionCodename": {apkcodec.TypeString, 0, "14"},
		"debuggable":                {apkcodec.TypeIntBool, 0xFFFFFFFF, "true"},
		"hasCode":                   {apkcodec.TypeIntBool, 0, "false"},
		"icon":                      {apkcodec.TypeReference, 0x7f010000, "@7f010000"},
		"theme":                     {apkcodec.TypeReference, 0x01030005, "@android:01030005"},
		"label":                     {apkcodec.TypeIntHex, 0x10, "0x10"},
		"persistent":                {apkcodec.TypeFloat, 0x3fc00000, "1.5"},
		"enabled":                   {apkcodec.TypeFloat, 0x40000000, "2.0"},
		"alpha":                     {apkcodec.TypeFloat, 0x47c35000, "100000.0"},
	}

	seen := 0
	for _, n := range x.Nodes {
		el, ok := n.(*apkcodec.StartElement)
		if !ok {
			continue
		}
		for i := range el.Attributes {
			a := &el.Attributes[i]
			name, err := x.AttributeName(a.Name)
			if err != nil {
				t.Fatal(err)
			}
			exp, ok := expected[name]
			if !ok {
				t.Fatalf("unexpected attribute %s", name)
			}
			seen++

			if a.Value.DataType != exp.dataType {
				t.Errorf("%s: type 0x%02x, expected 0x%02x", name, a.Value.DataType, exp.dataType)
			}
			if exp.dataType == apkcodec.TypeString {
				if a.RawValue != a.Value.Data {
					t.Errorf("%s: raw value %d differs from data %d", name, a.RawValue, a.Value.Data)
				}
			} else {
				if a.Value.Data != exp.data {
					t.Errorf("%s: data 0x%08x, expected 0x%08x", name, a.Value.Data, exp.data)
				}
				if a.RawValue != apkcodec.NoEntry {
					t.Errorf("%s: typed value has raw value %d", name, a.RawValue)
				}
			}
			if a.Value.Tag() != uint32(exp.dataType)<<24|8 {
				t.Errorf("%s: tag 0x%08x", name, a.Value.Tag())
			}
			if text := x.FormatValue(a); text != exp.text {
				t.Errorf("%s: formatted as %q, expected %q", name, text, exp.text)
			}
		}
	}
	if seen != len(expected) {
		t.Fatalf("saw %d attributes, expected %d", seen, len(expected))
	}
}

func TestTreeRoundTrip(t *testing.T) {
	src := `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example" android:versionCode="7">
	<uses-sdk android:minSdkVersion="21"/>
	<application android:label="@7f0b0001" android:debuggable="false">
		<activity android:name=".Main" android:exported="true" android:alpha="2.0"/>
		<meta-data android:name="key">some text</meta-data>
	</application>
</manifest>`

	first, data := compile(t, src)

	x, err := apkcodec.DecodeAXML(data)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := x.ToXML()
	if err != nil {
		t.Fatalf("failed to convert to xml: %s", err.Error())
	}

	root := doc.Root()
	if root == nil || root.Tag != "manifest" {
		t.Fatalf("unexpected root %v", root)
	}
	if v := root.SelectAttrValue("android:versionCode", ""); v != "7" {
		t.Fatalf("versionCode is %q", v)
	}
	if meta := root.FindElement("./application/meta-data"); meta == nil || meta.Text() != "some text" {
		t.Fatalf("text node was lost: %v", meta)
	}

	second := apkcodec.NewAXML()
	if err := second.FromXML(root); err != nil {
		t.Fatal(err)
	}
	repacked, err := second.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(repacked, data) {
		t.Fatalf("xml round trip changed the document:\n%v\n%v", first.Pool.Strings(), second.Pool.Strings())
	}
}

func TestElementNamespace(t *testing.T) {
	const dist = "http://schemas.android.com/apk/distribution"
	_, data := compile(t, `<manifest xmlns:android="http://schemas.android.com/apk/res/android" xmlns:dist="`+dist+`" package="com.example">
	<dist:module/>
</manifest>`)

	x, err := apkcodec.DecodeAXML(data)
	if err != nil {
		t.Fatal(err)
	}

	var start, end int
	for _, n := range x.Nodes {
		switch n := n.(type) {
		case *apkcodec.StartElement:
			if name, _ := x.Pool.String(n.Name); name == "module" {
				if uri, _ := x.Pool.String(n.Namespace); uri != dist {
					t.Fatalf("module start element has namespace %q", uri)
				}
				start++
			}
		case *apkcodec.EndElement:
			if name, _ := x.Pool.String(n.Name); name == "module" {
				if uri, _ := x.Pool.String(n.Namespace); uri != dist {
					t.Fatalf("module end element has namespace %q", uri)
				}
				end++
			}
		}
	}
	if start != 1 || end != 1 {
		t.Fatalf("found %d start and %d end elements for module", start, end)
	}

	doc, err := x.ToXML()
	if err != nil {
		t.Fatal(err)
	}
	module := doc.Root().SelectElement("module")
	if module == nil || module.NamespaceURI() != dist {
		t.Fatalf("module lost its namespace: %v", module)
	}

	second := apkcodec.NewAXML()
	if err := second.FromXML(doc.Root()); err != nil {
		t.Fatal(err)
	}
	repacked, err := second.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(repacked, data) {
		t.Fatalf("namespaced element does not survive the xml round trip")
	}
}

func TestTextNode(t *testing.T) {
	_, data := compile(t, `<string name="app">Hello</string>`)

	x, err := apkcodec.DecodeAXML(data)
	if err != nil {
		t.Fatal(err)
	}

	var text *apkcodec.CData
	for _, n := range x.Nodes {
		if c, ok := n.(*apkcodec.CData); ok {
			text = c
		}
	}
	if text == nil {
		t.Fatalf("no text node in %d nodes", len(x.Nodes))
	}
	if s, _ := x.Pool.String(text.Data); s != "Hello" {
		t.Fatalf("text is %q", s)
	}
	if text.Value.Size != 8 || text.Value.DataType != apkcodec.TypeNull {
		t.Fatalf("unexpected text value %+v", text.Value)
	}
}

func TestPreservesUnusualFields(t *testing.T) {
	_, data := compile(t, minimalManifest)
	x, err := apkcodec.DecodeAXML(data)
	if err != nil {
		t.Fatal(err)
	}

	el := x.Nodes[1].(*apkcodec.StartElement)
	el.LineNumber = 42
	el.Comment = 0
	el.IDIndex = 1
	el.Attributes[0].Value.Res0 = 0x7f
	x.Type = 0x0001

	data, err = x.Pack()
	if err != nil {
		t.Fatal(err)
	}
	y, err := apkcodec.DecodeAXML(data)
	if err != nil {
		t.Fatal(err)
	}

	got := y.Nodes[1].(*apkcodec.StartElement)
	if y.Type != 0x0001 || got.LineNumber != 42 || got.Comment != 0 || got.IDIndex != 1 || got.Attributes[0].Value.Res0 != 0x7f {
		t.Fatalf("fields were not preserved: type 0x%04x %+v", y.Type, got)
	}
}

func TestUnknownChunk(t *testing.T) {
	_, data := compile(t, minimalManifest)

	// turn the end namespace node, the last chunk, into chunk type 0x0777
	off := len(data) - 24
	if binary.LittleEndian.Uint16(data[off:]) != 0x0101 {
		t.Fatalf("last chunk is not the end namespace")
	}
	binary.LittleEndian.PutUint16(data[off:], 0x0777)

	_, err := apkcodec.DecodeAXML(data)
	if errors.Cause(err) != apkcodec.ErrUnknownChunk {
		t.Fatalf("expected ErrUnknownChunk, got %v", err)
	}

	var ferr *apkcodec.FormatError
	if !errors.As(err, &ferr) || ferr.Offset != int64(off) {
		t.Fatalf("expected a FormatError at 0x%x, got %v", off, err)
	}
}

func TestTruncatedDocument(t *testing.T) {
	_, data := compile(t, minimalManifest)

	for _, n := range []int{4, 20, len(data) / 2, len(data) - 1} {
		_, err := apkcodec.DecodeAXML(data[:n])
		if errors.Cause(err) != apkcodec.ErrTruncated {
			t.Fatalf("decoding %d of %d bytes: expected ErrTruncated, got %v", n, len(data), err)
		}
	}

	// a document that claims less than its header
	bad := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(bad[4:], 4)
	if _, err := apkcodec.DecodeAXML(bad); errors.Cause(err) != apkcodec.ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseXml(t *testing.T) {
	_, data := compile(t, `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example"><application android:debuggable="true"/></manifest>`)

	var out strings.Builder
	enc := xml.NewEncoder(&out)
	if err := apkcodec.ParseXml(bytes.NewReader(data), enc, nil); err != nil {
		t.Fatalf("failed to parse: %s", err.Error())
	}

	got := out.String()
	for _, s := range []string{`<manifest package="com.example">`, `debuggable="true"`, `</application></manifest>`} {
		if !strings.Contains(got, s) {
			t.Fatalf("output %s does not contain %s", got, s)
		}
	}
}

func TestPlainManifest(t *testing.T) {
	plainManifests := []string{
		`<?xml version="1.0" encoding="utf-8" standalone="no"?>`,
		`<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example">`,
	}

	enc := xml.NewEncoder(io.Discard)

	for _, man := range plainManifests {
		r := strings.NewReader(man)
		if err := apkcodec.ParseXml(r, enc, nil); err != apkcodec.ErrPlainTextManifest {
			t.Fatalf("failed to produce ErrPlainTextManifest on string '%s', got '%v' instead", man, err)
			return
		}
	}
}

func TestCustomCatalog(t *testing.T) {
	extra, err := apkcodec.LoadAttributeCatalog(strings.NewReader("attributes:\n  fancyColor: 0x01019999\n  label: 0x01010001\n"))
	if err != nil {
		t.Fatal(err)
	}
	cat := apkcodec.SystemAttributes().Merge(extra)

	if id, ok := cat.ID("fancyColor"); !ok || id != 0x01019999 {
		t.Fatalf("fancyColor resolved to 0x%08x, %v", id, ok)
	}
	if name, ok := cat.Name(0x01010003); !ok || name != "name" {
		t.Fatalf("0x01010003 resolved to %q, %v", name, ok)
	}
	if cat.Len() != apkcodec.SystemAttributes().Len()+1 {
		t.Fatalf("merged catalog has %d entries", cat.Len())
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(`<view xmlns:android="http://schemas.android.com/apk/res/android" android:fancyColor="1"/>`); err != nil {
		t.Fatal(err)
	}
	x := apkcodec.NewAXML()
	x.Catalog = cat
	if err := x.FromXML(doc.Root()); err != nil {
		t.Fatal(err)
	}
	if len(x.ResourceMap.IDs) != 1 || x.ResourceMap.IDs[0] != 0x01019999 {
		t.Fatalf("unexpected resource map %v", x.ResourceMap.IDs)
	}

	if _, err := apkcodec.LoadAttributeCatalog(strings.NewReader("attributes:\n  bad: nope\n")); err == nil {
		t.Fatalf("invalid id was accepted")
	}
}

func TestSystemAttributes(t *testing.T) {
	cat := apkcodec.SystemAttributes()
	for name, id := range map[string]uint32{
		"theme":                        0x01010000,
		"minSdkVersion":                0x0101020c,
		"alpha":                        0x0101031f,
		"supportsRtl":                  0x010103af,
		"targetSandboxVersion":         0x0101054c,
		"foregroundServiceType":        0x01010599,
		"requestLegacyExternalStorage": 0x01010603,
		"dataExtractionRules":          0x0101064e,
	} {
		if got, ok := cat.ID(name); !ok || got != id {
			t.Errorf("%s resolved to 0x%08x, %v", name, got, ok)
		}
		if got, ok := cat.Name(id); !ok || got != name {
			t.Errorf("0x%08x resolved to %q, %v", id, got, ok)
		}
	}
	if cat.Len() < 1000 {
		t.Fatalf("catalog only has %d attributes", cat.Len())
	}
}
