package apkcodec_test

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/avast/apkcodec"
)

const testPackage = "com.example"

func newTable(t *testing.T) *apkcodec.ARSC {
	a := apkcodec.NewARSC()
	a.Packages = append(a.Packages, &apkcodec.Package{
		ID:          0x7f,
		Name:        testPackage,
		HeaderExtra: []byte{0, 0, 0, 0},
		TypeStrings: apkcodec.NewStringPool(false),
		KeyStrings:  apkcodec.NewStringPool(false),
	})
	return a
}

func addPublic(t *testing.T, a *apkcodec.ARSC, typ, name, value string) uint32 {
	id, err := a.AddIDPublic(testPackage, typ, name, value)
	if err != nil {
		t.Fatalf("failed to add %s/%s: %s", typ, name, err.Error())
	}
	return id
}

func TestConvertID(t *testing.T) {
	if id := apkcodec.ConvertID(1, 0); id != 0x7f010000 {
		t.Fatalf("ConvertID(1, 0) = 0x%08x", id)
	}
	if id := apkcodec.ConvertID(0x0b, 0x2a); id != 0x7f0b002a {
		t.Fatalf("ConvertID(0x0b, 0x2a) = 0x%08x", id)
	}

	seen := make(map[uint32]bool)
	for typ := uint32(1); typ < 32; typ++ {
		for idx := 0; idx < 64; idx++ {
			id := apkcodec.ConvertID(typ, idx)
			if seen[id] {
				t.Fatalf("ConvertID(%d, %d) = 0x%08x collides", typ, idx, id)
			}
			seen[id] = true
		}
	}
}

func TestAddIDPublic(t *testing.T) {
	a := newTable(t)

	ids := []uint32{
		addPublic(t, a, "string", "app_name", "Example App"),
		addPublic(t, a, "string", "title", "res/values/title"),
		addPublic(t, a, "drawable", "icon", "res/drawable/icon.png"),
	}
	expected := []uint32{0x7f010000, 0x7f010001, 0x7f020000}
	for i := range ids {
		if ids[i] != expected[i] {
			t.Fatalf("resource %d got id 0x%08x, expected 0x%08x", i, ids[i], expected[i])
		}
	}

	id, data, err := a.GetIDPublic(testPackage, "string", "title")
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x7f010001 {
		t.Fatalf("title has id 0x%08x", id)
	}
	if s, _ := a.Pool.String(data); s != "res/values/title" {
		t.Fatalf("title points to %q", s)
	}

	if _, _, err := a.GetIDPublic(testPackage, "string", "missing"); errors.Cause(err) != apkcodec.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := a.AddIDPublic("org.other", "string", "x", "y"); errors.Cause(err) != apkcodec.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p, err := a.Package(testPackage)
	if err != nil {
		t.Fatal(err)
	}
	spec := p.TypeSpec(1)
	if spec == nil || len(spec.Flags) != 2 || spec.Flags[0] != apkcodec.SpecPublic {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if name, _ := p.TypeName(2); name != "drawable" {
		t.Fatalf("type 2 is called %q", name)
	}
}

func TestAddIDPublicAlignsConfigs(t *testing.T) {
	a := newTable(t)
	addPublic(t, a, "string", "app_name", "Example App")
	addPublic(t, a, "string", "title", "Title")

	p, _ := a.Package(testPackage)
	key, _ := p.KeyStrings.Index("app_name")
	value, _ := a.Pool.Get("Application")

	fr := &apkcodec.TypeType{ID: 1, Config: apkcodec.DefaultTableConfig()}
	fr.Config.Language = [2]byte{'f', 'r'}
	fr.Entries = []*apkcodec.TableEntry{{
		Size:  8,
		Key:   key,
		Value: apkcodec.NewValue(apkcodec.TypeString, value),
	}}
	p.Chunks = append(p.Chunks, fr)

	id := addPublic(t, a, "string", "subtitle", "Subtitle")
	if id != 0x7f010002 {
		t.Fatalf("subtitle got id 0x%08x", id)
	}

	spec := p.TypeSpec(1)
	for _, typ := range p.Types(1) {
		if len(typ.Entries) != len(spec.Flags) {
			t.Fatalf("config %q has %d entries, spec has %d", typ.Config.Locale(), len(typ.Entries), len(spec.Flags))
		}
	}
	if fr.Entries[1] != nil || fr.Entries[2] != nil {
		t.Fatalf("localized config did not get holes")
	}

	if got, _, err := a.GetIDPublic(testPackage, "string", "subtitle"); err != nil || got != id {
		t.Fatalf("GetIDPublic returned 0x%08x, %v", got, err)
	}

	// the default configuration wins over the french one
	if s, err := a.ResolveString(0x7f010000); err != nil || s != "Example App" {
		t.Fatalf("0x7f010000 resolved to %q, %v", s, err)
	}
	if _, err := a.ResolveString(0x7f010009); errors.Cause(err) != apkcodec.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if fr.Config.Locale() != "fr" || fr.Config.IsDefault() {
		t.Fatalf("unexpected french config %+v", fr.Config)
	}
}

func sparseType() *apkcodec.RawChunk {
	body := make([]byte, 76)
	body[0] = 3
	body[1] = 0x01
	binary.LittleEndian.PutUint32(body[8:], 84)
	binary.LittleEndian.PutUint32(body[12:], 64)
	return &apkcodec.RawChunk{Header: apkcodec.Header{Type: 0x0201, HeaderSize: 84}, Body: body}
}

func TestTableRoundTrip(t *testing.T) {
	a := newTable(t)
	addPublic(t, a, "string", "app_name", "Example App")
	addPublic(t, a, "drawable", "icon", "res/drawable/icon.png")
	addPublic(t, a, "string", "title", "Title")

	p, _ := a.Package(testPackage)
	key, _ := p.KeyStrings.Get("style")
	p.Chunks = append(p.Chunks,
		&apkcodec.RawChunk{Header: apkcodec.Header{Type: 0x0203, HeaderSize: 12}, Body: []byte{0, 0, 0, 0}},
		sparseType(),
		&apkcodec.TypeType{ID: 2, Config: apkcodec.DefaultTableConfig(), Entries: []*apkcodec.TableEntry{
			nil,
			{
				Size:   16,
				Flags:  apkcodec.EntryFlagComplex,
				Key:    key,
				Parent: 0x01030005,
				Map: []apkcodec.TableMap{
					{Name: 0x01010098, Value: apkcodec.NewValue(apkcodec.TypeIntColorArgb8, 0xff00ff00)},
				},
			},
		}},
	)

	data, err := a.Pack()
	if err != nil {
		t.Fatalf("failed to pack table: %s", err.Error())
	}

	decoded, err := apkcodec.DecodeARSC(data)
	if err != nil {
		t.Fatalf("failed to decode table: %s", err.Error())
	}

	repacked, err := decoded.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, repacked) {
		t.Fatalf("table does not pack back to the same bytes")
	}

	dp := decoded.Packages[0]
	if dp.Name != testPackage || dp.ID != 0x7f || len(dp.HeaderExtra) != 4 {
		t.Fatalf("unexpected package %q 0x%x", dp.Name, dp.ID)
	}
	if len(dp.Chunks) != len(p.Chunks) {
		t.Fatalf("decoded %d chunks, expected %d", len(dp.Chunks), len(p.Chunks))
	}
	if raw, ok := dp.Chunks[len(dp.Chunks)-2].(*apkcodec.RawChunk); !ok || raw.Header.Type != 0x0201 {
		t.Fatalf("sparse type was not kept raw: %#v", dp.Chunks[len(dp.Chunks)-2])
	}

	bag := dp.Chunks[len(dp.Chunks)-1].(*apkcodec.TypeType).Entries[1]
	if !bag.IsComplex() || bag.Parent != 0x01030005 || len(bag.Map) != 1 || bag.Data() != 0 {
		t.Fatalf("unexpected bag %+v", bag)
	}

	if id, _, err := decoded.GetIDPublic(testPackage, "string", "title"); err != nil || id != 0x7f010001 {
		t.Fatalf("title decoded as 0x%08x, %v", id, err)
	}

	res, err := apkcodec.Decode(data)
	if err != nil || res.Kind() != "arsc" {
		t.Fatalf("Decode returned %v, %v", res, err)
	}
}

func TestTablePackageCount(t *testing.T) {
	a := newTable(t)
	addPublic(t, a, "string", "app_name", "Example App")

	data, err := a.Pack()
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(data[8:], 2)

	if _, err := apkcodec.DecodeARSC(data); errors.Cause(err) != apkcodec.ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestListPackages(t *testing.T) {
	a := newTable(t)
	addPublic(t, a, "string", "app_name", "Example App")
	addPublic(t, a, "drawable", "icon", "res/drawable/icon.png")

	list := a.ListPackages()
	lines := strings.Split(strings.TrimSpace(list), "\n")
	expected := []string{
		testPackage,
		`<public type="string" name="app_name" id="0x7f010000" data="Example App" data_size="8"/>`,
		`<public type="drawable" name="icon" id="0x7f020000" data="res/drawable/icon.png" data_size="8"/>`,
	}
	if strings.Join(lines, "\n") != strings.Join(expected, "\n") {
		t.Fatalf("unexpected listing:\n%s", list)
	}

	if names := a.PackageNames(); len(names) != 1 || names[0] != testPackage {
		t.Fatalf("unexpected package names %v", names)
	}
}
