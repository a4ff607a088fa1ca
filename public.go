package apkcodec

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// PublicEntry is a named entry of a TypeType.
type PublicEntry struct {
	Package string
	Type    string
	Name    string
	ID      uint32
	Value   ResValue
	Complex bool
}

// ConvertID builds the resource ID of entry index of a type in the app package.
func ConvertID(typeID uint32, index int) uint32 {
	return 0x7f000000 | (typeID&0xff)<<16 | typeID&0xff00 | uint32(index)
}

// GetIDPublic looks up the resource called name of type typ in package pkg
// and returns its ID and the entry's data word.
func (a *ARSC) GetIDPublic(pkg, typ, name string) (id, data uint32, err error) {
	for _, p := range a.Packages {
		if p.Name != pkg {
			continue
		}

		for _, ch := range p.Chunks {
			t, ok := ch.(*TypeType)
			if !ok {
				continue
			}
			if tn, err := p.TypeName(t.ID); err != nil || tn != typ {
				continue
			}

			for i, e := range t.Entries {
				if e == nil {
					continue
				}
				if key, err := p.KeyStrings.String(e.Key); err == nil && key == name {
					return ConvertID(uint32(t.ID), i), e.Data(), nil
				}
			}
		}
	}
	return 0, 0, errors.Wrapf(ErrNotFound, "resource %s:%s/%s", pkg, typ, name)
}

// AddIDPublic adds a string resource name of type typ pointing to path and
// returns its ID. The type is created when the package does not have it yet.
func (a *ARSC) AddIDPublic(pkg, typ, name, path string) (uint32, error) {
	p, err := a.Package(pkg)
	if err != nil {
		return 0, err
	}

	pathIdx, err := a.Pool.Get(path)
	if err != nil {
		return 0, err
	}

	typeID, err := p.typeID(typ)
	if err != nil {
		return 0, err
	}

	key, err := p.KeyStrings.Get(name)
	if err != nil {
		return 0, err
	}

	spec := p.TypeSpec(typeID)
	if spec == nil {
		spec = &TypeSpec{ID: typeID}
		p.Chunks = append(p.Chunks, spec)
	}

	types := p.Types(typeID)
	slot := len(spec.Flags)
	for _, t := range types {
		if len(t.Entries) > slot {
			slot = len(t.Entries)
		}
	}

	for len(spec.Flags) <= slot {
		spec.Flags = append(spec.Flags, 0)
	}
	spec.Flags[slot] |= SpecPublic

	if len(types) == 0 {
		t := &TypeType{ID: typeID, Config: DefaultTableConfig()}
		p.Chunks = append(p.Chunks, t)
		types = append(types, t)
	}

	entry := &TableEntry{
		Size:  simpleEntrySize,
		Flags: EntryFlagPublic,
		Key:   key,
		Value: NewValue(TypeString, pathIdx),
	}

	for i, t := range types {
		for len(t.Entries) < slot {
			t.Entries = append(t.Entries, nil)
		}
		if i == 0 {
			t.Entries = append(t.Entries, entry)
		} else {
			t.Entries = append(t.Entries, nil)
		}
	}
	return ConvertID(uint32(typeID), slot), nil
}

// typeID finds the id of the type called typ, registering the name when the
// package has no chunk for it.
func (p *Package) typeID(typ string) (uint8, error) {
	for _, ch := range p.Chunks {
		var id uint8
		switch c := ch.(type) {
		case *TypeType:
			id = c.ID
		case *TypeSpec:
			id = c.ID
		default:
			continue
		}
		if tn, err := p.TypeName(id); err == nil && tn == typ {
			return id, nil
		}
	}

	idx, err := p.TypeStrings.Get(typ)
	if err != nil {
		return 0, err
	}
	if idx >= 0xFF {
		return 0, errors.Errorf("Package %q has too many types", p.Name)
	}
	return uint8(idx + 1), nil
}

// PublicEntries lists every named entry of every package, holes skipped.
func (a *ARSC) PublicEntries() []PublicEntry {
	var res []PublicEntry
	for _, p := range a.Packages {
		for _, ch := range p.Chunks {
			t, ok := ch.(*TypeType)
			if !ok {
				continue
			}
			tn, _ := p.TypeName(t.ID)

			for i, e := range t.Entries {
				if e == nil {
					continue
				}
				name, _ := p.KeyStrings.String(e.Key)
				res = append(res, PublicEntry{
					Package: p.Name,
					Type:    tn,
					Name:    name,
					ID:      ConvertID(uint32(t.ID), i),
					Value:   e.Value,
					Complex: e.IsComplex(),
				})
			}
		}
	}
	return res
}

// ListPackages renders every package name followed by its entries as
// <public/> lines.
func (a *ARSC) ListPackages() string {
	var sb strings.Builder
	entries := a.PublicEntries()
	for _, p := range a.Packages {
		fmt.Fprintf(&sb, "%s\n", p.Name)
		for _, e := range entries {
			if e.Package != p.Name {
				continue
			}

			var data string
			switch {
			case e.Complex:
				data = "bag"
			case e.Value.DataType == TypeString:
				data, _ = a.Pool.String(e.Value.Data)
			default:
				data = fmt.Sprintf("0x%x", e.Value.Data)
			}
			fmt.Fprintf(&sb, "<public type=\"%s\" name=\"%s\" id=\"0x%08x\" data=\"%s\" data_size=\"%d\"/>\n",
				e.Type, e.Name, e.ID, data, e.Value.Size)
		}
	}
	return sb.String()
}

// PackageNames returns the names of all packages.
func (a *ARSC) PackageNames() []string {
	res := make([]string, len(a.Packages))
	for i, p := range a.Packages {
		res[i] = p.Name
	}
	return res
}

// Lookup finds the entry of resource id. Entries of the default configuration
// are preferred.
func (a *ARSC) Lookup(id uint32) (*Package, *TableEntry, error) {
	pkgID, typeID, idx := id>>24, uint8(id>>16), int(id&0xFFFF)
	for _, p := range a.Packages {
		if p.ID != pkgID {
			continue
		}

		var found *TableEntry
		for _, t := range p.Types(typeID) {
			if idx >= len(t.Entries) || t.Entries[idx] == nil {
				continue
			}
			if t.Config.IsDefault() {
				return p, t.Entries[idx], nil
			}
			if found == nil {
				found = t.Entries[idx]
			}
		}
		if found != nil {
			return p, found, nil
		}
	}
	return nil, nil, errors.Wrapf(ErrNotFound, "resource 0x%08x", id)
}

// ResolveString returns the value of a string resource.
func (a *ARSC) ResolveString(id uint32) (string, error) {
	_, e, err := a.Lookup(id)
	if err != nil {
		return "", err
	}
	if e.IsComplex() || e.Value.DataType != TypeString {
		return "", errors.Errorf("Resource 0x%08x is not a string", id)
	}
	return a.Pool.String(e.Value.Data)
}
