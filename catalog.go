package apkcodec

import (
	_ "embed"
	"io"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AndroidNamespace is the namespace of framework attributes.
const AndroidNamespace = "http://schemas.android.com/apk/res/android"

//go:embed attributes.yaml
var systemAttributesYaml []byte

var (
	systemAttributesOnce sync.Once
	systemAttributes     *AttributeCatalog
)

// AttributeCatalog maps android: attribute names to their resource IDs and back.
type AttributeCatalog struct {
	ids   map[string]uint32
	names map[uint32]string
}

type resourceID uint32

func (id *resourceID) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseUint(n.Value, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid resource id %q", n.Line, n.Value)
	}
	*id = resourceID(v)
	return nil
}

type catalogFile struct {
	Attributes map[string]resourceID `yaml:"attributes"`
}

// SystemAttributes returns the built-in catalog of framework attributes.
func SystemAttributes() *AttributeCatalog {
	systemAttributesOnce.Do(func() {
		var f catalogFile
		if err := yaml.Unmarshal(systemAttributesYaml, &f); err != nil {
			panic("invalid embedded attributes.yaml: " + err.Error())
		}
		systemAttributes = newCatalog(f.Attributes)
	})
	return systemAttributes
}

// LoadAttributeCatalog reads a catalog in the attributes.yaml format.
func LoadAttributeCatalog(r io.Reader) (*AttributeCatalog, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "error decoding attribute catalog")
	}
	return newCatalog(f.Attributes), nil
}

func newCatalog(attrs map[string]resourceID) *AttributeCatalog {
	c := &AttributeCatalog{
		ids:   make(map[string]uint32, len(attrs)),
		names: make(map[uint32]string, len(attrs)),
	}
	for name, id := range attrs {
		c.add(name, uint32(id))
	}
	return c
}

func (c *AttributeCatalog) add(name string, id uint32) {
	if old, ok := c.ids[name]; ok {
		delete(c.names, old)
	}
	c.ids[name] = id
	c.names[id] = name
}

func (c *AttributeCatalog) ID(name string) (uint32, bool) {
	id, ok := c.ids[name]
	return id, ok
}

func (c *AttributeCatalog) Name(id uint32) (string, bool) {
	name, ok := c.names[id]
	return name, ok
}

func (c *AttributeCatalog) Len() int {
	return len(c.ids)
}

// Merge returns a new catalog holding c with the entries of o layered over it.
func (c *AttributeCatalog) Merge(o *AttributeCatalog) *AttributeCatalog {
	res := &AttributeCatalog{
		ids:   make(map[string]uint32, len(c.ids)+len(o.ids)),
		names: make(map[uint32]string, len(c.names)+len(o.names)),
	}
	for name, id := range c.ids {
		res.add(name, id)
	}
	for name, id := range o.ids {
		res.add(name, id)
	}
	return res
}
