package apkcodec

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

type xmlModel struct {
	Kind        string      `cbor:"kind"`
	Type        uint16      `cbor:"type"`
	UTF8        bool        `cbor:"utf8"`
	Strings     []string    `cbor:"strings"`
	ResourceMap []uint32    `cbor:"resource_map,omitempty"`
	Nodes       []nodeModel `cbor:"nodes"`
}

type nodeModel struct {
	Kind string  `cbor:"kind"`
	Node XmlNode `cbor:"node"`
}

type tableModel struct {
	Kind     string         `cbor:"kind"`
	UTF8     bool           `cbor:"utf8"`
	Strings  []string       `cbor:"strings"`
	Packages []packageModel `cbor:"packages"`
}

type packageModel struct {
	ID     uint32       `cbor:"id"`
	Name   string       `cbor:"name"`
	Types  []string     `cbor:"types"`
	Keys   []string     `cbor:"keys"`
	Chunks []chunkModel `cbor:"chunks"`
}

type chunkModel struct {
	Kind  string     `cbor:"kind"`
	Chunk TableChunk `cbor:"chunk"`
}

var modelEncMode cbor.EncMode

func init() {
	var err error
	if modelEncMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

func nodeKind(n XmlNode) string {
	switch n.(type) {
	case *StartNamespace:
		return "start_namespace"
	case *EndNamespace:
		return "end_namespace"
	case *StartElement:
		return "start_element"
	case *EndElement:
		return "end_element"
	case *CData:
		return "cdata"
	}
	return "unknown"
}

func chunkKind(c TableChunk) string {
	switch c.(type) {
	case *TypeSpec:
		return "type_spec"
	case *TypeType:
		return "type"
	case *RawChunk:
		return "raw"
	}
	return "unknown"
}

// MarshalModel exports the decoded object model as deterministic CBOR.
func MarshalModel(r Resource) ([]byte, error) {
	var m interface{}
	switch v := r.(type) {
	case *AXML:
		xm := xmlModel{Kind: v.Kind(), Type: v.Type, UTF8: v.Pool.IsUTF8(), Strings: v.Pool.Strings()}
		if v.ResourceMap != nil {
			xm.ResourceMap = v.ResourceMap.IDs
		}
		for _, n := range v.Nodes {
			xm.Nodes = append(xm.Nodes, nodeModel{Kind: nodeKind(n), Node: n})
		}
		m = xm
	case *ARSC:
		tm := tableModel{Kind: v.Kind(), UTF8: v.Pool.IsUTF8(), Strings: v.Pool.Strings()}
		for _, p := range v.Packages {
			pm := packageModel{ID: p.ID, Name: p.Name, Types: p.TypeStrings.Strings(), Keys: p.KeyStrings.Strings()}
			for _, c := range p.Chunks {
				pm.Chunks = append(pm.Chunks, chunkModel{Kind: chunkKind(c), Chunk: c})
			}
			tm.Packages = append(tm.Packages, pm)
		}
		m = tm
	default:
		return nil, errors.Errorf("Unsupported resource %T", r)
	}

	data, err := modelEncMode.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "error encoding model")
	}
	return data, nil
}
