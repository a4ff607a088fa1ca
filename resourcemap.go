package apkcodec

import (
	"github.com/anaminus/parse"
	"github.com/pkg/errors"
)

// ResourceMap assigns resource IDs to the lowest string pool indices of an
// XML document. IDs[i] is the attribute resource of pool string i.
type ResourceMap struct {
	IDs []uint32
}

func (m *ResourceMap) IndexOf(id uint32) (int, bool) {
	for i, v := range m.IDs {
		if v == id {
			return i, true
		}
	}
	return -1, false
}

// ID returns the resource ID mapped to pool index idx.
func (m *ResourceMap) ID(idx uint32) (uint32, bool) {
	if m == nil || idx >= uint32(len(m.IDs)) {
		return 0, false
	}
	return m.IDs[idx], true
}

func (m *ResourceMap) Pack() ([]byte, error) {
	return encodeChunk(chunkResourceIds, nil, func(w *parse.BinaryWriter) error {
		writeUint32s(w, m.IDs)
		return nil
	})
}

func decodeResourceMap(h Header, c *reader) (*ResourceMap, error) {
	if err := c.seek(int(h.HeaderSize)); err != nil {
		return nil, err
	}

	if c.remaining()%4 != 0 {
		return nil, formatErrorf(c.base, ErrMalformed, "resource map payload of %d bytes", c.remaining())
	}

	ids, err := c.u32s(c.remaining() / 4)
	if err != nil {
		return nil, errors.Wrap(err, "error reading resource ids")
	}
	return &ResourceMap{IDs: ids}, nil
}
