package apkcodec

// Resource is a decoded *AXML or *ARSC.
type Resource interface {
	Kind() string
	Pack() ([]byte, error)
}

// Decode decodes a binary XML document or a resource table, depending on the
// type of the outer chunk.
func Decode(data []byte) (Resource, error) {
	if isPlainText(data) {
		return nil, ErrPlainTextManifest
	}

	h, _, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	switch h.Type {
	case chunkTable:
		a, err := DecodeARSC(data)
		if err != nil {
			return nil, err
		}
		return a, nil
	case chunkAxmlFile:
		x, err := DecodeAXML(data)
		if err != nil {
			return nil, err
		}
		return x, nil
	}
	return nil, formatErrorf(0, ErrUnknownChunk, "top chunk id 0x%04x", h.Type)
}
