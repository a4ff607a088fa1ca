package apkcodec

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTruncated is returned when a fixed-width read runs past the end of its chunk.
	ErrTruncated = errors.New("truncated input")
	// ErrUnknownChunk is returned for a chunk type that cannot appear where it was found.
	ErrUnknownChunk = errors.New("unrecognized chunk type")
	// ErrMalformed covers structurally inconsistent chunks, like a header size larger than the chunk.
	ErrMalformed = errors.New("malformed chunk")
	// ErrNotFound is the lookup miss of string pools, packages and public resources.
	ErrNotFound = errors.New("not found")
)

// Some samples have manifest in plaintext, this is an error.
// 2c882a2376034ed401be082a42a21f0ac837689e7d3ab6be0afb82f44ca0b859
var ErrPlainTextManifest = errors.New("xml is in plaintext, binary form expected")

// FormatError is a decoding failure at a known position of the input.
type FormatError struct {
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("at offset 0x%x: %s", e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause reach the sentinel.
func (e *FormatError) Cause() error {
	return errors.Cause(e.Err)
}

func formatErrorf(offset int64, cause error, format string, args ...interface{}) error {
	return &FormatError{Offset: offset, Err: errors.Wrapf(cause, format, args...)}
}
