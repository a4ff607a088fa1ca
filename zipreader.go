package apkcodec

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

const (
	zipLocalHeaderSize = 30
	zipLocalSignature  = 0x04034b50
)

// ZipReader opens APKs, including broken ones that Android still installs
// but archive/zip rejects.
type ZipReader struct {
	File map[string]*ZipReaderFile

	// Files in the order they were found in the zip. May contain the same
	// ZipReaderFile multiple times in case of broken/crafted ZIPs.
	FilesOrdered []*ZipReaderFile

	r     io.ReaderAt
	size  int64
	owned *os.File
}

// ZipReaderFile is one name of the archive. Without a usable central
// directory it may stand for several local entries, the last one first.
type ZipReaderFile struct {
	Name string

	zipEntry *zip.File
	entries  []zipLocalEntry
	r        io.ReaderAt
	size     int64
}

type zipLocalEntry struct {
	offset         int64
	method         uint16
	compressedSize uint32
}

// OpenZip opens the archive at path.
func OpenZip(path string) (*ZipReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	zr, err := OpenZipReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	zr.owned = f
	return zr, nil
}

// OpenZipReader reads the archive of size bytes from r.
func OpenZipReader(r io.ReaderAt, size int64) (*ZipReader, error) {
	zr := &ZipReader{
		File: make(map[string]*ZipReaderFile),
		r:    r,
		size: size,
	}

	if zipinfo, err := tryReadZip(r, size); err == nil {
		for _, zf := range zipinfo.File {
			if zf.Method != zip.Store && zf.Method != zip.Deflate {
				// Android treats unknown methods as deflate, except for the
				// files read through ZipAssetsProvider.
				// 9a7d5266c223122d24d0061465bf781888984b4b04d9d0df8a76c3e3fe7a3fd0
				switch zf.Name {
				case "AndroidManifest.xml", "resources.arsc":
					zf.Method = zip.Store
					zf.CompressedSize64 = zf.UncompressedSize64
				default:
					zf.Method = zip.Deflate
				}
			}

			name := path.Clean(zf.Name)
			if zr.File[name] == nil {
				f := &ZipReaderFile{Name: name, zipEntry: zf, r: r, size: size}
				zr.File[name] = f
				zr.FilesOrdered = append(zr.FilesOrdered, f)
			}
		}
		return zr, nil
	}

	if err := zr.scanLocalHeaders(); err != nil {
		return nil, err
	}
	if len(zr.FilesOrdered) == 0 {
		return nil, errors.New("No zip entries found")
	}
	return zr, nil
}

func tryReadZip(r io.ReaderAt, size int64) (zr *zip.Reader, err error) {
	defer func() {
		if pn := recover(); pn != nil {
			err = fmt.Errorf("%v", pn)
			zr = nil
		}
	}()

	zr, err = zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	zr.RegisterDecompressor(zip.Deflate, newFlateReader)
	return zr, nil
}

func (zr *ZipReader) scanLocalHeaders() error {
	sr := io.NewSectionReader(zr.r, 0, zr.size)
	data, err := io.ReadAll(sr)
	if err != nil {
		return err
	}

	hdr := newReader(data, 0)
	for off := 0; off+zipLocalHeaderSize <= len(data); off++ {
		if binary.LittleEndian.Uint32(data[off:]) != zipLocalSignature {
			continue
		}

		hdr.pos = off + 8
		method, _ := hdr.u16()
		hdr.pos = off + 18
		compressedSize, _ := hdr.u32()
		hdr.pos = off + 26
		nameLen, _ := hdr.u16()
		extraLen, _ := hdr.u16()

		nameEnd := off + zipLocalHeaderSize + int(nameLen)
		if nameEnd > len(data) {
			break
		}

		name := path.Clean(string(data[off+zipLocalHeaderSize : nameEnd]))
		f := zr.File[name]
		if f == nil {
			f = &ZipReaderFile{Name: name, r: zr.r, size: zr.size}
			zr.File[name] = f
		}
		zr.FilesOrdered = append(zr.FilesOrdered, f)

		f.entries = append([]zipLocalEntry{{
			offset:         int64(nameEnd) + int64(extraLen),
			method:         method,
			compressedSize: compressedSize,
		}}, f.entries...)
	}
	return nil
}

// ReadAll returns the content of the file, at most limit bytes. Broken
// archives may hold several entries of one name, the first readable wins.
func (f *ZipReaderFile) ReadAll(limit int64) ([]byte, error) {
	if f.zipEntry != nil {
		rc, err := f.zipEntry.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, limit))
	}

	lastErr := error(io.ErrUnexpectedEOF)
	for _, e := range f.entries {
		data, err := f.readLocal(e, limit)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *ZipReaderFile) readLocal(e zipLocalEntry, limit int64) ([]byte, error) {
	n := f.size - e.offset
	if e.compressedSize != 0 && int64(e.compressedSize) < n {
		n = int64(e.compressedSize)
	}
	sr := io.NewSectionReader(f.r, e.offset, n)

	if e.method == zip.Store {
		return io.ReadAll(io.LimitReader(sr, limit))
	}

	// Android treats everything but 0 as deflate
	rc := newFlateReader(sr)
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

// Closes the archive if it was opened by OpenZip.
func (zr *ZipReader) Close() error {
	if zr.owned == nil {
		return nil
	}
	err := zr.owned.Close()
	zr.owned = nil
	return err
}

var flateReaderPool sync.Pool

func newFlateReader(r io.Reader) io.ReadCloser {
	fr, ok := flateReaderPool.Get().(io.ReadCloser)
	if ok {
		fr.(flate.Resetter).Reset(r, nil)
	} else {
		fr = flate.NewReader(r)
	}
	return &pooledFlateReader{fr: fr}
}

type pooledFlateReader struct {
	mu sync.Mutex // guards Close and Read
	fr io.ReadCloser
}

func (r *pooledFlateReader) Read(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return 0, errors.New("Read after Close")
	}
	return r.fr.Read(p)
}

func (r *pooledFlateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.fr != nil {
		err = r.fr.Close()
		flateReaderPool.Put(r.fr)
		r.fr = nil
	}
	return err
}
