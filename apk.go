// Package apkcodec decodes and re-encodes the binary resources of Android
// APKs: compiled XML documents like AndroidManifest.xml and resources.arsc.
// Decoded documents pack back to identical bytes.
package apkcodec

import (
	"os"
	"runtime/debug"

	"github.com/pkg/errors"
)

const (
	ManifestName  = "AndroidManifest.xml"
	ResourcesName = "resources.arsc"

	maxResourceFileSize = 256 * 1024 * 1024
)

// Apk gives access to the binary resources of an APK.
type Apk struct {
	zip *ZipReader
}

func OpenApk(path string) (*Apk, error) {
	zip, err := OpenZip(path)
	if err != nil {
		return nil, err
	}
	return &Apk{zip: zip}, nil
}

// NewApk wraps an archive opened with OpenZip or OpenZipReader. Close does
// not close it.
func NewApk(zip *ZipReader) *Apk {
	return &Apk{zip: &ZipReader{File: zip.File, FilesOrdered: zip.FilesOrdered, r: zip.r, size: zip.size}}
}

func (a *Apk) Close() error {
	return a.zip.Close()
}

func (a *Apk) ReadFile(name string) ([]byte, error) {
	f := a.zip.File[name]
	if f == nil {
		return nil, errors.Wrapf(os.ErrNotExist, "Failed to find %s", name)
	}

	data, err := f.ReadAll(maxResourceFileSize)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read %s", name)
	}
	return data, nil
}

func (a *Apk) Manifest() (x *AXML, err error) {
	data, err := a.ReadFile(ManifestName)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			x, err = nil, errors.Errorf("Panic: %v\n%s", r, string(debug.Stack()))
		}
	}()
	return DecodeAXML(data)
}

func (a *Apk) Resources() (res *ARSC, err error) {
	data, err := a.ReadFile(ResourcesName)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.Errorf("Panic: %v\n%s", r, string(debug.Stack()))
		}
	}()
	return DecodeARSC(data)
}

// ParseApk streams the APK's manifest into encoder, resolving references to
// string resources. encoder expects an XML encoder instance, like Encoder
// from encoding/xml package.
//
// zipErr != nil means the APK couldn't be opened. The manifest will be parsed
// even when resourcesErr != nil, just without reference resolving.
func ParseApk(path string, encoder ManifestEncoder) (zipErr, resourcesErr, manifestErr error) {
	apk, zipErr := OpenApk(path)
	if zipErr != nil {
		return
	}
	defer apk.Close()

	resourcesErr, manifestErr = ParseApkWithZip(apk.zip, encoder)
	return
}

// ParseApkWithZip is ParseApk for an archive that is already open. It will
// not Close() the zip.
func ParseApkWithZip(zip *ZipReader, encoder ManifestEncoder) (resourcesErr, manifestErr error) {
	apk := NewApk(zip)

	resources, resourcesErr := apk.Resources()
	manifest, manifestErr := apk.Manifest()
	if manifestErr != nil {
		return
	}

	manifestErr = manifest.EncodeTokens(encoder, resources)
	return
}
