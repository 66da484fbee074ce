// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package results implements the artifact store of spec.md §4.5: a
// Store creates write-once Handles that become JSON artifact
// descriptors a Service can return in place of an inline value.
package results

import (
	"fmt"
	"math/rand"
	"mime"
	"sync"

	uuid "github.com/satori/go.uuid"
)

// Reserved annotation keys: AsDict always carries these, so a caller
// cannot shadow them with SetAnnotation.
const (
	KeyLocation      = "location"
	KeyContentType   = "contentType"
	KeyContentLength = "contentLength"
	KeyMetadata      = "metadata"
)

var reservedKeys = map[string]bool{
	KeyLocation:      true,
	KeyContentType:   true,
	KeyContentLength: true,
	KeyMetadata:      true,
}

// ExtensionFor chooses a file extension for contentType. Scientific
// formats the original Python implementation special-cased
// (application/postscript, application/x-netcdf, text/plain, and the
// WMO binary formats x-grib/x-grib2/x-bufr) are listed explicitly;
// anything else falls back to the standard library's MIME registry,
// or "" if unknown.
func ExtensionFor(contentType string) string {
	if ext, ok := explicitExtensions[contentType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

var explicitExtensions = map[string]string{
	"application/postscript": ".ps",
	"application/x-netcdf":   ".nc",
	"text/plain":             ".txt",
	"application/x-grib":     ".grib",
	"application/x-grib2":    ".grib2",
	"application/x-bufr":     ".bufr",
}

// Store is an artifact factory. Each of the three spec back ends
// (local-files, http-files, download-host) implements it.
type Store interface {
	// CreateResult allocates a fresh, empty artifact of the given
	// content type and returns a Handle scoped to it. The caller
	// must Close the handle when done writing.
	CreateResult(contentType string) (Handle, error)

	// AsLocalFile returns the backing path for descriptor iff its
	// location lies under one of this store's result directories
	// and the on-disk size matches the recorded contentLength.
	AsLocalFile(descriptor map[string]interface{}) (path string, ok bool)
}

// Handle is a scoped, write-once artifact. Write must be called only
// between creation and Close; annotations may be set any time before
// Close.
type Handle interface {
	Write(p []byte) (int, error)
	Close() error

	// SetAnnotation records an extra field to include in AsDict.
	// Reserved keys (location, contentType, contentLength, metadata)
	// are rejected.
	SetAnnotation(key string, value interface{}) error

	// AsDict returns the artifact descriptor: location, contentType,
	// contentLength, and any annotations, per spec.md §6.
	AsDict() map[string]interface{}
}

// fanOutName builds the "aa/bb/<uuid><ext>" relative path spec.md §4.5
// calls for: a fresh random filename inside a two-level hex-prefix
// fan-out, so no single directory ever holds every artifact.
func fanOutName(ext string) string {
	id := uuid.NewV4().String()
	compact := make([]byte, 0, 32)
	for _, c := range []byte(id) {
		if c != '-' {
			compact = append(compact, c)
		}
	}
	name := string(compact)
	return fmt.Sprintf("%s/%s/%s%s", name[0:2], name[2:4], name, ext)
}

// dirPool picks uniformly among a configured set of candidate
// directories, the same "uniform-random directory choice" strategy
// spec.md §4.6 specifies for scratch directories.
type dirPool struct {
	mu   sync.Mutex
	dirs []string
	rng  *rand.Rand
}

func newDirPool(dirs []string, rng *rand.Rand) *dirPool {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &dirPool{dirs: dirs, rng: rng}
}

func (p *dirPool) pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirs[p.rng.Intn(len(p.dirs))]
}

func (p *dirPool) all() []string {
	return p.dirs
}
