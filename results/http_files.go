// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package results

import (
	"fmt"
	"math/rand"
	"path"
	"path/filepath"
	"strings"
)

// HTTPFiles is the "http-files" back end: artifacts live on disk the
// same way LocalFiles does, but the returned URL points at a host/port
// the worker is assumed to serve the result directories from as
// static content (workerhttp wires the same directories into its
// static routes).
type HTTPFiles struct {
	local *LocalFiles
	host  string
	port  int
}

var _ Store = (*HTTPFiles)(nil)

// NewHTTPFiles constructs an HTTPFiles store. host/port identify
// where the worker serves the result directories; if host is "" the
// worker's own advertised hostname is used by the caller before
// passing it in here.
func NewHTTPFiles(dirs []string, rng *rand.Rand, host string, port int) *HTTPFiles {
	return &HTTPFiles{local: NewLocalFiles(dirs, rng), host: host, port: port}
}

func (s *HTTPFiles) CreateResult(contentType string) (Handle, error) {
	h, err := s.local.CreateResult(contentType)
	if err != nil {
		return nil, err
	}
	fh := h.(*fileHandle)
	fh.location = fmt.Sprintf("http://%s:%d/%s", s.host, s.port, fh.relPath)
	return fh, nil
}

func (s *HTTPFiles) AsLocalFile(descriptor map[string]interface{}) (string, bool) {
	loc, _ := descriptor[KeyLocation].(string)
	rel := httpRelPath(loc)
	if rel == "" {
		return "", false
	}
	for _, dir := range s.local.pool.all() {
		candidate := filepath.Join(dir, filepath.FromSlash(rel))
		if p, ok := resolveUnderDirs(candidate, s.local.pool.all(), descriptor); ok {
			return p, true
		}
	}
	return "", false
}

// httpRelPath strips the scheme/host/port from an http(s) URL,
// returning its path with the leading slash removed.
func httpRelPath(loc string) string {
	for _, prefix := range []string{"http://", "https://"} {
		if strings.HasPrefix(loc, prefix) {
			rest := loc[len(prefix):]
			if idx := strings.Index(rest, "/"); idx >= 0 {
				return strings.TrimPrefix(path.Clean("/"+rest[idx+1:]), "/")
			}
			return ""
		}
	}
	return ""
}
