// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package results

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileHandle is the Handle implementation shared by all three back
// ends; they differ only in how AsDict's location is formed.
type fileHandle struct {
	mu            sync.Mutex
	f             *os.File
	absPath       string
	relPath       string
	contentType   string
	contentLength int64
	annotations   map[string]interface{}
	closed        bool
	location      string
}

var _ Handle = (*fileHandle)(nil)

func (h *fileHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, fmt.Errorf("results: write to closed handle %s", h.relPath)
	}
	n, err := h.f.Write(p)
	h.contentLength += int64(n)
	return n, err
}

func (h *fileHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.f.Close()
}

func (h *fileHandle) SetAnnotation(key string, value interface{}) error {
	if reservedKeys[key] {
		return fmt.Errorf("results: %q is a reserved annotation key", key)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.annotations == nil {
		h.annotations = map[string]interface{}{}
	}
	h.annotations[key] = value
	return nil
}

func (h *fileHandle) AsDict() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := map[string]interface{}{
		KeyLocation:      h.location,
		KeyContentType:   h.contentType,
		KeyContentLength: h.contentLength,
	}
	for k, v := range h.annotations {
		d[k] = v
	}
	return d
}

// LocalFiles is the "local-files" back end: artifacts live under one
// of a configured set of directories and are addressed with a
// file:// URL.
type LocalFiles struct {
	pool *dirPool
}

var _ Store = (*LocalFiles)(nil)

// NewLocalFiles constructs a LocalFiles store over dirs, which must
// already exist. rng may be nil to use a default source.
func NewLocalFiles(dirs []string, rng *rand.Rand) *LocalFiles {
	return &LocalFiles{pool: newDirPool(dirs, rng)}
}

func (s *LocalFiles) CreateResult(contentType string) (Handle, error) {
	dir := s.pool.pick()
	rel := fanOutName(ExtensionFor(contentType))
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("results: creating artifact directory: %w", err)
	}
	f, err := os.Create(abs)
	if err != nil {
		return nil, fmt.Errorf("results: creating artifact file: %w", err)
	}
	return &fileHandle{
		f:           f,
		absPath:     abs,
		relPath:     rel,
		contentType: contentType,
		location:    "file://" + abs,
	}, nil
}

func (s *LocalFiles) AsLocalFile(descriptor map[string]interface{}) (string, bool) {
	loc, _ := descriptor[KeyLocation].(string)
	path := strings.TrimPrefix(loc, "file://")
	if path == loc {
		return "", false
	}
	return resolveUnderDirs(path, s.pool.all(), descriptor)
}

// resolveUnderDirs checks that path is lexically under one of dirs
// and that its on-disk size matches the descriptor's contentLength,
// per spec.md §4.5's as_local_file contract.
func resolveUnderDirs(path string, dirs []string, descriptor map[string]interface{}) (string, bool) {
	clean := filepath.Clean(path)
	under := false
	for _, dir := range dirs {
		cleanDir := filepath.Clean(dir)
		if clean == cleanDir || strings.HasPrefix(clean, cleanDir+string(filepath.Separator)) {
			under = true
			break
		}
	}
	if !under {
		return "", false
	}
	info, err := os.Stat(clean)
	if err != nil {
		return "", false
	}
	want, ok := contentLengthOf(descriptor)
	if ok && info.Size() != want {
		return "", false
	}
	return clean, true
}

func contentLengthOf(descriptor map[string]interface{}) (int64, bool) {
	switch v := descriptor[KeyContentLength].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
