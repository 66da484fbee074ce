// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package scratch implements the content-addressed download cache of
// spec.md §4.6, grounded on original_source/src/servicelib/scratch.py:
// as_local_file hashes a descriptor's URL, checks every scratch
// directory for that hash before downloading, and otherwise downloads
// into a freshly chosen directory and renames atomically into place.
package scratch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	uuid "github.com/satori/go.uuid"
)

// transferBlockSize mirrors the original's XFER_BLOCK_SIZE comment
// (https://eklitzke.org/efficient-file-copying-on-linux).
const transferBlockSize = 128 * 1024

// connectTimeout bounds the HTTP connection phase of a download,
// per spec.md §4.6.
const connectTimeout = 20 * time.Second

// Scratch is a content-addressed local cache of downloaded artifacts.
type Scratch struct {
	dirs   []string
	rng    *rand.Rand
	client *http.Client
}

// New constructs a Scratch over dirs, the "uniform-random directory
// choice" strategy spec.md §4.6 names as the only one available. rng
// and client may be nil to use defaults.
func New(dirs []string, rng *rand.Rand, client *http.Client) *Scratch {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		}
	}
	return &Scratch{dirs: dirs, rng: rng, client: client}
}

// CreateTempFile creates and returns the path to a fresh empty file
// under a randomly chosen scratch directory's two-level hex fan-out.
func (s *Scratch) CreateTempFile() (string, error) {
	dir := s.pickDir()
	sub := filepath.Join(dir, fmt.Sprintf("%02x", s.rng.Intn(256)), fmt.Sprintf("%02x", s.rng.Intn(256)))
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", fmt.Errorf("scratch: creating temp directory: %w", err)
	}
	f, err := os.CreateTemp(sub, uuid.NewV4().String()+"-")
	if err != nil {
		return "", fmt.Errorf("scratch: creating temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("scratch: closing temp file: %w", err)
	}
	return path, nil
}

// AsLocalFile returns the on-disk path for descriptor's "location" URL,
// downloading it into the content-addressed cache first if it is not
// already present.
func (s *Scratch) AsLocalFile(ctx context.Context, descriptor map[string]interface{}) (string, error) {
	loc, _ := descriptor["location"].(string)
	if loc == "" {
		return "", fmt.Errorf("scratch: descriptor has no location")
	}
	hash := sha256.Sum256([]byte(loc))
	name := hex.EncodeToString(hash[:])
	fanOut := filepath.Join(name[0:2], name[2:4], name)

	for _, dir := range s.dirs {
		path := filepath.Join(dir, fanOut)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	dir := s.pickDir()
	finalPath := filepath.Join(dir, fanOut)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("scratch: creating cache directory: %w", err)
	}
	if err := s.download(ctx, loc, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

func (s *Scratch) download(ctx context.Context, rawURL, finalPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".download-")
	if err != nil {
		return fmt.Errorf("scratch: creating temp download file: %w", err)
	}
	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	if err := fetchInto(ctx, s.client, rawURL, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("scratch: closing download file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("scratch: finalizing download: %w", err)
	}
	succeeded = true
	return nil
}

func fetchInto(ctx context.Context, client *http.Client, rawURL string, dst *os.File) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("scratch: %s: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scratch: %s: unsupported URL scheme %q", rawURL, parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("scratch: building download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("scratch: downloading %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("scratch: downloading %s: status %d", rawURL, resp.StatusCode)
	}

	buf := make([]byte, transferBlockSize)
	if _, err := io.CopyBuffer(dst, resp.Body, buf); err != nil {
		return fmt.Errorf("scratch: downloading %s: %w", rawURL, err)
	}
	return nil
}

func (s *Scratch) pickDir() string {
	return s.dirs[s.rng.Intn(len(s.dirs))]
}
