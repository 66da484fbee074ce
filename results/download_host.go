// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package results

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/jtacoma/uritemplates"
)

// DownloadHost is the "download-host" back end: artifacts live on
// disk like LocalFiles, but are addressed through an external
// download layer reachable via a configured URL template, built the
// same way restclient.resource.Template expands a URI template
// against a variable.
//
// The template must use RFC 6570 reserved ("+") expansion for its
// path variable, e.g. "https://downloads.example.com/results/{+path}",
// so that the fan-out slashes in an artifact's relative path are not
// percent-encoded. SPEC_FULL §9 leaves open whether a prefix that
// already ends in "/" and a relative path should be de-duplicated at
// the join point; this implementation does not normalize, matching
// the literal template substitution the original shows no special
// handling for.
type DownloadHost struct {
	local    *LocalFiles
	template *uritemplates.UriTemplate
	prefix   string
}

var _ Store = (*DownloadHost)(nil)

// NewDownloadHost constructs a DownloadHost store from tmpl.
func NewDownloadHost(dirs []string, rng *rand.Rand, tmpl string) (*DownloadHost, error) {
	parsed, err := uritemplates.Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("results: parsing download-host template: %w", err)
	}
	prefix := tmpl
	if idx := strings.Index(tmpl, "{"); idx >= 0 {
		prefix = tmpl[:idx]
	}
	return &DownloadHost{local: NewLocalFiles(dirs, rng), template: parsed, prefix: prefix}, nil
}

func (s *DownloadHost) CreateResult(contentType string) (Handle, error) {
	h, err := s.local.CreateResult(contentType)
	if err != nil {
		return nil, err
	}
	fh := h.(*fileHandle)
	expanded, err := s.template.Expand(map[string]interface{}{"path": fh.relPath})
	if err != nil {
		return nil, fmt.Errorf("results: expanding download-host template: %w", err)
	}
	fh.location = expanded
	return fh, nil
}

func (s *DownloadHost) AsLocalFile(descriptor map[string]interface{}) (string, bool) {
	loc, _ := descriptor[KeyLocation].(string)
	if !strings.HasPrefix(loc, s.prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(loc[len(s.prefix):], "/")
	for _, dir := range s.local.pool.all() {
		candidate := filepath.Join(dir, filepath.FromSlash(rel))
		if p, ok := resolveUnderDirs(candidate, s.local.pool.all(), descriptor); ok {
			return p, true
		}
	}
	return "", false
}
