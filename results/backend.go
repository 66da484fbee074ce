// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package results

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Backend selects and configures a Store from command-line flags, the
// same flag.Value pattern as backend.Backend: "impl:address".
type Backend struct {
	Implementation string
	Address        string
}

// Store builds the configured Store. Address is interpreted per
// implementation:
//
//	local-files:    comma-separated result directories
//	http-files:     "host:port:dir1,dir2,..."
//	download-host:  "template-url|dir1,dir2,..."
func (b *Backend) Store() (Store, error) {
	switch b.Implementation {
	case "local-files":
		dirs := splitDirs(b.Address)
		if len(dirs) == 0 {
			return nil, errors.New("results: local-files backend requires at least one directory")
		}
		return NewLocalFiles(dirs, nil), nil
	case "http-files":
		parts := strings.SplitN(b.Address, ":", 3)
		if len(parts) != 3 {
			return nil, errors.New("results: http-files backend wants \"host:port:dirs\"")
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("results: invalid http-files port: %w", err)
		}
		dirs := splitDirs(parts[2])
		if len(dirs) == 0 {
			return nil, errors.New("results: http-files backend requires at least one directory")
		}
		return NewHTTPFiles(dirs, nil, parts[0], port), nil
	case "download-host":
		parts := strings.SplitN(b.Address, "|", 2)
		if len(parts) != 2 {
			return nil, errors.New("results: download-host backend wants \"template|dirs\"")
		}
		dirs := splitDirs(parts[1])
		if len(dirs) == 0 {
			return nil, errors.New("results: download-host backend requires at least one directory")
		}
		return NewDownloadHost(dirs, nil, parts[0])
	default:
		return nil, fmt.Errorf("results: unknown results backend %q", b.Implementation)
	}
}

func splitDirs(s string) []string {
	var dirs []string
	for _, d := range strings.Split(s, ",") {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// String renders a backend description as a string.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set implements flag.Value.
func (b *Backend) Set(param string) error {
	parts := strings.SplitN(param, ":", 2)
	switch len(parts) {
	case 1:
		b.Implementation = parts[0]
		b.Address = ""
	case 2:
		b.Implementation = parts[0]
		b.Address = parts[1]
	default:
		return errors.New("results: must specify a backend type")
	}
	return nil
}
