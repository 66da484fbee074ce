// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package config

import (
	"errors"
	"strings"
	"time"
)

// Backend describes the configured Source a CLI should build, in the
// same "impl:address" shape as the teacher repository's
// backend.Backend flag.Value, so CLIs select a config source the same
// way they select a coordinate storage backend:
//
//	cfg := config.Backend{Implementation: "none"}
//	flag.Var(&cfg, "config", "impl[:address] of the config source")
//	flag.Parse()
//	source, err := cfg.Source()
type Backend struct {
	Implementation string
	Address        string
	PollInterval   time.Duration
}

// Source builds the Source this Backend describes. "none" returns a
// nil Source (environment and defaults only); "file" treats Address as
// a YAML file path; "http" treats Address as a URL to poll.
func (b *Backend) Source() (Source, error) {
	switch b.Implementation {
	case "", "none":
		return nil, nil
	case "file":
		return NewFileSource(b.Address)
	case "http":
		src, err := NewHTTPSource(b.Address, b.PollInterval, nil)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, errors.New("unknown config backend " + b.Implementation)
	}
}

// String implements flag.Value / fmt.Stringer.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set implements flag.Value, parsing "impl" or "impl:address".
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
		return errors.New("must specify a config source type")
	}
	return nil
}
