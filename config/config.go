// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package config implements the read-through key/value lookup of
// spec.md §4.1: environment variable, then a configured Source (file or
// HTTP), then a caller-supplied default.
//
// Construction follows the same shape as the teacher repository's
// backend.Backend: a small struct that implements flag.Value, so a CLI
// can select a source with a single "-config impl[:address]" flag (see
// cmd/coordinated/main.go's "-backend impl:address" flag for the
// pattern this generalizes).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// EnvPrefix is prepended to every environment-variable lookup, e.g. a
// key "cache.ttl" is looked up as "SVCFLEET_CACHE_TTL".
const EnvPrefix = "SVCFLEET_"

// ErrMissing is returned by Get when a key has no environment override,
// no value in the configured Source, and no default was supplied.
var ErrMissing = errors.New("missing configuration")

// Source is a configured secondary lookup behind the environment, per
// spec.md §4.1: a local file or an HTTP endpoint. Get returns (value,
// true) on a hit, (nil, false) on a miss; a Source should never itself
// apply defaults.
type Source interface {
	Get(key string) (interface{}, bool)
}

// Config is the read-through key/value source applications use.
// The zero value (Source == nil) consults only the environment and
// caller defaults.
type Config struct {
	Source Source
}

// New builds a Config around src. src may be nil.
func New(src Source) *Config {
	return &Config{Source: src}
}

// Get resolves key: environment, then the configured Source (trying
// dotted hierarchical fallbacks group.name.key -> group.key -> key),
// then the first element of def if provided. If none resolve, Get
// returns ErrMissing.
func (c *Config) Get(key string, def ...interface{}) (interface{}, error) {
	if v, ok := envLookup(key); ok {
		return v, nil
	}
	if c.Source != nil {
		for _, k := range hierarchicalKeys(key) {
			if v, ok := c.Source.Get(k); ok {
				return v, nil
			}
		}
	}
	if len(def) > 0 {
		return def[0], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrMissing, key)
}

// GetString is Get plus a string type assertion, for the common case.
func (c *Config) GetString(key string, def ...string) (string, error) {
	var anyDef []interface{}
	for _, d := range def {
		anyDef = append(anyDef, d)
	}
	v, err := c.Get(key, anyDef...)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v), nil
	}
	return s, nil
}

// Decode resolves key the same way Get does and, on a hit whose value
// is a string-keyed map, decodes it into out with mapstructure, the
// same decode-a-config-section pattern the teacher repository used to
// turn a CBOR-RPC options map into a typed work spec.
func (c *Config) Decode(key string, out interface{}) error {
	v, err := c.Get(key)
	if err != nil {
		return err
	}
	section, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("config: %q is not a section", key)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(section)
}

// hierarchicalKeys expands a dotted key "group.name.key" into the
// fallback sequence ["group.name.key", "group.key", "key"], per
// spec.md §4.1. A key with fewer than three dot-separated segments
// returns just itself.
func hierarchicalKeys(key string) []string {
	parts := strings.Split(key, ".")
	if len(parts) < 3 {
		return []string{key}
	}
	group, last := parts[0], parts[len(parts)-1]
	return []string{
		key,
		group + "." + last,
		last,
	}
}

// envLookup checks the environment for key, applying the uppercase,
// "." -> "_", EnvPrefix transform and the value coercion rules of
// spec.md §4.1.
func envLookup(key string) (interface{}, bool) {
	envKey := EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	raw, present := os.LookupEnv(envKey)
	if !present {
		return nil, false
	}
	return coerce(raw), true
}

// coerce applies spec.md §4.1's environment-value coercion: booleans
// (case-insensitive), bare integers, leading-{/[ JSON, else string.
func coerce(raw string) interface{} {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if isDigits(raw) {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	return raw
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	for _, c := range s[start:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
