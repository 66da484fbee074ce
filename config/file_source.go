// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// FileSource reads a flat or nested key/value map from a YAML file, the
// way cmd/coordinated/main.go's loadConfigYaml reads its global
// configuration. The file is read once, at construction; FileSource
// does not watch for changes (only the HTTP source polls, per
// spec.md §4.1).
type FileSource struct {
	data map[string]interface{}
}

// NewFileSource loads path as YAML.
func NewFileSource(path string) (*FileSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &FileSource{data: normalizeYAML(data)}, nil
}

// Get implements Source. Dotted keys are resolved by walking nested
// maps one segment at a time.
func (f *FileSource) Get(key string) (interface{}, bool) {
	return lookupDotted(f.data, key)
}

func lookupDotted(data map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := data[key]; ok {
		return v, true
	}
	segs := splitOnce(key)
	if segs == nil {
		return nil, false
	}
	head, rest := segs[0], segs[1]
	sub, ok := data[head].(map[string]interface{})
	if !ok {
		return nil, false
	}
	return lookupDotted(sub, rest)
}

func splitOnce(key string) []string {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return []string{key[:i], key[i+1:]}
		}
	}
	return nil
}

// normalizeYAML converts gopkg.in/yaml.v2's default
// map[interface{}]interface{} nodes into map[string]interface{}, so
// lookupDotted's type assertions work uniformly regardless of source.
func normalizeYAML(v interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	m, ok := v.(map[string]interface{})
	if !ok {
		if raw, ok := v.(map[interface{}]interface{}); ok {
			for k, val := range raw {
				out[keyToString(k)] = normalizeYAMLValue(val)
			}
		}
		return out
	}
	for k, val := range m {
		out[k] = normalizeYAMLValue(val)
	}
	return out
}

func normalizeYAMLValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := map[string]interface{}{}
		for k, val := range t {
			out[keyToString(k)] = normalizeYAMLValue(val)
		}
		return out
	case map[string]interface{}:
		out := map[string]interface{}{}
		for k, val := range t {
			out[k] = normalizeYAMLValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAMLValue(val)
		}
		return out
	default:
		return v
	}
}

func keyToString(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	return ""
}
