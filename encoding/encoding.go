// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package encoding implements the JSON extension point of spec.md §4.2:
// any value exposing an "as dict" capability is encoded via that, and a
// dict carrying a self-describing type tag decodes back into a
// constructor invocation of the named type, per the REDESIGN FLAG in
// spec.md §9 ("explicit registry mapping stable type-name strings to
// deserializer functions, with a fallback to the base kind").
//
// The wire codec is github.com/ugorji/go/codec's JsonHandle, the same
// handle restclient.resource.Do uses in the teacher repository; the
// AsDict/type-tag machinery here is a pre/post-processing layer around
// it rather than a codec.Ext, because the set of "as-dictable" types is
// open-ended application code, not a small fixed set as in cborrpc.
package encoding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ugorji/go/codec"
)

// TypeTagKey is the reserved map key that marks a decoded dict as a
// constructor invocation of a registered type, matching the key name
// the original Python implementation's encoding.py uses.
const TypeTagKey = "__class__"

// AsDicter is any value that can render itself as a plain map for
// encoding, per spec.md §4.2(a).
type AsDicter interface {
	AsDict() (map[string]interface{}, error)
}

// Constructor builds a value of some registered type from its decoded
// dict form (with TypeTagKey already removed).
type Constructor func(map[string]interface{}) (interface{}, error)

var (
	mu    sync.RWMutex
	types = map[string]Constructor{}
)

// Register associates name with a Constructor, so that a decoded dict
// whose TypeTagKey equals name is turned into a constructor invocation
// instead of a plain map, per spec.md §4.2(b). Re-registering a name
// overwrites the previous entry.
func Register(name string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	types[name] = ctor
}

func lookup(name string) (Constructor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	ctor, ok := types[name]
	return ctor, ok
}

var jsonHandle = &codec.JsonHandle{}

func init() {
	jsonHandle.Canonical = true
	jsonHandle.PreferFloat = true
}

// Marshal encodes v as JSON, routing any AsDicter through AsDict()
// first (recursively, since a dict's values may themselves be
// AsDicters). Floats use their shortest round-trip representation, per
// spec.md §4.2.
func Marshal(v interface{}) ([]byte, error) {
	encodable, err := toEncodable(v)
	if err != nil {
		return nil, err
	}
	var out []byte
	enc := codec.NewEncoderBytes(&out, jsonHandle)
	if err := enc.Encode(encodable); err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	return out, nil
}

func toEncodable(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case AsDicter:
		d, err := t.AsDict()
		if err != nil {
			return nil, err
		}
		return toEncodable(d)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			enc, err := toEncodable(val)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			enc, err := toEncodable(val)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	default:
		return v, nil
	}
}

// Unmarshal decodes JSON into a generic interface{} tree (maps, slices,
// and scalars), then walks it looking for maps whose TypeTagKey names a
// registered Constructor, replacing those maps with the constructed
// value. Unrecognised type tags are left as plain maps (with the tag
// key still present), matching spec.md §4.2(b)'s "when the decoder
// recognises it."
func Unmarshal(data []byte, out *interface{}) error {
	dec := codec.NewDecoderBytes(data, jsonHandle)
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}
	resolved, err := resolve(raw)
	if err != nil {
		return err
	}
	*out = resolved
	return nil
}

func resolve(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		resolvedMap := make(map[string]interface{}, len(t))
		for k, val := range t {
			rv, err := resolve(val)
			if err != nil {
				return nil, err
			}
			resolvedMap[k] = rv
		}
		if tag, ok := resolvedMap[TypeTagKey].(string); ok {
			if ctor, known := lookup(tag); known {
				delete(resolvedMap, TypeTagKey)
				return ctor(resolvedMap)
			}
		}
		return resolvedMap, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			rv, err := resolve(val)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// SortedKeys is a small helper for callers that want a deterministic
// key order independent of map iteration order, without pulling in
// encoding/json's sort-on-marshal behavior for every call site.
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
