// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svc

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint computes the cache key of spec.md §3/§6: the lower-case
// hex MD5 of the UTF-8 canonical JSON encoding of
// [service, args, [[k,v], ... sorted by k]].  Two computations from the
// same (service, args, kwargs) always produce the same string, and the
// order kwargs were inserted in never affects it.
func Fingerprint(service string, args []interface{}, kwargs map[string]interface{}) (string, error) {
	canon, err := canonicalArgs(service, args, kwargs)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalArgs renders [service, args, sortedKwargPairs] with sorted
// object keys and compact separators, matching json.dumps(...,
// sort_keys=True, separators=(",", ":")) on the Python side.
// encoding/json already sorts map keys and does not add extra
// whitespace with Marshal, so the only extra work is canonicalizing
// kwargs into an explicitly sorted slice of pairs (servicelib encodes
// kwargs as a list of [k, v] pairs, not an object, so that key order
// never affects byte-for-byte equality even under implementations that
// don't sort map keys).
func canonicalArgs(service string, args []interface{}, kwargs map[string]interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]interface{}, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]interface{}{k, kwargs[k]})
	}
	return json.Marshal([]interface{}{service, args, pairs})
}
