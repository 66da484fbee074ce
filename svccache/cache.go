// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package svccache implements the result cache with in-flight request
// coalescing of spec.md §4.8. A Cache is a plain string-valued TTL
// store (string keys, string values, so the literal "in-flight"
// sentinel and JSON payload blobs share one storage shape); Wrap
// layers the INITIAL/WAIT/MISS/HIT-CHECK state machine on top of any
// svc.Service.
package svccache

import (
	"context"
	"time"
)

// InFlightSentinel is the literal value stored under a key while one
// worker is computing it, per spec.md §3/§6.
const InFlightSentinel = "in-flight"

// Cache is a distributed TTL string store: the "shared memory cache"
// back end of spec.md §4.8, or a NoOp stand-in.
type Cache interface {
	// Get returns (value, true, nil) on a hit, (_, false, nil) on a
	// clean miss, or a non-nil error on a backend failure.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Claim atomically stores value under key only if key is
	// currently absent, reporting whether this call won the race.
	// It is how a MISSing caller takes ownership of the in-flight
	// slot without a second concurrent MISSer computing the same
	// result: exactly one Claim call among simultaneous callers for
	// the same key returns true.
	Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key, if present.
	Delete(ctx context.Context, key string) error
}
