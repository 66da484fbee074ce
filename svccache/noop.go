// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svccache

import (
	"context"
	"time"
)

// NoOp is a Cache that never stores anything: every Get is a miss.
// Wrapping a Service with NoOp still runs the decorator machinery
// (useful for exercising the code path in tests) but every call is
// effectively a cache miss that re-executes the handler.
type NoOp struct{}

var _ Cache = NoOp{}

func (NoOp) Get(ctx context.Context, key string) (string, bool, error) { return "", false, nil }
func (NoOp) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}

// Claim always wins: with nothing actually stored there is no other
// owner to race against.
func (NoOp) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoOp) Delete(ctx context.Context, key string) error { return nil }
