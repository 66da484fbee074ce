// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package registry

import "context"

// NoOp is a Registry that discards every registration and never finds
// a URL for any service. It is useful for single-worker development
// setups where a client is configured with an explicit URL instead of
// going through service discovery.
type NoOp struct{}

var _ Registry = NoOp{}

func (NoOp) Register(ctx context.Context, pairs map[string]string) error   { return nil }
func (NoOp) Unregister(ctx context.Context, pairs map[string]string) error { return nil }

func (NoOp) ServiceURL(ctx context.Context, name string) (string, error) {
	return "", ErrNoURL
}

func (NoOp) ServicesByName(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{}, nil
}
