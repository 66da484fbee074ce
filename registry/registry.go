// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package registry implements the service-name -> worker-URL directory
// of spec.md §4.7: a set of URLs per service name, added by workers on
// startup, removed on graceful shutdown, and read by clients as a
// uniformly random member.
//
// Two back ends are provided, selected the way backend.Backend selects
// a Coordinate storage implementation in the teacher repository:
// NoOp (registration is a no-op, lookups always fail) and Shared (a
// Redis-backed set per service name).
package registry

import (
	"context"
	"errors"
)

// KeyPrefix is prepended to every service name to form the underlying
// storage key, per spec.md §6: "servicelib.url.<service-name>".
const KeyPrefix = "servicelib.url."

// ErrNoURL is returned by ServiceURL when a service has no registered
// workers.
var ErrNoURL = errors.New("no URL for service")

// Registry is the service-name -> URL-set directory.
type Registry interface {
	// Register adds the given (service, url) pairs. Writes for all
	// pairs happen as one pipelined, atomic batch per spec.md §4.7.
	Register(ctx context.Context, pairs map[string]string) error

	// Unregister removes the given (service, url) pairs, again as
	// one pipelined batch.
	Unregister(ctx context.Context, pairs map[string]string) error

	// ServiceURL returns a uniformly random URL registered for
	// name, or ErrNoURL if none are registered.
	ServiceURL(ctx context.Context, name string) (string, error)

	// ServicesByName scans all registered service names and
	// returns their full URL sets.
	ServicesByName(ctx context.Context) (map[string][]string, error)
}

func key(service string) string {
	return KeyPrefix + service
}
