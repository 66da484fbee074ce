// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package svc defines the abstract API hosted services and their callers
// agree on: the Service interface, the Request/Response envelope, the
// cache-key fingerprint, and the tracker id format.
//
// In most cases, applications will know of a specific implementation of
// Service and register it with a worker.  Most of the types here are
// immutable once constructed.
package svc

import (
	"context"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	uuid "github.com/satori/go.uuid"

	"github.com/diffeo/go-svcfleet/metadata"
)

// Service is the single interface every hosted handler implements.  A
// Service is registered by name, once, in a single worker process; the
// framework guarantees that name is unique within that process.
//
// Stateful handlers hold their state in the implementing struct.  The
// framework does not guarantee Execute is reentrancy-safe across
// goroutines for a single Service instance: parallelism comes from
// process replication, not from the framework locking around Execute.
type Service interface {
	// Name returns the service name under which this Service was
	// registered.  It must be stable for the lifetime of the
	// process.
	Name() string

	// Execute runs one invocation.  args is the ordered positional
	// argument list from the request; kwargs is the named argument
	// map, always containing at least "tracker".  The returned
	// value must be JSON-encodable, or an artifact descriptor
	// produced by ctx.CreateResult.
	Execute(ctx context.Context, svcCtx Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}

// Context is the minimal subset of *svccontext.Context that svc needs to
// refer to without importing it back (svccontext imports svc).  The
// concrete type satisfies this interface.
type Context interface {
	// Annotate proxies to the call's Metadata.Annotate.
	Annotate(key string, value interface{})

	// Log returns the per-call logger, bound with uid/tracker/service
	// and, once known, cache disposition fields.
	Log() *logrus.Entry

	// Timer returns the named Timer on the call's Metadata.
	Timer(name string) *metadata.Timer

	// Meta returns the call's Metadata root.
	Meta() *metadata.Metadata
}

// CacheTTLer is optionally implemented by a Service to declare its own
// cache TTL, per spec.md §4.8's "per-handler ttl = handler-declared."
// Services that do not implement it get DefaultCacheTTL.
type CacheTTLer interface {
	CacheTTL() time.Duration
}

// DefaultCacheTTL is used for cached services that do not implement
// CacheTTLer.
const DefaultCacheTTL = 5 * time.Minute

// TrackerPattern is the regular expression every tracker id must match.
var TrackerPattern = regexp.MustCompile(`^tracker-[0-9a-f]{32}$`)

// NewTracker generates a fresh tracker id of the form
// "tracker-<32 lowercase hex characters>".
func NewTracker() string {
	id := uuid.NewV4()
	hex := id.String()
	// uuid.String() is 36 chars with dashes; strip them down to the
	// 32 hex characters the wire format wants.
	compact := make([]byte, 0, 32)
	for _, c := range []byte(hex) {
		if c != '-' {
			compact = append(compact, c)
		}
	}
	return "tracker-" + string(compact)
}

// ValidTracker reports whether t matches TrackerPattern.
func ValidTracker(t string) bool {
	return TrackerPattern.MatchString(t)
}

// NewCallID returns a fresh opaque id suitable for correlating a single
// broker call with its response; unlike a tracker it is not propagated
// to nested calls.
func NewCallID() string {
	return uuid.NewV4().String()
}

// Reserved kwarg names that every Request may carry and that are never
// treated as ordinary service arguments.
const (
	KwargTracker = "tracker"
	KwargUID     = "uid"
	KwargCache   = "cache"
	KwargTimeout = "timeout"
)

// Request is the envelope a client sends and a worker reconstructs from
// an HTTP request.
type Request struct {
	// Service is the name of the service being invoked.
	Service string

	// Args is the ordered positional argument list.
	Args []interface{}

	// Kwargs is the named argument map.  It always contains
	// KwargTracker; it may contain KwargUID, KwargCache, and
	// KwargTimeout.
	Kwargs map[string]interface{}
}

// Tracker returns the request's tracker id, generating one if absent.
// Generating on read (rather than on construction) lets a
// zero-valued Request still satisfy the invariant once it is used.
func (r *Request) Tracker() string {
	if t, ok := r.Kwargs[KwargTracker].(string); ok && t != "" {
		return t
	}
	t := NewTracker()
	if r.Kwargs == nil {
		r.Kwargs = map[string]interface{}{}
	}
	r.Kwargs[KwargTracker] = t
	return t
}

// UID returns the request's uid kwarg, or "" if absent.
func (r *Request) UID() string {
	uid, _ := r.Kwargs[KwargUID].(string)
	return uid
}

// CacheEnabled reports whether the request allows caching.  Absent
// "cache" defaults to true; an explicit boolean false disables caching.
func (r *Request) CacheEnabled() bool {
	v, present := r.Kwargs[KwargCache]
	if !present {
		return true
	}
	b, ok := v.(bool)
	if !ok {
		return true
	}
	return b
}

// Response is what a worker returns and a client reconstructs: either a
// JSON-encodable Value, or a serialized error.
type Response struct {
	// Value holds the handler's return value on success.  Exactly
	// one of Value and Err is meaningful.
	Value interface{}

	// Err holds a structured, Serializable error on failure.
	Err error

	// Metadata is the call's Metadata tree root.
	Metadata *metadata.Metadata
}
