// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package broker

import (
	"sync"
	"time"

	"github.com/diffeo/go-svcfleet/metadata"
	"github.com/diffeo/go-svcfleet/svc"
)

// Result is a handle to an in-flight or completed call, per spec.md
// §4.12. It is safe for concurrent use: multiple goroutines may call
// Result, Metadata, or Wait on the same Result.
type Result struct {
	mu       sync.Mutex
	done     chan struct{}
	url      string
	callID   string
	value    interface{}
	metadata *metadata.Metadata
	err      error
}

// URL returns the worker URL this call was dispatched to.
func (r *Result) URL() string { return r.url }

// CallID returns the opaque id generated for this call.
func (r *Result) CallID() string { return r.callID }

// Result blocks until the call completes and returns its value, or the
// error it failed with.
func (r *Result) Result() (interface{}, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.err
}

// Metadata blocks until the call completes and returns its Metadata
// tree. It is nil if the call failed before a response was received.
func (r *Result) Metadata() *metadata.Metadata {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

// Wait blocks until the call completes or timeout elapses, whichever
// comes first. Per spec.md §4.12, a Wait timeout abandons the waiter
// without cancelling the in-flight call: the background goroutine
// keeps running and a later Result()/Wait() call can still observe its
// outcome. On timeout, Wait returns a svc.Timeout naming this call's
// worker URL rather than blocking forever.
func (r *Result) Wait(timeout time.Duration) (interface{}, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.value, r.err
	case <-time.After(timeout):
		return nil, svc.NewTimeout(r.url)
	}
}

// Done reports whether the call has completed, without blocking.
func (r *Result) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
