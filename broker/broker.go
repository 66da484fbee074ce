// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package broker implements the client-side call dispatcher of
// spec.md §4.12: execute is non-blocking, resolving a worker URL from
// the registry and returning a Result whose work proceeds in the
// background, the way original_source/src/servicelib/context/client.py's
// ClientContext fronts a lazily constructed broker.
package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/diffeo/go-svcfleet/encoding"
	"github.com/diffeo/go-svcfleet/metadata"
	"github.com/diffeo/go-svcfleet/registry"
	"github.com/diffeo/go-svcfleet/svc"
)

// DefaultTimeout is used for a call with no per-call or broker-default
// timeout configured.
const DefaultTimeout = 30 * time.Second

// Broker is a long-lived client object holding a pooled HTTP client
// and a Registry for resolving service names to worker URLs.
type Broker struct {
	client         *http.Client
	registry       registry.Registry
	defaultTimeout time.Duration
}

// New constructs a Broker. client may be nil to use http.DefaultClient;
// defaultTimeout of 0 uses DefaultTimeout.
func New(reg registry.Registry, client *http.Client, defaultTimeout time.Duration) *Broker {
	if client == nil {
		client = http.DefaultClient
	}
	if defaultTimeout == 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Broker{client: client, registry: reg, defaultTimeout: defaultTimeout}
}

// Close releases the Broker's pooled connections.
func (b *Broker) Close() {
	b.client.CloseIdleConnections()
}

// Execute validates args/kwargs are JSON-serializable, resolves a
// worker URL for service, and dispatches the call on a background
// goroutine, returning immediately with a Result handle.
func (b *Broker) Execute(ctx context.Context, service string, args []interface{}, kwargs map[string]interface{}) (*Result, error) {
	if err := checkSerializable(args); err != nil {
		return nil, err
	}
	if err := checkSerializable(valuesOf(kwargs)); err != nil {
		return nil, err
	}

	url, err := b.registry.ServiceURL(ctx, service)
	if err != nil {
		return nil, err
	}

	kwargs = cloneKwargs(kwargs)
	if _, ok := kwargs[svc.KwargTracker]; !ok {
		kwargs[svc.KwargTracker] = svc.NewTracker()
	}
	callID := svc.NewCallID()

	timeout := b.defaultTimeout
	if t, ok := kwargs[svc.KwargTimeout]; ok {
		if secs, ok := toSeconds(t); ok {
			timeout = secs
		}
	}

	r := &Result{done: make(chan struct{}), url: url, callID: callID}
	go b.run(ctx, r, url, args, kwargs, timeout)
	return r, nil
}

func (b *Broker) run(ctx context.Context, r *Result, url string, args []interface{}, kwargs map[string]interface{}, timeout time.Duration) {
	value, md, err := b.call(ctx, url, args, kwargs, timeout)
	r.mu.Lock()
	r.value, r.metadata, r.err = value, md, err
	close(r.done)
	r.mu.Unlock()
}

func (b *Broker) call(ctx context.Context, url string, args []interface{}, kwargs map[string]interface{}, timeout time.Duration) (interface{}, *metadata.Metadata, error) {
	body, err := encoding.Marshal(args)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: encoding args: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, svc.NewCommError(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range kwargs {
		encoded, err := encoding.Marshal(v)
		if err != nil {
			return nil, nil, fmt.Errorf("broker: encoding kwarg %q: %w", k, err)
		}
		req.Header.Set(metadata.HeaderPrefix+k, string(encoded))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, nil, svc.NewTimeout(url)
		}
		return nil, nil, svc.NewCommError(err.Error())
	}
	defer resp.Body.Close()

	md, mdErr := metadata.FromHTTPHeaders(resp.Header, nil)
	if mdErr != nil {
		md = nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, md, fmt.Errorf("broker: reading response body: %w", err)
	}

	var raw interface{}
	if len(respBody) > 0 {
		if err := encoding.Unmarshal(respBody, &raw); err != nil {
			return nil, md, fmt.Errorf("broker: decoding response body: %w", err)
		}
	}

	if resp.StatusCode/100 != 2 {
		d, _ := raw.(map[string]interface{})
		return nil, md, svc.DecodeError(d)
	}
	return raw, md, nil
}

func cloneKwargs(kwargs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kwargs)+1)
	for k, v := range kwargs {
		out[k] = v
	}
	return out
}

func valuesOf(m map[string]interface{}) []interface{} {
	out := make([]interface{}, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// checkSerializable rejects opaque values that cannot round-trip
// through the wire encoding, per spec.md §4.12's "validates arg
// JSON-serializability" with a message starting "object in call".
func checkSerializable(values []interface{}) error {
	for _, v := range values {
		if _, err := encoding.Marshal(v); err != nil {
			return svc.NewBadRequest(fmt.Sprintf("object in call is not JSON-serializable: %v", err))
		}
	}
	return nil
}

func toSeconds(v interface{}) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	case float64:
		return time.Duration(n * float64(time.Second)), true
	default:
		return 0, false
	}
}
