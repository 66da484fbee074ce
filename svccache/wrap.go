// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svccache

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/diffeo/go-svcfleet/encoding"
	"github.com/diffeo/go-svcfleet/svc"
	"github.com/diffeo/go-svcfleet/svclog"
)

// Options tunes the coalescing decorator. Zero values fall back to the
// defaults named in spec.md §4.8.
type Options struct {
	// CheckFreq is how often a WAITing caller re-polls the cache for
	// an in-flight entry to resolve. Default 100ms.
	CheckFreq time.Duration

	// InFlightTTL bounds how long the in-flight sentinel survives
	// if its owner dies without writing a result. Default 60s.
	InFlightTTL time.Duration

	// Clock is the time source for "created" timestamps and WAIT
	// polling; nil uses the real clock.
	Clock clock.Clock

	// HTTPClient issues the HEAD requests HIT-CHECK uses to
	// validate embedded artifact URLs; nil uses http.DefaultClient.
	HTTPClient *http.Client

	// Log, if set, receives a cache-disposition entry via
	// svclog.WithCache on every hit/miss/off decision.
	Log *logrus.Entry
}

func (o Options) checkFreq() time.Duration {
	if o.CheckFreq > 0 {
		return o.CheckFreq
	}
	return 100 * time.Millisecond
}

func (o Options) inFlightTTL() time.Duration {
	if o.InFlightTTL > 0 {
		return o.InFlightTTL
	}
	return 60 * time.Second
}

func (o Options) clock() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.New()
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// payload is the shape stored under a cache key on success, per
// spec.md §6: {"result": ..., "created": unix, "max_age": ttl-seconds}.
// It is carried over the wire through this repo's own AsDict/type-tag
// encoding package, not encoding/json, so a cache hit decodes Result
// through the exact same machinery a cache miss's
// workerhttp.handler response encoding uses.
type payload struct {
	Result  interface{}
	Created int64
	MaxAge  int
}

func (p payload) asMap() map[string]interface{} {
	return map[string]interface{}{
		"result":  p.Result,
		"created": p.Created,
		"max_age": p.MaxAge,
	}
}

func payloadFromValue(v interface{}) (payload, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return payload{}, false
	}
	var p payload
	p.Result = m["result"]
	if created, ok := toInt(m["created"]); ok {
		p.Created = int64(created)
	}
	if maxAge, ok := toInt(m["max_age"]); ok {
		p.MaxAge = maxAge
	}
	return p, true
}

type cachedService struct {
	next  svc.Service
	cache Cache
	opts  Options
}

// Wrap layers the cache-with-coalescing state machine of spec.md §4.8
// around next. The returned Service has the same name as next.
func Wrap(next svc.Service, cache Cache, opts Options) svc.Service {
	return &cachedService{next: next, cache: cache, opts: opts}
}

func (c *cachedService) Name() string { return c.next.Name() }

func (c *cachedService) Execute(ctx context.Context, svcCtx svc.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	req := &svc.Request{Service: c.next.Name(), Args: args, Kwargs: kwargs}

	if !req.CacheEnabled() {
		c.annotate(svcCtx, "off", "", 0)
		return c.next.Execute(ctx, svcCtx, args, kwargs)
	}

	// The tracker is fresh on every call, so it is left out of the key;
	// otherwise no two calls could ever share an entry.
	keyKwargs := make(map[string]interface{}, len(req.Kwargs))
	for k, v := range req.Kwargs {
		if k != svc.KwargTracker {
			keyKwargs[k] = v
		}
	}
	key, err := svc.Fingerprint(c.next.Name(), args, keyKwargs)
	if err != nil {
		return nil, fmt.Errorf("computing cache key: %w", err)
	}

	ttl := svc.DefaultCacheTTL
	if ttler, ok := c.next.(svc.CacheTTLer); ok {
		ttl = ttler.CacheTTL()
	}

	clk := c.opts.clock()
	deadline := clk.Now().Add(c.opts.inFlightTTL())

	for {
		value, found, err := c.cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("cache get: %w", err)
		}
		if !found {
			claimed, err := c.cache.Claim(ctx, key, InFlightSentinel, c.opts.inFlightTTL())
			if err != nil {
				return nil, fmt.Errorf("cache claim: %w", err)
			}
			if !claimed {
				// Another caller claimed the slot between our Get
				// and Claim; fall through to WAIT on its result.
				continue
			}
			return c.compute(ctx, svcCtx, args, kwargs, key, ttl)
		}
		if value == InFlightSentinel {
			if clk.Now().After(deadline) {
				// The prior owner died without writing a result.
				// Delete the stale sentinel and loop back to the
				// top, where an ordinary Claim race picks the new
				// owner. Real TTL-backed stores (Shared) will
				// usually have expired the key on their own by now;
				// this covers backends that do not.
				if err := c.cache.Delete(ctx, key); err != nil {
					return nil, fmt.Errorf("cache delete dead in-flight entry: %w", err)
				}
				continue
			}
			if !sleepOrDone(ctx, clk, c.opts.checkFreq()) {
				return nil, ctx.Err()
			}
			continue
		}

		// HIT-CHECK.
		var decoded interface{}
		if err := encoding.Unmarshal([]byte(value), &decoded); err == nil {
			if p, ok := payloadFromValue(decoded); ok && validArtifacts(ctx, c.opts.httpClient(), p.Result) {
				c.annotate(svcCtx, "hit", key, p.MaxAge)
				return p.Result, nil
			}
		}
		// The stored payload is corrupt or its artifacts no longer
		// resolve; invalidate it and race to become the recomputing
		// owner like any other miss.
		if err := c.cache.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("cache delete stale entry: %w", err)
		}
	}
}

// compute runs the handler after this caller has won the Claim race
// for key, and is therefore solely responsible for filling it.
func (c *cachedService) compute(ctx context.Context, svcCtx svc.Context, args []interface{}, kwargs map[string]interface{}, key string, ttl time.Duration) (interface{}, error) {
	result, err := c.next.Execute(ctx, svcCtx, args, kwargs)
	if err != nil {
		if delErr := c.cache.Delete(ctx, key); delErr != nil {
			svcCtx.Log().WithError(delErr).Warn("svccache: failed to clear in-flight sentinel after handler error")
		}
		return nil, err
	}

	p := payload{Result: result, Created: c.opts.clock().Now().Unix(), MaxAge: int(ttl.Seconds())}
	blob, err := encoding.Marshal(p.asMap())
	if err != nil {
		// The result itself encoded fine as the handler's own HTTP
		// response will demonstrate; a cache-payload marshal
		// failure is a bookkeeping problem, not a call failure.
		svcCtx.Log().WithError(err).Warn("svccache: failed to marshal cache payload")
		c.annotate(svcCtx, "miss", key, int(ttl.Seconds()))
		return result, nil
	}
	if err := c.cache.Set(ctx, key, string(blob), ttl); err != nil {
		svcCtx.Log().WithError(err).Warn("svccache: failed to store result")
	}
	c.annotate(svcCtx, "miss", key, int(ttl.Seconds()))
	return result, nil
}

func (c *cachedService) annotate(svcCtx svc.Context, status, key string, ttlSeconds int) {
	svcCtx.Annotate("cache", status)
	if key != "" {
		svcCtx.Annotate("cache_key", key)
	}
	svcCtx.Annotate("cache_ttl", ttlSeconds)
	if c.opts.Log != nil {
		svclog.WithCache(c.opts.Log, status, key, ttlSeconds).Debug("svccache: cache disposition")
	}
}

func sleepOrDone(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// validArtifacts implements the HIT-CHECK artifact validity rule of
// spec.md §4.8: atoms are trivially valid; lists are valid iff every
// element is; maps without "location" are valid iff every value is;
// maps with "location" require a 2xx HEAD and, if contentLength was
// recorded, a matching Content-Length header.
func validArtifacts(ctx context.Context, client *http.Client, v interface{}) bool {
	switch t := v.(type) {
	case map[string]interface{}:
		loc, hasLocation := t["location"].(string)
		if !hasLocation {
			for _, val := range t {
				if !validArtifacts(ctx, client, val) {
					return false
				}
			}
			return true
		}
		return validArtifactURL(ctx, client, loc, t["contentLength"])
	case []interface{}:
		for _, item := range t {
			if !validArtifacts(ctx, client, item) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func validArtifactURL(ctx context.Context, client *http.Client, url string, declaredLength interface{}) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return false
	}
	if declaredLength == nil {
		return true
	}
	want, ok := toInt(declaredLength)
	if !ok {
		return true
	}
	got, err := strconv.Atoi(resp.Header.Get("Content-Length"))
	if err != nil {
		return false
	}
	return got == want
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
