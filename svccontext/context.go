// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package svccontext implements the per-call execution environment of
// spec.md §4.10, grounded on
// original_source/src/servicelib/context/__init__.py's base Context
// and context/service.py's ServiceContext.
package svccontext

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/diffeo/go-svcfleet/broker"
	"github.com/diffeo/go-svcfleet/metadata"
	"github.com/diffeo/go-svcfleet/procrunner"
	"github.com/diffeo/go-svcfleet/registry"
	"github.com/diffeo/go-svcfleet/results"
	"github.com/diffeo/go-svcfleet/scratch"
	"github.com/diffeo/go-svcfleet/svc"
)

// Context is the execution environment handed to every Service.Execute
// call. It satisfies svc.Context and additionally exposes the
// artifact/process/nested-call surface of spec.md §4.10.
type Context struct {
	name     string
	meta     *metadata.Metadata
	request  *svc.Request
	log      *logrus.Entry
	store    results.Store
	scratch  *scratch.Scratch
	registry registry.Registry
	client   *http.Client
	timeout  time.Duration

	mu        sync.Mutex
	tempFiles []string

	brokerOnce sync.Once
	broker     *broker.Broker
}

// New constructs a Context for one service invocation. client and
// timeout configure the lazily constructed broker used by Invoke.
func New(name string, meta *metadata.Metadata, request *svc.Request, log *logrus.Entry, store results.Store, sc *scratch.Scratch, reg registry.Registry, client *http.Client, timeout time.Duration) *Context {
	bound := log.WithFields(logrus.Fields{
		"uid":     request.UID(),
		"tracker": request.Tracker(),
		"service": name,
	})
	c := &Context{
		name:     name,
		meta:     meta,
		request:  request,
		log:      bound,
		store:    store,
		scratch:  sc,
		registry: reg,
		client:   client,
		timeout:  timeout,
	}
	for k, v := range request.Kwargs {
		c.Annotate(k, v)
	}
	return c
}

// Name returns the service name this call was invoked against.
func (c *Context) Name() string { return c.name }

// Request returns the inbound Request this Context was built from.
func (c *Context) Request() *svc.Request { return c.request }

// Annotate proxies to the call's Metadata.
func (c *Context) Annotate(key string, value interface{}) { c.meta.Annotate(key, value) }

// Log returns the per-call logger, bound with uid/tracker/service.
func (c *Context) Log() *logrus.Entry { return c.log }

// Timer returns the named Timer on the call's Metadata.
func (c *Context) Timer(name string) *metadata.Timer { return c.meta.Timer(name) }

// Meta returns the call's Metadata root.
func (c *Context) Meta() *metadata.Metadata { return c.meta }

// CreateResult allocates a fresh artifact of the given content type.
func (c *Context) CreateResult(contentType string) (results.Handle, error) {
	return c.store.CreateResult(contentType)
}

// CreateTempFile returns a path whose file is removed by Cleanup.
func (c *Context) CreateTempFile() (string, error) {
	path, err := c.scratch.CreateTempFile()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.tempFiles = append(c.tempFiles, path)
	c.mu.Unlock()
	return path, nil
}

// SpawnProcess runs cmd under procrunner, merging its elapsed time
// into this call's "run" timer.
func (c *Context) SpawnProcess(ctx context.Context, cmd *exec.Cmd, p procrunner.Process, maxOutput int) (interface{}, error) {
	return procrunner.Run(ctx, c.meta, nil, cmd, p, maxOutput)
}

// GetData resolves descriptor to a local file path: the artifact
// store is tried first (no download needed when the artifact already
// lives on a path this process can see directly), then scratch's
// content-addressed download cache. Both paths are timed under
// "getdata", with the scratch fallback additionally timed under a
// nested "download" timer, per spec.md §4.10.
func (c *Context) GetData(ctx context.Context, descriptor map[string]interface{}) (string, error) {
	timer := c.Timer("getdata")
	timer.Start()
	defer timer.Stop()

	if path, ok := c.store.AsLocalFile(descriptor); ok {
		return path, nil
	}

	download := c.Timer("download")
	download.Start()
	defer download.Stop()
	return c.scratch.AsLocalFile(ctx, descriptor)
}

// Invoke dispatches a nested call through this Context's lazily
// constructed broker, forcing the child call to inherit this call's
// tracker and uid unless explicitly overridden in kwargs. This is the
// only way to reach the broker: Context deliberately does not expose
// it directly, breaking the context/broker reference cycle that
// original_source/src/servicelib/context/client.py's
// ClientContext.pre_execute_hook has around a property-constructed
// broker.
func (c *Context) Invoke(ctx context.Context, service string, args []interface{}, kwargs map[string]interface{}) (*broker.Result, error) {
	b := c.lazyBroker()

	merged := make(map[string]interface{}, len(kwargs)+2)
	for k, v := range kwargs {
		merged[k] = v
	}
	if _, ok := merged[svc.KwargTracker]; !ok {
		merged[svc.KwargTracker] = c.request.Tracker()
	}
	if _, ok := merged[svc.KwargUID]; !ok {
		merged[svc.KwargUID] = c.request.UID()
	}

	result, err := b.Execute(ctx, service, args, merged)
	if err != nil {
		return nil, err
	}
	// result.Metadata() blocks until the nested call finishes, so the
	// kid is appended to this call's Metadata tree before Invoke
	// returns. Callers that then call result.Result() observe the
	// same completion and never race it.
	if md := result.Metadata(); md != nil {
		c.meta.UpdateMetadata(md)
	}
	return result, nil
}

func (c *Context) lazyBroker() *broker.Broker {
	c.brokerOnce.Do(func() {
		c.broker = broker.New(c.registry, c.client, c.timeout)
	})
	return c.broker
}

// Cleanup removes every temp file created through this Context.
// Errors are logged, never returned, per spec.md §4.10.
func (c *Context) Cleanup() {
	c.mu.Lock()
	files := c.tempFiles
	c.tempFiles = nil
	c.mu.Unlock()

	for _, path := range files {
		if err := os.Remove(path); err != nil {
			c.log.WithError(fmt.Errorf("removing %s: %w", path, err)).Warn("cannot remove temp file")
		}
	}
}
