// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/diffeo/go-svcfleet/svc"
	"github.com/diffeo/go-svcfleet/svccache"
)

// echoService returns its first positional argument unchanged. It
// exists to give a freshly started worker something to dispatch to
// without requiring a real handler package, the way
// cmd/demoworker exercised the teacher's worker.Worker with a toy
// work spec.
type echoService struct{}

func (echoService) Name() string { return "echo" }

func (echoService) Execute(ctx context.Context, svcCtx svc.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, svc.NewBadRequest("echo requires one argument")
	}
	svcCtx.Annotate("echoed", true)
	return args[0], nil
}

// pingService reports the host's current time, cacheable for a short
// window so repeated pings within the TTL are served from
// svccache.Wrap without re-entering Execute.
type pingService struct {
	now func() time.Time
}

func (pingService) Name() string { return "ping" }

func (p pingService) Execute(ctx context.Context, svcCtx svc.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	return map[string]interface{}{"pong": now().UTC().Format(time.RFC3339)}, nil
}

func (pingService) CacheTTL() time.Duration { return 5 * time.Second }

var _ svc.CacheTTLer = pingService{}

// wrapCached layers the coalescing cache decorator around next, binding
// log so every hit/miss/off decision gets a svclog.WithCache entry the
// same way workerhttp binds its own per-call log fields.
func wrapCached(next svc.Service, cache svccache.Cache, log *logrus.Entry) svc.Service {
	return svccache.Wrap(next, cache, svccache.Options{Log: log})
}
