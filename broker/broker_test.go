// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package broker_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/go-svcfleet/broker"
	"github.com/diffeo/go-svcfleet/encoding"
	"github.com/diffeo/go-svcfleet/metadata"
	"github.com/diffeo/go-svcfleet/registry"
	"github.com/diffeo/go-svcfleet/svc"
)

// fakeRegistry resolves a fixed set of service -> URL mappings, the
// way registry.NoOp/Shared do for a single worker in tests.
type fakeRegistry struct {
	mu    sync.Mutex
	urls  map[string]string
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{urls: map[string]string{}} }

func (r *fakeRegistry) Register(ctx context.Context, pairs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range pairs {
		r.urls[k] = v
	}
	return nil
}

func (r *fakeRegistry) Unregister(ctx context.Context, pairs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range pairs {
		delete(r.urls, k)
	}
	return nil
}

func (r *fakeRegistry) ServiceURL(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	url, ok := r.urls[name]
	if !ok {
		return "", registry.ErrNoURL
	}
	return url, nil
}

func (r *fakeRegistry) ServicesByName(ctx context.Context) (map[string][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string][]string{}
	for k, v := range r.urls {
		out[k] = []string{v}
	}
	return out, nil
}

func TestExecuteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		md := metadata.New("greet", svc.NewTracker(), nil)
		md.StopNow()
		require.NoError(t, md.ToHTTPHeaders(w.Header()))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"hello world"`))
	}))
	defer server.Close()

	reg := newFakeRegistry()
	require.NoError(t, reg.Register(context.Background(), map[string]string{"greet": server.URL}))

	b := broker.New(reg, server.Client(), 0)
	defer b.Close()

	result, err := b.Execute(context.Background(), "greet", []interface{}{"world"}, map[string]interface{}{})
	require.NoError(t, err)

	value, err := result.Result()
	require.NoError(t, err)
	assert.Equal(t, "hello world", value)

	md := result.Metadata()
	require.NotNil(t, md)
	assert.Equal(t, "greet", md.Name())
}

func TestExecuteRegistryMiss(t *testing.T) {
	reg := newFakeRegistry()
	b := broker.New(reg, http.DefaultClient, 0)
	defer b.Close()

	_, err := b.Execute(context.Background(), "missing", nil, map[string]interface{}{})
	assert.ErrorIs(t, err, registry.ErrNoURL)
}

func TestExecuteRejectsUnserializableArgs(t *testing.T) {
	reg := newFakeRegistry()
	require.NoError(t, reg.Register(context.Background(), map[string]string{"svc": "http://unused"}))
	b := broker.New(reg, http.DefaultClient, 0)
	defer b.Close()

	_, err := b.Execute(context.Background(), "svc", []interface{}{make(chan int)}, map[string]interface{}{})
	require.Error(t, err)
	var badReq *svc.BadRequest
	require.ErrorAs(t, err, &badReq)
	assert.Contains(t, badReq.Error(), "object in call")
}

func TestExecuteHTTPTimeoutBecomesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`null`))
	}))
	defer server.Close()

	reg := newFakeRegistry()
	require.NoError(t, reg.Register(context.Background(), map[string]string{"slow": server.URL}))

	b := broker.New(reg, server.Client(), 10*time.Millisecond)
	defer b.Close()

	result, err := b.Execute(context.Background(), "slow", nil, map[string]interface{}{})
	require.NoError(t, err)

	_, err = result.Result()
	require.Error(t, err)
	var timeout *svc.Timeout
	require.ErrorAs(t, err, &timeout)
}

func TestExecuteErrorResponseDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		body, _ := encoding.Marshal(svc.ToDict(svc.NewBadRequest("bad args")))
		w.Write(body)
	}))
	defer server.Close()

	reg := newFakeRegistry()
	require.NoError(t, reg.Register(context.Background(), map[string]string{"fails": server.URL}))

	b := broker.New(reg, server.Client(), 0)
	defer b.Close()

	result, err := b.Execute(context.Background(), "fails", nil, map[string]interface{}{})
	require.NoError(t, err)

	_, err = result.Result()
	require.Error(t, err)
	var badReq *svc.BadRequest
	require.ErrorAs(t, err, &badReq)
	assert.Equal(t, "bad args", badReq.Error())
}

func TestResultWaitAbandonsWithoutCancelling(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`"done"`))
	}))
	defer server.Close()

	reg := newFakeRegistry()
	require.NoError(t, reg.Register(context.Background(), map[string]string{"slow": server.URL}))

	b := broker.New(reg, server.Client(), time.Minute)
	defer b.Close()

	result, err := b.Execute(context.Background(), "slow", nil, map[string]interface{}{})
	require.NoError(t, err)

	_, err = result.Wait(10 * time.Millisecond)
	require.Error(t, err)
	var timeout *svc.Timeout
	require.ErrorAs(t, err, &timeout)
	assert.False(t, result.Done(), "call must still be in flight after Wait times out")

	close(release)
	value, err := result.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}

func TestExecuteGeneratesTrackerWhenAbsent(t *testing.T) {
	var gotTracker string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTracker = r.Header.Get(metadata.HeaderPrefix + svc.KwargTracker)
		w.Write([]byte(`null`))
	}))
	defer server.Close()

	reg := newFakeRegistry()
	require.NoError(t, reg.Register(context.Background(), map[string]string{"svc": server.URL}))

	b := broker.New(reg, server.Client(), 0)
	defer b.Close()

	result, err := b.Execute(context.Background(), "svc", nil, map[string]interface{}{})
	require.NoError(t, err)
	_, err = result.Result()
	require.NoError(t, err)
	assert.Contains(t, gotTracker, "tracker-")
}
