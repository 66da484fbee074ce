// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svccontext_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/go-svcfleet/metadata"
	"github.com/diffeo/go-svcfleet/procrunner"
	"github.com/diffeo/go-svcfleet/registry"
	"github.com/diffeo/go-svcfleet/results"
	"github.com/diffeo/go-svcfleet/scratch"
	"github.com/diffeo/go-svcfleet/svc"
	"github.com/diffeo/go-svcfleet/svccontext"
)

type fakeRegistry struct{ urls map[string]string }

func (r *fakeRegistry) Register(ctx context.Context, pairs map[string]string) error   { return nil }
func (r *fakeRegistry) Unregister(ctx context.Context, pairs map[string]string) error { return nil }
func (r *fakeRegistry) ServiceURL(ctx context.Context, name string) (string, error) {
	url, ok := r.urls[name]
	if !ok {
		return "", registry.ErrNoURL
	}
	return url, nil
}
func (r *fakeRegistry) ServicesByName(ctx context.Context) (map[string][]string, error) {
	return nil, nil
}

func newTestContext(t *testing.T, store results.Store, reg registry.Registry, client *http.Client) *svccontext.Context {
	t.Helper()
	req := &svc.Request{
		Service: "widget",
		Kwargs:  map[string]interface{}{svc.KwargTracker: svc.NewTracker(), svc.KwargUID: "alice"},
	}
	meta := metadata.New("widget", req.Tracker(), clock.NewMock())
	logger, _ := test.NewNullLogger()
	sc := scratch.New([]string{t.TempDir()}, nil, client)
	return svccontext.New("widget", meta, req, logrus.NewEntry(logger), store, sc, reg, client, time.Second)
}

func TestContextCreateResultAndCleanup(t *testing.T) {
	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	ctx := newTestContext(t, store, &fakeRegistry{}, nil)

	handle, err := ctx.CreateResult("text/plain")
	require.NoError(t, err)
	_, err = handle.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	d := handle.AsDict()
	assert.Equal(t, "text/plain", d[results.KeyContentType])
}

func TestContextCreateTempFileCleanup(t *testing.T) {
	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	ctx := newTestContext(t, store, &fakeRegistry{}, nil)

	path, err := ctx.CreateTempFile()
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	ctx.Cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestContextGetDataPrefersStore(t *testing.T) {
	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	ctx := newTestContext(t, store, &fakeRegistry{}, nil)

	handle, err := store.CreateResult("text/plain")
	require.NoError(t, err)
	_, err = handle.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, handle.Close())
	descriptor := handle.AsDict()

	path, err := ctx.GetData(context.Background(), descriptor)
	require.NoError(t, err)
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(contents))
	assert.Greater(t, ctx.Timer("getdata").Elapsed(), time.Duration(-1))
}

func TestContextGetDataFallsBackToScratch(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("remote"))
	}))
	defer server.Close()

	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	ctx := newTestContext(t, store, &fakeRegistry{}, server.Client())

	descriptor := map[string]interface{}{"location": server.URL + "/data.bin"}
	path, err := ctx.GetData(context.Background(), descriptor)
	require.NoError(t, err)
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(contents))
	assert.Equal(t, 1, requests)
}

func TestContextSpawnProcessMergesRunTimer(t *testing.T) {
	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	ctx := newTestContext(t, store, &fakeRegistry{}, nil)

	p := &testProcess{}
	cmd := exec.Command("sh", "-c", "true")
	_, err := ctx.SpawnProcess(context.Background(), cmd, p, 0)
	require.NoError(t, err)
	assert.True(t, p.cleaned)
}

type testProcess struct{ cleaned bool }

func (p *testProcess) ProcessStarted()        {}
func (p *testProcess) StdoutData(data []byte) {}
func (p *testProcess) StderrData(data []byte) {}
func (p *testProcess) Failed(rc, sig int)     {}
func (p *testProcess) Cleanup()               { p.cleaned = true }
func (p *testProcess) Results() (interface{}, error) {
	return "done", nil
}

func TestContextInvokeInheritsTrackerAndUID(t *testing.T) {
	var gotTracker, gotUID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTracker = r.Header.Get(metadata.HeaderPrefix + svc.KwargTracker)
		gotUID = r.Header.Get(metadata.HeaderPrefix + svc.KwargUID)
		w.Write([]byte(`"ok"`))
	}))
	defer server.Close()

	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	reg := &fakeRegistry{urls: map[string]string{"gadget": server.URL}}
	ctx := newTestContext(t, store, reg, server.Client())

	result, err := ctx.Invoke(context.Background(), "gadget", nil, map[string]interface{}{})
	require.NoError(t, err)
	value, err := result.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", value)

	expectedTracker := ctx.Request().Tracker()
	assert.Contains(t, gotTracker, expectedTracker)
	assert.Contains(t, gotUID, "alice")
}

func TestContextInvokeHonorsExplicitOverride(t *testing.T) {
	var gotTracker string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTracker = r.Header.Get(metadata.HeaderPrefix + svc.KwargTracker)
		w.Write([]byte(`"ok"`))
	}))
	defer server.Close()

	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	reg := &fakeRegistry{urls: map[string]string{"gadget": server.URL}}
	ctx := newTestContext(t, store, reg, server.Client())

	override := svc.NewTracker()
	result, err := ctx.Invoke(context.Background(), "gadget", nil, map[string]interface{}{svc.KwargTracker: override})
	require.NoError(t, err)
	_, err = result.Result()
	require.NoError(t, err)
	assert.Contains(t, gotTracker, override)
}

// TestContextInvokeMergesKidMetadataBeforeReturning guards against the
// kid's Metadata landing on the parent tree only sometime after Invoke
// has already returned: the server's response carries a Metadata the
// handler stopped before writing, so the moment Invoke hands back a
// *broker.Result, that kid must already be in ctx.Meta().Kids().
func TestContextInvokeMergesKidMetadataBeforeReturning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kid := metadata.New("gadget", r.Header.Get(metadata.HeaderPrefix+svc.KwargTracker), clock.NewMock())
		kid.StopNow()
		require.NoError(t, kid.ToHTTPHeaders(w.Header()))
		w.Write([]byte(`"ok"`))
	}))
	defer server.Close()

	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	reg := &fakeRegistry{urls: map[string]string{"gadget": server.URL}}
	ctx := newTestContext(t, store, reg, server.Client())

	_, err := ctx.Invoke(context.Background(), "gadget", nil, map[string]interface{}{})
	require.NoError(t, err)

	kids := ctx.Meta().Kids()
	require.Len(t, kids, 1, "Invoke must merge the kid's Metadata before returning")
	assert.Equal(t, "gadget", kids[0].Name())
}

var _ procrunner.Process = (*testProcess)(nil)
