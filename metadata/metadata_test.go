// Unit tests for metadata.go and marshal.go.
//
// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package metadata_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/go-svcfleet/metadata"
)

func TestAnnotateDropsNonSerializable(t *testing.T) {
	m := metadata.New("test", "tracker-"+"0123456789abcdef0123456789abcdef", clock.NewMock())
	m.Annotate("ok", "value")
	m.Annotate("bad", make(chan int))
	ann := m.Annotations()
	assert.Equal(t, "value", ann["ok"])
	_, present := ann["bad"]
	assert.False(t, present)
}

func TestUpdateMetadataIgnoresSelf(t *testing.T) {
	m := metadata.New("test", "tracker-0123456789abcdef0123456789abcdef", clock.NewMock())
	m.UpdateMetadata(m)
	assert.Empty(t, m.Kids())
}

func TestUpdateMetadataAppendsInCompletionOrder(t *testing.T) {
	mclock := clock.NewMock()
	m := metadata.New("parent", "tracker-0123456789abcdef0123456789abcdef", mclock)
	first := metadata.New("first", m.Tracker(), mclock)
	second := metadata.New("second", m.Tracker(), mclock)
	second.StopNow()
	first.StopNow()
	m.UpdateMetadata(second)
	m.UpdateMetadata(first)
	kids := m.Kids()
	require.Len(t, kids, 2)
	assert.Equal(t, "second", kids[0].Name())
	assert.Equal(t, "first", kids[1].Name())
}

func TestTimerElapsedMonotonic(t *testing.T) {
	mclock := clock.NewMock()
	timer := metadata.NewTimer(mclock)
	timer.Start()
	mclock.Add(5 * time.Second)
	timer.Stop()
	mclock.Add(3 * time.Second)
	timer.Start()
	mclock.Add(2 * time.Second)
	timer.Stop()
	assert.Equal(t, 7*time.Second, timer.Elapsed())
}

func TestTimerDoubleStopIsNoop(t *testing.T) {
	mclock := clock.NewMock()
	timer := metadata.NewTimer(mclock)
	timer.Start()
	mclock.Add(time.Second)
	timer.Stop()
	timer.Stop()
	assert.Equal(t, time.Second, timer.Elapsed())
}

func TestHTTPHeaderRoundTrip(t *testing.T) {
	mclock := clock.NewMock()
	mclock.Set(time.Now())
	m := metadata.New("echo", "tracker-0123456789abcdef0123456789abcdef", mclock)
	m.Annotate("cache", "hit")
	m.Annotate("cache_ttl", 30)
	timer := m.Timer("run")
	timer.Start()
	mclock.Add(250 * time.Millisecond)
	timer.Stop()

	kid := metadata.New("nested", m.Tracker(), mclock)
	kid.StopNow()
	m.UpdateMetadata(kid)
	m.StopNow()

	h := http.Header{}
	require.NoError(t, m.ToHTTPHeaders(h))

	got, err := metadata.FromHTTPHeaders(h, mclock)
	require.NoError(t, err)
	assert.True(t, metadata.Equal(m, got), "round-tripped metadata should equal original")
}

func TestHTTPHeadersUseReservedPrefix(t *testing.T) {
	mclock := clock.NewMock()
	m := metadata.New("svc", "tracker-0123456789abcdef0123456789abcdef", mclock)
	m.Annotate("note1", "value1")
	h := http.Header{}
	require.NoError(t, m.ToHTTPHeaders(h))
	assert.Equal(t, "svc", h.Get("X-Servicelib-Name"))
	assert.Equal(t, `"value1"`, h.Get("X-Servicelib-Note-note1"))
}
