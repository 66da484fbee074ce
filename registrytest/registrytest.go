// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package registrytest provides a shared conformance suite for
// registry.Registry implementations, in the same spirit as the teacher
// repository's coordinate/coordinatetest package: one exported Run
// function exercised against every backend's _test.go file.
package registrytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/go-svcfleet/registry"
)

// Run exercises the full Registry contract against impl.
func Run(t *testing.T, impl registry.Registry) {
	t.Run("RegisterAndLookup", func(t *testing.T) { testRegisterAndLookup(t, impl) })
	t.Run("RandomMemberAmongMany", func(t *testing.T) { testRandomMemberAmongMany(t, impl) })
	t.Run("UnregisterRemoves", func(t *testing.T) { testUnregisterRemoves(t, impl) })
	t.Run("MissingServiceErrors", func(t *testing.T) { testMissingServiceErrors(t, impl) })
	t.Run("ServicesByNameScansPrefix", func(t *testing.T) { testServicesByNameScansPrefix(t, impl) })
}

func testRegisterAndLookup(t *testing.T, impl registry.Registry) {
	ctx := context.Background()
	require.NoError(t, impl.Register(ctx, map[string]string{"hello": "http://worker-1:9999/services/hello"}))
	url, err := impl.ServiceURL(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "http://worker-1:9999/services/hello", url)
}

func testRandomMemberAmongMany(t *testing.T, impl registry.Registry) {
	ctx := context.Background()
	urls := map[string]bool{
		"http://w1/services/fanout": true,
		"http://w2/services/fanout": true,
		"http://w3/services/fanout": true,
	}
	for url := range urls {
		require.NoError(t, impl.Register(ctx, map[string]string{"fanout": url}))
	}
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		url, err := impl.ServiceURL(ctx, "fanout")
		require.NoError(t, err)
		require.True(t, urls[url], "ServiceURL must only return registered URLs")
		seen[url] = true
	}
	assert.True(t, len(seen) > 1, "50 draws from 3 members should eventually see more than one")
}

func testUnregisterRemoves(t *testing.T, impl registry.Registry) {
	ctx := context.Background()
	require.NoError(t, impl.Register(ctx, map[string]string{"gone": "http://worker-1/services/gone"}))
	require.NoError(t, impl.Unregister(ctx, map[string]string{"gone": "http://worker-1/services/gone"}))
	_, err := impl.ServiceURL(ctx, "gone")
	assert.ErrorIs(t, err, registry.ErrNoURL)
}

func testMissingServiceErrors(t *testing.T, impl registry.Registry) {
	ctx := context.Background()
	_, err := impl.ServiceURL(ctx, "never-registered-"+t.Name())
	assert.ErrorIs(t, err, registry.ErrNoURL)
}

func testServicesByNameScansPrefix(t *testing.T, impl registry.Registry) {
	ctx := context.Background()
	require.NoError(t, impl.Register(ctx, map[string]string{
		"scan-a": "http://w1/services/scan-a",
		"scan-b": "http://w1/services/scan-b",
	}))
	all, err := impl.ServicesByName(ctx)
	require.NoError(t, err)
	assert.Contains(t, all["scan-a"], "http://w1/services/scan-a")
	assert.Contains(t, all["scan-b"], "http://w1/services/scan-b")
}
