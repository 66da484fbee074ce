// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package cachetest provides a shared conformance suite for
// svccache.Cache implementations, mirroring registrytest.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/go-svcfleet/svccache"
)

// Run exercises the full Cache contract against impl.
func Run(t *testing.T, impl svccache.Cache) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, impl) })
	t.Run("SetThenGet", func(t *testing.T) { testSetThenGet(t, impl) })
	t.Run("ClaimWinsOnce", func(t *testing.T) { testClaimWinsOnce(t, impl) })
	t.Run("DeleteRemoves", func(t *testing.T) { testDeleteRemoves(t, impl) })
}

func testGetMissing(t *testing.T, impl svccache.Cache) {
	ctx := context.Background()
	_, found, err := impl.Get(ctx, "cachetest-missing-"+t.Name())
	require.NoError(t, err)
	assert.False(t, found)
}

func testSetThenGet(t *testing.T, impl svccache.Cache) {
	ctx := context.Background()
	key := "cachetest-set-" + t.Name()
	require.NoError(t, impl.Set(ctx, key, "hello", time.Minute))
	v, found, err := impl.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", v)
}

func testClaimWinsOnce(t *testing.T, impl svccache.Cache) {
	ctx := context.Background()
	key := "cachetest-claim-" + t.Name()
	first, err := impl.Claim(ctx, key, svccache.InFlightSentinel, time.Minute)
	require.NoError(t, err)
	assert.True(t, first, "the first Claim on an absent key must win")

	second, err := impl.Claim(ctx, key, svccache.InFlightSentinel, time.Minute)
	require.NoError(t, err)
	assert.False(t, second, "a second Claim on an already-claimed key must lose")
}

func testDeleteRemoves(t *testing.T, impl svccache.Cache) {
	ctx := context.Background()
	key := "cachetest-delete-" + t.Name()
	require.NoError(t, impl.Set(ctx, key, "gone-soon", time.Minute))
	require.NoError(t, impl.Delete(ctx, key))
	_, found, err := impl.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}
