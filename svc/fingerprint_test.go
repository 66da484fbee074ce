// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/go-svcfleet/svc"
)

func TestFingerprintStable(t *testing.T) {
	a, err := svc.Fingerprint("mock_preload", []interface{}{"mslp"}, map[string]interface{}{
		"base_time": "1975-01-14 00:00",
		"tracker":   "tracker-0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, err)

	b, err := svc.Fingerprint("mock_preload", []interface{}{"mslp"}, map[string]interface{}{
		"tracker":   "tracker-0123456789abcdef0123456789abcdef",
		"base_time": "1975-01-14 00:00",
	})
	require.NoError(t, err)

	assert.Equal(t, a, b, "kwarg insertion order must not affect the fingerprint")
	assert.Len(t, a, 32)
}

func TestFingerprintDiffersByArgs(t *testing.T) {
	a, err := svc.Fingerprint("echo", []interface{}{"foo"}, nil)
	require.NoError(t, err)
	b, err := svc.Fingerprint("echo", []interface{}{"bar"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTrackerFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		tr := svc.NewTracker()
		assert.True(t, svc.ValidTracker(tr), "generated tracker %q must match the wire pattern", tr)
	}
	assert.False(t, svc.ValidTracker("not-a-tracker"))
	assert.False(t, svc.ValidTracker("tracker-tooshort"))
}

func TestRequestTrackerGeneratesWhenAbsent(t *testing.T) {
	req := &svc.Request{Service: "echo"}
	tr := req.Tracker()
	assert.True(t, svc.ValidTracker(tr))
	assert.Equal(t, tr, req.Tracker(), "repeated calls must return the same tracker")
}

func TestRequestCacheEnabledDefaultsTrue(t *testing.T) {
	req := &svc.Request{}
	assert.True(t, req.CacheEnabled())
	req.Kwargs = map[string]interface{}{"cache": false}
	assert.False(t, req.CacheEnabled())
}
