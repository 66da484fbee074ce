// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package results_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/go-svcfleet/results"
)

func TestExtensionForKnownTypes(t *testing.T) {
	assert.Equal(t, ".ps", results.ExtensionFor("application/postscript"))
	assert.Equal(t, ".nc", results.ExtensionFor("application/x-netcdf"))
	assert.Equal(t, ".txt", results.ExtensionFor("text/plain"))
	assert.Equal(t, ".grib", results.ExtensionFor("application/x-grib"))
	assert.Equal(t, ".grib2", results.ExtensionFor("application/x-grib2"))
	assert.Equal(t, ".bufr", results.ExtensionFor("application/x-bufr"))
}

func TestExtensionForUnknownType(t *testing.T) {
	assert.Equal(t, "", results.ExtensionFor("application/x-totally-made-up"))
}

func TestLocalFilesWriteAndAsLocalFile(t *testing.T) {
	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)

	h, err := store.CreateResult("text/plain")
	require.NoError(t, err)
	n, err := h.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, h.Close())

	d := h.AsDict()
	assert.Equal(t, "text/plain", d[results.KeyContentType])
	assert.EqualValues(t, 5, d[results.KeyContentLength])
	loc, _ := d[results.KeyLocation].(string)
	assert.Contains(t, loc, "file://")
	assert.Contains(t, loc, dir)

	path, ok := store.AsLocalFile(d)
	require.True(t, ok)
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))
}

func TestLocalFilesAsLocalFileRejectsSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)

	h, err := store.CreateResult("text/plain")
	require.NoError(t, err)
	_, err = h.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	d := h.AsDict()
	d[results.KeyContentLength] = 999
	_, ok := store.AsLocalFile(d)
	assert.False(t, ok)
}

func TestLocalFilesAsLocalFileRejectsOutsideDirs(t *testing.T) {
	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	descriptor := map[string]interface{}{
		results.KeyLocation:      "file:///etc/passwd",
		results.KeyContentLength: 0,
	}
	_, ok := store.AsLocalFile(descriptor)
	assert.False(t, ok)
}

func TestSetAnnotationRejectsReservedKeys(t *testing.T) {
	dir := t.TempDir()
	store := results.NewLocalFiles([]string{dir}, nil)
	h, err := store.CreateResult("text/plain")
	require.NoError(t, err)
	defer h.Close()

	for _, key := range []string{results.KeyLocation, results.KeyContentType, results.KeyContentLength, results.KeyMetadata} {
		assert.Error(t, h.SetAnnotation(key, "x"))
	}
	require.NoError(t, h.SetAnnotation("units", "kelvin"))
	assert.Equal(t, "kelvin", h.AsDict()["units"])
}

func TestHTTPFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := results.NewHTTPFiles([]string{dir}, nil, "worker-1", 9999)

	h, err := store.CreateResult("application/json")
	require.NoError(t, err)
	_, err = h.Write([]byte("{}"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	d := h.AsDict()
	loc, _ := d[results.KeyLocation].(string)
	assert.Contains(t, loc, "http://worker-1:9999/")

	_, ok := store.AsLocalFile(d)
	require.True(t, ok)
}

func TestDownloadHostRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := results.NewDownloadHost([]string{dir}, nil, "https://downloads.example.com/results/{+path}")
	require.NoError(t, err)

	h, err := store.CreateResult("application/octet-stream")
	require.NoError(t, err)
	_, err = h.Write([]byte("binary"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	d := h.AsDict()
	loc, _ := d[results.KeyLocation].(string)
	assert.Contains(t, loc, "https://downloads.example.com/results/")

	path, ok := store.AsLocalFile(d)
	require.True(t, ok)
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(contents))
}

func TestBackendSelectsStore(t *testing.T) {
	dir := t.TempDir()

	var b results.Backend
	require.NoError(t, b.Set("local-files:"+dir))
	store, err := b.Store()
	require.NoError(t, err)
	assert.IsType(t, &results.LocalFiles{}, store)

	require.NoError(t, b.Set("http-files:worker-1:9999:" + dir))
	store, err = b.Store()
	require.NoError(t, err)
	assert.IsType(t, &results.HTTPFiles{}, store)

	require.NoError(t, b.Set("download-host:https://dl.example.com/r/{+path}|" + dir))
	store, err = b.Store()
	require.NoError(t, err)
	assert.IsType(t, &results.DownloadHost{}, store)
}
