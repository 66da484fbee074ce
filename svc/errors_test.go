// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svc_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/diffeo/go-svcfleet/svc"
)

func TestErrorTaxonomyHTTPStatus(t *testing.T) {
	cases := []struct {
		err    svc.Serializable
		status int
		retry  bool
	}{
		{svc.NewBadRequest("oops"), http.StatusBadRequest, false},
		{svc.NewCommError("down"), http.StatusServiceUnavailable, true},
		{svc.NewTimeout("slow"), http.StatusServiceUnavailable, true},
		{svc.NewRetryLater("wait", 5), http.StatusServiceUnavailable, true},
		{svc.NewServiceError("broken"), http.StatusInternalServerError, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, c.err.HTTPStatus(), c.err.Kind())
		retry, _ := c.err.Retry()
		assert.Equal(t, c.retry, retry, c.err.Kind())
	}
}

func TestRetryLaterCarriesDelay(t *testing.T) {
	err := svc.NewRetryLater("wait", 5)
	retry, delay := err.Retry()
	assert.True(t, retry)
	assert.Equal(t, 5, delay)
}

func TestErrorRoundTripPreservesKind(t *testing.T) {
	original := svc.NewBadRequest("oops")
	d := svc.ToDict(original)
	assert.Equal(t, "BadRequest", d["exc_type"])

	decoded := svc.DecodeError(d)
	assert.Equal(t, "BadRequest", decoded.Kind())
	assert.Equal(t, "oops", decoded.Error())
}

func TestErrorRoundTripUnknownKindFallsBack(t *testing.T) {
	d := map[string]interface{}{
		"exc_type": "SomeServiceSpecificError",
		"exc_args": []interface{}{"custom failure"},
	}
	decoded := svc.DecodeError(d)
	assert.Equal(t, "ServiceError", decoded.Kind())
}

func TestTaskErrorWrapsArbitraryError(t *testing.T) {
	te := svc.NewTaskError("builtins.ValueError", []interface{}{"bad value"}, "Traceback...")
	d := svc.ToDict(te)
	assert.Equal(t, "TaskError", d["exc_type"])
	assert.Equal(t, "builtins.ValueError", d["wrapped_exc_type"])
	assert.NotContains(t, d, "exc_args")

	decoded := svc.DecodeError(d)
	decodedTE, ok := decoded.(*svc.TaskError)
	if assert.True(t, ok) {
		assert.Equal(t, "builtins.ValueError", decodedTE.WrappedType)
	}
}

func TestTaskErrorNonSerializableArgsFallBackToString(t *testing.T) {
	te := svc.NewTaskError("pkg.CustomError", []interface{}{make(chan int)}, "")
	d := svc.ToDict(te)
	args := d["wrapped_exc_args"].([]interface{})
	_, isString := args[0].(string)
	assert.True(t, isString, "non-serializable wrapped args must fall back to their string form")
}
