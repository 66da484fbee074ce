// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svc

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

// Serializable is any error that carries its own HTTP status and wire
// shape, per spec.md §4.3.  This mirrors restdata.ErrorStatus from the
// teacher repository (an HTTPStatus() int method), generalized with
// Retry(), Kind() and Args() so the wire encoding doesn't need a type
// switch.
type Serializable interface {
	error

	// HTTPStatus returns the status code this error maps to.
	HTTPStatus() int

	// Retry reports whether, and (for RetryLater) how long, a
	// caller should wait before retrying.
	Retry() (retry bool, delaySeconds int)

	// Kind returns the stable wire type name used for exc_type and
	// for deserializer lookup.
	Kind() string

	// Args returns the positional constructor arguments this error
	// was raised with, in the same order Kind()'s constructor
	// expects them.
	Args() []interface{}
}

var hostname = func() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	// Match the original's HOSTNAME = platform.node().split(".")[0].
	if i := strings.IndexByte(h, '.'); i >= 0 {
		h = h[:i]
	}
	return h
}()

// base carries the service/origin fields every Serializable shares.
type base struct {
	service string
	origin  string
}

func (b *base) SetService(service string) { b.service = service }
func (b *base) SetOrigin(origin string) {
	if origin == "" {
		origin = hostname
	}
	b.origin = origin
}

// BadRequest signals caller input was invalid; callers should not retry.
type BadRequest struct {
	base
	Message string
}

func NewBadRequest(message string) *BadRequest { return &BadRequest{Message: message} }
func (e *BadRequest) Error() string            { return e.Message }
func (e *BadRequest) HTTPStatus() int          { return http.StatusBadRequest }
func (e *BadRequest) Retry() (bool, int)       { return false, 0 }
func (e *BadRequest) Kind() string             { return "BadRequest" }
func (e *BadRequest) Args() []interface{}      { return []interface{}{e.Message} }

// CommError signals a transient transport failure; callers should retry.
type CommError struct {
	base
	Message string
}

func NewCommError(message string) *CommError { return &CommError{Message: message} }
func (e *CommError) Error() string            { return e.Message }
func (e *CommError) HTTPStatus() int          { return http.StatusServiceUnavailable }
func (e *CommError) Retry() (bool, int)       { return true, 0 }
func (e *CommError) Kind() string             { return "CommError" }
func (e *CommError) Args() []interface{}      { return []interface{}{e.Message} }

// Timeout signals no response arrived within the call's budget.
type Timeout struct {
	base
	Message string
}

func NewTimeout(message string) *Timeout  { return &Timeout{Message: message} }
func (e *Timeout) Error() string          { return e.Message }
func (e *Timeout) HTTPStatus() int        { return http.StatusServiceUnavailable }
func (e *Timeout) Retry() (bool, int)     { return true, 0 }
func (e *Timeout) Kind() string           { return "Timeout" }
func (e *Timeout) Args() []interface{}    { return []interface{}{e.Message} }

// RetryLater signals a transient condition with an explicit retry-after
// hint, in seconds.
type RetryLater struct {
	base
	Message string
	Delay   int
}

func NewRetryLater(message string, delaySeconds int) *RetryLater {
	return &RetryLater{Message: message, Delay: delaySeconds}
}
func (e *RetryLater) Error() string       { return e.Message }
func (e *RetryLater) HTTPStatus() int     { return http.StatusServiceUnavailable }
func (e *RetryLater) Retry() (bool, int)  { return true, e.Delay }
func (e *RetryLater) Kind() string        { return "RetryLater" }
func (e *RetryLater) Args() []interface{} { return []interface{}{e.Message, e.Delay} }

// ServiceError signals a framework-level failure not attributable to
// caller input or to a handler's own logic.
type ServiceError struct {
	base
	Message string
}

func NewServiceError(message string) *ServiceError { return &ServiceError{Message: message} }
func (e *ServiceError) Error() string              { return e.Message }
func (e *ServiceError) HTTPStatus() int            { return http.StatusInternalServerError }
func (e *ServiceError) Retry() (bool, int)          { return false, 0 }
func (e *ServiceError) Kind() string                { return "ServiceError" }
func (e *ServiceError) Args() []interface{}         { return []interface{}{e.Message} }

// TaskError wraps an arbitrary error raised inside a handler,
// preserving its original type name, constructor-style arguments, and
// a formatted stack trace, per spec.md §4.3.  Service implementations
// should not construct TaskError directly; it is produced by the
// worker pipeline when a handler returns a non-Serializable error.
type TaskError struct {
	base
	WrappedType string
	WrappedArgs []interface{}
	WrappedTB   string
}

// NewTaskError records a wrapped error's type name, arguments and
// formatted stack trace. ToDict, not this constructor, falls back to an
// argument's string form when it is not JSON-serializable.
func NewTaskError(wrappedType string, wrappedArgs []interface{}, stack string) *TaskError {
	return &TaskError{WrappedType: wrappedType, WrappedArgs: wrappedArgs, WrappedTB: stack}
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.WrappedType, e.WrappedArgs)
}
func (e *TaskError) HTTPStatus() int   { return http.StatusInternalServerError }
func (e *TaskError) Retry() (bool, int) { return false, 0 }
func (e *TaskError) Kind() string       { return "TaskError" }
func (e *TaskError) Args() []interface{} {
	return []interface{}{e.WrappedType, e.WrappedArgs, e.WrappedTB}
}

// --- wire encode/decode -----------------------------------------------

// ToDict renders a Serializable error into the wire shape of spec.md
// §4.3/§6: {exc_type, exc_args, exc_service, exc_origin, ...}. TaskError
// additionally carries wrapped_exc_type/wrapped_exc_args/wrapped_exc_tb
// and omits exc_args, matching the original's as_dict override.
func ToDict(err Serializable) map[string]interface{} {
	d := map[string]interface{}{
		"exc_type":    err.Kind(),
		"exc_service": serviceOf(err),
		"exc_origin":  originOf(err),
	}
	if te, ok := err.(*TaskError); ok {
		d["wrapped_exc_type"] = te.WrappedType
		d["wrapped_exc_args"] = wrappedArgsOrStrings(te.WrappedArgs)
		d["wrapped_exc_tb"] = te.WrappedTB
		return d
	}
	d["exc_args"] = err.Args()
	return d
}

func wrappedArgsOrStrings(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch a.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64,
			[]interface{}, map[string]interface{}:
			out[i] = a
		default:
			out[i] = fmt.Sprintf("%v", a)
		}
	}
	return out
}

func serviceOf(err Serializable) interface{} {
	if withBase, ok := err.(interface{ serviceField() string }); ok {
		return withBase.serviceField()
	}
	return nil
}

func originOf(err Serializable) interface{} {
	if withBase, ok := err.(interface{ originField() string }); ok {
		return withBase.originField()
	}
	return nil
}

func (b *base) serviceField() string { return b.service }
func (b *base) originField() string  { return b.origin }

// deserializer constructs a Serializable from its wire-form args.
type deserializer func(args []interface{}) (Serializable, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]deserializer{}
)

// RegisterErrorKind registers the deserializer for a Kind() name.
// Re-registering the same name overwrites the previous entry.
func RegisterErrorKind(kind string, d deserializer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = d
}

func init() {
	RegisterErrorKind("BadRequest", func(a []interface{}) (Serializable, error) {
		return NewBadRequest(argString(a, 0)), nil
	})
	RegisterErrorKind("CommError", func(a []interface{}) (Serializable, error) {
		return NewCommError(argString(a, 0)), nil
	})
	RegisterErrorKind("Timeout", func(a []interface{}) (Serializable, error) {
		return NewTimeout(argString(a, 0)), nil
	})
	RegisterErrorKind("RetryLater", func(a []interface{}) (Serializable, error) {
		return NewRetryLater(argString(a, 0), argInt(a, 1)), nil
	})
	RegisterErrorKind("ServiceError", func(a []interface{}) (Serializable, error) {
		return NewServiceError(argString(a, 0)), nil
	})
}

func argString(a []interface{}, i int) string {
	if i >= len(a) {
		return ""
	}
	s, _ := a[i].(string)
	return s
}

func argInt(a []interface{}, i int) int {
	if i >= len(a) {
		return 0
	}
	switch n := a[i].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// DecodeError reconstructs a Serializable from a wire-form dict, as
// produced by ToDict.  If the declared exc_type is unknown, it falls
// back to ServiceError carrying the original message, per spec.md
// §4.3's "fall back to the base kind."
func DecodeError(d map[string]interface{}) Serializable {
	kind, _ := d["exc_type"].(string)

	registryMu.RLock()
	ctor, known := registry[kind]
	registryMu.RUnlock()

	if kind == "TaskError" {
		wrappedType, _ := d["wrapped_exc_type"].(string)
		wrappedArgs, _ := d["wrapped_exc_args"].([]interface{})
		wrappedTB, _ := d["wrapped_exc_tb"].(string)
		te := NewTaskError(wrappedType, wrappedArgs, wrappedTB)
		applyServiceOrigin(te, d)
		return te
	}

	if known {
		args, _ := d["exc_args"].([]interface{})
		e, err := ctor(args)
		if err == nil {
			applyServiceOrigin(e, d)
			return e
		}
	}

	message := fmt.Sprintf("%v", d["exc_args"])
	if kind != "" {
		message = kind + ": " + message
	}
	fallback := NewServiceError(message)
	applyServiceOrigin(fallback, d)
	return fallback
}

func applyServiceOrigin(err Serializable, d map[string]interface{}) {
	withBase, ok := err.(interface {
		SetService(string)
		SetOrigin(string)
	})
	if !ok {
		return
	}
	service, _ := d["exc_service"].(string)
	origin, _ := d["exc_origin"].(string)
	withBase.SetService(service)
	withBase.SetOrigin(origin)
}
