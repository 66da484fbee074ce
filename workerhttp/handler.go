// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package workerhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gorilla/mux"

	"github.com/diffeo/go-svcfleet/encoding"
	"github.com/diffeo/go-svcfleet/metadata"
	"github.com/diffeo/go-svcfleet/svc"
	"github.com/diffeo/go-svcfleet/svccontext"
)

func (s *Server) serviceHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	service, ok := s.inventory.lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.stats.recordCall(name)

	if r.ContentLength > 0 && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	var args []interface{}
	if r.ContentLength != 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, svc.NewBadRequest("reading request body: "+err.Error()))
			return
		}
		var raw interface{}
		if err := encoding.Unmarshal(body, &raw); err != nil {
			s.writeError(w, svc.NewBadRequest("decoding request body: "+err.Error()))
			return
		}
		parsed, ok := raw.([]interface{})
		if !ok {
			s.writeError(w, svc.NewBadRequest("request body must be a JSON array"))
			return
		}
		args = parsed
	}

	kwargs, err := kwargsFromHeaders(r.Header)
	if err != nil {
		s.writeError(w, svc.NewBadRequest(err.Error()))
		return
	}

	req := &svc.Request{Service: name, Args: args, Kwargs: kwargs}
	tracker := req.Tracker()
	meta := metadata.New(name, tracker, s.clock)
	svcCtx := svccontext.New(name, meta, req, s.log, s.store, s.scratch, s.registry, s.client, s.callTimeout)

	result, callErr := s.execute(r.Context(), service, svcCtx, req)
	meta.StopNow()
	svcCtx.Cleanup()

	if hErr := meta.ToHTTPHeaders(w.Header()); hErr != nil {
		s.log.WithError(hErr).Warn("workerhttp: failed to encode response metadata headers")
	}

	if callErr != nil {
		s.writeError(w, callErr)
		return
	}

	body, encErr := encoding.Marshal(result)
	if encErr != nil {
		s.writeError(w, fmt.Errorf("cannot encode %v as JSON: %w", result, encErr))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// execute runs service.Execute, converting a panic into a TaskError
// the same way a worker.Worker isolates a misbehaving child: the
// handler process survives, the one call fails.
func (s *Server) execute(ctx context.Context, service svc.Service, svcCtx *svccontext.Context, req *svc.Request) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := string(debug.Stack())
			err = svc.NewTaskError(fmt.Sprintf("%T", rec), []interface{}{fmt.Sprintf("%v", rec)}, stack)
		}
	}()
	return service.Execute(ctx, svcCtx, req.Args, req.Kwargs)
}

// writeError renders err as the JSON error envelope of spec.md §4.3: a
// Serializable error (including the TaskError execute builds from a
// panic) keeps its own status and wire shape; anything else (a plain
// error returned by a handler) is wrapped into a TaskError carrying its
// type name, message, and a formatted stack trace.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	serErr, ok := err.(svc.Serializable)
	if !ok {
		stack := string(debug.Stack())
		serErr = svc.NewTaskError(fmt.Sprintf("%T", err), []interface{}{err.Error()}, stack)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serErr.HTTPStatus())
	body, encErr := encoding.Marshal(svc.ToDict(serErr))
	if encErr != nil {
		w.Write([]byte(`{"exc_type":"ServiceError","exc_args":["failed to encode error"]}`))
		return
	}
	w.Write(body)
}

// kwargsFromHeaders extracts the request's kwargs from its
// x-servicelib-<kwarg> headers, per spec.md §6. Unlike the response
// side (where the same prefix carries Metadata's own fields), every
// such header on an inbound request is a kwarg: the framework never
// sends Metadata headers inbound, only outbound.
func kwargsFromHeaders(h http.Header) (map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	for key := range h {
		canon := http.CanonicalHeaderKey(key)
		if !strings.HasPrefix(canon, metadata.HeaderPrefix) {
			continue
		}
		kwName := strings.ToLower(canon[len(metadata.HeaderPrefix):])
		var v interface{}
		if err := encoding.Unmarshal([]byte(h.Get(canon)), &v); err != nil {
			return nil, fmt.Errorf("decoding kwarg %q: %w", kwName, err)
		}
		kwargs[kwName] = v
	}
	return kwargs, nil
}
