// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package workerhttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/diffeo/go-svcfleet/registry"
	"github.com/diffeo/go-svcfleet/results"
	"github.com/diffeo/go-svcfleet/scratch"
)

// StaticMount maps a URL path prefix to a directory served under it,
// per spec.md §4.11's "static mappings for served artifact directories."
type StaticMount struct {
	Prefix string
	Dir    string
}

// Options configures a Server beyond its Inventory.
type Options struct {
	// Host and Port are used to build this worker's registry URL
	// (http://<Host>:<Port>/services/<name>) and to bind the
	// listener.
	Host string
	Port int

	Registry    registry.Registry
	Store       results.Store
	Scratch     *scratch.Scratch
	Client      *http.Client
	CallTimeout time.Duration
	Clock       clock.Clock
	Log         *logrus.Entry
	Static      []StaticMount
}

// Server is the worker-side HTTP surface of spec.md §4.11: a
// *mux.Router populated the way restserver.PopulateRouter populates
// one, wrapped in a negroni middleware chain (recovery, then request
// logging).
type Server struct {
	inventory *Inventory
	router    *mux.Router
	handler   http.Handler

	registry    registry.Registry
	store       results.Store
	scratch     *scratch.Scratch
	client      *http.Client
	callTimeout time.Duration
	clock       clock.Clock
	log         *logrus.Entry

	host string
	port int

	stats *statsCollector

	httpServer *http.Server
}

// NewServer builds a Server around inv. The /health route is not
// registered yet: call Activate to add it once the worker has
// successfully registered its services with opts.Registry, per
// spec.md §4.11.
func NewServer(inv *Inventory, opts Options) *Server {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{
		inventory:   inv,
		router:      mux.NewRouter(),
		registry:    opts.Registry,
		store:       opts.Store,
		scratch:     opts.Scratch,
		client:      opts.Client,
		callTimeout: opts.CallTimeout,
		clock:       opts.Clock,
		log:         opts.Log,
		host:        opts.Host,
		port:        opts.Port,
		stats:       newStatsCollector(inv),
	}

	s.router.HandleFunc("/services/{service}", s.serviceHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	for _, mount := range opts.Static {
		prefix := mount.Prefix
		s.router.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(mount.Dir))))
	}

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.HandlerFunc(s.logRequest))
	n.UseHandler(s.router)
	s.handler = n

	return s
}

func (s *Server) logRequest(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := s.clock.Now()
	next(w, r)
	s.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"duration": s.clock.Now().Sub(start).String(),
	}).Info("workerhttp: request handled")
}

// ServeHTTP lets Server be used directly as an http.Handler, e.g. in
// httptest.NewServer(server).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ServiceURL returns the registry URL this worker advertises for a
// given service name.
func (s *Server) ServiceURL(name string) string {
	return fmt.Sprintf("http://%s:%d/services/%s", s.host, s.port, name)
}

// Activate registers every inventory service with the registry and
// adds the /health route, per spec.md §4.11's "added only after
// successful service registration." Start calls this before it
// listens; tests that only need the HTTP surface (not a bound port)
// can call it directly against an httptest.Server wrapping s.
func (s *Server) Activate(ctx context.Context) error {
	pairs := map[string]string{}
	for _, name := range s.inventory.Names() {
		pairs[name] = s.ServiceURL(name)
	}
	if err := s.registry.Register(ctx, pairs); err != nil {
		return fmt.Errorf("workerhttp: registering services: %w", err)
	}

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return nil
}

// Start registers every inventory service with the registry, adds the
// /health route, and begins listening. It blocks until the server
// stops (via Shutdown) or fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Activate(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.handler,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown unregisters every inventory service from the registry, then
// gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	pairs := map[string]string{}
	for _, name := range s.inventory.Names() {
		pairs[name] = s.ServiceURL(name)
	}
	if err := s.registry.Unregister(ctx, pairs); err != nil {
		s.log.WithError(err).Warn("workerhttp: failed to unregister services on shutdown")
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
