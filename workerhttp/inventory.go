// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package workerhttp implements the worker-side HTTP surface of
// spec.md §4.11: a POST /services/<service> dispatcher, /health and
// /stats, and static file serving for artifact directories. Routing
// follows the teacher repository's restserver.PopulateRouter shape: a
// small struct wrapping a *mux.Router, populated by one method per
// concern.
package workerhttp

import "github.com/diffeo/go-svcfleet/svc"

// Inventory is the explicit service-registration table a worker is
// built from, replacing the original's directory-based dynamic
// handler discovery (spec.md §9's REDESIGN FLAG #1/#4): the CLI
// constructs one and hands it to NewServer, instead of the worker
// scanning a filesystem path for handler modules at startup.
type Inventory struct {
	services map[string]svc.Service
	order    []string
}

// NewInventory builds an Inventory from an explicit service list.
// Registering two services under the same name is a programming
// error and panics, the same way registering two flags under one
// name would.
func NewInventory(services ...svc.Service) *Inventory {
	inv := &Inventory{services: map[string]svc.Service{}}
	for _, s := range services {
		inv.Add(s)
	}
	return inv
}

// Add registers one more service, panicking if its name collides
// with one already present.
func (inv *Inventory) Add(s svc.Service) {
	name := s.Name()
	if _, exists := inv.services[name]; exists {
		panic("workerhttp: duplicate service name " + name)
	}
	inv.services[name] = s
	inv.order = append(inv.order, name)
}

// Names returns the registered service names in registration order.
func (inv *Inventory) Names() []string {
	out := make([]string, len(inv.order))
	copy(out, inv.order)
	return out
}

func (inv *Inventory) lookup(name string) (svc.Service, bool) {
	s, ok := inv.services[name]
	return s, ok
}
