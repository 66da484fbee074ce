// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package metadata implements the per-call annotation tree described in
// spec.md §4.4: a Metadata has a name, host, process id, start/stop
// timestamps, a map of named Timers, a map of annotations, and an
// ordered list of child Metadatas.  It is created at request entry,
// stopped at exit, and propagated across HTTP as x-servicelib-* headers.
package metadata

import (
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// annotatable lists the JSON-compatible kinds annotate() accepts, per
// spec.md §4.4.
func annotatable(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	case []interface{}, map[string]interface{}:
		return true
	default:
		return false
	}
}

// Metadata is a node in the per-call annotation tree.  The zero value
// is not usable; construct with New.
type Metadata struct {
	mu sync.Mutex

	name    string
	host    string
	pid     int
	tracker string

	clk   clock.Clock
	start time.Time
	stop  time.Time
	ended bool

	timers      map[string]*Timer
	annotations map[string]interface{}
	kids        []*Metadata
}

// New creates a Metadata rooted at name, started immediately.  clk may
// be nil, in which case the real wall clock is used; tests should pass
// a clock.Mock so Timer.Elapsed is deterministic.
func New(name, tracker string, clk clock.Clock) *Metadata {
	if clk == nil {
		clk = clock.New()
	}
	host, _ := os.Hostname()
	return &Metadata{
		name:        name,
		host:        host,
		pid:         os.Getpid(),
		tracker:     tracker,
		clk:         clk,
		start:       clk.Now(),
		timers:      make(map[string]*Timer),
		annotations: make(map[string]interface{}),
	}
}

// Name returns the call name this Metadata was created for.
func (m *Metadata) Name() string { return m.name }

// Host returns the hostname recorded at creation.
func (m *Metadata) Host() string { return m.host }

// PID returns the process id recorded at creation.
func (m *Metadata) PID() int { return m.pid }

// Tracker returns the tracker id this Metadata was created under.
func (m *Metadata) Tracker() string { return m.tracker }

// Start returns the creation timestamp.
func (m *Metadata) Start() time.Time { return m.start }

// Stop returns the stop timestamp, or the zero time if Stop has not
// been called yet.
func (m *Metadata) Stop() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop
}

// StopNow records the end of this call.  Calling it more than once has
// no further effect after the first call.
func (m *Metadata) StopNow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.stop = m.clk.Now()
	m.ended = true
}

// Annotate stores value under key, but only if value is a JSON-compatible
// atom, list, or map, per spec.md §4.4.  Non-serializable values are
// silently dropped: annotating is a best-effort diagnostic aid, never a
// source of handler failure.
func (m *Metadata) Annotate(key string, value interface{}) {
	if !annotatable(value) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.annotations[key] = value
}

// Annotations returns a copy of the current annotation map.
func (m *Metadata) Annotations() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interface{}, len(m.annotations))
	for k, v := range m.annotations {
		out[k] = v
	}
	return out
}

// Timer returns the named Timer, creating it (stopped, zero elapsed) on
// first use.
func (m *Metadata) Timer(name string) *Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		t = newTimer(m.clk)
		m.timers[name] = t
	}
	return t
}

// Timers returns a copy of the named-timer map.
func (m *Metadata) Timers() map[string]*Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Timer, len(m.timers))
	for k, v := range m.timers {
		out[k] = v
	}
	return out
}

// Kids returns the child Metadatas in completion order.
func (m *Metadata) Kids() []*Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Metadata, len(m.kids))
	copy(out, m.kids)
	return out
}

// UpdateMetadata appends other as a child of m, unless other is m
// itself (a call never becomes its own child).  Child order reflects
// append order, i.e. completion order, per spec.md §3's invariant.
func (m *Metadata) UpdateMetadata(other *Metadata) {
	if other == nil || other == m {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kids = append(m.kids, other)
}

// Equal compares two Metadatas field by field, tolerating up to 10ms of
// drift between start/stop timestamps, as required by spec.md §8's
// round-trip property.
func Equal(a, b *Metadata) bool {
	if a == nil || b == nil {
		return a == b
	}
	const tolerance = 10 * time.Millisecond
	if a.name != b.name || a.host != b.host || a.pid != b.pid || a.tracker != b.tracker {
		return false
	}
	if absDuration(a.start.Sub(b.start)) > tolerance {
		return false
	}
	if absDuration(a.Stop().Sub(b.Stop())) > tolerance {
		return false
	}
	if len(a.Annotations()) != len(b.Annotations()) {
		return false
	}
	for k, v := range a.Annotations() {
		if bv, ok := b.Annotations()[k]; !ok || !deepEqualJSON(v, bv) {
			return false
		}
	}
	at, bt := a.Timers(), b.Timers()
	if len(at) != len(bt) {
		return false
	}
	for k, tv := range at {
		btv, ok := bt[k]
		if !ok || absDuration(tv.Elapsed()-btv.Elapsed()) > tolerance {
			return false
		}
	}
	ak, bk := a.Kids(), b.Kids()
	if len(ak) != len(bk) {
		return false
	}
	for i := range ak {
		if !Equal(ak[i], bk[i]) {
			return false
		}
	}
	return true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func deepEqualJSON(a, b interface{}) bool {
	// Annotations only ever hold JSON-shaped values (see
	// annotatable); a cheap recursive compare suffices without
	// pulling in reflect.DeepEqual's stricter type matching (which
	// would wrongly fail int vs float64 after a JSON round trip).
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqualJSON(v, bv[k]) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		if af, aok := toFloatOK(a); aok {
			bf, bok := toFloatOK(b)
			return bok && af == bf
		}
		return a == b
	}
}

func toFloatOK(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
