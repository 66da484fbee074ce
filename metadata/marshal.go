// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package metadata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// HeaderPrefix is the prefix every wire field of a Metadata carries, per
// spec.md §4.4 and §6.
const HeaderPrefix = "X-Servicelib-"

const (
	headerName    = HeaderPrefix + "Name"
	headerHost    = HeaderPrefix + "Host"
	headerPid     = HeaderPrefix + "Pid"
	headerTracker = HeaderPrefix + "Tracker"
	headerStart   = HeaderPrefix + "Start"
	headerStop    = HeaderPrefix + "Stop"
	headerTimers  = HeaderPrefix + "Timers"
	headerKids    = HeaderPrefix + "Kids"
	notePrefix    = HeaderPrefix + "Note-"
)

// wireTimer is the JSON shape of one entry in the x-servicelib-timers
// object: elapsed seconds plus the last start time, per spec.md §6.
type wireTimer struct {
	Elapsed float64 `json:"elapsed"`
	Start   float64 `json:"start"`
}

// wireMetadata is the JSON shape serialized into x-servicelib-kids
// entries: a full Metadata encoded as one JSON object so kid trees
// nest without needing a second round of header parsing.
type wireMetadata struct {
	Name    string               `json:"name"`
	Host    string               `json:"host"`
	Pid     int                  `json:"pid"`
	Tracker string               `json:"tracker"`
	Start   float64              `json:"start"`
	Stop    float64              `json:"stop"`
	Notes   map[string]interface{} `json:"notes"`
	Timers  map[string]wireTimer `json:"timers"`
	Kids    []wireMetadata       `json:"kids"`
}

func toWire(m *Metadata) wireMetadata {
	w := wireMetadata{
		Name:    m.name,
		Host:    m.host,
		Pid:     m.pid,
		Tracker: m.tracker,
		Start:   timeToUnix(m.start),
		Stop:    timeToUnix(m.Stop()),
		Notes:   m.Annotations(),
		Timers:  map[string]wireTimer{},
	}
	for name, t := range m.Timers() {
		w.Timers[name] = wireTimer{
			Elapsed: t.Elapsed().Seconds(),
			Start:   timeToUnix(t.lastStart),
		}
	}
	for _, kid := range m.Kids() {
		w.Kids = append(w.Kids, toWire(kid))
	}
	return w
}

func fromWire(w wireMetadata, clk clock.Clock) *Metadata {
	m := &Metadata{
		name:        w.Name,
		host:        w.Host,
		pid:         w.Pid,
		tracker:     w.Tracker,
		clk:         clk,
		start:       unixToTime(w.Start),
		timers:      map[string]*Timer{},
		annotations: w.Notes,
	}
	if m.annotations == nil {
		m.annotations = map[string]interface{}{}
	}
	if w.Stop != 0 {
		m.stop = unixToTime(w.Stop)
		m.ended = true
	}
	for name, wt := range w.Timers {
		t := newTimer(clk)
		t.accrued = time.Duration(wt.Elapsed * float64(time.Second))
		m.timers[name] = t
	}
	for _, kw := range w.Kids {
		m.kids = append(m.kids, fromWire(kw, clk))
	}
	return m
}

func timeToUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func unixToTime(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(f*float64(time.Second)))
}

// ToHTTPHeaders serializes m into h using the x-servicelib-* header
// contract of spec.md §6: one note-<k> header per annotation, JSON
// arrays/objects for kids and timers.
func (m *Metadata) ToHTTPHeaders(h http.Header) error {
	h.Set(headerName, m.name)
	h.Set(headerHost, m.host)
	h.Set(headerPid, strconv.Itoa(m.pid))
	h.Set(headerTracker, m.tracker)
	h.Set(headerStart, strconv.FormatFloat(timeToUnix(m.start), 'f', -1, 64))
	if !m.Stop().IsZero() {
		h.Set(headerStop, strconv.FormatFloat(timeToUnix(m.Stop()), 'f', -1, 64))
	}

	timers := map[string]wireTimer{}
	for name, t := range m.Timers() {
		timers[name] = wireTimer{Elapsed: t.Elapsed().Seconds(), Start: timeToUnix(t.lastStart)}
	}
	timersJSON, err := json.Marshal(timers)
	if err != nil {
		return fmt.Errorf("encoding timers: %w", err)
	}
	h.Set(headerTimers, string(timersJSON))

	var kids []wireMetadata
	for _, kid := range m.Kids() {
		kids = append(kids, toWire(kid))
	}
	kidsJSON, err := json.Marshal(kids)
	if err != nil {
		return fmt.Errorf("encoding kids: %w", err)
	}
	h.Set(headerKids, string(kidsJSON))

	for k, v := range m.Annotations() {
		noteJSON, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding note %q: %w", k, err)
		}
		h.Add(notePrefix+k, string(noteJSON))
	}
	return nil
}

// FromHTTPHeaders reconstructs a Metadata from the x-servicelib-*
// headers of h.  clk is attached to the result (and all descendants)
// for any subsequent Timer use; pass nil for the real wall clock.
func FromHTTPHeaders(h http.Header, clk clock.Clock) (*Metadata, error) {
	if clk == nil {
		clk = clock.New()
	}
	m := &Metadata{
		name:        h.Get(headerName),
		host:        h.Get(headerHost),
		tracker:     h.Get(headerTracker),
		clk:         clk,
		timers:      map[string]*Timer{},
		annotations: map[string]interface{}{},
	}
	if pid := h.Get(headerPid); pid != "" {
		n, err := strconv.Atoi(pid)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", headerPid, err)
		}
		m.pid = n
	}
	if start := h.Get(headerStart); start != "" {
		f, err := strconv.ParseFloat(start, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", headerStart, err)
		}
		m.start = unixToTime(f)
	}
	if stop := h.Get(headerStop); stop != "" {
		f, err := strconv.ParseFloat(stop, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", headerStop, err)
		}
		m.stop = unixToTime(f)
		m.ended = true
	}
	if timersJSON := h.Get(headerTimers); timersJSON != "" {
		var timers map[string]wireTimer
		if err := json.Unmarshal([]byte(timersJSON), &timers); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", headerTimers, err)
		}
		for name, wt := range timers {
			t := newTimer(clk)
			t.accrued = time.Duration(wt.Elapsed * float64(time.Second))
			m.timers[name] = t
		}
	}
	if kidsJSON := h.Get(headerKids); kidsJSON != "" {
		var kids []wireMetadata
		if err := json.Unmarshal([]byte(kidsJSON), &kids); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", headerKids, err)
		}
		for _, kw := range kids {
			m.kids = append(m.kids, fromWire(kw, clk))
		}
	}
	for key := range h {
		canon := http.CanonicalHeaderKey(key)
		if !strings.HasPrefix(canon, notePrefix) {
			continue
		}
		name := strings.ToLower(canon[len(notePrefix):])
		var v interface{}
		if err := json.Unmarshal([]byte(h.Get(canon)), &v); err != nil {
			return nil, fmt.Errorf("decoding note %q: %w", name, err)
		}
		m.annotations[name] = v
	}
	return m, nil
}
