// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often an HTTPSource re-fetches its
// configuration if the caller does not specify an interval.
const DefaultPollInterval = 30 * time.Second

// HTTPSource polls a URL serving a flat JSON object on an interval and
// keeps the last good snapshot. A failed poll after a good snapshot
// was already obtained is logged, not fatal, per spec.md §4.1: "the
// last good snapshot is retained if the source becomes unreachable."
//
// This is the HTTP-polling analogue of worker.Worker's heartbeat loop
// in the teacher repository: one background goroutine, started by
// NewHTTPSource, stopped via a cancellation channel.
type HTTPSource struct {
	url    string
	period time.Duration
	client *http.Client
	log    *logrus.Entry

	mu       sync.RWMutex
	snapshot map[string]interface{}
	pid      int

	stop chan struct{}
}

// NewHTTPSource creates an HTTPSource. It performs one synchronous
// fetch before returning, so a fresh worker process fails fast if the
// configuration server is unreachable at startup and no snapshot has
// ever been obtained (a "fatal to process" condition per spec.md §7).
func NewHTTPSource(url string, period time.Duration, log *logrus.Entry) (*HTTPSource, error) {
	if period <= 0 {
		period = DefaultPollInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &HTTPSource{
		url:    url,
		period: period,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	if err := s.fetch(); err != nil {
		return nil, fmt.Errorf("initial config fetch from %s: %w", url, err)
	}
	s.startPolling()
	return s, nil
}

// Get implements Source.
func (s *HTTPSource) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookupDotted(s.snapshot, key)
}

// Close stops the background polling goroutine.
func (s *HTTPSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// startPolling launches the refresh goroutine if one is not already
// running for the current process id. NewHTTPSource is its only
// caller, so polling starts at construction and is not restarted after
// Close or on a later lookup.
func (s *HTTPSource) startPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil && s.pid == os.Getpid() {
		return
	}
	s.pid = os.Getpid()
	stop := make(chan struct{})
	s.stop = stop
	go s.pollLoop(stop)
}

func (s *HTTPSource) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.fetch(); err != nil {
				s.log.WithError(err).Warn("config: poll failed, keeping last good snapshot")
			}
		}
	}
}

func (s *HTTPSource) fetch() error {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshot = data
	s.mu.Unlock()
	return nil
}
