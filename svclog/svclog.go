// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package svclog binds structured logging fields the way
// cmd/coordinated/metrics.go threads a *logrus.Logger through the
// teacher repository: a logger is passed in, never read off a package
// global, and call-specific context is attached with WithFields rather
// than mutated in place.
package svclog

import "github.com/sirupsen/logrus"

// Bind returns a *logrus.Entry with uid, tracker, and service fields
// pre-bound, per spec.md §4.10's contract for a service context's log
// field.
func Bind(base *logrus.Logger, uid, tracker, service string) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return base.WithFields(logrus.Fields{
		"uid":     uid,
		"tracker": tracker,
		"service": service,
	})
}

// WithCache returns a copy of entry with cache disposition fields
// bound, per spec.md §4.8: "the decorator... binds the same on the
// per-call logger."
func WithCache(entry *logrus.Entry, status, key string, ttlSeconds int) *logrus.Entry {
	return entry.WithFields(logrus.Fields{
		"cache":     status,
		"cache_key": key,
		"cache_ttl": ttlSeconds,
	})
}
