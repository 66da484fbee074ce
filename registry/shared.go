// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package registry

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Shared is a Registry backed by a shared key/value store exposing
// set-add, set-remove, random-member, and set-scan, per spec.md §4.7.
// Reads are not cached here; callers that want a short invisible TTL
// cache in front of ServiceURL should wrap Shared themselves, as the
// spec allows but does not require.
type Shared struct {
	client redis.UniversalClient
}

var _ Registry = (*Shared)(nil)

// NewShared wraps an existing Redis client.
func NewShared(client redis.UniversalClient) *Shared {
	return &Shared{client: client}
}

// Register adds each (service, url) pair to its set in one pipelined
// batch, per spec.md §4.7's "pipelined atomic writes."
func (s *Shared) Register(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for service, url := range pairs {
		pipe.SAdd(ctx, key(service), url)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Unregister removes each (service, url) pair in one pipelined batch.
func (s *Shared) Unregister(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for service, url := range pairs {
		pipe.SRem(ctx, key(service), url)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ServiceURL returns a uniformly random member of name's URL set.
func (s *Shared) ServiceURL(ctx context.Context, name string) (string, error) {
	url, err := s.client.SRandMember(ctx, key(name)).Result()
	if err == redis.Nil {
		return "", ErrNoURL
	}
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", ErrNoURL
	}
	return url, nil
}

// ServicesByName scans all servicelib.url.* keys and returns each
// service's full URL set.
func (s *Shared) ServicesByName(ctx context.Context) (map[string][]string, error) {
	out := map[string][]string{}
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			name := strings.TrimPrefix(k, KeyPrefix)
			members, err := s.client.SMembers(ctx, k).Result()
			if err != nil {
				return nil, err
			}
			out[name] = members
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}
