// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svccache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Shared is a Cache backed by a distributed in-memory cache with TTL,
// per spec.md §4.8 ("shared memory cache"), grounded on the same
// go-redis/v9 client used by registry.Shared.
type Shared struct {
	client redis.UniversalClient
}

var _ Cache = (*Shared)(nil)

// NewShared wraps an existing Redis client.
func NewShared(client redis.UniversalClient) *Shared {
	return &Shared{client: client}
}

func (s *Shared) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Shared) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Claim uses Redis SET ... NX, which atomically sets key only when it
// does not already exist.
func (s *Shared) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Shared) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
