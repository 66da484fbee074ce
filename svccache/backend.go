// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package svccache

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Backend selects a Cache implementation from a CLI flag, the same
// "impl:address" shape as registry.Backend and results.Backend.
type Backend struct {
	Implementation string
	Address        string
}

// Cache builds the Cache this Backend describes.
func (b *Backend) Cache() (Cache, error) {
	switch b.Implementation {
	case "", "noop":
		return NoOp{}, nil
	case "shared", "redis":
		opts, err := redis.ParseURL(b.Address)
		if err != nil {
			return nil, err
		}
		return NewShared(redis.NewClient(opts)), nil
	default:
		return nil, errors.New("unknown cache backend " + b.Implementation)
	}
}

func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

func (b *Backend) Set(param string) error {
	parts := strings.SplitN(param, ":", 2)
	switch len(parts) {
	case 1:
		b.Implementation = parts[0]
		b.Address = ""
	case 2:
		b.Implementation = parts[0]
		b.Address = parts[1]
	default:
		return errors.New("must specify a cache backend type")
	}
	return nil
}
