// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package registry

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Backend selects a Registry implementation from a CLI flag, the same
// "impl:address" shape as the teacher repository's backend.Backend.
type Backend struct {
	Implementation string
	Address        string
}

// Registry builds the Registry this Backend describes.
func (b *Backend) Registry() (Registry, error) {
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
		return nil, errors.New("unknown registry backend " + b.Implementation)
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
		return errors.New("must specify a registry backend type")
	}
	return nil
}
