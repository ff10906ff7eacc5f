// Package idgen provides pluggable ID generation for visreg artifacts.
//
// Engines and stores accept a Generator so tests can swap in a
// deterministic sequence while production uses time-sortable UUIDv7s.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so archive listings ordered by ID are ordered by creation.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "shot_", "diff_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator producing prefix-1, prefix-2, ...
// Safe for concurrent use.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Screenshot is the generator for screenshot IDs.
var Screenshot = Prefixed("shot_", Default)

// Diff is the generator for visual diff IDs.
var Diff = Prefixed("diff_", Default)

// Audit is the generator for audit log entries.
var Audit = Prefixed("aud_", Default)

// Parse validates a UUID string, with or without a type prefix, and
// returns it unchanged.
func Parse(s string) (string, error) {
	raw := s
	for _, p := range []string{"shot_", "diff_"} {
		if len(s) > len(p) && s[:len(p)] == p {
			raw = s[len(p):]
			break
		}
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return s, nil
}
