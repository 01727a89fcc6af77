// Package cache provides a small multi-backend cache abstraction.
//
// Backends:
//   - memory (in-process, dev/testing, public catalog reads)
//   - redis (shared, production)
package cache

import "time"

// Cache is a byte-oriented cache with per-entry TTL.
type Cache interface {
	Get(k string) ([]byte, bool)
	Set(k string, v []byte, ttl time.Duration)
	Delete(k string)
}
