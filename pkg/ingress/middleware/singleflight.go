// Package middleware implements the ingress-side half of the lock and
// idempotency design: a golang.org/x/sync/singleflight
// group collapses concurrent requests for the same idempotency key into
// one engine invocation within this process, before the Redis-backed
// idempotency store and distributed lock in pkg/engine even see them.
// The store remains authoritative across process restarts and replicas;
// this layer only removes redundant work within one process.
package middleware

import "golang.org/x/sync/singleflight"

// Collapser deduplicates concurrent calls sharing the same key.
type Collapser struct {
	group singleflight.Group
}

// NewCollapser builds an empty Collapser.
func NewCollapser() *Collapser {
	return &Collapser{}
}

// Do runs fn for key, or waits for and shares the result of an
// already-in-flight call for the same key. shared reports whether the
// caller got a result computed by another concurrent call.
func (c *Collapser) Do(key string, fn func() (interface{}, error)) (v interface{}, err error, shared bool) {
	return c.group.Do(key, fn)
}
