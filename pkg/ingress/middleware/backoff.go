package middleware

import (
	"math/rand"
	"time"
)

// JitterBackoff is the lock-retry backoff shared by every lock acquirer
// outside pkg/engine (pkg/engine keeps its own identical copy,
// jitterBackoff).
func JitterBackoff(attempt int) time.Duration {
	base := time.Duration(attempt+1) * 50 * time.Millisecond
	jitter := time.Duration(rand.Intn(50)) * time.Millisecond
	return base + jitter
}
