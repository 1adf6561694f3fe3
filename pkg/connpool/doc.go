// Package connpool opens transport connections with exponential backoff
// and keeps them in per-endpoint pools.
//
// A Reconnector retries a failing endpoint, waiting
//
//	min(MaxDelay, InitialDelay * BackoffFactor^attempt) + jitter
//
// between attempts, where jitter is uniform in [0, MaxJitter). After
// MaxRetries consecutive failures it gives up with an error wrapping
// ErrConnectionExhausted.
//
// A Pool registers every connection it opens under its endpoint. A pooled
// Conn removes itself from the pool when it is closed or when a read or
// write on it fails, so the pool never holds dead connections and never
// polls for them.
//
// Endpoints are URLs: tcp://host:port (or a bare host:port), tls://,
// ws:// and wss://.
package connpool
