package ratelimiter

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sets the sustained rate and burst of a token bucket. A zero
// RequestsPerSecond disables the bucket.
type Config struct {
	RequestsPerSecond uint
	Burst             uint
}

func (c Config) enabled() bool {
	return c.RequestsPerSecond > 0
}

func (c Config) newLimiter() *rate.Limiter {
	burst := c.Burst
	if burst == 0 {
		// A zero burst would reject every request.
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), int(burst))
}

// RateLimiter throttles lookups with a global token bucket and an optional
// bucket per client.
//
// The token bucket algorithm works as follows:
//  1. Tokens are added to the bucket at a constant rate (requests per second)
//  2. Each request consumes one token from the bucket
//  3. If the bucket is empty, the request is rejected or waits for a token
//  4. Burst capacity allows temporary spikes above the sustained rate
//
// A request must get a token from the client's bucket first and then from
// the global one, so one noisy dispatcher cannot starve the others.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	global *rate.Limiter

	perClient Config
	mu        sync.Mutex
	clients   map[string]*rate.Limiter
}

// New creates a limiter. Either bucket may be disabled with a zero rate;
// with both disabled every request is allowed.
//
// Example:
//
//	// 1000 req/s overall, 200 req/s per client
//	limiter := New(Config{RequestsPerSecond: 1000, Burst: 2000},
//	    Config{RequestsPerSecond: 200, Burst: 400})
func New(global, perClient Config) *RateLimiter {
	r := &RateLimiter{
		perClient: perClient,
		clients:   make(map[string]*rate.Limiter),
	}
	if global.enabled() {
		r.global = global.newLimiter()
	}
	return r
}

// Allow reports whether a request from client may proceed now, consuming
// a token when it does.
func (r *RateLimiter) Allow(client string) bool {
	if lim := r.client(client); lim != nil && !lim.Allow() {
		return false
	}
	return r.global == nil || r.global.Allow()
}

// Wait blocks until client may proceed or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context, client string) error {
	if lim := r.client(client); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	if r.global != nil {
		return r.global.Wait(ctx)
	}
	return nil
}

// Forget drops the bucket of a client that disconnected.
func (r *RateLimiter) Forget(client string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, client)
}

// Clients returns the number of clients with a bucket.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Tokens returns the tokens left in the global bucket, or +Inf when it is
// disabled.
func (r *RateLimiter) Tokens() float64 {
	if r.global == nil {
		return math.Inf(1)
	}
	return r.global.TokensAt(time.Now())
}

func (r *RateLimiter) client(client string) *rate.Limiter {
	if !r.perClient.enabled() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.clients[client]
	if !ok {
		lim = r.perClient.newLimiter()
		r.clients[client] = lim
	}
	return lim
}
