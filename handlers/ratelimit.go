package handlers

import (
	"sync"
	"time"
)

// rateLimiter counts failed attempts per client address and blocks once
// there are too many inside the window. A successful attempt resets the
// counter.
type rateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	clients map[string]*clientAttempts
}

type clientAttempts struct {
	count int
	first time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:     max,
		window:  window,
		clients: map[string]*clientAttempts{},
	}
}

func (rl *rateLimiter) tooMany(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		return false
	}
	if time.Since(c.first) > rl.window {
		delete(rl.clients, ip)
		return false
	}
	return c.count >= rl.max
}

func (rl *rateLimiter) fail(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok || time.Since(c.first) > rl.window {
		rl.clients[ip] = &clientAttempts{count: 1, first: time.Now()}
	} else {
		c.count++
	}

	// Prune stale entries once the map grows; keeps memory bounded
	// without a background goroutine.
	if len(rl.clients) > 1024 {
		for key, v := range rl.clients {
			if time.Since(v.first) > rl.window {
				delete(rl.clients, key)
			}
		}
	}
}

func (rl *rateLimiter) reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, ip)
}
