package relay

import (
	"sync"
	"time"
)

// window is one sliding-window bucket: N events allowed per duration.
type window struct {
	limit int
	span  time.Duration
}

// maxTrackedContainers bounds the number of distinct containers
// RateLimiter keeps per-container event history for (spec.md §3 Data
// Model); the oldest-accessed container is evicted past this cap.
const maxTrackedContainers = 100

// RateLimiter enforces per-container and global request budgets
// (spec.md §4.8 "Rate limit"): 3/min, 10/10min, 20/hour per container;
// 30/hour global.
type RateLimiter struct {
	mu       sync.Mutex
	perWin   []window
	global   window
	perEvent map[string][]time.Time
	lru      []string // container names, oldest-accessed first
	allEvent []time.Time
	now      func() time.Time
}

// NewRateLimiter returns a RateLimiter with bubble's default windows.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		perWin: []window{
			{limit: 3, span: time.Minute},
			{limit: 10, span: 10 * time.Minute},
			{limit: 20, span: time.Hour},
		},
		global:   window{limit: 30, span: time.Hour},
		perEvent: map[string][]time.Time{},
		now:      time.Now,
	}
}

// touch moves container to the most-recently-used end of the LRU
// order, evicting the least-recently-used container's tracked events
// if this introduces a new key past maxTrackedContainers.
func (r *RateLimiter) touch(container string) {
	for i, c := range r.lru {
		if c == container {
			r.lru = append(r.lru[:i], r.lru[i+1:]...)
			r.lru = append(r.lru, container)
			return
		}
	}
	r.lru = append(r.lru, container)
	if len(r.lru) > maxTrackedContainers {
		evict := r.lru[0]
		r.lru = r.lru[1:]
		delete(r.perEvent, evict)
	}
}

// Allow evaluates all windows for container under a single lock,
// recording the event if and only if every window (per-container and
// global) has room.
func (r *RateLimiter) Allow(container string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touch(container)

	now := r.now()
	events := pruneOlderThan(r.perEvent[container], now, maxSpan(r.perWin))
	all := pruneOlderThan(r.allEvent, now, r.global.span)

	for _, w := range r.perWin {
		if countSince(events, now, w.span) >= w.limit {
			r.perEvent[container] = events
			r.allEvent = all
			return false
		}
	}
	if countSince(all, now, r.global.span) >= r.global.limit {
		r.perEvent[container] = events
		r.allEvent = all
		return false
	}

	events = append(events, now)
	all = append(all, now)
	r.perEvent[container] = events
	r.allEvent = all
	return true
}

func maxSpan(ws []window) time.Duration {
	max := time.Duration(0)
	for _, w := range ws {
		if w.span > max {
			max = w.span
		}
	}
	return max
}

func pruneOlderThan(events []time.Time, now time.Time, span time.Duration) []time.Time {
	cutoff := now.Add(-span)
	out := events[:0:0]
	for _, e := range events {
		if e.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func countSince(events []time.Time, now time.Time, span time.Duration) int {
	cutoff := now.Add(-span)
	n := 0
	for _, e := range events {
		if e.After(cutoff) {
			n++
		}
	}
	return n
}
