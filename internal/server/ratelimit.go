package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateLimit is a fixed-window per-IP limiter held in process memory.
// Good enough for a single gateway instance; a shared deployment would
// move the counters into the database.
func rateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		records = make(map[string]*rateRecord)
	)

	cleanup := func(now time.Time) {
		for key, rec := range records {
			if now.After(rec.resetAt) {
				delete(records, key)
			}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()

			mu.Lock()
			if len(records) > 10000 {
				cleanup(now)
			}
			rec, ok := records[r.RemoteAddr]
			if !ok || now.After(rec.resetAt) {
				rec = &rateRecord{resetAt: now.Add(window)}
				records[r.RemoteAddr] = rec
			}
			rec.count++
			count := rec.count
			resetAt := rec.resetAt
			mu.Unlock()

			remaining := maxRequests - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if count > maxRequests {
				retryIn := int(time.Until(resetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryIn))
				writeError(w, http.StatusTooManyRequests, "rate_limited",
					"rate limit exceeded", map[string]any{"retry_after": retryIn})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type rateRecord struct {
	count   int
	resetAt time.Time
}
