package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// NowMillis returns the clock's current time as a millisecond timestamp.
func NowMillis(c Clock) int64 { return c.Now().UnixMilli() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// LogicalClock issues monotonically increasing server timestamps. Every
// accepted write gets Next(wall-clock-now); the result is strictly greater
// than anything issued before, even when wall-clock time stalls or regresses.
// A single LogicalClock is the ordering authority for one owner shard.
type LogicalClock struct {
	mu   sync.Mutex
	last int64
}

// NewLogicalClock creates a clock seeded at floor. Seeding with the store's
// maximum issued timestamp keeps monotonicity across process restarts even
// if wall-clock time regressed while the process was down.
func NewLogicalClock(floor int64) *LogicalClock {
	return &LogicalClock{last: floor}
}

// Next returns max(candidate, last+1) and advances last to the result.
// Concurrent callers are linearized; no two calls observe the same last.
func (c *LogicalClock) Next(candidate int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if candidate <= c.last {
		candidate = c.last + 1
	}
	c.last = candidate
	return candidate
}

// Last returns the most recently issued timestamp, 0 if none.
func (c *LogicalClock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
