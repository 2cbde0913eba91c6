package core

import (
	"sync"
	"testing"
)

func TestLogicalClock_Next(t *testing.T) {
	c := NewLogicalClock(0)

	if got := c.Next(100); got != 100 {
		t.Errorf("Next(100) = %d, want 100", got)
	}
	// A stalled or regressed candidate still advances.
	if got := c.Next(100); got != 101 {
		t.Errorf("Next(100) = %d, want 101", got)
	}
	if got := c.Next(50); got != 102 {
		t.Errorf("Next(50) = %d, want 102", got)
	}
	if got := c.Next(500); got != 500 {
		t.Errorf("Next(500) = %d, want 500", got)
	}
	if got := c.Last(); got != 500 {
		t.Errorf("Last() = %d, want 500", got)
	}
}

func TestLogicalClock_SeedSurvivesRestart(t *testing.T) {
	c := NewLogicalClock(9000)

	// Wall clock regressed below the persisted maximum.
	if got := c.Next(100); got != 9001 {
		t.Errorf("Next(100) = %d, want 9001", got)
	}
}

func TestLogicalClock_ConcurrentUnique(t *testing.T) {
	const (
		goroutines = 50
		perG       = 200
	)
	c := NewLogicalClock(0)
	results := make(chan int64, goroutines*perG)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perG {
				results <- c.Next(0)
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, goroutines*perG)
	for ts := range results {
		if seen[ts] {
			t.Fatalf("timestamp %d issued twice", ts)
		}
		seen[ts] = true
	}
	if len(seen) != goroutines*perG {
		t.Errorf("issued %d unique timestamps, want %d", len(seen), goroutines*perG)
	}
	if got := c.Last(); got != goroutines*perG {
		t.Errorf("Last() = %d, want %d", got, goroutines*perG)
	}
}
