package utils

import (
	"context"
	"sync"
	"time"
)

// WorkerPool runs jobs on at most maxWorkers goroutines, spacing job starts
// by at least rateLimitMs milliseconds.
type WorkerPool struct {
	rateLimit time.Duration
	slots     chan struct{}
	wg        sync.WaitGroup

	mu        sync.Mutex
	lastStart time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		rateLimit: time.Duration(rateLimitMs) * time.Millisecond,
		slots:     make(chan struct{}, maxWorkers),
	}
}

// Submit blocks until a worker slot is free, then runs job on it. It returns
// ctx's error without running job if ctx ends first.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) error {
	select {
	case wp.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.slots }()

		wp.throttle(ctx)
		job()
	}()
	return nil
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// throttle holds the caller until rateLimit has passed since the previous
// job start. Starts are serialised through mu.
func (wp *WorkerPool) throttle(ctx context.Context) {
	if wp.rateLimit <= 0 {
		return
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wait := wp.rateLimit - time.Since(wp.lastStart); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	wp.lastStart = time.Now()
}

// LinkSet is a thread-safe set of links already fetched or scheduled.
type LinkSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewLinkSet creates a LinkSet seeded with known links.
func NewLinkSet(known ...string) *LinkSet {
	s := &LinkSet{seen: make(map[string]struct{}, len(known))}
	for _, link := range known {
		if link != "" {
			s.seen[link] = struct{}{}
		}
	}
	return s
}

// Add returns true if the link was newly added, false if already present.
func (s *LinkSet) Add(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[link]; exists {
		return false
	}
	s.seen[link] = struct{}{}
	return true
}

// Contains returns true if the link is already known.
func (s *LinkSet) Contains(link string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[link]
	return exists
}

// Size returns the number of unique links tracked.
func (s *LinkSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
