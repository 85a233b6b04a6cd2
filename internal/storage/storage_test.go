package storage

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestTryLockAndUnlock(t *testing.T) {
	s := New()

	if !s.TryLock("a") {
		t.Fatal("Expected first lock to succeed")
	}
	if s.TryLock("a") {
		t.Error("Expected second lock on same token to fail")
	}
	if !s.Held("a") {
		t.Error("Expected token to be held")
	}

	s.Unlock("a")
	if s.Held("a") {
		t.Error("Expected token to be released")
	}
	if !s.TryLock("a") {
		t.Error("Expected lock to succeed after unlock")
	}
}

func TestActive(t *testing.T) {
	s := New()
	s.TryLock("first")
	s.TryLock("second")

	if s.Len() != 2 {
		t.Fatalf("Expected 2 locks, got %d", s.Len())
	}

	active := s.Active()
	if len(active) != 2 {
		t.Fatalf("Expected 2 active tokens, got %v", active)
	}
}

func TestConcurrentTryLock(t *testing.T) {
	s := New()
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryLock("shared") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one winner, got %d", wins.Load())
	}
}
