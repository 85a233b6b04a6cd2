package storage

import (
	"sort"
	"sync"
	"time"
)

// LockStore tracks the staging tokens that are live in this process.
type LockStore struct {
	locks map[string]time.Time
	mu    sync.RWMutex
}

func New() *LockStore {
	return &LockStore{
		locks: make(map[string]time.Time),
	}
}

// TryLock claims token and reports whether it was free.
func (s *LockStore) TryLock(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[token]; held {
		return false
	}
	s.locks[token] = time.Now()
	return true
}

func (s *LockStore) Held(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, held := s.locks[token]
	return held
}

func (s *LockStore) Unlock(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, token)
}

func (s *LockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}

// Active returns the held tokens, oldest first.
func (s *LockStore) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]string, 0, len(s.locks))
	for k := range s.locks {
		tokens = append(tokens, k)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return s.locks[tokens[i]].Before(s.locks[tokens[j]])
	})
	return tokens
}
