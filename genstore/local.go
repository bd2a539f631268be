package genstore

import (
	"context"
	"sync"
	"time"
)

type localGenEntry struct {
	gen       uint64
	updatedAt time.Time
}

// LocalGenStore keeps generations in-process. With a cleanup interval and a
// retention it prunes keys that have not been bumped for longer than retention;
// a pruned key reads as generation 0 again, which only makes older tier
// entries with gen 0 valid if nothing was written since - callers pair
// retention with a tier TTL shorter than it.
type LocalGenStore struct {
	mu        sync.RWMutex
	gens      map[string]localGenEntry
	retention time.Duration

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{
		gens:      make(map[string]localGenEntry),
		retention: retention,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.loop()
	}
	return s
}

func (s *LocalGenStore) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Cleanup(s.retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[k]
	s.mu.RUnlock()
	return e.gen, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.gens[k]
	e.gen++
	e.updatedAt = now
	s.gens[k] = e
	s.mu.Unlock()
	return e.gen, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.gens {
		if e.updatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *LocalGenStore) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
