package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/podushkina/taskpool/internal/task"
)

// Store holds the records of one task pool, in creation order.
type Store struct {
	mu      sync.RWMutex
	records map[string]*task.Record
	order   []string
}

func New() *Store {
	return &Store{
		records: make(map[string]*task.Record),
	}
}

func (s *Store) Add(rec *task.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID()]; ok {
		return fmt.Errorf("add task %s: duplicate id", rec.ID())
	}
	s.records[rec.ID()] = rec
	s.order = append(s.order, rec.ID())
	return nil
}

func (s *Store) Get(id string) (*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	return rec, nil
}

// List returns snapshots in creation order, limited to the given statuses
// when any are passed.
func (s *Store) List(statuses ...task.Status) []task.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]task.Snapshot, 0, len(s.order))
	for _, id := range s.order {
		snap := s.records[id].Snapshot()
		if matches(snap.Status, statuses) {
			out = append(out, snap)
		}
	}
	return out
}

// Counts returns the number of records per status. Every status is present.
func (s *Store) Counts() map[task.Status]int {
	counts := make(map[task.Status]int, len(task.Statuses))
	for _, st := range task.Statuses {
		counts[st] = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		counts[rec.Status()]++
	}
	return counts
}

// Delete removes a record regardless of its status. It is used to roll back
// a submission whose id never reached the queue.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
}

// Purge removes a terminal record.
func (s *Store) Purge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	if !rec.Status().IsTerminal() {
		return fmt.Errorf("purge task %s: %w", id, task.ErrTaskNotTerminal)
	}
	s.remove(id)
	return nil
}

// PurgeTerminal removes terminal records that finished before the cutoff and
// returns how many were removed.
func (s *Store) PurgeTerminal(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Status().IsTerminal() && rec.CompletedAt().Before(before) {
			delete(s.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	for i := len(kept); i < len(s.order); i++ {
		s.order[i] = ""
	}
	s.order = kept
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// must be called with s.mu held
func (s *Store) remove(id string) {
	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func matches(st task.Status, statuses []task.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if st == want {
			return true
		}
	}
	return false
}
