// Package service is the submission API of the task pool: it creates
// records, hands their ids to the queue, and answers status queries.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/podushkina/taskpool/internal/queue"
	"github.com/podushkina/taskpool/internal/registry"
	"github.com/podushkina/taskpool/internal/store"
	"github.com/podushkina/taskpool/internal/task"
)

type Service struct {
	registry *registry.Registry
	store    *store.Store
	queue    queue.Queue
	logger   *slog.Logger
}

func New(reg *registry.Registry, st *store.Store, q queue.Queue, logger *slog.Logger) *Service {
	return &Service{
		registry: reg,
		store:    st,
		queue:    q,
		logger:   logger,
	}
}

// Submit creates a pending record and enqueues it. Unknown types are
// rejected before any record exists.
func (s *Service) Submit(ctx context.Context, typeName string, params task.Params) (string, error) {
	typ := task.Type(typeName)
	if _, err := s.registry.Resolve(typ); err != nil {
		return "", err
	}

	rec := task.NewRecord(uuid.New().String(), typ, params)
	if err := s.store.Add(rec); err != nil {
		return "", err
	}

	if err := s.queue.Enqueue(ctx, rec.ID()); err != nil {
		s.store.Delete(rec.ID())
		return "", fmt.Errorf("submit %s: %w", typ, err)
	}

	s.logger.Debug("task submitted", "task_id", rec.ID(), "task_type", typ)
	return rec.ID(), nil
}

func (s *Service) Get(id string) (task.Snapshot, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return task.Snapshot{}, err
	}
	return rec.Snapshot(), nil
}

// Cancel requests cancellation and reports whether it was recorded. It is
// false for tasks that already finished.
func (s *Service) Cancel(id string) (bool, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return false, err
	}

	ok := rec.Cancel()
	if ok {
		s.logger.Info("task cancelled", "task_id", id, "task_type", rec.Type())
	}
	return ok, nil
}

func (s *Service) List(statuses ...task.Status) []task.Snapshot {
	return s.store.List(statuses...)
}

// Purge removes a finished task.
func (s *Service) Purge(id string) error {
	return s.store.Purge(id)
}

// PurgeTerminal removes every finished task completed before the cutoff.
func (s *Service) PurgeTerminal(before time.Time) int {
	return s.store.PurgeTerminal(before)
}

func (s *Service) Types() []task.Type {
	return s.registry.Types()
}
