package jobs

import (
	"errors"
	"fmt"
	"sync"

	"yt-job-server/internal/model"
)

var ErrJobNotFound = errors.New("job not found")

// Registry stores the latest published snapshot of every job. Snapshots are
// copied on the way in and out so readers never see a record mid-update.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]model.JobStatus
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]model.JobStatus),
	}
}

func (r *Registry) Create(status model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if _, exists := r.jobs[status.ID]; exists {
		return fmt.Errorf("job already exists: %s", status.ID)
	}
	r.jobs[status.ID] = status.Clone()
	r.order = append(r.order, status.ID)
	return nil
}

// Publish replaces the stored snapshot. A terminal snapshot is final.
func (r *Registry) Publish(status model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.jobs[status.ID]
	if !exists {
		return fmt.Errorf("publish %s: %w", status.ID, ErrJobNotFound)
	}
	if prev.Status.IsTerminal() {
		return fmt.Errorf("publish %s: job already %s", status.ID, prev.Status)
	}
	r.jobs[status.ID] = status.Clone()
	return nil
}

func (r *Registry) Get(id string) (model.JobStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, exists := r.jobs[id]
	if !exists {
		return model.JobStatus{}, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return status.Clone(), nil
}

// List returns snapshots in creation order.
func (r *Registry) List() []model.JobStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.JobStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
