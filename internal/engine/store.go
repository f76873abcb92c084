package engine

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/genome-harvester/internal/types"
)

// ErrJobNotFound is returned for lookups of unknown job identifiers.
var ErrJobNotFound = errors.New("job not found")

// Store is the in-memory job registry. Each job is exclusively owned and
// mutated by its engine run; the store serializes access so pollers can read
// snapshots at any time without blocking the work in progress.
type Store struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*types.Job
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[uuid.UUID]*types.Job)}
}

// create registers a new queued job and returns its snapshot.
func (s *Store) create(mode types.JobMode) types.Snapshot {
	now := time.Now().UTC()
	job := &types.Job{
		ID:          uuid.New(),
		Mode:        mode,
		Status:      types.StatusQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return snapshotOf(job)
}

// update applies fn to the job under the store lock and bumps its timestamp.
// Updates against terminal jobs are ignored; terminal states are final.
func (s *Store) update(id uuid.UUID, fn func(*types.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a copy-safe view of the job's status and progress.
func (s *Store) Snapshot(id uuid.UUID) (types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return types.Snapshot{}, ErrJobNotFound
	}
	return snapshotOf(job), nil
}

// Results returns the job's final result document. The boolean reports
// whether the job has reached a terminal state; results of a running job are
// not served.
func (s *Store) Results(id uuid.UUID) (*types.JobResults, types.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, "", ErrJobNotFound
	}
	if !job.Status.Terminal() {
		return nil, job.Status, nil
	}
	// Terminal jobs are immutable, so sharing the slices is safe.
	return &types.JobResults{
		Results: job.Results,
		Errors:  job.Errors,
	}, job.Status, nil
}

// List returns snapshots of all jobs, newest first.
func (s *Store) List(limit int) []types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Snapshot, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, snapshotOf(job))
	}
	// Newest first by submission time, identifier as tie-break.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func snapshotOf(job *types.Job) types.Snapshot {
	return types.Snapshot{
		ID:          job.ID,
		Mode:        job.Mode,
		Status:      job.Status,
		Progress:    job.Progress,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
