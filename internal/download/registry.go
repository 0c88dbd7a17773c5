package download

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds every job which has been admitted and not yet released.
// It lives only as long as the process does. All access is serialised by
// the registry mutex, and callers only ever receive snapshots.
type Registry struct {
	sync.RWMutex
	jobs map[uuid.UUID]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]*Job)}
}

// Create stores a new queued job for the request. An error is returned if
// a job with this ID already exists.
func (registry *Registry) Create(id uuid.UUID, request Request) (Job, error) {
	registry.Lock()
	defer registry.Unlock()

	if _, ok := registry.jobs[id]; ok {
		return Job{}, fmt.Errorf("job %s already exists", id)
	}

	now := time.Now()
	job := &Job{
		ID:        id,
		Status:    QUEUED,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
	}
	registry.jobs[id] = job

	return job.clone(), nil
}

func (registry *Registry) Get(id uuid.UUID) (Job, error) {
	registry.RLock()
	defer registry.RUnlock()

	if job, ok := registry.jobs[id]; ok {
		return job.clone(), nil
	}

	return Job{}, ErrJobNotFound
}

func (registry *Registry) Has(id uuid.UUID) bool {
	registry.RLock()
	defer registry.RUnlock()

	_, ok := registry.jobs[id]
	return ok
}

// Mutate applies fn to the job while the registry lock is held, returning
// a snapshot of the job after fn has run. The job pointer must not escape fn.
func (registry *Registry) Mutate(id uuid.UUID, fn func(*Job) error) (Job, error) {
	registry.Lock()
	defer registry.Unlock()

	job, ok := registry.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}

	if err := fn(job); err != nil {
		return job.clone(), err
	}

	return job.clone(), nil
}

// Remove deletes the job, returning false if it was not present.
func (registry *Registry) Remove(id uuid.UUID) bool {
	registry.Lock()
	defer registry.Unlock()

	if _, ok := registry.jobs[id]; !ok {
		return false
	}

	delete(registry.jobs, id)
	return true
}

// All returns a snapshot of every job, oldest first.
func (registry *Registry) All() []Job {
	registry.RLock()
	defer registry.RUnlock()

	out := make([]Job, 0, len(registry.jobs))
	for _, job := range registry.jobs {
		out = append(out, job.clone())
	}

	sortJobs(out)
	return out
}

func (registry *Registry) CountByStatus() map[JobStatus]int {
	registry.RLock()
	defer registry.RUnlock()

	counts := map[JobStatus]int{QUEUED: 0, PROCESSING: 0, COMPLETED: 0, ERRORED: 0}
	for _, job := range registry.jobs {
		counts[job.Status]++
	}

	return counts
}
