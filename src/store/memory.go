package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"build-collector/src/contracts"
)

type buildKey struct {
	jobID  string
	number string
}

// MemoryStore is an in-memory implementation of Store.
// Useful for testing and local runs without a database.
type MemoryStore struct {
	mu sync.RWMutex

	collectors map[string]contracts.Collector // name -> collector

	jobs    map[string]contracts.Job // id -> job
	jobKeys map[contracts.JobKey]string

	builds    map[string]contracts.Build // id -> build
	buildKeys map[buildKey]string
	jobBuilds map[string][]string // job id -> build ids in insertion order

	components     map[string]contracts.Component // id -> component
	componentNames map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collectors:     make(map[string]contracts.Collector),
		jobs:           make(map[string]contracts.Job),
		jobKeys:        make(map[contracts.JobKey]string),
		builds:         make(map[string]contracts.Build),
		buildKeys:      make(map[buildKey]string),
		jobBuilds:      make(map[string][]string),
		components:     make(map[string]contracts.Component),
		componentNames: make(map[string]string),
	}
}

// FindJob returns the job with the natural key.
func (s *MemoryStore) FindJob(ctx context.Context, collectorID, instanceURL, jobName string) (*contracts.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.jobKeys[contracts.JobKey{CollectorID: collectorID, InstanceURL: instanceURL, JobName: jobName}]
	if !ok {
		return nil, ErrNotFound
	}
	job := s.jobs[id]
	return &job, nil
}

// GetJob returns the job with id.
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*contracts.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

// EnabledJobs returns enabled jobs for a collector on an instance.
func (s *MemoryStore) EnabledJobs(ctx context.Context, collectorID, instanceURL string) ([]contracts.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contracts.Job
	for _, job := range s.jobs {
		if job.Enabled && job.CollectorID == collectorID && job.InstanceURL == instanceURL {
			out = append(out, job)
		}
	}
	sortJobs(out)
	return out, nil
}

// JobsForCollectors returns all jobs owned by the given collectors.
func (s *MemoryStore) JobsForCollectors(ctx context.Context, collectorIDs []string) ([]contracts.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(collectorIDs))
	for _, id := range collectorIDs {
		wanted[id] = true
	}

	var out []contracts.Job
	for _, job := range s.jobs {
		if wanted[job.CollectorID] {
			out = append(out, job)
		}
	}
	sortJobs(out)
	return out, nil
}

// SaveJob inserts or updates a job.
func (s *MemoryStore) SaveJob(ctx context.Context, job *contracts.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveJobLocked(job)
}

func (s *MemoryStore) saveJobLocked(job *contracts.Job) error {
	key := job.Key()
	if existing, ok := s.jobKeys[key]; ok && existing != job.ID {
		return fmt.Errorf("job %s/%s: %w", job.InstanceURL, job.JobName, ErrDuplicate)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if old, ok := s.jobs[job.ID]; ok && old.Key() != key {
		delete(s.jobKeys, old.Key())
	}

	s.jobs[job.ID] = *job
	s.jobKeys[key] = job.ID
	return nil
}

// SaveJobs saves all jobs or none.
func (s *MemoryStore) SaveJobs(ctx context.Context, jobs []contracts.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate first so a failing batch leaves the store untouched.
	seen := make(map[contracts.JobKey]string, len(jobs))
	for _, job := range jobs {
		key := job.Key()
		if existing, ok := s.jobKeys[key]; ok && existing != job.ID {
			return fmt.Errorf("job %s/%s: %w", job.InstanceURL, job.JobName, ErrDuplicate)
		}
		if other, ok := seen[key]; ok && (other != job.ID || job.ID == "") {
			return fmt.Errorf("job %s/%s: %w", job.InstanceURL, job.JobName, ErrDuplicate)
		}
		seen[key] = job.ID
	}

	for i := range jobs {
		if err := s.saveJobLocked(&jobs[i]); err != nil {
			return err
		}
	}
	return nil
}

// FindBuild returns the build of a job with the given number.
func (s *MemoryStore) FindBuild(ctx context.Context, jobID, number string) (*contracts.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.buildKeys[buildKey{jobID: jobID, number: number}]
	if !ok {
		return nil, ErrNotFound
	}
	build := copyBuild(s.builds[id])
	return &build, nil
}

// SaveBuild inserts a build.
func (s *MemoryStore) SaveBuild(ctx context.Context, build *contracts.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := buildKey{jobID: build.JobID, number: build.Number}
	if _, ok := s.buildKeys[key]; ok {
		return fmt.Errorf("build %s #%s: %w", build.JobID, build.Number, ErrDuplicate)
	}

	if build.ID == "" {
		build.ID = uuid.NewString()
	}
	s.builds[build.ID] = copyBuild(*build)
	s.buildKeys[key] = build.ID
	s.jobBuilds[build.JobID] = append(s.jobBuilds[build.JobID], build.ID)
	return nil
}

// BuildsForJob returns builds newest first.
func (s *MemoryStore) BuildsForJob(ctx context.Context, jobID string, limit int) ([]contracts.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.jobBuilds[jobID]
	out := make([]contracts.Build, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, copyBuild(s.builds[ids[i]]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountBuilds returns the number of stored builds for a job.
func (s *MemoryStore) CountBuilds(ctx context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.jobBuilds[jobID]), nil
}

// AllComponents returns every component.
func (s *MemoryStore) AllComponents(ctx context.Context) ([]contracts.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.Component, 0, len(s.components))
	for _, c := range s.components {
		out = append(out, copyComponent(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindComponentByName returns the component with name.
func (s *MemoryStore) FindComponentByName(ctx context.Context, name string) (*contracts.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.componentNames[name]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyComponent(s.components[id])
	return &c, nil
}

// SaveComponent inserts or replaces a component.
func (s *MemoryStore) SaveComponent(ctx context.Context, component *contracts.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.componentNames[component.Name]; ok && existing != component.ID {
		return fmt.Errorf("component %s: %w", component.Name, ErrDuplicate)
	}
	if component.ID == "" {
		component.ID = uuid.NewString()
	}
	if old, ok := s.components[component.ID]; ok && old.Name != component.Name {
		delete(s.componentNames, old.Name)
	}

	s.components[component.ID] = copyComponent(*component)
	s.componentNames[component.Name] = component.ID
	return nil
}

// FindCollector returns the collector with name.
func (s *MemoryStore) FindCollector(ctx context.Context, name string) (*contracts.Collector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collectors[name]
	if !ok {
		return nil, ErrNotFound
	}
	c.InstanceURLs = append([]string(nil), c.InstanceURLs...)
	return &c, nil
}

// SaveCollector inserts or updates a collector by name.
func (s *MemoryStore) SaveCollector(ctx context.Context, collector *contracts.Collector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collectors[collector.Name]; ok && collector.ID == "" {
		collector.ID = existing.ID
	}
	if collector.ID == "" {
		collector.ID = uuid.NewString()
	}

	c := *collector
	c.InstanceURLs = append([]string(nil), collector.InstanceURLs...)
	s.collectors[collector.Name] = c
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func sortJobs(jobs []contracts.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].InstanceURL != jobs[j].InstanceURL {
			return jobs[i].InstanceURL < jobs[j].InstanceURL
		}
		return jobs[i].JobName < jobs[j].JobName
	})
}

func copyBuild(b contracts.Build) contracts.Build {
	if b.SourceChanges != nil {
		b.SourceChanges = append([]contracts.SourceChange(nil), b.SourceChanges...)
	}
	return b
}

func copyComponent(c contracts.Component) contracts.Component {
	items := make(map[contracts.LinkType][]contracts.CollectorItemRef, len(c.CollectorItems))
	for lt, refs := range c.CollectorItems {
		items[lt] = append([]contracts.CollectorItemRef(nil), refs...)
	}
	c.CollectorItems = items
	return c
}
