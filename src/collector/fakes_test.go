package collector

import (
	"context"
	"sync"

	"build-collector/src/contracts"
	"build-collector/src/provider"
	"build-collector/src/store"
)

// fakeGateway serves canned listings and build details, counting calls.
type fakeGateway struct {
	mu sync.Mutex

	jobs     map[string][]provider.DiscoveredJob // instance -> listing
	listErr  map[string]error
	builds   map[string]*contracts.Build // build URL -> detail
	fetchErr map[string]error

	listCalls  int
	fetchCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		jobs:     make(map[string][]provider.DiscoveredJob),
		listErr:  make(map[string]error),
		builds:   make(map[string]*contracts.Build),
		fetchErr: make(map[string]error),
	}
}

func (g *fakeGateway) addJob(instance, name string, builds ...contracts.BuildSummary) {
	g.jobs[instance] = append(g.jobs[instance], provider.DiscoveredJob{
		Job: contracts.Job{
			InstanceURL: instance,
			JobName:     name,
			JobURL:      instance + "browse/" + name,
		},
		Builds: builds,
	})
}

func (g *fakeGateway) ListJobs(ctx context.Context, instanceURL string) ([]provider.DiscoveredJob, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++

	if err := g.listErr[instanceURL]; err != nil {
		return nil, err
	}
	// Return copies so the engine cannot mutate the fixture.
	out := make([]provider.DiscoveredJob, len(g.jobs[instanceURL]))
	copy(out, g.jobs[instanceURL])
	return out, nil
}

func (g *fakeGateway) FetchBuild(ctx context.Context, buildURL string) (*contracts.Build, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++

	if err := g.fetchErr[buildURL]; err != nil {
		return nil, err
	}
	b, ok := g.builds[buildURL]
	if !ok || b == nil {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

// countingStore wraps MemoryStore, counting writes and optionally failing.
type countingStore struct {
	*store.MemoryStore

	mu             sync.Mutex
	saveJobCalls   int
	saveJobsCalls  int
	saveBuildCalls int
	componentScans int

	findJobErr   error
	saveBuildErr error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveJobCalls, s.saveJobsCalls, s.saveBuildCalls, s.componentScans = 0, 0, 0, 0
}

func (s *countingStore) FindJob(ctx context.Context, collectorID, instanceURL, jobName string) (*contracts.Job, error) {
	if s.findJobErr != nil {
		return nil, s.findJobErr
	}
	return s.MemoryStore.FindJob(ctx, collectorID, instanceURL, jobName)
}

func (s *countingStore) SaveJob(ctx context.Context, job *contracts.Job) error {
	s.mu.Lock()
	s.saveJobCalls++
	s.mu.Unlock()
	return s.MemoryStore.SaveJob(ctx, job)
}

func (s *countingStore) SaveJobs(ctx context.Context, jobs []contracts.Job) error {
	s.mu.Lock()
	s.saveJobsCalls++
	s.mu.Unlock()
	return s.MemoryStore.SaveJobs(ctx, jobs)
}

func (s *countingStore) SaveBuild(ctx context.Context, build *contracts.Build) error {
	s.mu.Lock()
	s.saveBuildCalls++
	s.mu.Unlock()
	if s.saveBuildErr != nil {
		return s.saveBuildErr
	}
	return s.MemoryStore.SaveBuild(ctx, build)
}

func (s *countingStore) AllComponents(ctx context.Context) ([]contracts.Component, error) {
	s.mu.Lock()
	s.componentScans++
	s.mu.Unlock()
	return s.MemoryStore.AllComponents(ctx)
}
