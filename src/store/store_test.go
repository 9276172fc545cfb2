package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"build-collector/src/contracts"
)

// testStores runs fn against every Store implementation.
func testStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()
		fn(t, s)
	})

	t.Run("sqlite3", func(t *testing.T) {
		ctx := context.Background()
		s, err := NewSQLStore(ctx, "sqlite3", filepath.Join(t.TempDir(), "collector.db"), Options{})
		if err != nil {
			t.Fatalf("NewSQLStore failed: %v", err)
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate failed: %v", err)
		}
		fn(t, s)
	})
}

func newJob(collectorID, instance, name string) *contracts.Job {
	return &contracts.Job{
		CollectorID: collectorID,
		InstanceURL: instance,
		JobName:     name,
		JobURL:      instance + "browse/" + name,
		Description: name,
	}
}

func TestStore_SaveAndFindJob(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.FindJob(ctx, "c1", "https://a/", "PROJ-API"); !IsNotFound(err) {
			t.Fatalf("FindJob on empty store: expected ErrNotFound, got %v", err)
		}

		job := newJob("c1", "https://a/", "PROJ-API")
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
		if job.ID == "" {
			t.Fatal("SaveJob did not assign an ID")
		}

		found, err := s.FindJob(ctx, "c1", "https://a/", "PROJ-API")
		if err != nil {
			t.Fatalf("FindJob failed: %v", err)
		}
		if *found != *job {
			t.Errorf("FindJob = %+v, want %+v", *found, *job)
		}

		byID, err := s.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if byID.JobName != "PROJ-API" {
			t.Errorf("GetJob name = %s", byID.JobName)
		}

		// Same name on another instance or collector is a different job.
		for _, other := range []*contracts.Job{
			newJob("c1", "https://b/", "PROJ-API"),
			newJob("c2", "https://a/", "PROJ-API"),
		} {
			if err := s.SaveJob(ctx, other); err != nil {
				t.Errorf("SaveJob(%+v) failed: %v", other.Key(), err)
			}
		}
	})
}

func TestStore_JobUniqueness(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if err := s.SaveJob(ctx, newJob("c1", "https://a/", "PROJ-API")); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}

		dup := newJob("c1", "https://a/", "PROJ-API")
		err := s.SaveJob(ctx, dup)
		if !errors.Is(err, ErrDuplicate) || !IsDuplicate(err) {
			t.Fatalf("second SaveJob: expected ErrDuplicate, got %v", err)
		}
		if dup.ID != "" {
			t.Errorf("rejected job was assigned ID %s", dup.ID)
		}

		jobs, err := s.JobsForCollectors(ctx, []string{"c1"})
		if err != nil {
			t.Fatalf("JobsForCollectors failed: %v", err)
		}
		if len(jobs) != 1 {
			t.Errorf("expected 1 job, got %d", len(jobs))
		}
	})
}

func TestStore_EnabledJobs(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		enabled := newJob("c1", "https://a/", "B-ENABLED")
		enabled.Enabled = true
		disabled := newJob("c1", "https://a/", "A-DISABLED")
		otherInstance := newJob("c1", "https://b/", "C-ENABLED")
		otherInstance.Enabled = true

		for _, j := range []*contracts.Job{enabled, disabled, otherInstance} {
			if err := s.SaveJob(ctx, j); err != nil {
				t.Fatalf("SaveJob failed: %v", err)
			}
		}

		jobs, err := s.EnabledJobs(ctx, "c1", "https://a/")
		if err != nil {
			t.Fatalf("EnabledJobs failed: %v", err)
		}
		if len(jobs) != 1 || jobs[0].ID != enabled.ID {
			t.Errorf("EnabledJobs = %+v, want only %s", jobs, enabled.JobName)
		}

		all, err := s.JobsForCollectors(ctx, []string{"c1", "c9"})
		if err != nil {
			t.Fatalf("JobsForCollectors failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("JobsForCollectors = %d jobs, want 3", len(all))
		}
		if all[0].JobName != "A-DISABLED" {
			t.Errorf("expected jobs ordered by instance then name, got %s first", all[0].JobName)
		}

		none, err := s.JobsForCollectors(ctx, nil)
		if err != nil || len(none) != 0 {
			t.Errorf("JobsForCollectors(nil) = %v, %v", none, err)
		}
	})
}

func TestStore_SaveJobsBatch(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a := newJob("c1", "https://a/", "A")
		b := newJob("c1", "https://a/", "B")
		for _, j := range []*contracts.Job{a, b} {
			if err := s.SaveJob(ctx, j); err != nil {
				t.Fatalf("SaveJob failed: %v", err)
			}
		}

		jobs, _ := s.JobsForCollectors(ctx, []string{"c1"})
		for i := range jobs {
			jobs[i].Enabled = jobs[i].JobName == "B"
		}
		if err := s.SaveJobs(ctx, jobs); err != nil {
			t.Fatalf("SaveJobs failed: %v", err)
		}

		gotA, _ := s.GetJob(ctx, a.ID)
		gotB, _ := s.GetJob(ctx, b.ID)
		if gotA.Enabled || !gotB.Enabled {
			t.Errorf("after SaveJobs: A.Enabled=%v B.Enabled=%v, want false/true", gotA.Enabled, gotB.Enabled)
		}

		// A batch containing a key clash leaves everything untouched.
		jobs, _ = s.JobsForCollectors(ctx, []string{"c1"})
		for i := range jobs {
			jobs[i].Enabled = true
		}
		clash := *newJob("c1", "https://a/", "A")
		if err := s.SaveJobs(ctx, append(jobs, clash)); !IsDuplicate(err) {
			t.Fatalf("SaveJobs with clash: expected duplicate error, got %v", err)
		}
		gotA, _ = s.GetJob(ctx, a.ID)
		if gotA.Enabled {
			t.Error("failed batch should not have been applied")
		}
	})
}

func TestStore_Builds(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.FindBuild(ctx, "job-1", "1"); !IsNotFound(err) {
			t.Fatalf("FindBuild on empty store: expected ErrNotFound, got %v", err)
		}

		build := &contracts.Build{
			JobID:     "job-1",
			Number:    "12",
			BuildURL:  "https://a/rest/api/latest/result/A-12",
			Status:    contracts.StatusFailure,
			Timestamp: 1700000000000,
			Duration:  4200,
			SourceChanges: []contracts.SourceChange{
				{Author: "alice", Message: "fix", CommitTimestamp: 1699999999000, Revision: "4711", RepositoryURL: "https://git/repo", NumberOfChanges: 2},
			},
		}
		if err := s.SaveBuild(ctx, build); err != nil {
			t.Fatalf("SaveBuild failed: %v", err)
		}
		if build.ID == "" {
			t.Fatal("SaveBuild did not assign an ID")
		}

		found, err := s.FindBuild(ctx, "job-1", "12")
		if err != nil {
			t.Fatalf("FindBuild failed: %v", err)
		}
		if found.Status != contracts.StatusFailure || found.Duration != 4200 {
			t.Errorf("FindBuild = %+v", found)
		}
		if len(found.SourceChanges) != 1 || found.SourceChanges[0] != build.SourceChanges[0] {
			t.Errorf("SourceChanges = %+v", found.SourceChanges)
		}

		// Build numbers compare as strings.
		if _, err := s.FindBuild(ctx, "job-1", "012"); !IsNotFound(err) {
			t.Errorf("FindBuild(012): expected ErrNotFound, got %v", err)
		}

		dup := &contracts.Build{JobID: "job-1", Number: "12", Status: contracts.StatusSuccess}
		if err := s.SaveBuild(ctx, dup); !IsDuplicate(err) {
			t.Fatalf("duplicate SaveBuild: expected ErrDuplicate, got %v", err)
		}
		found, _ = s.FindBuild(ctx, "job-1", "12")
		if found.Status != contracts.StatusFailure {
			t.Error("stored build must not be overwritten")
		}

		// Same number for a different job is fine.
		if err := s.SaveBuild(ctx, &contracts.Build{JobID: "job-2", Number: "12", Status: contracts.StatusSuccess}); err != nil {
			t.Errorf("SaveBuild for other job failed: %v", err)
		}
	})
}

func TestStore_BuildsForJob(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for i, ts := range []int64{100, 300, 200} {
			b := &contracts.Build{JobID: "job-1", Number: fmt.Sprint(i + 1), Status: contracts.StatusSuccess, Timestamp: ts}
			if err := s.SaveBuild(ctx, b); err != nil {
				t.Fatalf("SaveBuild failed: %v", err)
			}
		}

		builds, err := s.BuildsForJob(ctx, "job-1", 2)
		if err != nil {
			t.Fatalf("BuildsForJob failed: %v", err)
		}
		if len(builds) != 2 || builds[0].Number != "2" || builds[1].Number != "3" {
			t.Errorf("BuildsForJob = %+v, want numbers 2, 3", builds)
		}

		n, err := s.CountBuilds(ctx, "job-1")
		if err != nil || n != 3 {
			t.Errorf("CountBuilds = %d, %v, want 3", n, err)
		}

		empty, err := s.BuildsForJob(ctx, "missing", 0)
		if err != nil || len(empty) != 0 {
			t.Errorf("BuildsForJob(missing) = %v, %v", empty, err)
		}
	})
}

func TestStore_Components(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		comp := &contracts.Component{
			Name:  "checkout",
			Owner: "payments",
			CollectorItems: map[contracts.LinkType][]contracts.CollectorItemRef{
				contracts.LinkTypeBuild: {{ID: "job-1", CollectorID: "c1"}},
			},
		}
		if err := s.SaveComponent(ctx, comp); err != nil {
			t.Fatalf("SaveComponent failed: %v", err)
		}

		comp.CollectorItems[contracts.LinkTypeBuild] = append(comp.CollectorItems[contracts.LinkTypeBuild],
			contracts.CollectorItemRef{ID: "job-2", CollectorID: "c1"})
		if err := s.SaveComponent(ctx, comp); err != nil {
			t.Fatalf("SaveComponent update failed: %v", err)
		}

		found, err := s.FindComponentByName(ctx, "checkout")
		if err != nil {
			t.Fatalf("FindComponentByName failed: %v", err)
		}
		if found.ID != comp.ID || len(found.CollectorItems[contracts.LinkTypeBuild]) != 2 {
			t.Errorf("FindComponentByName = %+v", found)
		}

		if err := s.SaveComponent(ctx, &contracts.Component{Name: "checkout"}); !IsDuplicate(err) {
			t.Errorf("second component with same name: expected duplicate, got %v", err)
		}
		if err := s.SaveComponent(ctx, &contracts.Component{Name: "search"}); err != nil {
			t.Fatalf("SaveComponent failed: %v", err)
		}

		all, err := s.AllComponents(ctx)
		if err != nil {
			t.Fatalf("AllComponents failed: %v", err)
		}
		if len(all) != 2 || all[0].Name != "checkout" {
			t.Fatalf("AllComponents = %+v", all)
		}
		if len(all[1].CollectorItems[contracts.LinkTypeBuild]) != 0 {
			t.Errorf("search should have no build items, got %v", all[1].CollectorItems)
		}

		if _, err := s.FindComponentByName(ctx, "missing"); !IsNotFound(err) {
			t.Errorf("FindComponentByName(missing): expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_Collectors(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.FindCollector(ctx, "Bamboo"); !IsNotFound(err) {
			t.Fatalf("FindCollector on empty store: expected ErrNotFound, got %v", err)
		}

		c := contracts.Prototype("Bamboo", []string{"https://a/", "https://b/"})
		if err := s.SaveCollector(ctx, c); err != nil {
			t.Fatalf("SaveCollector failed: %v", err)
		}
		firstID := c.ID

		executed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		update := &contracts.Collector{Name: "Bamboo", InstanceURLs: []string{"https://a/"}, LastExecuted: executed, Enabled: true}
		if err := s.SaveCollector(ctx, update); err != nil {
			t.Fatalf("SaveCollector update failed: %v", err)
		}
		if update.ID != firstID {
			t.Errorf("SaveCollector by name should keep ID %s, got %s", firstID, update.ID)
		}

		found, err := s.FindCollector(ctx, "Bamboo")
		if err != nil {
			t.Fatalf("FindCollector failed: %v", err)
		}
		if !found.LastExecuted.Equal(executed) {
			t.Errorf("LastExecuted = %v, want %v", found.LastExecuted, executed)
		}
		if len(found.InstanceURLs) != 1 || found.Online {
			t.Errorf("FindCollector = %+v", found)
		}
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	build := &contracts.Build{JobID: "j", Number: "1", SourceChanges: []contracts.SourceChange{{Author: "a"}}}
	if err := s.SaveBuild(ctx, build); err != nil {
		t.Fatalf("SaveBuild failed: %v", err)
	}
	build.SourceChanges[0].Author = "mutated"

	found, _ := s.FindBuild(ctx, "j", "1")
	if found.SourceChanges[0].Author != "a" {
		t.Error("store should hold its own copy of source changes")
	}
}

func TestMemoryStore_ConcurrentSaves(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.SaveBuild(ctx, &contracts.Build{JobID: "j", Number: "1"})
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case IsDuplicate(err):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 19 {
		t.Errorf("ok=%d dup=%d, want 1/19", ok, dup)
	}
}

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrDuplicate, true},
		{fmt.Errorf("save: %w", ErrDuplicate), true},
		{errors.New("UNIQUE constraint failed: jobs.collector_id"), true},
		{errors.New(`pq: duplicate key value violates unique constraint "jobs_pkey"`), true},
		{errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		if got := IsDuplicate(tt.err); got != tt.want {
			t.Errorf("IsDuplicate(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{driver: "postgres"}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &SQLStore{driver: "sqlite3"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestNewSQLStore_UnsupportedDriver(t *testing.T) {
	if _, err := NewSQLStore(context.Background(), "mysql", "x", Options{}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), "memory", "", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T, want *MemoryStore", s)
	}
}
