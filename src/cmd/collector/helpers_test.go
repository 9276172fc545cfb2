package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"build-collector/src/broker"
	"build-collector/src/collector"
	"build-collector/src/contracts"
	"build-collector/src/store"
)

type seeded struct {
	store *store.MemoryStore
	col   *contracts.Collector
	api   *contracts.Job
	web   *contracts.Job
}

func seed(t *testing.T) *seeded {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	col := contracts.Prototype("Bamboo", []string{"https://bamboo.example.com/"})
	if err := st.SaveCollector(ctx, col); err != nil {
		t.Fatalf("SaveCollector failed: %v", err)
	}
	s := &seeded{store: st, col: col}

	for _, j := range []struct {
		dst     **contracts.Job
		name    string
		enabled bool
	}{
		{&s.api, "PROJ-API", true},
		{&s.web, "PROJ-WEB", false},
	} {
		job := &contracts.Job{CollectorID: col.ID, InstanceURL: col.InstanceURLs[0], JobName: j.name, Enabled: j.enabled}
		if err := st.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
		*j.dst = job
	}

	for i, status := range []contracts.BuildStatus{contracts.StatusSuccess, contracts.StatusFailure} {
		b := &contracts.Build{JobID: s.api.ID, Number: strconv.Itoa(i + 1), Status: status, Timestamp: int64(i + 1)}
		if err := st.SaveBuild(ctx, b); err != nil {
			t.Fatalf("SaveBuild failed: %v", err)
		}
	}
	return s
}

func TestJobRows(t *testing.T) {
	s := seed(t)

	tests := []struct {
		name        string
		onlyEnabled bool
		want        int
	}{
		{name: "all", want: 2},
		{name: "enabled", onlyEnabled: true, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := jobRows(context.Background(), s.store, "Bamboo", tt.onlyEnabled)
			if err != nil {
				t.Fatalf("jobRows failed: %v", err)
			}
			if len(rows) != tt.want {
				t.Fatalf("got %d rows, want %d", len(rows), tt.want)
			}
			for _, r := range rows {
				if r.Job.ID != s.api.ID {
					continue
				}
				if r.Builds != 2 {
					t.Errorf("builds = %d, want 2", r.Builds)
				}
				if r.LastStatus != contracts.StatusFailure {
					t.Errorf("last status = %q, want newest build's status", r.LastStatus)
				}
			}
		})
	}
}

func TestJobRows_UnknownCollector(t *testing.T) {
	rows, err := jobRows(context.Background(), store.NewMemoryStore(), "Missing", false)
	if err != nil || len(rows) != 0 {
		t.Errorf("jobRows = %v, %v; want no rows and no error", rows, err)
	}
}

func TestAttachAndDetach(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	changed, err := attachJob(ctx, s.store, s.web.ID, "checkout")
	if err != nil || !changed {
		t.Fatalf("attachJob = %v, %v; want change", changed, err)
	}
	if changed, _ := attachJob(ctx, s.store, s.web.ID, "checkout"); changed {
		t.Error("attaching twice should be a no-op")
	}

	component, err := s.store.FindComponentByName(ctx, "checkout")
	if err != nil {
		t.Fatalf("FindComponentByName failed: %v", err)
	}
	refs := component.CollectorItems[contracts.LinkTypeBuild]
	if len(refs) != 1 || refs[0].ID != s.web.ID || refs[0].CollectorID != s.col.ID {
		t.Errorf("refs = %+v", refs)
	}

	changed, err = detachJob(ctx, s.store, s.web.ID, "checkout")
	if err != nil || !changed {
		t.Fatalf("detachJob = %v, %v; want change", changed, err)
	}
	if changed, _ := detachJob(ctx, s.store, s.web.ID, "checkout"); changed {
		t.Error("detaching twice should be a no-op")
	}
}

func TestAttachJob_UnknownJob(t *testing.T) {
	s := seed(t)
	if _, err := attachJob(context.Background(), s.store, "missing", "checkout"); !store.IsNotFound(err) {
		t.Errorf("attachJob error = %v, want not found", err)
	}
}

// TestAttach_EnablesAtCleanup checks the full consumer flow: attaching a job
// enables it at the next cleanup and detaching disables it again.
func TestAttach_EnablesAtCleanup(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	engine := collector.NewEngine(collector.Deps{
		Jobs:       s.store,
		Builds:     s.store,
		Components: s.store,
	}, collector.Options{Now: time.Now})

	if _, err := attachJob(ctx, s.store, s.web.ID, "checkout"); err != nil {
		t.Fatalf("attachJob failed: %v", err)
	}
	if err := engine.Cleanup(ctx, s.col); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	web, _ := s.store.GetJob(ctx, s.web.ID)
	api, _ := s.store.GetJob(ctx, s.api.ID)
	if !web.Enabled {
		t.Error("attached job should be enabled")
	}
	if api.Enabled {
		t.Error("job without a component should be disabled")
	}

	if _, err := detachJob(ctx, s.store, s.web.ID, "checkout"); err != nil {
		t.Fatalf("detachJob failed: %v", err)
	}
	if err := engine.Cleanup(ctx, s.col); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if web, _ := s.store.GetJob(ctx, s.web.ID); web.Enabled {
		t.Error("detached job should be disabled")
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		msg  broker.Message
		want string
	}{
		{
			name: "job",
			msg: broker.Message{
				Topic: contracts.TopicJobsDiscovered,
				Value: []byte(`{"job_id":"j1","job_name":"PROJ-API","instance_url":"https://bamboo.example.com/","timestamp":"2024-05-01T12:00:00Z"}`),
			},
			want: "2024-05-01T12:00:00Z job   PROJ-API on https://bamboo.example.com/ (id j1)",
		},
		{
			name: "build",
			msg: broker.Message{
				Topic: contracts.TopicBuildsCollected,
				Value: []byte(`{"job_name":"PROJ-API","number":"42","status":"Failure","changes":3,"timestamp":"2024-05-01T12:00:00Z"}`),
			},
			want: "2024-05-01T12:00:00Z build PROJ-API #42 Failure, 3 change(s)",
		},
		{
			name: "malformed",
			msg:  broker.Message{Topic: contracts.TopicBuildsCollected, Value: []byte("not json")},
			want: "collector.builds.collected not json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatEvent(tt.msg); got != tt.want {
				t.Errorf("formatEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTailEvents(t *testing.T) {
	b := broker.NewInMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- tailEvents(ctx, b, "test", &out) }()

	// Wait until both subscriptions exist so the events are not missed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("subscriptions were not set up")
		}
		if b.Subscribers(contracts.TopicJobsDiscovered) > 0 && b.Subscribers(contracts.TopicBuildsCollected) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := broker.PublishJSON(ctx, b, contracts.TopicJobsDiscovered, "j1", contracts.JobDiscovered{JobID: "j1", JobName: "PROJ-API"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := broker.PublishJSON(ctx, b, contracts.TopicBuildsCollected, "j1", contracts.BuildCollected{JobName: "PROJ-API", Number: "7"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Closing the broker closes both channels and ends the tail.
	b.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("tailEvents returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tailEvents did not return after the broker closed")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out.String())
	}
	if !strings.Contains(out.String(), "job   PROJ-API") || !strings.Contains(out.String(), "build PROJ-API #7") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}
