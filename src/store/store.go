// Package store defines the interfaces for persistent data storage.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"build-collector/src/contracts"
)

// Standard errors
var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

// JobStore persists jobs keyed by (collector, instance, job name).
type JobStore interface {
	// FindJob returns ErrNotFound when no job has the natural key.
	FindJob(ctx context.Context, collectorID, instanceURL, jobName string) (*contracts.Job, error)

	// GetJob looks a job up by ID.
	GetJob(ctx context.Context, id string) (*contracts.Job, error)

	// EnabledJobs returns the enabled jobs of one collector on one instance.
	EnabledJobs(ctx context.Context, collectorID, instanceURL string) ([]contracts.Job, error)

	// JobsForCollectors returns every job owned by any of the collectors.
	JobsForCollectors(ctx context.Context, collectorIDs []string) ([]contracts.Job, error)

	// SaveJob inserts a job without an ID (assigning one) or updates an
	// existing one. Inserting a second job with the same natural key
	// returns ErrDuplicate.
	SaveJob(ctx context.Context, job *contracts.Job) error

	// SaveJobs saves a batch of jobs atomically where the backend allows it.
	SaveJobs(ctx context.Context, jobs []contracts.Job) error
}

// BuildStore persists builds keyed by (job, number). Builds are insert-only.
type BuildStore interface {
	// FindBuild returns ErrNotFound when the job has no build with number.
	FindBuild(ctx context.Context, jobID, number string) (*contracts.Build, error)

	// SaveBuild inserts a build, returning ErrDuplicate if (job, number)
	// is already stored.
	SaveBuild(ctx context.Context, build *contracts.Build) error

	// BuildsForJob returns a job's builds, newest first. limit <= 0 means all.
	BuildsForJob(ctx context.Context, jobID string, limit int) ([]contracts.Build, error)

	// CountBuilds returns how many builds are stored for a job.
	CountBuilds(ctx context.Context, jobID string) (int, error)
}

// ComponentStore exposes the dashboard components that consume jobs.
type ComponentStore interface {
	AllComponents(ctx context.Context) ([]contracts.Component, error)
	FindComponentByName(ctx context.Context, name string) (*contracts.Component, error)
	SaveComponent(ctx context.Context, component *contracts.Component) error
}

// CollectorStore persists collector records by name.
type CollectorStore interface {
	FindCollector(ctx context.Context, name string) (*contracts.Collector, error)
	SaveCollector(ctx context.Context, collector *contracts.Collector) error
}

// Store combines every repository the collector uses.
type Store interface {
	JobStore
	BuildStore
	ComponentStore
	CollectorStore

	// Close closes the store connection
	Close() error
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsDuplicate checks if error is a duplicate key error
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) {
		return true
	}

	// Check database-specific error messages
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "duplicate key") ||
		strings.Contains(errMsg, "Duplicate entry")
}

// Open returns the store for a configured driver: "memory", "sqlite3" or
// "postgres".
func Open(ctx context.Context, driver, dsn string, opts Options) (Store, error) {
	if driver == "memory" {
		return NewMemoryStore(), nil
	}
	return NewSQLStore(ctx, driver, dsn, opts)
}
