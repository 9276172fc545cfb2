// Package contracts defines the records synchronized by the collector and the
// events it publishes.
package contracts

import "time"

// BuildStatus is the normalized outcome of a build.
type BuildStatus string

const (
	StatusSuccess  BuildStatus = "Success"
	StatusUnstable BuildStatus = "Unstable"
	StatusFailure  BuildStatus = "Failure"
	StatusAborted  BuildStatus = "Aborted"
	StatusUnknown  BuildStatus = "Unknown"
)

// LinkType groups the collector items a dashboard component consumes.
type LinkType string

// LinkTypeBuild is the link type under which components reference jobs.
const LinkTypeBuild LinkType = "Build"

// Collector is one configured deployment polling a set of CI instances.
type Collector struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	InstanceURLs []string  `json:"instance_urls"`
	LastExecuted time.Time `json:"last_executed"`
	Enabled      bool      `json:"enabled"`
	Online       bool      `json:"online"`
}

// Prototype returns the collector record derived from configuration, used the
// first time a collector with this name runs.
func Prototype(name string, instanceURLs []string) *Collector {
	urls := make([]string, len(instanceURLs))
	copy(urls, instanceURLs)
	return &Collector{
		Name:         name,
		InstanceURLs: urls,
		Enabled:      true,
		Online:       true,
	}
}

// JobKey is the natural key of a job.
type JobKey struct {
	CollectorID string
	InstanceURL string
	JobName     string
}

// Job is a named build plan on one CI instance.
type Job struct {
	ID          string `json:"id"`
	CollectorID string `json:"collector_id"`
	InstanceURL string `json:"instance_url"`
	JobName     string `json:"job_name"`
	JobURL      string `json:"job_url"`
	Description string `json:"description"`
	// Enabled is set when a dashboard component consumes this job. Discovery
	// never sets it.
	Enabled bool `json:"enabled"`
}

// Key returns the job's natural key.
func (j Job) Key() JobKey {
	return JobKey{CollectorID: j.CollectorID, InstanceURL: j.InstanceURL, JobName: j.JobName}
}

// BuildSummary is the lightweight form of a build returned by job discovery.
type BuildSummary struct {
	Number   string `json:"number"`
	BuildURL string `json:"build_url"`
}

// Build is one execution of a job. Builds are never updated once stored.
type Build struct {
	ID            string         `json:"id"`
	JobID         string         `json:"job_id"`
	Number        string         `json:"number"`
	BuildURL      string         `json:"build_url"`
	Status        BuildStatus    `json:"status"`
	Timestamp     int64          `json:"timestamp"` // epoch millis
	Duration      int64          `json:"duration"`  // millis
	SourceChanges []SourceChange `json:"source_changes"`
}

// SourceChange is one commit in a build's change set.
type SourceChange struct {
	Author          string `json:"author"`
	Message         string `json:"message"`
	CommitTimestamp int64  `json:"commit_timestamp"` // epoch millis
	Revision        string `json:"revision"`
	RepositoryURL   string `json:"repository_url,omitempty"`
	NumberOfChanges int    `json:"number_of_changes"`
}

// CollectorItemRef points a component at a record owned by some collector.
type CollectorItemRef struct {
	ID          string `json:"id"`
	CollectorID string `json:"collector_id"`
}

// Component is a dashboard-facing entity owned by another subsystem. The
// collector only reads it to decide which jobs are still consumed.
type Component struct {
	ID             string                          `json:"id"`
	Name           string                          `json:"name"`
	Owner          string                          `json:"owner"`
	CollectorItems map[LinkType][]CollectorItemRef `json:"collector_items"`
}
