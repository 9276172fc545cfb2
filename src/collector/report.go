package collector

import "time"

// InstanceReport summarizes one instance's part of a cycle.
type InstanceReport struct {
	InstanceURL   string `json:"instance_url"`
	JobsSeen      int    `json:"jobs_seen"`
	NewJobs       int    `json:"new_jobs"`
	NewBuilds     int    `json:"new_builds"`
	SkippedBuilds int    `json:"skipped_builds"`
	// Error is set when the instance could not be listed. The rest of the
	// cycle still ran.
	Error string `json:"error,omitempty"`
}

// CycleReport summarizes one RunCycle call.
type CycleReport struct {
	CollectorID   string           `json:"collector_id"`
	CollectorName string           `json:"collector_name"`
	StartedAt     time.Time        `json:"started_at"`
	Duration      time.Duration    `json:"duration"`
	CleanedUp     bool             `json:"cleaned_up"`
	Instances     []InstanceReport `json:"instances"`
}

// Totals sums new jobs and builds over all instances.
func (r *CycleReport) Totals() (newJobs, newBuilds int) {
	for _, inst := range r.Instances {
		newJobs += inst.NewJobs
		newBuilds += inst.NewBuilds
	}
	return newJobs, newBuilds
}

// FailedInstances returns the instances that could not be listed.
func (r *CycleReport) FailedInstances() []string {
	var failed []string
	for _, inst := range r.Instances {
		if inst.Error != "" {
			failed = append(failed, inst.InstanceURL)
		}
	}
	return failed
}
