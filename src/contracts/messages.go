package contracts

// JobDiscovered is published when a job is registered for the first time.
// Published to: collector.jobs.discovered
// Key: {job_id}
type JobDiscovered struct {
	JobID       string `json:"job_id"`
	CollectorID string `json:"collector_id"`
	InstanceURL string `json:"instance_url"`
	JobName     string `json:"job_name"`
	JobURL      string `json:"job_url"`
	Timestamp   string `json:"timestamp"`
}

// BuildCollected is published after a new build has been stored.
// Published to: collector.builds.collected
// Key: {job_id}
type BuildCollected struct {
	BuildID     string      `json:"build_id"`
	JobID       string      `json:"job_id"`
	InstanceURL string      `json:"instance_url"`
	JobName     string      `json:"job_name"`
	Number      string      `json:"number"`
	BuildURL    string      `json:"build_url"`
	Status      BuildStatus `json:"status"`
	Changes     int         `json:"changes"`
	Timestamp   string      `json:"timestamp"`
}

// Topic names used by the collector.
const (
	// TopicJobsDiscovered carries JobDiscovered events.
	TopicJobsDiscovered = "collector.jobs.discovered"

	// TopicBuildsCollected carries BuildCollected events.
	TopicBuildsCollected = "collector.builds.collected"
)
