package provider

import "build-collector/src/contracts"

// DiscoveredJob is one job found on an instance and the builds it lists.
// Job.CollectorID is left empty; the sync engine stamps it.
type DiscoveredJob struct {
	Job    contracts.Job
	Builds []contracts.BuildSummary
}
