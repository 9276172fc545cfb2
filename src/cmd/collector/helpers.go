package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"build-collector/src/broker"
	"build-collector/src/contracts"
	"build-collector/src/store"
	"build-collector/src/tui"
)

// jobRows loads the named collector's jobs with their build counts and the
// status of their newest build.
func jobRows(ctx context.Context, st store.Store, collectorName string, onlyEnabled bool) ([]tui.JobRow, error) {
	col, err := st.FindCollector(ctx, collectorName)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collector %s: %w", collectorName, err)
	}

	jobs, err := st.JobsForCollectors(ctx, []string{col.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	rows := make([]tui.JobRow, 0, len(jobs))
	for _, job := range jobs {
		if onlyEnabled && !job.Enabled {
			continue
		}
		count, err := st.CountBuilds(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count builds of %s: %w", job.JobName, err)
		}
		row := tui.JobRow{Job: job, Builds: count}
		if count > 0 {
			latest, err := st.BuildsForJob(ctx, job.ID, 1)
			if err != nil {
				return nil, fmt.Errorf("failed to load builds of %s: %w", job.JobName, err)
			}
			if len(latest) > 0 {
				row.LastStatus = latest[0].Status
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// attachJob adds the job to the component's Build items, creating the
// component when it does not exist. It reports whether anything changed.
func attachJob(ctx context.Context, st store.Store, jobID, componentName string) (bool, error) {
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("job %s: %w", jobID, err)
	}

	component, err := st.FindComponentByName(ctx, componentName)
	if store.IsNotFound(err) {
		component = &contracts.Component{Name: componentName}
	} else if err != nil {
		return false, fmt.Errorf("component %s: %w", componentName, err)
	}
	if component.CollectorItems == nil {
		component.CollectorItems = make(map[contracts.LinkType][]contracts.CollectorItemRef)
	}

	for _, ref := range component.CollectorItems[contracts.LinkTypeBuild] {
		if ref.ID == job.ID && ref.CollectorID == job.CollectorID {
			return false, nil
		}
	}
	component.CollectorItems[contracts.LinkTypeBuild] = append(component.CollectorItems[contracts.LinkTypeBuild],
		contracts.CollectorItemRef{ID: job.ID, CollectorID: job.CollectorID})

	if err := st.SaveComponent(ctx, component); err != nil {
		return false, fmt.Errorf("failed to save component %s: %w", componentName, err)
	}
	return true, nil
}

// detachJob removes the job from the component's Build items.
func detachJob(ctx context.Context, st store.Store, jobID, componentName string) (bool, error) {
	component, err := st.FindComponentByName(ctx, componentName)
	if err != nil {
		return false, fmt.Errorf("component %s: %w", componentName, err)
	}

	refs := component.CollectorItems[contracts.LinkTypeBuild]
	kept := refs[:0:0]
	for _, ref := range refs {
		if ref.ID != jobID {
			kept = append(kept, ref)
		}
	}
	if len(kept) == len(refs) {
		return false, nil
	}
	component.CollectorItems[contracts.LinkTypeBuild] = kept

	if err := st.SaveComponent(ctx, component); err != nil {
		return false, fmt.Errorf("failed to save component %s: %w", componentName, err)
	}
	return true, nil
}

// tailEvents writes one line per collector event until ctx is done or both
// subscriptions close.
func tailEvents(ctx context.Context, b broker.Broker, group string, w io.Writer) error {
	jobs, err := b.Subscribe(ctx, contracts.TopicJobsDiscovered, group)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", contracts.TopicJobsDiscovered, err)
	}
	builds, err := b.Subscribe(ctx, contracts.TopicBuildsCollected, group)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", contracts.TopicBuildsCollected, err)
	}

	for jobs != nil || builds != nil {
		var (
			msg broker.Message
			ok  bool
		)
		select {
		case <-ctx.Done():
			return nil
		case msg, ok = <-jobs:
			if !ok {
				jobs = nil
				continue
			}
		case msg, ok = <-builds:
			if !ok {
				builds = nil
				continue
			}
		}
		fmt.Fprintln(w, formatEvent(msg))
	}
	return nil
}

// formatEvent renders an event as a single line. Unknown or malformed
// payloads are printed raw.
func formatEvent(msg broker.Message) string {
	switch msg.Topic {
	case contracts.TopicJobsDiscovered:
		var ev contracts.JobDiscovered
		if err := json.Unmarshal(msg.Value, &ev); err == nil {
			return fmt.Sprintf("%s job   %s on %s (id %s)", ev.Timestamp, ev.JobName, ev.InstanceURL, ev.JobID)
		}
	case contracts.TopicBuildsCollected:
		var ev contracts.BuildCollected
		if err := json.Unmarshal(msg.Value, &ev); err == nil {
			return fmt.Sprintf("%s build %s #%s %s, %d change(s)", ev.Timestamp, ev.JobName, ev.Number, ev.Status, ev.Changes)
		}
	}
	return fmt.Sprintf("%s %s", msg.Topic, msg.Value)
}
