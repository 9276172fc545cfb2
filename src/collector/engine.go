// Package collector implements the incremental synchronization of jobs and
// builds from CI servers into the store.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"build-collector/src/broker"
	"build-collector/src/contracts"
	"build-collector/src/logger"
	"build-collector/src/provider"
	"build-collector/src/store"
	"build-collector/src/telemetry"
)

// DefaultCleanupInterval is how stale LastExecuted must be before a cycle
// reconciles job enablement.
const DefaultCleanupInterval = time.Hour

// Deps are the collaborators of an Engine. Broker may be nil.
type Deps struct {
	Gateway    provider.Gateway
	Jobs       store.JobStore
	Builds     store.BuildStore
	Components store.ComponentStore
	Broker     broker.Broker
	Logger     logger.Logger
}

// Options tune an Engine.
type Options struct {
	CleanupInterval     time.Duration
	InstanceConcurrency int
	Now                 func() time.Time
}

// Engine runs collection cycles. It holds no per-cycle state and may be
// shared, but callers must not run two cycles for the same collector at once.
type Engine struct {
	gateway    provider.Gateway
	jobs       store.JobStore
	builds     store.BuildStore
	components store.ComponentStore
	broker     broker.Broker
	logger     logger.Logger
	opts       Options
}

// NewEngine creates an Engine, filling unset options with defaults.
func NewEngine(deps Deps, opts Options) *Engine {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.InstanceConcurrency <= 0 {
		opts.InstanceConcurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewSilentLogger()
	}

	return &Engine{
		gateway:    deps.Gateway,
		jobs:       deps.Jobs,
		builds:     deps.Builds,
		components: deps.Components,
		broker:     deps.Broker,
		logger:     log,
		opts:       opts,
	}
}

// RunCycle performs one synchronization pass for the collector: an optional
// enablement cleanup, then job and build discovery on every instance.
//
// Gateway failures are isolated to their instance and reported in the
// CycleReport. A store failure aborts the cycle and is returned.
func (e *Engine) RunCycle(ctx context.Context, collector *contracts.Collector) (*CycleReport, error) {
	start := e.opts.Now()
	report := &CycleReport{
		CollectorID:   collector.ID,
		CollectorName: collector.Name,
		StartedAt:     start,
		Instances:     make([]InstanceReport, len(collector.InstanceURLs)),
	}

	if start.Sub(collector.LastExecuted) > e.opts.CleanupInterval {
		if err := e.Cleanup(ctx, collector); err != nil {
			report.Duration = e.opts.Now().Sub(start)
			return report, fmt.Errorf("cleanup: %w", err)
		}
		report.CleanedUp = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.InstanceConcurrency)
	for i, instanceURL := range collector.InstanceURLs {
		i, instanceURL := i, instanceURL
		g.Go(func() error {
			rep, err := e.collectInstance(gctx, collector, instanceURL)
			report.Instances[i] = rep
			if err != nil {
				return fmt.Errorf("instance %s: %w", instanceURL, err)
			}
			return nil
		})
	}
	err := g.Wait()

	report.Duration = e.opts.Now().Sub(start)
	if err != nil {
		return report, err
	}

	newJobs, newBuilds := report.Totals()
	e.logger.Info("[Collector] Finished %s: %d new jobs, %d new builds in %s", collector.Name, newJobs, newBuilds, report.Duration.Round(time.Millisecond))
	return report, nil
}

func (e *Engine) collectInstance(ctx context.Context, collector *contracts.Collector, instanceURL string) (InstanceReport, error) {
	rep := InstanceReport{InstanceURL: instanceURL}
	start := e.opts.Now()

	e.logger.Info("[Collector] -----------------------------------")
	e.logger.Info("[Collector] %s", instanceURL)
	e.logger.Info("[Collector] -----------------------------------")

	discovered, err := e.gateway.ListJobs(ctx, instanceURL)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		telemetry.GatewayErrors.WithLabelValues(instanceURL).Inc()
		e.logger.Error("[Collector] Failed to list jobs on %s: %v", instanceURL, err)
		rep.Error = err.Error()
		return rep, nil
	}
	rep.JobsSeen = len(discovered)

	// Builds are looked up by the job's natural key once enablement is known.
	grouped := make(map[contracts.JobKey][]contracts.BuildSummary, len(discovered))
	for i := range discovered {
		job := &discovered[i].Job
		job.CollectorID = collector.ID
		job.InstanceURL = instanceURL
		grouped[job.Key()] = append(grouped[job.Key()], discovered[i].Builds...)
	}

	rep.NewJobs, err = e.addNewJobs(ctx, discovered)
	if err != nil {
		return rep, err
	}
	e.logCount("New jobs", rep.NewJobs, start)

	rep.NewBuilds, rep.SkippedBuilds, err = e.addNewBuilds(ctx, collector, instanceURL, grouped)
	if err != nil {
		return rep, err
	}
	e.logCount("New builds", rep.NewBuilds, start)

	return rep, nil
}

// addNewJobs registers jobs not yet stored. New jobs start disabled.
func (e *Engine) addNewJobs(ctx context.Context, discovered []provider.DiscoveredJob) (int, error) {
	count := 0
	for _, d := range discovered {
		job := d.Job
		if job.JobName == "" {
			continue
		}

		_, err := e.jobs.FindJob(ctx, job.CollectorID, job.InstanceURL, job.JobName)
		if err == nil {
			continue
		}
		if !store.IsNotFound(err) {
			return count, fmt.Errorf("find job %s: %w", job.JobName, err)
		}

		job.ID = ""
		job.Enabled = false
		job.Description = job.JobName
		if err := e.jobs.SaveJob(ctx, &job); err != nil {
			if store.IsDuplicate(err) {
				e.logger.Debug("[Collector] Job %s already registered", job.JobName)
				continue
			}
			return count, fmt.Errorf("save job %s: %w", job.JobName, err)
		}

		count++
		telemetry.JobsDiscovered.WithLabelValues(job.InstanceURL).Inc()
		e.publish(ctx, contracts.TopicJobsDiscovered, job.ID, contracts.JobDiscovered{
			JobID:       job.ID,
			CollectorID: job.CollectorID,
			InstanceURL: job.InstanceURL,
			JobName:     job.JobName,
			JobURL:      job.JobURL,
			Timestamp:   e.opts.Now().UTC().Format(time.RFC3339),
		})
	}
	return count, nil
}

// addNewBuilds stores builds not yet known for the instance's enabled jobs.
func (e *Engine) addNewBuilds(ctx context.Context, collector *contracts.Collector, instanceURL string, grouped map[contracts.JobKey][]contracts.BuildSummary) (added, skipped int, err error) {
	enabled, err := e.jobs.EnabledJobs(ctx, collector.ID, instanceURL)
	if err != nil {
		return 0, 0, fmt.Errorf("enabled jobs: %w", err)
	}

	for _, job := range enabled {
		for _, summary := range grouped[job.Key()] {
			_, err := e.builds.FindBuild(ctx, job.ID, summary.Number)
			if err == nil {
				continue
			}
			if !store.IsNotFound(err) {
				return added, skipped, fmt.Errorf("find build %s #%s: %w", job.JobName, summary.Number, err)
			}

			build, err := e.gateway.FetchBuild(ctx, summary.BuildURL)
			if err != nil {
				if ctx.Err() != nil {
					return added, skipped, ctx.Err()
				}
				skipped++
				telemetry.BuildFetchSkipped.WithLabelValues(instanceURL).Inc()
				if errors.Is(err, provider.ErrBuildNotFound) {
					e.logger.Debug("[Collector] Build %s #%s not available, retrying next cycle", job.JobName, summary.Number)
					continue
				}
				telemetry.GatewayErrors.WithLabelValues(instanceURL).Inc()
				e.logger.Error("[Collector] Failed to fetch build %s: %v", summary.BuildURL, err)
				continue
			}
			if build == nil {
				skipped++
				telemetry.BuildFetchSkipped.WithLabelValues(instanceURL).Inc()
				continue
			}

			build.ID = ""
			build.JobID = job.ID
			// The summary number is what lookups use, so it is what gets stored.
			build.Number = summary.Number
			if err := e.builds.SaveBuild(ctx, build); err != nil {
				if store.IsDuplicate(err) {
					continue
				}
				return added, skipped, fmt.Errorf("save build %s #%s: %w", job.JobName, summary.Number, err)
			}

			added++
			telemetry.BuildsCollected.WithLabelValues(instanceURL).Inc()
			e.publish(ctx, contracts.TopicBuildsCollected, job.ID, contracts.BuildCollected{
				BuildID:     build.ID,
				JobID:       job.ID,
				InstanceURL: instanceURL,
				JobName:     job.JobName,
				Number:      build.Number,
				BuildURL:    build.BuildURL,
				Status:      build.Status,
				Changes:     len(build.SourceChanges),
				Timestamp:   e.opts.Now().UTC().Format(time.RFC3339),
			})
		}
	}
	return added, skipped, nil
}

// Cleanup recomputes every job's enabled flag from the components that
// reference it. A job is enabled iff some component lists it as a Build item
// owned by this collector.
func (e *Engine) Cleanup(ctx context.Context, collector *contracts.Collector) error {
	components, err := e.components.AllComponents(ctx)
	if err != nil {
		return fmt.Errorf("list components: %w", err)
	}

	live := make(map[string]bool)
	for _, c := range components {
		for _, ref := range c.CollectorItems[contracts.LinkTypeBuild] {
			if ref.CollectorID == collector.ID {
				live[ref.ID] = true
			}
		}
	}

	jobs, err := e.jobs.JobsForCollectors(ctx, []string{collector.ID})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	changed, enabled := 0, 0
	for i := range jobs {
		want := live[jobs[i].ID]
		if jobs[i].Enabled != want {
			changed++
		}
		if want {
			enabled++
		}
		jobs[i].Enabled = want
	}

	if len(jobs) > 0 {
		if err := e.jobs.SaveJobs(ctx, jobs); err != nil {
			return fmt.Errorf("save jobs: %w", err)
		}
	}

	telemetry.CleanupsTotal.Inc()
	e.logger.Info("[Collector] Cleanup: %d jobs, %d enabled, %d changed", len(jobs), enabled, changed)
	return nil
}

// publish sends an event if a broker is configured. Failures never affect
// the cycle.
func (e *Engine) publish(ctx context.Context, topic, key string, event interface{}) {
	if e.broker == nil {
		return
	}
	if err := broker.PublishJSON(ctx, e.broker, topic, key, event); err != nil {
		telemetry.PublishFailures.Inc()
		e.logger.Error("[Collector] Failed to publish to %s: %v", topic, err)
	}
}

func (e *Engine) logCount(label string, count int, start time.Time) {
	elapsed := e.opts.Now().Sub(start).Seconds()
	e.logger.Info("[Collector] %-24s %6d  %8.3fs", label, count, elapsed)
}
