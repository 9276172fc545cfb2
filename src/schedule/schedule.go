// Package schedule triggers collection cycles on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"build-collector/src/collector"
	"build-collector/src/contracts"
	"build-collector/src/lock"
	"build-collector/src/logger"
	"build-collector/src/store"
	"build-collector/src/telemetry"
)

// parser accepts standard five-field expressions, an optional leading
// seconds field, and descriptors such as @hourly or @every 10m.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSpec parses a cron expression.
func ParseSpec(spec string) (cron.Schedule, error) {
	return parser.Parse(spec)
}

// Cycler runs one synchronization pass. *collector.Engine implements it.
type Cycler interface {
	RunCycle(ctx context.Context, c *contracts.Collector) (*collector.CycleReport, error)
}

// Options configure a Runner.
type Options struct {
	// Name identifies the collector record and its lock.
	Name         string
	InstanceURLs []string
	Spec         string
	CycleTimeout time.Duration
	Now          func() time.Time
}

// Runner owns the collector record and serializes cycles for it.
type Runner struct {
	cycler     Cycler
	collectors store.CollectorStore
	locker     lock.Locker
	logger     logger.Logger
	opts       Options
}

// NewRunner validates the schedule and creates a Runner.
func NewRunner(cycler Cycler, collectors store.CollectorStore, locker lock.Locker, log logger.Logger, opts Options) (*Runner, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("collector name is required")
	}
	if opts.Spec != "" {
		if _, err := ParseSpec(opts.Spec); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", opts.Spec, err)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Runner{
		cycler:     cycler,
		collectors: collectors,
		locker:     locker,
		logger:     log,
		opts:       opts,
	}, nil
}

// Start runs cycles on the schedule until ctx is cancelled. A trigger that
// fires while the previous cycle is still running is skipped. Start waits
// for a running cycle to finish before returning.
func (r *Runner) Start(ctx context.Context) error {
	if r.opts.Spec == "" {
		return fmt.Errorf("no schedule configured")
	}

	cl := cronLogger{r.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.opts.Spec, func() { r.trigger(ctx) }); err != nil {
		return fmt.Errorf("schedule collector: %w", err)
	}

	r.logger.Info("[Scheduler] %s scheduled with %q", r.opts.Name, r.opts.Spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("[Scheduler] Stopped")
	return nil
}

func (r *Runner) trigger(ctx context.Context) {
	report, err := r.RunOnce(ctx)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return
	case err != nil:
		r.logger.Error("[Scheduler] Cycle failed: %v", err)
		return
	}
	if failed := report.FailedInstances(); len(failed) > 0 {
		r.logger.Error("[Scheduler] %d instance(s) unreachable: %v", len(failed), failed)
	}
}

// RunOnce performs a single cycle: it takes the collector lock, loads or
// creates the collector record, runs the cycle under the cycle timeout and,
// on success, advances LastExecuted to the cycle's start time.
//
// It returns lock.ErrNotAcquired when another cycle holds the lock.
func (r *Runner) RunOnce(ctx context.Context) (*collector.CycleReport, error) {
	start := r.opts.Now()

	release, err := r.locker.Acquire(ctx, r.opts.Name)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			telemetry.LockContention.Inc()
			r.logger.Info("[Scheduler] %s is already being collected, skipping", r.opts.Name)
			return nil, err
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("[Scheduler] Failed to release lock for %s: %v", r.opts.Name, err)
		}
	}()

	col, err := r.loadCollector(ctx)
	if err != nil {
		telemetry.CyclesTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	cycleCtx := ctx
	if r.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, r.opts.CycleTimeout)
		defer cancel()
	}

	report, err := r.cycler.RunCycle(cycleCtx, col)
	if err != nil {
		telemetry.CyclesTotal.WithLabelValues("failure").Inc()
		return report, err
	}

	col.LastExecuted = start
	if err := r.collectors.SaveCollector(ctx, col); err != nil {
		telemetry.CyclesTotal.WithLabelValues("failure").Inc()
		return report, fmt.Errorf("save collector: %w", err)
	}

	telemetry.CyclesTotal.WithLabelValues("success").Inc()
	telemetry.CycleDuration.Observe(r.opts.Now().Sub(start).Seconds())
	telemetry.LastSuccessSeconds.Set(float64(start.Unix()))
	return report, nil
}

// loadCollector returns the stored collector, creating it from the configured
// name and servers on first use. Configured servers replace stored ones.
func (r *Runner) loadCollector(ctx context.Context) (*contracts.Collector, error) {
	col, err := r.collectors.FindCollector(ctx, r.opts.Name)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("find collector %s: %w", r.opts.Name, err)
	}

	if col == nil {
		col = contracts.Prototype(r.opts.Name, r.opts.InstanceURLs)
		r.logger.Info("[Scheduler] Registering collector %s", r.opts.Name)
	} else if !slices.Equal(col.InstanceURLs, r.opts.InstanceURLs) {
		col.InstanceURLs = slices.Clone(r.opts.InstanceURLs)
	} else {
		return col, nil
	}

	if err := r.collectors.SaveCollector(ctx, col); err != nil {
		return nil, fmt.Errorf("save collector %s: %w", r.opts.Name, err)
	}
	return col, nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("[Scheduler] %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("[Scheduler] %s: %v %v", msg, err, keysAndValues)
}
