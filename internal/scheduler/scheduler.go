// Package scheduler runs the recurring polling cycle: one task per
// registered alert and enabled adapter, fanned out under a concurrency cap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/filter"
	"stockwatch/internal/model"
	"stockwatch/internal/source"
	"stockwatch/internal/storage"
	"stockwatch/internal/tracker"
)

// Options tunes the scheduler.
type Options struct {
	// Interval is the pause between the end of one cycle and the next.
	Interval time.Duration
	// Concurrency caps the number of tasks running at once.
	Concurrency int
}

// TaskFailure records why one (alert, adapter) task did not finish.
type TaskFailure struct {
	AlertID int64
	Query   string
	Adapter string
	Err     error
}

// CycleReport summarizes one polling cycle.
type CycleReport struct {
	Tasks     int
	Successes int
	Failures  []TaskFailure
	// Filtered counts items rejected by alert filters.
	Filtered int
	Outcomes map[tracker.Outcome]int
}

// Err combines every task failure of the cycle, or nil.
func (r CycleReport) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// Scheduler drives the polling cycles.
type Scheduler struct {
	store    storage.Storage
	adapters []source.Adapter
	tracker  *tracker.Tracker
	log      *slog.Logger

	interval    time.Duration
	concurrency int
	eager       chan model.Alert
}

// New creates a Scheduler. Zero options fall back to a one-minute interval
// and three concurrent tasks.
func New(store storage.Storage, adapters []source.Adapter, t *tracker.Tracker, log *slog.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	return &Scheduler{
		store:       store,
		adapters:    adapters,
		tracker:     t,
		log:         log,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		eager:       make(chan model.Alert, 16),
	}
}

// CheckNow queues an alert for an immediate check outside the regular
// cadence. It never blocks; when the queue is full the alert waits for the
// next regular cycle.
func (s *Scheduler) CheckNow(alert model.Alert) {
	select {
	case s.eager <- alert:
	default:
		s.log.Warn("eager check queue full", "alert_id", alert.ID, "query", alert.SearchQuery)
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.checkAll(ctx)

		timer := time.NewTimer(s.interval)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case alert := <-s.eager:
				s.logReport("eager check finished", s.RunCycle(ctx, []model.Alert{alert}))
			case <-timer.C:
				break wait
			}
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	alerts, err := s.store.ListAlerts(ctx)
	if err != nil {
		s.log.Error("list alerts", "error", err)
		return
	}
	if len(alerts) == 0 {
		s.log.Debug("no alerts registered")
		return
	}
	s.logReport("cycle finished", s.RunCycle(ctx, alerts))
}

func (s *Scheduler) logReport(msg string, r CycleReport) {
	for _, f := range r.Failures {
		s.log.Error("task failed", "alert_id", f.AlertID, "query", f.Query, "adapter", f.Adapter, "error", f.Err)
	}
	s.log.Info(msg,
		"tasks", r.Tasks,
		"successes", r.Successes,
		"failures", len(r.Failures),
		"new", r.Outcomes[tracker.Found],
		"updated", r.Outcomes[tracker.Updated],
		"muted", r.Outcomes[tracker.Muted],
		"suppressed", r.Outcomes[tracker.Suppressed],
		"filtered", r.Filtered,
	)
}

type taskResult struct {
	outcomes map[tracker.Outcome]int
	filtered int
}

// RunCycle checks every alert against every adapter once and waits for all
// tasks to finish. A failing task never stops its siblings.
func (s *Scheduler) RunCycle(ctx context.Context, alerts []model.Alert) CycleReport {
	report := CycleReport{Outcomes: make(map[tracker.Outcome]int)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, alert := range alerts {
		alert := alert
		for _, adapter := range s.adapters {
			adapter := adapter
			report.Tasks++
			g.Go(func() error {
				res, err := s.runTask(ctx, alert, adapter)

				mu.Lock()
				defer mu.Unlock()
				for o, n := range res.outcomes {
					report.Outcomes[o] += n
				}
				report.Filtered += res.filtered
				if err != nil {
					report.Failures = append(report.Failures, TaskFailure{
						AlertID: alert.ID,
						Query:   alert.SearchQuery,
						Adapter: adapter.Name(),
						Err:     err,
					})
					return nil
				}
				report.Successes++
				return nil
			})
		}
	}
	_ = g.Wait()
	return report
}

func (s *Scheduler) runTask(ctx context.Context, alert model.Alert, adapter source.Adapter) (taskResult, error) {
	res := taskResult{outcomes: make(map[tracker.Outcome]int)}
	log := s.log.With("alert_id", alert.ID, "adapter", adapter.Name())
	log.Debug("checking alert", "query", alert.SearchQuery)

	records, err := adapter.Fetch(ctx, alert.SearchQuery)
	if err != nil {
		return res, err
	}

	filters, err := s.store.ListFilters(ctx, alert.ID)
	if err != nil {
		return res, fmt.Errorf("list filters: %w", err)
	}
	set, err := filter.Compile(filters)
	if err != nil {
		return res, fmt.Errorf("compile filters: %w", err)
	}

	var errs error
	for _, rec := range records {
		if ctx.Err() != nil {
			return res, multierr.Append(errs, ctx.Err())
		}

		item, err := adapter.Normalize(ctx, rec)
		var nf *source.NormalizationFailure
		if errors.As(err, &nf) {
			log.Warn("skip record", "error", err)
			continue
		}
		if err != nil {
			return res, multierr.Append(errs, err)
		}

		accepted, hits := set.Accept(item)
		if len(hits) > 0 {
			if err := s.store.IncrementFilterMatches(ctx, hits); err != nil {
				log.Error("increment filter matches", "error", err)
			}
		}
		if !accepted {
			res.filtered++
			continue
		}

		outcome, err := s.tracker.Process(ctx, alert, adapter, item)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("process %s: %w", item.ItemID, err))
			continue
		}
		res.outcomes[outcome]++
	}

	if n := res.outcomes[tracker.Unchanged]; n > 0 {
		log.Info(fmt.Sprintf("%d items up to date", n), "query", alert.SearchQuery)
	}
	return res, errs
}
