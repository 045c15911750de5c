package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/policy"
)

// RunInput is everything a run needs besides its collaborators
type RunInput struct {
	OwnerID    int64
	Items      []domain.SourceItem
	Policy     domain.Policy
	LastPolicy *domain.Policy // nil on the first run
	Now        time.Time
}

// Runner routes classified items to both destinations
type Runner struct {
	Store       RecordStore
	Calendar    Remote
	Tasks       CollectionRemote
	Concurrency int
	Filter      policy.Options
}

// Run filters the items, reconciles both destinations concurrently and
// combines their outcomes. The returned policy is the snapshot to persist as
// last applied; it is nil when a destination failed before doing any work.
func (r *Runner) Run(ctx context.Context, in RunInput) (CombinedReport, *domain.Policy) {
	wall := time.Now()
	started := in.Now
	if started.IsZero() {
		started = wall
	}

	p := in.Policy
	p.Normalize()

	routed := policy.Apply(in.Items, p, started, r.Filter)
	changes := policy.Diff(in.LastPolicy, p)

	slog.Info("run routed",
		"user", in.OwnerID,
		"parsed", len(in.Items),
		"calendar", len(routed.Calendar),
		"tasks", len(routed.Tasks),
		"filtered_out", routed.FilteredOut,
		"removed_calendar_courses", changes.Calendar.Removed,
		"removed_task_courses", changes.Tasks.Removed,
	)

	var (
		wg       sync.WaitGroup
		calendar Outcome
		tasks    Outcome
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rt := NewRouter(domain.DestinationCalendar, r.Store, r.Calendar, r.Concurrency, time.Now)
		calendar = rt.Route(ctx, in.OwnerID, p.Calendar, routed.Calendar, changes.Calendar.Removed)
	}()
	go func() {
		defer wg.Done()
		rt := NewRouter(domain.DestinationTasks, r.Store, r.Tasks, r.Concurrency, time.Now)
		tasks = rt.Route(ctx, in.OwnerID, p.Tasks, routed.Tasks, changes.Tasks.Removed)
	}()
	wg.Wait()

	report := Combine(calendar, tasks, RunMetadata{
		TotalParsed: len(in.Items),
		ToCalendar:  len(routed.Calendar),
		ToTasks:     len(routed.Tasks),
		FilteredOut: routed.FilteredOut,
		OutOfWindow: routed.OutOfWindow,
		StartedAt:   started,
		CompletedAt: started.Add(time.Since(wall)),
	})
	report.PolicyChanges = changes

	if report.Failed() {
		slog.Warn("run failed fast, last applied policy kept", "user", in.OwnerID,
			"calendar_aborted", report.Calendar.Aborted, "tasks_aborted", report.Tasks.Aborted)
		return report, nil
	}
	return report, &p
}
