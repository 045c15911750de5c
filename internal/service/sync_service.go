package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/engine"
	"github.com/tazhate/coursesync/internal/feed"
	"github.com/tazhate/coursesync/internal/policy"
)

var (
	// ErrRunInProgress is returned when the user already has a run going
	ErrRunInProgress = errors.New("sync already running for user")
	ErrUserNotFound  = errors.New("user not found")
	ErrNoFeed        = errors.New("no feed url configured")
)

// DefaultRunTimeout bounds a whole run
const DefaultRunTimeout = 10 * time.Minute

// Store is what a run reads and writes besides the records themselves
type Store interface {
	engine.ResetStore
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetCurrentPolicy(ctx context.Context, userID int64) (domain.Policy, error)
	GetLastAppliedPolicy(ctx context.Context, userID int64) (*domain.Policy, error)
	SetLastAppliedPolicy(ctx context.Context, userID int64, p domain.Policy) error
	CreateSyncRun(ctx context.Context, r *domain.SyncRun) error
}

// FeedSource downloads a raw feed
type FeedSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SyncOptions tune SyncService
type SyncOptions struct {
	RunTimeout time.Duration
	Location   *time.Location // for floating feed times
	MaxEntries int            // 0 means no ceiling
	// ExpandRecurring expands RRULE entries within the policy window
	ExpandRecurring bool
}

// SyncService runs the fetch, parse and reconcile pipeline for one user
type SyncService struct {
	store   Store
	fetcher FeedSource
	runner  *engine.Runner
	opts    SyncOptions
	now     func() time.Time

	mu      sync.Mutex
	running map[int64]bool
}

// NewSyncService creates a new sync service
func NewSyncService(store Store, fetcher FeedSource, runner *engine.Runner, opts SyncOptions) *SyncService {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &SyncService{
		store:   store,
		fetcher: fetcher,
		runner:  runner,
		opts:    opts,
		now:     time.Now,
		running: make(map[int64]bool),
	}
}

func (s *SyncService) acquire(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[userID] {
		return false
	}
	s.running[userID] = true
	return true
}

func (s *SyncService) release(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, userID)
}

// Sync runs one sync for userID. feedURL overrides the stored feed when set.
// Item-level failures are in the report; the error covers failures that
// prevented a report.
func (s *SyncService) Sync(ctx context.Context, userID int64, feedURL string) (*engine.CombinedReport, error) {
	if !s.acquire(userID) {
		return nil, ErrRunInProgress
	}
	defer s.release(userID)

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if feedURL == "" {
		feedURL = user.FeedURL
	}
	if feedURL == "" {
		return nil, ErrNoFeed
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	started := s.now()
	log := slog.With("user", userID)
	log.Info("sync started", "feed", feed.RedactURL(feedURL))

	report, err := s.run(ctx, userID, feedURL, started)
	if err != nil {
		log.Error("sync failed", "err", err)
		s.record(ctx, &domain.SyncRun{
			UserID:      userID,
			Status:      domain.RunFailed,
			StartedAt:   started,
			CompletedAt: s.now(),
			Error:       err.Error(),
		})
		return nil, err
	}

	log.Info("sync finished",
		"calendar", report.CalendarSummary,
		"tasks", report.TasksSummary,
		"filtered_out", report.Metadata.FilteredOut,
	)
	return report, nil
}

// Reset deletes everything the engine wrote for userID, downstream and in the
// store. It shares the per-user guard with Sync.
func (s *SyncService) Reset(ctx context.Context, userID int64, keepCollections bool) (*engine.ResetReport, error) {
	if !s.acquire(userID) {
		return nil, ErrRunInProgress
	}
	defer s.release(userID)

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	resetter := &engine.Resetter{
		Store:           s.store,
		Calendar:        s.runner.Calendar,
		Tasks:           s.runner.Tasks,
		KeepCollections: keepCollections,
	}
	report := resetter.Reset(ctx, userID)
	slog.Info("reset finished", "user", userID,
		"calendar_deleted", len(report.Calendar.Deleted),
		"tasks_deleted", len(report.Tasks.Deleted),
		"collections_deleted", len(report.Tasks.CollectionsDeleted),
		"errors", len(report.Calendar.Errors)+len(report.Tasks.Errors),
	)
	return &report, nil
}

func (s *SyncService) run(ctx context.Context, userID int64, feedURL string, started time.Time) (*engine.CombinedReport, error) {
	raw, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	current, err := s.store.GetCurrentPolicy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	last, err := s.store.GetLastAppliedPolicy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load last applied policy: %w", err)
	}

	parsed, err := feed.Parse(raw, s.parseOptions(current, started)...)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	report, applied := s.runner.Run(ctx, engine.RunInput{
		OwnerID:    userID,
		Items:      parsed.Items,
		Policy:     current,
		LastPolicy: last,
		Now:        started,
	})

	// the run is over; finish bookkeeping even if the deadline passed meanwhile
	final := context.WithoutCancel(ctx)
	run := &domain.SyncRun{
		UserID:      userID,
		Status:      runStatus(&report),
		StartedAt:   started,
		CompletedAt: report.Metadata.CompletedAt,
	}
	if applied != nil {
		if err := s.store.SetLastAppliedPolicy(final, userID, *applied); err != nil {
			slog.Error("save last applied policy", "user", userID, "err", err)
			run.Error = fmt.Sprintf("save last applied policy: %v", err)
		}
	}
	if data, err := json.Marshal(report); err == nil {
		run.Report = string(data)
	}
	s.record(final, run)
	return &report, nil
}

func (s *SyncService) parseOptions(p domain.Policy, now time.Time) []feed.ParseOption {
	opts := []feed.ParseOption{feed.WithLocation(s.opts.Location)}
	if s.opts.MaxEntries > 0 {
		opts = append(opts, feed.WithMaxEntries(s.opts.MaxEntries))
	}
	if !s.opts.ExpandRecurring {
		return opts
	}
	from, to := policy.Window(p.DateRange, now)
	// unbounded sides still need a finite expansion window
	if from.IsZero() {
		from = now.AddDate(-1, 0, 0)
	}
	if to.IsZero() {
		to = now.AddDate(1, 0, 0)
	}
	return append(opts, feed.WithRecurrenceWindow(from, to))
}

func (s *SyncService) record(ctx context.Context, run *domain.SyncRun) {
	if err := s.store.CreateSyncRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Error("record sync run", "user", run.UserID, "err", err)
	}
}

func runStatus(r *engine.CombinedReport) domain.RunStatus {
	switch {
	case r.Failed():
		return domain.RunFailed
	case len(r.Calendar.Errors) > 0 || len(r.Tasks.Errors) > 0:
		return domain.RunPartial
	}
	return domain.RunSucceeded
}
