package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/engine"
)

// ReloadSchedule is how often auto-sync settings are re-read from storage
const ReloadSchedule = "@every 15m"

// Store is the read side the scheduler needs
type Store interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetCurrentPolicy(ctx context.Context, userID int64) (domain.Policy, error)
}

// Syncer runs one sync for a user
type Syncer interface {
	Sync(ctx context.Context, userID int64, feedURL string) (*engine.CombinedReport, error)
}

// Notifier tells a user about a finished run
type Notifier interface {
	Notify(ctx context.Context, user *domain.User, report *engine.CombinedReport, runErr error) error
}

type entry struct {
	id    cron.EntryID
	hours int
}

// Scheduler runs auto-sync for every user whose policy enables it
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	syncer   Syncer
	notifier Notifier

	mu      sync.Mutex
	entries map[int64]entry
	ctx     context.Context
}

func New(location *time.Location, store Store, syncer Syncer) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:    c,
		store:   store,
		syncer:  syncer,
		entries: make(map[int64]entry),
		ctx:     context.Background(),
	}
}

func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// Start registers the jobs and blocks until ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	if _, err := s.cron.AddFunc(ReloadSchedule, func() {
		if err := s.Reload(ctx); err != nil {
			slog.Error("reload schedules", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("add reload job: %w", err)
	}

	s.cron.Start()
	slog.Info("scheduler started", "users", s.Scheduled())

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}

// Reload syncs the cron entries with the users' current policies
func (s *Scheduler) Reload(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return err
	}

	want := make(map[int64]int, len(users))
	for _, u := range users {
		p, err := s.store.GetCurrentPolicy(ctx, u.ID)
		if err != nil {
			slog.Error("load policy for schedule", "user", u.ID, "err", err)
			continue
		}
		if p.Sync.AutoSync && u.FeedURL != "" {
			want[u.ID] = p.Sync.IntervalHours
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, e := range s.entries {
		if hours, ok := want[userID]; !ok || hours != e.hours {
			s.cron.Remove(e.id)
			delete(s.entries, userID)
		}
	}
	for userID, hours := range want {
		if _, ok := s.entries[userID]; ok {
			continue
		}
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %dh", hours), func() { s.RunUser(userID) })
		if err != nil {
			return fmt.Errorf("schedule user %d: %w", userID, err)
		}
		s.entries[userID] = entry{id: id, hours: hours}
		slog.Debug("auto-sync scheduled", "user", userID, "every_hours", hours)
	}
	return nil
}

// Scheduled returns the number of users with an active auto-sync entry
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunUser performs one scheduled sync and notifies the user about it
func (s *Scheduler) RunUser(userID int64) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	report, err := s.syncer.Sync(ctx, userID, "")
	if err != nil {
		slog.Error("scheduled sync failed", "user", userID, "err", err)
	}
	if s.notifier == nil || !worthNotifying(report, err) {
		return
	}

	user, uerr := s.store.GetUser(ctx, userID)
	if uerr != nil || user == nil || user.TelegramChatID == 0 {
		return
	}
	if nerr := s.notifier.Notify(ctx, user, report, err); nerr != nil {
		slog.Error("notify user", "user", userID, "err", nerr)
	}
}

// quiet runs stay quiet
func worthNotifying(report *engine.CombinedReport, err error) bool {
	if err != nil || report == nil {
		return true
	}
	if report.Failed() {
		return true
	}
	return report.CalendarSummary.Changed() || report.TasksSummary.Changed() ||
		report.CalendarSummary.Errored > 0 || report.TasksSummary.Errored > 0
}
