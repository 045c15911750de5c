package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/natefinch/atomic"

	"github.com/tazhate/coursesync/internal/clients/caldav"
	"github.com/tazhate/coursesync/internal/clients/todoist"
	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/engine"
	"github.com/tazhate/coursesync/internal/feed"
	"github.com/tazhate/coursesync/internal/policy"
	"github.com/tazhate/coursesync/internal/service"
	"github.com/tazhate/coursesync/internal/storage"
)

func openStore() (*storage.Storage, error) {
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DatabasePath, err)
	}
	return store, nil
}

func lookupUser(ctx context.Context, store *storage.Storage, name string) (*domain.User, error) {
	if name == "" {
		return nil, fmt.Errorf("--user is required")
	}
	u, err := store.GetUserByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q not found", name)
	}
	return u, nil
}

func newFetcher() *feed.Fetcher {
	opts := []feed.Option{
		feed.WithMaxBytes(cfg.Feed.MaxBytes),
		feed.WithTimeout(cfg.Feed.Timeout),
	}
	if len(cfg.Feed.AllowedHosts) > 0 {
		opts = append(opts, feed.WithAllowedHosts(cfg.Feed.AllowedHosts...))
	}
	return feed.NewFetcher(opts...)
}

func newCalDAV() *caldav.Client {
	return caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password)
}

func newTodoist() *todoist.Client {
	return todoist.NewClient(cfg.Todoist.Token)
}

func newSyncService(store *storage.Storage) *service.SyncService {
	runner := &engine.Runner{
		Store:       store,
		Calendar:    newCalDAV(),
		Tasks:       newTodoist(),
		Concurrency: cfg.Sync.Concurrency,
		Filter:      policy.Options{EnforceExcludes: cfg.Sync.EnforceExcludes},
	}
	return service.NewSyncService(store, newFetcher(), runner, service.SyncOptions{
		RunTimeout:      cfg.Sync.RunTimeout,
		Location:        cfg.Location,
		MaxEntries:      cfg.Feed.MaxEntries,
		ExpandRecurring: cfg.Sync.ExpandRecurring,
	})
}

// writeReport writes the report as indented JSON, replacing path atomically.
func writeReport(path string, report any) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

func summaryLine(s engine.Summary) string {
	return fmt.Sprintf("%d created, %d updated, %d deleted, %d unchanged, %d errors",
		s.Created, s.Updated, s.Deleted, s.Unchanged, s.Errored)
}
