package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tazhate/coursesync/internal/domain"
)

// ReasonReset marks deletes made by Resetter
const ReasonReset = "reset"

// ResetStore is a RecordStore that can also forget collections
type ResetStore interface {
	RecordStore
	DeleteCollection(ctx context.Context, c *domain.Collection) error
}

// CollectionDeleter is implemented by remotes that can delete a whole collection
type CollectionDeleter interface {
	DeleteCollection(ctx context.Context, externalID string) error
}

// ResetOutcome is what a reset did to one destination
type ResetOutcome struct {
	Destination        domain.Destination `json:"destination"`
	Deleted            []ItemRef          `json:"deleted"`
	CollectionsDeleted []string           `json:"collections_deleted"`
	Errors             []ItemError        `json:"errors"`
}

func newResetOutcome(d domain.Destination) ResetOutcome {
	return ResetOutcome{
		Destination:        d,
		Deleted:            []ItemRef{},
		CollectionsDeleted: []string{},
		Errors:             []ItemError{},
	}
}

// ResetReport covers both destinations
type ResetReport struct {
	Calendar ResetOutcome `json:"calendar"`
	Tasks    ResetOutcome `json:"tasks"`
}

// Failed reports whether anything was left behind
func (r *ResetReport) Failed() bool {
	return len(r.Calendar.Errors) > 0 || len(r.Tasks.Errors) > 0
}

// Resetter removes everything the engine wrote for an owner. Records are
// deleted downstream first and forgotten only once that worked, so a failed
// reset can be repeated.
type Resetter struct {
	Store    ResetStore
	Calendar Remote
	Tasks    Remote

	// KeepCollections leaves the created collections in place
	KeepCollections bool
}

// Reset clears both destinations concurrently
func (r *Resetter) Reset(ctx context.Context, ownerID int64) ResetReport {
	var (
		wg     sync.WaitGroup
		report ResetReport
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Calendar = r.reset(ctx, ownerID, domain.DestinationCalendar, r.Calendar)
	}()
	go func() {
		defer wg.Done()
		report.Tasks = r.reset(ctx, ownerID, domain.DestinationTasks, r.Tasks)
	}()
	wg.Wait()
	return report
}

func (r *Resetter) reset(ctx context.Context, ownerID int64, d domain.Destination, remote Remote) ResetOutcome {
	out := newResetOutcome(d)
	fail := func(err error) ResetOutcome {
		out.Errors = append(out.Errors, ItemError{Message: err.Error()})
		return out
	}

	if remote == nil || !remote.IsConfigured() {
		return fail(fmt.Errorf("%s remote: %w", d, domain.ErrUnauthorized))
	}
	records, err := r.Store.FindExisting(ctx, ownerID, d)
	if err != nil {
		return fail(fmt.Errorf("load %s records: %w", d, err))
	}

	// collections still holding items we could not delete
	dirty := make(map[string]bool)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("reset interrupted: %w", err))
		}
		if !domain.IsEngineKey(rec.StableKey) {
			continue
		}
		if err := r.deleteRecord(ctx, remote, &rec); err != nil {
			dirty[rec.CollectionID] = true
			slog.Error("reset delete failed", "user", ownerID, "destination", d, "uid", rec.UID(), "err", err)
			out.Errors = append(out.Errors, ItemError{UID: rec.UID(), CourseCode: rec.CourseCode, Message: err.Error()})
			continue
		}
		out.Deleted = append(out.Deleted, ItemRef{
			UID:        rec.UID(),
			Title:      rec.Title,
			ExternalID: rec.ExternalID,
			Collection: rec.CollectionID,
			Reason:     ReasonReset,
		})
	}

	// the calendar is registered by the user, never created by us
	deleter, ok := remote.(CollectionDeleter)
	if r.KeepCollections || !ok || d == domain.DestinationCalendar {
		return out
	}

	colls, err := r.Store.ListCollections(ctx, ownerID, d)
	if err != nil {
		return fail(fmt.Errorf("list %s collections: %w", d, err))
	}
	for _, c := range colls {
		if dirty[c.ExternalID] {
			continue
		}
		if err := deleter.DeleteCollection(ctx, c.ExternalID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			out.Errors = append(out.Errors, ItemError{Message: fmt.Sprintf("collection %q: %v", c.Name, err)})
			continue
		}
		if err := r.Store.DeleteCollection(ctx, &c); err != nil && !errors.Is(err, domain.ErrNotFound) {
			out.Errors = append(out.Errors, ItemError{Message: fmt.Sprintf("forget collection %q: %v", c.Name, err)})
			continue
		}
		out.CollectionsDeleted = append(out.CollectionsDeleted, c.Name)
	}
	return out
}

// deleteRecord removes rec downstream, then from the store. Items already
// gone downstream count as deleted.
func (r *Resetter) deleteRecord(ctx context.Context, remote Remote, rec *domain.SyncedRecord) error {
	if err := remote.DeleteItem(ctx, rec.CollectionID, rec.ExternalID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err := r.Store.DeleteRecord(ctx, rec); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("forget record: %w", err)
	}
	return nil
}
