package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tazhate/coursesync/internal/domain"
)

const (
	// UncategorizedCollection holds task items without a course code
	UncategorizedCollection = "Uncategorized"
	// ConsolidatedCollection holds every task item when grouping is consolidated
	ConsolidatedCollection = "Coursework"
)

// ErrCollectionMissing is returned when the calendar destination has no registered calendar
var ErrCollectionMissing = errors.New("destination collection not configured")

// Router resolves the collections of a destination and runs one reconcile
// pass per collection.
type Router struct {
	destination domain.Destination
	store       RecordStore
	remote      Remote
	collections CollectionRemote // nil when collections cannot be created
	reconciler  *Reconciler
}

// NewRouter creates a router for d. If remote also implements
// CollectionRemote, missing collections are created on first sight.
func NewRouter(d domain.Destination, store RecordStore, remote Remote, concurrency int, now func() time.Time) *Router {
	rt := &Router{
		destination: d,
		store:       store,
		remote:      remote,
		reconciler: &Reconciler{
			Store:       store,
			Remote:      remote,
			Concurrency: concurrency,
			Now:         now,
		},
	}
	if cr, ok := remote.(CollectionRemote); ok && d == domain.DestinationTasks {
		rt.collections = cr
	}
	return rt
}

type group struct {
	name  string
	items []domain.SourceItem
}

// Route reconciles items of the destination against every collection that
// holds its records. removed lists the courses dropped from the policy.
func (rt *Router) Route(ctx context.Context, ownerID int64, dp domain.DestinationPolicy, items []domain.SourceItem, removed []string) Outcome {
	if rt.remote == nil || !rt.remote.IsConfigured() {
		return Failed(rt.destination, fmt.Errorf("%s remote: %w", rt.destination, domain.ErrUnauthorized))
	}

	records, err := rt.store.FindExisting(ctx, ownerID, rt.destination)
	if err != nil {
		return Failed(rt.destination, fmt.Errorf("load %s records: %w", rt.destination, err))
	}

	groups := rt.groups(dp, items)
	if rt.destination == domain.DestinationCalendar {
		coll, err := rt.store.FindCollection(ctx, ownerID, rt.destination, domain.CalendarCollection)
		if err != nil {
			return Failed(rt.destination, fmt.Errorf("load calendar: %w", err))
		}
		if coll == nil {
			return Failed(rt.destination, ErrCollectionMissing)
		}
	}

	byCollection := make(map[string][]domain.SyncedRecord)
	var order []string
	for _, rec := range records {
		if _, ok := byCollection[rec.CollectionID]; !ok {
			order = append(order, rec.CollectionID)
		}
		byCollection[rec.CollectionID] = append(byCollection[rec.CollectionID], rec)
	}

	out := NewOutcome(rt.destination)
	handled := make(map[string]bool)
	protected := make(map[string]bool)

	for _, g := range groups {
		coll, created, err := rt.resolve(ctx, ownerID, g.name)
		if err != nil {
			slog.Error("collection unavailable", "user", ownerID, "destination", rt.destination, "collection", g.name, "err", err)
			for _, item := range g.items {
				protected[item.StableKey()] = true
				out.Errors = append(out.Errors, ItemError{
					UID:        item.UID,
					CourseCode: item.CourseCode,
					Message:    fmt.Sprintf("collection %q: %v", g.name, err),
				})
			}
			continue
		}
		if created {
			out.Collections.Created = append(out.Collections.Created, coll.Name)
		} else {
			out.Collections.Existing = append(out.Collections.Existing, coll.Name)
		}

		handled[coll.ExternalID] = true
		scope := rt.scope(ownerID, coll.ExternalID, coll.Name, removed)
		out.Merge(rt.reconciler.Reconcile(ctx, scope, g.items, byCollection[coll.ExternalID]))
	}

	// collections without incoming items are drained
	var names map[string]string
	for _, id := range order {
		if handled[id] {
			continue
		}
		recs := make([]domain.SyncedRecord, 0, len(byCollection[id]))
		for _, rec := range byCollection[id] {
			if !protected[rec.StableKey] {
				recs = append(recs, rec)
			}
		}
		if len(recs) == 0 {
			continue
		}
		if names == nil {
			names = rt.collectionNames(ctx, ownerID)
		}
		name := names[id]
		if name == "" {
			name = id
		}
		slog.Info("draining collection", "user", ownerID, "destination", rt.destination, "collection", name, "records", len(recs))
		out.Merge(rt.reconciler.Reconcile(ctx, rt.scope(ownerID, id, name, removed), nil, recs))
	}
	return out
}

func (rt *Router) scope(ownerID int64, id, name string, removed []string) Scope {
	return Scope{
		OwnerID:        ownerID,
		Destination:    rt.destination,
		CollectionID:   id,
		CollectionName: name,
		RemovedCourses: removed,
	}
}

// groups splits items into named collections, keeping first-seen order
func (rt *Router) groups(dp domain.DestinationPolicy, items []domain.SourceItem) []group {
	var out []group
	index := make(map[string]int)
	for _, item := range items {
		name := CollectionName(rt.destination, dp, item.CourseCode)
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, group{name: name})
		}
		out[i].items = append(out[i].items, item)
	}
	if rt.destination == domain.DestinationCalendar && len(out) == 0 {
		// resolve the calendar even without items so its records are diffed
		out = append(out, group{name: domain.CalendarCollection})
	}
	return out
}

// CollectionName returns the collection an item of courseCode belongs to
func CollectionName(d domain.Destination, dp domain.DestinationPolicy, courseCode string) string {
	if d == domain.DestinationCalendar {
		return domain.CalendarCollection
	}
	name := courseCode
	switch {
	case dp.Grouping == domain.GroupingConsolidated:
		name = ConsolidatedCollection
	case name == "":
		name = UncategorizedCollection
	}
	return dp.ListPrefix + name
}

// resolve finds the named collection or creates it downstream
func (rt *Router) resolve(ctx context.Context, ownerID int64, name string) (*domain.Collection, bool, error) {
	coll, err := rt.store.FindCollection(ctx, ownerID, rt.destination, name)
	if err != nil {
		return nil, false, err
	}
	if coll != nil {
		return coll, false, nil
	}
	if rt.collections == nil {
		return nil, false, ErrCollectionMissing
	}

	externalID, err := rt.collections.CreateCollection(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("create: %w", err)
	}
	coll = &domain.Collection{
		OwnerID:     ownerID,
		Destination: rt.destination,
		Name:        name,
		ExternalID:  externalID,
		CreatedAt:   rt.reconciler.now(),
	}
	if err := rt.store.CreateCollection(ctx, coll); err != nil {
		slog.Warn("collection created remotely but not saved", "collection", name, "external_id", externalID, "err", err)
		return nil, false, fmt.Errorf("save: %w", err)
	}
	slog.Info("collection created", "user", ownerID, "destination", rt.destination, "collection", name)
	return coll, true, nil
}

func (rt *Router) collectionNames(ctx context.Context, ownerID int64) map[string]string {
	names := make(map[string]string)
	colls, err := rt.store.ListCollections(ctx, ownerID, rt.destination)
	if err != nil {
		slog.Warn("list collections", "user", ownerID, "err", err)
		return names
	}
	for _, c := range colls {
		names[c.ExternalID] = c.Name
	}
	return names
}
