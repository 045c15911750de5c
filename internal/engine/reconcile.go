package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tazhate/coursesync/internal/domain"
)

// DefaultConcurrency bounds the downstream calls of one pass
const DefaultConcurrency = 4

// RecordStore persists synced records and collections
type RecordStore interface {
	FindExisting(ctx context.Context, ownerID int64, d domain.Destination) ([]domain.SyncedRecord, error)
	CreateRecord(ctx context.Context, rec *domain.SyncedRecord) error
	UpdateRecord(ctx context.Context, rec *domain.SyncedRecord) error
	DeleteRecord(ctx context.Context, rec *domain.SyncedRecord) error

	// FindCollection returns nil, nil when no collection has that name
	FindCollection(ctx context.Context, ownerID int64, d domain.Destination, name string) (*domain.Collection, error)
	CreateCollection(ctx context.Context, c *domain.Collection) error
	ListCollections(ctx context.Context, ownerID int64, d domain.Destination) ([]domain.Collection, error)
}

// Remote mutates items of a downstream provider
type Remote interface {
	IsConfigured() bool
	CreateItem(ctx context.Context, collectionID string, item domain.SourceItem) (string, error)
	UpdateItem(ctx context.Context, collectionID, externalID string, item domain.SourceItem) error
	DeleteItem(ctx context.Context, collectionID, externalID string) error
}

// CollectionRemote is a Remote that can also create collections
type CollectionRemote interface {
	Remote
	CreateCollection(ctx context.Context, name string) (string, error)
}

// Scope pins a reconcile pass to one owner, destination and collection
type Scope struct {
	OwnerID        int64
	Destination    domain.Destination
	CollectionID   string // downstream id
	CollectionName string
	RemovedCourses []string
}

// Reconciler diffs incoming items against synced records and applies the
// difference downstream.
type Reconciler struct {
	Store       RecordStore
	Remote      Remote
	Concurrency int
	Now         func() time.Time
}

type opKind int

const (
	opUnchanged opKind = iota
	opCreate
	opUpdate
	opDelete
)

type operation struct {
	kind        opKind
	item        domain.SourceItem
	fingerprint string
	record      *domain.SyncedRecord
	reason      string
}

type opResult struct {
	ref ItemRef
	err error
}

// Reconcile runs one pass. existing must hold the records of the scoped
// collection only. Item failures are recorded, never returned.
func (r *Reconciler) Reconcile(ctx context.Context, scope Scope, items []domain.SourceItem, existing []domain.SyncedRecord) Outcome {
	ops := plan(scope, items, existing)
	results := make([]opResult, len(ops))

	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)

	// started calls finish even when ctx is cancelled so their result is recorded
	callCtx := context.WithoutCancel(ctx)
	for i := range ops {
		op := &ops[i]
		if op.kind == opUnchanged {
			results[i] = opResult{ref: r.ref(scope, op, op.record.ExternalID)}
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i] = opResult{ref: r.ref(scope, op, ""), err: fmt.Errorf("not attempted: %w", err)}
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = opResult{ref: r.ref(scope, op, ""), err: fmt.Errorf("not attempted: %w", err)}
				return nil
			}
			results[i] = r.apply(callCtx, scope, op)
			return nil
		})
	}
	_ = g.Wait()

	out := NewOutcome(scope.Destination)
	for i, res := range results {
		op := &ops[i]
		if res.err != nil {
			out.Errors = append(out.Errors, ItemError{
				UID:        res.ref.UID,
				CourseCode: op.courseCode(),
				Message:    res.err.Error(),
			})
			continue
		}
		switch op.kind {
		case opUnchanged:
			out.Unchanged = append(out.Unchanged, res.ref)
		case opCreate:
			out.Created = append(out.Created, res.ref)
		case opUpdate:
			out.Updated = append(out.Updated, res.ref)
		case opDelete:
			out.Deleted = append(out.Deleted, res.ref)
		}
	}

	slog.Info("reconcile finished",
		"user", scope.OwnerID,
		"destination", scope.Destination,
		"collection", scope.CollectionName,
		"created", len(out.Created),
		"updated", len(out.Updated),
		"deleted", len(out.Deleted),
		"unchanged", len(out.Unchanged),
		"errors", len(out.Errors),
	)
	return out
}

// plan decides the operation of every item and record. Items come first in
// feed order, then deletes in record order.
func plan(scope Scope, items []domain.SourceItem, existing []domain.SyncedRecord) []operation {
	byKey := make(map[string]*domain.SyncedRecord, len(existing))
	for i := range existing {
		rec := &existing[i]
		if _, dup := byKey[rec.StableKey]; !dup {
			byKey[rec.StableKey] = rec
		}
	}

	ops := make([]operation, 0, len(items)+len(existing))
	incoming := make(map[string]bool, len(items))
	for _, item := range items {
		key := item.StableKey()
		if incoming[key] {
			slog.Warn("duplicate item in pass ignored", "uid", item.UID)
			continue
		}
		incoming[key] = true

		op := operation{item: item, fingerprint: domain.Fingerprint(item)}
		switch rec, ok := byKey[key]; {
		case !ok:
			op.kind = opCreate
		case rec.Fingerprint != op.fingerprint:
			op.kind = opUpdate
			op.record = rec
		default:
			op.kind = opUnchanged
			op.record = rec
		}
		ops = append(ops, op)
	}

	for i := range existing {
		rec := &existing[i]
		if !domain.IsEngineKey(rec.StableKey) || incoming[rec.StableKey] {
			continue
		}
		if byKey[rec.StableKey] != rec {
			// a second row for a key already handled
			continue
		}
		reason := ReasonSourceRemoved
		if rec.CourseCode != "" && slices.Contains(scope.RemovedCourses, rec.CourseCode) {
			reason = ReasonPolicyChange
		}
		ops = append(ops, operation{kind: opDelete, record: rec, reason: reason})
	}
	return ops
}

func (r *Reconciler) apply(ctx context.Context, scope Scope, op *operation) opResult {
	switch op.kind {
	case opCreate:
		return r.create(ctx, scope, op)
	case opUpdate:
		return r.update(ctx, scope, op)
	case opDelete:
		return r.delete(ctx, scope, op)
	}
	return opResult{ref: r.ref(scope, op, "")}
}

func (r *Reconciler) create(ctx context.Context, scope Scope, op *operation) opResult {
	externalID, err := r.Remote.CreateItem(ctx, scope.CollectionID, op.item)
	if err != nil {
		return opResult{ref: r.ref(scope, op, ""), err: fmt.Errorf("create: %w", err)}
	}

	rec := domain.SyncedRecord{
		OwnerID:      scope.OwnerID,
		Destination:  scope.Destination,
		CollectionID: scope.CollectionID,
		ExternalID:   externalID,
		SyncedAt:     r.now(),
	}
	rec.Apply(op.item, op.fingerprint)
	if err := r.Store.CreateRecord(ctx, &rec); err != nil {
		// unrecorded remote items would be duplicated by the next run
		if derr := r.Remote.DeleteItem(ctx, scope.CollectionID, externalID); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
			slog.Error("orphaned remote item", "destination", scope.Destination, "uid", op.item.UID, "external_id", externalID, "err", derr)
		}
		return opResult{ref: r.ref(scope, op, externalID), err: fmt.Errorf("save record: %w", err)}
	}
	return opResult{ref: r.ref(scope, op, externalID)}
}

func (r *Reconciler) update(ctx context.Context, scope Scope, op *operation) opResult {
	rec := *op.record
	err := r.Remote.UpdateItem(ctx, scope.CollectionID, rec.ExternalID, op.item)
	if errors.Is(err, domain.ErrNotFound) {
		// removed downstream behind our back; put it back
		var externalID string
		externalID, err = r.Remote.CreateItem(ctx, scope.CollectionID, op.item)
		if err == nil {
			slog.Info("recreated missing remote item", "uid", op.item.UID, "old_external_id", rec.ExternalID, "external_id", externalID)
			rec.ExternalID = externalID
		}
	}
	if err != nil {
		return opResult{ref: r.ref(scope, op, rec.ExternalID), err: fmt.Errorf("update: %w", err)}
	}

	rec.Apply(op.item, op.fingerprint)
	rec.SyncedAt = r.now()
	if err := r.Store.UpdateRecord(ctx, &rec); err != nil {
		return opResult{ref: r.ref(scope, op, rec.ExternalID), err: fmt.Errorf("save record: %w", err)}
	}
	return opResult{ref: r.ref(scope, op, rec.ExternalID)}
}

func (r *Reconciler) delete(ctx context.Context, scope Scope, op *operation) opResult {
	rec := op.record
	if err := r.Remote.DeleteItem(ctx, scope.CollectionID, rec.ExternalID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return opResult{ref: r.ref(scope, op, rec.ExternalID), err: fmt.Errorf("delete: %w", err)}
	}
	if err := r.Store.DeleteRecord(ctx, rec); err != nil {
		return opResult{ref: r.ref(scope, op, rec.ExternalID), err: fmt.Errorf("delete record: %w", err)}
	}
	return opResult{ref: r.ref(scope, op, rec.ExternalID)}
}

func (r *Reconciler) ref(scope Scope, op *operation, externalID string) ItemRef {
	ref := ItemRef{ExternalID: externalID, Collection: scope.CollectionName, Reason: op.reason}
	if op.kind == opDelete {
		ref.UID = op.record.UID()
		ref.Title = op.record.Title
	} else {
		ref.UID = op.item.UID
		ref.Title = op.item.Title
	}
	return ref
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (op *operation) courseCode() string {
	if op.kind == opDelete {
		return op.record.CourseCode
	}
	return op.item.CourseCode
}
