package domain

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a stored or remote object does not exist
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when downstream credentials are missing or rejected
	ErrUnauthorized = errors.New("not authorized")
)

// SyncedRecord is a downstream item previously written by a sync run
type SyncedRecord struct {
	ID           int64
	OwnerID      int64
	Destination  Destination
	CollectionID string // downstream id of the calendar / project
	StableKey    string
	ExternalID   string // downstream id of the item itself
	Fingerprint  string
	CourseCode   string

	// Mirrored from the last successful write
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool

	SyncedAt time.Time
}

// UID returns the feed UID this record was created from
func (r *SyncedRecord) UID() string {
	return UIDFromKey(r.StableKey)
}

// Apply copies display fields and fingerprint of item onto the record
func (r *SyncedRecord) Apply(item SourceItem, fingerprint string) {
	r.StableKey = item.StableKey()
	r.Fingerprint = fingerprint
	r.CourseCode = item.CourseCode
	r.Title = item.Title
	r.Description = item.Description
	r.Location = item.Location
	r.Start = item.Start
	r.End = item.End
	r.AllDay = item.AllDay
}

// Collection is a downstream container: a CalDAV calendar or a Todoist project
type Collection struct {
	ID          int64
	OwnerID     int64
	Destination Destination
	Name        string
	ExternalID  string
	CreatedAt   time.Time
}

// CalendarCollection is the collection name used for the calendar destination
const CalendarCollection = "calendar"

// User owns a feed, a policy and the synced records
type User struct {
	ID             int64
	Name           string
	FeedURL        string
	TelegramChatID int64
	CreatedAt      time.Time
}

// RunStatus is the overall result of a sync run
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// SyncRun is the history entry of one run
type SyncRun struct {
	ID          int64
	UserID      int64
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Report      string // combined report JSON, empty when the run failed early
	Error       string
}
