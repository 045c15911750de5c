package domain

import (
	"strings"
	"time"
)

// Category is the kind of feed entry, derived from its UID
type Category string

const (
	CategoryAssignment Category = "assignment"
	CategoryEvent      Category = "event"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	return c == CategoryAssignment || c == CategoryEvent
}

// Destination is one of the downstream synced collections
type Destination string

const (
	DestinationCalendar Destination = "calendar"
	DestinationTasks    Destination = "tasks"
)

// SourceItem is one classified feed entry
type SourceItem struct {
	UID         string
	Title       string // course code stripped
	RawTitle    string // SUMMARY as it appeared in the feed
	Description string
	Location    string
	URL         string
	Categories  []string
	Start       time.Time
	End         time.Time
	AllDay      bool
	CourseCode  string // empty when the title carries no course code
	Category    Category
}

// HasCourse returns true if a course code was extracted from the title
func (i *SourceItem) HasCourse() bool {
	return i.CourseCode != ""
}

// StableKey returns the provenance-marked key for this item
func (i *SourceItem) StableKey() string {
	return StableKey(i.UID)
}

// ProvenancePrefix marks records created by the sync engine. Records without
// it were authored by the user and are never deleted automatically.
const ProvenancePrefix = "coursesync:"

// StableKey builds the record key for a feed UID
func StableKey(uid string) string {
	return ProvenancePrefix + uid
}

// IsEngineKey reports whether key was produced by StableKey
func IsEngineKey(key string) bool {
	return strings.HasPrefix(key, ProvenancePrefix) && len(key) > len(ProvenancePrefix)
}

// UIDFromKey strips the provenance prefix. Unmarked keys are returned as is.
func UIDFromKey(key string) string {
	return strings.TrimPrefix(key, ProvenancePrefix)
}
