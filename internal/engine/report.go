package engine

import (
	"time"

	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/policy"
)

// Delete reasons
const (
	ReasonSourceRemoved = "source_removed"
	ReasonPolicyChange  = "policy_change"
)

// ItemRef describes one item touched (or left alone) by a run
type ItemRef struct {
	UID        string `json:"uid"`
	Title      string `json:"title"`
	ExternalID string `json:"external_id,omitempty"`
	Collection string `json:"collection,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ItemError is a failure scoped to one item. UID is empty for run-level failures.
type ItemError struct {
	UID        string `json:"uid,omitempty"`
	CourseCode string `json:"course_code,omitempty"`
	Message    string `json:"message"`
}

// CollectionReport lists the collections a run used, by name
type CollectionReport struct {
	Created  []string `json:"created"`
	Existing []string `json:"existing"`
}

// Outcome is the result of one destination pass
type Outcome struct {
	Destination domain.Destination `json:"destination"`
	Collections CollectionReport   `json:"collections"`
	Created     []ItemRef          `json:"created"`
	Updated     []ItemRef          `json:"updated"`
	Deleted     []ItemRef          `json:"deleted"`
	Unchanged   []ItemRef          `json:"unchanged"`
	Errors      []ItemError        `json:"errors"`
	Aborted     bool               `json:"aborted,omitempty"`
}

// NewOutcome returns an outcome with empty, non-nil lists
func NewOutcome(d domain.Destination) Outcome {
	return Outcome{
		Destination: d,
		Collections: CollectionReport{Created: []string{}, Existing: []string{}},
		Created:     []ItemRef{},
		Updated:     []ItemRef{},
		Deleted:     []ItemRef{},
		Unchanged:   []ItemRef{},
		Errors:      []ItemError{},
	}
}

// Failed builds the outcome of a pass that could not start: a single
// top-level error and nothing else.
func Failed(d domain.Destination, err error) Outcome {
	o := NewOutcome(d)
	o.Aborted = true
	o.Errors = append(o.Errors, ItemError{Message: err.Error()})
	return o
}

// Fatal reports whether the pass failed before touching any item
func (o *Outcome) Fatal() bool {
	return o.Aborted
}

// Merge appends the lists of other to o
func (o *Outcome) Merge(other Outcome) {
	o.Collections.Created = append(o.Collections.Created, other.Collections.Created...)
	o.Collections.Existing = append(o.Collections.Existing, other.Collections.Existing...)
	o.Created = append(o.Created, other.Created...)
	o.Updated = append(o.Updated, other.Updated...)
	o.Deleted = append(o.Deleted, other.Deleted...)
	o.Unchanged = append(o.Unchanged, other.Unchanged...)
	o.Errors = append(o.Errors, other.Errors...)
	o.Aborted = o.Aborted || other.Aborted
}

// Summary holds per-destination counts
type Summary struct {
	CollectionsCreated int `json:"collections_created"`
	Created            int `json:"created"`
	Updated            int `json:"updated"`
	Deleted            int `json:"deleted"`
	Unchanged          int `json:"unchanged"`
	Errored            int `json:"errored"`
}

// Summary counts the outcome lists
func (o *Outcome) Summary() Summary {
	return Summary{
		CollectionsCreated: len(o.Collections.Created),
		Created:            len(o.Created),
		Updated:            len(o.Updated),
		Deleted:            len(o.Deleted),
		Unchanged:          len(o.Unchanged),
		Errored:            len(o.Errors),
	}
}

// Changed reports whether anything was written downstream
func (s Summary) Changed() bool {
	return s.Created+s.Updated+s.Deleted+s.CollectionsCreated > 0
}

// RunMetadata describes the run as a whole
type RunMetadata struct {
	TotalParsed int       `json:"total_parsed"`
	ToCalendar  int       `json:"to_calendar"`
	ToTasks     int       `json:"to_tasks"`
	FilteredOut int       `json:"filtered_out"`
	OutOfWindow int       `json:"out_of_window"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// CombinedReport is the artifact of a run
type CombinedReport struct {
	Calendar        Outcome        `json:"calendar"`
	Tasks           Outcome        `json:"tasks"`
	CalendarSummary Summary        `json:"calendar_summary"`
	TasksSummary    Summary        `json:"tasks_summary"`
	PolicyChanges   policy.Changes `json:"policy_changes"`
	Metadata        RunMetadata    `json:"metadata"`
}

// Combine joins both destination outcomes with the run metadata
func Combine(calendar, tasks Outcome, meta RunMetadata) CombinedReport {
	calendar = normalize(calendar, domain.DestinationCalendar)
	tasks = normalize(tasks, domain.DestinationTasks)
	return CombinedReport{
		Calendar:        calendar,
		Tasks:           tasks,
		CalendarSummary: calendar.Summary(),
		TasksSummary:    tasks.Summary(),
		PolicyChanges:   policy.NoChanges(),
		Metadata:        meta,
	}
}

// Failed reports whether either destination ended fail-fast
func (r *CombinedReport) Failed() bool {
	return r.Calendar.Fatal() || r.Tasks.Fatal()
}

// normalize replaces nil lists so the JSON form never carries null
func normalize(o Outcome, d domain.Destination) Outcome {
	n := NewOutcome(d)
	if o.Destination != "" {
		n.Destination = o.Destination
	}
	n.Merge(o)
	return n
}
