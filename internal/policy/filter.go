package policy

import (
	"time"

	"github.com/tazhate/coursesync/internal/domain"
)

// Options tune how a policy is applied
type Options struct {
	// EnforceExcludes turns the excluded course lists into a veto
	EnforceExcludes bool
}

// Routed is the result of applying a policy to classified items
type Routed struct {
	Calendar []domain.SourceItem
	Tasks    []domain.SourceItem

	// OutOfWindow counts items dropped by the date range
	OutOfWindow int
	// FilteredOut counts items routed to neither destination, window drops included
	FilteredOut int
}

// For returns the items routed to d
func (r *Routed) For(d domain.Destination) []domain.SourceItem {
	if d == domain.DestinationTasks {
		return r.Tasks
	}
	return r.Calendar
}

// Apply splits items into the calendar and task sets. Routing is evaluated
// independently per destination, so an item can land in both or neither.
func Apply(items []domain.SourceItem, p domain.Policy, now time.Time, opts Options) Routed {
	var r Routed
	from, to := Window(p.DateRange, now)

	for _, item := range items {
		if !inWindow(item, from, to) {
			r.OutOfWindow++
			r.FilteredOut++
			continue
		}

		toCalendar := eligible(item, p.Calendar, opts)
		toTasks := eligible(item, p.Tasks, opts)
		if toCalendar {
			r.Calendar = append(r.Calendar, item)
		}
		if toTasks {
			r.Tasks = append(r.Tasks, item)
		}
		if !toCalendar && !toTasks {
			r.FilteredOut++
		}
	}
	return r
}

// Window resolves the date range against now. Zero times mean unbounded.
func Window(dr domain.DateRange, now time.Time) (from, to time.Time) {
	if dr.PastDays != nil {
		from = now.AddDate(0, 0, -*dr.PastDays)
	}
	if dr.FutureDays != nil {
		to = now.AddDate(0, 0, *dr.FutureDays)
	}
	return from, to
}

func inWindow(item domain.SourceItem, from, to time.Time) bool {
	end := item.End
	if end.Before(item.Start) {
		end = item.Start
	}
	if !from.IsZero() && end.Before(from) {
		return false
	}
	if !to.IsZero() && item.Start.After(to) {
		return false
	}
	return true
}

// eligible applies one destination section. Items without a course code
// are never dropped by course lists.
func eligible(item domain.SourceItem, dp domain.DestinationPolicy, opts Options) bool {
	if !dp.Accepts(item.Category) {
		return false
	}
	if !item.HasCourse() {
		return true
	}
	if opts.EnforceExcludes && dp.Excludes(item.CourseCode) {
		return false
	}
	return dp.Includes(item.CourseCode)
}
