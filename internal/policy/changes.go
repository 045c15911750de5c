package policy

import (
	"slices"

	"github.com/tazhate/coursesync/internal/domain"
)

// CourseChanges lists courses that left or joined a destination's included list
type CourseChanges struct {
	Removed []string `json:"removed"`
	Added   []string `json:"added"`
}

// Empty reports whether nothing changed
func (c CourseChanges) Empty() bool {
	return len(c.Removed) == 0 && len(c.Added) == 0
}

// Changes is the per-destination difference between two policies
type Changes struct {
	Calendar CourseChanges `json:"calendar"`
	Tasks    CourseChanges `json:"tasks"`
}

// For returns the changes of destination d
func (c Changes) For(d domain.Destination) CourseChanges {
	if d == domain.DestinationTasks {
		return c.Tasks
	}
	return c.Calendar
}

// NoChanges returns an empty, non-nil Changes
func NoChanges() Changes {
	return Changes{
		Calendar: CourseChanges{Removed: []string{}, Added: []string{}},
		Tasks:    CourseChanges{Removed: []string{}, Added: []string{}},
	}
}

// Diff compares the included course lists of the last applied policy with the
// current one. Without a last policy nothing counts as changed.
func Diff(last *domain.Policy, current domain.Policy) Changes {
	if last == nil {
		return NoChanges()
	}
	return Changes{
		Calendar: diffCourses(last.Calendar.IncludedCourses, current.Calendar.IncludedCourses),
		Tasks:    diffCourses(last.Tasks.IncludedCourses, current.Tasks.IncludedCourses),
	}
}

func diffCourses(before, after []string) CourseChanges {
	return CourseChanges{
		Removed: missing(before, after),
		Added:   missing(after, before),
	}
}

// missing returns the elements of a not present in b, deduplicated, in a's order
func missing(a, b []string) []string {
	out := []string{}
	for _, v := range a {
		if !slices.Contains(b, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
