package domain

import (
	"fmt"
	"slices"
)

// Grouping controls how task items are spread over collections
type Grouping string

const (
	GroupingPerCourse    Grouping = "per_course"
	GroupingConsolidated Grouping = "consolidated"
)

// Policy is the per-user routing configuration applied to a run
type Policy struct {
	Calendar  DestinationPolicy `json:"calendar" yaml:"calendar"`
	Tasks     DestinationPolicy `json:"tasks" yaml:"tasks"`
	DateRange DateRange         `json:"date_range" yaml:"date_range"`
	Sync      SyncSettings      `json:"sync" yaml:"sync"`
}

// DestinationPolicy holds the rules for one destination
type DestinationPolicy struct {
	Categories      []Category `json:"categories" yaml:"categories"`
	IncludedCourses []string   `json:"included_courses" yaml:"included_courses"`
	ExcludedCourses []string   `json:"excluded_courses" yaml:"excluded_courses"`

	// Tasks only
	Grouping   Grouping `json:"grouping,omitempty" yaml:"grouping,omitempty"`
	ListPrefix string   `json:"list_prefix,omitempty" yaml:"list_prefix,omitempty"`
}

// DateRange bounds the items considered by a run. Nil means unbounded.
type DateRange struct {
	PastDays   *int `json:"past_days,omitempty" yaml:"past_days,omitempty"`
	FutureDays *int `json:"future_days,omitempty" yaml:"future_days,omitempty"`
}

// SyncSettings drive the scheduler
type SyncSettings struct {
	AutoSync      bool `json:"auto_sync" yaml:"auto_sync"`
	IntervalHours int  `json:"interval_hours" yaml:"interval_hours"`
}

// DefaultPolicy returns the policy used for users who never saved one
func DefaultPolicy() Policy {
	future := 365
	return Policy{
		Calendar: DestinationPolicy{
			Categories:      []Category{CategoryEvent},
			IncludedCourses: []string{},
			ExcludedCourses: []string{},
		},
		Tasks: DestinationPolicy{
			Categories:      []Category{CategoryAssignment},
			IncludedCourses: []string{},
			ExcludedCourses: []string{},
			Grouping:        GroupingPerCourse,
		},
		DateRange: DateRange{FutureDays: &future},
		Sync:      SyncSettings{AutoSync: false, IntervalHours: 6},
	}
}

// Normalize fills zero values left by partially written policies
func (p *Policy) Normalize() {
	if p.Tasks.Grouping == "" {
		p.Tasks.Grouping = GroupingPerCourse
	}
	if p.Sync.IntervalHours <= 0 {
		p.Sync.IntervalHours = 6
	}
	if p.Calendar.IncludedCourses == nil {
		p.Calendar.IncludedCourses = []string{}
	}
	if p.Tasks.IncludedCourses == nil {
		p.Tasks.IncludedCourses = []string{}
	}
}

// For returns the section of the policy that applies to d
func (p *Policy) For(d Destination) DestinationPolicy {
	if d == DestinationTasks {
		return p.Tasks
	}
	return p.Calendar
}

// Accepts reports whether the destination takes items of category c
func (dp DestinationPolicy) Accepts(c Category) bool {
	return slices.Contains(dp.Categories, c)
}

// Includes reports whether courseCode is in the included list
func (dp DestinationPolicy) Includes(courseCode string) bool {
	return slices.Contains(dp.IncludedCourses, courseCode)
}

// Excludes reports whether courseCode is in the excluded list
func (dp DestinationPolicy) Excludes(courseCode string) bool {
	return slices.Contains(dp.ExcludedCourses, courseCode)
}

// Validate rejects values a run could not interpret
func (p *Policy) Validate() error {
	for _, d := range []Destination{DestinationCalendar, DestinationTasks} {
		for _, c := range p.For(d).Categories {
			if !c.Valid() {
				return fmt.Errorf("%s: unknown category %q", d, c)
			}
		}
	}
	switch p.Tasks.Grouping {
	case "", GroupingPerCourse, GroupingConsolidated:
	default:
		return fmt.Errorf("tasks: unknown grouping %q", p.Tasks.Grouping)
	}
	if p.DateRange.PastDays != nil && *p.DateRange.PastDays < 0 {
		return fmt.Errorf("date_range.past_days must not be negative")
	}
	if p.DateRange.FutureDays != nil && *p.DateRange.FutureDays < 0 {
		return fmt.Errorf("date_range.future_days must not be negative")
	}
	if p.Sync.IntervalHours < 0 {
		return fmt.Errorf("sync.interval_hours must not be negative")
	}
	return nil
}
