package feed

import (
	"slices"
	"time"

	"github.com/tazhate/coursesync/internal/domain"
)

// CourseInfo describes the entries of one course code
type CourseInfo struct {
	Code        string
	Items       int
	Assignments int
	Events      int
	First       time.Time
	Last        time.Time
}

// Overview summarizes a feed so the user can pick courses for a policy.
// Codes are the normalized form policies expect.
type Overview struct {
	Courses     []CourseInfo // sorted by code
	Total       int
	Uncoded     int
	Assignments int
	Events      int
	First       time.Time
	Last        time.Time
}

// Summarize aggregates items by course code
func Summarize(items []domain.SourceItem) Overview {
	var ov Overview
	byCode := make(map[string]*CourseInfo)

	for _, item := range items {
		ov.Total++
		countCategory(item.Category, &ov.Assignments, &ov.Events)
		ov.First, ov.Last = span(ov.First, ov.Last, item.Start)

		if !item.HasCourse() {
			ov.Uncoded++
			continue
		}
		c, ok := byCode[item.CourseCode]
		if !ok {
			c = &CourseInfo{Code: item.CourseCode}
			byCode[item.CourseCode] = c
		}
		c.Items++
		countCategory(item.Category, &c.Assignments, &c.Events)
		c.First, c.Last = span(c.First, c.Last, item.Start)
	}

	ov.Courses = make([]CourseInfo, 0, len(byCode))
	for _, c := range byCode {
		ov.Courses = append(ov.Courses, *c)
	}
	slices.SortFunc(ov.Courses, func(a, b CourseInfo) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return 0
	})
	return ov
}

func countCategory(c domain.Category, assignments, events *int) {
	if c == domain.CategoryAssignment {
		*assignments++
	} else {
		*events++
	}
}

func span(first, last, t time.Time) (time.Time, time.Time) {
	if t.IsZero() {
		return first, last
	}
	if first.IsZero() || t.Before(first) {
		first = t
	}
	if last.IsZero() || t.After(last) {
		last = t
	}
	return first, last
}
