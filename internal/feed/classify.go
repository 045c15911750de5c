package feed

import (
	"regexp"
	"strings"

	"github.com/tazhate/coursesync/internal/domain"
)

var (
	// "CSCE 331 - Assignment", "ABCD1234E — Title"
	leadingCode  = regexp.MustCompile(`^([A-Z]{2,4})[-\s]?(\d{3,4}[A-Z]?)\b`)
	leadingStrip = regexp.MustCompile(`^[A-Z]{2,4}[-\s]?\d{3,4}[A-Z]?\b\s*(?:[-–—:]\s*)?`)

	// "Assignment [CSCE-331:916,970]"
	trailingBracket = regexp.MustCompile(`\s*\[([A-Z]{2,4})[-\s]?(\d{3,4}[A-Z]?)[^\]]*\]\s*$`)
)

// Classification is what the classifier derives from a feed entry
type Classification struct {
	CourseCode string
	Category   domain.Category
	Title      string
}

// Classify extracts the course code and category of an entry and strips the
// course code noise from its title.
func Classify(uid, title string) Classification {
	c := Classification{
		CourseCode: courseCode(title),
		Category:   categoryFromUID(uid),
	}

	cleaned := leadingStrip.ReplaceAllString(title, "")
	cleaned = trailingBracket.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = strings.TrimSpace(title)
	}
	c.Title = cleaned
	return c
}

func courseCode(title string) string {
	if m := leadingCode.FindStringSubmatch(title); m != nil {
		return m[1] + m[2]
	}
	if m := trailingBracket.FindStringSubmatch(title); m != nil {
		return m[1] + m[2]
	}
	return ""
}

// uidCategories maps the structural part of a Canvas UID to a category.
// Canvas UIDs look like event-assignment-123, event-assignment-override-9
// or event-calendar-event-77.
var uidCategories = []struct {
	prefix   string
	category domain.Category
}{
	{"assignment-", domain.CategoryAssignment}, // also assignment-override-
	{"sub-assignment-", domain.CategoryAssignment},
	{"calendar-event-", domain.CategoryEvent},
}

func categoryFromUID(uid string) domain.Category {
	rest := strings.TrimPrefix(uid, "event-")
	for _, c := range uidCategories {
		if strings.HasPrefix(rest, c.prefix) {
			return c.category
		}
	}
	return domain.CategoryEvent
}
