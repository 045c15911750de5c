package feed

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/coursesync/internal/domain"
)

// ErrMalformedFeed is returned when the payload is not usable calendar data
var ErrMalformedFeed = errors.New("malformed feed")

// DefaultMaxEntries caps the number of items a feed may produce
const DefaultMaxEntries = 5000

const (
	propCalendarName = "X-WR-CALNAME"
	propCalendarTZ   = "X-WR-TIMEZONE"
	occurrenceLayout = "20060102T150405Z"
)

// Feed is a parsed calendar export
type Feed struct {
	Name     string
	Timezone string
	Items    []domain.SourceItem
}

type parseOptions struct {
	maxEntries int
	location   *time.Location
	expandFrom time.Time
	expandTo   time.Time
}

// ParseOption configures Parse
type ParseOption func(*parseOptions)

// WithMaxEntries sets the entry ceiling
func WithMaxEntries(n int) ParseOption {
	return func(o *parseOptions) { o.maxEntries = n }
}

// WithLocation sets the zone for floating times when the feed names none
func WithLocation(loc *time.Location) ParseOption {
	return func(o *parseOptions) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithRecurrenceWindow expands recurring entries into the occurrences that
// start within [from, to]. Without it only the first instance is emitted.
func WithRecurrenceWindow(from, to time.Time) ParseOption {
	return func(o *parseOptions) {
		o.expandFrom = from
		o.expandTo = to
	}
}

// Parse decodes raw ICS data into classified items, preserving feed order.
func Parse(raw []byte, opts ...ParseOption) (*Feed, error) {
	o := parseOptions{maxEntries: DefaultMaxEntries, location: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFeed)
	}

	cal, err := ical.NewDecoder(bytes.NewReader(raw)).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFeed, err)
	}
	if cal == nil || cal.Component == nil || cal.Name != ical.CompCalendar {
		return nil, fmt.Errorf("%w: no VCALENDAR", ErrMalformedFeed)
	}

	feed := &Feed{}
	feed.Name, _ = cal.Props.Text(propCalendarName)

	loc := o.location
	if tz, _ := cal.Props.Text(propCalendarTZ); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
			feed.Timezone = tz
		} else {
			slog.Warn("feed timezone unknown, using default", "tz", tz, "default", loc.String())
		}
	}

	events := cal.Events()
	if o.maxEntries > 0 && len(events) > o.maxEntries {
		return nil, fmt.Errorf("%w: %d entries exceed limit %d", ErrMalformedFeed, len(events), o.maxEntries)
	}

	seen := make(map[string]bool, len(events))
	for i := range events {
		items, err := parseEvent(&events[i], loc, o)
		if err != nil {
			slog.Warn("skipping feed entry", "index", i, "err", err)
			continue
		}
		for _, item := range items {
			if seen[item.UID] {
				slog.Warn("duplicate feed uid dropped", "uid", item.UID)
				continue
			}
			seen[item.UID] = true
			feed.Items = append(feed.Items, item)
		}
		if o.maxEntries > 0 && len(feed.Items) > o.maxEntries {
			return nil, fmt.Errorf("%w: more than %d items after expansion", ErrMalformedFeed, o.maxEntries)
		}
	}

	slog.Debug("feed parsed", "name", feed.Name, "entries", len(events), "items", len(feed.Items))
	return feed, nil
}

func parseEvent(ev *ical.Event, loc *time.Location, o parseOptions) ([]domain.SourceItem, error) {
	uid, _ := ev.Props.Text(ical.PropUID)
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, errors.New("missing UID")
	}

	startProp := ev.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, fmt.Errorf("%s: missing DTSTART", uid)
	}
	start, err := instant(startProp, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: DTSTART: %w", uid, err)
	}
	allDay := isDate(startProp)

	end, err := ev.DateTimeEnd(loc)
	if err != nil || end.IsZero() {
		end = start
		if allDay {
			end = start.AddDate(0, 0, 1)
		}
	}

	summary, _ := ev.Props.Text(ical.PropSummary)
	description, _ := ev.Props.Text(ical.PropDescription)
	location, _ := ev.Props.Text(ical.PropLocation)
	link, _ := ev.Props.Text(ical.PropURL)

	class := Classify(uid, summary)
	item := domain.SourceItem{
		UID:         uid,
		Title:       class.Title,
		RawTitle:    summary,
		Description: description,
		Location:    location,
		URL:         link,
		Categories:  categories(ev),
		Start:       start,
		End:         end,
		AllDay:      allDay,
		CourseCode:  class.CourseCode,
		Category:    class.Category,
	}

	if o.expandFrom.IsZero() || ev.Props.Get(ical.PropRecurrenceRule) == nil {
		return []domain.SourceItem{item}, nil
	}
	set, err := ev.RecurrenceSet(loc)
	if err != nil {
		return nil, fmt.Errorf("%s: RRULE: %w", uid, err)
	}
	if set == nil {
		return []domain.SourceItem{item}, nil
	}
	return expand(item, set, o.expandFrom, o.expandTo), nil
}

// expand turns a recurring item into one item per occurrence in [from, to]
func expand(master domain.SourceItem, set *rrule.Set, from, to time.Time) []domain.SourceItem {
	duration := master.End.Sub(master.Start)
	occurrences := set.Between(from, to, true)
	out := make([]domain.SourceItem, 0, len(occurrences))
	for _, occ := range occurrences {
		item := master
		item.UID = master.UID + "/" + occ.UTC().Format(occurrenceLayout)
		item.Start = occ
		item.End = occ.Add(duration)
		out = append(out, item)
	}
	return out
}

// instant resolves a DTSTART-like property, falling back to the feed zone
// when the TZID is not a known location.
func instant(prop *ical.Prop, loc *time.Location) (time.Time, error) {
	t, err := prop.DateTime(loc)
	if err == nil {
		return t, nil
	}
	value := strings.TrimSpace(prop.Value)
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102"} {
		if len(value) != len(layout) {
			continue
		}
		if strings.HasSuffix(layout, "Z") {
			if t, perr := time.Parse(layout, value); perr == nil {
				return t, nil
			}
			continue
		}
		if t, perr := time.ParseInLocation(layout, value, loc); perr == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func isDate(prop *ical.Prop) bool {
	if strings.EqualFold(prop.Params.Get(ical.ParamValue), string(ical.ValueDate)) {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

func categories(ev *ical.Event) []string {
	var out []string
	for _, p := range ev.Props[ical.PropCategories] {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}
