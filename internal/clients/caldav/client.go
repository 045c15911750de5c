package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/tazhate/coursesync/internal/domain"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"

	productID = "-//coursesync//CalDAV//EN"

	// PropSourceUID carries the feed UID on every event we write
	PropSourceUID = "X-COURSESYNC-UID"
)

// Client writes feed items as events into a CalDAV calendar
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu     sync.Mutex
	client *caldav.Client
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password string) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Transport: &basicAuthTransport{
				username: username,
				password: password,
			},
			Timeout: 30 * time.Second,
		},
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	client, err := caldav.NewClient(c.httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	if !c.IsConfigured() {
		return nil, domain.ErrUnauthorized
	}
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", mapError(err))
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", mapError(err))
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", mapError(err))
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
			Description: cal.Description,
		})
	}
	return result, nil
}

// CreateItem stores item as a new event and returns the event UID
func (c *Client) CreateItem(ctx context.Context, calendarPath string, item domain.SourceItem) (string, error) {
	uid := uuid.NewString()
	if err := c.put(ctx, calendarPath, uid, item); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	return uid, nil
}

// UpdateItem replaces the event; for CalDAV a PUT is both create and update
func (c *Client) UpdateItem(ctx context.Context, calendarPath, uid string, item domain.SourceItem) error {
	if err := c.put(ctx, calendarPath, uid, item); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// DeleteItem deletes an event by UID
func (c *Client) DeleteItem(ctx context.Context, calendarPath, uid string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	if err := client.RemoveAll(ctx, objectPath(calendarPath, uid)); err != nil {
		return fmt.Errorf("delete event: %w", mapError(err))
	}
	return nil
}

func (c *Client) put(ctx context.Context, calendarPath, uid string, item domain.SourceItem) error {
	if calendarPath == "" {
		return errors.New("calendar path not specified")
	}
	client, err := c.connect()
	if err != nil {
		return err
	}
	_, err = client.PutCalendarObject(ctx, objectPath(calendarPath, uid), itemToICS(uid, item, time.Now()))
	return mapError(err)
}

func objectPath(calendarPath, uid string) string {
	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}
	return calendarPath + uid + ".ics"
}

// mapError translates webdav status errors into domain errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404 Not Found"):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case strings.Contains(msg, "401 Unauthorized"), strings.Contains(msg, "403 Forbidden"):
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return err
}

// itemToICS converts a feed item to iCalendar format
func itemToICS(uid string, item domain.SourceItem, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, item.Title)
	vevent.Props.SetText(PropSourceUID, item.UID)

	if item.Description != "" {
		vevent.Props.SetText(ical.PropDescription, item.Description)
	}
	if item.Location != "" {
		vevent.Props.SetText(ical.PropLocation, item.Location)
	}
	if item.URL != "" {
		link := ical.NewProp(ical.PropURL)
		link.Value = item.URL
		vevent.Props.Set(link)
	}
	if item.CourseCode != "" {
		vevent.Props.SetText(ical.PropCategories, item.CourseCode)
	}

	if item.AllDay {
		vevent.Props.SetDate(ical.PropDateTimeStart, item.Start)
		end := item.End
		if !end.After(item.Start) {
			end = item.Start.AddDate(0, 0, 1)
		}
		vevent.Props.SetDate(ical.PropDateTimeEnd, end)
	} else {
		// Convert to UTC explicitly - iCalendar will use Z suffix
		vevent.Props.SetDateTime(ical.PropDateTimeStart, item.Start.UTC())
		if !item.End.IsZero() {
			vevent.Props.SetDateTime(ical.PropDateTimeEnd, item.End.UTC())
		}
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	cal.Children = append(cal.Children, vevent.Component)
	return cal
}
