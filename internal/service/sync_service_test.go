package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/coursesync/internal/domain"
	"github.com/tazhate/coursesync/internal/engine"
	"github.com/tazhate/coursesync/internal/storage"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu    sync.Mutex
	body  string
	err   error
	urls  []string
	block chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return []byte(f.body), f.err
}

type fakeRemote struct {
	mu     sync.Mutex
	next   int
	items  map[string]string // external id -> title
	colls  []string
	drops  []string
	broken bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{items: map[string]string{}}
}

func (r *fakeRemote) IsConfigured() bool { return !r.broken }

func (r *fakeRemote) CreateItem(_ context.Context, _ string, item domain.SourceItem) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := fmt.Sprintf("x-%d", r.next)
	r.items[id] = item.Title
	return id, nil
}

func (r *fakeRemote) UpdateItem(_ context.Context, _, externalID string, item domain.SourceItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[externalID]; !ok {
		return domain.ErrNotFound
	}
	r.items[externalID] = item.Title
	return nil
}

func (r *fakeRemote) DeleteItem(_ context.Context, _, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[externalID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.items, externalID)
	return nil
}

func (r *fakeRemote) CreateCollection(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colls = append(r.colls, name)
	return "p-" + name, nil
}

func (r *fakeRemote) DeleteCollection(_ context.Context, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, externalID)
	return nil
}

func (r *fakeRemote) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.items {
		out = append(out, t)
	}
	return out
}

type fixture struct {
	store    *storage.Storage
	fetcher  *fakeFetcher
	calendar *fakeRemote
	tasks    *fakeRemote
	svc      *SyncService
	user     *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.New(filepath.Join(t.TempDir(), "coursesync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	user := &domain.User{Name: "jane", FeedURL: "https://canvas.tamu.edu/feeds/calendars/user_1.ics"}
	require.NoError(t, store.CreateUser(ctx, user))
	require.NoError(t, store.SetCollection(ctx, &domain.Collection{
		OwnerID: user.ID, Destination: domain.DestinationCalendar, Name: domain.CalendarCollection, ExternalID: "/cal/school/",
	}))

	p := domain.DefaultPolicy()
	p.Calendar.IncludedCourses = []string{"CS101", "MATH2413"}
	p.Tasks.IncludedCourses = []string{"CS101", "MATH2413"}
	require.NoError(t, store.SetCurrentPolicy(ctx, user.ID, p))

	f := &fixture{
		store:    store,
		fetcher:  &fakeFetcher{body: canvasFeed},
		calendar: newFakeRemote(),
		tasks:    newFakeRemote(),
		user:     user,
	}
	runner := &engine.Runner{Store: store, Calendar: f.calendar, Tasks: f.tasks, Concurrency: 2}
	f.svc = NewSyncService(store, f.fetcher, runner, SyncOptions{})
	f.svc.now = func() time.Time { return testNow }
	return f
}

var canvasFeed = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//Instructure//Canvas//EN",
	"BEGIN:VEVENT",
	"UID:event-assignment-1",
	"DTSTAMP:20240301T120000Z",
	"DTSTART:20240315T235900Z",
	"SUMMARY:CS101 - Homework 1",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:event-assignment-2",
	"DTSTAMP:20240301T120000Z",
	"DTSTART:20240316T235900Z",
	"SUMMARY:MATH2413 - Quiz",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:event-calendar-event-3",
	"DTSTAMP:20240301T120000Z",
	"DTSTART:20240312T150000Z",
	"DTEND:20240312T161500Z",
	"SUMMARY:CS101 - Lecture",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func TestSyncEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.svc.Sync(ctx, f.user.ID, "")
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, []string{f.user.FeedURL}, f.fetcher.urls)
	assert.Equal(t, 3, report.Metadata.TotalParsed)
	assert.Equal(t, 1, report.CalendarSummary.Created)
	assert.Equal(t, 2, report.TasksSummary.Created)
	assert.ElementsMatch(t, []string{"CS101", "MATH2413"}, f.tasks.colls)
	assert.ElementsMatch(t, []string{"Lecture"}, f.calendar.titles())

	last, err := f.store.GetLastAppliedPolicy(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, []string{"CS101", "MATH2413"}, last.Tasks.IncludedCourses)

	runs, err := f.store.ListSyncRuns(ctx, f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunSucceeded, runs[0].Status)

	var stored engine.CombinedReport
	require.NoError(t, json.Unmarshal([]byte(runs[0].Report), &stored))
	assert.Equal(t, 2, stored.TasksSummary.Created)
}

func TestSyncSecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, f.user.ID, "")
	require.NoError(t, err)
	report, err := f.svc.Sync(ctx, f.user.ID, "")
	require.NoError(t, err)

	assert.False(t, report.CalendarSummary.Changed())
	assert.False(t, report.TasksSummary.Changed())
	assert.Equal(t, 2, report.TasksSummary.Unchanged)
}

func TestSyncRemovesDroppedCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, f.user.ID, "")
	require.NoError(t, err)

	p, err := f.store.GetCurrentPolicy(ctx, f.user.ID)
	require.NoError(t, err)
	p.Tasks.IncludedCourses = []string{"CS101"}
	require.NoError(t, f.store.SetCurrentPolicy(ctx, f.user.ID, p))

	report, err := f.svc.Sync(ctx, f.user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"MATH2413"}, report.PolicyChanges.Tasks.Removed)
	require.Len(t, report.Tasks.Deleted, 1)
	assert.Equal(t, engine.ReasonPolicyChange, report.Tasks.Deleted[0].Reason)
	assert.ElementsMatch(t, []string{"Homework 1"}, f.tasks.titles())
}

func TestSyncFeedOverride(t *testing.T) {
	f := newFixture(t)
	other := "https://canvas.tamu.edu/feeds/calendars/user_2.ics"

	_, err := f.svc.Sync(context.Background(), f.user.ID, other)
	require.NoError(t, err)
	assert.Equal(t, []string{other}, f.fetcher.urls)
}

func TestSyncFetchFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.err = errors.New("connection refused")

	report, err := f.svc.Sync(ctx, f.user.ID, "")
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "fetch feed")

	runs, err := f.store.ListSyncRuns(ctx, f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "connection refused")

	last, err := f.store.GetLastAppliedPolicy(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSyncMalformedFeed(t *testing.T) {
	f := newFixture(t)
	f.fetcher.body = "<html>login</html>"

	_, err := f.svc.Sync(context.Background(), f.user.ID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse feed")
	assert.Empty(t, f.tasks.titles())
}

func TestSyncDestinationFailureKeepsLastPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tasks.broken = true

	report, err := f.svc.Sync(ctx, f.user.ID, "")
	require.NoError(t, err)
	assert.True(t, report.Tasks.Aborted)
	assert.Equal(t, 1, report.CalendarSummary.Created, "calendar is isolated from the task failure")

	last, err := f.store.GetLastAppliedPolicy(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	runs, err := f.store.ListSyncRuns(ctx, f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
}

func TestSyncUnknownUserAndMissingFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, 999, "")
	assert.ErrorIs(t, err, ErrUserNotFound)

	u := &domain.User{Name: "nofeed"}
	require.NoError(t, f.store.CreateUser(ctx, u))
	_, err = f.svc.Sync(ctx, u.ID, "")
	assert.ErrorIs(t, err, ErrNoFeed)
}

func TestSyncRejectsConcurrentRunForSameUser(t *testing.T) {
	f := newFixture(t)
	f.fetcher.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Sync(context.Background(), f.user.ID, "")
		done <- err
	}()

	require.Eventually(t, func() bool {
		f.svc.mu.Lock()
		defer f.svc.mu.Unlock()
		return f.svc.running[f.user.ID]
	}, time.Second, 5*time.Millisecond)

	_, err := f.svc.Sync(context.Background(), f.user.ID, "")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(f.fetcher.block)
	require.NoError(t, <-done)
}

func TestResetClearsSyncedData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, f.user.ID, "")
	require.NoError(t, err)

	report, err := f.svc.Reset(ctx, f.user.ID, false)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Len(t, report.Calendar.Deleted, 1)
	assert.Len(t, report.Tasks.Deleted, 2)
	assert.ElementsMatch(t, []string{"CS101", "MATH2413"}, report.Tasks.CollectionsDeleted)
	assert.ElementsMatch(t, []string{"p-CS101", "p-MATH2413"}, f.tasks.drops)
	assert.Empty(t, f.calendar.titles())
	assert.Empty(t, f.tasks.titles())

	for _, d := range []domain.Destination{domain.DestinationCalendar, domain.DestinationTasks} {
		recs, err := f.store.FindExisting(ctx, f.user.ID, d)
		require.NoError(t, err)
		assert.Empty(t, recs, d)
	}
	cal, err := f.store.FindCollection(ctx, f.user.ID, domain.DestinationCalendar, domain.CalendarCollection)
	require.NoError(t, err)
	require.NotNil(t, cal)

	again, err := f.svc.Sync(ctx, f.user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, again.TasksSummary.CollectionsCreated, "the next sync starts from scratch")
	assert.Equal(t, 2, again.TasksSummary.Created)
	assert.Equal(t, 1, again.CalendarSummary.Created)
}

func TestResetUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reset(context.Background(), 999, false)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRunStatus(t *testing.T) {
	ok := engine.Combine(engine.NewOutcome(domain.DestinationCalendar), engine.NewOutcome(domain.DestinationTasks), engine.RunMetadata{})
	assert.Equal(t, domain.RunSucceeded, runStatus(&ok))

	partial := engine.NewOutcome(domain.DestinationTasks)
	partial.Errors = append(partial.Errors, engine.ItemError{UID: "a", Message: "boom"})
	r := engine.Combine(engine.NewOutcome(domain.DestinationCalendar), partial, engine.RunMetadata{})
	assert.Equal(t, domain.RunPartial, runStatus(&r))

	failed := engine.Combine(engine.Failed(domain.DestinationCalendar, errors.New("down")), engine.NewOutcome(domain.DestinationTasks), engine.RunMetadata{})
	assert.Equal(t, domain.RunFailed, runStatus(&failed))
}
