package todoist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/coursesync/internal/domain"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func newTestServer(t *testing.T, status int, reply string) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		rec := recorded{method: r.Method, path: r.URL.Path}
		if r.Body != nil && r.ContentLength > 0 {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		calls = append(calls, rec)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	c := NewClient("tok")
	c.SetBaseURL(srv.URL)
	return c, &calls
}

func TestCreateCollection(t *testing.T) {
	c, calls := newTestServer(t, http.StatusOK, `{"id":"p-9","name":"CS101"}`)

	id, err := c.CreateCollection(context.Background(), "CS101")
	require.NoError(t, err)
	assert.Equal(t, "p-9", id)
	require.Len(t, *calls, 1)
	assert.Equal(t, "/projects", (*calls)[0].path)
	assert.Equal(t, "CS101", (*calls)[0].body["name"])
}

func TestCreateItemTimed(t *testing.T) {
	c, calls := newTestServer(t, http.StatusOK, `{"id":"t-1","content":"Homework"}`)
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	item := domain.SourceItem{
		UID:         "event-assignment-1",
		Title:       "Homework",
		Description: "Chapter 3",
		URL:         "https://canvas.tamu.edu/courses/1/assignments/2",
		Start:       time.Date(2024, 3, 15, 23, 59, 0, 0, chicago),
	}
	id, err := c.CreateItem(context.Background(), "p-9", item)
	require.NoError(t, err)
	assert.Equal(t, "t-1", id)

	body := (*calls)[0].body
	assert.Equal(t, http.MethodPost, (*calls)[0].method)
	assert.Equal(t, "/tasks", (*calls)[0].path)
	assert.Equal(t, "p-9", body["project_id"])
	assert.Equal(t, "2024-03-16T04:59:00Z", body["due_datetime"])
	assert.NotContains(t, body, "due_date")
	assert.Equal(t, "Chapter 3\n\nhttps://canvas.tamu.edu/courses/1/assignments/2", body["description"])
	assert.Equal(t, []any{Label}, body["labels"])
}

func TestUpdateItemAllDay(t *testing.T) {
	c, calls := newTestServer(t, http.StatusOK, `{}`)

	item := domain.SourceItem{Title: "Reading", Start: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), AllDay: true}
	require.NoError(t, c.UpdateItem(context.Background(), "p-9", "t-1", item))

	assert.Equal(t, "/tasks/t-1", (*calls)[0].path)
	assert.Equal(t, "2024-04-01", (*calls)[0].body["due_date"])
	assert.Equal(t, "", (*calls)[0].body["description"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusNotFound, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, _ := newTestServer(t, tt.status, "nope")
			err := c.DeleteItem(context.Background(), "p-9", "t-1")
			assert.ErrorIs(t, err, tt.target)
		})
	}

	c, _ := newTestServer(t, http.StatusInternalServerError, "down")
	err := c.DeleteItem(context.Background(), "p-9", "t-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestGetProjects(t *testing.T) {
	c, _ := newTestServer(t, http.StatusOK,
		`[{"id":"p-1","name":"Inbox","is_inbox_project":true,"color":"grey"},{"id":"p-9","name":"CS101"}]`)

	projects, err := c.GetProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Project{{ID: "p-1", Name: "Inbox"}, {ID: "p-9", Name: "CS101"}}, projects)
}

func TestDeleteCollection(t *testing.T) {
	c, calls := newTestServer(t, http.StatusNoContent, "")

	require.NoError(t, c.DeleteCollection(context.Background(), "p-9"))
	require.Len(t, *calls, 1)
	assert.Equal(t, http.MethodDelete, (*calls)[0].method)
	assert.Equal(t, "/projects/p-9", (*calls)[0].path)

	c, _ = newTestServer(t, http.StatusNotFound, "gone")
	assert.ErrorIs(t, c.DeleteCollection(context.Background(), "p-9"), domain.ErrNotFound)
}

func TestIsConfigured(t *testing.T) {
	assert.False(t, NewClient("").IsConfigured())
	assert.True(t, NewClient("tok").IsConfigured())
}
