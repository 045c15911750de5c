package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(opts ...Option) *Fetcher {
	base := []Option{WithInsecure(), WithAllowedHosts(`^127\.0\.0\.1$`)}
	return NewFetcher(append(base, opts...)...)
}

func TestFetcherValidate(t *testing.T) {
	f := NewFetcher()
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://canvas.tamu.edu/feeds/calendars/user_abc.ics", true},
		{"https://school.instructure.com/feeds/calendars/user_abc.ics", true},
		{"http://canvas.tamu.edu/feeds/calendars/user_abc.ics", false},
		{"https://evil.example.com/feeds/calendars/user_abc.ics", false},
		{"https://canvas.tamu.edu.evil.com/feeds/calendars/user_abc.ics", false},
		{"https://canvas.tamu.edu/courses/1", false},
		{"ftp://canvas.tamu.edu/feeds/calendars/user_abc.ics", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := f.Validate(tt.url)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSource)
			}
		})
	}
}

func TestFetchSuccess(t *testing.T) {
	body := string(calendar())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept"), "text/calendar")
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	data, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/feeds/calendars/user_1.ics")
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestFetchRejectsBeforeRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/other/path")
	assert.ErrorIs(t, err, ErrInvalidSource)
	assert.False(t, called)
}

func TestFetchTooLarge(t *testing.T) {
	t.Run("declared", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("x", 100)))
		}))
		defer srv.Close()

		_, err := newTestFetcher(WithMaxBytes(10)).Fetch(context.Background(), srv.URL+"/feeds/calendars/user_1.ics")
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("streamed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			for i := 0; i < 5; i++ {
				_, _ = w.Write([]byte(strings.Repeat("y", 10)))
				flusher.Flush()
			}
		}))
		defer srv.Close()

		_, err := newTestFetcher(WithMaxBytes(20)).Fetch(context.Background(), srv.URL+"/feeds/calendars/user_1.ics")
		assert.ErrorIs(t, err, ErrTooLarge)
	})
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestFetcher(WithTimeout(50*time.Millisecond)).Fetch(context.Background(), srv.URL+"/feeds/calendars/user_1.ics")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/feeds/calendars/user_1.ics")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/feeds/calendars/user_1.ics"
	srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), url)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestFetchRejectsRedirectOffAllowList(t *testing.T) {
	offList := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("EVIL"))
	}))
	defer offList.Close()
	target := strings.Replace(offList.URL, "127.0.0.1", "localhost", 1) + "/feeds/calendars/user_1.ics"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}))
	defer srv.Close()

	for name, f := range map[string]*Fetcher{
		"default client": newTestFetcher(),
		"custom client":  newTestFetcher(WithHTTPClient(&http.Client{Timeout: time.Second})),
	} {
		t.Run(name, func(t *testing.T) {
			data, err := f.Fetch(context.Background(), srv.URL+"/feeds/calendars/user_1.ics")
			assert.ErrorIs(t, err, ErrInvalidSource)
			assert.Nil(t, data)
		})
	}
}

func TestFetchFollowsRedirectOnAllowList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feeds/calendars/user_1.ics" {
			http.Redirect(w, r, "/feeds/calendars/user_2.ics", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR"))
	}))
	defer srv.Close()

	data, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/feeds/calendars/user_1.ics")
	require.NoError(t, err)
	assert.Equal(t, "BEGIN:VCALENDAR", string(data))
}

func TestFetchErrorsDoNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), base+"/feeds/calendars/user_SECRET_TOKEN.ics")
	require.ErrorIs(t, err, ErrTransport)
	assert.NotContains(t, err.Error(), "SECRET_TOKEN")
	assert.NotContains(t, err.Error(), "/feeds/calendars")
	assert.Contains(t, err.Error(), "(redacted)")

	err = newTestFetcher().Validate("https://canvas.tamu.edu/feeds/calendars/user_SECRET_TOKEN%zz.ics")
	require.ErrorIs(t, err, ErrInvalidSource)
	assert.NotContains(t, err.Error(), "SECRET_TOKEN")
}

func TestWithHTTPClientLeavesCallerClientAlone(t *testing.T) {
	c := &http.Client{Timeout: time.Second}
	f := newTestFetcher(WithHTTPClient(c))
	assert.Nil(t, c.CheckRedirect)
	assert.NotNil(t, f.client.CheckRedirect)
	assert.Equal(t, time.Second, f.client.Timeout)
}

func TestCompileHosts(t *testing.T) {
	assert.NoError(t, CompileHosts(DefaultAllowedHosts))
	assert.Error(t, CompileHosts([]string{`([`}))
	assert.Panics(t, func() { NewFetcher(WithAllowedHosts(`([`)) })
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://canvas.tamu.edu/...(redacted)", RedactURL("https://canvas.tamu.edu/feeds/calendars/user_secret.ics"))
	assert.Equal(t, "feed://...(redacted)", RedactURL("not a url"))
}
