package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidSource is returned for URLs rejected by the allow-list
	ErrInvalidSource = errors.New("invalid feed source")
	// ErrTimeout is returned when the feed did not arrive in time
	ErrTimeout = errors.New("feed fetch timed out")
	// ErrTooLarge is returned when the payload exceeds the size ceiling
	ErrTooLarge = errors.New("feed too large")
	// ErrTransport covers every other network or HTTP failure
	ErrTransport = errors.New("feed transport error")
)

const (
	DefaultMaxBytes   = 10 << 20
	DefaultTimeout    = 30 * time.Second
	DefaultPathPrefix = "/feeds/calendars/user_"
	userAgent         = "coursesync/1.0"
	maxRedirects      = 10
)

// DefaultAllowedHosts match Canvas deployments
var DefaultAllowedHosts = []string{
	`^canvas\.[a-z0-9-]+\.edu$`,
	`^[a-z0-9-]+\.instructure\.com$`,
}

// Fetcher downloads a calendar feed. It never retries; the caller decides.
type Fetcher struct {
	client        *http.Client
	maxBytes      int64
	timeout       time.Duration
	allowedHosts  []*regexp.Regexp
	pathPrefix    string
	allowInsecure bool
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client. The client is copied; its
// CheckRedirect is replaced so redirects obey the same rules as the first URL.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBytes sets the payload ceiling
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithTimeout bounds a single fetch
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithAllowedHosts replaces the host allow-list. Patterns are regular expressions
// matched against the lower-cased host name. It panics on an invalid pattern;
// use CompileHosts first when the patterns come from user input.
func WithAllowedHosts(patterns ...string) Option {
	return func(f *Fetcher) {
		f.allowedHosts = f.allowedHosts[:0]
		for _, p := range patterns {
			f.allowedHosts = append(f.allowedHosts, regexp.MustCompile(p))
		}
	}
}

// CompileHosts checks that every pattern is a valid regular expression
func CompileHosts(patterns []string) error {
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("allowed host %q: %w", p, err)
		}
	}
	return nil
}

// WithPathPrefix sets the required URL path prefix. Empty disables the check.
func WithPathPrefix(prefix string) Option {
	return func(f *Fetcher) { f.pathPrefix = prefix }
}

// WithInsecure allows plain http sources
func WithInsecure() Option {
	return func(f *Fetcher) { f.allowInsecure = true }
}

// NewFetcher creates a Fetcher with Canvas defaults
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:     &http.Client{},
		maxBytes:   DefaultMaxBytes,
		timeout:    DefaultTimeout,
		pathPrefix: DefaultPathPrefix,
	}
	for _, p := range DefaultAllowedHosts {
		f.allowedHosts = append(f.allowedHosts, regexp.MustCompile(p))
	}
	for _, opt := range opts {
		opt(f)
	}

	client := *f.client
	client.CheckRedirect = f.checkRedirect
	f.client = &client
	return f
}

// checkRedirect applies Validate to every hop
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d redirects", ErrTransport, maxRedirects)
	}
	if err := f.Validate(req.URL.String()); err != nil {
		return fmt.Errorf("redirect: %w", err)
	}
	return nil
}

// Validate checks rawURL against the scheme, host and path rules
func (f *Fetcher) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		// the parse error quotes the whole URL, token included
		return fmt.Errorf("%w: malformed url", ErrInvalidSource)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && f.allowInsecure:
	default:
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidSource, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidSource)
	}
	allowed := false
	for _, re := range f.allowedHosts {
		if re.MatchString(host) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: host %q not allowed", ErrInvalidSource, host)
	}

	if f.pathPrefix != "" && !strings.HasPrefix(u.Path, f.pathPrefix) {
		return fmt.Errorf("%w: path must start with %s", ErrInvalidSource, f.pathPrefix)
	}
	return nil
}

// Fetch downloads the feed body
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.Validate(rawURL); err != nil {
		return nil, err
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed url", ErrInvalidSource)
	}
	req.Header.Set("Accept", "text/calendar,text/plain,*/*")
	req.Header.Set("User-Agent", userAgent)

	slog.Debug("feed fetch start", "url", RedactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrTransport, resp.Status)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, resp.ContentLength, f.maxBytes)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}

	slog.Info("feed fetched", "url", RedactURL(rawURL), "bytes", len(data))
	return data, nil
}

// classifyTransportError maps err onto the fetch sentinels. A *url.Error
// quotes the full URL, so it is unwrapped and only the redacted form is kept.
func classifyTransportError(err error) error {
	where := ""
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		where = RedactURL(urlErr.URL) + ": "
		err = urlErr.Err
	}

	if errors.Is(err, ErrInvalidSource) || errors.Is(err, ErrTransport) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s%w", ErrTimeout, where, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s%w", ErrTimeout, where, err)
	}
	return fmt.Errorf("%w: %s%w", ErrTransport, where, err)
}

// RedactURL keeps only scheme and host; feed URLs carry private tokens.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "feed://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
