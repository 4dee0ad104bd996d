// Package remote fetches pages of JSON items over HTTP.
//
// A Fetcher sends GET requests with the cursor and page size as query
// parameters and decodes the body with a Decoder. Transient failures are
// retried by go-retryablehttp; what is left over surfaces as *StatusError.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/zhangzqs/pagedlist-go/fetch"
)

// ErrDecode is wrapped by errors caused by malformed response bodies.
var ErrDecode = errors.New("remote: decode response")

// StatusError reports a response with a non-2xx status code.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Decoder turns a response body into a page. limit is the page size that
// was requested.
type Decoder[V any] func(body io.Reader, limit int) (fetch.Page[string, V], error)

// ArrayDecoder decodes a bare JSON array. A full page is assumed to be
// followed by another one, addressed by the cursor cursorOf derives from its
// last item.
func ArrayDecoder[V any](cursorOf func(V) string) Decoder[V] {
	return func(body io.Reader, limit int) (fetch.Page[string, V], error) {
		var items []V
		if err := json.NewDecoder(body).Decode(&items); err != nil {
			return fetch.Page[string, V]{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		page := fetch.Page[string, V]{Items: items}
		if len(items) > 0 && len(items) >= limit {
			page.Next = cursorOf(items[len(items)-1])
			page.HasMore = page.Next != ""
		}
		return page, nil
	}
}

// EnvelopeDecoder decodes {"results": [...], "next": "..."} bodies. The next
// value may be a cursor or an absolute URL.
func EnvelopeDecoder[V any]() Decoder[V] {
	return func(body io.Reader, _ int) (fetch.Page[string, V], error) {
		var envelope struct {
			Results []V     `json:"results"`
			Next    *string `json:"next"`
		}
		if err := json.NewDecoder(body).Decode(&envelope); err != nil {
			return fetch.Page[string, V]{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		page := fetch.Page[string, V]{Items: envelope.Results}
		if envelope.Next != nil && *envelope.Next != "" {
			page.Next = *envelope.Next
			page.HasMore = true
		}
		return page, nil
	}
}

// Option configures a Fetcher.
type Option func(*options)

type options struct {
	cursorParam  string
	limitParam   string
	header       http.Header
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

// WithQueryParams renames the cursor and page size query parameters.
// Defaults are "since" and "per_page".
func WithQueryParams(cursor, limit string) Option {
	return func(o *options) {
		o.cursorParam = cursor
		o.limitParam = limit
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(o *options) { o.header.Add(key, value) }
}

// WithRetry sets how many times and how long apart failed requests are
// retried.
func WithRetry(retries int, waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.retryMax = retries
		o.retryWaitMin = waitMin
		o.retryWaitMax = waitMax
	}
}

// WithHTTPClient sets the client requests are sent through.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithLogger routes retry logs to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Fetcher implements fetch.Fetcher over an HTTP endpoint.
type Fetcher[V any] struct {
	endpoint    *url.URL
	decode      Decoder[V]
	cursorParam string
	limitParam  string
	header      http.Header
	client      *retryablehttp.Client
}

// New returns a Fetcher for endpoint.
func New[V any](endpoint string, decode Decoder[V], opts ...Option) (*Fetcher[V], error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}

	o := options{
		cursorParam:  "since",
		limitParam:   "per_page",
		header:       make(http.Header),
		retryMax:     3,
		retryWaitMin: 100 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := retryablehttp.NewClient()
	if o.httpClient != nil {
		client.HTTPClient = o.httpClient
	}
	client.RetryMax = o.retryMax
	client.RetryWaitMin = o.retryWaitMin
	client.RetryWaitMax = o.retryWaitMax
	client.Logger = &retryLogger{logger: o.logger}
	// Hand the last response back once retries are exhausted so that its
	// status can be reported.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Fetcher[V]{
		endpoint:    u,
		decode:      decode,
		cursorParam: o.cursorParam,
		limitParam:  o.limitParam,
		header:      o.header,
		client:      client,
	}, nil
}

// Fetch implements fetch.Fetcher. 4xx responses other than 429 are wrapped
// with fetch.Permanent.
func (f *Fetcher[V]) Fetch(ctx context.Context, cursor string, limit int) (fetch.Page[string, V], error) {
	target := f.pageURL(cursor, limit)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fetch.Page[string, V]{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range f.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fetch.Page[string, V]{}, fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := &StatusError{
			Method:     http.MethodGet,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return fetch.Page[string, V]{}, fetch.Permanent(statusErr)
		}
		return fetch.Page[string, V]{}, statusErr
	}

	page, err := f.decode(resp.Body, limit)
	if err != nil {
		return fetch.Page[string, V]{}, fetch.Permanent(err)
	}
	return page, nil
}

// pageURL builds the request URL. An absolute cursor is used verbatim
// except for the page size.
func (f *Fetcher[V]) pageURL(cursor string, limit int) string {
	if strings.HasPrefix(cursor, "http://") || strings.HasPrefix(cursor, "https://") {
		if u, err := url.Parse(cursor); err == nil {
			q := u.Query()
			if limit > 0 && !q.Has(f.limitParam) {
				q.Set(f.limitParam, strconv.Itoa(limit))
			}
			u.RawQuery = q.Encode()
			return u.String()
		}
	}

	u := *f.endpoint
	q := u.Query()
	if cursor != "" {
		q.Set(f.cursorParam, cursor)
	}
	if limit > 0 {
		q.Set(f.limitParam, strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// retryLogger implements retryablehttp.LeveledLogger on zerolog.
type retryLogger struct {
	logger zerolog.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
