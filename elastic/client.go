// Package elastic wraps the official go-elasticsearch client with the small
// request surface this module needs: search with scroll or point-in-time
// continuation, cursor cleanup and counting.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/pteich/elastic-search-reader/config"
)

// QueryError reports a failed engine request. The engine's own error body is
// preserved in Err; no retry is attempted.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("elastic: %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Client is a thin wrapper around the engine transport.
type Client struct {
	es  *elasticsearch.Client
	log *zap.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	transport http.RoundTripper
}

// WithLogger sets the logger used for request-level debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTransport overrides the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// NewClient connects to the engine at the credentials' host:port using basic
// auth. The credentials themselves are never logged.
func NewClient(creds *config.Credentials, opts ...Option) (*Client, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	cfg := elasticsearch.Config{
		Addresses: []string{creds.Address()},
		Username:  creds.Username,
		Password:  creds.Password,
	}
	if o.transport != nil {
		cfg.Transport = o.transport
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, &QueryError{Op: "connect", Err: err}
	}

	return &Client{es: es, log: o.logger}, nil
}

// PointInTime identifies an open point-in-time context.
type PointInTime struct {
	ID        string
	KeepAlive string
}

// SearchParams carries everything one search round-trip needs. Query and
// QueryString are mutually exclusive: a structured body query for dsl syntax
// or the engine's q= parameter for sql syntax.
type SearchParams struct {
	Index             []string
	Size              int
	Query             map[string]interface{}
	QueryString       string
	Sort              []map[string]interface{}
	SearchAfter       []interface{}
	PIT               *PointInTime
	Scroll            time.Duration
	Timeout           time.Duration
	BatchedReduceSize int
	MinScore          *float64
}

// Hit is one document as returned by the engine.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
	Sort   []interface{}   `json:"sort"`
}

// SearchResult is one decoded page.
type SearchResult struct {
	ScrollID string `json:"_scroll_id"`
	PitID    string `json:"pit_id"`
	HitsInfo struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Hits returns the page's documents.
func (r *SearchResult) Hits() []Hit {
	return r.HitsInfo.Hits
}

// Total returns the engine-reported total hit count for the query.
func (r *SearchResult) Total() int64 {
	return r.HitsInfo.Total.Value
}

// Search issues one search request. With p.Scroll set this opens a scroll
// cursor; with p.PIT set it pages inside that point-in-time context.
func (c *Client) Search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	body := make(map[string]interface{})
	if p.Query != nil {
		body["query"] = p.Query
	}
	if len(p.Sort) > 0 {
		body["sort"] = p.Sort
	}
	if len(p.SearchAfter) > 0 {
		body["search_after"] = p.SearchAfter
	}
	if p.MinScore != nil {
		body["min_score"] = *p.MinScore
	}
	if p.PIT != nil {
		body["pit"] = map[string]interface{}{
			"id":         p.PIT.ID,
			"keep_alive": p.PIT.KeepAlive,
		}
		// totals are meaningless per page and expensive inside a PIT
		body["track_total_hits"] = false
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, &QueryError{Op: "search", Err: err}
	}

	req := esapi.SearchRequest{
		Body:    &buf,
		Scroll:  p.Scroll,
		Timeout: p.Timeout,
	}
	// a PIT already pins the indices, the request must not name them again
	if p.PIT == nil {
		req.Index = p.Index
	}
	if p.Size > 0 {
		req.Size = esapi.IntPtr(p.Size)
	}
	if p.QueryString != "" {
		req.Query = p.QueryString
	}
	if p.BatchedReduceSize > 0 {
		req.BatchedReduceSize = esapi.IntPtr(p.BatchedReduceSize)
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, &QueryError{Op: "search", Err: err}
	}
	defer res.Body.Close()

	result, err := decodeResult("search", res)
	if err != nil {
		return nil, err
	}

	c.log.Debug("search page fetched",
		zap.Int("hits", len(result.Hits())),
		zap.Strings("index", p.Index),
	)

	return result, nil
}

// Scroll fetches the next page of an open scroll cursor.
func (c *Client) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*SearchResult, error) {
	req := esapi.ScrollRequest{
		ScrollID: scrollID,
		Scroll:   keepAlive,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, &QueryError{Op: "scroll", Err: err}
	}
	defer res.Body.Close()

	result, err := decodeResult("scroll", res)
	if err != nil {
		return nil, err
	}

	c.log.Debug("scroll page fetched", zap.Int("hits", len(result.Hits())))

	return result, nil
}

// ClearScroll releases a scroll cursor on the engine.
func (c *Client) ClearScroll(ctx context.Context, scrollID string) error {
	req := esapi.ClearScrollRequest{
		ScrollID: []string{scrollID},
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return &QueryError{Op: "clear scroll", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return &QueryError{Op: "clear scroll", Err: errors.New(res.String())}
	}

	return nil
}

// OpenPointInTime pins a consistent snapshot of the given indices and
// returns its id.
func (c *Client) OpenPointInTime(ctx context.Context, index []string, keepAlive string) (string, error) {
	req := esapi.OpenPointInTimeRequest{
		Index:             index,
		KeepAlive:         keepAlive,
		IgnoreUnavailable: esapi.BoolPtr(true),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return "", &QueryError{Op: "open point in time", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", &QueryError{Op: "open point in time", Err: errors.New(res.String())}
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return "", &QueryError{Op: "open point in time", Err: err}
	}

	return resp.ID, nil
}

// ClosePointInTime releases a point-in-time context on the engine.
func (c *Client) ClosePointInTime(ctx context.Context, pitID string) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]string{"id": pitID}); err != nil {
		return &QueryError{Op: "close point in time", Err: err}
	}

	req := esapi.ClosePointInTimeRequest{
		Body: &buf,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return &QueryError{Op: "close point in time", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return &QueryError{Op: "close point in time", Err: errors.New(res.String())}
	}

	return nil
}

// Count returns the total number of documents matching the query.
func (c *Client) Count(ctx context.Context, index []string, query map[string]interface{}, queryString string) (int64, error) {
	var buf bytes.Buffer
	if query != nil {
		body := map[string]interface{}{"query": query}
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, &QueryError{Op: "count", Err: err}
		}
	}

	req := esapi.CountRequest{
		Index: index,
		Body:  &buf,
	}
	if queryString != "" {
		req.Query = queryString
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return 0, &QueryError{Op: "count", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, &QueryError{Op: "count", Err: errors.New(res.String())}
	}

	var resp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, &QueryError{Op: "count", Err: err}
	}

	return resp.Count, nil
}

func decodeResult(op string, res *esapi.Response) (*SearchResult, error) {
	if res.IsError() {
		return nil, &QueryError{Op: op, Err: errors.New(res.String())}
	}

	result := &SearchResult{}
	if err := json.NewDecoder(res.Body).Decode(result); err != nil {
		return nil, &QueryError{Op: op, Err: err}
	}

	return result, nil
}
