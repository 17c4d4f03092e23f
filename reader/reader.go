// Package reader streams documents out of an Elasticsearch cluster as a
// pull-based sequence. A Reader is built from a YAML secrets file and a YAML
// query configuration, picks one of two pagination strategies at
// construction and yields one hit per Next call until the engine reports
// exhaustion.
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/pteich/elastic-search-reader/config"
	"github.com/pteich/elastic-search-reader/elastic"
)

// Record is one normalized document: the configured data field flattened to
// the top level with the remaining hit fields tucked under "metadata".
type Record map[string]interface{}

// Batch is the result of one full query run for a single date window.
type Batch struct {
	Date  string
	Index string
	Data  []Record
}

// Reader is a lazy, finite, non-restartable sequence of hits. It is not safe
// for concurrent use; the caller controls pacing entirely through Next.
type Reader struct {
	cfg    *config.Config
	client *elastic.Client
	log    *zap.Logger
	pager  paginator
	buf    []elastic.Hit
	done   bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger. Credentials are never logged.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) { r.log = logger }
}

// WithClient overrides the engine client, mainly for tests.
func WithClient(client *elastic.Client) Option {
	return func(r *Reader) { r.client = client }
}

// New loads credentials and configuration from the given files and builds a
// Reader. Contradictory or incomplete configuration surfaces as a
// *config.Error before any engine request is made.
func New(credsPath, configPath string, opts ...Option) (*Reader, error) {
	creds, err := config.LoadCredentials(credsPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	return NewFromConfig(cfg, creds, opts...)
}

// NewFromConfig builds a Reader from already parsed configuration.
func NewFromConfig(cfg *config.Config, creds *config.Credentials, opts ...Option) (*Reader, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Reader{
		cfg: cfg,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		if creds == nil {
			return nil, &config.Error{Reason: "credentials are required"}
		}
		client, err := elastic.NewClient(creds, elastic.WithLogger(r.log))
		if err != nil {
			return nil, err
		}
		r.client = client
	}

	r.pager = r.newPaginator()

	return r, nil
}

// newPaginator resolves the pagination strategy once from the configuration.
func (r *Reader) newPaginator() paginator {
	params := r.searchParams()

	switch r.cfg.Paginator {
	case config.PaginatorScroll:
		return &scrollPaginator{
			client:    r.client,
			params:    params,
			keepAlive: r.cfg.KeepAliveDuration(),
		}
	default:
		params.Index = nil
		return &pitPaginator{
			client:    r.client,
			params:    params,
			index:     r.cfg.Index,
			keepAlive: r.cfg.KeepAliveString(),
			size:      r.cfg.Size,
		}
	}
}

// searchParams translates the configured query into the engine request
// shape shared by both pagination strategies.
func (r *Reader) searchParams() elastic.SearchParams {
	params := elastic.SearchParams{
		Index:             r.cfg.Index,
		Size:              r.cfg.Size,
		Sort:              sortClauses(r.cfg.Sort),
		Timeout:           r.cfg.TimeoutDuration(),
		BatchedReduceSize: r.cfg.BatchedReduceSize,
		MinScore:          r.cfg.MinScore,
	}

	switch r.cfg.Syntax {
	case config.SyntaxSQL:
		params.QueryString, _ = r.cfg.QueryString()
	default:
		params.Query, _ = r.cfg.QueryBody()
	}

	return params
}

// sortClauses flattens the configured sort mapping into the engine's ordered
// clause list. Fields are emitted in name order so search_after tuples stay
// stable between requests.
func sortClauses(spec map[string]config.SortSpec) []map[string]interface{} {
	if len(spec) == 0 {
		return nil
	}

	fields := make([]string, 0, len(spec))
	for field := range spec {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	clauses := make([]map[string]interface{}, 0, len(fields))
	for _, field := range fields {
		clauses = append(clauses, map[string]interface{}{
			field: map[string]interface{}{"order": spec[field].Order},
		})
	}

	return clauses
}

// Next returns the next hit. It drains the buffered page first and issues
// one engine round-trip only when the buffer is empty. Once the engine is
// exhausted Next returns io.EOF permanently, releases the server-side cursor
// and never talks to the engine again.
func (r *Reader) Next(ctx context.Context) (elastic.Hit, error) {
	if r.done {
		return elastic.Hit{}, io.EOF
	}

	if len(r.buf) == 0 {
		hits, err := r.pager.fetch(ctx)
		if err == io.EOF {
			r.done = true
			if relErr := r.pager.release(ctx); relErr != nil {
				r.log.Warn("releasing cursor failed", zap.Error(relErr))
			}
			return elastic.Hit{}, io.EOF
		}
		if err != nil {
			return elastic.Hit{}, err
		}
		r.buf = hits
	}

	hit := r.buf[0]
	r.buf = r.buf[1:]
	return hit, nil
}

// Close releases the scroll or point-in-time context. It is idempotent and
// must be called when iteration is abandoned before exhaustion; after
// natural exhaustion it is a no-op.
func (r *Reader) Close(ctx context.Context) error {
	r.done = true
	r.buf = nil
	return r.pager.release(ctx)
}

// Count asks the engine for the total hit count of the configured query.
func (r *Reader) Count(ctx context.Context) (int64, error) {
	params := r.searchParams()
	return r.client.Count(ctx, r.cfg.Index, params.Query, params.QueryString)
}

// Normalize flattens the configured data field of a hit and attaches the
// remaining hit fields as a metadata envelope.
func (r *Reader) Normalize(hit elastic.Hit) (Record, error) {
	doc := map[string]interface{}{
		"_index": hit.Index,
		"_id":    hit.ID,
	}
	if hit.Score != nil {
		doc["_score"] = *hit.Score
	}
	if len(hit.Sort) > 0 {
		doc["sort"] = hit.Sort
	}

	var source map[string]interface{}
	if len(hit.Source) > 0 {
		if err := json.Unmarshal(hit.Source, &source); err != nil {
			return nil, fmt.Errorf("decoding document source: %w", err)
		}
	}
	doc["_source"] = source

	field := r.cfg.DataField
	inner, ok := doc[field].(map[string]interface{})
	if !ok || inner == nil {
		return nil, fmt.Errorf("data field %q missing from document", field)
	}
	delete(doc, field)

	record := Record(inner)
	record["metadata"] = doc

	return record, nil
}

// Batches runs the configured query once per date window between start_date
// and end_date (inclusive) and hands each window's normalized result set to
// fn. Windows with no data are skipped. The callback's error aborts the run.
func (r *Reader) Batches(ctx context.Context, fn func(Batch) error) error {
	dates, err := dateRange(r.cfg.StartDate, r.cfg.EndDate, r.cfg.Interval)
	if err != nil {
		return err
	}

	for _, date := range dates {
		// fresh cursor per window, the sequence itself is single-use
		r.pager = r.newPaginator()
		r.buf = nil
		r.done = false

		data, err := r.drain(ctx)
		if err != nil {
			return err
		}

		if len(data) == 0 {
			r.log.Info("no data for window", zap.String("date", date))
			continue
		}

		batch := Batch{
			Date:  compactDate(date),
			Index: r.cfg.Index[0],
			Data:  data,
		}
		if err := fn(batch); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reader) drain(ctx context.Context) ([]Record, error) {
	var data []Record
	for {
		hit, err := r.Next(ctx)
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, err
		}

		record, err := r.Normalize(hit)
		if err != nil {
			return nil, err
		}
		data = append(data, record)
	}
}
