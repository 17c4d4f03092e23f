// Package writer persists records to a configured destination: a local
// directory, an S3 bucket or a Google Cloud Storage bucket. The destination
// selector is resolved once at construction to a sink variant; every write
// call is an independent blocking operation with no batching and no
// atomicity guarantee across calls.
package writer

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pteich/elastic-search-reader/reader"
)

const (
	DestLocalJSON = "local_json"
	DestLocalCSV  = "local_csv"
	DestS3JSON    = "aws_s3_json"
	DestS3GZIP    = "aws_s3_gzip"
	DestGCSJSON   = "gcp_cloudstorage_json"
)

// WriteError reports a failed write to the destination.
type WriteError struct {
	Destination string
	Path        string
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writer: %s %s: %v", e.Destination, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Settings carries the destination-specific authentication knobs.
type Settings struct {
	// ProfileName selects a shared AWS config profile, empty for the
	// default credential chain.
	ProfileName string
	// ServiceAccountFile points at a GCP service account key file, empty
	// for application default credentials.
	ServiceAccountFile string
}

// sink is the closed set of write strategies behind a Writer.
type sink interface {
	// appendRecord persists a single record under basePath.
	appendRecord(ctx context.Context, basePath string, record interface{}) error
	// writeObject persists one complete object at writePath.
	writeObject(ctx context.Context, writePath string, data interface{}) error
}

// Writer hands records and batches to the sink selected at construction.
type Writer struct {
	bucket      string
	folderPath  string
	destination string
	sink        sink
	log         *zap.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) { w.log = logger }
}

// New builds a Writer for the given destination. bucket is the local root
// directory or the cloud bucket name; folderPath prefixes every write path.
func New(ctx context.Context, bucket, folderPath, destination string, settings Settings, opts ...Option) (*Writer, error) {
	w := &Writer{
		bucket:      bucket,
		folderPath:  folderPath,
		destination: destination,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	switch destination {
	case DestLocalJSON:
		w.sink = &localJSONSink{root: bucket}
	case DestLocalCSV:
		w.sink = &localCSVSink{root: bucket}
	case DestS3JSON:
		s, err := newS3Sink(ctx, bucket, settings, false)
		if err != nil {
			return nil, err
		}
		w.sink = s
	case DestS3GZIP:
		s, err := newS3Sink(ctx, bucket, settings, true)
		if err != nil {
			return nil, err
		}
		w.sink = s
	case DestGCSJSON:
		s, err := newGCSSink(ctx, bucket, settings)
		if err != nil {
			return nil, err
		}
		w.sink = s
	default:
		return nil, fmt.Errorf("writer: unknown destination %q, allowed: %s, %s, %s, %s, %s",
			destination, DestLocalJSON, DestLocalCSV, DestS3JSON, DestS3GZIP, DestGCSJSON)
	}

	return w, nil
}

// WriteData persists one record. Local destinations append to a single file
// under folder_path in call order; cloud destinations put one object per
// call with a generated name.
func (w *Writer) WriteData(ctx context.Context, record interface{}) error {
	err := w.sink.appendRecord(ctx, w.folderPath, record)
	if err != nil {
		return err
	}

	w.log.Debug("record written",
		zap.String("destination", w.destination),
		zap.String("path", w.folderPath),
	)

	return nil
}

// WriteBatch persists one full date-window batch at
// folder_path/index/date, matching the layout the read side produces.
func (w *Writer) WriteBatch(ctx context.Context, batch reader.Batch) error {
	if len(batch.Data) == 0 {
		return &WriteError{Destination: w.destination, Path: w.folderPath, Err: fmt.Errorf("empty batch")}
	}

	// hand sinks plain maps so they need no knowledge of reader types
	rows := make([]interface{}, 0, len(batch.Data))
	for _, record := range batch.Data {
		rows = append(rows, map[string]interface{}(record))
	}

	writePath := path.Join(w.folderPath, batch.Index, batch.Date)
	if err := w.sink.writeObject(ctx, writePath, rows); err != nil {
		return err
	}

	w.log.Info("batch written",
		zap.String("destination", w.destination),
		zap.String("path", writePath),
		zap.Int("records", len(batch.Data)),
	)

	return nil
}

// objectName derives a unique object key for per-record cloud writes.
func objectName(basePath, ext string) string {
	return path.Join(basePath, uuid.NewString()) + ext
}
