package writer

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// gcsSink puts JSON objects into a Google Cloud Storage bucket.
type gcsSink struct {
	client *storage.Client
	bucket string
}

func newGCSSink(ctx context.Context, bucket string, settings Settings) (*gcsSink, error) {
	var clientOpts []option.ClientOption
	if settings.ServiceAccountFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(settings.ServiceAccountFile))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, &WriteError{Destination: DestGCSJSON, Path: bucket, Err: err}
	}

	return &gcsSink{client: client, bucket: bucket}, nil
}

func (s *gcsSink) appendRecord(ctx context.Context, basePath string, record interface{}) error {
	// object stores cannot append, each record becomes its own object
	return s.put(ctx, objectName(basePath, ".json"), record)
}

func (s *gcsSink) writeObject(ctx context.Context, writePath string, data interface{}) error {
	return s.put(ctx, writePath+".json", data)
}

func (s *gcsSink) put(ctx context.Context, key string, data interface{}) error {
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return &WriteError{Destination: DestGCSJSON, Path: key, Err: err}
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(body); err != nil {
		w.Close()
		return &WriteError{Destination: DestGCSJSON, Path: key, Err: err}
	}
	if err := w.Close(); err != nil {
		return &WriteError{Destination: DestGCSJSON, Path: key, Err: err}
	}

	return nil
}
