package writer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Sink puts JSON objects into an S3 bucket, optionally gzip-compressed.
type s3Sink struct {
	client      *s3.Client
	bucket      string
	compress    bool
	destination string
}

func newS3Sink(ctx context.Context, bucket string, settings Settings, compress bool) (*s3Sink, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if settings.ProfileName != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(settings.ProfileName))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &WriteError{Destination: DestS3JSON, Path: bucket, Err: err}
	}

	destination := DestS3JSON
	if compress {
		destination = DestS3GZIP
	}

	return &s3Sink{
		client:      s3.NewFromConfig(cfg),
		bucket:      bucket,
		compress:    compress,
		destination: destination,
	}, nil
}

func (s *s3Sink) appendRecord(ctx context.Context, basePath string, record interface{}) error {
	// object stores cannot append, each record becomes its own object
	return s.put(ctx, objectName(basePath, s.ext()), record)
}

func (s *s3Sink) writeObject(ctx context.Context, writePath string, data interface{}) error {
	return s.put(ctx, writePath+s.ext(), data)
}

func (s *s3Sink) ext() string {
	if s.compress {
		return ".gzip"
	}
	return ".json"
}

func (s *s3Sink) put(ctx context.Context, key string, data interface{}) error {
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return &WriteError{Destination: s.destination, Path: key, Err: err}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	if s.compress {
		var buf bytes.Buffer
		gz, err := gzip.NewWriterLevel(&buf, 7)
		if err != nil {
			return &WriteError{Destination: s.destination, Path: key, Err: err}
		}
		if _, err := gz.Write(body); err != nil {
			return &WriteError{Destination: s.destination, Path: key, Err: err}
		}
		if err := gz.Close(); err != nil {
			return &WriteError{Destination: s.destination, Path: key, Err: err}
		}
		input.Body = bytes.NewReader(buf.Bytes())
		input.ContentEncoding = aws.String("gzip")
	} else {
		input.Body = bytes.NewReader(body)
		input.ContentType = aws.String("application/json")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return &WriteError{Destination: s.destination, Path: key, Err: err}
	}

	return nil
}
