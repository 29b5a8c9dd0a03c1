// Package s3 writes each batch as one parquet object.
//
// Object keys derive from the first event of the batch, so a retried batch
// overwrites the object it may already have written.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tickflow/internal/marketdata"
	"tickflow/sink"
)

const contentType = "application/vnd.apache.parquet"

func init() {
	sink.Register("s3", func(p string) (sink.Sink, error) {
		cfg, err := LoadConfig(p)
		if err != nil {
			return nil, err
		}
		return New(context.Background(), cfg)
	})
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type Sink struct {
	cfg    Config
	client s3API
}

var _ sink.Sink = (*Sink)(nil)

// New builds a client from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newSink(client, cfg), nil
}

func newSink(client s3API, cfg Config) *Sink {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Sink{cfg: cfg, client: client}
}

func (s *Sink) Name() string { return "s3" }

// Init checks that the bucket exists and is reachable.
func (s *Sink) Init(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("s3: bucket %q: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *Sink) Write(ctx context.Context, batch sink.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	data, err := encode(batch, s.cfg.Compression)
	if err != nil {
		return fmt.Errorf("s3: encode: %w", err)
	}
	key := s.objectKey(batch[0])
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}

// objectKey is prefix/yyyy/mm/dd/hh/<id>.parquet of the first event.
func (s *Sink) objectKey(first marketdata.Event) string {
	ts := first.Timestamp.UTC()
	return path.Join(s.cfg.Prefix, ts.Format("2006/01/02/15"), first.ID+".parquet")
}

func (s *Sink) Close() error { return nil }
