package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
)

// S3API is the part of the S3 client the backend calls.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options locate the bucket. Endpoint is set for S3-compatible stores
// (MinIO, LocalStack) and switches to path-style addressing.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// S3 stores objects in one bucket under an optional key prefix.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 wraps an existing client.
func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if bucket == "" {
		return nil, eris.New("storage: s3 bucket is required")
	}
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// NewS3FromEnv builds a client from the default AWS credential chain.
func NewS3FromEnv(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, eris.New("storage: s3 bucket is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3(client, opts.Bucket, opts.Prefix)
}

func (s *S3) key(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", eris.Errorf("storage: invalid key %q", key)
	}
	k := strings.TrimPrefix(path.Clean("/"+key), "/")
	if s.prefix != "" {
		k = s.prefix + "/" + k
	}
	return k, nil
}

// Upload buffers r and puts it under key. Source files are bounded by the
// importer's upload limit, so the buffer stays small.
func (s *S3) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	k, err := s.key(key)
	if err != nil {
		return 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, eris.Wrapf(err, "storage: read upload for %s", key)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}); err != nil {
		return 0, eris.Wrapf(err, "storage: put %s", key)
	}
	return int64(len(data)), nil
}

// Download reads key, rejecting objects larger than maxBytes (when positive).
func (s *S3) Download(ctx context.Context, key string, maxBytes int64) ([]byte, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, eris.Wrapf(ErrNotFound, "storage: %s", key)
		}
		return nil, eris.Wrapf(err, "storage: get %s", key)
	}
	defer out.Body.Close() //nolint:errcheck

	if maxBytes > 0 && out.ContentLength != nil && *out.ContentLength > maxBytes {
		return nil, &TooLargeError{Key: key, Limit: maxBytes}
	}
	var rd io.Reader = out.Body
	if maxBytes > 0 {
		rd = io.LimitReader(out.Body, maxBytes+1)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", key)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, &TooLargeError{Key: key, Limit: maxBytes}
	}
	return data, nil
}

// Delete removes key. S3 treats missing keys as deleted.
func (s *S3) Delete(ctx context.Context, key string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	return eris.Wrapf(err, "storage: delete %s", key)
}
