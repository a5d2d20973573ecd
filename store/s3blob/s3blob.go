// Package s3blob implements store.BlobStore on S3 or an S3 compatible object store.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aouyang1/go-eiacast/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// API is the subset of the S3 client used by Bucket.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options locates the object store. Empty credentials fall back to the default AWS chain.
type Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewClient builds an S3 client from opt.
func NewClient(ctx context.Context, opt Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opt.Region),
	}
	if opt.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opt.AccessKeyID, opt.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load aws config, %w, %w", err, store.ErrConfiguration)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opt.Endpoint != "" {
			o.BaseEndpoint = aws.String(opt.Endpoint)
		}
		o.UsePathStyle = opt.UsePathStyle
	}), nil
}

// Bucket is a BlobStore over a single bucket.
type Bucket struct {
	client API
	name   string
}

// Open verifies the bucket is reachable.
func Open(ctx context.Context, client API, name string) (*Bucket, error) {
	if name == "" {
		return nil, fmt.Errorf("bucket name is empty, %w", store.ErrConfiguration)
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("bucket %s does not exist, %w", name, store.ErrConfiguration)
		}
		return nil, fmt.Errorf("unable to access bucket %s, %w, %w", name, err, store.ErrTransientIO)
	}
	return &Bucket{client: client, name: name}, nil
}

func (b *Bucket) Name() string {
	return b.name
}

// PutOnce writes data with a conditional put, failing with store.ErrBlobExists when an object
// is already stored at path.
func (b *Bucket) PutOnce(ctx context.Context, path string, data []byte, contentType string) error {
	return b.put(ctx, path, data, contentType, true)
}

func (b *Bucket) Put(ctx context.Context, path string, data []byte, contentType string) error {
	return b.put(ctx, path, data, contentType, false)
}

func (b *Bucket) put(ctx context.Context, path string, data []byte, contentType string, once bool) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	if once {
		in.IfNoneMatch = aws.String("*")
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		if once && statusCode(err) == http.StatusPreconditionFailed {
			return fmt.Errorf("s3://%s/%s, %w", b.name, path, store.ErrBlobExists)
		}
		return fmt.Errorf("unable to put s3://%s/%s, %w", b.name, path, err)
	}
	return nil
}

func (b *Bucket) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s, %w", b.name, path, store.ErrNotFound)
		}
		return nil, fmt.Errorf("unable to get s3://%s/%s, %w", b.name, path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read s3://%s/%s, %w", b.name, path, err)
	}
	return data, nil
}

func (b *Bucket) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("unable to delete s3://%s/%s, %w", b.name, path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nsb) {
		return true
	}
	return statusCode(err) == http.StatusNotFound || strings.Contains(err.Error(), "NotFound")
}

func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

var _ store.BlobStore = (*Bucket)(nil)
