package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"userprofile/internal/common"
	"userprofile/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the part of the S3 client the backend needs.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend stores files as <bucket>/<userId>/<name>.
type S3Backend struct {
	client S3API
	bucket string
	now    func() time.Time
}

// NewS3Backend builds a client from the storage config. A custom endpoint
// (MinIO and friends) is honoured when set.
func NewS3Backend(ctx context.Context, cfg config.StorageConfig) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return NewS3BackendWithClient(client, cfg.S3Bucket), nil
}

func NewS3BackendWithClient(client S3API, bucket string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, now: time.Now}
}

func (b *S3Backend) key(prefix, name string) string {
	return path.Join(prefix, name)
}

func (b *S3Backend) location(key string) string {
	return "s3://" + b.bucket + "/" + key
}

// EnsurePrefix is a no-op: S3 has no directories.
func (b *S3Backend) EnsurePrefix(ctx context.Context, prefix string) error {
	return ctx.Err()
}

func (b *S3Backend) Put(ctx context.Context, prefix, name string, r io.Reader) (Object, error) {
	// Buffer so the SDK gets a seekable body it can sign and retry.
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, storageErr("read upload", err)
	}
	key := b.key(prefix, name)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return Object{}, storageErr("put object", err)
	}
	return Object{Name: name, Location: b.location(key), Size: int64(len(data)), ModifiedAt: b.now()}, nil
}

func (b *S3Backend) Get(ctx context.Context, prefix, name string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(prefix, name)),
	})
	if isNotFound(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get object", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storageErr("read object", err)
	}
	return data, nil
}

func (b *S3Backend) Delete(ctx context.Context, prefix, name string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(prefix, name)),
	})
	if err != nil && !isNotFound(err) {
		return storageErr("delete object", err)
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, prefix, name string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(prefix, name)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("head object", err)
	}
	return true, nil
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]Object, error) {
	pfx := prefix + "/"
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(pfx),
	})
	objects := []Object{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storageErr("list objects", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, pfx)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			objects = append(objects, Object{
				Name:       name,
				Location:   b.location(key),
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

func (b *S3Backend) DeletePrefix(ctx context.Context, prefix string) error {
	objects, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := b.Delete(ctx, prefix, obj.Name); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
