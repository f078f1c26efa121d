// Package s3blob provides a BlobStorage implementation backed by an S3
// compatible object store (AWS S3, MinIO). Objects are keyed by an optional
// prefix plus the stored id.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/haukened/ferry/internal/domain"
	"github.com/haukened/ferry/internal/store"
)

var _ store.BlobStorage = (*BlobStore)(nil)

// objectAPI is the subset of *s3.Client the blob store needs.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options configures the S3 connection.
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string // empty: AWS default endpoint resolution
	AccessKey string // empty: default credential chain
	SecretKey string
	Prefix    string
}

// BlobStore implements store.BlobStorage on top of S3.
type BlobStore struct {
	api    objectAPI
	bucket string
	prefix string
}

// loadAWSConfig is swapped in tests.
var loadAWSConfig = config.LoadDefaultConfig

// New builds an S3 client from opts. Static credentials are used when an
// access key is configured; a custom endpoint switches to path-style
// addressing, which MinIO requires.
func New(ctx context.Context, opts Options) (*BlobStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := loadAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})
	return newWithAPI(client, opts.Bucket, opts.Prefix), nil
}

func newWithAPI(api objectAPI, bucket, prefix string) *BlobStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BlobStore{api: api, bucket: bucket, prefix: prefix}
}

func (b *BlobStore) key(id string) string { return b.prefix + id }

// Write uploads exactly size bytes from r.
func (b *BlobStore) Write(ctx context.Context, id string, r io.Reader, size int64) error {
	if err := validateID(id); err != nil {
		return err
	}
	body := &countingReader{r: io.LimitReader(r, size)}
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key(id)),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	}, unsignedPayload)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	if body.n != size {
		_ = b.Delete(context.WithoutCancel(ctx), id)
		return fmt.Errorf("short blob body (%d of %d bytes): %w", body.n, size, io.ErrUnexpectedEOF)
	}
	return nil
}

// Open streams the object. A missing object yields an error matching
// fs.ErrNotExist.
func (b *BlobStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("blob %s: %w", id, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object; S3 treats deleting a missing key as success.
func (b *BlobStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := validateID(id); err != nil {
		return err
	}
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// List pages through the prefix and returns the ids of objects last modified
// at or before cutoff.
func (b *BlobStore) List(ctx context.Context, cutoff time.Time) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	var ids []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), b.prefix)
			if validateID(id) != nil {
				continue
			}
			if obj.LastModified != nil && obj.LastModified.After(cutoff) {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func validateID(id string) error {
	if _, err := domain.ParseStoredID(id); err != nil {
		return fmt.Errorf("invalid blob id %q: %w", id, err)
	}
	return nil
}

// unsignedPayload lets PutObject stream a body that cannot be rewound for
// payload hashing.
func unsignedPayload(o *s3.Options) {
	o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
}

// countingReader records how many bytes the uploader consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
