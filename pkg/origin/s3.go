package origin

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the part of *s3.Client the origin uses. It also satisfies
// manager.DownloadAPIClient.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Origin struct {
	client     S3API
	downloader *manager.Downloader
	bucket     string
	prefix     string
	retry      retrier
}

func NewS3OriginFromConfig(cfg aws.Config, bucket, prefix string, maxRetries int) *S3Origin {
	return NewS3Origin(s3.NewFromConfig(cfg), bucket, prefix, maxRetries)
}

func NewS3Origin(client S3API, bucket, prefix string, maxRetries int) *S3Origin {
	return &S3Origin{
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.Concurrency = 1
			// A document fits in one part; the retrier handles truncated bodies.
			d.PartSize = MaxDocumentSize + 1
			d.PartBodyMaxRetries = 0
		}),
		bucket: bucket,
		prefix: prefix,
		retry:  newRetrier(maxRetries),
	}
}

func (o *S3Origin) String() string {
	if o.prefix == "" {
		return fmt.Sprintf("s3://%s", o.bucket)
	}
	return fmt.Sprintf("s3://%s/%s", o.bucket, o.prefix)
}

func (o *S3Origin) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	key := joinKey(o.prefix, name)

	var out *s3.GetObjectOutput
	err := o.retry.do(ctx, func() error {
		var err error
		out, err = o.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return nil, 0, o.wrap(key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// Get downloads the whole object into memory through the transfer manager.
// The download stops as soon as it passes MaxDocumentSize.
func (o *S3Origin) Get(ctx context.Context, name string) ([]byte, error) {
	key := joinKey(o.prefix, name)

	var buf *limitedBuffer
	err := o.retry.do(ctx, func() error {
		buf = &limitedBuffer{buf: manager.NewWriteAtBuffer(nil), limit: MaxDocumentSize}
		_, err := o.downloader.Download(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if errors.Is(err, ErrTooLarge) {
		return nil, fmt.Errorf("s3://%s/%s: %w", o.bucket, key, ErrTooLarge)
	}
	if err != nil {
		return nil, o.wrap(key, err)
	}
	return buf.buf.Bytes(), nil
}

// limitedBuffer rejects writes that would grow it past limit bytes.
type limitedBuffer struct {
	buf   *manager.WriteAtBuffer
	limit int64
}

func (b *limitedBuffer) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > b.limit {
		return 0, ErrTooLarge
	}
	return b.buf.WriteAt(p, off)
}

func (o *S3Origin) wrap(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("s3://%s/%s: %w", o.bucket, key, errors.Join(ErrNotFound, err))
	}
	return fmt.Errorf("failed to get s3://%s/%s: %w", o.bucket, key, err)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
