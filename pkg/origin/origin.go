// Package origin fetches manifests and files from the remote base an updater
// is configured with. An origin is either an HTTP(S) URL or an S3 URI; names
// passed to it are slash separated paths relative to that base.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
)

// MaxDocumentSize bounds what Get will read into memory.
const MaxDocumentSize = 16 << 20

var (
	ErrNotFound    = errors.New("object not found")
	ErrTooLarge    = errors.New("document exceeds size limit")
	ErrUnsupported = errors.New("unsupported origin scheme")
)

type Origin interface {
	// Open starts streaming the named object. size is -1 when the origin
	// does not report a length.
	Open(ctx context.Context, name string) (body io.ReadCloser, size int64, err error)
	// Get reads a small document such as the manifest completely.
	Get(ctx context.Context, name string) ([]byte, error)
	// String returns the origin URI.
	String() string
}

// StatusError is returned for a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type Options struct {
	HTTPClient *http.Client
	// AWSProfile and AWSRegion are only used for s3:// origins.
	AWSProfile string
	AWSRegion  string
	// MaxRetries applies to transient S3 errors.
	MaxRetries int
}

// New returns the origin for uri.
func New(ctx context.Context, uri string, opts Options) (Origin, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		bucket, prefix, err := ParseS3URI(uri)
		if err != nil {
			return nil, err
		}

		var configOpts []func(*config.LoadOptions) error
		if opts.AWSProfile != "" {
			configOpts = append(configOpts, config.WithSharedConfigProfile(opts.AWSProfile))
		}
		if opts.AWSRegion != "" {
			configOpts = append(configOpts, config.WithRegion(opts.AWSRegion))
		}

		cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewS3OriginFromConfig(cfg, bucket, prefix, opts.MaxRetries), nil

	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return NewHTTPOrigin(uri, opts.HTTPClient)

	default:
		return nil, fmt.Errorf("%q: %w", uri, ErrUnsupported)
	}
}

// ParseS3URI splits s3://bucket/prefix. The prefix is cleaned and carries no
// leading or trailing slash.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URI: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid S3 URI: must start with s3://")
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("invalid S3 URI: missing bucket name")
	}

	prefix = strings.Trim(u.Path, "/")
	if prefix != "" {
		prefix = path.Clean(prefix)
	}
	return u.Host, prefix, nil
}

// joinKey turns an origin relative name into a key below prefix.
func joinKey(prefix, name string) string {
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
