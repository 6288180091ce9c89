package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type HTTPOrigin struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPOrigin returns an origin rooted at base. A nil client uses
// http.DefaultClient; timeouts are left to the caller's context.
func NewHTTPOrigin(base string, client *http.Client) (*HTTPOrigin, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid origin URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%q: %w", base, ErrUnsupported)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid origin URL %q: missing host", base)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOrigin{base: u, client: client}, nil
}

func (o *HTTPOrigin) String() string {
	return o.base.String()
}

// URL resolves name against the base. The base path is always treated as a
// directory.
func (o *HTTPOrigin) URL(name string) string {
	u := *o.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(name, "/")
	u.RawPath = ""
	return u.String()
}

func (o *HTTPOrigin) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	target := o.URL(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("GET %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, 0, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}

	return resp.Body, resp.ContentLength, nil
}

func (o *HTTPOrigin) Get(ctx context.Context, name string) ([]byte, error) {
	body, _, err := o.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return readDocument(body, o.URL(name))
}

func readDocument(r io.Reader, from string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", from, err)
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("%s: %w", from, ErrTooLarge)
	}
	return data, nil
}
