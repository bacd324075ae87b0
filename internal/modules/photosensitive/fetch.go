package photosensitive

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	ErrRateLimited  = errors.New("remote rate limited")
	ErrInaccessible = errors.New("remote inaccessible")
	ErrTooLarge     = errors.New("remote body too large")
	ErrTimeout      = errors.New("remote fetch timed out")
)

const maxRedirects = 3

// Meta is what a HEAD request reveals about a remote image.
type Meta struct {
	ContentType string
	Size        int64
}

func (m Meta) IsImage() bool {
	return strings.HasPrefix(m.ContentType, "image/")
}

func (m Meta) IsGIF() bool {
	return m.ContentType == "image/gif"
}

// Fetcher performs bounded HEAD and GET requests for image candidates.
type Fetcher struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewFetcher(timeout time.Duration, maxBody int) *Fetcher {
	return newFetcher(&fasthttp.Client{
		Name:                      "guardbot",
		ReadTimeout:               timeout,
		WriteTimeout:              timeout,
		MaxResponseBodySize:       maxBody,
		MaxIdleConnDuration:       30 * time.Second,
		MaxIdemponentCallAttempts: 1,
	}, timeout)
}

func newFetcher(client *fasthttp.Client, timeout time.Duration) *Fetcher {
	return &Fetcher{client: client, timeout: timeout}
}

func (f *Fetcher) Head(ctx context.Context, rawURL string) (Meta, error) {
	var meta Meta
	err := f.do(ctx, fasthttp.MethodHead, rawURL, func(resp *fasthttp.Response) {
		meta.ContentType = mediaType(string(resp.Header.ContentType()))
		meta.Size = int64(resp.Header.ContentLength())
	})
	return meta, err
}

// Get downloads the body, bounded by the client's body cap.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := f.do(ctx, fasthttp.MethodGet, rawURL, func(resp *fasthttp.Response) {
		body = append([]byte(nil), resp.Body()...)
	})
	return body, err
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string, read func(*fasthttp.Response)) error {
	deadline := time.Now().Add(f.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	target := rawURL
	for hop := 0; ; hop++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		req.Reset()
		resp.Reset()
		req.SetRequestURI(target)
		req.Header.SetMethod(method)
		resp.SkipBody = method == fasthttp.MethodHead

		if err := f.client.DoDeadline(req, resp, deadline); err != nil {
			return classify(err)
		}

		status := resp.StatusCode()
		if fasthttp.StatusCodeIsRedirect(status) {
			if hop >= maxRedirects {
				return fmt.Errorf("%w: too many redirects", ErrInaccessible)
			}
			next, err := resolve(target, string(resp.Header.Peek(fasthttp.HeaderLocation)))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInaccessible, err)
			}
			target = next
			continue
		}
		switch {
		case status == fasthttp.StatusTooManyRequests:
			return ErrRateLimited
		case status < 200 || status >= 300:
			return fmt.Errorf("%w: status %d", ErrInaccessible, status)
		}
		read(resp)
		return nil
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, fasthttp.ErrTimeout), errors.Is(err, fasthttp.ErrDialTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, fasthttp.ErrBodyTooLarge):
		return ErrTooLarge
	default:
		return fmt.Errorf("%w: %v", ErrInaccessible, err)
	}
}

func resolve(base, location string) (string, error) {
	if location == "" {
		return "", errors.New("redirect without location")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	next, err := baseURL.Parse(location)
	if err != nil {
		return "", err
	}
	return next.String(), nil
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}
