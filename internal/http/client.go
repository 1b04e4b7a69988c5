package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/ratelimit"
)

// Common errors.
var (
	ErrRangeNotSupported = errors.New("http: server does not support range requests")
	ErrNotFound          = errors.New("http: resource not found")
	ErrForbidden         = errors.New("http: access forbidden")
	ErrServerError       = errors.New("http: server error")
)

// Options configures the HTTP client.
type Options struct {
	// Timeout bounds connection setup and the wait for response headers.
	// Body transfer is not bounded; cancel the context instead.
	// Default: 30s
	Timeout time.Duration

	// UserAgent is sent with every request.
	// Default: "PatchDownloader"
	UserAgent string

	// Proxy selects the proxy: empty uses the environment (HTTP_PROXY and
	// friends), "none" disables proxying, anything else is a proxy URL.
	Proxy string

	// MaxDownloadRate caps the combined body read rate of all requests made
	// through this client, in bytes per second. Zero disables the cap.
	MaxDownloadRate int64
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:   30 * time.Second,
		UserAgent: "PatchDownloader",
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	ETag          string
	AcceptsRanges bool
}

// Client wraps HTTP operations for patch downloads.
//
// Client provides:
//   - Configured User-Agent header
//   - Header timeout handling
//   - Ranged downloads for resuming and segmenting transfers
//   - A shared read-rate limit across concurrent downloads
//
// Example usage:
//
//	client := NewClient(DefaultOptions())
//
//	info, err := client.Head(ctx, patchURL)
//
//	// Fetch bytes 1024..end into a file opened for append
//	n, err := client.Fetch(ctx, patchURL, 1024, -1, file)
type Client struct {
	httpClient *http.Client
	userAgent  string
	bucket     *ratelimit.Bucket
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultOptions().UserAgent
	}

	transport := &http.Transport{
		Proxy:                 proxyFunc(opts.Proxy),
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableCompression:    true, // byte offsets must match the file on the server
	}

	c := &Client{
		httpClient: &http.Client{Transport: transport},
		userAgent:  opts.UserAgent,
	}
	if opts.MaxDownloadRate > 0 {
		c.bucket = ratelimit.NewBucketWithRate(float64(opts.MaxDownloadRate), opts.MaxDownloadRate)
	}
	return c
}

// ProgressWriter wraps a writer to track download progress.
//
// OnUpdate receives the number of bytes written by each Write call. It may be
// shared by several ProgressWriters writing concurrently, so it must be safe
// for concurrent use.
//
// Example:
//
//	pw := &ProgressWriter{
//	    Writer:   file,
//	    OnUpdate: func(n int64) { counter.Add(n) },
//	}
//	io.Copy(pw, response.Body)
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// OnUpdate is called after each Write with the number of bytes written.
	OnUpdate func(n int64)
}

// Write implements io.Writer, reporting progress through OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if pw.OnUpdate != nil && n > 0 {
		pw.OnUpdate(int64(n))
	}
	return n, err
}

// Head returns the size and range support of the file at rawURL.
//
// Returns an error if:
//   - The request fails
//   - The response status is not 2xx
func (c *Client) Head(ctx context.Context, rawURL string) (*FileInfo, error) {
	req, err := c.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if err := checkStatusCode(resp); err != nil {
		return nil, err
	}

	return &FileInfo{
		Size:          resp.ContentLength,
		ETag:          strings.Trim(strings.TrimPrefix(resp.Header.Get("ETag"), "W/"), `"`),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
	}, nil
}

// Fetch downloads rawURL into w and returns the number of bytes copied.
//
// start and end are inclusive byte offsets like the HTTP Range header; end < 0
// means "to the end of the file". A request for the whole file (start == 0,
// end < 0) is sent without a Range header. Ranged requests answered with
// anything but 206 Partial Content fail with ErrRangeNotSupported.
//
// Example:
//
//	// resume a partial download
//	n, err := client.Fetch(ctx, url, partSize, -1, file)
func (c *Client) Fetch(ctx context.Context, rawURL string, start, end int64, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return 0, err
	}
	ranged := start > 0 || end >= 0
	if ranged {
		if end >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp); err != nil {
		return 0, err
	}
	if ranged && resp.StatusCode != http.StatusPartialContent {
		return 0, ErrRangeNotSupported
	}

	var body io.Reader = resp.Body
	if c.bucket != nil {
		body = ratelimit.Reader(body, c.bucket)
	}
	return io.Copy(w, body)
}

func proxyFunc(proxy string) func(*http.Request) (*url.URL, error) {
	switch proxy {
	case "":
		return http.ProxyFromEnvironment
	case "none":
		return nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return func(*http.Request) (*url.URL, error) {
			return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
		}
	}
	return http.ProxyURL(u)
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return ErrForbidden
	case code == http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSupported
	case code >= 500:
		return fmt.Errorf("%w: %s", ErrServerError, resp.Status)
	default:
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
}
