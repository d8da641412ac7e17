// Package fetch talks to the video backend: time-ranged segment requests,
// the thumbnail throughput probe and JSON documents such as video metadata.
//
// Responses are transparently decompressed (gzip, deflate, brotli). The
// client never retries on its own; retry policy belongs to the caller,
// which knows whether a failure is a stall or a hard error.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
)

// Default configuration values.
const (
	DefaultUserAgent          = "adaptive-stream/1.0"
	DefaultAcceptEncoding     = "gzip, deflate, br"
	DefaultMaxErrorBodyLength = 1024
)

// HTTP header constants.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// ErrInvalidUUID is returned when a video identifier is not a UUID.
var ErrInvalidUUID = errors.New("invalid video uuid")

// StatusError is returned for any response other than 200 OK. Body holds
// the (truncated) plain-text error the backend sent.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s", e.StatusCode, e.Body)
}

// Config holds the configuration for the backend client.
type Config struct {
	// BaseURL is the backend origin, e.g. "http://localhost:8000".
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Logger receives request logs. Defaults to slog.Default().
	Logger *slog.Logger

	// BaseClient is the underlying http.Client. It should not carry an
	// overall timeout: segment requests are bounded by the caller's context.
	BaseClient *http.Client
}

// RangeRequest identifies a time range of one tier of a video. Start and End
// are nanoseconds.
type RangeRequest struct {
	UUID       string
	Resolution int
	Start      int64
	End        int64
}

// RangeResponse is a successful segment response. The caller must close Body.
type RangeResponse struct {
	ContentRange
	Body io.ReadCloser
}

// Client is the HTTP collaborator of the streaming client.
type Client struct {
	base      *url.URL
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// New creates a client for the backend at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parsing base url: %q is not absolute", cfg.BaseURL)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	hc := cfg.BaseClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: base, client: hc, userAgent: cfg.UserAgent, logger: cfg.Logger}, nil
}

// RangeURL returns the segment URL for req:
// /video/{uuid}/{resolution}/{startNs}/{endNs}.
func (c *Client) RangeURL(req RangeRequest) string {
	return c.base.JoinPath("video", req.UUID,
		strconv.Itoa(req.Resolution),
		strconv.FormatInt(req.Start, 10),
		strconv.FormatInt(req.End, 10),
	).String()
}

// ThumbnailURL returns /thumbnail/{uuid}.
func (c *Client) ThumbnailURL(id string) string {
	return c.base.JoinPath("thumbnail", id).String()
}

// FetchRange requests a segment. It returns once the response headers are
// in; the body is read by the caller so the two phases can be timed apart.
func (c *Client) FetchRange(ctx context.Context, req RangeRequest) (*RangeResponse, error) {
	if _, err := uuid.Parse(req.UUID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUUID, req.UUID)
	}

	resp, err := c.get(ctx, c.RangeURL(req))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	cr, err := ParseContentRange(resp.Header.Get(HeaderContentRange))
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &RangeResponse{ContentRange: cr, Body: resp.Body}, nil
}

// Probe downloads the thumbnail of a video and returns the observed
// throughput in bytes per second. Only the body read is timed, so the
// figure reflects transfer speed rather than server think time.
func (c *Client) Probe(ctx context.Context, id string) (float64, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUUID, id)
	}

	resp, err := c.get(ctx, c.ThumbnailURL(id))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, c.statusError(resp)
	}
	defer resp.Body.Close()

	t0 := time.Now()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading thumbnail: %w", err)
	}
	ms := max(float64(time.Since(t0))/float64(time.Millisecond), 1)
	speed := float64(n) * 1000 / ms

	c.logger.Debug("throughput probe",
		slog.String("uuid", id),
		slog.Int64("bytes", n),
		slog.Float64("bytes_per_second", speed),
	)
	return speed, nil
}

// GetJSON fetches rawURL (absolute, or relative to the base URL) and
// decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	resp, err := c.get(ctx, c.base.ResolveReference(ref).String())
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(HeaderUserAgent, c.userAgent)
	req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncoding)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	c.logger.Debug("request completed",
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
		slog.Int64("content_length", resp.ContentLength),
	)

	resp.Body = c.wrapDecompression(resp)
	return resp, nil
}

// statusError drains and closes resp.Body and returns it as a StatusError.
func (c *Client) statusError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxErrorBodyLength))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// wrapDecompression wraps the response body with the decoder matching its
// Content-Encoding. Unknown encodings are passed through untouched.
func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := resp.Header.Get(HeaderContentEncoding)
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}
	case EncodingDeflate:
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case EncodingBrotli:
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		c.logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader closes both the decoder (when it is a Closer) and the
// underlying body.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	var errs []error
	if rc, ok := d.reader.(io.Closer); ok {
		if err := rc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.closer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
