// Package backendclient is the thin HTTP client per backend: it constructs
// the authenticated request, handles streaming and non-streaming transport,
// and retries transient failures with bounded exponential backoff. Grounded
// on the teacher's ProxyHandler.ServeHTTP/decompressReader (upstream call,
// brotli/gzip decompression) generalised into a reusable client instead of
// living inline in the HTTP handler.
package backendclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	connectTimeout   = 10 * time.Second
	firstByteTimeout = 60 * time.Second
	interChunkTimeout = 30 * time.Second

	maxRetries        = 3
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
	jitterFraction    = 0.2
	maxIdleConnsTotal = 32
)

// ErrorKind mirrors spec §4.4's BackendError taxonomy.
type ErrorKind string

const (
	ErrorNetwork     ErrorKind = "network"
	ErrorAuth        ErrorKind = "auth"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorBadRequest  ErrorKind = "bad_request"
	ErrorServer      ErrorKind = "server_error"
	ErrorProtocol    ErrorKind = "protocol"
)

// Error is the error type Send and SendStream surface for transport and HTTP
// failures; a context that ends while waiting to retry is returned as
// ctx.Err() instead.
type Error struct {
	Kind       ErrorKind
	HTTPStatus int
	Retryable  bool
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string { return e.Message }

// Client is a shared HTTP client for one backend, with its own connection
// pool capped at 32 concurrent connections (spec §5's shared-resource
// policy).
type Client struct {
	baseURL string
	apiKey  string
	authHdr string // header name; "Authorization" unless overridden
	http    *http.Client
	logger  *slog.Logger
}

// New builds a Client for one backend endpoint. apiKey is sent as a Bearer
// token in the Authorization header; it is never logged.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     maxIdleConnsTotal,
		MaxIdleConnsPerHost: maxIdleConnsTotal,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		authHdr: "Authorization",
		http:    &http.Client{Transport: transport},
		logger:  logger,
	}
}

// Send issues a non-streaming request and returns the (decompressed)
// response body as raw, unparsed bytes, retrying transient failures per
// spec §4.4.
func (c *Client) Send(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffFor(attempt, lastErr)
			c.logger.Warn("retrying backend request", "attempt", attempt, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, body)
		if err != nil {
			lastErr = &Error{Kind: ErrorNetwork, Retryable: true, Message: err.Error()}
			if attempt < maxRetries {
				continue
			}
			return nil, lastErr
		}

		data, apiErr := c.readResponse(resp)
		if apiErr == nil {
			return data, nil
		}
		lastErr = apiErr
		if !apiErr.Retryable || attempt == maxRetries {
			return nil, apiErr
		}
	}

	return nil, lastErr
}

// SendStream issues a streaming request and returns the raw response body
// reader (already decompressed) for the caller to scan as SSE lines. The
// initial connection attempt is retried per spec §4.4; once any byte has
// been forwarded to the client the caller must not retry — that is the
// caller's responsibility since only it knows whether bytes reached the
// client socket.
func (c *Client) SendStream(ctx context.Context, body []byte) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffFor(attempt, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequestStream(ctx, body)
		if err != nil {
			lastErr = &Error{Kind: ErrorNetwork, Retryable: true, Message: err.Error()}
			if attempt < maxRetries {
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusOK {
			reader, decErr := decompressReader(resp)
			if decErr != nil {
				resp.Body.Close()
				return nil, &Error{Kind: ErrorProtocol, Message: decErr.Error()}
			}
			body := &closeUnderlying{Reader: reader, underlying: resp.Body}
			return newInterChunkReader(body, interChunkTimeout), nil
		}

		apiErr := classifyStatus(resp)
		resp.Body.Close()
		lastErr = apiErr
		if !apiErr.Retryable || attempt == maxRetries {
			return nil, apiErr
		}
	}

	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	// http.Client has no separate connect/first-byte phases to bound
	// individually; connectTimeout+firstByteTimeout approximates spec
	// §4.4's two phases as a single deadline on Do(). Streaming requests go
	// through doRequestStream instead, where interChunkReader bounds each Read.
	reqCtx, cancel := context.WithTimeout(ctx, connectTimeout+firstByteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.authHdr, "Bearer "+c.apiKey)
	req.Header.Set("Accept-Encoding", "gzip, br")

	return c.http.Do(req)
}

// doRequestStream issues the request bound only to the caller's context
// (no request-scoped deadline), since a streaming response's body must stay
// readable for as long as the client keeps consuming it; per-chunk staleness
// is enforced separately by interChunkReader.
func (c *Client) doRequestStream(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.authHdr, "Bearer "+c.apiKey)
	req.Header.Set("Accept-Encoding", "gzip, br")

	return c.http.Do(req)
}

// closeUnderlying lets a decompressing Reader (which may not itself
// implement io.Closer, e.g. brotli.Reader) still close the real HTTP
// response body it wraps.
type closeUnderlying struct {
	io.Reader
	underlying io.Closer
}

func (c *closeUnderlying) Close() error { return c.underlying.Close() }

// interChunkReader fails a Read that takes longer than the configured
// timeout to produce its first byte, per spec §4.4's 30s inter-chunk bound.
type interChunkReader struct {
	body    io.ReadCloser
	timeout time.Duration
}

func newInterChunkReader(body io.ReadCloser, timeout time.Duration) io.ReadCloser {
	return &interChunkReader{body: body, timeout: timeout}
}

type readResult struct {
	n   int
	err error
}

func (r *interChunkReader) Read(p []byte) (int, error) {
	resultCh := make(chan readResult, 1)
	go func() {
		n, err := r.body.Read(p)
		resultCh <- readResult{n, err}
	}()

	select {
	case res := <-resultCh:
		return res.n, res.err
	case <-time.After(r.timeout):
		return 0, &Error{Kind: ErrorNetwork, Retryable: false, Message: "backend stream stalled past inter-chunk timeout"}
	}
}

func (r *interChunkReader) Close() error { return r.body.Close() }

func (c *Client) readResponse(resp *http.Response) ([]byte, *Error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, &Error{Kind: ErrorProtocol, Message: err.Error()}
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Error{Kind: ErrorProtocol, Message: err.Error()}
	}
	return data, nil
}

// classifyStatus maps a non-200 backend response to the BackendError
// taxonomy, honoring Retry-After when present.
func classifyStatus(resp *http.Response) *Error {
	status := resp.StatusCode
	msg := readErrorSnippet(resp.Body)

	e := &Error{HTTPStatus: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = ErrorAuth
		e.Retryable = false
	case status == http.StatusTooManyRequests:
		e.Kind = ErrorRateLimited
		e.Retryable = true
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	case status >= 400 && status < 500:
		e.Kind = ErrorBadRequest
		e.Retryable = false
	case status >= 500:
		e.Kind = ErrorServer
		e.Retryable = true
	default:
		e.Kind = ErrorProtocol
		e.Retryable = false
	}
	return e
}

func readErrorSnippet(body io.ReadCloser) string {
	defer body.Close()
	limited := io.LimitReader(body, 2048)
	data, _ := io.ReadAll(limited)
	return string(data)
}

// backoffFor computes the exponential-backoff-with-jitter wait for the given
// attempt number, honoring a Retry-After the previous attempt reported.
func backoffFor(attempt int, lastErr error) time.Duration {
	if apiErr, ok := lastErr.(*Error); ok && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}

	backoff := baseBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	jitter := time.Duration(float64(backoff) * jitterFraction * (rand.Float64()*2 - 1))
	result := backoff + jitter
	if result < 0 {
		result = backoff
	}
	return result
}

// decompressReader wraps resp.Body according to its Content-Encoding,
// exactly as the teacher's ProxyHandler.decompressReader does for gzip and
// brotli bodies.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// DecodeJSON is a small helper so Adapters don't each re-import encoding/json
// for the common case of parsing a Send() result.
func DecodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
