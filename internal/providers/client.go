package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 1000 * time.Millisecond
	defaultTimeout    = 30 * time.Second
)

// authFunc returns the Authorization header value for an authenticated
// request, or an empty string when no valid credential is held. The
// request context is passed through so adapters can resolve
// request-scoped credentials.
type authFunc func(ctx context.Context) string

// httpClient is the shared request executor composed into every adapter:
// URL composition, header injection, JSON codec, retry with exponential
// backoff and offset pagination.
type httpClient struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	auth       authFunc
}

func newHTTPClient(baseURL string, auth authFunc) *httpClient {
	return &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		auth:       auth,
	}
}

// requestOptions shapes a single upstream request.
type requestOptions struct {
	jsonBody any
	form     url.Values
	query    url.Values
	header   http.Header
	// skipAuth bypasses the auth-header guard, for credential exchanges
	// that carry their own Authorization header.
	skipAuth bool
}

// response is the raw upstream result. Adapters decode bodies themselves
// so creation responses can expose the Location header.
type response struct {
	status int
	header http.Header
	body   []byte
}

// decode unmarshals the response body, surfacing malformed bodies on
// successful responses as REQUEST_FAILED.
func (r *response) decode(out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return NewHTTPError(ErrCodeRequestFailed, "malformed response body", r.status, nil)
	}
	return nil
}

// do executes a request with the configured retry policy: up to maxRetries
// attempts, retrying only network errors and 5xx responses, with the delay
// doubling between attempts. The last observed error propagates after
// retries are exhausted.
func (c *httpClient) do(ctx context.Context, method, path string, opts requestOptions) (*response, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.attempt(ctx, method, path, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.maxRetries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, NewError(ErrCodeNetworkError, "request cancelled: "+ctx.Err().Error())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// doJSON executes a request and decodes a successful JSON body into out.
func (c *httpClient) doJSON(ctx context.Context, method, path string, opts requestOptions, out any) error {
	resp, err := c.do(ctx, method, path, opts)
	if err != nil {
		return err
	}
	return resp.decode(out)
}

func (c *httpClient) attempt(ctx context.Context, method, path string, opts requestOptions) (*response, error) {
	target := c.baseURL + path
	if len(opts.query) > 0 {
		target += "?" + opts.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case opts.form != nil:
		body = strings.NewReader(opts.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case opts.jsonBody != nil:
		buf, err := json.Marshal(opts.jsonBody)
		if err != nil {
			return nil, NewError(ErrCodeRequestFailed, "failed to encode request body: "+err.Error())
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, NewError(ErrCodeRequestFailed, "failed to build request: "+err.Error())
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range opts.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	// Auth-header guard: authenticated calls fail fast before issuing a
	// doomed request.
	if !opts.skipAuth {
		token := ""
		if c.auth != nil {
			token = c.auth(ctx)
		}
		if token == "" {
			return nil, NewError(ErrCodeAuthenticationRequired, "no valid access token; call Authenticate first")
		}
		req.Header.Set("Authorization", token)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are retryable network errors.
		return nil, NewError(ErrCodeNetworkError, "request failed: "+err.Error())
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewError(ErrCodeNetworkError, "failed to read response body: "+err.Error())
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		// A parse failure here still surfaces the HTTP failure, not a
		// parse error; the decoded body is attached opportunistically.
		var details any
		if len(raw) > 0 {
			var decoded map[string]any
			if json.Unmarshal(raw, &decoded) == nil {
				details = decoded
			}
		}
		return nil, NewHTTPError(
			ErrCodeRequestFailed,
			fmt.Sprintf("upstream returned status %d", httpResp.StatusCode),
			httpResp.StatusCode,
			details,
		)
	}

	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: raw}, nil
}

// paginate drives an offset-based collection walk: pages are requested at
// increasing offsets until the cumulative item count reaches the
// server-reported total. fetch reports the batch size and total; empty
// batches terminate the walk. Each call restarts from offset zero.
func paginate(ctx context.Context, pageSize int, fetch func(ctx context.Context, offset, limit int) (count, total int, err error)) error {
	offset := 0
	for {
		count, total, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		offset += count
		if offset >= total {
			return nil
		}
	}
}

// resourceIDFromLocation extracts the trailing path segment from a
// creation response's Location header. ok is false when the header is
// missing or carries no usable identifier.
func resourceIDFromLocation(header http.Header) (id string, ok bool) {
	loc := header.Get("Location")
	if loc == "" {
		return "", false
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", false
	}
	segments := splitPath(u.Path)
	if len(segments) == 0 {
		return "", false
	}
	id = segments[len(segments)-1]
	return id, id != ""
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
