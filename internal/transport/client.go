// Package transport implements the REST Executor: a single uniform HTTP
// policy shared by every authenticated caller (the Session Manager's own
// login/refresh calls and the Client Facade's typed moderation operations).
// Factoring it out as a standalone handle breaks the Session↔Facade
// circular reference: the Session Manager borrows this transport, it never
// borrows the Facade.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// labelerProxySuffix is appended to a service DID to form the
// Atproto-Proxy header value routed to an ozone labeler.
const labelerProxySuffix = "#atproto_labeler"

// maxTransientRetries bounds retries on connection-reset/read-EOF faults:
// retry up to 5 times, then surface the error.
const maxTransientRetries = 5

// Bearer selects which token, if any, a request is authenticated with.
type Bearer int

const (
	BearerNone Bearer = iota
	BearerAccess
	BearerRefresh
)

// TokenSource is implemented by the Session Manager and consulted on every
// authenticated call; the executor never owns tokens itself.
type TokenSource interface {
	AccessToken() string
	RefreshToken() string
}

// Options configures a single call through Do.
type Options struct {
	Method string // defaults to POST when Body != nil, GET otherwise
	Bearer Bearer
	// NoLogBody suppresses body logging for credential-bearing calls.
	NoLogBody bool
	// OmitEmpty controls whether empty event fields are dropped when
	// marshaling the request body. emitEvent requires empty fields to be
	// sent, so callers building that payload set this false.
	OmitEmpty bool
	// Labeled attaches Atproto-Accept-Labelers / Atproto-Proxy headers.
	Labeled bool
}

// HTTPError is returned for any non-2xx response. The Session Manager
// inspects Body for the "InvalidToken" marker; all other callers
// treat it as a fatal call failure.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, string(e.Body))
}

// IsInvalidToken reports whether the error body carries the server's
// invalid/unverifiable token marker.
func (e *HTTPError) IsInvalidToken() bool {
	return strings.Contains(string(e.Body), `"error":"InvalidToken"`) ||
		strings.Contains(string(e.Body), `"error": "InvalidToken"`)
}

// Client is the shared REST Executor. It is safe for concurrent use.
type Client struct {
	baseURL     string
	serviceDID  string
	httpClient  *http.Client
	tokens      TokenSource
	logger      *slog.Logger
}

// New constructs a Client targeting baseURL, optionally routed through a
// labeler identified by serviceDID.
func New(baseURL, serviceDID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceDID: serviceDID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// SetTokenSource registers the Session Manager as the token provider. Called
// once during wiring, after both the transport and the session manager have
// been constructed, so neither package imports the other's constructor.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Do executes one XRPC call against path (e.g. "com.atproto.server.createSession"),
// marshaling body (if any) as the request payload and decoding the response
// into out (if non-nil). It applies the uniform retry policy on transient
// read-EOF faults only; HTTP 4xx/5xx and any other error is fatal for the call.
func (c *Client) Do(ctx context.Context, path string, body interface{}, out interface{}, opts Options) error {
	method := opts.Method
	if method == "" {
		if body != nil {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	var payload []byte
	if body != nil {
		encoded, err := marshalBody(body, opts.OmitEmpty)
		if err != nil {
			return fmt.Errorf("transport: marshal request body: %w", err)
		}
		payload = encoded
	}

	logBody := payload
	if opts.NoLogBody {
		logBody = []byte("<redacted>")
	}
	requestID := uuid.NewString()
	c.logger.Debug("executing xrpc call", "op", path, "method", method, "body", string(logBody), "request_id", requestID)

	var respBody []byte
	constBackoff := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), maxTransientRetries)
	err := backoff.Retry(func() error {
		b, err := c.do(ctx, method, path, payload, opts, requestID)
		if err != nil {
			if isTransientEOF(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		respBody = b
		return nil
	}, constBackoff)
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return perm.Err
		}
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return unmarshalResponse(respBody, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, opts Options, requestID string) ([]byte, error) {
	url := fmt.Sprintf("%s/xrpc/%s", c.baseURL, path)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}

	req.Header.Set("X-Request-Id", requestID)
	if payload != nil && method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.Labeled && c.serviceDID != "" {
		req.Header.Set("Atproto-Accept-Labelers", c.serviceDID)
		req.Header.Set("Atproto-Proxy", c.serviceDID+labelerProxySuffix)
	}
	if opts.Bearer != BearerNone && c.tokens != nil {
		token := c.tokens.AccessToken()
		if opts.Bearer == BearerRefresh {
			token = c.tokens.RefreshToken()
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: respBody}
	}

	return respBody, nil
}

// isTransientEOF reports whether err looks like a connection-reset / read-EOF
// fault rather than an application error; only these are retried.
func isTransientEOF(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "EOF") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe")
}

// marshalBody encodes body as JSON. When omitEmpty is true, top-level
// zero-valued fields (empty string, 0, false, null, [], {}) are stripped
// from the encoded object after marshaling, generically across every field
// of the request rather than requiring each request type to carry its own
// `omitempty` struct tags. When omitEmpty is false (the default, used by
// emitEvent payloads), every field is sent as marshaled, zero values
// included.
func marshalBody(body interface{}, omitEmpty bool) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if !omitEmpty {
		return encoded, nil
	}
	return stripEmptyFields(encoded)
}

// stripEmptyFields drops every top-level key of a JSON object whose value
// is that type's zero-value JSON encoding. Non-object payloads (arrays,
// scalars) pass through unchanged.
func stripEmptyFields(data []byte) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return data, nil
	}
	for k, v := range raw {
		if isEmptyJSONValue(v) {
			delete(raw, k)
		}
	}
	return json.Marshal(raw)
}

func isEmptyJSONValue(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case `""`, "0", "false", "null", "[]", "{}":
		return true
	default:
		return false
	}
}

// unmarshalResponse decodes respBody into out, renaming a JSON "$type" key
// onto "type" first so it can land on a conflict-free Go field — AT Protocol
// records commonly carry a "$type" discriminator.
func unmarshalResponse(respBody []byte, out interface{}) error {
	remapped, err := remapDollarType(respBody)
	if err != nil {
		// Not a JSON object at the top level (e.g. an array); fall through
		// to direct unmarshaling.
		return json.Unmarshal(respBody, out)
	}
	return json.Unmarshal(remapped, out)
}

// remapDollarType renames a top-level "$type" key to "type" in a JSON
// object, returning the re-encoded document.
func remapDollarType(data []byte) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if v, ok := raw["$type"]; ok {
		raw["type"] = v
		delete(raw, "$type")
	}
	return json.Marshal(raw)
}
