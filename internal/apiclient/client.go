package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sandia/internal/metrics"
)

const maxBodyBytes = 4 << 20

// DefaultAlert is shown by the global failure channel when the backend gave no message.
const DefaultAlert = "could not connect to the server"

// CredentialSource yields the token to attach to a request. It is read on every call.
type CredentialSource interface {
	Token() string
}

// Notifier is the process-wide failure channel. Every failed request is reported to
// it before the error is returned to the caller.
type Notifier interface {
	Alert(message string)
}

// Client calls the booking backend REST API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials CredentialSource
	notifier    Notifier
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// NewClient constructs a client for baseURL (for example http://127.0.0.1:8000/api).
// credentials may be nil for anonymous use.
func NewClient(baseURL string, credentials CredentialSource) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		credentials: credentials,
		logger:      zerolog.Nop(),
	}
}

// UseHTTPClient replaces the underlying HTTP client.
func (c *Client) UseHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

// UseTimeout sets the per-request timeout.
func (c *Client) UseTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// UseCredentials replaces the credential source read on every authorized call.
func (c *Client) UseCredentials(credentials CredentialSource) {
	c.credentials = credentials
}

// UseNotifier configures the global failure channel.
func (c *Client) UseNotifier(n Notifier) {
	c.notifier = n
}

// UseRateLimit throttles outbound requests. A non-positive rate disables throttling.
func (c *Client) UseRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// UseLogger sets the logger for request failures.
func (c *Client) UseLogger(logger zerolog.Logger) {
	c.logger = logger.With().Str("component", "apiclient").Logger()
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Resource returns the five CRUD operations for one pluralized resource path.
func (c *Client) Resource(name string) *Resource {
	return &Resource{client: c, name: strings.Trim(name, "/")}
}

// PostAnonymous sends a JSON body without credentials (login and registration).
func (c *Client) PostAnonymous(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, call{method: http.MethodPost, resource: strings.Trim(path, "/"), path: path, body: body, out: out})
}

// Resource is a uniform CRUD surface over /{name}/ and /{name}/{id}/.
type Resource struct {
	client *Client
	name   string
}

// Name returns the resource path segment.
func (r *Resource) Name() string {
	return r.name
}

// List fetches the whole collection in server order.
func (r *Resource) List(ctx context.Context) ([]Record, error) {
	var out []Record
	if err := r.client.call(ctx, r.request(http.MethodGet, 0, nil, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one record.
func (r *Resource) Get(ctx context.Context, id int64) (Record, error) {
	var out Record
	if err := r.client.call(ctx, r.request(http.MethodGet, id, nil, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Create posts a new record and returns what the server echoed back (may be nil).
func (r *Resource) Create(ctx context.Context, payload Record) (Record, error) {
	var out Record
	if err := r.client.call(ctx, r.request(http.MethodPost, 0, payload, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces record id with payload.
func (r *Resource) Update(ctx context.Context, id int64, payload Record) (Record, error) {
	var out Record
	if err := r.client.call(ctx, r.request(http.MethodPut, id, payload, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes record id.
func (r *Resource) Delete(ctx context.Context, id int64) error {
	return r.client.call(ctx, r.request(http.MethodDelete, id, nil, nil))
}

func (r *Resource) request(method string, id int64, body, out any) call {
	path := "/" + r.name + "/"
	if id != 0 {
		path += strconv.FormatInt(id, 10) + "/"
	}
	return call{method: method, resource: r.name, path: path, body: body, out: out, authorized: true}
}

type call struct {
	method     string
	resource   string
	path       string
	body       any
	out        any
	authorized bool
}

func (c *Client) call(ctx context.Context, cl call) error {
	started := time.Now()
	requestID := uuid.New().String()

	err := c.do(ctx, cl, requestID)
	outcome := "ok"
	if err != nil {
		apiErr, ok := err.(*Error)
		if !ok {
			apiErr = &Error{Kind: KindTransport, Err: err}
		}
		apiErr.Method = cl.method
		apiErr.Path = cl.path
		apiErr.RequestID = requestID
		outcome = string(apiErr.Kind)
		c.report(apiErr)
		err = apiErr
	}
	metrics.ObserveRequest(cl.resource, cl.method, outcome, time.Since(started))
	return err
}

func (c *Client) do(ctx context.Context, cl call, requestID string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return localError(fmt.Errorf("rate limiter: %w", err))
		}
	}

	var reader io.Reader = http.NoBody
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return localError(fmt.Errorf("encode body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, reader)
	if err != nil {
		return localError(fmt.Errorf("build request: %w", err))
	}
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if cl.authorized && c.credentials != nil {
		if token := c.credentials.Token(); token != "" {
			req.Header.Set("Authorization", "Token "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Kind: KindTransport, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 300 {
		return &Error{Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode, Body: decodeErrorBody(data)}
	}
	if cl.out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(cl.out); err != nil {
		return &Error{Kind: KindTransport, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func decodeErrorBody(data []byte) map[string]any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		// Django debug pages and proxies answer with HTML.
		return nil
	}
	return body
}

func (c *Client) report(e *Error) {
	c.logger.Warn().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("kind", string(e.Kind)).
		Str("request_id", e.RequestID).
		Bool("local", e.Local).
		Err(e).
		Msg("api request failed")

	if c.notifier == nil || e.Local {
		return
	}
	msg := e.Message()
	if msg == "" {
		msg = DefaultAlert
	}
	c.notifier.Alert(msg)
}
