// ABOUTME: HTTP client for the remote document and blob stores
// ABOUTME: Maps status codes onto the error taxonomy and bounds response sizes

package remote

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

	"github.com/charmbracelet/log"
)

// MaxResponseSize bounds any single response body read from the server.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// Client talks to the remote document and blob stores over HTTP, and to
// the live change stream over a websocket. It implements DocumentStore
// and BlobStore.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Logger

	reconnectBase time.Duration
	reconnectMax  time.Duration
	maxReconnects int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used by live subscriptions.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithReconnect tunes subscription reconnect behavior. maxAttempts of 0
// means reconnect forever.
func WithReconnect(base, max time.Duration, maxAttempts int) ClientOption {
	return func(c *Client) {
		c.reconnectBase = base
		c.reconnectMax = max
		c.maxReconnects = maxAttempts
	}
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		token:         token,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        log.Default(),
		reconnectBase: time.Second,
		reconnectMax:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError converts a non-2xx response into the error taxonomy.
func statusError(op string, status int) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	default:
		return fmt.Errorf("%s: unexpected status code: %d", op, status)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, MaxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, resp.StatusCode, fmt.Errorf("response too large (exceeds %d bytes)", MaxResponseSize)
	}

	return data, resp.StatusCode, nil
}

// Upsert implements DocumentStore.
func (c *Client) Upsert(ctx context.Context, path string, doc Document, mergeFields []string) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	query := url.Values{}
	if len(mergeFields) > 0 {
		query.Set("merge", strings.Join(mergeFields, ","))
	}

	_, status, err := c.do(ctx, http.MethodPut, "/v1/docs/"+path, query, body, "application/json")
	if err != nil {
		return fmt.Errorf("upsert %s: %w", path, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return statusError("upsert "+path, status)
	}
	return nil
}

// Delete implements DocumentStore. A 404 is treated as success so
// deletes stay idempotent.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, status, err := c.do(ctx, http.MethodDelete, "/v1/docs/"+path, nil, nil, "")
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return statusError("delete "+path, status)
	}
	return nil
}

// GetOnce implements DocumentStore.
func (c *Client) GetOnce(ctx context.Context, path string) (Document, error) {
	data, status, err := c.do(ctx, http.MethodGet, "/v1/docs/"+path, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if status != http.StatusOK {
		return nil, statusError("get "+path, status)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// Blobs returns the blob-store view of this client. Documents and blobs
// share the transport and credentials but live behind separate prefixes.
func (c *Client) Blobs() *BlobClient {
	return &BlobClient{c: c}
}

// BlobClient is the BlobStore implementation backed by a Client.
type BlobClient struct {
	c *Client
}

// Put implements BlobStore.
func (b *BlobClient) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, status, err := b.c.do(ctx, http.MethodPut, "/v1/blobs/"+path, nil, data, contentType)
	if err != nil {
		return fmt.Errorf("put blob %s: %w", path, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return statusError("put blob "+path, status)
	}
	return nil
}

// DownloadURL implements BlobStore.
func (b *BlobClient) DownloadURL(ctx context.Context, path string) (string, error) {
	query := url.Values{"alt": {"url"}}
	data, status, err := b.c.do(ctx, http.MethodGet, "/v1/blobs/"+path, query, nil, "")
	if err != nil {
		return "", fmt.Errorf("download url %s: %w", path, err)
	}
	if status != http.StatusOK {
		return "", statusError("download url "+path, status)
	}

	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode download url %s: %w", path, err)
	}
	return resp.URL, nil
}

// ListChildren implements BlobStore.
func (b *BlobClient) ListChildren(ctx context.Context, path string) ([]string, error) {
	query := url.Values{"list": {"children"}}
	data, status, err := b.c.do(ctx, http.MethodGet, "/v1/blobs/"+path, query, nil, "")
	if err != nil {
		return nil, fmt.Errorf("list blobs %s: %w", path, err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, statusError("list blobs "+path, status)
	}

	var resp struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode blob list %s: %w", path, err)
	}
	return resp.Paths, nil
}

// Delete implements BlobStore. A 404 is treated as success.
func (b *BlobClient) Delete(ctx context.Context, path string) error {
	_, status, err := b.c.do(ctx, http.MethodDelete, "/v1/blobs/"+path, nil, nil, "")
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return statusError("delete blob "+path, status)
	}
	return nil
}

var (
	_ DocumentStore = (*Client)(nil)
	_ BlobStore     = (*BlobClient)(nil)
)
