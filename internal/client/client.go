// Package client is a typed HTTP client for one DocKeeper collection and
// the interactive shell built on it.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atinyakov/DocKeeper/internal/middleware"
)

// Response is a decoded response envelope.
type Response map[string]any

// Success reports the envelope's success flag.
func (r Response) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// APIError is returned for responses with a 4xx or 5xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to one collection of a DocKeeper server.
type Client struct {
	HTTP     *http.Client
	BaseURL  string
	Resource string
}

// New returns a Client for resource. A nil httpClient gets a 10s timeout.
func New(baseURL, resource string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		HTTP:     httpClient,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Resource: resource,
	}
}

// NewTLSClient returns an http.Client trusting the CA in caFile, for
// servers running with their own certificate.
func NewTLSClient(caFile string) (*http.Client, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: caPool, MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}

func (c *Client) collection(parts ...string) string {
	path := "/" + c.Resource
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, body any) (Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.RequestIDHeader, uuid.NewString())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := out["error"].(string)
		if msg == "" {
			msg, _ = out["message"].(string)
		}
		return out, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return out, nil
}

// List returns every record of the collection.
func (c *Client) List(ctx context.Context) (Response, error) {
	return c.do(ctx, http.MethodGet, c.collection(), nil)
}

// Get returns one record by identifier.
func (c *Client) Get(ctx context.Context, id string) (Response, error) {
	return c.do(ctx, http.MethodGet, c.collection(id), nil)
}

// Create inserts doc.
func (c *Client) Create(ctx context.Context, doc map[string]any) (Response, error) {
	return c.do(ctx, http.MethodPost, c.collection(), doc)
}

// Update merges set into the record and returns the updated record.
func (c *Client) Update(ctx context.Context, id string, set map[string]any) (Response, error) {
	return c.do(ctx, http.MethodPut, c.collection(id, "return"), set)
}

// Delete removes one record.
func (c *Client) Delete(ctx context.Context, id string) (Response, error) {
	return c.do(ctx, http.MethodDelete, c.collection(id), nil)
}

// Search runs GET /{resource}/search with the given parameters.
func (c *Client) Search(ctx context.Context, params url.Values) (Response, error) {
	return c.do(ctx, http.MethodGet, c.collection("search")+query(params), nil)
}

// Count runs GET /{resource}/count with the given parameters.
func (c *Client) Count(ctx context.Context, params url.Values) (Response, error) {
	return c.do(ctx, http.MethodGet, c.collection("count")+query(params), nil)
}

// IssueToken requests a token for username.
func (c *Client) IssueToken(ctx context.Context, username string) (Response, error) {
	return c.do(ctx, http.MethodPost, "/auth/token", map[string]string{"username": username})
}

// VerifyToken asks the server to check token.
func (c *Client) VerifyToken(ctx context.Context, token string) (Response, error) {
	return c.do(ctx, http.MethodPost, "/auth/verify", map[string]string{"token": token})
}

func query(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}
