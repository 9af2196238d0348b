// Package fhir provides the REST client for an external FHIR server.
//
// The client implements service.ResourceClient: connectivity probing,
// paged search, single reads, counts and server-side $validate.
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gofhir/quality/service"
)

// DefaultTimeout bounds each request to the server.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps the response body read per request.
const maxBodyBytes = 32 << 20

// Client talks to a FHIR R4 server over its REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// bundle is the subset of a search Bundle the client reads.
type bundle struct {
	ResourceType string `json:"resourceType"`
	Total        *int   `json:"total"`
	Entry        []struct {
		Resource map[string]any `json:"resource"`
	} `json:"entry"`
}

// TestConnection probes the server's CapabilityStatement.
func (c *Client) TestConnection(ctx context.Context) service.ConnectionStatus {
	body, status, err := c.get(ctx, c.baseURL+"/metadata")
	if err != nil {
		return service.ConnectionStatus{Error: err.Error()}
	}
	if status != http.StatusOK {
		return service.ConnectionStatus{Error: fmt.Sprintf("metadata returned status %d", status)}
	}

	var capability struct {
		ResourceType string `json:"resourceType"`
		FhirVersion  string `json:"fhirVersion"`
	}
	if err := json.Unmarshal(body, &capability); err != nil {
		return service.ConnectionStatus{Error: "malformed CapabilityStatement"}
	}
	if capability.ResourceType != "CapabilityStatement" {
		return service.ConnectionStatus{Error: fmt.Sprintf("unexpected resourceType %q", capability.ResourceType)}
	}

	return service.ConnectionStatus{Connected: true, Version: capability.FhirVersion}
}

// SearchResources returns one page of resources of the given type.
// Offset-based paging: pageSize maps to _count, offset to _getpagesoffset.
func (c *Client) SearchResources(ctx context.Context, resourceType string, params map[string]string, pageSize, offset int) (*service.SearchResult, error) {
	values := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values.Set(k, params[k])
	}
	if pageSize > 0 {
		values.Set("_count", fmt.Sprintf("%d", pageSize))
	}
	if offset > 0 {
		values.Set("_getpagesoffset", fmt.Sprintf("%d", offset))
	}

	endpoint := c.baseURL + "/" + resourceType
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	body, status, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search %s: status %d", resourceType, status)
	}

	var b bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decoding search bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("search returned %q, not a Bundle", b.ResourceType)
	}

	result := &service.SearchResult{}
	if b.Total != nil {
		result.Total = *b.Total
	}
	for _, entry := range b.Entry {
		if entry.Resource != nil {
			result.Entries = append(result.Entries, entry.Resource)
		}
	}
	if b.Total == nil {
		result.Total = len(result.Entries)
	}
	return result, nil
}

// GetResource reads one resource. A 404/410 returns (nil, nil).
func (c *Client) GetResource(ctx context.Context, resourceType, id string) (map[string]any, error) {
	body, status, err := c.get(ctx, c.baseURL+"/"+resourceType+"/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("read %s/%s: status %d", resourceType, id, status)
	}

	var resource map[string]any
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, fmt.Errorf("decoding resource: %w", err)
	}
	return resource, nil
}

// GetResourceCount returns the server's total for the resource type.
func (c *Client) GetResourceCount(ctx context.Context, resourceType string) (int, error) {
	body, status, err := c.get(ctx, c.baseURL+"/"+resourceType+"?_summary=count")
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("count %s: status %d", resourceType, status)
	}

	var b bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return 0, fmt.Errorf("decoding count bundle: %w", err)
	}
	if b.Total == nil {
		return 0, fmt.Errorf("count bundle for %s has no total", resourceType)
	}
	return *b.Total, nil
}

// ValidateResource runs the server-side $validate operation.
func (c *Client) ValidateResource(ctx context.Context, resource map[string]any, profileURL string) (*service.OperationOutcome, error) {
	resourceType, _ := resource["resourceType"].(string)
	if resourceType == "" {
		return nil, fmt.Errorf("resource has no resourceType")
	}

	endpoint := c.baseURL + "/" + resourceType + "/$validate"
	if profileURL != "" {
		endpoint += "?profile=" + url.QueryEscape(profileURL)
	}

	payload, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("encoding resource: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	req.Header.Set("Accept", "application/fhir+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	// $validate reports findings in the body even on 4xx statuses.
	var outcome service.OperationOutcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		return nil, fmt.Errorf("decoding OperationOutcome: %w", err)
	}
	return &outcome, nil
}

// get performs one GET and returns the body and status.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/fhir+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("endpoint", endpoint).Err(err).Msg("request failed")
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

var _ service.ResourceClient = (*Client)(nil)
