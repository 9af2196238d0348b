package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gofhir/quality/service"
)

// DefaultTimeout bounds each $validate-code call.
const DefaultTimeout = 10 * time.Second

// Client validates codes against a FHIR terminology server using the
// CodeSystem/$validate-code operation. It implements
// service.CodeValidator: an error return means the check was
// indeterminate, never that the code is invalid.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a terminology client for the given server base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
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

// validateParameters is the Parameters resource a $validate-code call
// returns.
type validateParameters struct {
	ResourceType string `json:"resourceType"`
	Parameter    []struct {
		Name         string `json:"name"`
		ValueBoolean *bool  `json:"valueBoolean,omitempty"`
		ValueString  string `json:"valueString,omitempty"`
	} `json:"parameter"`
}

// ValidateCode checks whether the code exists in the system.
func (c *Client) ValidateCode(ctx context.Context, system, code string) (bool, error) {
	endpoint := fmt.Sprintf("%s/CodeSystem/$validate-code?url=%s&code=%s",
		c.baseURL, url.QueryEscape(system), url.QueryEscape(code))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/fhir+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("system", system).Str("code", code).Err(err).
			Msg("terminology call failed")
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("$validate-code: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}

	var params validateParameters
	if err := json.Unmarshal(body, &params); err != nil {
		return false, fmt.Errorf("decoding $validate-code response: %w", err)
	}
	if params.ResourceType != "Parameters" {
		return false, fmt.Errorf("unexpected resourceType %q", params.ResourceType)
	}

	for _, p := range params.Parameter {
		if p.Name == "result" && p.ValueBoolean != nil {
			return *p.ValueBoolean, nil
		}
	}
	return false, fmt.Errorf("$validate-code response has no result parameter")
}

var _ service.CodeValidator = (*Client)(nil)
