package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls a unibox exchange endpoint over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. token is sent as a
// bearer credential when non-empty.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// AuthURL requests the authorization URL for provider, tagged with state.
func (c *Client) AuthURL(ctx context.Context, provider, state string) (string, error) {
	params := url.Values{}
	if state != "" {
		params.Set("state", state)
	}
	var out urlResponse
	if err := c.get(ctx, provider, params, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: exchange service returned no url", ErrTransport)
	}
	return out.URL, nil
}

// Exchange trades code for credentials through the server.
func (c *Client) Exchange(ctx context.Context, provider, code string) (*Result, error) {
	var out Result
	if err := c.get(ctx, provider, url.Values{"code": {code}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, provider string, params url.Values, out any) error {
	endpoint := c.baseURL + "/api/oauth/" + url.PathEscape(provider)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var envelope errorResponse
	_ = json.Unmarshal(body, &envelope)
	if resp.StatusCode != http.StatusOK || envelope.Error != "" {
		return classifyResponse(resp.StatusCode, envelope)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return nil
}

// classifyResponse maps an error response back onto the error classes.
// An error field in a 200 response counts as a rejected code.
func classifyResponse(status int, body errorResponse) error {
	message := body.Error
	if body.Details != "" {
		message += ": " + body.Details
	}
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusOK, status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrCodeRejected, message)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownProvider, message)
	case status == http.StatusInternalServerError && body.Error == "Configuration error":
		return fmt.Errorf("%w: %s", ErrNotConfigured, message)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: %s", message)
	default:
		return fmt.Errorf("%w: %s", ErrTransport, message)
	}
}
