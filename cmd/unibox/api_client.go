package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/unibox/internal/api"
	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/inbox"
	"github.com/haasonsaas/unibox/pkg/models"
)

const defaultServerURL = "http://localhost:8080"

// clientFlags are shared by every command that talks to a running server.
type clientFlags struct {
	server string
	token  string
}

func (f *clientFlags) resolve() (string, string) {
	server := strings.TrimSpace(f.server)
	if server == "" {
		server = strings.TrimSpace(os.Getenv("UNIBOX_SERVER"))
	}
	if server == "" {
		server = defaultServerURL
	}
	token := strings.TrimSpace(f.token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("UNIBOX_TOKEN"))
	}
	return server, token
}

func (f *clientFlags) client() *apiClient {
	server, token := f.resolve()
	return newAPIClient(server, token)
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		_ = json.Unmarshal(data, &e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// currentSession resolves the caller's identity through /api/profile, which
// also proves the token is accepted before a connect attempt starts.
func (c *apiClient) currentSession(ctx context.Context) (*auth.Session, error) {
	var p models.Profile
	if err := c.getJSON(ctx, "/api/profile", &p); err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if p.UserID == "" {
		return nil, auth.ErrNoSession
	}
	return &auth.Session{UserID: p.UserID, Email: p.Email, Name: p.FullName, Token: c.token}, nil
}

// Create stores a channel connection on the server, so the client can
// back a connect coordinator.
func (c *apiClient) Create(ctx context.Context, channelType models.ChannelType, displayName string, creds models.Credentials) (*models.ChannelConnection, error) {
	var conn models.ChannelConnection
	err := c.postJSON(ctx, "/api/channels", api.CreateChannelRequest{
		ChannelType: channelType,
		DisplayName: displayName,
		Credentials: creds,
	}, &conn)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (c *apiClient) listChannels(ctx context.Context) ([]models.ChannelConnection, error) {
	var out []models.ChannelConnection
	err := c.getJSON(ctx, "/api/channels", &out)
	return out, err
}

func (c *apiClient) deleteChannel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/channels/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) listMessages(ctx context.Context, params url.Values) ([]models.Message, error) {
	var out []models.Message
	err := c.getJSON(ctx, withQuery("/api/messages", params), &out)
	return out, err
}

func (c *apiClient) listThreads(ctx context.Context, params url.Values) ([]inbox.Thread, error) {
	var out []inbox.Thread
	err := c.getJSON(ctx, withQuery("/api/threads", params), &out)
	return out, err
}

func (c *apiClient) getMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := c.getJSON(ctx, "/api/messages/"+url.PathEscape(id), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// messageAction posts to /api/messages/{id}/{action} and returns the
// updated message.
func (c *apiClient) messageAction(ctx context.Context, method, id, action string, body any) (*models.Message, error) {
	var msg models.Message
	path := "/api/messages/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, method, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *apiClient) sync(ctx context.Context) (*api.SyncResponse, error) {
	var out api.SyncResponse
	if err := c.postJSON(ctx, "/api/sync", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}
