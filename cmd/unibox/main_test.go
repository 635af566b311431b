package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/config"
	"github.com/haasonsaas/unibox/internal/server"
	"github.com/haasonsaas/unibox/internal/storage"
	"github.com/haasonsaas/unibox/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "migrate", "channels", "messages", "sync", "token", "config", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

type cliFixture struct {
	url    string
	stores storage.StoreSet
}

func newCLIFixture(t *testing.T) *cliFixture {
	return newCLIFixtureWith(t, nil, nil)
}

func newCLIFixtureWith(t *testing.T, mutate func(*config.Config), httpClient *http.Client) *cliFixture {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	stores := storage.NewMemoryStores()
	srv, err := server.New(server.Options{
		Config:     cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Stores:     &stores,
		HTTPClient: httpClient,
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close(context.Background())
	})
	return &cliFixture{url: ts.URL, stores: stores}
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	// Client flags are persistent on each group, so they follow the leaf.
	cmd.SetArgs(append(args, "--server", f.url))
	err := cmd.Execute()
	return out.String(), err
}

func (f *cliFixture) seed(t *testing.T, id, sender, content string, at time.Time) {
	t.Helper()
	err := f.stores.Messages.Insert(context.Background(), &models.Message{
		ID:         id,
		UserID:     "local",
		ChannelID:  "c1",
		SenderName: sender,
		Content:    content,
		Status:     models.StatusUnread,
		CreatedAt:  at,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
}

func TestChannelsCommands(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "channels", "list")
	if err != nil {
		t.Fatalf("channels list error = %v", err)
	}
	if !strings.Contains(out, "No channels connected.") {
		t.Fatalf("empty list output = %q", out)
	}

	out, err = f.run(t, "channels", "add", "gmail", "Work mail")
	if err != nil {
		t.Fatalf("channels add error = %v", err)
	}
	if !strings.Contains(out, `"Work mail" (not connected)`) {
		t.Fatalf("add output = %q", out)
	}

	out, err = f.run(t, "channels", "list")
	if err != nil {
		t.Fatalf("channels list error = %v", err)
	}
	if !strings.Contains(out, "Work mail") || !strings.Contains(out, "never") {
		t.Fatalf("list output = %q", out)
	}

	if _, err := f.run(t, "channels", "add", "fax"); err == nil {
		t.Fatal("channels add fax error = nil, want unknown type")
	}
	if _, err := f.run(t, "channels", "connect", "gmail"); err == nil {
		t.Fatal("channels connect gmail error = nil, want oauth-only error")
	}
}

// syncBuffer lets the test read command output while the command runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// slackTransport sends every request to the stub Slack API.
type slackTransport struct {
	target *url.URL
}

func (t slackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = t.target.Scheme
	clone.URL.Host = t.target.Host
	clone.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func waitForAuthURL(t *testing.T, out *syncBuffer) *url.URL {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, field := range strings.Fields(out.String()) {
			if strings.HasPrefix(field, "https://slack.com/oauth/v2/authorize") {
				u, err := url.Parse(field)
				if err != nil {
					t.Fatalf("url.Parse(%q) error = %v", field, err)
				}
				return u
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no authorization url printed, output = %q", out.String())
	return nil
}

func TestChannelsConnectSlackHeadless(t *testing.T) {
	t.Setenv("UNIBOX_TOKEN", "")
	slackAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/oauth.v2.access" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "granted" {
			_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_code"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"access_token":"xoxb-live","team":{"id":"T9","name":"Acme"}}`))
	}))
	t.Cleanup(slackAPI.Close)
	target, _ := url.Parse(slackAPI.URL)

	f := newCLIFixtureWith(t, func(cfg *config.Config) {
		cfg.OAuth.Slack.ClientID = "123.456"
		cfg.OAuth.Slack.ClientSecret = "slack-secret"
	}, &http.Client{Transport: slackTransport{target: target}})

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		cmd := buildRootCmd()
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"channels", "connect", "slack", "--no-browser", "--timeout", "10s", "--server", f.url})
		done <- cmd.Execute()
	}()

	authURL := waitForAuthURL(t, out)
	state := authURL.Query().Get("state")
	if state == "" {
		t.Fatalf("authorization url has no state: %s", authURL)
	}

	resp, err := http.Get(f.url + "/oauth/slack/callback?code=granted&state=" + url.QueryEscape(state))
	if err != nil {
		t.Fatalf("GET callback error = %v", err)
	}
	resp.Body.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("channels connect error = %v, output = %q", err, out.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("channels connect did not finish")
	}
	if !strings.Contains(out.String(), "Channel id:") {
		t.Fatalf("connect output = %q", out.String())
	}

	conns, err := f.stores.Channels.List(context.Background(), "local")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("channels = %d, want 1", len(conns))
	}
	conn := conns[0]
	if conn.ChannelType != models.ChannelSlack || !conn.Connected || conn.DisplayName != "Acme" {
		t.Fatalf("channel = %+v", conn)
	}
	if conn.Credentials.AccessToken != "xoxb-live" {
		t.Fatalf("access token = %q", conn.Credentials.AccessToken)
	}
}

func TestChannelsConnectRejectsBadToken(t *testing.T) {
	f := newCLIFixtureWith(t, func(cfg *config.Config) {
		cfg.Auth.APIKeys = []config.APIKeyConfig{{Key: "k1", UserID: "ada"}}
	}, nil)

	_, err := f.run(t, "channels", "connect", "slack", "--no-browser", "--token", "wrong")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("channels connect error = %v, want 401", err)
	}
}

func TestMessagesCommands(t *testing.T) {
	f := newCLIFixture(t)
	now := time.Now()
	f.seed(t, "m1", "Ada", "Deploy finished", now.Add(-2*time.Hour))
	f.seed(t, "m2", "Bob", "Lunch?", now.Add(-time.Hour))

	out, err := f.run(t, "messages", "list", "--view", "unread")
	if err != nil {
		t.Fatalf("messages list error = %v", err)
	}
	if strings.Index(out, "m2") > strings.Index(out, "m1") {
		t.Fatalf("expected newest first, got %q", out)
	}

	if out, err = f.run(t, "messages", "read", "m1"); err != nil {
		t.Fatalf("messages read error = %v", err)
	}
	if !strings.Contains(out, "Marked read m1 (read)") {
		t.Fatalf("read output = %q", out)
	}

	if out, err = f.run(t, "messages", "star", "m1"); err != nil {
		t.Fatalf("messages star error = %v", err)
	}
	if !strings.Contains(out, "Starred m1") {
		t.Fatalf("star output = %q", out)
	}

	out, err = f.run(t, "messages", "list", "--view", "starred")
	if err != nil {
		t.Fatalf("messages list starred error = %v", err)
	}
	if !strings.Contains(out, "m1") || strings.Contains(out, "m2") {
		t.Fatalf("starred output = %q", out)
	}

	if _, err = f.run(t, "messages", "reply", "m2", "sure,", "noon"); err != nil {
		t.Fatalf("messages reply error = %v", err)
	}
	out, err = f.run(t, "messages", "threads")
	if err != nil {
		t.Fatalf("messages threads error = %v", err)
	}
	if !strings.Contains(out, "sure, noon") || !strings.Contains(out, "1 reply") {
		t.Fatalf("threads output = %q", out)
	}

	out, err = f.run(t, "messages", "show", "m2")
	if err != nil {
		t.Fatalf("messages show error = %v", err)
	}
	if !strings.Contains(out, "Status:   replied") {
		t.Fatalf("show output = %q", out)
	}

	if _, err := f.run(t, "messages", "show", "missing"); err == nil {
		t.Fatal("messages show missing error = nil, want 404")
	}
	if _, err := f.run(t, "messages", "list", "--view", "spam"); err == nil {
		t.Fatal("messages list --view spam error = nil, want invalid view")
	}
}

func TestSyncCommand(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "sync")
	if err != nil {
		t.Fatalf("sync error = %v", err)
	}
	if !strings.Contains(out, "Synced 0 channels") {
		t.Fatalf("sync output = %q", out)
	}
}

func TestIssueToken(t *testing.T) {
	cfg := config.Default()
	if _, err := issueToken(cfg, &auth.Session{UserID: "ada"}); err == nil {
		t.Fatal("issueToken() without secret error = nil")
	}

	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	token, err := issueToken(cfg, &auth.Session{UserID: "ada", Name: "Ada"})
	if err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}
	session, err := auth.NewService(server.AuthConfig(cfg.Auth)).Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if session.UserID != "ada" || session.Name != "Ada" {
		t.Fatalf("session = %+v", session)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("UNIBOX_PROFILE", "")
	t.Setenv(config.ConfigEnv, "")

	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Fatalf("resolveConfigPath(custom) = %q", got)
	}

	t.Setenv(config.ConfigEnv, "/etc/unibox/prod.yaml")
	if got := resolveConfigPath(config.DefaultConfigName); got != "/etc/unibox/prod.yaml" {
		t.Fatalf("resolveConfigPath(default) = %q, want env path", got)
	}

	t.Setenv("UNIBOX_PROFILE", "work")
	if got := resolveConfigPath("custom.yaml"); got != config.ProfilePath("work") {
		t.Fatalf("resolveConfigPath with profile = %q", got)
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"line one\nline two", 40, "line one line two"},
		{"abcdefghij", 5, "abcd…"},
		{"héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		if got := preview(tt.in, tt.n); got != tt.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestMessageFlags(t *testing.T) {
	tests := []struct {
		msg  models.Message
		want string
	}{
		{models.Message{Status: models.StatusUnread}, "* "},
		{models.Message{Status: models.StatusRead, Starred: true}, " s"},
		{models.Message{Status: models.StatusArchived}, "a "},
	}
	for _, tt := range tests {
		if got := messageFlags(&tt.msg); got != tt.want {
			t.Errorf("messageFlags(%s, starred=%t) = %q, want %q", tt.msg.Status, tt.msg.Starred, got, tt.want)
		}
	}
}

func TestConfigProfileCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	run := func(args ...string) (string, error) {
		cmd := buildRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("config", "profiles")
	if err != nil || !strings.Contains(out, "No profiles in") {
		t.Fatalf("config profiles = %q, %v", out, err)
	}
	if _, err := run("config", "use", "work"); err == nil {
		t.Fatal("config use work error = nil, want missing profile")
	}

	if err := os.MkdirAll(config.ProfileDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(config.ProfilePath("work"), []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if out, err = run("config", "use", "work"); err != nil || !strings.Contains(out, "Active profile: work") {
		t.Fatalf("config use work = %q, %v", out, err)
	}
	out, err = run("config", "profiles")
	if err != nil || !strings.Contains(out, "* work") {
		t.Fatalf("config profiles = %q, %v", out, err)
	}
	if out, err = run("config", "use"); err != nil || !strings.Contains(out, "Cleared") {
		t.Fatalf("config use = %q, %v", out, err)
	}
}
