package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/oauth2"
)

const (
	slackAuthURL  = "https://slack.com/oauth/v2/authorize"
	slackTokenURL = "https://slack.com/api/oauth.v2.access"
)

// DefaultSlackScopes are the bot scopes requested when none are configured.
var DefaultSlackScopes = []string{"channels:history", "channels:read", "chat:write", "users:read"}

// SlackProvider implements Provider for Slack's v2 OAuth flow.
type SlackProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewSlackProvider creates a Slack provider. A nil httpClient uses a
// client with a 15 second timeout.
func NewSlackProvider(config ProviderConfig, httpClient *http.Client) *SlackProvider {
	if len(config.Scopes) == 0 {
		config.Scopes = DefaultSlackScopes
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SlackProvider{config: config, httpClient: httpClient}
}

func (p *SlackProvider) Name() string { return "slack" }

func (p *SlackProvider) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		RedirectURL:  p.config.RedirectURL,
		// Slack expects one comma separated scope parameter.
		Scopes: []string{strings.Join(p.config.Scopes, ",")},
		Endpoint: oauth2.Endpoint{
			AuthURL:  slackAuthURL,
			TokenURL: slackTokenURL,
		},
	}
}

// AuthURL builds the Slack authorization URL.
func (p *SlackProvider) AuthURL(state string) (string, error) {
	if err := p.config.validate(p.Name()); err != nil {
		return "", err
	}
	return p.oauth2Config().AuthCodeURL(state), nil
}

// Exchange calls oauth.v2.access. A response with ok=false is a rejected
// code; failing to get any response is a transport error.
func (p *SlackProvider) Exchange(ctx context.Context, code string) (*Result, error) {
	if err := p.config.validate(p.Name()); err != nil {
		return nil, err
	}
	resp, err := slack.GetOAuthV2ResponseContext(ctx, p.httpClient,
		p.config.ClientID, p.config.ClientSecret, code, p.config.RedirectURL)
	if err != nil {
		var slackErr slack.SlackErrorResponse
		var statusErr slack.StatusCodeError
		switch {
		case errors.As(err, &slackErr), resp != nil:
			return nil, fmt.Errorf("%w: %v", ErrCodeRejected, err)
		case errors.As(err, &statusErr) && statusErr.Code < http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: %v", ErrCodeRejected, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: slack returned no access token", ErrCodeRejected)
	}
	return &Result{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IdentityName: resp.Team.Name,
		IdentityID:   resp.Team.ID,
	}, nil
}
