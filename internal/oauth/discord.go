package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/oauth2"
)

const (
	discordAuthURL  = "https://discord.com/api/oauth2/authorize"
	discordTokenURL = "https://discord.com/api/oauth2/token"
)

// DefaultDiscordScopes are requested when none are configured.
var DefaultDiscordScopes = []string{"identify", "guilds"}

// DiscordProvider implements Provider for Discord's authorization code flow.
type DiscordProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewDiscordProvider creates a Discord provider. A nil httpClient uses a
// client with a 15 second timeout.
func NewDiscordProvider(config ProviderConfig, httpClient *http.Client) *DiscordProvider {
	if len(config.Scopes) == 0 {
		config.Scopes = DefaultDiscordScopes
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &DiscordProvider{config: config, httpClient: httpClient}
}

func (p *DiscordProvider) Name() string { return "discord" }

func (p *DiscordProvider) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		RedirectURL:  p.config.RedirectURL,
		Scopes:       p.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  discordAuthURL,
			TokenURL: discordTokenURL,
			// A fixed style keeps the exchange to a single token request.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthURL builds the Discord authorization URL.
func (p *DiscordProvider) AuthURL(state string) (string, error) {
	if err := p.config.validate(p.Name()); err != nil {
		return "", err
	}
	return p.oauth2Config().AuthCodeURL(state), nil
}

// Exchange trades code for a token and looks up the authorizing user. A
// failed identity lookup keeps the token and leaves the identity empty.
func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*Result, error) {
	if err := p.config.validate(p.Name()); err != nil {
		return nil, err
	}
	tok, err := p.oauth2Config().Exchange(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient), code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %s", ErrCodeRejected, describeRetrieveError(retrieveErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	result := &Result{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	session, err := discordgo.New("Bearer " + tok.AccessToken)
	if err != nil {
		return result, nil
	}
	session.Client = p.httpClient
	if user, err := session.User("@me", discordgo.WithContext(ctx)); err == nil && user != nil {
		result.IdentityID = user.ID
		result.IdentityName = user.Username
		if user.GlobalName != "" {
			result.IdentityName = user.GlobalName
		}
	}
	return result, nil
}

func describeRetrieveError(err *oauth2.RetrieveError) string {
	if err.ErrorCode != "" {
		if err.ErrorDescription != "" {
			return err.ErrorCode + ": " + err.ErrorDescription
		}
		return err.ErrorCode
	}
	return err.Response.Status
}
