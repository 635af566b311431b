package relay

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/unibox/internal/oauth"
	"github.com/haasonsaas/unibox/internal/observability"
)

//go:embed templates/callback.html
var templateFS embed.FS

var callbackTemplate = template.Must(template.ParseFS(templateFS, "templates/callback.html"))

const (
	maxCodeLength     = 4096
	maxStateLength    = 256
	maxErrorLength    = 2048
	maxProviderLength = 64
	closeDelayMS      = 1500
)

// ErrUnrelayable replaces exchanged credentials that do not fit the
// envelope limits.
const ErrUnrelayable = "provider returned credentials that could not be relayed"

// ErrNoCode is the failure text used when the callback carries neither a
// code nor an error.
const ErrNoCode = "no authorization code received"

// Exchanger trades an authorization code for credentials.
type Exchanger interface {
	Exchange(ctx context.Context, provider, code string) (*oauth.Result, error)
}

// Page serves GET /oauth/{provider}/callback, the page providers redirect
// to. It always publishes exactly one envelope for the attempt's state,
// then renders a page that also posts the envelope to a browser opener.
type Page struct {
	exchanger Exchanger
	bus       *Bus
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewPage creates the callback relay page.
func NewPage(exchanger Exchanger, bus *Bus, metrics *observability.Metrics, logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	return &Page{
		exchanger: exchanger,
		bus:       bus,
		metrics:   metrics,
		logger:    logger.With("component", "relay_page"),
	}
}

type pageData struct {
	Title        string
	Message      string
	Failed       bool
	Envelope     Envelope
	Origin       string
	CloseDelayMS int
}

func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	provider := strings.ToLower(strings.TrimSpace(r.PathValue("provider")))
	if !validProviderName(provider) {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	state := query.Get("state")
	if len(state) > maxStateLength {
		state = ""
	}

	ctx := observability.AddProvider(r.Context(), provider)
	env := p.resolve(ctx, provider, query)
	env.State = state
	if err := env.Validate(); err != nil {
		p.logger.WarnContext(ctx, "callback envelope failed validation", "error", err)
		env = errorEnvelope(provider, ErrUnrelayable)
		env.State = state
	}

	kind := "callback"
	if env.IsError(provider) {
		kind = "error"
	}
	if delivered := p.bus.Publish(p.bus.Origin(), env); delivered == 0 {
		p.logger.WarnContext(ctx, "no listener for connect attempt", "kind", kind, "has_state", state != "")
		kind = "dropped"
	}
	p.metrics.RelayEnvelope(provider, kind)

	data := pageData{
		Envelope:     env,
		Origin:       p.bus.Origin(),
		CloseDelayMS: closeDelayMS,
	}
	if env.IsError(provider) {
		data.Failed = true
		data.Title = "Connection failed"
		data.Message = env.Error
	} else {
		data.Title = "Connected to " + displayProvider(provider)
		data.Message = "Finishing up in the original window."
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("X-Frame-Options", "DENY")
	if err := callbackTemplate.Execute(w, data); err != nil {
		p.logger.ErrorContext(ctx, "render callback page", "error", err)
	}
}

// resolve turns the callback query into an envelope. A provider error
// skips the exchange.
func (p *Page) resolve(ctx context.Context, provider string, query url.Values) Envelope {
	if errParam := strings.TrimSpace(query.Get("error")); errParam != "" {
		text := errParam
		if desc := strings.TrimSpace(query.Get("error_description")); desc != "" {
			text = desc
		}
		return errorEnvelope(provider, text)
	}

	code := strings.TrimSpace(query.Get("code"))
	switch {
	case code == "":
		return errorEnvelope(provider, ErrNoCode)
	case len(code) > maxCodeLength:
		return errorEnvelope(provider, "authorization code too long")
	}

	result, err := p.exchanger.Exchange(ctx, provider, code)
	if err != nil {
		return errorEnvelope(provider, err.Error())
	}
	if result == nil {
		return errorEnvelope(provider, "exchange returned no credentials")
	}
	return Envelope{
		Type:         CallbackType(provider),
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		IdentityName: result.IdentityName,
		IdentityID:   result.IdentityID,
	}
}

func errorEnvelope(provider, text string) Envelope {
	return Envelope{Type: ErrorType(provider), Error: truncate(text, maxErrorLength)}
}

func validProviderName(name string) bool {
	if name == "" || len(name) > maxProviderLength {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func displayProvider(name string) string {
	return strings.ToUpper(name[:1]) + name[1:]
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
