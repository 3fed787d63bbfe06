package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/znz-systems/mailmind/internal/graph"
)

// DefaultScopes are requested when the configuration names none.
var DefaultScopes = []string{
	"openid",
	"profile",
	"offline_access",
	"User.Read",
	"Mail.ReadWrite",
	"Mail.Send",
}

// Grant is the credential returned by a successful code exchange.
type Grant struct {
	AccessToken  string
	RefreshToken string
	Expiry       *time.Time
}

// Identity is the account behind a grant.
type Identity struct {
	ID          string
	DisplayName string
	Email       string
}

// CredentialProvider runs the authorization code flow against the mailbox
// provider.
type CredentialProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Grant, error)
	Profile(ctx context.Context, accessToken string) (*Identity, error)
}

type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURL  string
	Scopes       []string
}

// MicrosoftProvider signs users in with Microsoft identity and reads their
// profile from Graph.
type MicrosoftProvider struct {
	oauth *oauth2.Config
	graph *graph.Service
}

func NewMicrosoftProvider(cfg MicrosoftConfig, graphSvc *graph.Service) *MicrosoftProvider {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &MicrosoftProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
		},
		graph: graphSvc,
	}
}

func (p *MicrosoftProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (p *MicrosoftProvider) Exchange(ctx context.Context, code string) (*Grant, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	grant := &Grant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		grant.Expiry = &expiry
	}
	return grant, nil
}

func (p *MicrosoftProvider) Profile(ctx context.Context, accessToken string) (*Identity, error) {
	profile, err := p.graph.Open(accessToken).Profile(ctx)
	if err != nil {
		return nil, err
	}
	return &Identity{
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Address(),
	}, nil
}
