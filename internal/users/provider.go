package users

import (
	"context"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/auth"
)

// Provider exchanges credentials for session tokens. It is the in-process auth.Provider and
// backs the HTTP auth endpoints.
type Provider struct {
	accounts *Service
	issuer   *auth.TokenIssuer
}

// NewProvider binds the account service to a token issuer.
func NewProvider(accounts *Service, issuer *auth.TokenIssuer) *Provider {
	return &Provider{accounts: accounts, issuer: issuer}
}

func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (auth.Grant, error) {
	account, err := p.accounts.Register(ctx, email, password, displayName)
	if err != nil {
		return auth.Grant{}, err
	}
	return p.grant(account)
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (auth.Grant, error) {
	account, err := p.accounts.Authenticate(ctx, email, password)
	if err != nil {
		return auth.Grant{}, err
	}
	return p.grant(account)
}

// SignOut is a no-op: session tokens are stateless and expire on their own.
func (p *Provider) SignOut(context.Context, string) error {
	return nil
}

func (p *Provider) grant(account Account) (auth.Grant, error) {
	user := auth.User{ID: account.UserID, Email: account.Email, DisplayName: account.DisplayName}
	token, expiresAt, err := p.issuer.Issue(user)
	if err != nil {
		return auth.Grant{}, err
	}
	return auth.Grant{Token: token, ExpiresAt: expiresAt, User: user}, nil
}
