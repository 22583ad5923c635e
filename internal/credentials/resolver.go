package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"outreach/internal/domain"
)

// ErrCredential marks a credential that cannot be used until an operator re-issues it.
var ErrCredential = errors.New("credential unusable")

const DefaultTokenURL = "https://oauth2.googleapis.com/token"

type Credential struct {
	Username    string
	Password    string
	AccessToken string
	Expiry      time.Time
}

type OAuthOptions struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTP         *http.Client
}

// Resolver turns an account's sealed credential reference into a usable credential.
// Gmail refresh tokens are exchanged for access tokens and cached per account; the token
// source refreshes them when they expire.
type Resolver struct {
	sealer *Sealer
	oauth  oauth2.Config
	base   context.Context

	mu      sync.Mutex
	sources map[string]cachedSource
}

type cachedSource struct {
	ref string
	ts  oauth2.TokenSource
}

func NewResolver(sealer *Sealer, opts OAuthOptions) *Resolver {
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	base := context.Background()
	if opts.HTTP != nil {
		base = context.WithValue(base, oauth2.HTTPClient, opts.HTTP)
	}
	return &Resolver{
		sealer: sealer,
		oauth: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		base:    base,
		sources: map[string]cachedSource{},
	}
}

func (r *Resolver) Resolve(ctx context.Context, account domain.SenderAccount) (Credential, error) {
	if account.CredentialRef == "" {
		return Credential{}, fmt.Errorf("%w: account %s has no stored credential", ErrCredential, account.Address)
	}
	switch account.Kind {
	case domain.AccountSMTP:
		pw, err := r.sealer.Open(account.CredentialRef)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: %v", ErrCredential, err)
		}
		user := account.SMTPUsername
		if user == "" {
			user = account.Address
		}
		return Credential{Username: user, Password: pw}, nil
	case domain.AccountGmail:
		return r.accessToken(ctx, account)
	default:
		return Credential{}, fmt.Errorf("%w: unsupported account kind %q", ErrCredential, account.Kind)
	}
}

// Invalidate drops the cached token source, forcing a refresh on the next Resolve.
func (r *Resolver) Invalidate(account domain.SenderAccount) {
	r.mu.Lock()
	delete(r.sources, account.Address)
	r.mu.Unlock()
}

func (r *Resolver) accessToken(ctx context.Context, account domain.SenderAccount) (Credential, error) {
	ts, err := r.source(account)
	if err != nil {
		return Credential{}, err
	}

	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := ts.Token()
		ch <- result{tok, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}

	if res.err != nil {
		var re *oauth2.RetrieveError
		if errors.As(res.err, &re) && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" ||
			(re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized))) {
			r.Invalidate(account)
			return Credential{}, fmt.Errorf("%w: refresh token rejected for %s: %v", ErrCredential, account.Address, res.err)
		}
		return Credential{}, fmt.Errorf("refresh access token for %s: %w", account.Address, res.err)
	}
	return Credential{Username: account.Address, AccessToken: res.tok.AccessToken, Expiry: res.tok.Expiry}, nil
}

func (r *Resolver) source(account domain.SenderAccount) (oauth2.TokenSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.sources[account.Address]; ok && c.ref == account.CredentialRef {
		return c.ts, nil
	}
	refresh, err := r.sealer.Open(account.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}
	ts := oauth2.ReuseTokenSource(nil, r.oauth.TokenSource(r.base, &oauth2.Token{RefreshToken: refresh}))
	r.sources[account.Address] = cachedSource{ref: account.CredentialRef, ts: ts}
	return ts, nil
}
