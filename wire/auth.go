package wire

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthorized is returned when a token maps to no known identity.
var ErrUnauthorized = errors.New("conveyor/wire: unauthorized")

// Scopes gate protocol methods. An identity needs the method's scope or
// the wildcard.
const (
	ScopeJobRead   = "job:read"
	ScopeJobWrite  = "job:write"
	ScopeSubscribe = "subscribe"
	ScopeStatsRead = "stats:read"
	ScopeAdmin     = "admin"
	ScopeAll       = "*"
)

// RequiredScope maps a protocol method to the scope that gates it. Auth
// itself needs no scope; methods the server does not know about require
// admin so new surface defaults to locked.
func RequiredScope(method string) string {
	switch {
	case method == MethodAuth:
		return ""
	case method == MethodJobGet, method == MethodJobList:
		return ScopeJobRead
	case strings.HasPrefix(method, "job."):
		return ScopeJobWrite
	case method == MethodSubscribe, method == MethodUnsubscribe:
		return ScopeSubscribe
	case method == MethodStats:
		return ScopeStatsRead
	default:
		return ScopeAdmin
	}
}

// Identity is the authenticated caller. A non-empty TenantID pins every
// operation on the connection to that tenant; operator credentials leave
// it empty.
type Identity struct {
	Subject  string   `json:"subject"`
	TenantID string   `json:"tenant_id,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// HasScope reports whether the identity carries scope or the wildcard.
func (id *Identity) HasScope(scope string) bool {
	for _, have := range id.Scopes {
		if have == ScopeAll || have == scope {
			return true
		}
	}
	return false
}

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// APIKeyEntry pairs a static token with the identity it grants.
type APIKeyEntry struct {
	Token    string
	Identity Identity
}

// APIKeyAuthenticator resolves tokens against a fixed table, the usual
// setup for service-to-service callers.
type APIKeyAuthenticator struct {
	byToken map[string]*Identity
}

// NewAPIKeyAuthenticator builds an authenticator from static entries.
func NewAPIKeyAuthenticator(entries ...APIKeyEntry) *APIKeyAuthenticator {
	byToken := make(map[string]*Identity, len(entries))
	for _, entry := range entries {
		identity := entry.Identity
		byToken[entry.Token] = &identity
	}
	return &APIKeyAuthenticator{byToken: byToken}
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	identity, ok := a.byToken[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return identity, nil
}

// NoopAuthenticator grants every caller an anonymous wildcard identity.
// Development use only.
type NoopAuthenticator struct{}

func (*NoopAuthenticator) Authenticate(context.Context, string) (*Identity, error) {
	return &Identity{Subject: "anonymous", Scopes: []string{ScopeAll}}, nil
}

// CompositeAuthenticator asks each wrapped authenticator in turn and
// returns the first identity found.
type CompositeAuthenticator struct {
	chain []Authenticator
}

// NewCompositeAuthenticator chains authenticators, first match wins.
func NewCompositeAuthenticator(auths ...Authenticator) *CompositeAuthenticator {
	return &CompositeAuthenticator{chain: auths}
}

func (c *CompositeAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	for _, auth := range c.chain {
		if identity, err := auth.Authenticate(ctx, token); err == nil {
			return identity, nil
		}
	}
	return nil, ErrUnauthorized
}
