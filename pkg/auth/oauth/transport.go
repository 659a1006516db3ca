// Package oauth builds per-subscriber http.RoundTrippers for the
// oauth2_client_credentials auth profile: a TokenSource plus a
// reactive-refresh Transport, sourcing tokens from
// golang.org/x/oauth2/clientcredentials instead of a hand-rolled token
// endpoint POST.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource returns a valid bearer token, refreshing proactively when
// near expiry and supporting an explicit ForceRefresh for the reactive
// 401 path.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	ForceRefresh(ctx context.Context) (*oauth2.Token, error)
}

// clientCredentialsSource wraps oauth2.TokenSource (which already
// caches and proactively refreshes) and adds ForceRefresh by
// discarding the cached token and fetching a fresh one.
type clientCredentialsSource struct {
	cfg    clientcredentials.Config
	cached oauth2.TokenSource
}

// NewClientCredentialsSource builds a TokenSource for one subscriber's
// oauth2_token_url/client_id/secret/scope.
func NewClientCredentialsSource(ctx context.Context, tokenURL, clientID, secret, scope string) TokenSource {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     tokenURL,
	}
	if scope != "" {
		cfg.Scopes = []string{scope}
	}
	return &clientCredentialsSource{cfg: cfg, cached: cfg.TokenSource(ctx)}
}

func (s *clientCredentialsSource) Token(ctx context.Context) (*oauth2.Token, error) {
	tok, err := s.cached.Token()
	if err != nil {
		return nil, fmt.Errorf("fetching client-credentials token: %w", err)
	}
	return tok, nil
}

func (s *clientCredentialsSource) ForceRefresh(ctx context.Context) (*oauth2.Token, error) {
	s.cached = s.cfg.TokenSource(ctx)
	return s.Token(ctx)
}

// Transport is an http.RoundTripper that authenticates every request
// via Source, reactively force-refreshing on a 401 before a single
// retry, generalized over the TokenSource interface above.
type Transport struct {
	Source TokenSource
	Base   http.RoundTripper
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.Source.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth: cannot get token: %w", err)
	}

	req2 := cloneRequest(req)
	req2.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := t.base().RoundTrip(req2)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		slog.Warn("oauth2 callback returned 401, forcing token refresh", "url", req.URL.String())

		token, err = t.Source.ForceRefresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("oauth: force refresh failed: %w", err)
		}

		req2.Header.Set("Authorization", "Bearer "+token.AccessToken)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("oauth: rewinding request body for retry: %w", err)
			}
			req2.Body = body
		}
		return t.base().RoundTrip(req2)
	}

	return resp, nil
}

func cloneRequest(r *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header))
	for k, s := range r.Header {
		r2.Header[k] = append([]string(nil), s...)
	}
	return r2
}
