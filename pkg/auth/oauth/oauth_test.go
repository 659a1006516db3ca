package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
)

func TestMintZGWTokenClaims(t *testing.T) {
	token, err := MintZGWToken("my-client", "s3cret")
	if err != nil {
		t.Fatalf("MintZGWToken returned error: %v", err)
	}

	parsed, err := jwt.ParseSigned(token, []jwt.SignatureAlgorithm{jwt.HS256})
	if err != nil {
		t.Fatalf("ParseSigned returned error: %v", err)
	}

	var claims zgwClaims
	if err := parsed.Claims([]byte("s3cret"), &claims); err != nil {
		t.Fatalf("Claims returned error: %v", err)
	}
	if claims.Issuer != "my-client" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "my-client")
	}
	if claims.ClientID != "my-client" {
		t.Errorf("ClientID = %q, want %q", claims.ClientID, "my-client")
	}
	if claims.IssuedAt == 0 {
		t.Error("expected a non-zero IssuedAt")
	}
}

func TestMintZGWTokenWrongSecretFailsVerification(t *testing.T) {
	token, err := MintZGWToken("my-client", "s3cret")
	if err != nil {
		t.Fatalf("MintZGWToken returned error: %v", err)
	}

	parsed, err := jwt.ParseSigned(token, []jwt.SignatureAlgorithm{jwt.HS256})
	if err != nil {
		t.Fatalf("ParseSigned returned error: %v", err)
	}

	var claims zgwClaims
	if err := parsed.Claims([]byte("wrong-secret"), &claims); err == nil {
		t.Fatal("expected verification to fail with the wrong secret")
	}
}

type fakeTokenSource struct {
	token        string
	forceRefresh bool
	tokenCalls   int
	refreshCalls int
}

func (f *fakeTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	f.tokenCalls++
	return &oauth2.Token{AccessToken: f.token}, nil
}

func (f *fakeTokenSource) ForceRefresh(ctx context.Context) (*oauth2.Token, error) {
	f.refreshCalls++
	f.forceRefresh = true
	f.token = "refreshed-token"
	return &oauth2.Token{AccessToken: f.token}, nil
}

func TestTransportSetsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	upstream := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}}, nil
	})

	source := &fakeTokenSource{token: "abc123"}
	transport := &Transport{Source: source, Base: upstream}

	req, _ := http.NewRequest(http.MethodGet, "http://example.org", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer abc123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer abc123")
	}
	if source.refreshCalls != 0 {
		t.Errorf("expected no force refresh on a 200 response, got %d calls", source.refreshCalls)
	}
}

func TestTransportForceRefreshesOn401(t *testing.T) {
	var seenAuth []string
	calls := 0
	upstream := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seenAuth = append(seenAuth, req.Header.Get("Authorization"))
		calls++
		if calls == 1 {
			return &http.Response{StatusCode: http.StatusUnauthorized, Body: http.NoBody, Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}}, nil
	})

	source := &fakeTokenSource{token: "stale-token"}
	transport := &Transport{Source: source, Base: upstream}

	req, _ := http.NewRequest(http.MethodGet, "http://example.org", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	resp.Body.Close()

	if source.refreshCalls != 1 {
		t.Errorf("expected exactly one force refresh after a 401, got %d", source.refreshCalls)
	}
	if len(seenAuth) != 2 {
		t.Fatalf("expected two upstream round trips, got %d", len(seenAuth))
	}
	if seenAuth[0] != "Bearer stale-token" {
		t.Errorf("first attempt Authorization = %q", seenAuth[0])
	}
	if seenAuth[1] != "Bearer refreshed-token" {
		t.Errorf("retry Authorization = %q, want the refreshed token", seenAuth[1])
	}
}

func TestTransportPropagatesTokenSourceError(t *testing.T) {
	upstream := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("should not reach the upstream transport when the token source fails")
		return nil, nil
	})

	transport := &Transport{Source: errorTokenSource{}, Base: upstream}
	req, _ := http.NewRequest(http.MethodGet, "http://example.org", nil)
	if _, err := transport.RoundTrip(req); err == nil {
		t.Fatal("expected an error when the token source fails")
	}
}

type errorTokenSource struct{}

func (errorTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	return nil, errors.New("token endpoint unreachable")
}

func (errorTokenSource) ForceRefresh(ctx context.Context) (*oauth2.Token, error) {
	return nil, errors.New("token endpoint unreachable")
}

func TestNewClientCredentialsSourceFetchesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "issued-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	source := NewClientCredentialsSource(context.Background(), server.URL, "client-id", "secret", "scope-a")
	tok, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	if tok.AccessToken != "issued-token" {
		t.Errorf("AccessToken = %q, want %q", tok.AccessToken, "issued-token")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
