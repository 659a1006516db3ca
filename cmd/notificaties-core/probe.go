package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/open-zaak/open-notificaties/pkg/admin"
	"github.com/open-zaak/open-notificaties/pkg/auth/oauth"
	"github.com/open-zaak/open-notificaties/pkg/bootstrap"
	"github.com/open-zaak/open-notificaties/pkg/config"
	"github.com/open-zaak/open-notificaties/pkg/domain"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe a callback URL the way subscription registration does, without persisting anything",
	RunE:  runProbe,
}

func init() {
	f := probeCmd.Flags()
	f.String("callback-url", "", "callback URL to probe (required)")
	f.String("auth-type", string(domain.AuthNoAuth), "no_auth, api_key, zgw or oauth2_client_credentials")
	f.String("auth", "", "api_key: verbatim Authorization header value")
	f.String("client-id", "", "zgw/oauth2: client id")
	f.String("secret", "", "zgw/oauth2: client secret")
	f.String("oauth2-token-url", "", "oauth2_client_credentials: token endpoint")
	f.String("oauth2-scope", "", "oauth2_client_credentials: requested scope")
	_ = probeCmd.MarkFlagRequired("callback-url")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromFlags(cmd)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	callbackURL, _ := f.GetString("callback-url")
	authType, _ := f.GetString("auth-type")
	authHeaderValue, _ := f.GetString("auth")
	clientID, _ := f.GetString("client-id")
	secret, _ := f.GetString("secret")
	tokenURL, _ := f.GetString("oauth2-token-url")
	scope, _ := f.GetString("oauth2-scope")

	sub := domain.Subscription{
		CallbackURL:    callbackURL,
		AuthType:       domain.AuthType(authType),
		Auth:           authHeaderValue,
		ClientID:       clientID,
		Secret:         secret,
		OAuth2TokenURL: tokenURL,
		OAuth2Scope:    scope,
	}

	ctx := cmd.Context()
	authHeader, err := authHeaderFunc(ctx, sub)
	if err != nil {
		return err
	}

	logger := bootstrap.NewLogger("probe", cfg.LogLevel)

	err = admin.ProbeCallback(ctx, admin.ProbeConfig{
		TestCallbackAuth: cfg.TestCallbackAuth,
		Client:           http.DefaultClient,
	}, sub, authHeader)
	if err != nil {
		logger.Error("probe failed", "callback_url", callbackURL, "error", err)
		return err
	}

	logger.Info("probe succeeded", "callback_url", callbackURL)
	return nil
}

// authHeaderFunc mirrors delivery.applyStaticAuth's per-profile header
// construction for the subset of profiles a one-shot probe can resolve
// synchronously (oauth2_client_credentials fetches a token up front
// rather than lazily through a RoundTripper, since a probe is a single
// request).
func authHeaderFunc(ctx context.Context, sub domain.Subscription) (func(*http.Request), error) {
	switch sub.AuthType {
	case domain.AuthNoAuth, "":
		return func(*http.Request) {}, nil

	case domain.AuthAPIKey:
		return func(req *http.Request) {
			req.Header.Set("Authorization", sub.Auth)
		}, nil

	case domain.AuthZGW:
		token, err := oauth.MintZGWToken(sub.ClientID, sub.Secret)
		if err != nil {
			return nil, fmt.Errorf("minting zgw probe token: %w", err)
		}
		return func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}, nil

	case domain.AuthOAuth2ClientCreds:
		source := oauth.NewClientCredentialsSource(ctx, sub.OAuth2TokenURL, sub.ClientID, sub.Secret, sub.OAuth2Scope)
		token, err := source.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching oauth2 probe token: %w", err)
		}
		return func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth type %q", sub.AuthType)
	}
}
