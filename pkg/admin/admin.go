// Package admin implements the out-of-the-core-pipeline operator
// actions: re-queuing a notification, probing a callback URL before a
// subscription is accepted, and the retention cleanup job.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/open-zaak/open-notificaties/pkg/domain"
	"github.com/open-zaak/open-notificaties/pkg/notifyerr"
)

// Store is the narrow persistence surface admin actions need.
type Store interface {
	EnqueueResend(ctx context.Context, kind domain.WorkKind, taskArgs []byte, parentID uuid.UUID, targetSubs []uuid.UUID) (uuid.UUID, error)
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Resend re-queues a fresh ScheduledWork for an already-persisted
// notification or cloudevent, attempt reset to 0 — the admin re-delivery
// helper the core needs but doesn't have an existing shape for.
func Resend(ctx context.Context, store Store, kind domain.WorkKind, payload interface{}, parentID uuid.UUID, targetSubs []uuid.UUID) (uuid.UUID, error) {
	taskArgs, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeInternal, "marshaling resend task args")
	}
	return store.EnqueueResend(ctx, kind, taskArgs, parentID, targetSubs)
}

// RunCleanup deletes audit rows older than retentionDays.
func RunCleanup(ctx context.Context, store Store, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return store.CleanupOlderThan(ctx, cutoff)
}

// testCallbackWhitelist holds hostnames exempt from the negative-auth
// check because they are shared public testing endpoints that cannot
// enforce auth on our behalf.
var testCallbackWhitelist = []string{"webhook.site"}

// ProbeConfig tunes ProbeCallback.
type ProbeConfig struct {
	TestCallbackAuth bool
	Client           *http.Client
}

// ProbeCallback implements callback-URL pre-registration
// check: POST a synthetic notification with the subscription's
// configured auth and require 2xx; when cfg.TestCallbackAuth is set and
// the host isn't whitelisted, additionally POST without auth and
// require the endpoint to reject it with 401/403.
func ProbeCallback(ctx context.Context, cfg ProbeConfig, sub domain.Subscription, authHeader func(*http.Request)) error {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	synthetic := syntheticPayload()

	if err := post(ctx, client, sub.CallbackURL, synthetic, authHeader, func(status int) bool {
		return status >= 200 && status < 300
	}); err != nil {
		return notifyerr.ErrInvalidCallbackURL.WithCause(err)
	}

	if !cfg.TestCallbackAuth || isWhitelisted(sub.CallbackURL) {
		return nil
	}

	if err := post(ctx, client, sub.CallbackURL, synthetic, nil, func(status int) bool {
		return status == http.StatusUnauthorized || status == http.StatusForbidden
	}); err != nil {
		return notifyerr.ErrNoAuthOnCallbackURL.WithCause(err)
	}

	return nil
}

func syntheticPayload() domain.NotificationPayload {
	return domain.NotificationPayload{
		Kanaal:       "notificaties-core-probe",
		HoofdObject:  "https://example.org/probe",
		Resource:     "probe",
		ResourceURL:  "https://example.org/probe",
		Actie:        "create",
		Aanmaakdatum: time.Now(),
		Kenmerken:    map[string]string{},
	}
}

func post(ctx context.Context, client *http.Client, url string, payload domain.NotificationPayload, authHeader func(*http.Request), accept func(int) bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling probe payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != nil {
		authHeader(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probing callback url: %w", err)
	}
	defer resp.Body.Close()

	if !accept(resp.StatusCode) {
		return fmt.Errorf("unexpected probe response status %d", resp.StatusCode)
	}
	return nil
}

func isWhitelisted(callbackURL string) bool {
	for _, host := range testCallbackWhitelist {
		if strings.Contains(callbackURL, host) {
			return true
		}
	}
	return false
}
