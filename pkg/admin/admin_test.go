package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/open-zaak/open-notificaties/pkg/domain"
	"github.com/open-zaak/open-notificaties/pkg/storetest"
)

func TestResend(t *testing.T) {
	parentID := uuid.New()
	targets := []uuid.UUID{uuid.New()}
	var gotKind domain.WorkKind
	var gotParentID uuid.UUID
	var gotTargets []uuid.UUID

	store := &storetest.MockStore{
		EnqueueResendFunc: func(ctx context.Context, kind domain.WorkKind, taskArgs []byte, pID uuid.UUID, targetSubs []uuid.UUID) (uuid.UUID, error) {
			gotKind, gotParentID, gotTargets = kind, pID, targetSubs
			return uuid.New(), nil
		},
	}

	payload := domain.NotificationPayload{Kanaal: "zaken"}
	if _, err := Resend(context.Background(), store, domain.WorkNotification, payload, parentID, targets); err != nil {
		t.Fatalf("Resend returned error: %v", err)
	}
	if gotKind != domain.WorkNotification {
		t.Errorf("kind = %q, want %q", gotKind, domain.WorkNotification)
	}
	if gotParentID != parentID {
		t.Errorf("parentID = %v, want %v", gotParentID, parentID)
	}
	if len(gotTargets) != 1 || gotTargets[0] != targets[0] {
		t.Errorf("targets = %v, want %v", gotTargets, targets)
	}
}

func TestRunCleanup(t *testing.T) {
	var gotCutoff time.Time
	store := &storetest.MockStore{
		CleanupOlderThanFunc: func(ctx context.Context, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 42, nil
		},
	}

	deleted, err := RunCleanup(context.Background(), store, 30)
	if err != nil {
		t.Fatalf("RunCleanup returned error: %v", err)
	}
	if deleted != 42 {
		t.Errorf("deleted = %d, want 42", deleted)
	}
	if time.Since(gotCutoff) < 29*24*time.Hour {
		t.Errorf("expected cutoff roughly 30 days ago, got %v", gotCutoff)
	}
}

func TestProbeCallbackSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := domain.Subscription{CallbackURL: server.URL}
	err := ProbeCallback(context.Background(), ProbeConfig{}, sub, nil)
	if err != nil {
		t.Fatalf("ProbeCallback returned error: %v", err)
	}
}

func TestProbeCallbackRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := domain.Subscription{CallbackURL: server.URL}
	if err := ProbeCallback(context.Background(), ProbeConfig{}, sub, nil); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestProbeCallbackNegativeAuthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := domain.Subscription{CallbackURL: server.URL}
	authHeader := func(req *http.Request) { req.Header.Set("Authorization", "Bearer token") }

	err := ProbeCallback(context.Background(), ProbeConfig{TestCallbackAuth: true}, sub, authHeader)
	if err != nil {
		t.Fatalf("ProbeCallback returned error: %v", err)
	}
}

func TestProbeCallbackFailsNegativeAuthCheckWhenEndpointAcceptsUnauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // accepts everything, even without auth
	}))
	defer server.Close()

	sub := domain.Subscription{CallbackURL: server.URL}
	authHeader := func(req *http.Request) { req.Header.Set("Authorization", "Bearer token") }

	err := ProbeCallback(context.Background(), ProbeConfig{TestCallbackAuth: true}, sub, authHeader)
	if err == nil {
		t.Fatal("expected an error because the endpoint did not reject an unauthenticated request")
	}
}

func TestProbeCallbackSkipsNegativeAuthCheckForWhitelistedHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := domain.Subscription{CallbackURL: server.URL + "?host=webhook.site"}
	err := ProbeCallback(context.Background(), ProbeConfig{TestCallbackAuth: true}, sub, nil)
	if err != nil {
		t.Fatalf("ProbeCallback returned error: %v", err)
	}
}
