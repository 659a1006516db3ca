package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/open-zaak/open-notificaties/pkg/domain"
	"github.com/open-zaak/open-notificaties/pkg/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplePayload() domain.NotificationPayload {
	return domain.NotificationPayload{
		Kanaal:       "zaken",
		HoofdObject:  "https://api.example.org/zaken/1",
		Resource:     "status",
		ResourceURL:  "https://api.example.org/statussen/1",
		Actie:        "create",
		Aanmaakdatum: time.Now(),
		Kenmerken:    map[string]string{"bron": "gemeente"},
		Source:       "urn:nl:overheid:zaken",
	}
}

func postJSON(h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notificaties", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestNotificatieSuccess(t *testing.T) {
	workID := uuid.New()
	store := &storetest.MockStore{
		GetChannelByNameFunc: func(ctx context.Context, name string) (*domain.Channel, error) {
			return &domain.Channel{Name: "zaken", FilterKeys: []string{"bron"}}, nil
		},
		IngestNotificationFunc: func(ctx context.Context, payload domain.NotificationPayload, auditEnabled bool) (uuid.UUID, error) {
			return workID, nil
		},
	}
	handler := NewHandler(store, true, discardLogger())

	sent := samplePayload()
	rec := postJSON(handler.Notificatie, sent)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", rec.Code, rec.Body.String())
	}

	var got domain.NotificationPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshaling response body: %v, body = %s", err, rec.Body.String())
	}
	if got.Kanaal != sent.Kanaal || got.HoofdObject != sent.HoofdObject || got.Source != sent.Source {
		t.Errorf("response body = %+v, want it to echo the accepted payload %+v", got, sent)
	}
}

func TestNotificatieRejectsMissingRequiredField(t *testing.T) {
	store := &storetest.MockStore{}
	handler := NewHandler(store, true, discardLogger())

	p := samplePayload()
	p.Kanaal = ""
	rec := postJSON(handler.Notificatie, p)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestNotificatieRejectsInconsistentKenmerken(t *testing.T) {
	store := &storetest.MockStore{
		GetChannelByNameFunc: func(ctx context.Context, name string) (*domain.Channel, error) {
			return &domain.Channel{Name: "zaken", FilterKeys: []string{"doel"}}, nil
		},
	}
	handler := NewHandler(store, true, discardLogger())

	rec := postJSON(handler.Notificatie, samplePayload())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestNotificatieRejectsFutureAanmaakdatum(t *testing.T) {
	store := &storetest.MockStore{
		GetChannelByNameFunc: func(ctx context.Context, name string) (*domain.Channel, error) {
			return &domain.Channel{Name: "zaken", FilterKeys: []string{"bron"}}, nil
		},
	}
	handler := NewHandler(store, true, discardLogger())

	p := samplePayload()
	p.Aanmaakdatum = time.Now().Add(time.Hour)
	rec := postJSON(handler.Notificatie, p)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestNotificatieRequiresSourceOnlyWhenACloudEventSubscriberWouldMatch(t *testing.T) {
	subID := uuid.New()
	store := &storetest.MockStore{
		GetChannelByNameFunc: func(ctx context.Context, name string) (*domain.Channel, error) {
			return &domain.Channel{Name: "zaken", FilterKeys: []string{"bron"}}, nil
		},
		LoadCloudEventFilterGroupsFunc: func(ctx context.Context) ([]domain.CloudEventFilterGroup, error) {
			return []domain.CloudEventFilterGroup{
				{SubscriptionID: subID, TypeSubstring: "zaken.status.create"},
			}, nil
		},
	}
	handler := NewHandler(store, true, discardLogger())

	p := samplePayload()
	p.Source = ""
	rec := postJSON(handler.Notificatie, p)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (source required for a matching cloudevent subscriber), body = %s", rec.Code, rec.Body.String())
	}
}

func TestNotificatieAllowsMissingSourceWhenNoCloudEventSubscriberMatches(t *testing.T) {
	workID := uuid.New()
	store := &storetest.MockStore{
		GetChannelByNameFunc: func(ctx context.Context, name string) (*domain.Channel, error) {
			return &domain.Channel{Name: "zaken", FilterKeys: []string{"bron"}}, nil
		},
		LoadCloudEventFilterGroupsFunc: func(ctx context.Context) ([]domain.CloudEventFilterGroup, error) {
			return nil, nil
		},
		IngestNotificationFunc: func(ctx context.Context, payload domain.NotificationPayload, auditEnabled bool) (uuid.UUID, error) {
			return workID, nil
		},
	}
	handler := NewHandler(store, true, discardLogger())

	p := samplePayload()
	p.Source = ""
	rec := postJSON(handler.Notificatie, p)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCloudEventSuccess(t *testing.T) {
	workID := uuid.New()
	store := &storetest.MockStore{
		IngestCloudEventFunc: func(ctx context.Context, rec domain.CloudEventRecord, auditEnabled bool) (uuid.UUID, error) {
			return workID, nil
		},
	}
	handler := NewHandler(store, true, discardLogger())

	eventID := uuid.NewString()
	body := []byte(`{
		"specversion": "1.0",
		"id": "` + eventID + `",
		"source": "urn:nl:overheid:zaken",
		"type": "nl.overheid.zaken.zaak.created"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloudevent", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CloudEvent(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", rec.Code, rec.Body.String())
	}

	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshaling response body: %v, body = %s", err, rec.Body.String())
	}
	if got["id"] != eventID {
		t.Errorf("response id = %v, want the echoed envelope id %q", got["id"], eventID)
	}
	if got["source"] != "urn:nl:overheid:zaken" || got["specversion"] != "1.0" || got["type"] != "nl.overheid.zaken.zaak.created" {
		t.Errorf("response body = %v, want it to echo the accepted cloudevent envelope", got)
	}
}

func TestNotificatieQueryBudgetWithSourcePresent(t *testing.T) {
	workID := uuid.New()
	var calls int
	store := &storetest.MockStore{
		GetChannelByNameFunc: func(ctx context.Context, name string) (*domain.Channel, error) {
			calls++
			return &domain.Channel{Name: "zaken", FilterKeys: []string{"bron"}}, nil
		},
		IngestNotificationFunc: func(ctx context.Context, payload domain.NotificationPayload, auditEnabled bool) (uuid.UUID, error) {
			calls++
			return workID, nil
		},
	}
	handler := NewHandler(store, true, discardLogger())

	rec := postJSON(handler.Notificatie, samplePayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", rec.Code, rec.Body.String())
	}
	if calls > 3 {
		t.Errorf("expected at most 3 store calls for notification ingest with source present, got %d", calls)
	}
}

func TestCloudEventQueryBudgetWithAuditOff(t *testing.T) {
	workID := uuid.New()
	var calls int
	store := &storetest.MockStore{
		IngestCloudEventFunc: func(ctx context.Context, rec domain.CloudEventRecord, auditEnabled bool) (uuid.UUID, error) {
			calls++
			return workID, nil
		},
	}
	handler := NewHandler(store, false, discardLogger())

	body := []byte(`{
		"specversion": "1.0",
		"id": "` + uuid.NewString() + `",
		"source": "urn:nl:overheid:zaken",
		"type": "nl.overheid.zaken.zaak.created"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloudevent", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CloudEvent(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", rec.Code, rec.Body.String())
	}
	if calls > 1 {
		t.Errorf("expected at most 1 store call for cloudevent ingest with audit off, got %d", calls)
	}
}

func TestCloudEventRejectsInvalidEnvelope(t *testing.T) {
	store := &storetest.MockStore{}
	handler := NewHandler(store, true, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloudevent", bytes.NewReader([]byte(`{"specversion":"1.0"}`)))
	rec := httptest.NewRecorder()
	handler.CloudEvent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}
