// Package ingest holds the publisher-facing HTTP handlers: accepting a
// notification or a CloudEvent, validating it against and
// persisting it via the store.
package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/open-zaak/open-notificaties/pkg/cloudevent"
	"github.com/open-zaak/open-notificaties/pkg/domain"
	"github.com/open-zaak/open-notificaties/pkg/matching"
	"github.com/open-zaak/open-notificaties/pkg/notifyerr"
)

// Store is the narrow persistence surface the ingest handlers need.
type Store interface {
	GetChannelByName(ctx context.Context, name string) (*domain.Channel, error)
	LoadFilterGroupsForChannel(ctx context.Context, channelName string) ([]domain.FilterGroup, error)
	LoadCloudEventFilterGroups(ctx context.Context) ([]domain.CloudEventFilterGroup, error)
	IngestNotification(ctx context.Context, payload domain.NotificationPayload, auditEnabled bool) (uuid.UUID, error)
	IngestCloudEvent(ctx context.Context, rec domain.CloudEventRecord, auditEnabled bool) (uuid.UUID, error)
}

// Handler serves the two publisher ingest endpoints.
type Handler struct {
	store        Store
	auditEnabled bool
	logger       *slog.Logger
}

func NewHandler(store Store, auditEnabled bool, logger *slog.Logger) *Handler {
	return &Handler{store: store, auditEnabled: auditEnabled, logger: logger}
}

// Notificatie handles POST /api/v1/notificaties.
func (h *Handler) Notificatie(w http.ResponseWriter, r *http.Request) {
	var payload domain.NotificationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, notifyerr.Wrap(err, notifyerr.CodeValidation, "invalid JSON body"))
		return
	}
	if err := validateNotificationPayload(payload); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	channel, err := h.store.GetChannelByName(ctx, payload.Kanaal)
	if err != nil {
		writeError(w, err)
		return
	}

	var filterKeys []string
	for k := range payload.Kenmerken {
		filterKeys = append(filterKeys, k)
	}
	if !channel.MatchFilterNames(filterKeys) {
		writeError(w, notifyerr.ErrKenmerkenInconsistent)
		return
	}

	if payload.Aanmaakdatum.After(time.Now()) {
		writeError(w, notifyerr.ErrFutureNotAllowed)
		return
	}

	// source is only required when a CloudEvent filter group of a
	// send_cloudevents subscriber matches this notification's derived
	// type and kenmerken, so matching runs before the accept/reject
	// decision (Open Question 3). Notification filter groups of
	// send_cloudevents subscribers are not consulted here.
	if payload.Source == "" {
		ceGroups, err := h.store.LoadCloudEventFilterGroups(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		ceType := cloudevent.TypeFor(payload)
		targets := matching.CloudEvents(ceType, toInterfaceMap(payload.Kenmerken), ceGroups)
		if len(targets) > 0 {
			writeError(w, notifyerr.ErrSourceRequired)
			return
		}
	}

	if _, err := h.store.IngestNotification(ctx, payload, h.auditEnabled); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, payload)
}

// CloudEvent handles POST /api/v1/cloudevent: an inbound CloudEvents
// v1.0 envelope, parsed and persisted without the legacy channel/kenmerk
// validation.
func (h *Handler) CloudEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, notifyerr.Wrap(err, notifyerr.CodeValidation, "reading request body"))
		return
	}

	event, err := cloudevent.Parse(body)
	if err != nil {
		writeError(w, notifyerr.Wrap(err, notifyerr.CodeValidation, "invalid cloudevent"))
		return
	}

	rec, err := cloudevent.ToRecord(event)
	if err != nil {
		writeError(w, notifyerr.Wrap(err, notifyerr.CodeValidation, "invalid cloudevent data"))
		return
	}

	if _, err := h.store.IngestCloudEvent(r.Context(), rec, h.auditEnabled); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// validateNotificationPayload checks the required fields spec.md §4.2
// step 1 names, ahead of the channel/kenmerken/future checks that need
// a store round trip.
func validateNotificationPayload(p domain.NotificationPayload) error {
	missing := func(name string) error {
		return notifyerr.New(notifyerr.CodeValidation, name+" is required")
	}
	switch {
	case p.Kanaal == "":
		return missing("kanaal")
	case p.HoofdObject == "":
		return missing("hoofdObject")
	case p.Resource == "":
		return missing("resource")
	case p.ResourceURL == "":
		return missing("resourceUrl")
	case p.Actie == "":
		return missing("actie")
	case p.Aanmaakdatum.IsZero():
		return missing("aanmaakdatum")
	}
	return nil
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	code := notifyerr.GetCode(err)
	status := notifyerr.HTTPStatus(code)
	writeJSON(w, status, map[string]string{"code": string(code), "title": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
