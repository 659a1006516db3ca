// Package cloudevent builds CloudEvents v1.0 envelopes, both from
// scratch (the notification->cloudevent transform) and by parsing an
// inbound publisher envelope.
package cloudevent

import (
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/open-zaak/open-notificaties/pkg/domain"
)

const specVersion = "1.0"

// FromNotification is a pure function that lifts a legacy notification
// payload into a CloudEvents v1.0 envelope, mapping each field from a
// fixed source on the payload.
func FromNotification(payload domain.NotificationPayload) (cloudevents.Event, error) {
	if payload.Source == "" {
		return cloudevents.Event{}, fmt.Errorf("cloudevent transform requires a source")
	}

	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(payload.Source)
	e.SetSpecVersion(specVersion)
	e.SetType(TypeFor(payload))
	e.SetSubject(lastPathSegment(payload.ResourceURL))
	// Truncate to whole seconds so the wire form is exactly
	// "YYYY-MM-DDTHH:MM:SSZ", not RFC3339Nano with trailing zeros.
	e.SetTime(payload.Aanmaakdatum.UTC().Truncate(time.Second))

	data := make(map[string]interface{}, len(payload.Kenmerken)+1)
	for k, v := range payload.Kenmerken {
		data[k] = v
	}
	data["hoofdObject"] = payload.HoofdObject

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return cloudevents.Event{}, fmt.Errorf("setting cloudevent data: %w", err)
	}
	return e, nil
}

// TypeFor computes the CloudEvent "type" a notification maps to, used
// both by the transform above and by the notification ingest handler
// when matching a not-yet-transformed notification against CloudEvent
// filter groups.
func TypeFor(payload domain.NotificationPayload) string {
	return fmt.Sprintf("nl.overheid.%s.%s.%s", payload.Kanaal, payload.Resource, payload.Actie)
}

func lastPathSegment(url string) string {
	trimmed := strings.TrimRight(url, "/")
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}
