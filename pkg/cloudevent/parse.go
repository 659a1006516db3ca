package cloudevent

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/open-zaak/open-notificaties/pkg/domain"
)

// parseID accepts both UUID-formatted and arbitrary-string CloudEvent
// ids (the CloudEvents spec only requires "a non-empty string", not a
// UUID) by falling back to a deterministic v5 UUID derived from the
// string when it isn't already one — the audit table's primary key
// needs a stable UUID either way.
func parseID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.UUID{}, fmt.Errorf("cloudevent id must not be empty")
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id, nil
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(raw)), nil
}

// Parse decodes an inbound CloudEvents v1.0 JSON body, validating the
// required structural fields from spec.md §4.2 step 1 (the envelope's
// own Validate() also enforces specversion/id/source/type are non-empty).
func Parse(body []byte) (cloudevents.Event, error) {
	var e cloudevents.Event
	if err := e.UnmarshalJSON(body); err != nil {
		return e, fmt.Errorf("decoding cloudevent envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return e, fmt.Errorf("invalid cloudevent envelope: %w", err)
	}
	return e, nil
}

// ToRecord converts a parsed envelope into the persisted audit shape.
func ToRecord(e cloudevents.Event) (domain.CloudEventRecord, error) {
	rec := domain.CloudEventRecord{
		Source:          e.Source(),
		SpecVersion:     e.SpecVersion(),
		Type:            e.Type(),
		Subject:         e.Subject(),
		DataContentType: e.DataContentType(),
		DataSchema:      e.DataSchema(),
	}

	id, err := parseID(e.ID())
	if err != nil {
		return rec, err
	}
	rec.ID = id

	if t := e.Time(); !t.IsZero() {
		rec.Time = t
	}

	if len(e.Data()) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal(e.Data(), &data); err != nil {
			// Non-object data (string/number/null) is legal on the wire;
			// store it as a single-key escape hatch rather than reject it.
			data = map[string]interface{}{"_raw": json.RawMessage(e.Data())}
		}
		rec.Data = data
	}

	return rec, nil
}
