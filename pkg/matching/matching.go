// Package matching implements the subscription-matching engine: given
// an already bulk-loaded set of FilterGroups or CloudEventFilterGroups,
// it computes which subscribers should receive an event. It performs no
// I/O itself — the store is responsible for the single bulk query per
// event, and this package's functions are therefore pure and trivially
// unit-testable.
package matching

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/open-zaak/open-notificaties/pkg/domain"
)

// Notifications returns the set of subscription ids whose FilterGroups
// cover a notification on the given channel with the given attributes.
// groups must already be filtered to the event's channel (or it does no
// harm to pass every group — ChannelName is still checked defensively).
func Notifications(channelName string, attrs map[string]string, groups []domain.FilterGroup) map[uuid.UUID]struct{} {
	camelAttrs := camelizeMap(attrs)

	matched := make(map[uuid.UUID]struct{})
	for _, g := range groups {
		if g.ChannelName != channelName {
			continue
		}
		if matchPattern(g.Filters, camelAttrs) {
			matched[g.SubscriptionID] = struct{}{}
		}
	}
	return matched
}

// CloudEvents returns the set of subscription ids whose
// CloudEventFilterGroups cover an event of the given type with the given
// data. groups must already be restricted to subscriptions that opted
// into CloudEvents delivery (send_cloudevents=true) — the store does
// this as part of its single bulk query.
func CloudEvents(eventType string, data map[string]interface{}, groups []domain.CloudEventFilterGroup) map[uuid.UUID]struct{} {
	strData := stringifyMap(data)

	matched := make(map[uuid.UUID]struct{})
	for _, g := range groups {
		if !strings.Contains(eventType, g.TypeSubstring) {
			continue
		}
		if matchPattern(g.Filters, strData) {
			matched[g.SubscriptionID] = struct{}{}
		}
	}
	return matched
}

// matchPattern implements the shared per-key rule: every key present in
// groupFilters that is *also* present in msgFilters must equal "*" or the
// message's value; keys absent from the message are ignored (pass). An
// empty groupFilters matches everything.
func matchPattern(groupFilters map[string]string, msgFilters map[string]string) bool {
	camelFilters := camelizeMap(groupFilters)
	for key, want := range camelFilters {
		got, present := msgFilters[key]
		if !present {
			continue
		}
		if want != "*" && want != got {
			return false
		}
	}
	return true
}

func camelizeMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[ToLowerCamelCase(k)] = v
	}
	return out
}

func stringifyMap(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[ToLowerCamelCase(k)] = stringifyValue(v)
	}
	return out
}

func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ToLowerCamelCase normalizes a snake_case or already-camelCase key to
// lowerCamelCase, matching Django REST framework's camel_case conversion
// behavior: "vertrouwelijkheidaanduiding" is unchanged, "bron_type"
// becomes "bronType".
func ToLowerCamelCase(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
