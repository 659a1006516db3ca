// Package domain holds the wire and storage types shared across
// notificaties-core: channels, subscriptions, filter groups, the two
// publisher envelopes (notification and CloudEvent), and the internal
// delivery-pipeline records.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuthType selects how the delivery worker authenticates to a
// subscription's callback URL.
type AuthType string

const (
	AuthNoAuth            AuthType = "no_auth"
	AuthAPIKey            AuthType = "api_key"
	AuthZGW               AuthType = "zgw"
	AuthOAuth2ClientCreds AuthType = "oauth2_client_credentials"
)

// WorkKind distinguishes the two publisher envelope shapes a
// ScheduledWork row carries.
type WorkKind string

const (
	WorkNotification WorkKind = "notification"
	WorkCloudEvent   WorkKind = "cloudevent"
)

// Channel (kanaal) is a named topic scoping the attribute keys a
// notification on it may carry.
type Channel struct {
	ID               uuid.UUID
	Name             string
	DocumentationURL string
	FilterKeys       []string
}

// MatchFilterNames reports whether objFilters is consistent with the
// channel's permitted key set under rule: one set must be
// a subset of the other.
func (c Channel) MatchFilterNames(objFilters []string) bool {
	chanSet := make(map[string]struct{}, len(c.FilterKeys))
	for _, k := range c.FilterKeys {
		chanSet[k] = struct{}{}
	}
	objSet := make(map[string]struct{}, len(objFilters))
	for _, k := range objFilters {
		objSet[k] = struct{}{}
	}
	return isSubset(chanSet, objSet) || isSubset(objSet, chanSet)
}

func isSubset(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Subscription (abonnement) is a consumer's commitment to receive events
// matching its filters.
type Subscription struct {
	ID                uuid.UUID
	CallbackURL       string
	AuthType          AuthType
	Auth              string // api_key: verbatim "Authorization" header value
	ClientID          string
	Secret            string // zgw / oauth2: client secret
	OAuth2TokenURL    string
	OAuth2Scope       string
	ClientCertificate string // PEM, for mutual TLS
	ServerCertificate string // PEM, pins the server (extra trusted root)
	SendCloudEvents   bool
}

// FilterGroup is a subscription's interest in one channel.
type FilterGroup struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	ChannelName    string
	Filters        map[string]string // key -> value, "*" means any
}

// CloudEventFilterGroup is a subscription's interest in a family of
// CloudEvent types.
type CloudEventFilterGroup struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	TypeSubstring  string
	Filters        map[string]string
}

// NotificationPayload is the legacy publisher envelope.
type NotificationPayload struct {
	Kanaal       string            `json:"kanaal"`
	HoofdObject  string            `json:"hoofdObject"`
	Resource     string            `json:"resource"`
	ResourceURL  string            `json:"resourceUrl"`
	Actie        string            `json:"actie"`
	Aanmaakdatum time.Time         `json:"aanmaakdatum"`
	Kenmerken    map[string]string `json:"kenmerken"`
	Source       string            `json:"source,omitempty"`
}

// NotificationRecord is the persisted audit row for an accepted
// notification.
type NotificationRecord struct {
	ID          uuid.UUID
	ForwardedMsg NotificationPayload
	ChannelName string
	CreatedAt   time.Time
}

// CloudEventRecord is the persisted audit row for an accepted CloudEvent.
type CloudEventRecord struct {
	ID              uuid.UUID
	Source          string
	SpecVersion     string
	Type            string
	Subject         string
	Time            time.Time
	DataContentType string
	DataSchema      string
	Data            map[string]interface{}
}

// DeliveryResponse is one attempt's outcome for one (event, subscriber) pair.
type DeliveryResponse struct {
	ID             uuid.UUID
	ParentKind     WorkKind
	ParentID       uuid.UUID // NotificationRecord.ID or CloudEventRecord.ID
	SubscriptionID uuid.UUID
	Attempt        int
	ResponseStatus *int
	Exception      string
}

// ScheduledWork is a unit of pending delivery work.
type ScheduledWork struct {
	ID           uuid.UUID
	Kind         WorkKind
	TaskArgs     []byte // serialized NotificationPayload or CloudEvent envelope
	ParentID     *uuid.UUID
	ExecuteAfter time.Time
	Attempt      int
	TargetSubs   []uuid.UUID // empty => resolve fresh at dispatch time
}
