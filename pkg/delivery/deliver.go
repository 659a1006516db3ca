package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/open-zaak/open-notificaties/pkg/auth/oauth"
	"github.com/open-zaak/open-notificaties/pkg/cloudevent"
	"github.com/open-zaak/open-notificaties/pkg/domain"
	"github.com/open-zaak/open-notificaties/pkg/notifyerr"
)

const maxExceptionLen = 1000

// Store is the persistence surface the delivery worker needs. It is a
// narrow view of *store.Store (accept interfaces, return structs), so
// tests can supply a hand-written mock instead of a live database.
type Store interface {
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	RecordDeliveryResponse(ctx context.Context, resp domain.DeliveryResponse, cloudeventSource string) error
}

// Worker delivers one payload to one subscriber and records the
// outcome, per the contract in spec.md §4.4.
type Worker struct {
	store   Store
	clients *ClientCache
	logger  *slog.Logger
}

// NewWorker builds a Worker against store, using clients for its
// per-subscriber HTTP client/breaker pool.
func NewWorker(store Store, clients *ClientCache, logger *slog.Logger) *Worker {
	return &Worker{store: store, clients: clients, logger: logger}
}

// Deliver implements steps 1-8. subscriberID is the
// target; work is the ScheduledWork (already claimed by the
// scheduler); it returns nil on success or subscriberID on failure.
// It never returns a Go error: internal faults (loading the
// subscription, building the body) are logged here and reported as a
// failure for subscriberID.
func (w *Worker) Deliver(ctx context.Context, subscriberID uuid.UUID, work domain.ScheduledWork) *uuid.UUID {
	sub, err := w.store.GetSubscription(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, notifyerr.ErrSubscriptionDoesNotExist) || notifyerr.GetCode(err) == notifyerr.CodeSubscriptionDoesNotExist {
			w.logger.Info("subscription_does_not_exist", "subscription_id", subscriberID, "work_id", work.ID)
			return nil
		}
		w.logger.Error("failed to load subscription", "subscription_id", subscriberID, "error", err)
		return &subscriberID
	}

	attemptNumber := work.Attempt + 1
	w.logger.Debug("delivering", "work_id", work.ID, "subscription_id", subscriberID, "attempt", work.Attempt, "attempt_number", attemptNumber)
	contentType, body, cloudeventSource, err := w.buildBody(work, *sub)
	if err != nil {
		w.logger.Error("failed to build delivery body", "work_id", work.ID, "error", err)
		return &subscriberID
	}

	status, excerpt := w.post(ctx, *sub, contentType, body)

	resp := domain.DeliveryResponse{
		ID:             uuid.New(),
		ParentKind:     work.Kind,
		SubscriptionID: subscriberID,
		Attempt:        attemptNumber,
		ResponseStatus: status,
		Exception:      excerpt,
	}
	if work.ParentID != nil {
		resp.ParentID = *work.ParentID
	}

	if err := w.store.RecordDeliveryResponse(ctx, resp, cloudeventSource); err != nil {
		w.logger.Error("failed to record delivery response", "work_id", work.ID, "error", err)
	}

	success := status != nil && *status >= 200 && *status < 300
	if success {
		return nil
	}
	return &subscriberID
}

// buildBody loads the task payload. For a notification-kind work item
// whose subscriber opted into send_cloudevents, it applies the
// notification->CloudEvent transform (§4.6) and switches content-type;
// every other case is a passthrough of the stored task args.
func (w *Worker) buildBody(work domain.ScheduledWork, sub domain.Subscription) (contentType string, body []byte, cloudeventSource string, err error) {
	switch work.Kind {
	case domain.WorkNotification:
		var payload domain.NotificationPayload
		if err := json.Unmarshal(work.TaskArgs, &payload); err != nil {
			return "", nil, "", fmt.Errorf("unmarshaling notification task args: %w", err)
		}
		if !sub.SendCloudEvents {
			return "application/json", work.TaskArgs, "", nil
		}
		event, err := cloudevent.FromNotification(payload)
		if err != nil {
			return "", nil, "", fmt.Errorf("transforming notification to cloudevent: %w", err)
		}
		body, err := event.MarshalJSON()
		if err != nil {
			return "", nil, "", fmt.Errorf("marshaling transformed cloudevent: %w", err)
		}
		return "application/cloudevents+json", body, event.Source(), nil

	case domain.WorkCloudEvent:
		var rec domain.CloudEventRecord
		if err := json.Unmarshal(work.TaskArgs, &rec); err != nil {
			return "", nil, "", fmt.Errorf("unmarshaling cloudevent task args: %w", err)
		}
		return "application/cloudevents+json", work.TaskArgs, rec.Source, nil
	}
	return "", nil, "", fmt.Errorf("unknown work kind %q", work.Kind)
}

// post performs the outbound HTTP exchange, honoring the subscriber's
// auth profile, and returns either a response status or a truncated
// exception string — never both, and never a Go error, matching
// "worker MUST NOT propagate exceptions to the scheduler".
func (w *Worker) post(ctx context.Context, sub domain.Subscription, contentType string, body []byte) (*int, string) {
	client, breaker, err := w.clients.ClientFor(ctx, sub)
	if err != nil {
		return nil, truncate(err.Error())
	}

	do := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		applyStaticAuth(req, sub)
		return client.Do(req)
	}

	// The breaker only trips on transport-level failures, never on the
	// response's status code: a tripped breaker and a 5xx response must
	// both surface as a delivery failure, but only the former is an
	// "exception" rather than a recorded response_status.
	var resp *http.Response
	if breaker != nil {
		result, err := breaker.Execute(func() (interface{}, error) { return do() })
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, truncate("circuit breaker open: " + err.Error())
			}
			return nil, truncate(err.Error())
		}
		resp = result.(*http.Response)
	} else {
		resp, err = do()
		if err != nil {
			return nil, truncate(err.Error())
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	status := resp.StatusCode
	return &status, ""
}

// applyStaticAuth sets the Authorization header for the profiles that
// don't need a RoundTripper (no_auth is a no-op, oauth2 is handled by
// the client's Transport already).
func applyStaticAuth(req *http.Request, sub domain.Subscription) {
	switch sub.AuthType {
	case domain.AuthAPIKey:
		req.Header.Set("Authorization", sub.Auth)
	case domain.AuthZGW:
		token, err := oauth.MintZGWToken(sub.ClientID, sub.Secret)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

func truncate(s string) string {
	if len(s) <= maxExceptionLen {
		return s
	}
	return s[:maxExceptionLen]
}
