// Package store is the PostgreSQL-backed persistence layer for
// notificaties-core: channels, subscriptions and their filter groups,
// the notification/cloudevent audit trail, and the scheduled-work queue.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-zaak/open-notificaties/pkg/domain"
	"github.com/open-zaak/open-notificaties/pkg/notifyerr"
)

// Store wraps a pgx connection pool with the queries notificaties-core
// issues against it. Every exported method opens and closes its own
// statement(s); callers needing a multi-statement transaction use the
// dedicated combined methods below (e.g. IngestNotification) rather
// than composing single-statement methods themselves.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Connecting and migrating are the
// caller's (cmd/) responsibility.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for callers (goose, health checks)
// that need it directly.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// GetChannelByName loads a Channel, or notifyerr.ErrKanaalNaam if none
// exists with that name.
func (s *Store) GetChannelByName(ctx context.Context, name string) (*domain.Channel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, naam, documentatie_link, filters FROM kanalen WHERE naam = $1`, name)

	var c domain.Channel
	if err := row.Scan(&c.ID, &c.Name, &c.DocumentationURL, &c.FilterKeys); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifyerr.ErrKanaalNaam
		}
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "loading channel")
	}
	return &c, nil
}

// LoadFilterGroupsForChannel bulk-loads every FilterGroup targeting the
// given channel, each with its Filters populated, in a single round
// trip (plus the JOIN). The scheduler resolves notification targets
// with it, so that cost does not grow with the number of non-matching
// subscriptions.
func (s *Store) LoadFilterGroupsForChannel(ctx context.Context, channelName string) ([]domain.FilterGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fg.id, fg.abonnement_id, fg.kanaal_naam, f.key, f.value
		FROM filter_groups fg
		LEFT JOIN filters f ON f.filter_group_id = fg.id
		WHERE fg.kanaal_naam = $1`, channelName)
	if err != nil {
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "loading filter groups")
	}
	defer rows.Close()

	byGroup := make(map[uuid.UUID]*domain.FilterGroup)
	var order []uuid.UUID
	for rows.Next() {
		var (
			groupID, subID uuid.UUID
			kanaal         string
			key, value     *string
		)
		if err := rows.Scan(&groupID, &subID, &kanaal, &key, &value); err != nil {
			return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "scanning filter group row")
		}
		g, ok := byGroup[groupID]
		if !ok {
			g = &domain.FilterGroup{ID: groupID, SubscriptionID: subID, ChannelName: kanaal, Filters: map[string]string{}}
			byGroup[groupID] = g
			order = append(order, groupID)
		}
		if key != nil {
			g.Filters[*key] = *value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "iterating filter group rows")
	}

	out := make([]domain.FilterGroup, 0, len(order))
	for _, id := range order {
		out = append(out, *byGroup[id])
	}
	return out, nil
}

// LoadCloudEventFilterGroups bulk-loads every CloudEventFilterGroup
// belonging to a subscription with send_cloudevents=true.
func (s *Store) LoadCloudEventFilterGroups(ctx context.Context) ([]domain.CloudEventFilterGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ceg.id, ceg.abonnement_id, ceg.type_substring, f.key, f.value
		FROM cloudevent_filter_groups ceg
		JOIN abonnementen a ON a.id = ceg.abonnement_id
		LEFT JOIN cloudevent_filters f ON f.filter_group_id = ceg.id
		WHERE a.send_cloudevents = TRUE`)
	if err != nil {
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "loading cloudevent filter groups")
	}
	defer rows.Close()

	byGroup := make(map[uuid.UUID]*domain.CloudEventFilterGroup)
	var order []uuid.UUID
	for rows.Next() {
		var (
			groupID, subID uuid.UUID
			typeSubstring  string
			key, value     *string
		)
		if err := rows.Scan(&groupID, &subID, &typeSubstring, &key, &value); err != nil {
			return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "scanning cloudevent filter group row")
		}
		g, ok := byGroup[groupID]
		if !ok {
			g = &domain.CloudEventFilterGroup{ID: groupID, SubscriptionID: subID, TypeSubstring: typeSubstring, Filters: map[string]string{}}
			byGroup[groupID] = g
			order = append(order, groupID)
		}
		if key != nil {
			g.Filters[*key] = *value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "iterating cloudevent filter group rows")
	}

	out := make([]domain.CloudEventFilterGroup, 0, len(order))
	for _, id := range order {
		out = append(out, *byGroup[id])
	}
	return out, nil
}

// GetSubscription loads a Subscription by id, or
// notifyerr.ErrSubscriptionDoesNotExist if it no longer exists (it may
// have been deleted between scheduling and dispatch, which is not an
// error — see step 1).
func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, callback_url, auth_type, auth, client_id, secret,
		       oauth2_token_url, oauth2_scope, client_certificate,
		       server_certificate, send_cloudevents
		FROM abonnementen WHERE id = $1`, id)

	var sub domain.Subscription
	err := row.Scan(&sub.ID, &sub.CallbackURL, &sub.AuthType, &sub.Auth, &sub.ClientID,
		&sub.Secret, &sub.OAuth2TokenURL, &sub.OAuth2Scope, &sub.ClientCertificate,
		&sub.ServerCertificate, &sub.SendCloudEvents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifyerr.ErrSubscriptionDoesNotExist
		}
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "loading subscription")
	}
	return &sub, nil
}

// CreateChannel inserts a new Channel. Channel names are immutable once
// created, so there is no Update counterpart.
func (s *Store) CreateChannel(ctx context.Context, c domain.Channel) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO kanalen (id, naam, documentatie_link, filters) VALUES ($1,$2,$3,$4)`,
		c.ID, c.Name, c.DocumentationURL, c.FilterKeys); err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "creating channel")
	}
	return nil
}

// ListChannels returns every Channel, for the admin CRUD surface.
func (s *Store) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, naam, documentatie_link, filters FROM kanalen ORDER BY naam`)
	if err != nil {
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "listing channels")
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.DocumentationURL, &c.FilterKeys); err != nil {
			return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "scanning channel row")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertSubscription creates or fully replaces a Subscription's row and
// filter groups in a single transaction.
func (s *Store) UpsertSubscription(ctx context.Context, sub domain.Subscription, filterGroups []domain.FilterGroup, ceGroups []domain.CloudEventFilterGroup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "beginning subscription upsert transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO abonnementen (id, callback_url, auth_type, auth, client_id, secret,
		                          oauth2_token_url, oauth2_scope, client_certificate,
		                          server_certificate, send_cloudevents)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			callback_url=$2, auth_type=$3, auth=$4, client_id=$5, secret=$6,
			oauth2_token_url=$7, oauth2_scope=$8, client_certificate=$9,
			server_certificate=$10, send_cloudevents=$11`,
		sub.ID, sub.CallbackURL, sub.AuthType, sub.Auth, sub.ClientID, sub.Secret,
		sub.OAuth2TokenURL, sub.OAuth2Scope, sub.ClientCertificate, sub.ServerCertificate, sub.SendCloudEvents)
	if err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "upserting subscription")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM filter_groups WHERE abonnement_id = $1`, sub.ID); err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "clearing old filter groups")
	}
	for _, g := range filterGroups {
		if _, err := tx.Exec(ctx, `INSERT INTO filter_groups (id, abonnement_id, kanaal_naam) VALUES ($1,$2,$3)`,
			g.ID, sub.ID, g.ChannelName); err != nil {
			return notifyerr.Wrap(err, notifyerr.CodeStorage, "inserting filter group")
		}
		for k, v := range g.Filters {
			if _, err := tx.Exec(ctx, `INSERT INTO filters (filter_group_id, key, value) VALUES ($1,$2,$3)`,
				g.ID, k, v); err != nil {
				return notifyerr.Wrap(err, notifyerr.CodeStorage, "inserting filter")
			}
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cloudevent_filter_groups WHERE abonnement_id = $1`, sub.ID); err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "clearing old cloudevent filter groups")
	}
	for _, g := range ceGroups {
		if _, err := tx.Exec(ctx, `INSERT INTO cloudevent_filter_groups (id, abonnement_id, type_substring) VALUES ($1,$2,$3)`,
			g.ID, sub.ID, g.TypeSubstring); err != nil {
			return notifyerr.Wrap(err, notifyerr.CodeStorage, "inserting cloudevent filter group")
		}
		for k, v := range g.Filters {
			if _, err := tx.Exec(ctx, `INSERT INTO cloudevent_filters (filter_group_id, key, value) VALUES ($1,$2,$3)`,
				g.ID, k, v); err != nil {
				return notifyerr.Wrap(err, notifyerr.CodeStorage, "inserting cloudevent filter")
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "committing subscription upsert")
	}
	return nil
}

// DeleteSubscription cascades to FilterGroups, CloudEventFilterGroups,
// and DeliveryResponses via the migration's FK
// ON DELETE CASCADE clauses.
func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM abonnementen WHERE id = $1`, id); err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "deleting subscription")
	}
	return nil
}

// IngestNotification persists the audit row (if auditEnabled) and
// enqueues a ScheduledWork row in one transaction, so a ScheduledWork
// never outlives (or precedes) its parent NotificationRecord (
// It is the transaction boundary.
func (s *Store) IngestNotification(ctx context.Context, payload domain.NotificationPayload, auditEnabled bool) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "beginning ingest transaction")
	}
	defer tx.Rollback(ctx)

	var parentID *uuid.UUID
	if auditEnabled {
		id := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO notificaties (id, kanaal_naam, forwarded_msg, aanmaakdatum)
			VALUES ($1,$2,$3,$4)`,
			id, payload.Kanaal, payload, payload.Aanmaakdatum); err != nil {
			return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "persisting notification record")
		}
		parentID = &id
	}

	taskArgs, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeInternal, "marshaling notification task args")
	}

	workID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO scheduled_work (id, kind, task_args, parent_id, execute_after, attempt, target_subs)
		VALUES ($1,$2,$3,$4, now(), 0, '{}')`,
		workID, domain.WorkNotification, taskArgs, parentID); err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "enqueuing scheduled work")
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "committing ingest transaction")
	}
	return workID, nil
}

// IngestCloudEvent is the CloudEvent analogue of IngestNotification.
func (s *Store) IngestCloudEvent(ctx context.Context, rec domain.CloudEventRecord, auditEnabled bool) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "beginning ingest transaction")
	}
	defer tx.Rollback(ctx)

	var parentID *uuid.UUID
	if auditEnabled {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cloudevents (id, source, specversion, type, subject, "time",
			                         datacontenttype, dataschema, data)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id, source) DO NOTHING`,
			rec.ID, rec.Source, rec.SpecVersion, rec.Type, rec.Subject, rec.Time,
			rec.DataContentType, rec.DataSchema, rec.Data); err != nil {
			return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "persisting cloudevent record")
		}
		parentID = &rec.ID
	}

	taskArgs, err := json.Marshal(rec)
	if err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeInternal, "marshaling cloudevent task args")
	}

	workID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO scheduled_work (id, kind, task_args, parent_id, execute_after, attempt, target_subs)
		VALUES ($1,$2,$3,$4, now(), 0, '{}')`,
		workID, domain.WorkCloudEvent, taskArgs, parentID); err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "enqueuing scheduled work")
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "committing ingest transaction")
	}
	return workID, nil
}

// ClaimReadyWork atomically claims up to limit ScheduledWork rows whose
// execute_after has elapsed, using SELECT ... FOR UPDATE SKIP LOCKED so
// that concurrent scheduler processes never double-dispatch the same
// row. Claiming leases the row by pushing
// execute_after out by leaseFor; the scheduler's final
// DeleteScheduledWork or RescheduleWork call supersedes the lease once dispatch completes. A
// crash mid-dispatch simply lets the lease expire and the row is
// retried on a later tick.
func (s *Store) ClaimReadyWork(ctx context.Context, limit int, leaseFor time.Duration) ([]domain.ScheduledWork, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE scheduled_work
		SET execute_after = now() + $2::interval
		WHERE id IN (
			SELECT id FROM scheduled_work
			WHERE execute_after <= now()
			ORDER BY execute_after
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, task_args, parent_id, execute_after, attempt, target_subs`,
		limit, leaseFor.String())
	if err != nil {
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "claiming ready work")
	}
	defer rows.Close()

	var out []domain.ScheduledWork
	for rows.Next() {
		var w domain.ScheduledWork
		if err := rows.Scan(&w.ID, &w.Kind, &w.TaskArgs, &w.ParentID, &w.ExecuteAfter, &w.Attempt, &w.TargetSubs); err != nil {
			return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "scanning claimed work row")
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "iterating claimed work rows")
	}
	return out, nil
}

// DeleteScheduledWork removes a fully-delivered or retry-exhausted row.
func (s *Store) DeleteScheduledWork(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM scheduled_work WHERE id = $1`, id); err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "deleting scheduled work")
	}
	return nil
}

// RescheduleWork mutates a ScheduledWork in place for its next attempt;
// it never creates a new row.
func (s *Store) RescheduleWork(ctx context.Context, id uuid.UUID, targetSubs []uuid.UUID, attempt int, executeAfter time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE scheduled_work SET target_subs = $2, attempt = $3, execute_after = $4
		WHERE id = $1`, id, targetSubs, attempt, executeAfter); err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "rescheduling work")
	}
	return nil
}

// RecordDeliveryResponse appends one attempt's outcome. notificationID
// and cloudeventID/cloudeventSource are mutually exclusive, selected by
// parent.Kind.
func (s *Store) RecordDeliveryResponse(ctx context.Context, resp domain.DeliveryResponse, cloudeventSource string) error {
	var notifID, ceID *uuid.UUID
	var ceSource *string
	switch resp.ParentKind {
	case domain.WorkNotification:
		notifID = &resp.ParentID
	case domain.WorkCloudEvent:
		ceID = &resp.ParentID
		ceSource = &cloudeventSource
	default:
		return fmt.Errorf("unknown parent kind %q", resp.ParentKind)
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO notificatie_responses (id, parent_kind, notificatie_id, cloudevent_id,
		                                    cloudevent_source, abonnement_id, attempt,
		                                    response_status, exception)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		resp.ID, resp.ParentKind, notifID, ceID, ceSource, resp.SubscriptionID,
		resp.Attempt, resp.ResponseStatus, resp.Exception); err != nil {
		return notifyerr.Wrap(err, notifyerr.CodeStorage, "recording delivery response")
	}
	return nil
}

// LastAttempt returns the highest attempt number recorded for a parent
// audit row, or 0 if none exist yet.
func (s *Store) LastAttempt(ctx context.Context, parentID uuid.UUID) (int, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(attempt), 0) FROM notificatie_responses
		WHERE notificatie_id = $1 OR cloudevent_id = $1`, parentID)
	var attempt int
	if err := row.Scan(&attempt); err != nil {
		return 0, notifyerr.Wrap(err, notifyerr.CodeStorage, "loading last attempt")
	}
	return attempt, nil
}

// NotificationCreatedAt returns a NotificationRecord's creation time.
func (s *Store) NotificationCreatedAt(ctx context.Context, id uuid.UUID) (time.Time, error) {
	row := s.pool.QueryRow(ctx, `SELECT created_at FROM notificaties WHERE id = $1`, id)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, notifyerr.ErrScheduledWorkDoesNotExist
		}
		return time.Time{}, notifyerr.Wrap(err, notifyerr.CodeStorage, "loading notification created_at")
	}
	return t, nil
}

// EnqueueResend re-queues a fresh ScheduledWork for a notification or
// cloudevent, with attempt reset to 0 (the admin Resend helper).
func (s *Store) EnqueueResend(ctx context.Context, kind domain.WorkKind, taskArgs []byte, parentID uuid.UUID, targetSubs []uuid.UUID) (uuid.UUID, error) {
	workID := uuid.New()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO scheduled_work (id, kind, task_args, parent_id, execute_after, attempt, target_subs)
		VALUES ($1,$2,$3,$4, now(), 0, $5)`,
		workID, kind, taskArgs, parentID, targetSubs); err != nil {
		return uuid.Nil, notifyerr.Wrap(err, notifyerr.CodeStorage, "enqueuing resend")
	}
	return workID, nil
}

// CleanupOlderThan deletes NotificationRecords and CloudEventRecords
// (and, by FK cascade, their DeliveryResponses) older than cutoff.
func (s *Store) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	tag, err := s.pool.Exec(ctx, `DELETE FROM notificaties WHERE created_at < $1`, cutoff)
	if err != nil {
		return total, notifyerr.Wrap(err, notifyerr.CodeStorage, "cleaning up notifications")
	}
	total += tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `DELETE FROM cloudevents WHERE created_at < $1`, cutoff)
	if err != nil {
		return total, notifyerr.Wrap(err, notifyerr.CodeStorage, "cleaning up cloudevents")
	}
	total += tag.RowsAffected()

	return total, nil
}
