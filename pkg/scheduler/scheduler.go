// Package scheduler implements the periodic tick that claims ready
// ScheduledWork rows, resolves their target subscribers, and fans out
// delivery tasks.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/open-zaak/open-notificaties/pkg/backoff"
	"github.com/open-zaak/open-notificaties/pkg/domain"
	"github.com/open-zaak/open-notificaties/pkg/matching"
)

// Store is the narrow persistence surface the scheduler needs.
type Store interface {
	ClaimReadyWork(ctx context.Context, limit int, leaseFor time.Duration) ([]domain.ScheduledWork, error)
	DeleteScheduledWork(ctx context.Context, id uuid.UUID) error
	RescheduleWork(ctx context.Context, id uuid.UUID, targetSubs []uuid.UUID, attempt int, executeAfter time.Time) error
	LoadFilterGroupsForChannel(ctx context.Context, channelName string) ([]domain.FilterGroup, error)
	LoadCloudEventFilterGroups(ctx context.Context) ([]domain.CloudEventFilterGroup, error)
}

// Deliverer is the narrow view of delivery.Worker the scheduler drives.
// Whether a notification-kind delivery is transformed into a CloudEvent
// is the deliverer's own decision, keyed off the target subscriber's
// send_cloudevents flag (spec.md §4.4 step 3) — the scheduler only
// resolves *which* subscribers to call, never *how* each is delivered.
type Deliverer interface {
	Deliver(ctx context.Context, subscriberID uuid.UUID, work domain.ScheduledWork) *uuid.UUID
}

// Config is the scheduler's tuning, mirroring config.Config's relevant
// fields so this package doesn't import config directly.
type Config struct {
	MaxRetries  int
	Backoff     backoff.Config
	BatchSize   int
	LeaseFor    time.Duration
	FanoutLimit int
}

// Scheduler runs the tick loop.
type Scheduler struct {
	store  Store
	worker Deliverer
	cfg    Config
	logger *slog.Logger
}

func New(store Store, worker Deliverer, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = 16
	}
	return &Scheduler{store: store, worker: worker, cfg: cfg, logger: logger}
}

// Run ticks every interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick claims and processes up to cfg.BatchSize ready rows; spec.md
// §4.3 requires each tick to be bounded so it never starves other ticks.
func (s *Scheduler) Tick(ctx context.Context) error {
	rows, err := s.store.ClaimReadyWork(ctx, s.cfg.BatchSize, s.cfg.LeaseFor)
	if err != nil {
		return err
	}

	for _, w := range rows {
		if err := s.processOne(ctx, w); err != nil {
			s.logger.Error("processing scheduled work failed", "work_id", w.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) processOne(ctx context.Context, w domain.ScheduledWork) error {
	// Step 1: ceiling check.
	if backoff.Exhausted(w.Attempt, s.cfg.MaxRetries) {
		return s.store.DeleteScheduledWork(ctx, w.ID)
	}

	// Step 2: resolve target subscribers.
	targets, err := s.resolveTargets(ctx, w)
	if err != nil {
		return err
	}

	// Step 3/4: fan out, bounded concurrency, collect failures.
	failed := s.fanOut(ctx, w, targets)

	// Step 5/6/7.
	if len(failed) == 0 {
		return s.store.DeleteScheduledWork(ctx, w.ID)
	}

	nextAttempt := w.Attempt + 1
	executeAfter := time.Now().Add(s.cfg.Backoff.Duration(nextAttempt))
	failedIDs := make([]uuid.UUID, 0, len(failed))
	for id := range failed {
		failedIDs = append(failedIDs, id)
	}
	return s.store.RescheduleWork(ctx, w.ID, failedIDs, nextAttempt, executeAfter)
}

// resolveTargets returns the set of subscriber ids to dispatch work w
// to. A saved target-sub set (a retry row) is used verbatim; otherwise
// the set is computed fresh via the §4.1 matching rule for w's kind.
// Whether any target additionally wants the CloudEvent transform is
// not decided here — see the Deliverer doc comment.
func (s *Scheduler) resolveTargets(ctx context.Context, w domain.ScheduledWork) (map[uuid.UUID]struct{}, error) {
	if len(w.TargetSubs) > 0 {
		targets := make(map[uuid.UUID]struct{}, len(w.TargetSubs))
		for _, id := range w.TargetSubs {
			targets[id] = struct{}{}
		}
		return targets, nil
	}

	switch w.Kind {
	case domain.WorkNotification:
		var payload domain.NotificationPayload
		if err := json.Unmarshal(w.TaskArgs, &payload); err != nil {
			return nil, err
		}
		groups, err := s.store.LoadFilterGroupsForChannel(ctx, payload.Kanaal)
		if err != nil {
			return nil, err
		}
		return matching.Notifications(payload.Kanaal, payload.Kenmerken, groups), nil

	case domain.WorkCloudEvent:
		var rec domain.CloudEventRecord
		if err := json.Unmarshal(w.TaskArgs, &rec); err != nil {
			return nil, err
		}
		ceGroups, err := s.store.LoadCloudEventFilterGroups(ctx)
		if err != nil {
			return nil, err
		}
		return matching.CloudEvents(rec.Type, rec.Data, ceGroups), nil
	}

	return nil, nil
}

// fanOut dispatches one delivery task per target subscriber, bounded
// by cfg.FanoutLimit concurrent in-flight requests.
func (s *Scheduler) fanOut(ctx context.Context, w domain.ScheduledWork, targets map[uuid.UUID]struct{}) map[uuid.UUID]struct{} {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FanoutLimit)

	results := make(chan *uuid.UUID, len(targets))
	for id := range targets {
		id := id
		g.Go(func() error {
			results <- s.worker.Deliver(gctx, id, w)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	failed := make(map[uuid.UUID]struct{})
	for r := range results {
		if r != nil {
			failed[*r] = struct{}{}
		}
	}
	return failed
}
