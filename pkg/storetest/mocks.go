// Package storetest provides hand-written func-field mocks for the
// narrow store interfaces the delivery, scheduler, ingest, and admin
// packages each declare, using func-field mocks.
package storetest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/open-zaak/open-notificaties/pkg/domain"
)

// MockStore satisfies delivery.Store, scheduler.Store, ingest.Store and
// admin.Store simultaneously, so a single fixture can back tests that
// span packages.
type MockStore struct {
	GetChannelByNameFunc           func(ctx context.Context, name string) (*domain.Channel, error)
	LoadFilterGroupsForChannelFunc func(ctx context.Context, channelName string) ([]domain.FilterGroup, error)
	LoadCloudEventFilterGroupsFunc func(ctx context.Context) ([]domain.CloudEventFilterGroup, error)
	GetSubscriptionFunc            func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	RecordDeliveryResponseFunc     func(ctx context.Context, resp domain.DeliveryResponse, cloudeventSource string) error
	IngestNotificationFunc         func(ctx context.Context, payload domain.NotificationPayload, auditEnabled bool) (uuid.UUID, error)
	IngestCloudEventFunc           func(ctx context.Context, rec domain.CloudEventRecord, auditEnabled bool) (uuid.UUID, error)
	ClaimReadyWorkFunc             func(ctx context.Context, limit int, leaseFor time.Duration) ([]domain.ScheduledWork, error)
	DeleteScheduledWorkFunc        func(ctx context.Context, id uuid.UUID) error
	RescheduleWorkFunc             func(ctx context.Context, id uuid.UUID, targetSubs []uuid.UUID, attempt int, executeAfter time.Time) error
	EnqueueResendFunc              func(ctx context.Context, kind domain.WorkKind, taskArgs []byte, parentID uuid.UUID, targetSubs []uuid.UUID) (uuid.UUID, error)
	CleanupOlderThanFunc           func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockStore) GetChannelByName(ctx context.Context, name string) (*domain.Channel, error) {
	if m.GetChannelByNameFunc != nil {
		return m.GetChannelByNameFunc(ctx, name)
	}
	return nil, nil
}

func (m *MockStore) LoadFilterGroupsForChannel(ctx context.Context, channelName string) ([]domain.FilterGroup, error) {
	if m.LoadFilterGroupsForChannelFunc != nil {
		return m.LoadFilterGroupsForChannelFunc(ctx, channelName)
	}
	return nil, nil
}

func (m *MockStore) LoadCloudEventFilterGroups(ctx context.Context) ([]domain.CloudEventFilterGroup, error) {
	if m.LoadCloudEventFilterGroupsFunc != nil {
		return m.LoadCloudEventFilterGroupsFunc(ctx)
	}
	return nil, nil
}

func (m *MockStore) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockStore) RecordDeliveryResponse(ctx context.Context, resp domain.DeliveryResponse, cloudeventSource string) error {
	if m.RecordDeliveryResponseFunc != nil {
		return m.RecordDeliveryResponseFunc(ctx, resp, cloudeventSource)
	}
	return nil
}

func (m *MockStore) IngestNotification(ctx context.Context, payload domain.NotificationPayload, auditEnabled bool) (uuid.UUID, error) {
	if m.IngestNotificationFunc != nil {
		return m.IngestNotificationFunc(ctx, payload, auditEnabled)
	}
	return uuid.New(), nil
}

func (m *MockStore) IngestCloudEvent(ctx context.Context, rec domain.CloudEventRecord, auditEnabled bool) (uuid.UUID, error) {
	if m.IngestCloudEventFunc != nil {
		return m.IngestCloudEventFunc(ctx, rec, auditEnabled)
	}
	return uuid.New(), nil
}

func (m *MockStore) ClaimReadyWork(ctx context.Context, limit int, leaseFor time.Duration) ([]domain.ScheduledWork, error) {
	if m.ClaimReadyWorkFunc != nil {
		return m.ClaimReadyWorkFunc(ctx, limit, leaseFor)
	}
	return nil, nil
}

func (m *MockStore) DeleteScheduledWork(ctx context.Context, id uuid.UUID) error {
	if m.DeleteScheduledWorkFunc != nil {
		return m.DeleteScheduledWorkFunc(ctx, id)
	}
	return nil
}

func (m *MockStore) RescheduleWork(ctx context.Context, id uuid.UUID, targetSubs []uuid.UUID, attempt int, executeAfter time.Time) error {
	if m.RescheduleWorkFunc != nil {
		return m.RescheduleWorkFunc(ctx, id, targetSubs, attempt, executeAfter)
	}
	return nil
}

func (m *MockStore) EnqueueResend(ctx context.Context, kind domain.WorkKind, taskArgs []byte, parentID uuid.UUID, targetSubs []uuid.UUID) (uuid.UUID, error) {
	if m.EnqueueResendFunc != nil {
		return m.EnqueueResendFunc(ctx, kind, taskArgs, parentID, targetSubs)
	}
	return uuid.New(), nil
}

func (m *MockStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.CleanupOlderThanFunc != nil {
		return m.CleanupOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockDeliverer satisfies scheduler.Deliverer.
type MockDeliverer struct {
	DeliverFunc func(ctx context.Context, subscriberID uuid.UUID, work domain.ScheduledWork) *uuid.UUID
}

func (m *MockDeliverer) Deliver(ctx context.Context, subscriberID uuid.UUID, work domain.ScheduledWork) *uuid.UUID {
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, subscriberID, work)
	}
	return nil
}
