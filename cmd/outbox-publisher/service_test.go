package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/config"
	"github.com/wishpot/wishpot-backend/pkg/db/models"
	"github.com/wishpot/wishpot-backend/pkg/enums"
	"github.com/wishpot/wishpot-backend/pkg/logger"
	"github.com/wishpot/wishpot-backend/pkg/outbox"
	"github.com/wishpot/wishpot-backend/pkg/outbox/payloads"
	"github.com/wishpot/wishpot-backend/pkg/outbox/registry"
)

var testPubSub = config.PubSubConfig{
	FulfillmentTopic:  "fulfillment-topic",
	ContributionTopic: "contribution-topic",
}

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	first := requestedEvent(t, 0)
	second := requestedEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, pub, dlq, config.OutboxConfig{BatchSize: 2, MaxAttempts: 5})

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{first.ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, repo.published)
	assert.Empty(t, dlq.entries)
	assert.Equal(t, []string{first.AggregateID.String()}, pub.resumed)
}

func TestPublishSetsOrderingKeyAndAttributes(t *testing.T) {
	event := requestedEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	var topics []string
	svc := newTestService(t, repo, pub, &fakeDLQRepo{}, config.OutboxConfig{MaxAttempts: 5})
	svc.publishers = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	msg := pub.sent[0]
	assert.Equal(t, []string{"fulfillment-topic"}, topics)
	assert.Equal(t, event.AggregateID.String(), msg.OrderingKey)
	assert.Equal(t, "fulfillment_requested", msg.Attributes["event_type"])
	assert.Equal(t, "fulfillment", msg.Attributes["aggregate_type"])
	assert.Equal(t, "1", msg.Attributes["schema_version"])
	assert.NotEmpty(t, msg.Attributes["event_id"])
	assert.JSONEq(t, string(event.Payload), string(msg.Data))
}

func TestUnknownEventTypeIsDeadLettered(t *testing.T) {
	event := requestedEvent(t, 0)
	event.EventType = enums.OutboxEventType("gift_wrapped")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, &fakePublisher{}, dlq, config.OutboxConfig{MaxAttempts: 5})

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, enums.OutboxDLQReasonUnregisteredEvent, entry.ErrorReason)
	assert.JSONEq(t, string(event.Payload), string(entry.Payload))
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "unsupported event type")
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
	assert.Empty(t, repo.published)
}

func TestExhaustedAttemptsAreDeadLettered(t *testing.T) {
	event := requestedEvent(t, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("deadline exceeded")}}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, pub, dlq, config.OutboxConfig{BatchSize: 1, MaxAttempts: 2})

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
	assert.Empty(t, repo.failed)
}

func TestMissingPublisherIsDeadLettered(t *testing.T) {
	event := requestedEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, nil, dlq, config.OutboxConfig{MaxAttempts: 5})
	svc.publishers = func(string) publisher { return nil }

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
}

func TestProcessBatchReportsEmptyPoll(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeDLQRepo{}, config.OutboxConfig{})

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, defaultBatchSize, svc.batchSize)
	assert.Equal(t, defaultMaxAttempts, svc.maxAttempts)
	assert.Equal(t, defaultPollInterval, svc.pollInterval)
}

func TestProcessBatchPropagatesMarkErrors(t *testing.T) {
	event := requestedEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}, publishErr: errors.New("connection reset")}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	svc := newTestService(t, repo, pub, &fakeDLQRepo{}, config.OutboxConfig{MaxAttempts: 5})

	_, err := svc.processBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestRunStopsWhenDependencyPingFails(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeDLQRepo{}, config.OutboxConfig{})
	svc.pubsub = &fakePubSubClient{err: errors.New("topic missing")}

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub ping failed")
}

func TestRunReturnsOnCancel(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeDLQRepo{}, config.OutboxConfig{PollIntervalMS: 10})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, 200*time.Millisecond, nextBackoff(base, base, time.Second))
	assert.Equal(t, base*2, nextBackoff(0, base, time.Second))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond, base, time.Second))
}

func TestNewServiceRequiresDLQRepository(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     testLogger(),
		DB:         &fakeDB{},
		PubSub:     &fakePubSubClient{},
		Repository: &fakeRepo{},
		Registry:   mustRegistry(t),
	})
	require.EqualError(t, err, "dlq repository is required")
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, dlq dlqRepository, outboxCfg config.OutboxConfig) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg, PubSub: testPubSub},
		Logger:           testLogger(),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         mustRegistry(t),
		DLQRepository:    dlq,
		PublisherFactory: func(string) publisher { return pub },
		Now:              func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

func mustRegistry(t *testing.T) *registry.EventRegistry {
	t.Helper()
	reg, err := registry.NewEventRegistry(testPubSub)
	require.NoError(t, err)
	return reg
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
}

func requestedEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	fulfillmentID := uuid.New()
	data, err := json.Marshal(payloads.FulfillmentRequestedEvent{
		FulfillmentID:    fulfillmentID,
		ItemID:           uuid.New(),
		EventID:          uuid.New(),
		RequestedBy:      uuid.New(),
		GrossAmountCents: 10000,
		PlatformFeeCents: 500,
		NetAmountCents:   9500,
	})
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
		Data:       data,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventFulfillmentRequested,
		AggregateType: enums.AggregateFulfillment,
		AggregateID:   fulfillmentID,
		Payload:       envelope,
		AttemptCount:  attempts,
		CreatedAt:     time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
	}
}

type fakeRepo struct {
	events     []models.OutboxEvent
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   []uuid.UUID
	publishErr error
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct {
	err error
}

func (f *fakePubSubClient) Ping(context.Context) error { return f.err }

func (f *fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
	resumed []string
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

func (f *fakePublisher) ResumePublish(key string) {
	f.resumed = append(f.resumed, key)
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "msg-id", f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
