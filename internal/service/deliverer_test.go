package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

func renderSummaries(insights []*model.Insight) string {
	parts := make([]string, len(insights))
	for i, ins := range insights {
		parts[i] = ins.Summary
	}
	return strings.Join(parts, "\n---\n")
}

func newTestDeliverer(t *testing.T, subs *fakeSubscriptionRepo, deliveries *fakeDeliveryRepo, sink *fakeSink) *Deliverer {
	t.Helper()
	d, err := NewDeliverer(DelivererOptions{
		Subscriptions: subs,
		Deliveries:    deliveries,
		Sink:          sink,
		Render:        renderSummaries,
		Workers:       2,
		SendPolicy:    fastPolicy(2),
	})
	require.NoError(t, err)
	return d
}

func testInsight(id int64, symbol string) *model.Insight {
	return &model.Insight{
		ID:          id,
		AnalysisID:  id * 10,
		Symbol:      symbol,
		TradingDate: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		Summary:     symbol + " summary",
		Confidence:  model.ConfidenceMedium,
	}
}

func TestDelivererBatchesPerRecipient(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscribers: map[string][]string{
		"AAPL": {"user-1"},
		"MSFT": {"user-1"},
	}}
	deliveries := newFakeDeliveryRepo()
	sink := newFakeSink()
	d := newTestDeliverer(t, subs, deliveries, sink)

	summary, err := d.DeliverAll(context.Background(), []*model.Insight{
		testInsight(1, "AAPL"),
		testInsight(2, "MSFT"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Recipients)
	assert.Equal(t, 2, summary.InsightsDelivered)
	assert.Zero(t, summary.Failures)

	messages := sink.messages()
	require.Len(t, messages, 1, "a user subscribed to both symbols gets one message")
	assert.Equal(t, "user-1", messages[0].recipient)
	assert.Contains(t, messages[0].text, "AAPL summary")
	assert.Contains(t, messages[0].text, "MSFT summary")

	for _, insightID := range []int64{1, 2} {
		records, err := deliveries.ListByInsight(context.Background(), insightID)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, model.DeliveryStatusSuccess, records[0].Status)
		require.NotNil(t, records[0].MessageHandle)
	}
}

func TestDelivererFailureIsolation(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscribers: map[string][]string{
		"AAPL": {"user-1", "user-2"},
	}}
	deliveries := newFakeDeliveryRepo()
	sink := newFakeSink()
	sink.failFor["user-2"] = errors.New("telegram: 403 bot blocked by user")
	d := newTestDeliverer(t, subs, deliveries, sink)

	summary, err := d.DeliverAll(context.Background(), []*model.Insight{testInsight(1, "AAPL")})
	require.NoError(t, err, "a recipient failure is recorded, not fatal")

	assert.Equal(t, 2, summary.Recipients)
	assert.Equal(t, 1, summary.InsightsDelivered)
	assert.Equal(t, 1, summary.Failures)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "user-2")

	records, err := deliveries.ListByInsight(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	byUser := map[string]model.DeliveryStatus{}
	for _, rec := range records {
		byUser[rec.UserID] = rec.Status
	}
	assert.Equal(t, model.DeliveryStatusSuccess, byUser["user-1"])
	assert.Equal(t, model.DeliveryStatusFailed, byUser["user-2"])
}

func TestDelivererSkipsAlreadyDelivered(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscribers: map[string][]string{
		"AAPL": {"user-1", "user-2"},
	}}
	deliveries := newFakeDeliveryRepo()
	_, err := deliveries.RecordAttempt(context.Background(), model.DeliveryAttempt{
		InsightID:     1,
		UserID:        "user-1",
		Status:        model.DeliveryStatusSuccess,
		MessageHandle: "msg-prior",
	})
	require.NoError(t, err)

	sink := newFakeSink()
	d := newTestDeliverer(t, subs, deliveries, sink)

	summary, err := d.DeliverAll(context.Background(), []*model.Insight{testInsight(1, "AAPL")})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Recipients, "only the undelivered user is contacted")
	assert.Equal(t, 1, summary.InsightsDelivered)

	messages := sink.messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "user-2", messages[0].recipient, "a delivered user never receives the insight twice")
}

func TestDelivererTransientSendRetried(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscribers: map[string][]string{
		"AAPL": {"user-1"},
	}}
	deliveries := newFakeDeliveryRepo()
	sink := newFakeSink()

	attempts := 0
	flaky := &flakySink{inner: sink, failures: 1, err: &model.TransientProviderError{
		Provider: "telegram",
		Reason:   "rate limited",
	}, attempts: &attempts}

	d, err := NewDeliverer(DelivererOptions{
		Subscriptions: subs,
		Deliveries:    deliveries,
		Sink:          flaky,
		Render:        renderSummaries,
		SendPolicy:    fastPolicy(3),
	})
	require.NoError(t, err)

	summary, err := d.DeliverAll(context.Background(), []*model.Insight{testInsight(1, "AAPL")})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.InsightsDelivered)
	assert.Zero(t, summary.Failures)
	assert.Equal(t, 2, attempts)
}

// flakySink fails the first N sends, then delegates to the inner sink.
type flakySink struct {
	inner    *fakeSink
	failures int
	err      error
	attempts *int
}

func (s *flakySink) Send(ctx context.Context, params core.SendMessageParams) (string, error) {
	*s.attempts++
	if s.failures > 0 {
		s.failures--
		return "", s.err
	}
	return s.inner.Send(ctx, params)
}

// countingSink tracks how many sends run concurrently.
type countingSink struct {
	inner    *fakeSink
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (s *countingSink) Send(ctx context.Context, params core.SendMessageParams) (string, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	return s.inner.Send(ctx, params)
}

func TestDelivererBoundedConcurrency(t *testing.T) {
	users := make([]string, 12)
	for i := range users {
		users[i] = fmt.Sprintf("user-%02d", i)
	}
	subs := &fakeSubscriptionRepo{subscribers: map[string][]string{"AAPL": users}}
	sink := &countingSink{inner: newFakeSink()}

	// Delivery pool width is set independently of the analysis pool.
	d, err := NewDeliverer(DelivererOptions{
		Subscriptions: subs,
		Deliveries:    newFakeDeliveryRepo(),
		Sink:          sink,
		Render:        renderSummaries,
		Workers:       3,
		SendPolicy:    fastPolicy(1),
	})
	require.NoError(t, err)

	summary, err := d.DeliverAll(context.Background(), []*model.Insight{testInsight(1, "AAPL")})
	require.NoError(t, err)

	assert.Equal(t, len(users), summary.Recipients)
	assert.Equal(t, len(users), summary.InsightsDelivered)
	assert.LessOrEqual(t, sink.maxSeen, 3, "concurrent sends never exceed the delivery pool width")
}

func TestDelivererNoSubscribers(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscribers: map[string][]string{}}
	sink := newFakeSink()
	d := newTestDeliverer(t, subs, newFakeDeliveryRepo(), sink)

	summary, err := d.DeliverAll(context.Background(), []*model.Insight{testInsight(1, "AAPL")})
	require.NoError(t, err)

	assert.Zero(t, summary.Recipients)
	assert.Empty(t, sink.messages())
}
