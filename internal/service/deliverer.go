package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
	"github.com/stockpulse/analyzer/internal/domain/retry"
)

// DeliverySummary aggregates the outcome of one delivery fan-out.
type DeliverySummary struct {
	// Recipients is how many users had at least one pending insight.
	Recipients int
	// InsightsDelivered counts successful (insight, user) deliveries.
	InsightsDelivered int
	// Failures counts recipients whose send exhausted its retries.
	Failures int
	// Errors lists per-recipient failure descriptions.
	Errors []string
}

// DelivererOptions groups dependencies for Deliverer.
type DelivererOptions struct {
	Subscriptions core.SubscriptionRepository // Required
	Deliveries    core.DeliveryRepository     // Required
	Sink          core.MessageSink            // Required
	// Render turns a recipient's batch of insights into one message.
	Render func([]*model.Insight) string // Required

	Workers    int // Delivery pool width
	SendPolicy retry.Policy
	Logger     *slog.Logger
}

// Deliverer fans successful insights out to their current subscribers,
// one batched message per recipient.
type Deliverer struct {
	subscriptions core.SubscriptionRepository
	deliveries    core.DeliveryRepository
	sink          core.MessageSink
	render        func([]*model.Insight) string

	workers    int
	sendPolicy retry.Policy
	logger     *slog.Logger
}

// NewDeliverer constructs a Deliverer.
func NewDeliverer(opts DelivererOptions) (*Deliverer, error) {
	if opts.Subscriptions == nil {
		return nil, errors.New("SubscriptionRepository is required")
	}
	if opts.Deliveries == nil {
		return nil, errors.New("DeliveryRepository is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("MessageSink is required")
	}
	if opts.Render == nil {
		return nil, errors.New("Render func is required")
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "deliverer")
	}

	return &Deliverer{
		subscriptions: opts.Subscriptions,
		deliveries:    opts.Deliveries,
		sink:          opts.Sink,
		render:        opts.Render,
		workers:       workers,
		sendPolicy:    opts.SendPolicy.Sanitize(),
		logger:        logger,
	}, nil
}

// DeliverAll resolves the current subscribers of each insight's symbol,
// groups insights per recipient, and sends one message per recipient.
// One recipient's failure never blocks another's. A non-nil error is
// ledger-fatal.
func (d *Deliverer) DeliverAll(ctx context.Context, insights []*model.Insight) (DeliverySummary, error) {
	var summary DeliverySummary

	batches, err := d.resolveBatches(ctx, insights)
	if err != nil {
		return summary, err
	}
	if len(batches) == 0 {
		return summary, nil
	}
	summary.Recipients = len(batches)

	// Deterministic dispatch order; completion order is irrelevant.
	recipients := make([]string, 0, len(batches))
	for userID := range batches {
		recipients = append(recipients, userID)
	}
	sort.Strings(recipients)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, userID := range recipients {
		batch := batches[userID]
		g.Go(func() error {
			delivered, sendErr, fatal := d.deliverOne(gctx, userID, batch)
			mu.Lock()
			defer mu.Unlock()
			summary.InsightsDelivered += delivered
			if sendErr != nil {
				summary.Failures++
				summary.Errors = append(summary.Errors, fmt.Sprintf("user %s: %v", userID, sendErr))
			}
			return fatal
		})
	}

	err = g.Wait()
	return summary, err
}

// resolveBatches does the fresh subscriber read per insight and drops
// (insight, user) pairs already delivered by a prior run.
func (d *Deliverer) resolveBatches(ctx context.Context, insights []*model.Insight) (map[string][]*model.Insight, error) {
	batches := make(map[string][]*model.Insight)

	for _, ins := range insights {
		subscribers, err := d.subscriptions.SubscribersFor(ctx, ins.Symbol)
		if err != nil {
			return nil, fmt.Errorf("resolve subscribers for %s: %w", ins.Symbol, err)
		}

		delivered, err := d.deliveredUsers(ctx, ins.ID)
		if err != nil {
			return nil, err
		}

		for _, userID := range subscribers {
			if delivered[userID] {
				continue
			}
			batches[userID] = append(batches[userID], ins)
		}
	}
	return batches, nil
}

func (d *Deliverer) deliveredUsers(ctx context.Context, insightID int64) (map[string]bool, error) {
	records, err := d.deliveries.ListByInsight(ctx, insightID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries for insight %d: %w", insightID, err)
	}
	delivered := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.Status == model.DeliveryStatusSuccess {
			delivered[rec.UserID] = true
		}
	}
	return delivered, nil
}

// deliverOne sends a recipient's batch and records the attempt per
// insight. Returns the delivered count, the send error if the send
// exhausted its retries, and a fatal ledger error if recording failed.
func (d *Deliverer) deliverOne(
	ctx context.Context,
	userID string,
	batch []*model.Insight,
) (delivered int, sendErr error, fatal error) {
	text := d.render(batch)

	var handle string
	sendErr = retry.Do(ctx, d.sendPolicy, func(ctx context.Context) error {
		var err error
		handle, err = d.sink.Send(ctx, core.SendMessageParams{RecipientID: userID, Text: text})
		return err
	})

	for _, ins := range batch {
		attempt := model.DeliveryAttempt{
			InsightID: ins.ID,
			UserID:    userID,
		}
		if sendErr == nil {
			attempt.Status = model.DeliveryStatusSuccess
			attempt.MessageHandle = handle
		} else {
			attempt.Status = model.DeliveryStatusFailed
			attempt.ErrorMessage = sendErr.Error()
		}

		rec, err := d.deliveries.RecordAttempt(ctx, attempt)
		if err != nil {
			return delivered, sendErr, fmt.Errorf("record delivery for insight %d: %w", ins.ID, err)
		}
		if rec.Status == model.DeliveryStatusSuccess {
			delivered++
		}
	}

	if sendErr != nil && d.logger != nil {
		d.logger.WarnContext(ctx, "delivery failed",
			"user_id", userID,
			"insights", len(batch),
			"err", sendErr,
		)
	}
	return delivered, sendErr, nil
}
