package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
	"github.com/stockpulse/analyzer/internal/domain/retry"
)

// In-memory fakes implementing the core ports with the same invariants
// as the pgx repositories: guarded analysis upsert, delivery success
// preservation, one running job per trading date.

func analysisKey(symbol string, date time.Time) string {
	return symbol + "|" + model.FormatTradingDate(date)
}

type storedResult struct {
	analysis *model.StockAnalysis
	insight  *model.Insight
}

type fakeAnalysisRepo struct {
	mu      sync.Mutex
	rows    map[string]*storedResult
	nextID  int64
	findErr error
	saveErr error
}

func newFakeAnalysisRepo() *fakeAnalysisRepo {
	return &fakeAnalysisRepo{rows: make(map[string]*storedResult)}
}

func (r *fakeAnalysisRepo) FindCompleted(
	_ context.Context,
	symbol string,
	date time.Time,
) (*model.StockAnalysis, *model.Insight, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, nil, r.findErr
	}
	row, ok := r.rows[analysisKey(symbol, date)]
	if !ok || row.analysis.Status != model.AnalysisStatusSuccess {
		return nil, nil, nil
	}
	return row.analysis, row.insight, nil
}

func (r *fakeAnalysisRepo) SaveResult(
	_ context.Context,
	params core.SaveResultParams,
) (*model.StockAnalysis, *model.Insight, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return nil, nil, r.saveErr
	}

	a := *params.Analysis
	key := analysisKey(a.Symbol, a.TradingDate)
	if existing, ok := r.rows[key]; ok && existing.analysis.Status == model.AnalysisStatusSuccess {
		// Guarded upsert: success rows are never overwritten.
		return existing.analysis, nil, nil
	}

	r.nextID++
	a.ID = r.nextID
	row := &storedResult{analysis: &a}
	if params.Insight != nil {
		r.nextID++
		row.insight = &model.Insight{
			ID:            r.nextID,
			AnalysisID:    a.ID,
			Symbol:        a.Symbol,
			TradingDate:   a.TradingDate,
			Summary:       params.Insight.Summary,
			TrendAnalysis: params.Insight.TrendAnalysis,
			RiskFactors:   params.Insight.RiskFactors,
			Opportunities: params.Insight.Opportunities,
			Confidence:    params.Insight.Confidence,
			ModelName:     params.Insight.Model,
			TokensUsed:    params.Insight.TokensUsed,
		}
	}
	r.rows[key] = row
	return row.analysis, row.insight, nil
}

func (r *fakeAnalysisRepo) ListByDate(_ context.Context, date time.Time) ([]*model.StockAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.StockAnalysis
	for _, row := range r.rows {
		if row.analysis.TradingDate.Equal(model.TradingDateOf(date)) {
			out = append(out, row.analysis)
		}
	}
	return out, nil
}

func (r *fakeAnalysisRepo) get(symbol string, date time.Time) *storedResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[analysisKey(symbol, date)]
}

type fakeInsightRepo struct {
	analyses *fakeAnalysisRepo
}

func (r *fakeInsightRepo) GetByID(_ context.Context, id int64) (*model.Insight, error) {
	r.analyses.mu.Lock()
	defer r.analyses.mu.Unlock()
	for _, row := range r.analyses.rows {
		if row.insight != nil && row.insight.ID == id {
			return row.insight, nil
		}
	}
	return nil, fmt.Errorf("insight %d not found", id)
}

func (r *fakeInsightRepo) ListByDate(_ context.Context, date time.Time) ([]*model.Insight, error) {
	r.analyses.mu.Lock()
	defer r.analyses.mu.Unlock()
	var out []*model.Insight
	for _, row := range r.analyses.rows {
		if row.insight != nil && row.insight.TradingDate.Equal(model.TradingDateOf(date)) {
			out = append(out, row.insight)
		}
	}
	return out, nil
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fetch func(symbol string) (*model.Snapshot, error)
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Fetch(_ context.Context, symbol string) (*model.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fetch != nil {
		return s.fetch(symbol)
	}
	return &model.Snapshot{Symbol: symbol, Source: "fake", FetchedAt: time.Now().UTC()}, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	generate func(snap model.Snapshot) (*model.GeneratedInsight, error)
}

func (g *fakeGenerator) ModelName() string { return "fake-model" }

func (g *fakeGenerator) Generate(_ context.Context, snap model.Snapshot) (*model.GeneratedInsight, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.generate != nil {
		return g.generate(snap)
	}
	return &model.GeneratedInsight{
		Summary:    "summary for " + snap.Symbol,
		Confidence: model.ConfidenceMedium,
		Model:      "fake-model",
	}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeSubscriptionRepo struct {
	mu          sync.Mutex
	symbols     []string
	subscribers map[string][]string
	activeErr   error
}

func (r *fakeSubscriptionRepo) ActiveSymbols(context.Context) ([]string, error) {
	if r.activeErr != nil {
		return nil, r.activeErr
	}
	return r.symbols, nil
}

func (r *fakeSubscriptionRepo) SubscribersFor(_ context.Context, symbol string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribers[symbol], nil
}

func (r *fakeSubscriptionRepo) Create(context.Context, *model.CreateSubscriptionRequest) (*model.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *fakeSubscriptionRepo) Deactivate(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("not implemented")
}

func (r *fakeSubscriptionRepo) ListByUser(context.Context, string) ([]*model.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *fakeSubscriptionRepo) CountByUser(context.Context, string) (int, error) {
	return 0, nil
}

func (r *fakeSubscriptionRepo) CountDistinctSymbols(context.Context) (int, error) {
	return len(r.symbols), nil
}

type fakeDeliveryRepo struct {
	mu      sync.Mutex
	records map[string]*model.DeliveryRecord
	nextID  int64
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{records: make(map[string]*model.DeliveryRecord)}
}

func deliveryKey(insightID int64, userID string) string {
	return fmt.Sprintf("%d|%s", insightID, userID)
}

func (r *fakeDeliveryRepo) RecordAttempt(
	_ context.Context,
	attempt model.DeliveryAttempt,
) (*model.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := deliveryKey(attempt.InsightID, attempt.UserID)
	rec, ok := r.records[key]
	if !ok {
		r.nextID++
		rec = &model.DeliveryRecord{
			ID:        r.nextID,
			InsightID: attempt.InsightID,
			UserID:    attempt.UserID,
		}
		r.records[key] = rec
	}

	rec.Attempts++
	if rec.Status == model.DeliveryStatusSuccess {
		return rec, nil
	}
	rec.Status = attempt.Status
	if attempt.Status == model.DeliveryStatusSuccess {
		handle := attempt.MessageHandle
		rec.MessageHandle = &handle
		now := time.Now().UTC()
		rec.DeliveredAt = &now
		rec.ErrorMessage = nil
	} else {
		msg := attempt.ErrorMessage
		rec.ErrorMessage = &msg
	}
	return rec, nil
}

func (r *fakeDeliveryRepo) ListByInsight(_ context.Context, insightID int64) ([]*model.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.DeliveryRecord
	for _, rec := range r.records {
		if rec.InsightID == insightID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeDeliveryRepo) CountDeliveredForJob(context.Context, time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.Status == model.DeliveryStatusSuccess {
			count++
		}
	}
	return count, nil
}

type fakeJobRepo struct {
	mu     sync.Mutex
	jobs   map[string]*model.AnalysisJob
	nextID int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*model.AnalysisJob)}
}

func (r *fakeJobRepo) Start(_ context.Context, params core.StartJobParams) (*model.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	date := model.TradingDateOf(params.TradingDate)
	for _, job := range r.jobs {
		if !job.TradingDate.Equal(date) || job.Status != model.JobStatusRunning {
			continue
		}
		if !params.Force {
			return nil, model.ErrJobAlreadyRunning
		}
		job.Status = model.JobStatusSuperseded
		now := time.Now().UTC()
		job.CompletedAt = &now
	}

	r.nextID++
	job := &model.AnalysisJob{
		ID:              fmt.Sprintf("job-%d", r.nextID),
		TradingDate:     date,
		Status:          model.JobStatusRunning,
		StocksScheduled: params.StocksScheduled,
		StartedAt:       time.Now().UTC(),
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*model.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *job
	return &cp, nil
}

func (r *fakeJobRepo) GetByDate(_ context.Context, date time.Time) (*model.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.TradingDate.Equal(model.TradingDateOf(date)) {
			cp := *job
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no job for date")
}

func (r *fakeJobRepo) List(context.Context, int, int) ([]*model.AnalysisJob, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *fakeJobRepo) Finalize(_ context.Context, params model.FinalizeJobParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !params.Status.Terminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %q", params.Status)
	}
	job, ok := r.jobs[params.ID]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	job.Status = params.Status
	job.StocksProcessed = params.StocksProcessed
	job.SuccessCount = params.SuccessCount
	job.FailureCount = params.FailureCount
	job.InsightsDelivered = params.InsightsDelivered
	job.Errors = params.Errors
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.DurationMS = now.Sub(job.StartedAt).Milliseconds()
	return true, nil
}

type sentMessage struct {
	recipient string
	text      string
}

type fakeSink struct {
	mu     sync.Mutex
	sent   []sentMessage
	nextID int
	// failFor makes sends to a recipient fail with the given error.
	failFor map[string]error
}

func newFakeSink() *fakeSink {
	return &fakeSink{failFor: make(map[string]error)}
}

func (s *fakeSink) Send(_ context.Context, params core.SendMessageParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[params.RecipientID]; ok {
		return "", err
	}
	s.nextID++
	s.sent = append(s.sent, sentMessage{recipient: params.RecipientID, text: params.Text})
	return fmt.Sprintf("msg-%d", s.nextID), nil
}

func (s *fakeSink) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

// fastPolicy keeps retry waits negligible in tests.
func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}
