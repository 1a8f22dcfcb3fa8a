package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/analyzer/config"
)

type fakeReaperRepo struct {
	mu           sync.Mutex
	staleBatch   []int64
	deleteBatch  []int64
	pendingBatch []int64
	staleCalls   int
	deleteCalls  int
	pendingCalls int
	staleErr     error
}

func (r *fakeReaperRepo) FailStaleRunningJobs(_ context.Context, _ time.Duration, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleCalls++
	if r.staleErr != nil {
		return 0, r.staleErr
	}
	if len(r.staleBatch) == 0 {
		return 0, nil
	}
	count := r.staleBatch[0]
	r.staleBatch = r.staleBatch[1:]
	return count, nil
}

func (r *fakeReaperRepo) DeleteOldJobs(_ context.Context, _ time.Duration, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	if len(r.deleteBatch) == 0 {
		return 0, nil
	}
	count := r.deleteBatch[0]
	r.deleteBatch = r.deleteBatch[1:]
	return count, nil
}

func (r *fakeReaperRepo) DeleteStalePendingDeliveries(_ context.Context, _ time.Duration, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingCalls++
	if len(r.pendingBatch) == 0 {
		return 0, nil
	}
	count := r.pendingBatch[0]
	r.pendingBatch = r.pendingBatch[1:]
	return count, nil
}

func newTestReaper(t *testing.T, repo *fakeReaperRepo) *ReaperService {
	t.Helper()
	s, err := NewReaperService(ReaperServiceOptions{
		Repo: repo,
		Config: config.ReaperConfig{
			Interval:              time.Minute,
			RunningMaxAge:         2 * time.Hour,
			TerminalMaxAge:        30 * 24 * time.Hour,
			PendingDeliveryMaxAge: 72 * time.Hour,
			BatchSize:             100,
		},
	})
	require.NoError(t, err)
	return s
}

func TestReaperDrainsBatches(t *testing.T) {
	repo := &fakeReaperRepo{
		staleBatch:   []int64{100, 100, 40},
		deleteBatch:  []int64{100, 15},
		pendingBatch: []int64{7},
	}
	s := newTestReaper(t, repo)

	require.NoError(t, s.runCleanup(context.Background()))

	// Each operation repeats until a batch comes back empty.
	assert.Equal(t, 4, repo.staleCalls)
	assert.Equal(t, 3, repo.deleteCalls)
	assert.Equal(t, 2, repo.pendingCalls)
}

func TestReaperCleanupErrorDoesNotStopDeletes(t *testing.T) {
	repo := &fakeReaperRepo{
		staleErr:    errors.New("deadlock detected"),
		deleteBatch: []int64{5},
	}
	s := newTestReaper(t, repo)

	err := s.runCleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail_stale")
	assert.Positive(t, repo.deleteCalls, "a stale-fail error must not skip deletions")
}

func TestReaperStopsOnCancel(t *testing.T) {
	repo := &fakeReaperRepo{}
	s := newTestReaper(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a graceful shutdown")
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}
}

func TestReaperRequiresRepo(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{})
	require.Error(t, err)
}
