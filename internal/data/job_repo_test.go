package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
	"github.com/stockpulse/analyzer/internal/testutil"
)

func TestJobRepo_StartEnforcesMutualExclusion(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, JobRepoConfig{})
	ctx := context.Background()
	date := testutil.TestTime()

	job, err := repo.Start(ctx, core.StartJobParams{TradingDate: date, StocksScheduled: 5})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, job.Status)
	assert.Equal(t, 5, job.StocksScheduled)

	_, err = repo.Start(ctx, core.StartJobParams{TradingDate: date, StocksScheduled: 5})
	assert.ErrorIs(t, err, model.ErrJobAlreadyRunning)

	// A different date is unaffected.
	_, err = repo.Start(ctx, core.StartJobParams{
		TradingDate:     date.AddDate(0, 0, 1),
		StocksScheduled: 3,
	})
	require.NoError(t, err)
}

func TestJobRepo_ForceSupersedesUnfinishedJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, JobRepoConfig{})
	ctx := context.Background()
	date := testutil.TestTime()

	stale, err := repo.Start(ctx, core.StartJobParams{TradingDate: date, StocksScheduled: 5})
	require.NoError(t, err)

	fresh, err := repo.Start(ctx, core.StartJobParams{TradingDate: date, StocksScheduled: 5, Force: true})
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, fresh.ID)

	old, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSuperseded, old.Status)
	assert.NotNil(t, old.CompletedAt)
}

func TestJobRepo_FinalizeWritesCountersOnce(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, JobRepoConfig{})
	ctx := context.Background()

	job, err := repo.Start(ctx, core.StartJobParams{TradingDate: testutil.TestTime(), StocksScheduled: 4})
	require.NoError(t, err)

	finalized, err := repo.Finalize(ctx, model.FinalizeJobParams{
		ID:                job.ID,
		Status:            model.JobStatusCompleted,
		StocksProcessed:   4,
		SuccessCount:      3,
		FailureCount:      1,
		InsightsDelivered: 6,
		Errors:            []string{"NOPE: invalid_symbol"},
	})
	require.NoError(t, err)
	assert.True(t, finalized)

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.StocksProcessed)
	assert.Equal(t, 3, stored.SuccessCount)
	assert.Equal(t, 1, stored.FailureCount)
	assert.Equal(t, 6, stored.InsightsDelivered)
	assert.Equal(t, []string{"NOPE: invalid_symbol"}, stored.Errors)
	assert.NotNil(t, stored.CompletedAt)

	// Second finalize is a no-op; the first terminal write wins.
	finalized, err = repo.Finalize(ctx, model.FinalizeJobParams{
		ID:     job.ID,
		Status: model.JobStatusFailed,
	})
	require.NoError(t, err)
	assert.False(t, finalized)

	stored, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
}

func TestJobRepo_FinalizeRejectsNonTerminalStatus(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, JobRepoConfig{})

	_, err := repo.Finalize(context.Background(), model.FinalizeJobParams{
		ID:     "00000000-0000-0000-0000-000000000000",
		Status: model.JobStatusRunning,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal status")
}

func TestJobRepo_GetByDateReturnsMostRecent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	tp := NewFixedTimeProvider(testutil.TestTime())
	repo := NewJobRepo(db, JobRepoConfig{TimeProvider: tp})
	ctx := context.Background()
	date := testutil.TestTime()

	first, err := repo.Start(ctx, core.StartJobParams{TradingDate: date, StocksScheduled: 2})
	require.NoError(t, err)
	_, err = repo.Finalize(ctx, model.FinalizeJobParams{ID: first.ID, Status: model.JobStatusFailed})
	require.NoError(t, err)

	tp.AddTime(time.Hour)
	second, err := repo.Start(ctx, core.StartJobParams{TradingDate: date, StocksScheduled: 2})
	require.NoError(t, err)

	latest, err := repo.GetByDate(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = repo.GetByDate(ctx, date.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobRepo_ReaperFailsStaleRunningJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	tp := NewFixedTimeProvider(testutil.TestTime())
	repo := NewJobRepo(db, JobRepoConfig{TimeProvider: tp})
	ctx := context.Background()

	job, err := repo.Start(ctx, core.StartJobParams{TradingDate: testutil.TestTime(), StocksScheduled: 1})
	require.NoError(t, err)

	// Too young to reap.
	n, err := repo.FailStaleRunningJobs(ctx, 3*time.Hour, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	tp.AddTime(4 * time.Hour)
	n, err = repo.FailStaleRunningJobs(ctx, 3*time.Hour, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Errors, "job timed out in running status")
}

func TestJobRepo_ReaperDeletesOldTerminalJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	tp := NewFixedTimeProvider(testutil.TestTime())
	repo := NewJobRepo(db, JobRepoConfig{TimeProvider: tp})
	ctx := context.Background()

	job, err := repo.Start(ctx, core.StartJobParams{TradingDate: testutil.TestTime(), StocksScheduled: 1})
	require.NoError(t, err)
	_, err = repo.Finalize(ctx, model.FinalizeJobParams{ID: job.ID, Status: model.JobStatusCompleted})
	require.NoError(t, err)

	tp.AddTime(91 * 24 * time.Hour)
	n, err := repo.DeleteOldJobs(ctx, 90*24*time.Hour, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobRepo_ReaperValidatesArgs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewJobRepo(db, JobRepoConfig{})
	ctx := context.Background()

	_, err := repo.FailStaleRunningJobs(ctx, 0, 100)
	assert.Error(t, err)
	_, err = repo.DeleteOldJobs(ctx, time.Hour, 0)
	assert.Error(t, err)
}
