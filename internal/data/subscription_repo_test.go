package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/analyzer/internal/domain/model"
	"github.com/stockpulse/analyzer/internal/testutil"
)

func TestSubscriptionRepo_CreateAndDuplicate(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewSubscriptionRepo(db)
	ctx := context.Background()

	sub, err := repo.Create(ctx, &model.CreateSubscriptionRequest{UserID: "u1", Symbol: "aapl"})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", sub.Symbol)
	assert.True(t, sub.Active)

	_, err = repo.Create(ctx, &model.CreateSubscriptionRequest{UserID: "u1", Symbol: "AAPL"})
	assert.ErrorIs(t, err, ErrSubscriptionExists)
}

func TestSubscriptionRepo_CreateRejectsInvalidSymbol(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewSubscriptionRepo(db)

	_, err := repo.Create(context.Background(), &model.CreateSubscriptionRequest{UserID: "u1", Symbol: "not a symbol!"})
	require.Error(t, err)
	assert.True(t, model.IsPermanentSymbol(err))
}

func TestSubscriptionRepo_ActiveSymbolsDeduplicatedAndOrdered(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewSubscriptionRepo(db)
	ctx := context.Background()

	for _, pair := range [][2]string{
		{"u1", "MSFT"}, {"u1", "AAPL"}, {"u2", "AAPL"}, {"u2", "GOOG"},
	} {
		_, err := repo.Create(ctx, &model.CreateSubscriptionRequest{UserID: pair[0], Symbol: pair[1]})
		require.NoError(t, err)
	}

	symbols, err := repo.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, symbols)

	count, err := repo.CountDistinctSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSubscriptionRepo_SubscribersForAndDeactivate(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewSubscriptionRepo(db)
	ctx := context.Background()

	for _, user := range []string{"u2", "u1"} {
		_, err := repo.Create(ctx, &model.CreateSubscriptionRequest{UserID: user, Symbol: "TSLA"})
		require.NoError(t, err)
	}

	users, err := repo.SubscribersFor(ctx, "tsla")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	deactivated, err := repo.Deactivate(ctx, "u1", "TSLA")
	require.NoError(t, err)
	assert.True(t, deactivated)

	deactivated, err = repo.Deactivate(ctx, "u1", "TSLA")
	require.NoError(t, err)
	assert.False(t, deactivated)

	users, err = repo.SubscribersFor(ctx, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, users)

	count, err := repo.CountByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubscriptionRepo_ResubscribeReactivates(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewSubscriptionRepo(db)
	ctx := context.Background()

	first, err := repo.Create(ctx, &model.CreateSubscriptionRequest{UserID: "u1", Symbol: "AAPL"})
	require.NoError(t, err)

	deactivated, err := repo.Deactivate(ctx, "u1", "AAPL")
	require.NoError(t, err)
	require.True(t, deactivated)

	subs, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, subs)

	// Subscribing again reactivates the same row instead of inserting.
	second, err := repo.Create(ctx, &model.CreateSubscriptionRequest{UserID: "u1", Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Active)

	subs, err = repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
}
