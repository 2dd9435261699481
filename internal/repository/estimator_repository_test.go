package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realsync/api/internal/estimator"
	"realsync/api/internal/models"
)

func sampleRun(t *testing.T) models.EstimatorRun {
	t.Helper()
	res, err := estimator.NewCalculator(estimator.DefaultUIT).Calculate(estimator.Input{
		SalePrice:    decimal.NewFromInt(500000),
		Municipality: "LIMA",
	})
	require.NoError(t, err)
	return models.EstimatorRun{UserID: testUserID, Result: res}
}

func TestEstimatorRepository_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewEstimatorRepository(mock)
	run := sampleRun(t)
	createdAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO estimator_runs`).
		WithArgs(
			(*string)(nil), testUserID, pgxmock.AnyArg(),
			"13455.00", "5000.00", "20000.00", "4000.00", "1800.00", "0.00", "44255.00", "455745.00",
			pgxmock.AnyArg(), pgxmock.AnyArg(), estimator.Version,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("run-1", createdAt))

	saved, err := repo.Create(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "run-1", saved.ID)
	assert.Equal(t, createdAt, saved.CreatedAt)
	assert.True(t, saved.Result.NetProfit.Equal(decimal.NewFromInt(455745)))
}

func TestEstimatorRepository_ListByUser(t *testing.T) {
	mock := newMockPool(t)
	repo := NewEstimatorRepository(mock)
	run := sampleRun(t)
	outputs, err := json.Marshal(run.Result)
	require.NoError(t, err)
	createdAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM estimator_runs`).
		WithArgs(testUserID, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "property_id", "outputs", "created_at"}).
			AddRow("run-1", testUserID, (*string)(nil), outputs, createdAt))

	runs, err := repo.ListByUser(context.Background(), testUserID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Nil(t, runs[0].PropertyID)
	assert.True(t, runs[0].Result.TotalDeductions.Equal(decimal.NewFromInt(44255)))
	assert.Len(t, runs[0].Result.Breakdown, 5)
}

func TestEstimatorRepository_ListByUserBadOutputs(t *testing.T) {
	mock := newMockPool(t)
	repo := NewEstimatorRepository(mock)

	mock.ExpectQuery(`FROM estimator_runs`).
		WithArgs(testUserID, 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "property_id", "outputs", "created_at"}).
			AddRow("run-1", testUserID, (*string)(nil), []byte(`not json`), time.Now()))

	_, err := repo.ListByUser(context.Background(), testUserID, 5)
	assert.ErrorContains(t, err, "decode estimator run run-1")
}
