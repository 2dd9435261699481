package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"realsync/api/internal/estimator"
	"realsync/api/internal/models"
	"realsync/api/internal/security"
)

const (
	DefaultRunsLimit = 20
	MaxRunsLimit     = 100
)

type EstimatorRunStore interface {
	Create(ctx context.Context, run models.EstimatorRun) (models.EstimatorRun, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.EstimatorRun, error)
}

type UITInfo struct {
	Year     int             `json:"year"`
	ValuePEN decimal.Decimal `json:"uit_value_pen"`
	Note     string          `json:"note"`
}

type EstimatorService struct {
	runs    EstimatorRunStore
	calc    *estimator.Calculator
	uitYear int
	log     zerolog.Logger
}

func NewEstimatorService(runs EstimatorRunStore, calc *estimator.Calculator, uitYear int, log zerolog.Logger) *EstimatorService {
	return &EstimatorService{
		runs:    runs,
		calc:    calc,
		uitYear: uitYear,
		log:     log,
	}
}

// Calculate runs the estimate and stores it under the caller.
func (s *EstimatorService) Calculate(ctx context.Context, caller security.Identity, input estimator.Input) (models.EstimatorRun, error) {
	result, err := s.calc.Calculate(input)
	if err != nil {
		return models.EstimatorRun{}, err
	}

	run, err := s.runs.Create(ctx, models.EstimatorRun{
		UserID:     caller.UserID,
		PropertyID: input.PropertyID,
		Result:     result,
	})
	if err != nil {
		return models.EstimatorRun{}, err
	}

	s.log.Debug().
		Str("user_id", caller.UserID).
		Str("run_id", run.ID).
		Str("net_profit", result.NetProfit.StringFixed(2)).
		Msg("estimator run stored")
	return run, nil
}

// ListRuns returns the caller's newest runs. limit is clamped to 1..MaxRunsLimit.
func (s *EstimatorService) ListRuns(ctx context.Context, userID string, limit int) ([]models.EstimatorRun, error) {
	if limit <= 0 {
		limit = DefaultRunsLimit
	}
	if limit > MaxRunsLimit {
		limit = MaxRunsLimit
	}
	return s.runs.ListByUser(ctx, userID, limit)
}

func (s *EstimatorService) UIT() UITInfo {
	return UITInfo{
		Year:     s.uitYear,
		ValuePEN: s.calc.UIT(),
		Note:     "UIT (Unidad Impositiva Tributaria) is updated annually by SUNAT",
	}
}
