package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"realsync/api/internal/estimator"
	"realsync/api/internal/models"
)

type EstimatorRepository struct {
	db DBTX
}

func NewEstimatorRepository(db DBTX) *EstimatorRepository {
	return &EstimatorRepository{db: db}
}

// Create persists run and returns it with the generated id and timestamp.
func (r *EstimatorRepository) Create(ctx context.Context, run models.EstimatorRun) (models.EstimatorRun, error) {
	inputs, err := json.Marshal(run.Result.Inputs)
	if err != nil {
		return models.EstimatorRun{}, fmt.Errorf("encode inputs: %w", err)
	}
	outputs, err := json.Marshal(run.Result)
	if err != nil {
		return models.EstimatorRun{}, fmt.Errorf("encode outputs: %w", err)
	}
	assumptions, err := json.Marshal(run.Result.Assumptions)
	if err != nil {
		return models.EstimatorRun{}, fmt.Errorf("encode assumptions: %w", err)
	}

	const query = `
		INSERT INTO estimator_runs (
			property_id, user_id, inputs, alcabala, impuesto_renta, commission, notary_fees,
			registry_fees, other_fees, total_deductions, net_profit, outputs, assumptions, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING id, created_at
	`

	res := run.Result
	row := r.db.QueryRow(ctx, query,
		run.PropertyID,
		run.UserID,
		inputs,
		res.Alcabala.StringFixed(2),
		res.ImpuestoRenta.StringFixed(2),
		res.Commission.StringFixed(2),
		res.NotaryFees.StringFixed(2),
		res.RegistryFees.StringFixed(2),
		res.OtherFees.StringFixed(2),
		res.TotalDeductions.StringFixed(2),
		res.NetProfit.StringFixed(2),
		outputs,
		assumptions,
		res.Version,
	)
	if err := row.Scan(&run.ID, &run.CreatedAt); err != nil {
		return models.EstimatorRun{}, fmt.Errorf("insert estimator run: %w", err)
	}
	return run, nil
}

// ListByUser returns the newest runs first.
func (r *EstimatorRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.EstimatorRun, error) {
	const query = `
		SELECT id, user_id, property_id, outputs, created_at
		FROM estimator_runs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list estimator runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.EstimatorRun, 0, limit)
	for rows.Next() {
		var (
			run     models.EstimatorRun
			outputs []byte
		)
		if err := rows.Scan(&run.ID, &run.UserID, &run.PropertyID, &outputs, &run.CreatedAt); err != nil {
			return nil, err
		}
		var result estimator.Result
		if err := json.Unmarshal(outputs, &result); err != nil {
			return nil, fmt.Errorf("decode estimator run %s: %w", run.ID, err)
		}
		run.Result = result
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
