package models

import (
	"time"

	"realsync/api/internal/estimator"
)

type EstimatorRun struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	PropertyID *string          `json:"property_id"`
	Result     estimator.Result `json:"result"`
	CreatedAt  time.Time        `json:"created_at"`
}
