package client

import (
	"sync"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
)

// DefaultCostCeiling bounds the cumulative estimated cost of
// auto-approved calls per session, in abstract cost units.
const DefaultCostCeiling = 100.0

// riskCost is a coarse per-call estimate by risk level. Real pricing is
// not modelled; the ceiling exists so an unattended session cannot
// auto-approve unbounded work.
var riskCost = map[models.RiskLevel]float64{
	models.RiskMinimal: 0.1,
	models.RiskLow:     0.5,
	models.RiskMedium:  2.0,
	models.RiskHigh:    5.0,
}

// CostEstimator accumulates the estimated cost of auto-approved calls.
type CostEstimator struct {
	mu      sync.Mutex
	spent   float64
	ceiling float64
}

// NewCostEstimator creates an estimator (ceiling 0 means the default).
func NewCostEstimator(ceiling float64) *CostEstimator {
	if ceiling <= 0 {
		ceiling = DefaultCostCeiling
	}
	return &CostEstimator{ceiling: ceiling}
}

// Estimate returns the cost of one call at the given risk level.
func (e *CostEstimator) Estimate(risk models.RiskLevel) float64 {
	if cost, ok := riskCost[risk]; ok {
		return cost
	}
	return riskCost[models.RiskHigh]
}

// Allow reports whether an auto-approved call at the given risk level
// fits under the ceiling, and charges it when it does.
func (e *CostEstimator) Allow(risk models.RiskLevel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cost := e.Estimate(risk)
	if e.spent+cost > e.ceiling {
		return false
	}
	e.spent += cost
	return true
}

// Spent returns the cumulative charged estimate.
func (e *CostEstimator) Spent() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spent
}

// Reset zeroes the cumulative estimate.
func (e *CostEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spent = 0
}
