package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Package status values. Transitions are owned by the review engine and
// follow the directed graph documented there.
const (
	StatusPending         = "pending"
	StatusRiskAssessment  = "risk_assessment"
	StatusBudgetApproval  = "budget_approval"
	StatusAwaitingReview  = "awaiting_human_review"
	StatusExecuting       = "executing"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
	StatusCancelled       = "cancelled"
)

// Risk level values as resolved by assessment.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// StrategyPackage is a proposed trade awaiting disposition. One row per
// inbound proposal, keyed by SourceStrategyID for duplicate detection.
// Terminal rows (completed/failed/cancelled) are immutable.
type StrategyPackage struct {
	ID               string `gorm:"type:varchar(64);primaryKey"`
	SourceStrategyID string `gorm:"type:varchar(100);not null;uniqueIndex"`
	Symbol           string `gorm:"type:varchar(30);not null;index"`

	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RiskLevel string          `gorm:"type:varchar(10);index"`
	Priority  int             `gorm:"not null;default:5"`
	Status    string          `gorm:"type:varchar(30);not null;index;default:'pending'"`

	// Annotation carries operational notes such as "dependency unavailable".
	Annotation string `gorm:"type:text"`

	// Parameters passes through any extra inbound fields unchanged.
	Parameters datatypes.JSON `gorm:"type:jsonb"`

	// Attempts counts coordinator retries for the current stage.
	Attempts int `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (StrategyPackage) TableName() string {
	return "strategy_packages"
}

// Terminal reports whether the package can no longer change.
func (p *StrategyPackage) Terminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
