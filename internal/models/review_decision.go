package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemReviewer is the sentinel reviewer id for automatic decisions.
const SystemReviewer = "system"

// Decision values.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionDefer   = "defer"
)

// ReviewDecision records a disposition for a package, automatic or human.
// Defers may repeat; approve/reject close the package and must be the last
// decision for it.
type ReviewDecision struct {
	ID         string `gorm:"type:varchar(64);primaryKey"`
	PackageID  string `gorm:"type:varchar(64);not null;index"`
	ReviewerID string `gorm:"type:varchar(100);not null;index"`

	Decision string `gorm:"type:varchar(20);not null;index"`
	Reason   string `gorm:"type:text"`

	// RiskAdjustment carries optional overrides such as a position size limit.
	RiskAdjustment datatypes.JSON `gorm:"type:jsonb"`

	DecisionTime time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt    time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (ReviewDecision) TableName() string {
	return "review_decisions"
}
