package models

import (
	"time"

	"gorm.io/datatypes"
)

// Rule types.
const (
	RuleAutoApprove   = "auto_approve"
	RuleAutoReject    = "auto_reject"
	RuleRequireSenior = "require_senior"
	RuleRiskThreshold = "risk_threshold"
)

// AuditRule is a prioritized condition->action mapping. Conditions is a JSON
// array of {field, op, value} predicates evaluated as a conjunction; Actions
// is a JSON object with optional effect payload (position_limit,
// assign_to). Lower Priority evaluates first; ties break by ID (insertion
// order).
type AuditRule struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Name     string `gorm:"type:varchar(100);not null;uniqueIndex"`
	RuleType string `gorm:"type:varchar(30);not null;index"`

	Conditions datatypes.JSON `gorm:"type:jsonb;not null"`
	Actions    datatypes.JSON `gorm:"type:jsonb"`

	Priority int  `gorm:"not null;default:100;index"`
	IsActive bool `gorm:"not null;default:true;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (AuditRule) TableName() string {
	return "audit_rules"
}
