package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Budget application status values.
const (
	BudgetPending         = "pending"
	BudgetApproved        = "approved"
	BudgetRejected        = "rejected"
	BudgetPartialApproved = "partial_approved"
)

// BudgetApplication is the funding decision for a package.
// Invariant: 0 <= ApprovedAmount <= RequestedAmount; status approved means
// full amount, partial_approved means strictly between zero and requested.
type BudgetApplication struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	PackageID string `gorm:"type:varchar(64);not null;uniqueIndex"`

	RequestedAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ApprovedAmount  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Status          string          `gorm:"type:varchar(20);not null;index;default:'pending'"`

	Conditions datatypes.JSON `gorm:"type:jsonb"`

	AppliedAt  time.Time  `gorm:"type:timestamptz;not null"`
	ApprovedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime"`
}

func (BudgetApplication) TableName() string {
	return "budget_applications"
}
