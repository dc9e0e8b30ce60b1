package models

import (
	"time"

	"gorm.io/datatypes"
)

// RiskAssessment is the normalized risk view attached to a package. At most
// one active row per package; a re-assessment marks the previous row
// superseded instead of deleting it.
type RiskAssessment struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	PackageID string `gorm:"type:varchar(64);not null;index"`

	// RiskScore is normalized to 0.0-10.0.
	RiskScore       float64        `gorm:"not null"`
	RiskFactors     datatypes.JSON `gorm:"type:jsonb"`
	Recommendations datatypes.JSON `gorm:"type:jsonb"`
	Approved        bool           `gorm:"not null;default:false"`
	Superseded      bool           `gorm:"not null;default:false;index"`

	AssessedAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (RiskAssessment) TableName() string {
	return "risk_assessments"
}
