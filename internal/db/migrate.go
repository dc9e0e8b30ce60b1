package db

import (
	"auditgate/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil {
		return nil
	}
	return db.Gorm.AutoMigrate(
		&models.StrategyPackage{},
		&models.RiskAssessment{},
		&models.BudgetApplication{},
		&models.AuditRule{},
		&models.ReviewDecision{},
		&models.QuarantinedMessage{},
	)
}
