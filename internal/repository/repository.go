package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"auditgate/internal/models"
)

// Repository is the unified durable store consumed by the review engine,
// gateway, and API handlers.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Packages
	InsertPackage(ctx context.Context, item *models.StrategyPackage) error
	GetPackageByID(ctx context.Context, id string) (*models.StrategyPackage, error)
	GetPackageBySourceStrategyID(ctx context.Context, sourceStrategyID string) (*models.StrategyPackage, error)
	UpdatePackage(ctx context.Context, item *models.StrategyPackage) error
	ListPackages(ctx context.Context, params ListPackagesParams) ([]models.StrategyPackage, error)
	CountPackages(ctx context.Context, params ListPackagesParams) (int64, error)
	CountPackagesByStatus(ctx context.Context) (map[string]int64, error)
	ListHeldPackages(ctx context.Context, statuses []string, heldSince time.Time, limit int) ([]models.StrategyPackage, error)

	// Risk assessments
	InsertRiskAssessment(ctx context.Context, item *models.RiskAssessment) error
	GetActiveRiskAssessment(ctx context.Context, packageID string) (*models.RiskAssessment, error)
	SupersedeRiskAssessments(ctx context.Context, packageID string) error

	// Budget applications
	UpsertBudgetApplication(ctx context.Context, item *models.BudgetApplication) error
	GetBudgetApplication(ctx context.Context, packageID string) (*models.BudgetApplication, error)

	// Audit rules
	InsertAuditRule(ctx context.Context, item *models.AuditRule) error
	UpdateAuditRule(ctx context.Context, item *models.AuditRule) error
	GetAuditRuleByID(ctx context.Context, id uint64) (*models.AuditRule, error)
	SetAuditRuleActive(ctx context.Context, id uint64, active bool) error
	ListActiveAuditRules(ctx context.Context) ([]models.AuditRule, error)
	ListAuditRules(ctx context.Context, params ListAuditRulesParams) ([]models.AuditRule, error)

	// Review decisions
	InsertReviewDecision(ctx context.Context, item *models.ReviewDecision) error
	ListReviewDecisions(ctx context.Context, packageID string) ([]models.ReviewDecision, error)

	// Quarantine
	InsertQuarantinedMessage(ctx context.Context, item *models.QuarantinedMessage) error
	ListQuarantinedMessages(ctx context.Context, params ListQuarantineParams) ([]models.QuarantinedMessage, error)
	CountQuarantinedMessages(ctx context.Context) (int64, error)
	DeleteQuarantinedMessagesBefore(ctx context.Context, before time.Time) (int64, error)
}

type ListPackagesParams struct {
	Limit     int
	Offset    int
	Status    *string
	RiskLevel *string
	Symbol    *string
	OrderBy   string
	Asc       *bool
}

type ListAuditRulesParams struct {
	Limit    int
	Offset   int
	RuleType *string
	Active   *bool
}

type ListQuarantineParams struct {
	Limit  int
	Offset int
	Topic  *string
	Since  *time.Time
}
