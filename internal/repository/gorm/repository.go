package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"auditgate/internal/errs"
	"auditgate/internal/models"
	"auditgate/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Packages ---------------------------------------------------------------

func (s *Store) InsertPackage(ctx context.Context, item *models.StrategyPackage) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translateDuplicate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetPackageByID(ctx context.Context, id string) (*models.StrategyPackage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.StrategyPackage
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPackageBySourceStrategyID(ctx context.Context, sourceStrategyID string) (*models.StrategyPackage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.StrategyPackage
	err := s.db.WithContext(ctx).Where("source_strategy_id = ?", sourceStrategyID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdatePackage(ctx context.Context, item *models.StrategyPackage) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) ListPackages(ctx context.Context, params repository.ListPackagesParams) ([]models.StrategyPackage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.packageQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.StrategyPackage
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPackages(ctx context.Context, params repository.ListPackagesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.packageQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) packageQuery(ctx context.Context, params repository.ListPackagesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.StrategyPackage{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.RiskLevel != nil && strings.TrimSpace(*params.RiskLevel) != "" {
		query = query.Where("risk_level = ?", strings.TrimSpace(*params.RiskLevel))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	return query
}

func (s *Store) CountPackagesByStatus(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.StrategyPackage{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (s *Store) ListHeldPackages(ctx context.Context, statuses []string, heldSince time.Time, limit int) ([]models.StrategyPackage, error) {
	if s == nil || s.db == nil || len(statuses) == 0 {
		return nil, nil
	}
	limit = normalizeLimit(limit, 100)
	var items []models.StrategyPackage
	err := s.db.WithContext(ctx).
		Model(&models.StrategyPackage{}).
		Where("status IN ?", statuses).
		Where("updated_at < ?", heldSince).
		Order("updated_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Risk assessments -------------------------------------------------------

func (s *Store) InsertRiskAssessment(ctx context.Context, item *models.RiskAssessment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetActiveRiskAssessment(ctx context.Context, packageID string) (*models.RiskAssessment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.RiskAssessment
	err := s.db.WithContext(ctx).
		Where("package_id = ?", packageID).
		Where("superseded = ?", false).
		Order("created_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SupersedeRiskAssessments(ctx context.Context, packageID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.RiskAssessment{}).
		Where("package_id = ?", packageID).
		Where("superseded = ?", false).
		Update("superseded", true).Error
}

// --- Budget applications ----------------------------------------------------

func (s *Store) UpsertBudgetApplication(ctx context.Context, item *models.BudgetApplication) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "package_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"requested_amount",
			"approved_amount",
			"status",
			"conditions",
			"applied_at",
			"approved_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetBudgetApplication(ctx context.Context, packageID string) (*models.BudgetApplication, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.BudgetApplication
	err := s.db.WithContext(ctx).Where("package_id = ?", packageID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- Audit rules ------------------------------------------------------------

func (s *Store) InsertAuditRule(ctx context.Context, item *models.AuditRule) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translateDuplicate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) UpdateAuditRule(ctx context.Context, item *models.AuditRule) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetAuditRuleByID(ctx context.Context, id uint64) (*models.AuditRule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AuditRule
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SetAuditRuleActive(ctx context.Context, id uint64, active bool) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.AuditRule{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) ListActiveAuditRules(ctx context.Context) ([]models.AuditRule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AuditRule
	err := s.db.WithContext(ctx).
		Model(&models.AuditRule{}).
		Where("is_active = ?", true).
		Order("priority asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListAuditRules(ctx context.Context, params repository.ListAuditRulesParams) ([]models.AuditRule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AuditRule{})
	if params.RuleType != nil && strings.TrimSpace(*params.RuleType) != "" {
		query = query.Where("rule_type = ?", strings.TrimSpace(*params.RuleType))
	}
	if params.Active != nil {
		query = query.Where("is_active = ?", *params.Active)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.AuditRule
	if err := query.Order("priority asc, id asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Review decisions -------------------------------------------------------

func (s *Store) InsertReviewDecision(ctx context.Context, item *models.ReviewDecision) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListReviewDecisions(ctx context.Context, packageID string) ([]models.ReviewDecision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ReviewDecision
	err := s.db.WithContext(ctx).
		Model(&models.ReviewDecision{}).
		Where("package_id = ?", packageID).
		Order("decision_time asc, created_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Quarantine -------------------------------------------------------------

func (s *Store) InsertQuarantinedMessage(ctx context.Context, item *models.QuarantinedMessage) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListQuarantinedMessages(ctx context.Context, params repository.ListQuarantineParams) ([]models.QuarantinedMessage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.QuarantinedMessage{})
	if params.Topic != nil && strings.TrimSpace(*params.Topic) != "" {
		query = query.Where("topic = ?", strings.TrimSpace(*params.Topic))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("received_at >= ?", *params.Since)
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.QuarantinedMessage
	if err := query.Order("received_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountQuarantinedMessages(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.QuarantinedMessage{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) DeleteQuarantinedMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("received_at < ?", before).
		Delete(&models.QuarantinedMessage{})
	return res.RowsAffected, res.Error
}

// --- helpers ----------------------------------------------------------------

// translateDuplicate maps a unique-constraint violation onto the conflict
// sentinel so the API layer answers 409 instead of a generic upstream error.
func translateDuplicate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%v: %w", err, errs.ErrConflict)
	}
	return err
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
