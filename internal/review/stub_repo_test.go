package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"auditgate/internal/models"
	"auditgate/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// It implements the full interface but engine tests only use a subset.
type stubRepo struct {
	mu          sync.Mutex
	packages    map[string]models.StrategyPackage
	assessments []models.RiskAssessment
	budgets     map[string]models.BudgetApplication
	rules       []models.AuditRule
	decisions   []models.ReviewDecision
	quarantined []models.QuarantinedMessage
	nextID      uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		packages: map[string]models.StrategyPackage{},
		budgets:  map[string]models.BudgetApplication{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) InsertPackage(ctx context.Context, item *models.StrategyPackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[item.ID] = *item
	return nil
}

func (s *stubRepo) GetPackageByID(ctx context.Context, id string) (*models.StrategyPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pkg, ok := s.packages[id]; ok {
		cp := pkg
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) GetPackageBySourceStrategyID(ctx context.Context, sourceStrategyID string) (*models.StrategyPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pkg := range s.packages {
		if pkg.SourceStrategyID == sourceStrategyID {
			cp := pkg
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) UpdatePackage(ctx context.Context, item *models.StrategyPackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.UpdatedAt = time.Now().UTC()
	s.packages[item.ID] = *item
	return nil
}

func (s *stubRepo) ListPackages(ctx context.Context, params repository.ListPackagesParams) ([]models.StrategyPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StrategyPackage
	for _, pkg := range s.packages {
		if params.Status != nil && pkg.Status != *params.Status {
			continue
		}
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) CountPackages(ctx context.Context, params repository.ListPackagesParams) (int64, error) {
	items, _ := s.ListPackages(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) CountPackagesByStatus(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	for _, pkg := range s.packages {
		out[pkg.Status]++
	}
	return out, nil
}

func (s *stubRepo) ListHeldPackages(ctx context.Context, statuses []string, heldSince time.Time, limit int) ([]models.StrategyPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StrategyPackage
	for _, pkg := range s.packages {
		for _, status := range statuses {
			if pkg.Status == status && pkg.UpdatedAt.Before(heldSince) {
				out = append(out, pkg)
			}
		}
	}
	return out, nil
}

func (s *stubRepo) InsertRiskAssessment(ctx context.Context, item *models.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = s.nextID
	s.assessments = append(s.assessments, *item)
	return nil
}

func (s *stubRepo) GetActiveRiskAssessment(ctx context.Context, packageID string) (*models.RiskAssessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.assessments) - 1; i >= 0; i-- {
		if s.assessments[i].PackageID == packageID && !s.assessments[i].Superseded {
			cp := s.assessments[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) SupersedeRiskAssessments(ctx context.Context, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assessments {
		if s.assessments[i].PackageID == packageID {
			s.assessments[i].Superseded = true
		}
	}
	return nil
}

func (s *stubRepo) UpsertBudgetApplication(ctx context.Context, item *models.BudgetApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[item.PackageID] = *item
	return nil
}

func (s *stubRepo) GetBudgetApplication(ctx context.Context, packageID string) (*models.BudgetApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if budget, ok := s.budgets[packageID]; ok {
		cp := budget
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) InsertAuditRule(ctx context.Context, item *models.AuditRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = s.nextID
	s.rules = append(s.rules, *item)
	return nil
}

func (s *stubRepo) UpdateAuditRule(ctx context.Context, item *models.AuditRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == item.ID {
			s.rules[i] = *item
		}
	}
	return nil
}

func (s *stubRepo) GetAuditRuleByID(ctx context.Context, id uint64) (*models.AuditRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			cp := s.rules[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) SetAuditRuleActive(ctx context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].IsActive = active
		}
	}
	return nil
}

func (s *stubRepo) ListActiveAuditRules(ctx context.Context) ([]models.AuditRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditRule
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *stubRepo) ListAuditRules(ctx context.Context, params repository.ListAuditRulesParams) ([]models.AuditRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditRule(nil), s.rules...), nil
}

func (s *stubRepo) InsertReviewDecision(ctx context.Context, item *models.ReviewDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, *item)
	return nil
}

func (s *stubRepo) ListReviewDecisions(ctx context.Context, packageID string) ([]models.ReviewDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReviewDecision
	for _, d := range s.decisions {
		if d.PackageID == packageID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubRepo) InsertQuarantinedMessage(ctx context.Context, item *models.QuarantinedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantined = append(s.quarantined, *item)
	return nil
}

func (s *stubRepo) ListQuarantinedMessages(ctx context.Context, params repository.ListQuarantineParams) ([]models.QuarantinedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QuarantinedMessage(nil), s.quarantined...), nil
}

func (s *stubRepo) CountQuarantinedMessages(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.quarantined)), nil
}

func (s *stubRepo) DeleteQuarantinedMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.quarantined[:0]
	var removed int64
	for _, m := range s.quarantined {
		if m.ReceivedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.quarantined = kept
	return removed, nil
}
