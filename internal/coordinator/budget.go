package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"auditgate/internal/client/treasury"
	"auditgate/internal/errs"
	"auditgate/internal/models"
)

// BudgetService is the slice of the treasury client the coordinator needs.
type BudgetService interface {
	ApplyBudget(ctx context.Context, req treasury.ApplyRequest) (*treasury.ApplyResponse, error)
}

// BudgetCoordinator requests funding for a package. Transport failures come
// back wrapped in errs.ErrDependencyUnavailable; a treasury response that
// violates the budget invariants is a ValidationError and is not retried.
type BudgetCoordinator struct {
	Service BudgetService
	Logger  *zap.Logger
	Timeout time.Duration
	Breaker *gobreaker.CircuitBreaker
}

func (c *BudgetCoordinator) RequestBudget(ctx context.Context, pkg *models.StrategyPackage) (*models.BudgetApplication, error) {
	if c == nil || c.Service == nil || pkg == nil {
		return nil, fmt.Errorf("budget coordinator unconfigured: %w", errs.ErrDependencyUnavailable)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := treasury.ApplyRequest{
		PackageID:       pkg.ID,
		Symbol:          pkg.Symbol,
		RequestedAmount: pkg.Amount.String(),
		RiskLevel:       pkg.RiskLevel,
	}

	var resp *treasury.ApplyResponse
	var err error
	if c.Breaker != nil {
		var out any
		out, err = c.Breaker.Execute(func() (any, error) {
			return c.Service.ApplyBudget(callCtx, req)
		})
		if err == nil {
			resp = out.(*treasury.ApplyResponse)
		}
	} else {
		resp, err = c.Service.ApplyBudget(callCtx, req)
	}
	if err != nil {
		if c.Logger != nil && !errors.Is(err, context.Canceled) {
			c.Logger.Warn("budget application failed", zap.String("package_id", pkg.ID), zap.Error(err))
		}
		return nil, fmt.Errorf("budget application: %v: %w", err, errs.ErrDependencyUnavailable)
	}

	return NormalizeBudget(pkg.ID, pkg.Amount, resp)
}

// NormalizeBudget validates a treasury response against the budget
// invariants and builds the application record.
func NormalizeBudget(packageID string, requested decimal.Decimal, resp *treasury.ApplyResponse) (*models.BudgetApplication, error) {
	approved, err := decimal.NewFromString(strings.TrimSpace(resp.ApprovedAmount))
	if err != nil {
		return nil, errs.Validation("approved_amount", "not a decimal: "+resp.ApprovedAmount)
	}
	if approved.IsNegative() {
		return nil, errs.Validation("approved_amount", "negative")
	}
	if approved.GreaterThan(requested) {
		return nil, errs.Validation("approved_amount", "exceeds requested amount")
	}

	status := strings.ToLower(strings.TrimSpace(resp.Status))
	switch status {
	case models.BudgetApproved:
		if !approved.Equal(requested) {
			return nil, errs.Validation("status", "approved requires full amount")
		}
	case models.BudgetPartialApproved:
		if approved.IsZero() || approved.GreaterThanOrEqual(requested) {
			return nil, errs.Validation("status", "partial_approved requires 0 < approved < requested")
		}
	case models.BudgetRejected, models.BudgetPending:
	default:
		return nil, errs.Validation("status", "unknown budget status: "+resp.Status)
	}

	conds, _ := json.Marshal(resp.Conditions)
	appliedAt := resp.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now().UTC()
	}
	return &models.BudgetApplication{
		PackageID:       packageID,
		RequestedAmount: requested,
		ApprovedAmount:  approved,
		Status:          status,
		Conditions:      datatypes.JSON(conds),
		AppliedAt:       appliedAt,
		ApprovedAt:      resp.ApprovedAt,
	}, nil
}
