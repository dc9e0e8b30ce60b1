package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"auditgate/internal/client/riskscore"
	"auditgate/internal/errs"
	"auditgate/internal/models"
)

// RiskScorer is the slice of the risk-scoring client the coordinator needs.
type RiskScorer interface {
	ScorePackage(ctx context.Context, req riskscore.ScoreRequest) (*riskscore.ScoreResponse, error)
}

// RiskCoordinator requests a risk score for a package and normalizes the
// result into the package's risk view. Failures come back wrapped in
// errs.ErrDependencyUnavailable so the review engine holds the package
// instead of advancing it.
type RiskCoordinator struct {
	Scorer  RiskScorer
	Logger  *zap.Logger
	Timeout time.Duration
	Breaker *gobreaker.CircuitBreaker
}

// RequestAssessment scores the package. It returns the normalized
// assessment plus the resolved risk level; neither is persisted here. The
// review engine attaches them under the package lock.
func (c *RiskCoordinator) RequestAssessment(ctx context.Context, pkg *models.StrategyPackage) (*models.RiskAssessment, string, error) {
	if c == nil || c.Scorer == nil || pkg == nil {
		return nil, "", fmt.Errorf("risk coordinator unconfigured: %w", errs.ErrDependencyUnavailable)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := riskscore.ScoreRequest{
		PackageID:  pkg.ID,
		Symbol:     pkg.Symbol,
		Amount:     pkg.Amount.String(),
		Priority:   pkg.Priority,
		Parameters: json.RawMessage(pkg.Parameters),
	}

	var resp *riskscore.ScoreResponse
	var err error
	if c.Breaker != nil {
		var out any
		out, err = c.Breaker.Execute(func() (any, error) {
			return c.Scorer.ScorePackage(callCtx, req)
		})
		if err == nil {
			resp = out.(*riskscore.ScoreResponse)
		}
	} else {
		resp, err = c.Scorer.ScorePackage(callCtx, req)
	}
	if err != nil {
		if c.Logger != nil && !errors.Is(err, context.Canceled) {
			c.Logger.Warn("risk scoring failed", zap.String("package_id", pkg.ID), zap.Error(err))
		}
		return nil, "", fmt.Errorf("risk scoring: %v: %w", err, errs.ErrDependencyUnavailable)
	}

	assessment, err := normalizeAssessment(pkg.ID, resp)
	if err != nil {
		return nil, "", err
	}
	return assessment, ResolveRiskLevel(resp.RiskLevel, assessment.RiskScore), nil
}

func normalizeAssessment(packageID string, resp *riskscore.ScoreResponse) (*models.RiskAssessment, error) {
	score := resp.RiskScore
	// Services disagree on scale; a unit-interval score is rescaled to 0-10.
	if score >= 0 && score <= 1.0 {
		score = score * 10
	}
	if score < 0 || score > 10 {
		return nil, errs.Validation("risk_score", fmt.Sprintf("out of range: %v", resp.RiskScore))
	}
	factors, _ := json.Marshal(resp.RiskFactors)
	recs, _ := json.Marshal(resp.Recommendations)
	assessedAt := resp.AssessedAt
	if assessedAt.IsZero() {
		assessedAt = time.Now().UTC()
	}
	return &models.RiskAssessment{
		PackageID:       packageID,
		RiskScore:       score,
		RiskFactors:     datatypes.JSON(factors),
		Recommendations: datatypes.JSON(recs),
		Approved:        resp.Approved,
		AssessedAt:      assessedAt,
	}, nil
}

// ResolveRiskLevel maps a service-provided level or, failing that, the
// normalized score onto the package enum.
func ResolveRiskLevel(level string, score float64) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
		return strings.ToLower(strings.TrimSpace(level))
	}
	switch {
	case score <= 3.5:
		return models.RiskLow
	case score <= 7.0:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}
