package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"auditgate/internal/client/execution"
	"auditgate/internal/config"
	"auditgate/internal/errs"
	"auditgate/internal/models"
	"auditgate/internal/repository"
	"auditgate/internal/rules"
)

// Proposal is a validated inbound strategy proposal. The gateway builds one
// after schema validation; everything else about the raw message rides in
// Parameters untouched.
type Proposal struct {
	SourceID   string
	Symbol     string
	Amount     decimal.Decimal
	RiskLevel  string
	Priority   int
	Parameters datatypes.JSON
}

// Outcome is the terminal disposition published on the decision topics.
type Outcome struct {
	PackageID      string          `json:"package_id"`
	Status         string          `json:"status"`
	Decision       string          `json:"decision,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	RiskAdjustment json.RawMessage `json:"risk_adjustment,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// RiskRequester is satisfied by coordinator.RiskCoordinator.
type RiskRequester interface {
	RequestAssessment(ctx context.Context, pkg *models.StrategyPackage) (*models.RiskAssessment, string, error)
}

// BudgetRequester is satisfied by coordinator.BudgetCoordinator.
type BudgetRequester interface {
	RequestBudget(ctx context.Context, pkg *models.StrategyPackage) (*models.BudgetApplication, error)
}

// ExecutionIntake is satisfied by the execution client.
type ExecutionIntake interface {
	SubmitApprovedPackage(ctx context.Context, req execution.SubmitRequest) error
}

// OutcomePublisher is satisfied by the gateway publisher.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, out Outcome) error
}

// Engine owns the StrategyPackage lifecycle. All status transitions happen
// here under a per-package lock; the lock is never held across coordinator
// calls, so the engine re-loads and re-validates after every slow call.
type Engine struct {
	Repo      repository.Repository
	Rules     *rules.Store
	Risk      RiskRequester
	Budget    BudgetRequester
	Exec      ExecutionIntake
	Publisher OutcomePublisher
	Logger    *zap.Logger
	Config    config.ReviewConfig

	locks    *packageLocks
	initOnce sync.Once
}

func (e *Engine) init() {
	e.initOnce.Do(func() {
		if e.locks == nil {
			e.locks = newPackageLocks()
		}
	})
}

func (e *Engine) maxAttempts() int {
	if e.Config.MaxAttempts > 0 {
		return e.Config.MaxAttempts
	}
	return 5
}

func (e *Engine) backoff(attempt int) time.Duration {
	base := e.Config.RetryBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := e.Config.RetryBackoffMax
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Ingest creates a package for a validated proposal, or detects a
// duplicate. Redelivery of a proposal whose package already exists is a
// benign no-op reported as errs.ErrConflict alongside the existing package.
func (e *Engine) Ingest(ctx context.Context, p Proposal) (*models.StrategyPackage, error) {
	e.init()
	if strings.TrimSpace(p.SourceID) == "" {
		return nil, errs.Validation("id", "missing")
	}
	if !p.Amount.IsPositive() {
		return nil, errs.Validation("amount", "must be positive")
	}

	unlock := e.locks.acquire("src:" + p.SourceID)
	defer unlock()

	existing, err := e.Repo.GetPackageBySourceStrategyID(ctx, p.SourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, fmt.Errorf("package %s for source %s: %w", existing.ID, p.SourceID, errs.ErrConflict)
	}

	priority := p.Priority
	if priority < 1 || priority > 10 {
		priority = 5
	}
	now := time.Now().UTC()
	pkg := &models.StrategyPackage{
		ID:               uuid.NewString(),
		SourceStrategyID: p.SourceID,
		Symbol:           strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Amount:           p.Amount,
		RiskLevel:        strings.ToLower(strings.TrimSpace(p.RiskLevel)),
		Priority:         priority,
		Status:           models.StatusPending,
		Parameters:       p.Parameters,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertPackage(ctx, pkg); err != nil {
		return nil, err
	}
	if e.Logger != nil {
		e.Logger.Info("package created",
			zap.String("package_id", pkg.ID),
			zap.String("source_strategy_id", pkg.SourceStrategyID),
			zap.String("symbol", pkg.Symbol),
		)
	}
	return pkg, nil
}

// Advance drives a package through its pipeline stages until it parks,
// finishes, or has to wait for a retry window.
func (e *Engine) Advance(ctx context.Context, id string) error {
	e.init()
	for {
		again, err := e.step(ctx, id)
		if err != nil || !again {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// step performs one stage action and reports whether Advance should loop.
func (e *Engine) step(ctx context.Context, id string) (bool, error) {
	unlock := e.locks.acquire(id)
	pkg, err := e.Repo.GetPackageByID(ctx, id)
	if err != nil {
		unlock()
		return false, err
	}
	if pkg == nil {
		unlock()
		return false, errs.NotFound("package", id)
	}
	if pkg.Terminal() || pkg.Status == models.StatusAwaitingReview {
		unlock()
		return false, nil
	}

	switch pkg.Status {
	case models.StatusPending:
		if err := transition(pkg, models.StatusRiskAssessment); err != nil {
			unlock()
			return false, err
		}
		err := e.Repo.UpdatePackage(ctx, pkg)
		unlock()
		return err == nil, err

	case models.StatusRiskAssessment:
		return e.stepRisk(ctx, pkg, unlock)

	case models.StatusBudgetApproval:
		return e.stepBudget(ctx, pkg, unlock)

	case models.StatusExecuting:
		return e.stepExecuting(ctx, pkg, unlock)
	}

	unlock()
	return false, errs.InvalidState(pkg.Status)
}

func (e *Engine) stepRisk(ctx context.Context, pkg *models.StrategyPackage, unlock func()) (bool, error) {
	assessment, err := e.Repo.GetActiveRiskAssessment(ctx, pkg.ID)
	if err != nil {
		unlock()
		return false, err
	}
	if assessment != nil {
		return e.evaluateRiskStage(ctx, pkg, assessment, unlock)
	}

	snapshot := *pkg
	unlock()

	// Slow call without the package lock.
	assessment, level, err := e.Risk.RequestAssessment(ctx, &snapshot)
	if err != nil {
		return e.coordinatorFailure(ctx, pkg.ID, "risk scoring", err)
	}

	// Re-acquire and re-validate: the package may have been cancelled while
	// the scoring call was in flight.
	unlock = e.locks.acquire(pkg.ID)
	pkg, err = e.Repo.GetPackageByID(ctx, pkg.ID)
	if err != nil || pkg == nil {
		unlock()
		return false, err
	}
	if pkg.Terminal() || pkg.Status != models.StatusRiskAssessment {
		unlock()
		return false, nil
	}
	if err := e.Repo.SupersedeRiskAssessments(ctx, pkg.ID); err != nil {
		unlock()
		return false, err
	}
	if err := e.Repo.InsertRiskAssessment(ctx, assessment); err != nil {
		unlock()
		return false, err
	}
	pkg.RiskLevel = level
	pkg.Attempts = 0
	if err := e.Repo.UpdatePackage(ctx, pkg); err != nil {
		unlock()
		return false, err
	}
	return e.evaluateRiskStage(ctx, pkg, assessment, unlock)
}

// evaluateRiskStage runs the rule set with risk data only. Budget has not
// been requested yet, so rules referencing budget fields are skipped.
func (e *Engine) evaluateRiskStage(ctx context.Context, pkg *models.StrategyPackage, assessment *models.RiskAssessment, unlock func()) (bool, error) {
	ruleset, err := e.Rules.Active(ctx)
	if err != nil {
		unlock()
		return false, err
	}
	verdict := rules.Evaluate(ruleset, rules.PackageAttributes(pkg, assessment, nil))

	switch verdict.Kind {
	case rules.Approve:
		return false, e.finalizeLocked(ctx, pkg, models.DecisionApprove, models.SystemReviewer, verdict.Reason, adjustmentJSON(verdict), unlock)
	case rules.Reject:
		return false, e.finalizeLocked(ctx, pkg, models.DecisionReject, models.SystemReviewer, verdict.Reason, adjustmentJSON(verdict), unlock)
	case rules.RequireSeniorReview:
		return false, e.parkLocked(ctx, pkg, verdict.Reason, unlock)
	default:
		// No rule fired on risk data alone; continue gathering budget data.
		if err := transition(pkg, models.StatusBudgetApproval); err != nil {
			unlock()
			return false, err
		}
		err := e.Repo.UpdatePackage(ctx, pkg)
		unlock()
		return err == nil, err
	}
}

func (e *Engine) stepBudget(ctx context.Context, pkg *models.StrategyPackage, unlock func()) (bool, error) {
	budget, err := e.Repo.GetBudgetApplication(ctx, pkg.ID)
	if err != nil {
		unlock()
		return false, err
	}

	if budget == nil || budget.Status == models.BudgetPending {
		snapshot := *pkg
		unlock()

		budget, err = e.Budget.RequestBudget(ctx, &snapshot)
		if err != nil {
			return e.coordinatorFailure(ctx, pkg.ID, "budget service", err)
		}

		unlock = e.locks.acquire(pkg.ID)
		pkg, err = e.Repo.GetPackageByID(ctx, pkg.ID)
		if err != nil || pkg == nil {
			unlock()
			return false, err
		}
		if pkg.Terminal() || pkg.Status != models.StatusBudgetApproval {
			unlock()
			return false, nil
		}
		if err := e.Repo.UpsertBudgetApplication(ctx, budget); err != nil {
			unlock()
			return false, err
		}
		if budget.Status == models.BudgetPending {
			// Keep the attempt counter: a treasury that stays pending
			// eventually parks the package like any other unavailable
			// dependency.
			unlock()
			return e.holdOrPark(ctx, pkg.ID, "budget decision pending")
		}
		pkg.Attempts = 0
		if err := e.Repo.UpdatePackage(ctx, pkg); err != nil {
			unlock()
			return false, err
		}
	}

	if budget.Status == models.BudgetRejected {
		return false, e.finalizeLocked(ctx, pkg, models.DecisionReject, models.SystemReviewer, "budget application rejected", nil, unlock)
	}

	// Final evaluation with both risk and budget views.
	assessment, err := e.Repo.GetActiveRiskAssessment(ctx, pkg.ID)
	if err != nil {
		unlock()
		return false, err
	}
	ruleset, err := e.Rules.Active(ctx)
	if err != nil {
		unlock()
		return false, err
	}
	verdict := rules.Evaluate(ruleset, rules.PackageAttributes(pkg, assessment, budget))

	switch verdict.Kind {
	case rules.Approve:
		if err := e.recordDecision(ctx, pkg.ID, models.DecisionApprove, models.SystemReviewer, verdict.Reason, adjustmentJSON(verdict)); err != nil {
			unlock()
			return false, err
		}
		if err := transition(pkg, models.StatusExecuting); err != nil {
			unlock()
			return false, err
		}
		err := e.Repo.UpdatePackage(ctx, pkg)
		unlock()
		return err == nil, err
	case rules.Reject:
		return false, e.finalizeLocked(ctx, pkg, models.DecisionReject, models.SystemReviewer, verdict.Reason, adjustmentJSON(verdict), unlock)
	default:
		// RequireSeniorReview or NoMatch: default policy routes to a human.
		reason := verdict.Reason
		if reason == "" {
			reason = "no audit rule matched"
		}
		return false, e.parkLocked(ctx, pkg, reason, unlock)
	}
}

func (e *Engine) stepExecuting(ctx context.Context, pkg *models.StrategyPackage, unlock func()) (bool, error) {
	budget, err := e.Repo.GetBudgetApplication(ctx, pkg.ID)
	if err != nil {
		unlock()
		return false, err
	}
	decisions, err := e.Repo.ListReviewDecisions(ctx, pkg.ID)
	if err != nil {
		unlock()
		return false, err
	}
	req := execution.SubmitRequest{
		PackageID:        pkg.ID,
		SourceStrategyID: pkg.SourceStrategyID,
		Symbol:           pkg.Symbol,
		Amount:           pkg.Amount.String(),
		RiskLevel:        pkg.RiskLevel,
		Parameters:       json.RawMessage(pkg.Parameters),
	}
	if budget != nil {
		req.ApprovedAmount = budget.ApprovedAmount.String()
	}
	if limit := latestPositionLimit(decisions); limit != "" {
		req.PositionLimit = limit
	}
	unlock()

	if err := e.Exec.SubmitApprovedPackage(ctx, req); err != nil {
		if e.Logger != nil {
			e.Logger.Error("execution handoff failed",
				zap.String("package_id", pkg.ID),
				zap.Error(err),
			)
		}
		// At-least-once: the package stays in executing and the retry sweep
		// re-drives it. The intake de-duplicates by package id.
		return e.holdExecuting(ctx, pkg.ID)
	}

	unlock = e.locks.acquire(pkg.ID)
	pkg, err = e.Repo.GetPackageByID(ctx, pkg.ID)
	if err != nil || pkg == nil {
		unlock()
		return false, err
	}
	if pkg.Terminal() || pkg.Status != models.StatusExecuting {
		unlock()
		return false, nil
	}
	if err := transition(pkg, models.StatusCompleted); err != nil {
		unlock()
		return false, err
	}
	pkg.Attempts = 0
	if err := e.Repo.UpdatePackage(ctx, pkg); err != nil {
		unlock()
		return false, err
	}
	out := Outcome{
		PackageID: pkg.ID,
		Status:    pkg.Status,
		Decision:  models.DecisionApprove,
		Reason:    "handed off to execution",
		Timestamp: time.Now().UTC(),
	}
	// Publish retries can take seconds; never hold the package lock for them.
	unlock()
	e.publish(ctx, out)
	return false, nil
}

// coordinatorFailure keeps every coordinator error inside the retry/park
// discipline. Cancellation propagates; a validation failure parks
// immediately, since retrying cannot fix a malformed collaborator response;
// everything else, transport or otherwise, holds with backoff until the
// attempt budget runs out.
func (e *Engine) coordinatorFailure(ctx context.Context, id, stage string, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errs.IsValidation(err) {
		return false, e.parkByID(ctx, id, stage+" returned an invalid response: "+err.Error())
	}
	return e.holdOrPark(ctx, id, stage+" unavailable")
}

// parkByID loads the package and parks it unless it already finished.
func (e *Engine) parkByID(ctx context.Context, id, reason string) error {
	unlock := e.locks.acquire(id)
	pkg, err := e.Repo.GetPackageByID(ctx, id)
	if err != nil || pkg == nil {
		unlock()
		return err
	}
	if pkg.Terminal() {
		unlock()
		return nil
	}
	return e.parkLocked(ctx, pkg, reason, unlock)
}

// holdOrPark handles a coordinator timeout/error: bump the attempt counter,
// wait out the backoff, or, once attempts are exhausted, park the package
// for human review instead of leaving it stuck.
func (e *Engine) holdOrPark(ctx context.Context, id string, note string) (bool, error) {
	unlock := e.locks.acquire(id)
	pkg, err := e.Repo.GetPackageByID(ctx, id)
	if err != nil || pkg == nil {
		unlock()
		return false, err
	}
	if pkg.Terminal() {
		unlock()
		return false, nil
	}
	pkg.Attempts++
	if pkg.Attempts >= e.maxAttempts() {
		pkg.Annotation = "dependency unavailable: " + note
		if e.Logger != nil {
			e.Logger.Error("dependency unavailable after retries, routing to human review",
				zap.String("package_id", pkg.ID),
				zap.Int("attempts", pkg.Attempts),
				zap.String("note", note),
			)
		}
		return false, e.parkLocked(ctx, pkg, pkg.Annotation, unlock)
	}
	attempt := pkg.Attempts
	err = e.Repo.UpdatePackage(ctx, pkg)
	unlock()
	if err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(e.backoff(attempt)):
	}
	return true, nil
}

// holdExecuting is holdOrPark for the execution handoff, which never parks:
// the approval already happened, so the handoff just keeps retrying.
func (e *Engine) holdExecuting(ctx context.Context, id string) (bool, error) {
	unlock := e.locks.acquire(id)
	pkg, err := e.Repo.GetPackageByID(ctx, id)
	if err != nil || pkg == nil || pkg.Terminal() {
		unlock()
		return false, err
	}
	pkg.Attempts++
	attempt := pkg.Attempts
	exhausted := attempt >= e.maxAttempts()
	err = e.Repo.UpdatePackage(ctx, pkg)
	unlock()
	if err != nil {
		return false, err
	}
	if exhausted {
		// Surfaced as an operational alert; the sweep retries later.
		return false, nil
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(e.backoff(attempt)):
	}
	return true, nil
}

// parkLocked moves the package to awaiting_human_review. Caller holds the
// package lock; parkLocked releases it.
func (e *Engine) parkLocked(ctx context.Context, pkg *models.StrategyPackage, reason string, unlock func()) error {
	defer unlock()
	if err := transition(pkg, models.StatusAwaitingReview); err != nil {
		return err
	}
	if pkg.Annotation == "" {
		pkg.Annotation = reason
	}
	if err := e.Repo.UpdatePackage(ctx, pkg); err != nil {
		return err
	}
	if e.Logger != nil {
		e.Logger.Info("package parked for human review",
			zap.String("package_id", pkg.ID),
			zap.String("reason", reason),
		)
	}
	return nil
}

// finalizeLocked applies a terminal approve/reject decision. Caller holds
// the package lock; finalizeLocked releases it before publishing.
func (e *Engine) finalizeLocked(ctx context.Context, pkg *models.StrategyPackage, decision, reviewerID, reason string, adjustment json.RawMessage, unlock func()) error {
	target := models.StatusCompleted
	if decision == models.DecisionReject {
		target = models.StatusFailed
	}
	if err := transition(pkg, target); err != nil {
		unlock()
		return err
	}
	if err := e.recordDecision(ctx, pkg.ID, decision, reviewerID, reason, adjustment); err != nil {
		unlock()
		return err
	}
	if err := e.Repo.UpdatePackage(ctx, pkg); err != nil {
		unlock()
		return err
	}
	out := Outcome{
		PackageID:      pkg.ID,
		Status:         pkg.Status,
		Decision:       decision,
		Reason:         reason,
		RiskAdjustment: adjustment,
		Timestamp:      time.Now().UTC(),
	}
	unlock()

	if e.Logger != nil {
		e.Logger.Info("package finalized",
			zap.String("package_id", out.PackageID),
			zap.String("status", out.Status),
			zap.String("decision", out.Decision),
			zap.String("reviewer", reviewerID),
		)
	}
	e.publish(ctx, out)
	return nil
}

func (e *Engine) recordDecision(ctx context.Context, packageID, decision, reviewerID, reason string, adjustment json.RawMessage) error {
	return e.Repo.InsertReviewDecision(ctx, &models.ReviewDecision{
		ID:             uuid.NewString(),
		PackageID:      packageID,
		ReviewerID:     reviewerID,
		Decision:       decision,
		Reason:         reason,
		RiskAdjustment: datatypes.JSON(adjustment),
		DecisionTime:   time.Now().UTC(),
	})
}

func (e *Engine) publish(ctx context.Context, out Outcome) {
	if e.Publisher == nil {
		return
	}
	if err := e.Publisher.PublishOutcome(ctx, out); err != nil && e.Logger != nil {
		e.Logger.Error("outcome publish failed",
			zap.String("package_id", out.PackageID),
			zap.Error(err),
		)
	}
}

// SubmitDecision applies a human decision to a package awaiting review.
func (e *Engine) SubmitDecision(ctx context.Context, packageID, reviewerID, decision, reason string, riskAdjustment json.RawMessage) (*models.ReviewDecision, error) {
	e.init()
	decision = strings.ToLower(strings.TrimSpace(decision))
	switch decision {
	case models.DecisionApprove, models.DecisionReject, models.DecisionDefer:
	default:
		return nil, errs.Validation("decision", "must be approve, reject or defer")
	}
	if strings.TrimSpace(reviewerID) == "" {
		return nil, errs.Validation("reviewer_id", "missing")
	}

	unlock := e.locks.acquire(packageID)
	pkg, err := e.Repo.GetPackageByID(ctx, packageID)
	if err != nil {
		unlock()
		return nil, err
	}
	if pkg == nil {
		unlock()
		return nil, errs.NotFound("package", packageID)
	}
	if pkg.Terminal() {
		unlock()
		return nil, fmt.Errorf("package %s is %s: %w", pkg.ID, pkg.Status, errs.ErrAlreadyFinalized)
	}
	if pkg.Status != models.StatusAwaitingReview {
		unlock()
		return nil, errs.InvalidState(pkg.Status)
	}

	record := &models.ReviewDecision{
		ID:             uuid.NewString(),
		PackageID:      pkg.ID,
		ReviewerID:     reviewerID,
		Decision:       decision,
		Reason:         reason,
		RiskAdjustment: datatypes.JSON(riskAdjustment),
		DecisionTime:   time.Now().UTC(),
	}

	if decision == models.DecisionDefer {
		if err := e.Repo.InsertReviewDecision(ctx, record); err != nil {
			unlock()
			return nil, err
		}
		// Deferred packages stay parked; only the audit trail grows.
		err := e.Repo.UpdatePackage(ctx, pkg)
		unlock()
		return record, err
	}

	target := models.StatusCompleted
	if decision == models.DecisionReject {
		target = models.StatusFailed
	}
	if err := transition(pkg, target); err != nil {
		unlock()
		return nil, err
	}
	if err := e.Repo.InsertReviewDecision(ctx, record); err != nil {
		unlock()
		return nil, err
	}
	if err := e.Repo.UpdatePackage(ctx, pkg); err != nil {
		unlock()
		return nil, err
	}
	out := Outcome{
		PackageID:      pkg.ID,
		Status:         pkg.Status,
		Decision:       decision,
		Reason:         reason,
		RiskAdjustment: riskAdjustment,
		Timestamp:      record.DecisionTime,
	}
	unlock()

	if e.Logger != nil {
		e.Logger.Info("human decision applied",
			zap.String("package_id", out.PackageID),
			zap.String("decision", decision),
			zap.String("reviewer", reviewerID),
		)
	}
	e.publish(ctx, out)
	return record, nil
}

// Cancel moves any non-terminal package to cancelled. A coordinator result
// arriving later is discarded by the terminal re-check after lock
// re-acquisition.
func (e *Engine) Cancel(ctx context.Context, packageID, actor, reason string) error {
	e.init()
	unlock := e.locks.acquire(packageID)
	pkg, err := e.Repo.GetPackageByID(ctx, packageID)
	if err != nil {
		unlock()
		return err
	}
	if pkg == nil {
		unlock()
		return errs.NotFound("package", packageID)
	}
	if pkg.Terminal() {
		unlock()
		return fmt.Errorf("package %s is %s: %w", pkg.ID, pkg.Status, errs.ErrAlreadyFinalized)
	}
	if err := transition(pkg, models.StatusCancelled); err != nil {
		unlock()
		return err
	}
	if reason != "" {
		pkg.Annotation = reason
	}
	if err := e.Repo.UpdatePackage(ctx, pkg); err != nil {
		unlock()
		return err
	}
	out := Outcome{
		PackageID: pkg.ID,
		Status:    pkg.Status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	unlock()

	if e.Logger != nil {
		e.Logger.Info("package cancelled",
			zap.String("package_id", out.PackageID),
			zap.String("actor", actor),
			zap.String("reason", reason),
		)
	}
	e.publish(ctx, out)
	return nil
}

// Sweep re-drives packages stuck in an in-flight stage longer than holdAge.
// It backs the cron retry job and the at-least-once execution handoff.
func (e *Engine) Sweep(ctx context.Context, holdAge time.Duration, limit int) error {
	e.init()
	if holdAge <= 0 {
		holdAge = time.Minute
	}
	statuses := []string{
		models.StatusPending,
		models.StatusRiskAssessment,
		models.StatusBudgetApproval,
		models.StatusExecuting,
	}
	items, err := e.Repo.ListHeldPackages(ctx, statuses, time.Now().UTC().Add(-holdAge), limit)
	if err != nil {
		return err
	}
	for i := range items {
		if err := e.Advance(ctx, items[i].ID); err != nil && e.Logger != nil && !errors.Is(err, context.Canceled) {
			e.Logger.Warn("sweep advance failed",
				zap.String("package_id", items[i].ID),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func adjustmentJSON(v rules.Verdict) json.RawMessage {
	if v.PositionLimit == nil && v.AssignTo == "" {
		return nil
	}
	payload := map[string]string{}
	if v.PositionLimit != nil {
		payload["position_limit"] = v.PositionLimit.String()
	}
	if v.AssignTo != "" {
		payload["assign_to"] = v.AssignTo
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func latestPositionLimit(decisions []models.ReviewDecision) string {
	for i := len(decisions) - 1; i >= 0; i-- {
		if len(decisions[i].RiskAdjustment) == 0 {
			continue
		}
		var payload struct {
			PositionLimit string `json:"position_limit"`
		}
		if err := json.Unmarshal(decisions[i].RiskAdjustment, &payload); err != nil {
			continue
		}
		if payload.PositionLimit != "" {
			return payload.PositionLimit
		}
	}
	return ""
}
