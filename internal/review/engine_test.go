package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"auditgate/internal/client/execution"
	"auditgate/internal/config"
	"auditgate/internal/errs"
	"auditgate/internal/models"
	"auditgate/internal/repository"
	"auditgate/internal/rules"
)

type stubRisk struct {
	mu    sync.Mutex
	score float64
	level string
	err   error
	calls int
}

func (s *stubRisk) RequestAssessment(ctx context.Context, pkg *models.StrategyPackage) (*models.RiskAssessment, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	return &models.RiskAssessment{
		PackageID:  pkg.ID,
		RiskScore:  s.score,
		Approved:   s.score <= 7,
		AssessedAt: time.Now().UTC(),
	}, s.level, nil
}

type stubBudget struct {
	mu     sync.Mutex
	status string
	err    error
	calls  int
}

func (s *stubBudget) RequestBudget(ctx context.Context, pkg *models.StrategyPackage) (*models.BudgetApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	approved := pkg.Amount
	if s.status == models.BudgetRejected {
		approved = decimal.Zero
	}
	return &models.BudgetApplication{
		PackageID:       pkg.ID,
		RequestedAmount: pkg.Amount,
		ApprovedAmount:  approved,
		Status:          s.status,
		AppliedAt:       time.Now().UTC(),
	}, nil
}

type stubExec struct {
	mu       sync.Mutex
	err      error
	requests []string
}

func (s *stubExec) SubmitApprovedPackage(ctx context.Context, req execution.SubmitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.requests = append(s.requests, req.PackageID)
	return nil
}

type stubPublisher struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (s *stubPublisher) PublishOutcome(ctx context.Context, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out)
	return nil
}

func (s *stubPublisher) last(t *testing.T) Outcome {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		t.Fatal("no outcome published")
	}
	return s.outcomes[len(s.outcomes)-1]
}

type testEngine struct {
	engine *Engine
	repo   *stubRepo
	risk   *stubRisk
	budget *stubBudget
	exec   *stubExec
	pub    *stubPublisher
}

func newTestEngine(t *testing.T, ruleset ...models.AuditRule) *testEngine {
	t.Helper()
	repo := newStubRepo()
	for i := range ruleset {
		if err := repo.InsertAuditRule(context.Background(), &ruleset[i]); err != nil {
			t.Fatalf("insert rule: %v", err)
		}
	}
	risk := &stubRisk{score: 2, level: models.RiskLow}
	budget := &stubBudget{status: models.BudgetApproved}
	exec := &stubExec{}
	pub := &stubPublisher{}
	engine := &Engine{
		Repo:      repo,
		Rules:     &rules.Store{Repo: repo, TTL: time.Millisecond},
		Risk:      risk,
		Budget:    budget,
		Exec:      exec,
		Publisher: pub,
		Config: config.ReviewConfig{
			MaxAttempts:     2,
			RetryBackoff:    time.Millisecond,
			RetryBackoffMax: 2 * time.Millisecond,
		},
	}
	return &testEngine{engine: engine, repo: repo, risk: risk, budget: budget, exec: exec, pub: pub}
}

func testRule(name, ruleType string, priority int, conditions, actions string) models.AuditRule {
	r := models.AuditRule{
		Name:       name,
		RuleType:   ruleType,
		Priority:   priority,
		IsActive:   true,
		Conditions: datatypes.JSON(conditions),
	}
	if actions != "" {
		r.Actions = datatypes.JSON(actions)
	}
	return r
}

func ingest(t *testing.T, te *testEngine, sourceID string) *models.StrategyPackage {
	t.Helper()
	pkg, err := te.engine.Ingest(context.Background(), Proposal{
		SourceID: sourceID,
		Symbol:   "btc-usd",
		Amount:   decimal.NewFromInt(500),
		Priority: 5,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return pkg
}

func mustGet(t *testing.T, te *testEngine, id string) *models.StrategyPackage {
	t.Helper()
	pkg, err := te.repo.GetPackageByID(context.Background(), id)
	if err != nil || pkg == nil {
		t.Fatalf("get package %s: pkg=%v err=%v", id, pkg, err)
	}
	return pkg
}

func TestEngine_AutoApproveAtRiskStage(t *testing.T) {
	te := newTestEngine(t,
		testRule("approve-low-risk", models.RuleAutoApprove, 10,
			`[{"field":"risk_score","op":"lte","value":3}]`, ""),
	)
	pkg := ingest(t, te, "s-auto-approve")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status=%s want completed", got.Status)
	}
	if got.RiskLevel != models.RiskLow {
		t.Fatalf("risk level=%s want low", got.RiskLevel)
	}
	if te.budget.calls != 0 {
		t.Fatalf("budget calls=%d want 0 (approved before budget stage)", te.budget.calls)
	}
	decisions, _ := te.repo.ListReviewDecisions(context.Background(), pkg.ID)
	if len(decisions) != 1 || decisions[0].ReviewerID != models.SystemReviewer || decisions[0].Decision != models.DecisionApprove {
		t.Fatalf("decisions=%+v want one system approve", decisions)
	}
	out := te.pub.last(t)
	if out.PackageID != pkg.ID || out.Status != models.StatusCompleted {
		t.Fatalf("outcome=%+v", out)
	}
}

func TestEngine_AutoRejectHighRiskSkipsBudget(t *testing.T) {
	te := newTestEngine(t,
		testRule("reject-high-risk", models.RuleAutoReject, 10,
			`[{"field":"risk_score","op":"gt","value":7}]`, ""),
	)
	te.risk.score = 9.2
	te.risk.level = models.RiskHigh
	pkg := ingest(t, te, "s-auto-reject")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status=%s want failed", got.Status)
	}
	if te.budget.calls != 0 {
		t.Fatalf("budget calls=%d want 0", te.budget.calls)
	}
	if te.pub.last(t).Decision != models.DecisionReject {
		t.Fatalf("outcome=%+v want reject", te.pub.last(t))
	}
}

func TestEngine_ApprovedBudgetRunsThroughExecution(t *testing.T) {
	te := newTestEngine(t,
		testRule("approve-funded", models.RuleAutoApprove, 10,
			`[{"field":"budget_status","op":"eq","value":"approved"}]`, ""),
	)
	pkg := ingest(t, te, "s-funded")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status=%s want completed", got.Status)
	}
	if te.budget.calls != 1 {
		t.Fatalf("budget calls=%d want 1", te.budget.calls)
	}
	if len(te.exec.requests) != 1 || te.exec.requests[0] != pkg.ID {
		t.Fatalf("exec requests=%v want [%s]", te.exec.requests, pkg.ID)
	}
}

func TestEngine_BudgetRejectedFailsPackage(t *testing.T) {
	te := newTestEngine(t)
	te.budget.status = models.BudgetRejected
	pkg := ingest(t, te, "s-no-funds")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status=%s want failed", got.Status)
	}
	decisions, _ := te.repo.ListReviewDecisions(context.Background(), pkg.ID)
	if len(decisions) != 1 || decisions[0].Reason != "budget application rejected" {
		t.Fatalf("decisions=%+v", decisions)
	}
	if len(te.exec.requests) != 0 {
		t.Fatal("rejected package must not reach execution")
	}
}

func TestEngine_NoRuleMatchParksForHumanThenApprove(t *testing.T) {
	te := newTestEngine(t)
	pkg := ingest(t, te, "s-needs-human")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusAwaitingReview {
		t.Fatalf("status=%s want awaiting_human_review", got.Status)
	}

	// A defer keeps the package parked and only grows the trail.
	if _, err := te.engine.SubmitDecision(context.Background(), pkg.ID, "alice", models.DecisionDefer, "need treasury context", nil); err != nil {
		t.Fatalf("defer: %v", err)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusAwaitingReview {
		t.Fatal("defer must not change status")
	}

	record, err := te.engine.SubmitDecision(context.Background(), pkg.ID, "alice", models.DecisionApprove, "manually verified", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if record.ReviewerID != "alice" {
		t.Fatalf("reviewer=%s want alice", record.ReviewerID)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusCompleted {
		t.Fatal("approved package must complete")
	}
	decisions, _ := te.repo.ListReviewDecisions(context.Background(), pkg.ID)
	if len(decisions) != 2 {
		t.Fatalf("decisions=%d want 2 (defer + approve)", len(decisions))
	}
}

func TestEngine_DuplicateIngestReportsConflict(t *testing.T) {
	te := newTestEngine(t)
	pkg := ingest(t, te, "s-dup")

	again, err := te.engine.Ingest(context.Background(), Proposal{
		SourceID: "s-dup",
		Symbol:   "BTC-USD",
		Amount:   decimal.NewFromInt(500),
	})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("err=%v want ErrConflict", err)
	}
	if again == nil || again.ID != pkg.ID {
		t.Fatalf("duplicate must return the existing package, got %+v", again)
	}
	count, _ := te.repo.CountPackages(context.Background(), repository.ListPackagesParams{})
	if count != 1 {
		t.Fatalf("packages=%d want 1", count)
	}
}

func TestEngine_RiskUnavailableParksAfterRetries(t *testing.T) {
	te := newTestEngine(t)
	te.risk.err = fmt.Errorf("dial tcp: %w", errs.ErrDependencyUnavailable)
	pkg := ingest(t, te, "s-risk-down")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusAwaitingReview {
		t.Fatalf("status=%s want awaiting_human_review", got.Status)
	}
	if got.Annotation == "" {
		t.Fatal("parked package must carry the unavailable-dependency annotation")
	}
	if te.risk.calls != 2 {
		t.Fatalf("risk calls=%d want 2 (max attempts)", te.risk.calls)
	}
}

func TestEngine_CancelStopsProcessing(t *testing.T) {
	te := newTestEngine(t)
	pkg := ingest(t, te, "s-cancel")

	if err := te.engine.Cancel(context.Background(), pkg.ID, "ops", "strategy recalled"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("status=%s want cancelled", got.Status)
	}

	// Advance is a no-op on a terminal package.
	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance after cancel: %v", err)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusCancelled {
		t.Fatal("terminal package must not move")
	}

	_, err := te.engine.SubmitDecision(context.Background(), pkg.ID, "alice", models.DecisionApprove, "", nil)
	if !errors.Is(err, errs.ErrAlreadyFinalized) {
		t.Fatalf("err=%v want ErrAlreadyFinalized", err)
	}
	if err := te.engine.Cancel(context.Background(), pkg.ID, "ops", "again"); !errors.Is(err, errs.ErrAlreadyFinalized) {
		t.Fatalf("second cancel err=%v want ErrAlreadyFinalized", err)
	}
}

func TestEngine_DecisionOnNonParkedPackageIsInvalidState(t *testing.T) {
	te := newTestEngine(t)
	pkg := ingest(t, te, "s-still-pending")

	_, err := te.engine.SubmitDecision(context.Background(), pkg.ID, "alice", models.DecisionApprove, "", nil)
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("err=%v want ErrInvalidState", err)
	}
}

func TestEngine_SeniorReviewRuleParks(t *testing.T) {
	te := newTestEngine(t,
		testRule("escalate-large", models.RuleRequireSenior, 10,
			`[{"field":"amount","op":"gte","value":"100"}]`,
			`{"assign_to":"senior-desk"}`),
	)
	pkg := ingest(t, te, "s-escalate")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusAwaitingReview {
		t.Fatalf("status=%s want awaiting_human_review", got.Status)
	}
	if te.budget.calls != 0 {
		t.Fatalf("budget calls=%d want 0 (parked at risk stage)", te.budget.calls)
	}
}

func TestEngine_RiskCoordinatorErrorHoldsThenParks(t *testing.T) {
	te := newTestEngine(t)
	te.risk.err = errors.New("unexpected scorer failure")
	pkg := ingest(t, te, "s-risk-error")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusAwaitingReview {
		t.Fatalf("status=%s want awaiting_human_review", got.Status)
	}
	if got.Annotation == "" {
		t.Fatal("parked package must carry an annotation")
	}
	if te.risk.calls != 2 {
		t.Fatalf("risk calls=%d want 2 (retries bounded by max attempts)", te.risk.calls)
	}

	// Once parked the sweep leaves the package alone.
	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance after park: %v", err)
	}
	if te.risk.calls != 2 {
		t.Fatalf("risk calls=%d after park, retries must stop", te.risk.calls)
	}
}

func TestEngine_InvalidCoordinatorResponseParksImmediately(t *testing.T) {
	te := newTestEngine(t)
	te.risk.err = errs.Validation("risk_score", "out of range: 99")
	pkg := ingest(t, te, "s-bad-score")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusAwaitingReview {
		t.Fatalf("status=%s want awaiting_human_review", got.Status)
	}
	if te.risk.calls != 1 {
		t.Fatalf("risk calls=%d want 1 (invalid responses are not retried)", te.risk.calls)
	}
	if !strings.Contains(got.Annotation, "invalid response") {
		t.Fatalf("annotation=%q want invalid-response note", got.Annotation)
	}
}

func TestEngine_BudgetCoordinatorErrorHoldsThenParks(t *testing.T) {
	te := newTestEngine(t)
	te.budget.err = errors.New("treasury exploded")
	pkg := ingest(t, te, "s-budget-error")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got := mustGet(t, te, pkg.ID)
	if got.Status != models.StatusAwaitingReview {
		t.Fatalf("status=%s want awaiting_human_review", got.Status)
	}
	if te.budget.calls != 2 {
		t.Fatalf("budget calls=%d want 2", te.budget.calls)
	}
}

// lockFreePublisher verifies the per-package lock is released before any
// outcome publish, so slow publish retries cannot stall decision traffic.
type lockFreePublisher struct {
	engine *Engine

	mu       sync.Mutex
	lockHeld bool
	outcomes int
}

func (p *lockFreePublisher) PublishOutcome(ctx context.Context, out Outcome) error {
	acquired := make(chan struct{})
	go func() {
		unlock := p.engine.locks.acquire(out.PackageID)
		unlock()
		close(acquired)
	}()
	held := false
	select {
	case <-acquired:
	case <-time.After(500 * time.Millisecond):
		held = true
	}
	p.mu.Lock()
	p.outcomes++
	if held {
		p.lockHeld = true
	}
	p.mu.Unlock()
	return nil
}

func TestEngine_PublishesWithoutHoldingPackageLock(t *testing.T) {
	te := newTestEngine(t,
		testRule("approve-funded", models.RuleAutoApprove, 10,
			`[{"field":"budget_status","op":"eq","value":"approved"}]`, ""),
	)
	pub := &lockFreePublisher{engine: te.engine}
	te.engine.Publisher = pub
	pkg := ingest(t, te, "s-lock-free")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusCompleted {
		t.Fatal("package must complete")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.outcomes == 0 {
		t.Fatal("no outcome published")
	}
	if pub.lockHeld {
		t.Fatal("outcome published while the package lock was held")
	}
}

func TestEngine_RepeatedDefersThenApprove(t *testing.T) {
	te := newTestEngine(t)
	pkg := ingest(t, te, "s-defer-loop")

	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusAwaitingReview {
		t.Fatal("package must park without matching rules")
	}

	for i, reviewer := range []string{"alice", "bob"} {
		if _, err := te.engine.SubmitDecision(context.Background(), pkg.ID, reviewer, models.DecisionDefer, "need more data", nil); err != nil {
			t.Fatalf("defer %d: %v", i+1, err)
		}
		if mustGet(t, te, pkg.ID).Status != models.StatusAwaitingReview {
			t.Fatalf("defer %d must keep the package parked", i+1)
		}
	}

	if _, err := te.engine.SubmitDecision(context.Background(), pkg.ID, "carol", models.DecisionApprove, "reviewed", nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusCompleted {
		t.Fatal("approved package must complete")
	}
	decisions, _ := te.repo.ListReviewDecisions(context.Background(), pkg.ID)
	if len(decisions) != 3 {
		t.Fatalf("decisions=%d want 3 (defer, defer, approve)", len(decisions))
	}
	if decisions[0].Decision != models.DecisionDefer || decisions[1].Decision != models.DecisionDefer || decisions[2].Decision != models.DecisionApprove {
		t.Fatalf("decision trail=%+v", decisions)
	}
}

func TestEngine_RedeliveryWhilePackageExecuting(t *testing.T) {
	te := newTestEngine(t,
		testRule("approve-funded", models.RuleAutoApprove, 10,
			`[{"field":"budget_status","op":"eq","value":"approved"}]`, ""),
	)
	te.exec.err = errors.New("intake timeout")
	pkg := ingest(t, te, "s-redeliver")

	// Exhausting the handoff retries leaves the package in executing.
	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusExecuting {
		t.Fatal("failed handoff must leave the package executing")
	}

	again, err := te.engine.Ingest(context.Background(), Proposal{
		SourceID: "s-redeliver",
		Symbol:   "BTC-USD",
		Amount:   decimal.NewFromInt(500),
	})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("err=%v want ErrConflict", err)
	}
	if again == nil || again.ID != pkg.ID {
		t.Fatalf("redelivery must return the existing package, got %+v", again)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusExecuting {
		t.Fatal("redelivery must not disturb an executing package")
	}

	// The sweep re-drives the handoff once the intake recovers.
	te.exec.mu.Lock()
	te.exec.err = nil
	te.exec.mu.Unlock()
	if err := te.engine.Advance(context.Background(), pkg.ID); err != nil {
		t.Fatalf("advance after recovery: %v", err)
	}
	if mustGet(t, te, pkg.ID).Status != models.StatusCompleted {
		t.Fatal("recovered handoff must complete the package")
	}
}
