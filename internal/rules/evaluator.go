package rules

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"auditgate/internal/models"
)

// VerdictKind is the outcome of rule evaluation.
type VerdictKind int

const (
	NoMatch VerdictKind = iota
	Approve
	Reject
	RequireSeniorReview
)

func (k VerdictKind) String() string {
	switch k {
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	case RequireSeniorReview:
		return "require_senior_review"
	}
	return "no_match"
}

// Verdict carries the winning rule's outcome plus any action payload.
type Verdict struct {
	Kind     VerdictKind
	RuleID   uint64
	RuleName string
	Reason   string

	PositionLimit *decimal.Decimal
	AssignTo      string
}

// ruleActions is the decoded shape of AuditRule.Actions.
type ruleActions struct {
	Effect        string `json:"effect"`
	PositionLimit string `json:"position_limit"`
	AssignTo      string `json:"assign_to"`
}

// Evaluate walks the rule set in the order given (the store returns rules
// ordered by priority, then insertion) and returns the first match.
// Evaluation is pure: identical inputs always yield identical verdicts.
func Evaluate(ruleset []models.AuditRule, attrs Attributes) Verdict {
	for i := range ruleset {
		rule := &ruleset[i]
		if !rule.IsActive {
			continue
		}
		conds, err := decodeConditions(rule.Conditions)
		if err != nil || len(conds) == 0 {
			continue
		}
		matched := true
		for _, cond := range conds {
			if !cond.Match(attrs) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		return verdictFor(rule)
	}
	return Verdict{Kind: NoMatch}
}

func decodeConditions(raw []byte) ([]Condition, error) {
	var conds []Condition
	if err := json.Unmarshal(raw, &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

func verdictFor(rule *models.AuditRule) Verdict {
	v := Verdict{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Reason:   "matched rule " + rule.Name,
	}

	var actions ruleActions
	if len(rule.Actions) > 0 {
		_ = json.Unmarshal(rule.Actions, &actions)
	}

	switch rule.RuleType {
	case models.RuleAutoApprove:
		v.Kind = Approve
	case models.RuleAutoReject:
		v.Kind = Reject
	case models.RuleRequireSenior:
		v.Kind = RequireSeniorReview
	case models.RuleRiskThreshold:
		switch strings.ToLower(strings.TrimSpace(actions.Effect)) {
		case "approve":
			v.Kind = Approve
		case "reject":
			v.Kind = Reject
		default:
			v.Kind = RequireSeniorReview
		}
	default:
		return Verdict{Kind: NoMatch}
	}

	if actions.PositionLimit != "" {
		if d, err := decimal.NewFromString(actions.PositionLimit); err == nil {
			v.PositionLimit = &d
		}
	}
	v.AssignTo = strings.TrimSpace(actions.AssignTo)
	return v
}

// PackageAttributes builds the attribute bag for a package plus whatever
// risk and budget views exist so far. Nil views simply leave their fields
// out of the bag, which makes conditions on them skip the rule.
func PackageAttributes(pkg *models.StrategyPackage, risk *models.RiskAssessment, budget *models.BudgetApplication) Attributes {
	attrs := Attributes{}
	if pkg == nil {
		return attrs
	}
	attrs["symbol"] = String(pkg.Symbol)
	attrs["amount"] = Number(pkg.Amount)
	attrs["priority"] = NumberFromFloat(float64(pkg.Priority))
	if pkg.RiskLevel != "" {
		attrs["risk_level"] = String(pkg.RiskLevel)
	}
	mergeParameters(attrs, pkg.Parameters)
	if risk != nil {
		attrs["risk_score"] = NumberFromFloat(risk.RiskScore)
		attrs["risk_approved"] = Bool(risk.Approved)
	}
	if budget != nil {
		attrs["budget_status"] = String(budget.Status)
		attrs["approved_amount"] = Number(budget.ApprovedAmount)
		attrs["requested_amount"] = Number(budget.RequestedAmount)
	}
	return attrs
}

func mergeParameters(attrs Attributes, raw []byte) {
	if len(raw) == 0 {
		return
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return
	}
	for key, val := range params {
		if _, exists := attrs[key]; exists {
			continue
		}
		switch tv := val.(type) {
		case string:
			attrs[key] = String(tv)
		case bool:
			attrs[key] = Bool(tv)
		case json.Number:
			if d, err := decimal.NewFromString(tv.String()); err == nil {
				attrs[key] = Number(d)
			}
		}
	}
}
