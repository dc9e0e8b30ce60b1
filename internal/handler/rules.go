package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"auditgate/internal/errs"
	"auditgate/internal/models"
	"auditgate/internal/repository"
	"auditgate/internal/rules"
)

// RuleHandler manages the audit rule set. Any mutation invalidates the
// evaluator's cached snapshot so the next review cycle sees the change.
type RuleHandler struct {
	Repo  repository.Repository
	Rules *rules.Store
}

func (h *RuleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/rules")
	g.GET("", h.list)
	g.POST("", h.create)
	g.PUT("/:id", h.update)
	g.POST("/:id/toggle", h.toggle)
}

func (h *RuleHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListAuditRulesParams{
		Limit:    intQuery(c, "limit", 100),
		Offset:   intQuery(c, "offset", 0),
		RuleType: strQueryPtr(c, "rule_type"),
	}
	if v := c.Query("active"); v != "" {
		active := v == "true" || v == "1"
		params.Active = &active
	}
	items, err := h.Repo.ListAuditRules(c.Request.Context(), params)
	if err != nil {
		FromError(c, err)
		return
	}
	Ok(c, items, nil)
}

type ruleRequest struct {
	Name       string          `json:"name"`
	RuleType   string          `json:"rule_type"`
	Conditions json.RawMessage `json:"conditions"`
	Actions    json.RawMessage `json:"actions"`
	Priority   *int            `json:"priority"`
	IsActive   *bool           `json:"is_active"`
}

func (r *ruleRequest) validate() error {
	if r.Name == "" {
		return errs.Validation("name", "required")
	}
	switch r.RuleType {
	case models.RuleAutoApprove, models.RuleAutoReject, models.RuleRequireSenior, models.RuleRiskThreshold:
	default:
		return errs.Validation("rule_type", "unknown rule type")
	}
	if len(r.Conditions) == 0 {
		return errs.Validation("conditions", "required")
	}
	var conds []rules.Condition
	if err := json.Unmarshal(r.Conditions, &conds); err != nil {
		return errs.Validation("conditions", "must be an array of {field, op, value}")
	}
	for _, cond := range conds {
		if err := cond.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (h *RuleHandler) create(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := req.validate(); err != nil {
		FromError(c, err)
		return
	}
	rule := &models.AuditRule{
		Name:       req.Name,
		RuleType:   req.RuleType,
		Conditions: datatypes.JSON(req.Conditions),
		Actions:    datatypes.JSON(req.Actions),
		Priority:   100,
		IsActive:   true,
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := h.Repo.InsertAuditRule(c.Request.Context(), rule); err != nil {
		FromError(c, err)
		return
	}
	h.invalidate()
	Ok(c, rule, nil)
}

func (h *RuleHandler) update(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := req.validate(); err != nil {
		FromError(c, err)
		return
	}
	rule, err := h.Repo.GetAuditRuleByID(c.Request.Context(), id)
	if err != nil {
		FromError(c, err)
		return
	}
	if rule == nil {
		FromError(c, errs.NotFound("rule", c.Param("id")))
		return
	}
	rule.Name = req.Name
	rule.RuleType = req.RuleType
	rule.Conditions = datatypes.JSON(req.Conditions)
	rule.Actions = datatypes.JSON(req.Actions)
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := h.Repo.UpdateAuditRule(c.Request.Context(), rule); err != nil {
		FromError(c, err)
		return
	}
	h.invalidate()
	Ok(c, rule, nil)
}

type toggleRequest struct {
	Active bool `json:"active"`
}

func (h *RuleHandler) toggle(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Repo.SetAuditRuleActive(c.Request.Context(), id, req.Active); err != nil {
		FromError(c, err)
		return
	}
	h.invalidate()
	Ok(c, map[string]any{"id": id, "active": req.Active}, nil)
}

func (h *RuleHandler) invalidate() {
	if h.Rules != nil {
		h.Rules.Invalidate()
	}
}
