package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"auditgate/internal/authz"
	"auditgate/internal/errs"
	"auditgate/internal/models"
	"auditgate/internal/repository"
	"auditgate/internal/review"
)

// DecisionHandler is the human decision surface: pending queue, package
// detail, decide, cancel.
type DecisionHandler struct {
	Repo   repository.Repository
	Engine *review.Engine
	Auth   authz.Authorizer
}

func (h *DecisionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.GET("/reviews/pending", h.pending)
	g.GET("/packages", h.listPackages)
	g.GET("/packages/:id", h.packageDetail)
	g.POST("/packages/:id/decision", h.submitDecision)
	g.POST("/packages/:id/cancel", h.cancel)
}

func (h *DecisionHandler) pending(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	status := models.StatusAwaitingReview
	params := repository.ListPackagesParams{
		Limit:   limit,
		Offset:  offset,
		Status:  &status,
		OrderBy: "priority",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListPackages(c.Request.Context(), params)
	if err != nil {
		FromError(c, err)
		return
	}
	total, err := h.Repo.CountPackages(c.Request.Context(), params)
	if err != nil {
		FromError(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *DecisionHandler) listPackages(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListPackagesParams{
		Limit:     limit,
		Offset:    offset,
		Status:    strQueryPtr(c, "status"),
		RiskLevel: strQueryPtr(c, "risk_level"),
		Symbol:    strQueryPtr(c, "symbol"),
	}
	items, err := h.Repo.ListPackages(c.Request.Context(), params)
	if err != nil {
		FromError(c, err)
		return
	}
	total, err := h.Repo.CountPackages(c.Request.Context(), params)
	if err != nil {
		FromError(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

type packageDetailResponse struct {
	Package   *models.StrategyPackage   `json:"package"`
	Risk      *models.RiskAssessment    `json:"risk,omitempty"`
	Budget    *models.BudgetApplication `json:"budget,omitempty"`
	Decisions []models.ReviewDecision   `json:"decisions"`
}

func (h *DecisionHandler) packageDetail(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := c.Param("id")
	pkg, err := h.Repo.GetPackageByID(c.Request.Context(), id)
	if err != nil {
		FromError(c, err)
		return
	}
	if pkg == nil {
		FromError(c, errs.NotFound("package", id))
		return
	}
	risk, err := h.Repo.GetActiveRiskAssessment(c.Request.Context(), id)
	if err != nil {
		FromError(c, err)
		return
	}
	budget, err := h.Repo.GetBudgetApplication(c.Request.Context(), id)
	if err != nil {
		FromError(c, err)
		return
	}
	decisions, err := h.Repo.ListReviewDecisions(c.Request.Context(), id)
	if err != nil {
		FromError(c, err)
		return
	}
	Ok(c, packageDetailResponse{
		Package:   pkg,
		Risk:      risk,
		Budget:    budget,
		Decisions: decisions,
	}, nil)
}

type submitDecisionRequest struct {
	Decision       string          `json:"decision"`
	Reason         string          `json:"reason"`
	RiskAdjustment json.RawMessage `json:"risk_adjustment,omitempty"`
}

func (h *DecisionHandler) submitDecision(c *gin.Context) {
	if h.Engine == nil || h.Repo == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	id := c.Param("id")
	var req submitDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	actor, ok := authz.ActorFromContext(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	if h.Auth != nil {
		pkg, err := h.Repo.GetPackageByID(c.Request.Context(), id)
		if err != nil {
			FromError(c, err)
			return
		}
		if pkg == nil {
			FromError(c, errs.NotFound("package", id))
			return
		}
		if !h.Auth.CanDecide(actor, pkg) {
			FromError(c, errs.ErrForbidden)
			return
		}
	}
	record, err := h.Engine.SubmitDecision(c.Request.Context(), id, actor.ID, req.Decision, req.Reason, req.RiskAdjustment)
	if err != nil {
		FromError(c, err)
		return
	}
	Ok(c, record, nil)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *DecisionHandler) cancel(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	id := c.Param("id")
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	actor, _ := authz.ActorFromContext(c)
	if err := h.Engine.Cancel(c.Request.Context(), id, actor.ID, req.Reason); err != nil {
		FromError(c, err)
		return
	}
	Ok(c, map[string]any{"id": id, "cancelled": true}, nil)
}
