package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"auditgate/internal/models"
	"auditgate/internal/repository"
)

// PipelineHandler reports aggregate pipeline health: package counts per
// status plus the quarantine backlog.
type PipelineHandler struct {
	Repo repository.Repository
}

func (h *PipelineHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/pipeline/status", h.status)
}

type pipelineStatusResponse struct {
	Statuses    map[string]int64 `json:"statuses"`
	Quarantined int64            `json:"quarantined"`
	ActiveRules int              `json:"active_rules"`
}

func (h *PipelineHandler) status(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	counts, err := h.Repo.CountPackagesByStatus(c.Request.Context())
	if err != nil {
		FromError(c, err)
		return
	}
	// Zero-fill so consumers see every stage even when empty.
	for _, s := range []string{
		models.StatusPending, models.StatusRiskAssessment, models.StatusBudgetApproval,
		models.StatusAwaitingReview, models.StatusExecuting,
		models.StatusCompleted, models.StatusFailed, models.StatusCancelled,
	} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	quarantined, err := h.Repo.CountQuarantinedMessages(c.Request.Context())
	if err != nil {
		FromError(c, err)
		return
	}
	active, err := h.Repo.ListActiveAuditRules(c.Request.Context())
	if err != nil {
		FromError(c, err)
		return
	}
	Ok(c, pipelineStatusResponse{
		Statuses:    counts,
		Quarantined: quarantined,
		ActiveRules: len(active),
	}, nil)
}
