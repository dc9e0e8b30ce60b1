package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"auditgate/internal/repository"
)

// QuarantineHandler exposes the dead-letter queue for operators.
type QuarantineHandler struct {
	Repo repository.Repository
}

func (h *QuarantineHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/quarantine", h.list)
}

func (h *QuarantineHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListQuarantineParams{
		Limit:  limit,
		Offset: offset,
		Topic:  strQueryPtr(c, "topic"),
	}
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			Error(c, http.StatusBadRequest, "since must be RFC3339", nil)
			return
		}
		params.Since = &ts
	}
	items, err := h.Repo.ListQuarantinedMessages(c.Request.Context(), params)
	if err != nil {
		FromError(c, err)
		return
	}
	total, err := h.Repo.CountQuarantinedMessages(c.Request.Context())
	if err != nil {
		FromError(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
