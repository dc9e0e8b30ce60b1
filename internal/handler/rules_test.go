package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditgate/internal/errs"
	"auditgate/internal/models"
	"auditgate/internal/repository"
)

type ruleRepo struct {
	repository.Repository

	insertErr error
	inserted  []*models.AuditRule
}

func (r *ruleRepo) InsertAuditRule(ctx context.Context, item *models.AuditRule) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	item.ID = uint64(len(r.inserted) + 1)
	r.inserted = append(r.inserted, item)
	return nil
}

func newRuleRouter(repo *ruleRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &RuleHandler{Repo: repo}
	h.Register(r)
	return r
}

func postRule(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRuleCreate(t *testing.T) {
	repo := &ruleRepo{}
	r := newRuleRouter(repo)

	w := postRule(t, r, `{
		"name": "reject-oversized",
		"rule_type": "auto_reject",
		"conditions": [{"field": "amount", "op": "gt", "value": 100000}],
		"priority": 10
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, repo.inserted, 1)
	assert.Equal(t, "reject-oversized", repo.inserted[0].Name)
	assert.Equal(t, 10, repo.inserted[0].Priority)
	assert.True(t, repo.inserted[0].IsActive)
}

func TestRuleCreateDuplicateNameConflicts(t *testing.T) {
	// The store reports a unique index violation as a conflict; the API must
	// surface that as 409, not a gateway error.
	repo := &ruleRepo{
		insertErr: fmt.Errorf("duplicated key not allowed: %w", errs.ErrConflict),
	}
	r := newRuleRouter(repo)

	w := postRule(t, r, `{
		"name": "reject-oversized",
		"rule_type": "auto_reject",
		"conditions": [{"field": "amount", "op": "gt", "value": 100000}]
	}`)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestRuleCreateRejectsBadConditions(t *testing.T) {
	r := newRuleRouter(&ruleRepo{})

	for name, body := range map[string]string{
		"missing name":    `{"rule_type": "auto_reject", "conditions": [{"field": "amount", "op": "gt", "value": 1}]}`,
		"unknown type":    `{"name": "x", "rule_type": "maybe", "conditions": [{"field": "amount", "op": "gt", "value": 1}]}`,
		"unknown op":      `{"name": "x", "rule_type": "auto_reject", "conditions": [{"field": "amount", "op": "between", "value": 1}]}`,
		"conditions gone": `{"name": "x", "rule_type": "auto_reject"}`,
	} {
		w := postRule(t, r, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%s: %s", name, w.Body.String())
	}
}
