package review

import (
	"auditgate/internal/errs"
	"auditgate/internal/models"
)

// transitions is the directed graph of legal package status moves. The
// review engine is the only writer; anything outside this graph is a bug.
var transitions = map[string][]string{
	models.StatusPending: {
		models.StatusRiskAssessment,
		models.StatusCancelled,
	},
	models.StatusRiskAssessment: {
		models.StatusBudgetApproval,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusAwaitingReview,
		models.StatusCancelled,
	},
	models.StatusBudgetApproval: {
		models.StatusExecuting,
		models.StatusFailed,
		models.StatusAwaitingReview,
		models.StatusCancelled,
	},
	models.StatusAwaitingReview: {
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusCancelled,
	},
	models.StatusExecuting: {
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusCancelled,
	},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition mutates the package status after checking the graph. Terminal
// packages are immutable and report AlreadyFinalized.
func transition(pkg *models.StrategyPackage, to string) error {
	if pkg.Terminal() {
		return errs.ErrAlreadyFinalized
	}
	if !CanTransition(pkg.Status, to) {
		return errs.InvalidState(pkg.Status + " -> " + to)
	}
	pkg.Status = to
	return nil
}
