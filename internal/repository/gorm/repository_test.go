package gormrepository

import (
	"errors"
	"testing"

	"gorm.io/gorm"

	"auditgate/internal/errs"
)

func TestTranslateDuplicate(t *testing.T) {
	if got := translateDuplicate(nil); got != nil {
		t.Fatalf("nil error must pass through, got %v", got)
	}

	dup := translateDuplicate(gorm.ErrDuplicatedKey)
	if !errors.Is(dup, errs.ErrConflict) {
		t.Fatalf("duplicated key must map to ErrConflict, got %v", dup)
	}

	other := errors.New("connection reset")
	if got := translateDuplicate(other); got != other {
		t.Fatalf("unrelated error must pass through, got %v", got)
	}
}
