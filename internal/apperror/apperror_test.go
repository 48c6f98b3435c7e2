package apperror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeLooksUpKnownStatus(t *testing.T) {
	err := Code("TASK_NOT_FOUND", "no such task")
	assert.Equal(t, http.StatusNotFound, err.HTTP)
	assert.Equal(t, "TASK_NOT_FOUND", err.Code)
	assert.Equal(t, "TASK_NOT_FOUND: no such task", err.Error())
}

func TestCodeDefaultsUnknownToInternalServerError(t *testing.T) {
	err := Code("SOMETHING_NEW", "whatever")
	assert.Equal(t, http.StatusInternalServerError, err.HTTP)
}

func TestInternalNeverLeaksUnderlyingError(t *testing.T) {
	err := Internal(errors.New("pq: duplicate key value violates unique constraint \"accounts_pkey\""))
	assert.Equal(t, "INTERNAL", err.Code)
	assert.NotContains(t, err.Message, "pq:")
	assert.NotContains(t, err.Message, "accounts_pkey")
}

func TestWithDetailsChains(t *testing.T) {
	err := Code("MISSING_FIELD", "field required").WithDetails(map[string]any{"field": "reward"})
	assert.Equal(t, "reward", err.Details["field"])
}

func TestAsExtractsAppError(t *testing.T) {
	err := Code("FORBIDDEN", "nope")
	assert.Same(t, err, As(err))
	assert.Nil(t, As(errors.New("plain error")))
	assert.Nil(t, As(nil))
}
