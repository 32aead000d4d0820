package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_IsMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError("achievement", "Metric", ErrMetricFetch, "balance", cause)

	assert.ErrorIs(t, err, ErrMetricFetch)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "achievement.Metric: balance: connection reset", err.Error())
}

func TestDomainError_WrappedWithFmt(t *testing.T) {
	base := NewDomainError("achievement", "Evaluate", ErrUnknownEvaluationType, "no strategy for \"Z\"")
	err := fmt.Errorf("rule Z: %w", base)

	assert.True(t, IsConfiguration(err))
	assert.False(t, IsRetryable(err))

	var de *DomainError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, "Evaluate", de.Op)
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", ErrNotFound)))
	assert.True(t, IsValidation(ErrInvalidDefinition))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.False(t, IsConfiguration(ErrLedgerWrite))
}
