package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	errReason := Validation("refund_reason_required")
	wrapped := fmt.Errorf("request refund: %w", errReason)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrValidation))
	assert.False(t, errors.Is(wrapped, ErrStateConflict))
	assert.True(t, errors.Is(wrapped, errReason))
	assert.Equal(t, "refund_reason_required", CodeOf(wrapped))

	assert.Equal(t, KindStateConflict, KindOf(StateConflict("conflict")))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, "internal_error", CodeOf(errors.New("boom")))
}
