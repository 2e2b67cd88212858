package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyIsStable(t *testing.T) {
	at := time.Date(2026, 4, 1, 10, 0, 0, 123456000, time.UTC)
	key := IdempotencyKey(snowflake.ID(77), at)
	assert.Equal(t, "refund:77:1775037600123456", key)
	assert.Equal(t, key, IdempotencyKey(snowflake.ID(77), at.In(time.FixedZone("x", 3600))))
}

func TestActionValid(t *testing.T) {
	assert.True(t, ActionApprove.Valid())
	assert.True(t, ActionReject.Valid())
	assert.False(t, Action("cancel").Valid())
}
