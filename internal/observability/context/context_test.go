package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestAndActorRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, " req-1 ")
	ctx = WithActor(ctx, "42", "admin")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	id, role := ActorFromContext(ctx)
	assert.Equal(t, "42", id)
	assert.Equal(t, "admin", role)
}
