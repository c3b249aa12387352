package trace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderConstant(t *testing.T) {
	assert.Equal(t, "X-Request-ID", HeaderXRequestID)
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	id, ok := RequestIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "req-1", id)
}

func TestRequestIDFromContextMissing(t *testing.T) {
	_, ok := RequestIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = RequestIDFromContext(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}

func TestEnsureRequestIDKeepsExisting(t *testing.T) {
	ctx := WithRequestID(context.Background(), "existing")
	out, id := EnsureRequestID(ctx)
	assert.Equal(t, "existing", id)
	assert.Equal(t, ctx, out)
}

func TestEnsureRequestIDGenerates(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	stored, ok := RequestIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, stored)
}
