package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr
}

func TestGenerateAndVerify(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	code, err := store.Generate(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, code, 6)

	require.NoError(t, store.Verify(ctx, "alice@example.com", code))

	// Consumed on success; a second attempt must fail.
	assert.ErrorIs(t, store.Verify(ctx, "alice@example.com", code), ErrNotFound)
}

func TestVerifyMismatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	code, err := store.Generate(ctx, "alice@example.com")
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	assert.ErrorIs(t, store.Verify(ctx, "alice@example.com", wrong), ErrMismatch)

	// A mismatch must not consume the code.
	assert.NoError(t, store.Verify(ctx, "alice@example.com", code))
}

func TestVerifyExpired(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	code, err := store.Generate(ctx, "alice@example.com")
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)

	assert.ErrorIs(t, store.Verify(ctx, "alice@example.com", code), ErrNotFound)
}

func TestVerifyUnknownEmail(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Verify(context.Background(), "nobody@example.com", "123456")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateReplacesPreviousCode(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Generate(ctx, "alice@example.com")
	require.NoError(t, err)
	second, err := store.Generate(ctx, "alice@example.com")
	require.NoError(t, err)

	if first != second {
		assert.ErrorIs(t, store.Verify(ctx, "alice@example.com", first), ErrMismatch)
	}
	assert.NoError(t, store.Verify(ctx, "alice@example.com", second))
}
