package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)
	locker.newToken = func() string { return "token-1" }
	return locker, mock
}

func TestLockerTryLock(t *testing.T) {
	locker, mock := newTestLocker(t)
	ctx := context.Background()

	mock.ExpectSetNX("payout:run", "token-1", time.Minute).SetVal(true)
	token, ok, err := locker.TryLock(ctx, "payout:run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token-1", token)

	mock.ExpectSetNX("payout:run", "token-1", time.Minute).SetVal(false)
	_, ok, err = locker.TryLock(ctx, "payout:run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerRelease(t *testing.T) {
	locker, mock := newTestLocker(t)
	sha := releaseScript.Hash()

	mock.ExpectEvalSha(sha, []string{"payout:run"}, "token-1").SetVal(int64(1))
	require.NoError(t, locker.Release(context.Background(), "payout:run", "token-1"))
	mock.ExpectEvalSha(sha, []string{"payout:run"}, "stale").SetVal(int64(0))
	require.NoError(t, locker.Release(context.Background(), "payout:run", "stale"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerValidation(t *testing.T) {
	var nilLocker *Locker
	_, _, err := nilLocker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, nilLocker.Release(context.Background(), "k", "t"))

	locker, _ := newTestLocker(t)
	_, _, err = locker.TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrLockKeyEmpty)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrLockTTLInvalid)

	assert.Nil(t, NewLocker(nil))
}
