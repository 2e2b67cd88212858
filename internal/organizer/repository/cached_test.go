package repository

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/organizer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	accounts map[snowflake.ID]domain.PayoutAccount
	calls    int
}

func (d *countingDirectory) Lookup(_ context.Context, id snowflake.ID) (domain.PayoutAccount, error) {
	d.calls++
	account, ok := d.accounts[id]
	if !ok {
		return domain.PayoutAccount{}, domain.ErrNotFound
	}
	return account, nil
}

func TestCachedDirectory(t *testing.T) {
	inner := &countingDirectory{accounts: map[snowflake.ID]domain.PayoutAccount{
		1: {OrganizerID: 1, DestinationAccountID: "acct_1"},
	}}
	dir := NewCachedDirectory(inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		account, err := dir.Lookup(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "acct_1", account.DestinationAccountID)
	}
	assert.Equal(t, 1, inner.calls)

	for i := 0; i < 2; i++ {
		_, err := dir.Lookup(ctx, 2)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, 2, inner.calls)
}
