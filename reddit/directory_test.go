package reddit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	*MockDirectory
	accountLookups int
}

func (d *countingDirectory) Account(ctx context.Context, username string) (*Account, error) {
	d.accountLookups++
	return d.MockDirectory.Account(ctx, username)
}

func TestCachedDirectoryAccount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	inner := &countingDirectory{MockDirectory: NewMockDirectory()}
	inner.Insert(Account{Name: "bob"})
	cached, err := NewCachedDirectory(inner, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		acct, err := cached.Account(ctx, "bob")
		require.NoError(t, err)
		assert.Equal("bob", acct.Name)
	}
	assert.Equal(1, inner.accountLookups)
}

func TestCachedDirectoryNotFoundNotCached(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	inner := &countingDirectory{MockDirectory: NewMockDirectory()}
	cached, err := NewCachedDirectory(inner, 10)
	require.NoError(t, err)

	_, err = cached.Account(ctx, "ghost")
	assert.ErrorIs(err, ErrNotFound)
	_, err = cached.Account(ctx, "ghost")
	assert.ErrorIs(err, ErrNotFound)
	assert.Equal(2, inner.accountLookups)
}
