package reddit

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Directory is the read-only account capability the verification engine
// consumes: resolve an account, list its recent comments, and list the
// moderator notes attached to it in one subreddit.
//
// Account returns ErrNotFound (wrapped or direct) when the username does not
// resolve; any other error is a transport-level fault the caller may retry.
type Directory interface {
	Account(ctx context.Context, username string) (*Account, error)
	// Comments returns up to limit of the account's most recent comments,
	// newest first, across all subreddits.
	Comments(ctx context.Context, username string, limit int) ([]Comment, error)
	// ModNotes returns every mod note for the account in the subreddit.
	ModNotes(ctx context.Context, subreddit, username string) ([]ModNote, error)
}

// CachedDirectory wraps a Directory with an in-process LRU over account
// lookups. Comment and note listings always hit the inner directory; only
// the (cheap to hold, expensive to re-fetch) account metadata is cached.
type CachedDirectory struct {
	inner    Directory
	accounts *lru.Cache[string, *Account]
}

var _ Directory = (*CachedDirectory)(nil)

func NewCachedDirectory(inner Directory, size int) (*CachedDirectory, error) {
	accounts, err := lru.New[string, *Account](size)
	if err != nil {
		return nil, err
	}
	return &CachedDirectory{inner: inner, accounts: accounts}, nil
}

func (d *CachedDirectory) Account(ctx context.Context, username string) (*Account, error) {
	if acct, ok := d.accounts.Get(username); ok {
		return acct, nil
	}
	acct, err := d.inner.Account(ctx, username)
	if err != nil {
		return nil, err
	}
	d.accounts.Add(username, acct)
	return acct, nil
}

func (d *CachedDirectory) Comments(ctx context.Context, username string, limit int) ([]Comment, error) {
	return d.inner.Comments(ctx, username, limit)
}

func (d *CachedDirectory) ModNotes(ctx context.Context, subreddit, username string) ([]ModNote, error) {
	return d.inner.ModNotes(ctx, subreddit, username)
}
