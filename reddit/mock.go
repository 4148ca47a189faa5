package reddit

import (
	"context"
	"strings"
)

// MockDirectory is a fully in-memory Directory implementation, for testing.
type MockDirectory struct {
	Accounts map[string]*Account
	Comment  map[string][]Comment
	Notes    map[string][]ModNote
}

var _ Directory = (*MockDirectory)(nil)

func NewMockDirectory() *MockDirectory {
	return &MockDirectory{
		Accounts: make(map[string]*Account),
		Comment:  make(map[string][]Comment),
		Notes:    make(map[string][]ModNote),
	}
}

// Insert registers an account, overwriting any existing entry.
func (d *MockDirectory) Insert(acct Account) {
	d.Accounts[strings.ToLower(acct.Name)] = &acct
}

// InsertComments appends to the account's comment history. Comments should
// be provided newest first, matching the live API ordering.
func (d *MockDirectory) InsertComments(username string, comments ...Comment) {
	key := strings.ToLower(username)
	d.Comment[key] = append(d.Comment[key], comments...)
}

// InsertNotes appends mod notes for the account in the subreddit.
func (d *MockDirectory) InsertNotes(subreddit, username string, notes ...ModNote) {
	key := strings.ToLower(subreddit) + "/" + strings.ToLower(username)
	d.Notes[key] = append(d.Notes[key], notes...)
}

func (d *MockDirectory) Account(ctx context.Context, username string) (*Account, error) {
	acct, ok := d.Accounts[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return acct, nil
}

func (d *MockDirectory) Comments(ctx context.Context, username string, limit int) ([]Comment, error) {
	comments := d.Comment[strings.ToLower(username)]
	if limit > 0 && len(comments) > limit {
		comments = comments[:limit]
	}
	return comments, nil
}

func (d *MockDirectory) ModNotes(ctx context.Context, subreddit, username string) ([]ModNote, error) {
	return d.Notes[strings.ToLower(subreddit)+"/"+strings.ToLower(username)], nil
}
