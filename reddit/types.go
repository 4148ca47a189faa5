package reddit

import (
	"errors"
	"math"
	"time"
)

// ErrNotFound indicates the requested account (or other subject) does not
// exist. Account lookups are expected to fail this way for deleted or
// never-registered usernames; callers should branch on it with errors.Is.
var ErrNotFound = errors.New("reddit: not found")

// ErrRateLimited indicates the API rejected a write because of a rate limit
// (eg, the per-subreddit contributor invite limit). The request may succeed
// if retried later.
var ErrRateLimited = errors.New("reddit: rate limited")

// Account is the subset of a reddit account's metadata needed for
// verification decisions.
type Account struct {
	Name        string  `json:"name"`
	CreatedUTC  float64 `json:"created_utc"`
	IsSuspended bool    `json:"is_suspended"`
}

// Created returns the account creation time.
func (a *Account) Created() time.Time {
	return epochTime(a.CreatedUTC)
}

// Comment is a single comment authored by an account, in any subreddit.
type Comment struct {
	ID         string  `json:"id"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	CreatedUTC float64 `json:"created_utc"`
	Score      int     `json:"score"`
	Subreddit  string  `json:"subreddit"`
}

// Created returns the comment creation time.
func (c *Comment) Created() time.Time {
	return epochTime(c.CreatedUTC)
}

// ModNote is a moderator-authored annotation on an account within one
// subreddit. The type tag set is open-ended; BAN, MUTE, APPROVAL, and
// REMOVAL are common but new tags appear without notice.
type ModNote struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	Subreddit string `json:"subreddit"`
	CreatedAt int64  `json:"created_at"`
}

// Message is a private message or comment reply in the bot's inbox.
type Message struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Author     string  `json:"author"`
	Subject    string  `json:"subject"`
	Body       string  `json:"body"`
	CreatedUTC float64 `json:"created_utc"`
	WasComment bool    `json:"was_comment"`
}

// ModmailConversation is a modmail thread in a subreddit's mod inbox.
type ModmailConversation struct {
	ID          string
	NumMessages int
	Authors     []string
}

// HasAuthor reports whether name participated in the conversation.
func (c *ModmailConversation) HasAuthor(name string) bool {
	for _, author := range c.Authors {
		if author == name {
			return true
		}
	}
	return false
}

// Reddit timestamps are fractional epoch seconds.
func epochTime(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*1e9))
}
