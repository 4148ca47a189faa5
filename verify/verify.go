// Package verify decides whether a reddit account qualifies for contributor
// status in a subreddit, based on the account's standing, its mod-note
// history in the subreddit, and its comment history across reddit.
//
// A Verification is a single-use record: construct it, call Verify once,
// then read the outcome with Report. All eligibility thresholds are injected
// at construction so evaluation is deterministic.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/subtools/porter/reddit"
)

// maximum comments fetched per account; backing listing API limit, not
// exhaustive history
const maxCommentFetch = 1000

var (
	// ErrNotEvaluated is returned by Report when Verify has not completed.
	ErrNotEvaluated = errors.New("verify: Verify has not been called yet")
	// ErrAlreadyEvaluated is returned by Verify when called more than once
	// on the same Verification.
	ErrAlreadyEvaluated = errors.New("verify: Verify has already been called")
)

// note types which gate the verdict; any other tag is tallied for the
// report but never disqualifies on its own
const (
	noteTypeBan  = "BAN"
	noteTypeMute = "MUTE"
)

type verdict int

const (
	verdictUnevaluated verdict = iota
	verdictFailed
	verdictPassed
)

// Thresholds are the reference timestamps eligibility is judged against.
type Thresholds struct {
	// Created is the newest acceptable account creation time (minimum-age
	// policy, typically "now minus N days"). Accounts created strictly
	// after it fail.
	Created time.Time
	// History is the cutoff after which an account's oldest in-subreddit
	// comment makes the karma-average rule apply.
	History time.Time
	// PositiveKarma is the newest acceptable time for the account's oldest
	// in-subreddit comment.
	PositiveKarma time.Time
}

// Config holds optional Verification settings.
type Config struct {
	// Location renders report timestamps; defaults to UTC.
	Location *time.Location
	Logger   *slog.Logger
}

// Verification analyzes and reports on one account's activity history.
// Single use: Verify may be called exactly once, and Report only after it.
type Verification struct {
	directory  reddit.Directory
	username   string
	subreddit  string
	thresholds Thresholds
	location   *time.Location
	logger     *slog.Logger

	invoked bool
	verdict verdict
	failure string

	account       *reddit.Account
	foundComments int
	comments      []reddit.Comment
	subreddits    *tally
	noteTypes     map[string]int
	karma         int
	karmaAverage  float64
}

// New creates a Verification for one account in one subreddit. The directory
// supplies account metadata, comments, and mod notes; nothing is fetched
// until Verify runs.
func New(directory reddit.Directory, username, subreddit string, thresholds Thresholds, config Config) *Verification {
	location := config.Location
	if location == nil {
		location = time.UTC
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verification{
		directory:  directory,
		username:   username,
		subreddit:  subreddit,
		thresholds: thresholds,
		location:   location,
		logger:     logger.With("username", username, "subreddit", subreddit),
		subreddits: newTally(),
		noteTypes:  make(map[string]int),
	}
}

// Verify runs the eligibility pipeline: account status, then mod notes,
// then comment history. Each stage may disqualify and stop evaluation.
// Returns the verdict; a non-nil error is a transport fault, in which case
// no verdict was reached.
func (v *Verification) Verify(ctx context.Context) (bool, error) {
	if v.invoked {
		return false, ErrAlreadyEvaluated
	}
	v.invoked = true
	verificationsProcessed.Inc()

	ok, err := v.checkAccount(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		ok, err = v.checkNotes(ctx)
		if err != nil {
			return false, err
		}
	}
	if ok {
		ok, err = v.checkComments(ctx)
		if err != nil {
			return false, err
		}
	}

	if ok {
		v.verdict = verdictPassed
		verificationsPassed.Inc()
	} else {
		v.verdict = verdictFailed
	}
	return ok, nil
}

// fail records the first disqualification reason; later writers lose.
func (v *Verification) fail(stage, reason string) bool {
	if v.failure == "" {
		v.failure = reason
		verificationsFailed.WithLabelValues(stage).Inc()
	}
	return false
}

func (v *Verification) checkAccount(ctx context.Context) (bool, error) {
	account, err := v.directory.Account(ctx, v.username)
	if errors.Is(err, reddit.ErrNotFound) {
		return v.fail("account", "is not found. No history information available."), nil
	} else if err != nil {
		return false, fmt.Errorf("resolving account: %w", err)
	}
	v.account = account

	if account.IsSuspended {
		return v.fail("account", "is suspended. No history information available."), nil
	}

	created := account.Created()
	if created.After(v.thresholds.Created) {
		return v.fail("account", fmt.Sprintf("was created too recently (%s). Skipped history collection.", v.formatTime(created))), nil
	}
	return true, nil
}

func (v *Verification) checkNotes(ctx context.Context) (bool, error) {
	notes, err := v.directory.ModNotes(ctx, v.subreddit, v.username)
	if err != nil {
		return false, fmt.Errorf("fetching mod notes: %w", err)
	}
	for _, note := range notes {
		v.noteTypes[note.Type]++
	}

	// BAN is checked before MUTE; when both are present the ban count is
	// what the report shows
	if bans := v.noteTypes[noteTypeBan]; bans > 0 {
		return v.fail("notes", fmt.Sprintf("has %d ban(s). Skipped history collection.", bans)), nil
	}
	if mutes := v.noteTypes[noteTypeMute]; mutes > 0 {
		return v.fail("notes", fmt.Sprintf("has %d mute(s). Skipped history collection.", mutes)), nil
	}
	return true, nil
}

func (v *Verification) checkComments(ctx context.Context) (bool, error) {
	v.logger.Info("fetching comments")
	found, err := v.directory.Comments(ctx, v.username, maxCommentFetch)
	if err != nil {
		return false, fmt.Errorf("fetching comments: %w", err)
	}
	for _, comment := range found {
		v.foundComments++
		v.subreddits.increment(comment.Subreddit)
		if !strings.EqualFold(comment.Subreddit, v.subreddit) {
			continue
		}
		v.comments = append(v.comments, comment)
	}
	sort.SliceStable(v.comments, func(i, j int) bool {
		return v.comments[i].CreatedUTC < v.comments[j].CreatedUTC
	})

	if len(v.comments) == 0 {
		return v.fail("history", fmt.Sprintf("has no r/%s history.", v.subreddit)), nil
	}

	oldest := v.comments[0].Created()
	if oldest.After(v.thresholds.PositiveKarma) {
		return v.fail("history", fmt.Sprintf("oldest r/%s comment is too recent (%s)", v.subreddit, v.formatTime(oldest))), nil
	}

	for _, comment := range v.comments {
		v.karma += comment.Score
	}
	v.karmaAverage = float64(v.karma) / float64(len(v.comments))

	if oldest.After(v.thresholds.History) && v.karmaAverage < 1 {
		return v.fail("history", "too low of karma average"), nil
	}
	return true, nil
}

const timeLayout = "2006-01-02 15:04:05-07:00"

func (v *Verification) formatTime(t time.Time) string {
	return t.In(v.location).Format(timeLayout)
}

// tally counts occurrences per key while remembering discovery order, so
// equal-count entries list in the order first seen rather than map order.
type tally struct {
	counts map[string]int
	order  []string
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) increment(key string) {
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key]++
}

func (t *tally) len() int {
	return len(t.counts)
}

type keyCount struct {
	key   string
	count int
}

// top returns up to n entries by descending count; ties keep discovery
// order. n <= 0 returns all entries.
func (t *tally) top(n int) []keyCount {
	entries := make([]keyCount, 0, len(t.order))
	for _, key := range t.order {
		entries = append(entries, keyCount{key: key, count: t.counts[key]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].count > entries[j].count
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
