package bot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/subtools/porter/reddit"
	"github.com/subtools/porter/store"
	"github.com/subtools/porter/verify"
)

// ProcessUser runs a full verification for one account and acts on the
// verdict: a pass grants contributor status and attaches the report to the
// account's pending modmail thread; a fail posts the report to the standing
// failed-verification thread. Returns the verdict and the rendered report.
func (b *Bot) ProcessUser(ctx context.Context, username string) (bool, string, error) {
	verification := verify.New(b.directory, username, b.config.Subreddit, b.config.Thresholds, verify.Config{
		Location: b.config.Location,
		Logger:   b.logger,
	})
	passed, err := verification.Verify(ctx)
	if err != nil {
		return false, "", fmt.Errorf("verifying %s: %w", username, err)
	}
	report, err := verification.Report()
	if err != nil {
		return false, "", err
	}

	if passed {
		if _, err := b.grantContributor(ctx, username, report, true); err != nil {
			return false, "", err
		}
	} else if b.config.FailedConversationID != "" {
		if err := b.api.ModmailReply(ctx, b.config.FailedConversationID, report, false); err != nil {
			return false, "", fmt.Errorf("posting failure report: %w", err)
		}
	}
	return passed, report, nil
}

// ProcessList runs ProcessUser for each username read from r, one per line,
// for bulk contributor onboarding. Accounts already in the subreddit's
// contributor list are skipped, as are blank lines. A failure on one account
// is logged and the rest of the list still runs.
func (b *Bot) ProcessList(ctx context.Context, r io.Reader) error {
	existing, err := b.api.Contributors(ctx, b.config.Subreddit)
	if err != nil {
		return fmt.Errorf("fetching contributors: %w", err)
	}
	members := make(map[string]bool, len(existing))
	for _, name := range existing {
		members[strings.ToLower(name)] = true
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		username := StripUserPrefix(strings.TrimSpace(scanner.Text()))
		if username == "" {
			continue
		}
		if members[strings.ToLower(username)] {
			b.logger.Info("already a contributor", "username", username)
			continue
		}
		passed, _, err := b.ProcessUser(ctx, username)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			b.logger.Error("failed to process account", "username", username, "err", err)
			continue
		}
		b.logger.Info("processed account", "username", username, "passed", passed)
		members[strings.ToLower(username)] = true
	}
	return scanner.Err()
}

// grantContributor adds the account as an approved contributor and replies
// with the report on the account's pending modmail conversation. On the
// subreddit invite rate limit the grant is queued for retry (when
// queueOnRateLimit is set) and granted reports false.
func (b *Bot) grantContributor(ctx context.Context, username, report string, queueOnRateLimit bool) (bool, error) {
	err := b.api.AddContributor(ctx, b.config.Subreddit, username)
	if errors.Is(err, reddit.ErrRateLimited) {
		if !queueOnRateLimit {
			return false, nil
		}
		switch err := b.tasks.Enqueue(ctx, username, report); {
		case errors.Is(err, store.ErrDuplicateTask):
			b.logger.Warn("grant already queued", "username", username)
		case err != nil:
			return false, fmt.Errorf("queueing grant for %s: %w", username, err)
		default:
			b.logger.Info("queued grant for retry", "username", username)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("adding contributor %s: %w", username, err)
	}

	conversations, err := b.api.ModmailConversations(ctx, b.config.Subreddit, "all")
	if err != nil {
		return true, fmt.Errorf("listing modmail conversations: %w", err)
	}
	for _, conversation := range conversations {
		if conversation.NumMessages != 1 {
			continue
		}
		if !conversation.HasAuthor(username) || !conversation.HasAuthor(b.config.BotUsername) {
			continue
		}
		if err := b.api.ModmailReply(ctx, conversation.ID, report, true); err != nil {
			return true, fmt.Errorf("attaching report to conversation %s: %w", conversation.ID, err)
		}
		return true, nil
	}
	b.logger.Info("failed to locate add contributor message", "username", username)
	return true, nil
}

// drainTasks attempts queued contributor grants, at most TaskBatch per idle
// poll. A rate-limited attempt backs everything off until the top of the
// next hour, when the subreddit's invite budget resets.
func (b *Bot) drainTasks(ctx context.Context) error {
	if b.tasks == nil || time.Now().Before(b.nextTaskAttempt) {
		return nil
	}
	for i := 0; i < b.config.TaskBatch; i++ {
		task, err := b.tasks.Next(ctx)
		if err != nil {
			return fmt.Errorf("fetching queued task: %w", err)
		}
		if task == nil {
			b.logger.Info("there are no queued tasks")
			return nil
		}

		b.logger.Info("attempting queued grant", "username", task.Username)
		granted, err := b.grantContributor(ctx, task.Username, task.Report, false)
		if err != nil {
			return err
		}
		if !granted {
			b.nextTaskAttempt = nextHour(time.Now())
			b.logger.Info("next grant attempt deferred", "until", b.nextTaskAttempt)
			return nil
		}
		if err := b.tasks.Complete(ctx, task.Username); err != nil {
			return fmt.Errorf("completing task for %s: %w", task.Username, err)
		}
	}
	return nil
}

// nextHour returns the top of the hour following t.
func nextHour(t time.Time) time.Time {
	return t.Truncate(time.Hour).Add(time.Hour)
}
