// Package bot runs the moderation-facing orchestration around the
// verification engine: polling the bot account's inbox for moderator
// commands, posting reports to modmail, granting contributor status, and
// draining the persisted retry queue.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/subtools/porter/reddit"
	"github.com/subtools/porter/store"
	"github.com/subtools/porter/verify"
)

// how long to pause after an unexpected failure, to slow things down if the
// upstream API is having issues
const exceptionSleep = time.Minute

// API is the reddit surface the bot consumes. *reddit.Client satisfies it.
type API interface {
	reddit.Directory

	Me(ctx context.Context) (*reddit.Account, error)
	AddContributor(ctx context.Context, subreddit, username string) error
	Moderators(ctx context.Context, subreddit string) ([]string, error)
	Contributors(ctx context.Context, subreddit string) ([]string, error)
	UnreadMessages(ctx context.Context) ([]reddit.Message, error)
	MarkRead(ctx context.Context, fullname string) error
	ReplyToMessage(ctx context.Context, parentFullname, body string) error
	ComposeMessage(ctx context.Context, to, subject, body string) error
	ModmailConversations(ctx context.Context, subreddit, state string) ([]reddit.ModmailConversation, error)
	ModmailReply(ctx context.Context, conversationID, body string, internal bool) error
}

type Config struct {
	Subreddit string
	// BotUsername is the bot's own account name, used to locate the pending
	// modmail conversation a passing report should be attached to.
	BotUsername string
	// FailedConversationID is the standing modmail thread failing reports
	// are posted to.
	FailedConversationID string
	// Operator receives a PM when the bot hits an unexpected error.
	Operator   string
	UserAgent  string
	Thresholds verify.Thresholds
	// Location renders report timestamps; defaults to UTC.
	Location *time.Location
	// Directory overrides the account-lookup source for verifications (eg,
	// a CachedDirectory). Defaults to the API itself.
	Directory  reddit.Directory
	PollPeriod time.Duration
	// TaskBatch bounds how many queued grants one idle poll may attempt.
	TaskBatch int
	Logger    *slog.Logger
}

// Bot polls for moderator "verify" commands and acts on the verdicts.
// Single-threaded: one poll loop, no internal parallelism.
type Bot struct {
	api       API
	directory reddit.Directory
	tasks     *store.TaskStore
	config    Config
	logger    *slog.Logger

	moderators map[string]bool
	// earliest time the next queued-grant attempt is allowed
	nextTaskAttempt time.Time
}

func New(api API, tasks *store.TaskStore, config Config) (*Bot, error) {
	if config.Subreddit == "" {
		return nil, fmt.Errorf("bot requires a subreddit")
	}
	if config.PollPeriod == 0 {
		config.PollPeriod = 30 * time.Second
	}
	if config.TaskBatch == 0 {
		config.TaskBatch = 20
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	directory := config.Directory
	if directory == nil {
		directory = api
	}
	return &Bot{
		api:       api,
		directory: directory,
		tasks:     tasks,
		config:    config,
		logger:    logger.With("subreddit", config.Subreddit),
	}, nil
}

// Run is the primary bot loop: poll the inbox, handle moderator commands,
// and drain queued grants while idle. Returns when ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("waiting for inbox messages", "poll_period", b.config.PollPeriod)
	for {
		if err := b.poll(ctx); err != nil {
			if ctx.Err() != nil {
				b.logger.Info("bot stopped gracefully")
				return ctx.Err()
			}
			b.reportException(ctx, err)
			if !sleep(ctx, exceptionSleep) {
				return ctx.Err()
			}
			continue
		}
		if !sleep(ctx, b.config.PollPeriod) {
			b.logger.Info("bot stopped gracefully")
			return ctx.Err()
		}
	}
}

func (b *Bot) poll(ctx context.Context) error {
	messages, err := b.api.UnreadMessages(ctx)
	if err != nil {
		return fmt.Errorf("fetching unread messages: %w", err)
	}
	if len(messages) == 0 {
		return b.drainTasks(ctx)
	}
	for _, message := range messages {
		if message.WasComment {
			// ignore comment replies
			if err := b.api.MarkRead(ctx, message.Name); err != nil {
				return err
			}
			continue
		}
		if err := b.handleMessage(ctx, message); err != nil {
			return fmt.Errorf("processing message %s from %s: %w", message.Name, message.Author, err)
		}
		if err := b.api.MarkRead(ctx, message.Name); err != nil {
			return err
		}
	}
	return nil
}

// handleMessage processes a single moderator command message.
func (b *Bot) handleMessage(ctx context.Context, message reddit.Message) error {
	mods, err := b.moderatorSet(ctx)
	if err != nil {
		return err
	}
	if !mods[strings.ToLower(message.Author)] {
		b.logger.Info("ignoring message from non-moderator user", "author", message.Author)
		return nil
	}

	subject := strings.TrimSpace(message.Subject)
	if subject != "verify" {
		b.logger.Info("invalid subject", "subject", subject, "author", message.Author)
		return b.api.ReplyToMessage(ctx, message.Name, fmt.Sprintf("`%s` is not a valid command. Try `verify`.", subject))
	}

	body := strings.TrimSpace(message.Body)
	if len(strings.Fields(body)) != 1 {
		b.logger.Info("invalid body", "body", body, "author", message.Author)
		return b.api.ReplyToMessage(ctx, message.Name, "Message body must contain only a username")
	}
	username := StripUserPrefix(body)

	b.logger.Info("processing verification", "username", username)
	if err := b.api.ReplyToMessage(ctx, message.Name, fmt.Sprintf("processing %s ...", username)); err != nil {
		return err
	}
	_, _, err = b.ProcessUser(ctx, username)
	return err
}

// StripUserPrefix removes a leading "u/" or "/u/" from a username.
func StripUserPrefix(username string) string {
	lower := strings.ToLower(username)
	for _, prefix := range []string{"u/", "/u/"} {
		if strings.HasPrefix(lower, prefix) {
			return username[len(prefix):]
		}
	}
	return username
}

func (b *Bot) moderatorSet(ctx context.Context) (map[string]bool, error) {
	if b.moderators != nil {
		return b.moderators, nil
	}
	names, err := b.api.Moderators(ctx, b.config.Subreddit)
	if err != nil {
		return nil, fmt.Errorf("fetching moderators: %w", err)
	}
	b.moderators = make(map[string]bool, len(names))
	for _, name := range names {
		b.moderators[strings.ToLower(name)] = true
	}
	return b.moderators, nil
}

func (b *Bot) reportException(ctx context.Context, cause error) {
	b.logger.Error("exception in bot loop", "err", cause)
	if b.config.Operator == "" {
		return
	}
	subject := fmt.Sprintf("%s exception", b.config.UserAgent)
	if err := b.api.ComposeMessage(ctx, b.config.Operator, subject, cause.Error()); err != nil {
		b.logger.Error("failed to notify operator", "err", err)
	}
}

// sleep waits for d or until ctx is cancelled; reports false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
