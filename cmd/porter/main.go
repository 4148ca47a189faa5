// porter is a subreddit contributor verification bot: moderators message it
// a username, it evaluates the account's history, posts a report to
// modmail, and grants contributor status on a passing verdict.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/subtools/porter/bot"
	"github.com/subtools/porter/reddit"
	"github.com/subtools/porter/store"
	"github.com/subtools/porter/verify"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "porter",
		Usage:   "subreddit contributor verification bot",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "reddit-client-id",
			Usage:   "OAuth client ID of the reddit script app",
			EnvVars: []string{"REDDIT_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "reddit-client-secret",
			Usage:   "OAuth client secret of the reddit script app",
			EnvVars: []string{"REDDIT_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "reddit-username",
			Usage:   "bot account username",
			EnvVars: []string{"REDDIT_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "reddit-password",
			Usage:   "bot account password",
			EnvVars: []string{"REDDIT_PASSWORD"},
		},
		&cli.StringFlag{
			Name:     "subreddit",
			Usage:    "subreddit to verify accounts for",
			Required: true,
			EnvVars:  []string{"PORTER_SUBREDDIT"},
		},
		&cli.StringFlag{
			Name:    "user-agent",
			Usage:   "User-Agent header sent to the reddit API",
			Value:   "porter/" + versioninfo.Short(),
			EnvVars: []string{"PORTER_USER_AGENT"},
		},
		&cli.IntFlag{
			Name:    "api-rate-limit",
			Usage:   "max requests per second to the reddit API",
			Value:   1,
			EnvVars: []string{"PORTER_API_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "min-account-age",
			Usage:   "minimum account age for eligibility",
			Value:   14 * 24 * time.Hour,
			EnvVars: []string{"PORTER_MIN_ACCOUNT_AGE"},
		},
		&cli.StringFlag{
			Name:    "history-cutoff",
			Usage:   "date (YYYY-MM-DD); in-subreddit history starting after it requires a positive karma average",
			Value:   "2024-11-05",
			EnvVars: []string{"PORTER_HISTORY_CUTOFF"},
		},
		&cli.StringFlag{
			Name:    "positive-karma-cutoff",
			Usage:   "date (YYYY-MM-DD); the oldest in-subreddit comment must predate it",
			Value:   "2025-01-20",
			EnvVars: []string{"PORTER_POSITIVE_KARMA_CUTOFF"},
		},
		&cli.StringFlag{
			Name:    "timezone",
			Usage:   "IANA timezone for report timestamps and cutoff dates",
			Value:   "America/Los_Angeles",
			EnvVars: []string{"PORTER_TIMEZONE"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/porter/porter.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"PORTER_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		verifyCmd,
		fromListCmd,
		contributorsCmd,
		queueCmd,
	}

	return app.Run(args)
}

func setupLogger(cctx *cli.Context) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cctx.String("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func setupClient(cctx *cli.Context) *reddit.Client {
	return &reddit.Client{
		Client: reddit.RobustHTTPClient(),
		Credentials: reddit.Credentials{
			ClientID:     cctx.String("reddit-client-id"),
			ClientSecret: cctx.String("reddit-client-secret"),
			Username:     cctx.String("reddit-username"),
			Password:     cctx.String("reddit-password"),
		},
		UserAgent: cctx.String("user-agent"),
		Limiter:   rate.NewLimiter(rate.Limit(cctx.Int("api-rate-limit")), 1),
	}
}

// setupThresholds resolves the cutoff flags into concrete timestamps. The
// minimum-age threshold is anchored to startup time; the other two are fixed
// dates interpreted at midnight in the configured timezone.
func setupThresholds(cctx *cli.Context) (verify.Thresholds, *time.Location, error) {
	location, err := time.LoadLocation(cctx.String("timezone"))
	if err != nil {
		return verify.Thresholds{}, nil, fmt.Errorf("loading timezone: %w", err)
	}
	history, err := parseCutoff(cctx.String("history-cutoff"), location)
	if err != nil {
		return verify.Thresholds{}, nil, fmt.Errorf("parsing history-cutoff: %w", err)
	}
	positiveKarma, err := parseCutoff(cctx.String("positive-karma-cutoff"), location)
	if err != nil {
		return verify.Thresholds{}, nil, fmt.Errorf("parsing positive-karma-cutoff: %w", err)
	}
	return verify.Thresholds{
		Created:       time.Now().Add(-cctx.Duration("min-account-age")),
		History:       history,
		PositiveKarma: positiveKarma,
	}, location, nil
}

func parseCutoff(value string, location *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, value, location); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the bot daemon",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:    "poll-period",
			Usage:   "inbox poll period",
			Value:   30 * time.Second,
			EnvVars: []string{"PORTER_POLL_PERIOD"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"PORTER_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "failed-conversation-id",
			Usage:   "modmail conversation failing reports are posted to",
			EnvVars: []string{"PORTER_FAILED_CONVERSATION_ID"},
		},
		&cli.StringFlag{
			Name:    "operator",
			Usage:   "username to PM when the bot hits an unexpected error",
			EnvVars: []string{"PORTER_OPERATOR"},
		},
		&cli.IntFlag{
			Name:    "task-batch",
			Usage:   "max queued grants attempted per idle poll",
			Value:   20,
			EnvVars: []string{"PORTER_TASK_BATCH"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := setupLogger(cctx)
		client := setupClient(cctx)
		thresholds, location, err := setupThresholds(cctx)
		if err != nil {
			return err
		}

		me, err := client.Me(ctx)
		if err != nil {
			return fmt.Errorf("authenticating with reddit: %w", err)
		}
		logger.Info("authenticated", "username", me.Name)

		directory, err := reddit.NewCachedDirectory(client, 500)
		if err != nil {
			return err
		}

		db, err := store.Setup(cctx.String("database-url"))
		if err != nil {
			return fmt.Errorf("setting up database: %w", err)
		}
		tasks, err := store.NewTaskStore(db)
		if err != nil {
			return fmt.Errorf("setting up task store: %w", err)
		}

		b, err := bot.New(client, tasks, bot.Config{
			Subreddit:            cctx.String("subreddit"),
			BotUsername:          me.Name,
			FailedConversationID: cctx.String("failed-conversation-id"),
			Operator:             cctx.String("operator"),
			UserAgent:            cctx.String("user-agent"),
			Thresholds:           thresholds,
			Location:             location,
			Directory:            directory,
			PollPeriod:           cctx.Duration("poll-period"),
			TaskBatch:            cctx.Int("task-batch"),
			Logger:               logger,
		})
		if err != nil {
			return err
		}

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cctx.String("metrics-listen"), nil); err != nil {
				logger.Error("failed to start metrics endpoint", "err", err)
			}
		}()

		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var verifyCmd = &cli.Command{
	Name:      "verify",
	Usage:     "verify a single account and print the report",
	ArgsUsage: "<username>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "grant",
			Usage: "also grant contributor status on a passing verdict",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expected exactly one username argument")
		}
		username := bot.StripUserPrefix(cctx.Args().First())

		setupLogger(cctx)
		client := setupClient(cctx)
		thresholds, location, err := setupThresholds(cctx)
		if err != nil {
			return err
		}

		verification := verify.New(client, username, cctx.String("subreddit"), thresholds, verify.Config{
			Location: location,
		})
		passed, err := verification.Verify(cctx.Context)
		if err != nil {
			return err
		}
		report, err := verification.Report()
		if err != nil {
			return err
		}
		fmt.Println(report)

		if passed && cctx.Bool("grant") {
			if err := client.AddContributor(cctx.Context, cctx.String("subreddit"), username); err != nil {
				return err
			}
		}
		if !passed {
			return cli.Exit("", 1)
		}
		return nil
	},
}

var fromListCmd = &cli.Command{
	Name:      "from-list",
	Usage:     "verify and grant each username read from stdin, one per line",
	UsageText: "porter from-list < usernames.txt",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "failed-conversation-id",
			Usage:   "modmail conversation failing reports are posted to",
			EnvVars: []string{"PORTER_FAILED_CONVERSATION_ID"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context

		logger := setupLogger(cctx)
		client := setupClient(cctx)
		thresholds, location, err := setupThresholds(cctx)
		if err != nil {
			return err
		}

		me, err := client.Me(ctx)
		if err != nil {
			return fmt.Errorf("authenticating with reddit: %w", err)
		}

		directory, err := reddit.NewCachedDirectory(client, 500)
		if err != nil {
			return err
		}

		db, err := store.Setup(cctx.String("database-url"))
		if err != nil {
			return fmt.Errorf("setting up database: %w", err)
		}
		tasks, err := store.NewTaskStore(db)
		if err != nil {
			return fmt.Errorf("setting up task store: %w", err)
		}

		b, err := bot.New(client, tasks, bot.Config{
			Subreddit:            cctx.String("subreddit"),
			BotUsername:          me.Name,
			FailedConversationID: cctx.String("failed-conversation-id"),
			UserAgent:            cctx.String("user-agent"),
			Thresholds:           thresholds,
			Location:             location,
			Directory:            directory,
			Logger:               logger,
		})
		if err != nil {
			return err
		}
		return b.ProcessList(ctx, os.Stdin)
	},
}

var contributorsCmd = &cli.Command{
	Name:  "contributors",
	Usage: "list the subreddit's approved contributors",
	Action: func(cctx *cli.Context) error {
		setupLogger(cctx)
		client := setupClient(cctx)
		names, err := client.Contributors(cctx.Context, cctx.String("subreddit"))
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var queueCmd = &cli.Command{
	Name:  "queue",
	Usage: "list pending contributor-grant retry tasks",
	Action: func(cctx *cli.Context) error {
		setupLogger(cctx)
		db, err := store.Setup(cctx.String("database-url"))
		if err != nil {
			return err
		}
		tasks, err := store.NewTaskStore(db)
		if err != nil {
			return err
		}
		pending, err := tasks.Pending(cctx.Context)
		if err != nil {
			return err
		}
		for _, task := range pending {
			fmt.Printf("%s\t%s\n", task.CreatedAt.Format(time.RFC3339), task.Username)
		}
		return nil
	},
}
