package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/stockpulse/analyzer/config"
	"github.com/stockpulse/analyzer/internal/bootstrap"
	"github.com/stockpulse/analyzer/internal/data"
	"github.com/stockpulse/analyzer/internal/domain/model"
	"github.com/stockpulse/analyzer/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"run-job": {
			name:        "run-job",
			description: "Run the daily analysis job for a trading date",
			run:         runJob,
		},
		"job-status": {
			name:        "job-status",
			description: "Show the job record for a trading date or job ID",
			run:         runJobStatus,
		},
		"analyses": {
			name:        "analyses",
			description: "List per-symbol analysis results for a trading date",
			run:         runListAnalyses,
		},
		"subscribe": {
			name:        "subscribe",
			description: "Subscribe a user to daily insights for a symbol",
			run:         runSubscribe,
		},
		"unsubscribe": {
			name:        "unsubscribe",
			description: "Remove a user's subscription for a symbol",
			run:         runUnsubscribe,
		},
		"subscriptions": {
			name:        "subscriptions",
			description: "List a user's active subscriptions",
			run:         runListSubscriptions,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: analyzer-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}

	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "  %s\t%s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

// withDatabase connects, runs fn, and closes the connection.
func withDatabase(cmdCtx *commandContext, fn func(db *sql.DB) error) error {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Error("close database failed", "error", cerr)
		}
	}()
	return fn(db)
}

func runMigrations(cmdCtx *commandContext, _ []string) error {
	return withDatabase(cmdCtx, func(db *sql.DB) error {
		ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultMigrationTimeout)
		defer cancel()
		return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
	})
}

func parseTradingDate(raw string) (time.Time, error) {
	if raw == "" {
		return model.TradingDateOf(time.Now()), nil
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", raw, err)
	}
	return date, nil
}

func runJob(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("run-job", flag.ContinueOnError)
	dateFlag := fs.String("date", "", "Trading date (YYYY-MM-DD, default today)")
	dryRun := fs.Bool("dry-run", false, "Resolve the scheduling set without running anything")
	force := fs.Bool("force", false, "Supersede an unfinished job for the date")
	parallelism := fs.Int("parallelism", 0, "Analysis worker count override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	date, err := parseTradingDate(*dateFlag)
	if err != nil {
		return err
	}

	// The admin invocation always needs the full daily-job stack.
	cmdCtx.Config.Services = string(config.ServiceModeDailyJob)
	if err = bootstrap.ValidateServiceConfig(&cmdCtx.Config); err != nil {
		return err
	}

	return withDatabase(cmdCtx, func(db *sql.DB) error {
		redisClient, rerr := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
			RedisConfig: cmdCtx.Config.Redis,
			Logger:      cmdCtx.Logger,
		})
		if rerr != nil {
			// The quote cache is an optimization; run without it.
			cmdCtx.Logger.Warn("redis unavailable, running without quote cache", "error", rerr)
			redisClient = nil
		} else {
			defer func() {
				if cerr := redisClient.Close(); cerr != nil {
					cmdCtx.Logger.Error("close redis failed", "error", cerr)
				}
			}()
		}

		services, serr := bootstrap.NewServices(cmdCtx.Ctx, &bootstrap.ServiceDeps{
			Config:      &cmdCtx.Config,
			DB:          db,
			RedisClient: redisClient,
			Logger:      cmdCtx.Logger,
		})
		if serr != nil {
			return serr
		}

		job, jerr := services.Orchestrator.RunDailyJob(cmdCtx.Ctx, date, model.RunOptions{
			DryRun:      *dryRun,
			Force:       *force,
			Parallelism: *parallelism,
		})
		if jerr != nil {
			if errors.Is(jerr, model.ErrJobAlreadyRunning) {
				return fmt.Errorf("%w (use --force to supersede it)", jerr)
			}
			return jerr
		}
		return printJob(job)
	})
}

func runJobStatus(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job-status", flag.ContinueOnError)
	dateFlag := fs.String("date", "", "Trading date (YYYY-MM-DD, default today)")
	idFlag := fs.String("id", "", "Job ID (overrides --date)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withDatabase(cmdCtx, func(db *sql.DB) error {
		repo := data.NewJobRepo(db, data.JobRepoConfig{Logger: cmdCtx.Logger})

		var (
			job *model.AnalysisJob
			err error
		)
		if *idFlag != "" {
			job, err = repo.GetByID(cmdCtx.Ctx, *idFlag)
		} else {
			var date time.Time
			if date, err = parseTradingDate(*dateFlag); err != nil {
				return err
			}
			job, err = repo.GetByDate(cmdCtx.Ctx, date)
		}
		if err != nil {
			return err
		}
		return printJob(job)
	})
}

func printJob(job *model.AnalysisJob) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value string
	}{
		{"Job ID", job.ID},
		{"Trading date", model.FormatTradingDate(job.TradingDate)},
		{"Status", string(job.Status)},
		{"Scheduled", fmt.Sprintf("%d", job.StocksScheduled)},
		{"Processed", fmt.Sprintf("%d", job.StocksProcessed)},
		{"Succeeded", fmt.Sprintf("%d", job.SuccessCount)},
		{"Failed", fmt.Sprintf("%d", job.FailureCount)},
		{"Delivered", fmt.Sprintf("%d", job.InsightsDelivered)},
		{"Duration", job.Duration().String()},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", row.label, row.value); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(job.Errors) > 0 {
		if err := writef(os.Stdout, "\nErrors:\n"); err != nil {
			return err
		}
		for _, msg := range job.Errors {
			if err := writef(os.Stdout, "  - %s\n", msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func runListAnalyses(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("analyses", flag.ContinueOnError)
	dateFlag := fs.String("date", "", "Trading date (YYYY-MM-DD, default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	date, err := parseTradingDate(*dateFlag)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, func(db *sql.DB) error {
		analyses, lerr := data.NewAnalysisRepo(db).ListByDate(cmdCtx.Ctx, date)
		if lerr != nil {
			return lerr
		}
		if len(analyses) == 0 {
			return writef(os.Stdout, "no analyses for %s\n", model.FormatTradingDate(date))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if _, werr := fmt.Fprintln(w, "SYMBOL\tSTATUS\tREASON\tPRICE\tCHANGE%\tDURATION"); werr != nil {
			return werr
		}
		for _, a := range analyses {
			if _, werr := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.Symbol,
				a.Status,
				a.FailureReason,
				a.Price.StringFixed(2),
				a.ChangePercent.StringFixed(2),
				a.Duration(),
			); werr != nil {
				return werr
			}
		}
		return w.Flush()
	})
}

type subscriptionFlags struct {
	userID string
	symbol string
}

func parseSubscriptionFlags(name string, args []string, needSymbol bool) (subscriptionFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	userID := fs.String("user", "", "User (chat) ID")
	symbol := fs.String("symbol", "", "Ticker symbol")
	if err := fs.Parse(args); err != nil {
		return subscriptionFlags{}, err
	}
	if strings.TrimSpace(*userID) == "" {
		return subscriptionFlags{}, errors.New("--user is required")
	}
	if needSymbol && strings.TrimSpace(*symbol) == "" {
		return subscriptionFlags{}, errors.New("--symbol is required")
	}
	return subscriptionFlags{userID: strings.TrimSpace(*userID), symbol: *symbol}, nil
}

func withSubscriptionService(cmdCtx *commandContext, fn func(svc *service.SubscriptionService) error) error {
	return withDatabase(cmdCtx, func(db *sql.DB) error {
		svc, err := service.NewSubscriptionService(service.SubscriptionServiceOptions{
			Repo:   data.NewSubscriptionRepo(db),
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		return fn(svc)
	})
}

func runSubscribe(cmdCtx *commandContext, args []string) error {
	flags, err := parseSubscriptionFlags("subscribe", args, true)
	if err != nil {
		return err
	}
	return withSubscriptionService(cmdCtx, func(svc *service.SubscriptionService) error {
		sub, serr := svc.Subscribe(cmdCtx.Ctx, flags.userID, flags.symbol)
		if serr != nil {
			if errors.Is(serr, data.ErrSubscriptionExists) {
				return writef(os.Stdout, "user %s is already subscribed to %s\n",
					flags.userID, model.NormalizeSymbol(flags.symbol))
			}
			return serr
		}
		return writef(os.Stdout, "subscribed user %s to %s\n", sub.UserID, sub.Symbol)
	})
}

func runUnsubscribe(cmdCtx *commandContext, args []string) error {
	flags, err := parseSubscriptionFlags("unsubscribe", args, true)
	if err != nil {
		return err
	}
	return withSubscriptionService(cmdCtx, func(svc *service.SubscriptionService) error {
		removed, serr := svc.Unsubscribe(cmdCtx.Ctx, flags.userID, flags.symbol)
		if serr != nil {
			return serr
		}
		if !removed {
			return writef(os.Stdout, "user %s has no active subscription for %s\n",
				flags.userID, model.NormalizeSymbol(flags.symbol))
		}
		return writef(os.Stdout, "unsubscribed user %s from %s\n",
			flags.userID, model.NormalizeSymbol(flags.symbol))
	})
}

func runListSubscriptions(cmdCtx *commandContext, args []string) error {
	flags, err := parseSubscriptionFlags("subscriptions", args, false)
	if err != nil {
		return err
	}
	return withSubscriptionService(cmdCtx, func(svc *service.SubscriptionService) error {
		subs, serr := svc.List(cmdCtx.Ctx, flags.userID)
		if serr != nil {
			return serr
		}
		if len(subs) == 0 {
			return writef(os.Stdout, "user %s has no active subscriptions\n", flags.userID)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if _, werr := fmt.Fprintln(w, "SYMBOL\tSINCE"); werr != nil {
			return werr
		}
		for _, sub := range subs {
			if _, werr := fmt.Fprintf(w, "%s\t%s\n", sub.Symbol, sub.CreatedAt.Format(time.DateOnly)); werr != nil {
				return werr
			}
		}
		return w.Flush()
	})
}
