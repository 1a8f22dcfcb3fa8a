package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockpulse/analyzer/config"
	"github.com/stockpulse/analyzer/internal/adapters/llm"
	"github.com/stockpulse/analyzer/internal/adapters/marketdata"
	"github.com/stockpulse/analyzer/internal/adapters/telegram"
	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/data"
	"github.com/stockpulse/analyzer/internal/domain/model"
	"github.com/stockpulse/analyzer/internal/domain/retry"
	"github.com/stockpulse/analyzer/internal/observability/notify/slack"
	"github.com/stockpulse/analyzer/internal/observability/statsd"
	"github.com/stockpulse/analyzer/internal/service"
	"github.com/stockpulse/analyzer/internal/service/failurenotifier"
)

// ServiceContainer holds all initialized services.
type ServiceContainer struct {
	Orchestrator  *service.Orchestrator
	Subscriptions *service.SubscriptionService
	Reaper        *service.ReaperService
	Jobs          core.JobRepository
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB               *sql.DB
	SubscriptionRepo *data.SubscriptionRepo
	AnalysisRepo     *data.AnalysisRepo
	InsightRepo      *data.InsightRepo
	DeliveryRepo     *data.DeliveryRepo
	JobRepo          *data.JobRepo
	QuoteCache       core.QuoteCache
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "stockpulse",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	var sinks []failurenotifier.SinkRegistration
	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(deps *ServiceDeps, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		DB:               deps.DB,
		SubscriptionRepo: data.NewSubscriptionRepo(deps.DB),
		AnalysisRepo:     data.NewAnalysisRepo(deps.DB),
		InsightRepo:      data.NewInsightRepo(deps.DB),
		DeliveryRepo:     data.NewDeliveryRepo(deps.DB),
		JobRepo:          data.NewJobRepo(deps.DB, data.JobRepoConfig{Logger: logger}),
	}

	if deps.Config != nil && deps.Config.Cache.Enabled && deps.RedisClient != nil {
		repos.QuoteCache = data.NewRedisQuoteCache(deps.RedisClient, deps.Config.Cache.QuoteTTL, logger)
	}

	return repos
}

// buildMarketDataSource chains the primary source with the Alpha Vantage
// fallback when an API key is configured.
//
//nolint:ireturn // the caller only needs the port.
func buildMarketDataSource(cfg *config.AppConfig, logger *slog.Logger) core.MarketDataSource {
	yahoo := marketdata.NewYahooSource(cfg.MarketData.HistoryDays, logger)
	if !cfg.MarketData.AlphaVantage.Enabled() {
		return yahoo
	}

	alphaVantage := marketdata.NewAlphaVantageSource(marketdata.AlphaVantageSourceOptions{
		APIKey:  cfg.MarketData.AlphaVantage.APIKey,
		BaseURL: cfg.MarketData.AlphaVantage.BaseURL,
		Timeout: cfg.MarketData.AlphaVantage.Timeout,
		Logger:  logger,
	})
	return marketdata.NewFallbackSource(logger, yahoo, alphaVantage)
}

func buildInsightGenerator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*llm.Generator, error) {
	chatModel, err := llm.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}
	return llm.NewGenerator(llm.GeneratorOptions{
		ChatModel: chatModel,
		ModelName: cfg.Model,
		Logger:    logger,
	})
}

func fetchPolicy(cfg config.JobConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.FetchRetries,
		BaseDelay:   cfg.FetchBaseDelay,
		MaxDelay:    cfg.FetchMaxDelay,
	}
}

func generatePolicy(cfg config.JobConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.GenerateRetries,
		BaseDelay:   cfg.GenerateBaseDelay,
		MaxDelay:    cfg.GenerateMaxDelay,
	}
}

func sendPolicy(cfg config.JobConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.SendRetries,
		BaseDelay:   cfg.SendBaseDelay,
		MaxDelay:    cfg.SendMaxDelay,
	}
}

// buildOrchestrator assembles the daily job stack: pipeline, scheduler,
// deliverer, and the orchestrator on top.
func buildOrchestrator(
	ctx context.Context,
	deps *ServiceDeps,
	repos *serviceRepositories,
	observability ObservabilityContainer,
) (*service.Orchestrator, error) {
	cfg := deps.Config
	logger := deps.Logger

	generator, err := buildInsightGenerator(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	pipeline, err := service.NewAnalysisPipeline(service.AnalysisPipelineOptions{
		Analyses:       repos.AnalysisRepo,
		Source:         buildMarketDataSource(cfg, logger),
		Generator:      generator,
		Cache:          repos.QuoteCache,
		FetchPolicy:    fetchPolicy(cfg.Job),
		GeneratePolicy: generatePolicy(cfg.Job),
		Logger:         logger,
		Metrics:        observability.MetricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	scheduler, err := service.NewScheduler(service.SchedulerOptions{
		Pipeline:        pipeline,
		Workers:         cfg.Job.Parallelism,
		PipelineTimeout: cfg.Job.PipelineTimeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	sink, err := telegram.NewSink(telegram.SinkOptions{
		BotToken: cfg.Telegram.BotToken,
		BaseURL:  cfg.Telegram.BaseURL,
		Timeout:  cfg.Telegram.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init telegram sink: %w", err)
	}

	deliverer, err := service.NewDeliverer(service.DelivererOptions{
		Subscriptions: repos.SubscriptionRepo,
		Deliveries:    repos.DeliveryRepo,
		Sink:          sink,
		Render:        telegram.FormatInsights,
		Workers:       cfg.Job.DeliveryParallelism,
		SendPolicy:    sendPolicy(cfg.Job),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init deliverer: %w", err)
	}

	return service.NewOrchestrator(service.OrchestratorOptions{
		Jobs:           repos.JobRepo,
		Subscriptions:  repos.SubscriptionRepo,
		Insights:       repos.InsightRepo,
		Scheduler:      scheduler,
		Deliverer:      deliverer,
		Deadline:       cfg.Job.Deadline,
		MaxSymbols:     cfg.Job.MaxSymbols,
		MaxParallelism: cfg.Job.MaxParallelism,
		Logger:         logger,
		Metrics:        observability.MetricsSink,
		Notifier:       observability.FailureNotifier,
	})
}

// NewServices initializes all services required by the enabled modes.
// The daily-job stack (providers, pipeline, orchestrator) is only built
// when that mode is enabled, so a reaper-only instance needs no LLM or
// Telegram credentials.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, deps.Config.Observability)
	repos := buildRepositories(deps, logger)

	container := ServiceContainer{
		Jobs:          repos.JobRepo,
		Observability: observability,
	}

	subscriptions, err := service.NewSubscriptionService(service.SubscriptionServiceOptions{
		Repo:   repos.SubscriptionRepo,
		Logger: logger,
	})
	if err != nil {
		return container, fmt.Errorf("init subscription service: %w", err)
	}
	container.Subscriptions = subscriptions

	if deps.Config.IsReaperEnabled() {
		reaper, rerr := service.NewReaperService(service.ReaperServiceOptions{
			Repo:    repos.JobRepo,
			Config:  deps.Config.Reaper,
			Logger:  logger,
			Metrics: observability.MetricsSink,
		})
		if rerr != nil {
			return container, fmt.Errorf("init reaper service: %w", rerr)
		}
		container.Reaper = reaper
	}

	if deps.Config.IsDailyJobEnabled() {
		orchestrator, oerr := buildOrchestrator(ctx, deps, repos, observability)
		if oerr != nil {
			return container, oerr
		}
		container.Orchestrator = orchestrator
	}

	return container, nil
}

// ServiceOrchestrationConfig groups everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig) []backgroundService {
	return []backgroundService{
		{
			mode: config.ServiceModeDailyJob,
			name: "daily analysis job",
			start: func(ctx context.Context) error {
				job, err := cfg.Services.Orchestrator.RunDailyJob(ctx, time.Now(), model.RunOptions{})
				if err != nil {
					return err
				}
				cfg.Logger.InfoContext(ctx, "daily job finished",
					"job_id", job.ID,
					"status", job.Status,
					"processed", job.StocksProcessed,
					"delivered", job.InsightsDelivered,
				)
				return nil
			},
		},
		{
			mode: config.ServiceModeReaper,
			name: "reaper",
			start: func(ctx context.Context) error {
				return cfg.Services.Reaper.Run(ctx)
			},
		},
	}
}

func launchBackground(
	ctx context.Context,
	cfg *ServiceOrchestrationConfig,
	descriptor backgroundService,
	errCh chan<- error,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			select {
			case errCh <- fmt.Errorf("%s failed: %w", descriptor.name, err):
			case <-ctx.Done():
			}
		}
	}()

	cfg.Logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal arrives, a service fails,
// or every enabled service finishes on its own (the one-shot daily job).
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
		cfg.Logger = logger
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, len(enabledServices)+1)
	var handles []backgroundServiceHandle
	for _, descriptor := range buildBackgroundServices(cfg) {
		if !enabledServices[descriptor.mode] {
			continue
		}
		handles = append(handles, backgroundServiceHandle{
			name: descriptor.name,
			done: launchBackground(serviceCtx, cfg, descriptor, errCh),
		})
	}
	if len(handles) == 0 {
		return errors.New("no services enabled")
	}

	allDone := make(chan struct{})
	go func() {
		for _, handle := range handles {
			<-handle.done
		}
		close(allDone)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		logger.Info("shutting down services...")
		cancel()
		waitForServices(handles, logger)
		return nil
	case serviceErr := <-errCh:
		logger.Error("service error", "error", serviceErr)
		cancel()
		waitForServices(handles, logger)
		return serviceErr
	case <-allDone:
		// Drain a failure that raced the completion watcher.
		select {
		case serviceErr := <-errCh:
			return serviceErr
		default:
		}
		logger.Info("all services finished")
		return nil
	}
}

func waitForServices(handles []backgroundServiceHandle, logger *slog.Logger) {
	for _, handle := range handles {
		select {
		case <-handle.done:
			logger.Info(handle.name + " stopped")
		case <-time.After(shutdownWaitTimeout):
			logger.Warn("timeout waiting for " + handle.name + " to stop")
		}
	}
}
