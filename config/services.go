package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeDailyJob runs the daily stock analysis job.
	ServiceModeDailyJob ServiceMode = "daily-job"
	// ServiceModeReaper runs the job reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeDailyJob, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeDailyJob, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: daily-job, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// JobConfig contains daily analysis job configuration.
type JobConfig struct {
	// Parallelism is the number of concurrent symbol analysis workers.
	Parallelism int `env:"JOB_PARALLELISM" envDefault:"2"`

	// MaxParallelism caps the per-invocation parallelism override.
	MaxParallelism int `env:"JOB_MAX_PARALLELISM" envDefault:"4"`

	// DeliveryParallelism is the number of concurrent delivery workers,
	// tuned independently of the analysis pool.
	DeliveryParallelism int `env:"JOB_DELIVERY_PARALLELISM" envDefault:"4"`

	// Deadline bounds the whole batch. Symbols not started when the
	// deadline passes are recorded as failed without being attempted.
	Deadline time.Duration `env:"JOB_DEADLINE" envDefault:"1h"`

	// PipelineTimeout bounds one symbol's fetch plus generate plus persist.
	PipelineTimeout time.Duration `env:"JOB_PIPELINE_TIMEOUT" envDefault:"5m"`

	// MaxSymbols caps how many symbols one run schedules. Beyond the cap
	// the symbol list is truncated deterministically, never rejected.
	MaxSymbols int `env:"JOB_MAX_SYMBOLS" envDefault:"100"`

	// FetchRetries is the attempt budget for market data fetches.
	FetchRetries int `env:"JOB_FETCH_RETRIES" envDefault:"3"`
	// FetchBaseDelay is the initial backoff between fetch attempts.
	FetchBaseDelay time.Duration `env:"JOB_FETCH_BASE_DELAY" envDefault:"1s"`
	// FetchMaxDelay caps the fetch backoff.
	FetchMaxDelay time.Duration `env:"JOB_FETCH_MAX_DELAY" envDefault:"30s"`

	// GenerateRetries is the attempt budget for insight generation.
	GenerateRetries int `env:"JOB_GENERATE_RETRIES" envDefault:"3"`
	// GenerateBaseDelay is the initial backoff between generation attempts.
	GenerateBaseDelay time.Duration `env:"JOB_GENERATE_BASE_DELAY" envDefault:"2s"`
	// GenerateMaxDelay caps the generation backoff.
	GenerateMaxDelay time.Duration `env:"JOB_GENERATE_MAX_DELAY" envDefault:"60s"`

	// SendRetries is the attempt budget for message delivery per recipient.
	SendRetries int `env:"JOB_SEND_RETRIES" envDefault:"3"`
	// SendBaseDelay is the initial backoff between send attempts.
	SendBaseDelay time.Duration `env:"JOB_SEND_BASE_DELAY" envDefault:"1s"`
	// SendMaxDelay caps the send backoff.
	SendMaxDelay time.Duration `env:"JOB_SEND_MAX_DELAY" envDefault:"30s"`
}

// Sanitize applies guardrails to job configuration values.
func (j *JobConfig) Sanitize() {
	if j.Parallelism < 1 {
		j.Parallelism = 1
	}
	if j.MaxParallelism < j.Parallelism {
		j.MaxParallelism = j.Parallelism
	}
	if j.DeliveryParallelism < 1 {
		j.DeliveryParallelism = 1
	}
	if j.Deadline < time.Minute {
		j.Deadline = time.Minute
	}
	if j.PipelineTimeout < 10*time.Second {
		j.PipelineTimeout = 10 * time.Second
	}
	if j.PipelineTimeout > j.Deadline {
		j.PipelineTimeout = j.Deadline
	}
	if j.MaxSymbols < 1 {
		j.MaxSymbols = 1
	}
	if j.FetchRetries < 1 {
		j.FetchRetries = 1
	}
	if j.GenerateRetries < 1 {
		j.GenerateRetries = 1
	}
	if j.SendRetries < 1 {
		j.SendRetries = 1
	}
	if j.FetchBaseDelay <= 0 {
		j.FetchBaseDelay = time.Second
	}
	if j.GenerateBaseDelay <= 0 {
		j.GenerateBaseDelay = 2 * time.Second
	}
	if j.SendBaseDelay <= 0 {
		j.SendBaseDelay = time.Second
	}
	if j.FetchMaxDelay < j.FetchBaseDelay {
		j.FetchMaxDelay = j.FetchBaseDelay
	}
	if j.GenerateMaxDelay < j.GenerateBaseDelay {
		j.GenerateMaxDelay = j.GenerateBaseDelay
	}
	if j.SendMaxDelay < j.SendBaseDelay {
		j.SendMaxDelay = j.SendBaseDelay
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// RunningMaxAge is the maximum age for running jobs before they are
	// marked as failed. A job stuck in running longer than this had its
	// process die before finalizing.
	RunningMaxAge time.Duration `env:"REAPER_RUNNING_MAX_AGE" envDefault:"3h"`

	// TerminalMaxAge is the maximum age for terminal jobs before deletion.
	TerminalMaxAge time.Duration `env:"REAPER_TERMINAL_MAX_AGE" envDefault:"2160h"` // 90 days

	// PendingDeliveryMaxAge is the maximum age for delivery rows still in
	// pending status before deletion. A pending row this old belongs to an
	// insight whose delivery run never completed.
	PendingDeliveryMaxAge time.Duration `env:"REAPER_PENDING_DELIVERY_MAX_AGE" envDefault:"72h"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.RunningMaxAge < 5*time.Minute {
		r.RunningMaxAge = 5 * time.Minute
	}
	if r.TerminalMaxAge < 24*time.Hour {
		r.TerminalMaxAge = 24 * time.Hour
	}
	if r.PendingDeliveryMaxAge < 1*time.Hour {
		r.PendingDeliveryMaxAge = 1 * time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
