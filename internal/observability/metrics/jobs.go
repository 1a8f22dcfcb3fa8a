// Package metrics defines the standardized metric names and tag shapes
// emitted by the daily analysis job and the reaper.
package metrics

import (
	"time"

	obserrors "github.com/stockpulse/analyzer/internal/observability/errors"
	"github.com/stockpulse/analyzer/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures one daily job run for metric emission.
type JobMetric struct {
	Status            string
	StocksScheduled   int
	SuccessCount      int
	FailureCount      int
	InsightsDelivered int
	Duration          time.Duration
	Err               error
}

// EmitJobRun emits the standardized daily job lifecycle metrics.
func EmitJobRun(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"status": in.Status}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.run", 1, tags)
	sink.Count("job.symbols_scheduled", int64(in.StocksScheduled), CloneTags(tags))
	sink.Count("job.symbols_succeeded", int64(in.SuccessCount), CloneTags(tags))
	sink.Count("job.symbols_failed", int64(in.FailureCount), CloneTags(tags))
	sink.Count("job.insights_delivered", int64(in.InsightsDelivered), CloneTags(tags))

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// PipelineMetric captures one per-symbol pipeline outcome.
type PipelineMetric struct {
	Result   string
	Reason   string
	Cached   bool
	Duration time.Duration
}

// EmitPipelineOutcome emits per-symbol analysis metrics.
func EmitPipelineOutcome(sink statsd.Sink, in PipelineMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"result": in.Result}
	if in.Reason != "" {
		tags["reason"] = in.Reason
	}
	if in.Cached {
		tags["cached"] = "true"
	}

	sink.Count("pipeline.outcome", 1, tags)
	if in.Duration > 0 {
		sink.Timing("pipeline.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
