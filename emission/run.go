package emission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/logger"
)

// Stats aggregates a run's per-unit results.
type Stats struct {
	TotalUnits     int     `json:"total_units"`
	SucceededUnits int     `json:"succeeded_units"`
	FailedUnits    int     `json:"failed_units"`
	TotalInsured   int     `json:"total_insured"`
	IssuedInsured  int     `json:"issued_insured"`
	RemovedInsured int     `json:"removed_insured"`
	SuccessRate    float64 `json:"success_rate"`
}

// RunResult is the complete record of one pipeline run.
type RunResult struct {
	RunID       string             `json:"run_id"`
	Pipeline    batch.PipelineType `json:"pipeline"`
	Label       string             `json:"label,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`

	// NoData marks a valid trigger that carried zero units. The run counts
	// as a success with nothing to report.
	NoData bool `json:"no_data,omitempty"`

	Results []UnitResult `json:"results,omitempty"`
	Stats   Stats        `json:"stats"`
}

// Runner executes a pipeline run over an envelope's units, sequentially.
// A unit's failure never aborts the run.
type Runner struct {
	processor *Processor
	log       *zap.SugaredLogger
}

// NewRunner creates a runner over the given submitter.
func NewRunner(submitter Submitter, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = logger.Logger
	}
	return &Runner{
		processor: NewProcessor(submitter, log),
		log:       log,
	}
}

// Run processes every unit in the envelope and returns the run record.
func (r *Runner) Run(ctx context.Context, env batch.Envelope) RunResult {
	result := RunResult{
		RunID:     uuid.New().String(),
		Pipeline:  env.Pipeline,
		Label:     env.Label,
		StartedAt: time.Now().UTC(),
	}

	r.log.Infow("starting pipeline run",
		logger.FieldRunID, result.RunID,
		logger.FieldPipelineType, string(env.Pipeline),
		logger.FieldTriggerLabel, env.Label,
		"units", len(env.Units),
	)

	if len(env.Units) == 0 {
		result.NoData = true
		result.CompletedAt = time.Now().UTC()
		r.log.Infow("no new data to process",
			logger.FieldRunID, result.RunID,
			logger.FieldPipelineType, string(env.Pipeline),
		)
		return result
	}

	result.Results = make([]UnitResult, 0, len(env.Units))
	for _, unit := range env.Units {
		result.Results = append(result.Results, r.processor.ProcessUnit(ctx, unit))
	}
	result.CompletedAt = time.Now().UTC()
	result.Stats = computeStats(result.Results)

	r.log.Infow("pipeline run completed",
		logger.FieldRunID, result.RunID,
		logger.FieldPipelineType, string(env.Pipeline),
		"succeeded", result.Stats.SucceededUnits,
		"failed", result.Stats.FailedUnits,
		logger.FieldRemoved, result.Stats.RemovedInsured,
		logger.FieldDurationMS, result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	)
	return result
}

func computeStats(results []UnitResult) Stats {
	stats := Stats{TotalUnits: len(results)}
	for _, res := range results {
		stats.TotalInsured += res.InsuredCount
		stats.RemovedInsured += len(res.Removed)
		if res.Succeeded {
			stats.SucceededUnits++
			stats.IssuedInsured += res.InsuredCount - len(res.Removed)
		} else {
			stats.FailedUnits++
		}
	}
	if stats.TotalUnits > 0 {
		stats.SuccessRate = float64(stats.SucceededUnits) / float64(stats.TotalUnits)
	}
	return stats
}
