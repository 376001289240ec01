// Package emission drives one pipeline run: submitting each batch unit,
// filtering and resubmitting units rejected for active coverage, and
// collecting per-unit results into run statistics.
package emission

import (
	"context"

	"go.uber.org/zap"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/issuer"
	"github.com/segurotech/emisor/logger"
)

// Submitter is the issuance API surface the processor needs.
type Submitter interface {
	Submit(ctx context.Context, unit batch.Unit) (issuer.Outcome, error)
}

// UnitResult is the final record for one batch unit. When filtering
// happened, Removed and OriginalRejection carry the individuals taken out
// and the rejection that named them, regardless of how the filtered
// attempt ended.
type UnitResult struct {
	Factura      string `json:"factura"`
	InsuredCount int    `json:"insured_count"`
	Attempts     int    `json:"attempts"`

	Succeeded bool   `json:"succeeded"`
	TicketID  string `json:"ticket_id,omitempty"`

	// AllRejected marks the terminal case where active coverage removed
	// every insured, so no filtered attempt was made.
	AllRejected bool `json:"all_rejected,omitempty"`

	Removed           []batch.Insured `json:"removed,omitempty"`
	OriginalRejection *issuer.Outcome `json:"original_rejection,omitempty"`

	Failure        *issuer.Outcome `json:"failure,omitempty"`
	TransportError string          `json:"transport_error,omitempty"`
}

// Failed reports whether the unit ended without a confirmed issuance.
func (r UnitResult) Failed() bool {
	return !r.Succeeded
}

// Processor applies the single-retry rejection policy to batch units. A
// unit gets at most two submissions: the original, and one filtered
// resubmission when the first came back 417 with named individuals.
type Processor struct {
	submitter Submitter
	log       *zap.SugaredLogger
}

// NewProcessor creates a processor over the given submitter.
func NewProcessor(submitter Submitter, log *zap.SugaredLogger) *Processor {
	if log == nil {
		log = logger.Logger
	}
	return &Processor{submitter: submitter, log: log}
}

// ProcessUnit runs one batch unit to its final record.
func (p *Processor) ProcessUnit(ctx context.Context, unit batch.Unit) UnitResult {
	result := UnitResult{
		Factura:      unit.Factura,
		InsuredCount: len(unit.Insured),
	}

	outcome, err := p.submitter.Submit(ctx, unit)
	result.Attempts = 1
	if err != nil {
		result.TransportError = err.Error()
		p.log.Errorw("batch unit submission failed",
			logger.FieldFactura, unit.Factura,
			logger.FieldError, err,
		)
		return result
	}

	if outcome.Success {
		result.Succeeded = true
		result.TicketID = outcome.TicketID
		return result
	}

	if !outcome.NeedsFilter() {
		result.Failure = &outcome
		return result
	}

	// Active-coverage rejection with named individuals: filter and try the
	// survivors exactly once. The original rejection stays on the record.
	kept, removed := batch.Filter(unit, outcome.Rejected)
	result.Removed = removed
	result.OriginalRejection = &outcome

	p.log.Warnw("filtering batch unit after active-coverage rejection",
		logger.FieldFactura, unit.Factura,
		logger.FieldRemoved, len(removed),
		logger.FieldInsured, len(kept.Insured),
	)

	if len(kept.Insured) == 0 {
		result.AllRejected = true
		result.Failure = &outcome
		p.log.Warnw("all individuals rejected, skipping resubmission",
			logger.FieldFactura, unit.Factura,
		)
		return result
	}

	retryOutcome, err := p.submitter.Submit(ctx, kept)
	result.Attempts = 2
	if err != nil {
		result.TransportError = err.Error()
		p.log.Errorw("filtered resubmission failed",
			logger.FieldFactura, unit.Factura,
			logger.FieldError, err,
		)
		return result
	}

	if retryOutcome.Success {
		result.Succeeded = true
		result.TicketID = retryOutcome.TicketID
		return result
	}

	// No further filtering, even if the retry came back 417 again.
	result.Failure = &retryOutcome
	return result
}
