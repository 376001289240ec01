// Package report assembles the final session report from persisted run
// outcomes and session state. Rendering and delivery (email, HTML) are
// external; this package hands them a complete payload through the Sink
// interface and ships a JSON outbox sink as glue.
package report

import (
	"time"

	"go.uber.org/zap"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/coordination"
	"github.com/segurotech/emisor/emission"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
	"github.com/segurotech/emisor/outcome"
)

// StatusFlag summarizes a whole session for the report header.
type StatusFlag string

const (
	StatusSuccess        StatusFlag = "success"
	StatusSuccessNoData  StatusFlag = "success_no_data"
	StatusPartialTimeout StatusFlag = "partial_timeout"
	StatusFailure        StatusFlag = "failure"
)

// RemovedIndividual is one person filtered out for active coverage,
// carried into the report with display fields and the conflicting ticket.
type RemovedIndividual struct {
	Name      string `json:"name"`
	Passport  string `json:"passport,omitempty"`
	Identity  string `json:"identity,omitempty"`
	Factura   string `json:"factura"`
	TicketID  string `json:"ticket_id,omitempty"`
	Birthdate string `json:"birthdate,omitempty"`
}

// PipelineSection is one pipeline's slice of the final report.
type PipelineSection struct {
	Pipeline     batch.PipelineType   `json:"pipeline"`
	Status       coordination.Status  `json:"status"`
	TriggerLabel string               `json:"trigger_label,omitempty"`
	RunID        string               `json:"run_id,omitempty"`
	NoData       bool                 `json:"no_data,omitempty"`
	Stats        emission.Stats       `json:"stats"`
	Removed      []RemovedIndividual  `json:"removed_individuals,omitempty"`
	Failures     []outcome.DetailedFailure `json:"failures,omitempty"`
}

// Payload is the complete final report for one session.
type Payload struct {
	SessionID   string              `json:"session_id"`
	Reason      coordination.Reason `json:"reason"`
	Status      StatusFlag          `json:"status"`
	GeneratedAt time.Time           `json:"generated_at"`
	Pipelines   []PipelineSection   `json:"pipelines"`
}

// Assembler builds report payloads from the session registry and the
// outcome store.
type Assembler struct {
	sessions *coordination.Store
	outcomes *outcome.Store
	log      *zap.SugaredLogger
}

// NewAssembler creates an assembler over the two stores.
func NewAssembler(sessions *coordination.Store, outcomes *outcome.Store, log *zap.SugaredLogger) *Assembler {
	if log == nil {
		log = logger.Logger
	}
	return &Assembler{sessions: sessions, outcomes: outcomes, log: log}
}

// Build assembles the final payload for a session. Only pipelines that
// participated in the session get a section.
func (a *Assembler) Build(session *coordination.Session, reason coordination.Reason) (Payload, error) {
	payload := Payload{
		SessionID:   session.ID,
		Reason:      reason,
		GeneratedAt: time.Now().UTC(),
	}

	for _, pipeline := range []batch.PipelineType{batch.TypeSI, batch.TypeViajeros} {
		status := session.StatusOf(pipeline)
		if !status.Active() {
			continue
		}
		section, err := a.buildSection(session, pipeline, status)
		if err != nil {
			return Payload{}, err
		}
		payload.Pipelines = append(payload.Pipelines, section)
	}

	payload.Status = sessionStatus(reason, payload.Pipelines)
	return payload, nil
}

func (a *Assembler) buildSection(session *coordination.Session, pipeline batch.PipelineType, status coordination.Status) (PipelineSection, error) {
	section := PipelineSection{
		Pipeline: pipeline,
		Status:   status,
	}

	label, err := a.sessions.LatestTriggerLabel(session.ID, pipeline)
	if err != nil {
		return PipelineSection{}, err
	}
	section.TriggerLabel = label

	// Only this session's own run counts; a still-running pipeline must not
	// borrow stats from an earlier session's saved run
	runID, err := a.sessions.LatestRunID(session.ID, pipeline)
	if err != nil {
		return PipelineSection{}, err
	}
	if runID == "" {
		section.NoData = true
		return section, nil
	}

	run, err := a.outcomes.Run(pipeline, runID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			// Recorded but never saved: the run failed before persisting
			section.NoData = true
			return section, nil
		}
		return PipelineSection{}, err
	}

	section.RunID = run.RunID
	section.NoData = run.NoData
	section.Stats = run.Stats
	section.Removed = collectRemoved(run)

	failures, err := a.outcomes.DetailedFailures(pipeline, runID)
	if err != nil {
		return PipelineSection{}, err
	}
	section.Failures = failures
	return section, nil
}

func collectRemoved(run emission.RunResult) []RemovedIndividual {
	var removed []RemovedIndividual
	for _, result := range run.Results {
		rejected := map[string]string{}
		if result.OriginalRejection != nil {
			for _, r := range result.OriginalRejection.Rejected {
				if r.Passport != "" {
					rejected[r.Passport] = r.TicketID
				}
				if r.Identity != "" {
					rejected[r.Identity] = r.TicketID
				}
			}
		}
		for _, ins := range result.Removed {
			individual := RemovedIndividual{
				Name:      ins.DisplayName(),
				Passport:  ins.Passport,
				Identity:  ins.Identity,
				Factura:   result.Factura,
				Birthdate: ins.Birthdate,
			}
			if ticket, ok := rejected[ins.Passport]; ok && ins.Passport != "" {
				individual.TicketID = ticket
			} else if ticket, ok := rejected[ins.Identity]; ok && ins.Identity != "" {
				individual.TicketID = ticket
			}
			removed = append(removed, individual)
		}
	}
	return removed
}

// sessionStatus reduces the per-pipeline sections to one header flag.
func sessionStatus(reason coordination.Reason, sections []PipelineSection) StatusFlag {
	switch reason {
	case coordination.ReasonTimeout:
		return StatusPartialTimeout
	case coordination.ReasonCoordinationFailed:
		return StatusFailure
	}

	anyData := false
	for _, section := range sections {
		if section.Status == coordination.StatusFailed {
			return StatusFailure
		}
		if section.Stats.FailedUnits > 0 {
			return StatusFailure
		}
		if !section.NoData {
			anyData = true
		}
	}
	if !anyData {
		return StatusSuccessNoData
	}
	return StatusSuccess
}
