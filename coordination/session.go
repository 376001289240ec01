// Package coordination tracks concurrently triggered pipeline runs in a
// shared sqlite session registry and decides when the session's single
// final report goes out.
package coordination

import (
	"time"

	"github.com/segurotech/emisor/batch"
)

// Status is a pipeline's state within a session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the pipeline finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the pipeline participated in the session at all.
func (s Status) Active() bool {
	return s == StatusRunning || s.Terminal()
}

// Session is one coordination window shared by the two pipeline types.
// FinalReportSent is the at-most-once latch: once set, no further automatic
// report leaves this session.
type Session struct {
	ID string

	SIStatus       Status
	ViajerosStatus Status

	SIStartedAt         *time.Time
	ViajerosStartedAt   *time.Time
	SICompletedAt       *time.Time
	ViajerosCompletedAt *time.Time

	FinalReportSent bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusOf returns the session status of one pipeline type.
func (s *Session) StatusOf(pipeline batch.PipelineType) Status {
	if pipeline == batch.TypeSI {
		return s.SIStatus
	}
	return s.ViajerosStatus
}

// StartedAt returns when a pipeline started in this session, nil if it
// never did.
func (s *Session) StartedAt(pipeline batch.PipelineType) *time.Time {
	if pipeline == batch.TypeSI {
		return s.SIStartedAt
	}
	return s.ViajerosStartedAt
}

// BothTerminal reports whether both pipelines reached a terminal status.
func (s *Session) BothTerminal() bool {
	return s.SIStatus.Terminal() && s.ViajerosStatus.Terminal()
}

// AnyTerminal reports whether at least one pipeline reached a terminal
// status.
func (s *Session) AnyTerminal() bool {
	return s.SIStatus.Terminal() || s.ViajerosStatus.Terminal()
}

// SoleTerminal returns the pipeline type that finished while its
// counterpart never became active, and whether that situation holds.
func (s *Session) SoleTerminal() (batch.PipelineType, bool) {
	if s.SIStatus.Terminal() && !s.ViajerosStatus.Active() {
		return batch.TypeSI, true
	}
	if s.ViajerosStatus.Terminal() && !s.SIStatus.Active() {
		return batch.TypeViajeros, true
	}
	return "", false
}

// FirstStartedAt returns the earliest pipeline start in the session, or
// the session's creation time if nothing started yet. The bounded
// coordination wait is measured from this instant.
func (s *Session) FirstStartedAt() time.Time {
	first := s.CreatedAt
	set := false
	for _, started := range []*time.Time{s.SIStartedAt, s.ViajerosStartedAt} {
		if started == nil {
			continue
		}
		if !set || started.Before(first) {
			first = *started
			set = true
		}
	}
	return first
}

// Execution is one audit row: a single pipeline run within a session,
// labelled with what triggered it.
type Execution struct {
	ID           int64
	SessionID    string
	Pipeline     batch.PipelineType
	Status       Status
	TriggerLabel string
	RunID        string
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}
