// Package service wires configuration, storage, the issuance client,
// emission and coordination into the inbound batch-processing operation.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/config"
	"github.com/segurotech/emisor/coordination"
	"github.com/segurotech/emisor/emission"
	"github.com/segurotech/emisor/issuer"
	"github.com/segurotech/emisor/logger"
	"github.com/segurotech/emisor/outcome"
	"github.com/segurotech/emisor/report"
)

// Service processes normalized batch envelopes end to end: one session
// join, one run against the issuance API, persisted outcomes, and a
// completion signal to the coordinator.
type Service struct {
	cfg         *config.Config
	runner      *emission.Runner
	outcomes    *outcome.Store
	sessions    *coordination.Store
	coordinator *coordination.Coordinator
	log         *zap.SugaredLogger
}

// New creates a fully wired service over an open coordination database.
func New(cfg *config.Config, db *sql.DB, log *zap.SugaredLogger) *Service {
	client := issuer.New(cfg.Issuer, log)
	return NewWithSubmitter(cfg, db, client, log)
}

// NewWithSubmitter creates a service with a custom issuance submitter.
func NewWithSubmitter(cfg *config.Config, db *sql.DB, submitter emission.Submitter, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = logger.Logger
	}

	sessions := coordination.NewStore(db)
	outcomes := outcome.NewStore(cfg.Data.Dir, log)
	assembler := report.NewAssembler(sessions, outcomes, log)
	sink := report.NewOutboxSink(filepath.Join(cfg.Data.Dir, "outbox"))
	emitter := report.NewEmitter(assembler, sink, log)
	coordinator := coordination.New(sessions, emitter, cfg.Coordinator, log)

	return &Service{
		cfg:         cfg,
		runner:      emission.NewRunner(submitter, log),
		outcomes:    outcomes,
		sessions:    sessions,
		coordinator: coordinator,
		log:         log,
	}
}

// ProcessBatch runs one pipeline trigger end to end. Unit-level failures
// are part of a normal run; the returned error covers validation and
// infrastructure problems only.
func (s *Service) ProcessBatch(ctx context.Context, env batch.Envelope) error {
	if err := batch.ValidateEnvelope(env); err != nil {
		return err
	}

	sessionID, err := s.coordinator.StartSession(env.Pipeline, env.Label)
	if err != nil {
		return err
	}

	run := s.runner.Run(ctx, env)

	if err := s.outcomes.SaveRun(env, run); err != nil {
		// The run happened; the session must still close out
		completeErr := s.coordinator.CompletePipeline(ctx, sessionID, env.Pipeline, false, err.Error())
		if completeErr != nil {
			s.log.Errorw("failed to complete pipeline after save error",
				logger.FieldSessionID, sessionID,
				logger.FieldError, completeErr,
			)
		}
		return err
	}

	// Tie the run to its execution row before the row closes, so the final
	// report reads this session's outcomes
	if err := s.sessions.SetExecutionRun(sessionID, env.Pipeline, run.RunID); err != nil {
		s.log.Warnw("failed to record run on execution",
			logger.FieldSessionID, sessionID,
			logger.FieldRunID, run.RunID,
			logger.FieldError, err,
		)
	}

	success := run.Stats.FailedUnits == 0
	errorMessage := ""
	if !success {
		errorMessage = fmt.Sprintf("%d of %d units failed", run.Stats.FailedUnits, run.Stats.TotalUnits)
	}
	return s.coordinator.CompletePipeline(ctx, sessionID, env.Pipeline, success, errorMessage)
}

// ProcessBatchFile loads a normalized batch file and processes it.
func (s *Service) ProcessBatchFile(ctx context.Context, path string) error {
	env, err := batch.ReadEnvelopeFile(path)
	if err != nil {
		return err
	}
	return s.ProcessBatch(ctx, env)
}

// Sessions exposes the session registry for inspection commands.
func (s *Service) Sessions() *coordination.Store {
	return s.sessions
}

// Stop cancels session monitors and waits for them.
func (s *Service) Stop() {
	s.coordinator.Stop()
}
