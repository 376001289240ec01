package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/segurotech/emisor/coordination"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
)

// Sink delivers an assembled payload to the external rendering
// collaborator.
type Sink interface {
	Deliver(ctx context.Context, payload Payload) error
}

// Emitter satisfies the coordinator's report hook: assemble the payload
// for the finalized session and hand it to the sink.
type Emitter struct {
	assembler *Assembler
	sink      Sink
	log       *zap.SugaredLogger
}

// NewEmitter creates an emitter over an assembler and a sink.
func NewEmitter(assembler *Assembler, sink Sink, log *zap.SugaredLogger) *Emitter {
	if log == nil {
		log = logger.Logger
	}
	return &Emitter{assembler: assembler, sink: sink, log: log}
}

// Emit builds and delivers the session's final report.
func (e *Emitter) Emit(ctx context.Context, session *coordination.Session, reason coordination.Reason) error {
	payload, err := e.assembler.Build(session, reason)
	if err != nil {
		return errors.Wrapf(err, "failed to assemble report for session %s", session.ID)
	}

	e.log.Infow("delivering final session report",
		logger.FieldSessionID, session.ID,
		"status", string(payload.Status),
		"pipelines", len(payload.Pipelines),
	)
	return e.sink.Deliver(ctx, payload)
}

// OutboxSink writes payloads as JSON files into an outbox directory where
// the rendering collaborator picks them up.
type OutboxSink struct {
	dir string
}

// NewOutboxSink creates a sink writing under dir.
func NewOutboxSink(dir string) *OutboxSink {
	return &OutboxSink{dir: dir}
}

// Deliver writes the payload to <dir>/report_<session>.json.
func (s *OutboxSink) Deliver(_ context.Context, payload Payload) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create report outbox")
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode report payload")
	}

	path := filepath.Join(s.dir, "report_"+payload.SessionID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write report %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to publish report %s", path)
	}
	return nil
}
