package coordination

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/config"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
)

// Reason explains why a session's final report is being emitted.
type Reason string

const (
	// ReasonBothComplete means both pipelines reached a terminal status.
	ReasonBothComplete Reason = "both_complete"
	// ReasonSinglePipeline means only one pipeline was ever active and it
	// finished.
	ReasonSinglePipeline Reason = "single_pipeline"
	// ReasonTimeout means the bounded wait for the counterpart expired
	// while at least one pipeline had finished.
	ReasonTimeout Reason = "timeout"
	// ReasonCoordinationFailed means the bounded wait expired with no
	// pipeline in a terminal status at all.
	ReasonCoordinationFailed Reason = "coordination_failed"
)

// ReportEmitter receives the single final report decision per session. The
// coordinator claims the session latch before calling it, so Emit runs at
// most once per session no matter how completions and timers interleave.
type ReportEmitter interface {
	Emit(ctx context.Context, session *Session, reason Reason) error
}

// Coordinator merges concurrently triggered pipeline runs into sessions
// and emits exactly one final report per session: immediately when the
// session's activity is complete, or after a bounded wait when one
// pipeline is still owed its counterpart.
type Coordinator struct {
	store   *Store
	emitter ReportEmitter
	log     *zap.SugaredLogger

	waitTimeout   time.Duration
	checkInterval time.Duration
	joinWindow    time.Duration

	mu       sync.Mutex
	monitors map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a coordinator from configuration.
func New(store *Store, emitter ReportEmitter, cfg config.CoordinatorConfig, log *zap.SugaredLogger) *Coordinator {
	return NewWithIntervals(store, emitter,
		time.Duration(cfg.WaitTimeoutSeconds)*time.Second,
		time.Duration(cfg.CheckIntervalSeconds)*time.Second,
		time.Duration(cfg.JoinWindowSeconds)*time.Second,
		log,
	)
}

// NewWithIntervals creates a coordinator with explicit durations.
func NewWithIntervals(store *Store, emitter ReportEmitter, waitTimeout, checkInterval, joinWindow time.Duration, log *zap.SugaredLogger) *Coordinator {
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Minute
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	if joinWindow <= 0 {
		joinWindow = 10 * time.Minute
	}
	if log == nil {
		log = logger.Logger
	}
	return &Coordinator{
		store:         store,
		emitter:       emitter,
		log:           log,
		waitTimeout:   waitTimeout,
		checkInterval: checkInterval,
		joinWindow:    joinWindow,
		monitors:      make(map[string]context.CancelFunc),
	}
}

// StartSession joins or creates the open session and marks the pipeline
// running in it. The trigger label lands on the execution audit row.
func (c *Coordinator) StartSession(pipeline batch.PipelineType, triggerLabel string) (string, error) {
	session, created, err := c.store.GetOrCreateOpenSession(c.joinWindow)
	if err != nil {
		return "", err
	}

	if created {
		c.log.Infow("created coordination session",
			logger.FieldSessionID, session.ID,
			logger.FieldPipelineType, string(pipeline),
		)
	} else {
		c.log.Infow("joined coordination session",
			logger.FieldSessionID, session.ID,
			logger.FieldPipelineType, string(pipeline),
		)
	}

	if err := c.store.MarkPipelineStarted(session.ID, pipeline); err != nil {
		return "", err
	}
	if _, err := c.store.AppendExecution(session.ID, pipeline, triggerLabel); err != nil {
		return "", err
	}
	return session.ID, nil
}

// CompletePipeline records a pipeline's terminal status in its session and
// evaluates whether the session's final report is due.
func (c *Coordinator) CompletePipeline(ctx context.Context, sessionID string, pipeline batch.PipelineType, success bool, errorMessage string) error {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}

	if err := c.store.MarkPipelineCompleted(sessionID, pipeline, status); err != nil {
		return err
	}
	if err := c.store.CompleteExecution(sessionID, pipeline, status, errorMessage); err != nil {
		return err
	}

	c.log.Infow("pipeline completed in session",
		logger.FieldSessionID, sessionID,
		logger.FieldPipelineType, string(pipeline),
		"status", string(status),
	)

	return c.evaluate(ctx, sessionID)
}

// evaluate applies the finalization rules to the session's current state.
// Late completions on a finalized session fall through without a second
// report.
func (c *Coordinator) evaluate(ctx context.Context, sessionID string) error {
	session, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}

	if session.FinalReportSent {
		c.stopMonitor(sessionID)
		c.log.Infow("session already finalized",
			logger.FieldSessionID, sessionID,
		)
		return nil
	}

	switch {
	case session.BothTerminal():
		return c.emitFinal(ctx, sessionID, ReasonBothComplete)
	default:
		if _, sole := session.SoleTerminal(); sole {
			return c.emitFinal(ctx, sessionID, ReasonSinglePipeline)
		}
		// One pipeline finished while its counterpart is running or still
		// expected: wait, bounded.
		c.startMonitor(sessionID, session.FirstStartedAt())
		return nil
	}
}

// emitFinal claims the session latch and, if this caller won, emits the
// final report. Losing the claim is not an error: someone else already
// emitted.
func (c *Coordinator) emitFinal(ctx context.Context, sessionID string, reason Reason) error {
	won, err := c.store.TryMarkReportSent(sessionID)
	if err != nil {
		return err
	}
	if !won {
		c.stopMonitor(sessionID)
		return nil
	}

	c.stopMonitor(sessionID)

	session, err := c.store.GetSession(sessionID)
	if err != nil {
		return err
	}

	c.log.Infow("emitting final session report",
		logger.FieldSessionID, sessionID,
		"reason", string(reason),
	)

	if err := c.emitter.Emit(ctx, session, reason); err != nil {
		// The latch stays claimed: a failed emission is surfaced, not
		// retried automatically.
		return errors.Wrapf(err, "failed to emit final report for session %s", sessionID)
	}
	return nil
}

// startMonitor launches the bounded-wait monitor for a session, once.
func (c *Coordinator) startMonitor(sessionID string, firstStart time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, running := c.monitors[sessionID]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.monitors[sessionID] = cancel
	c.wg.Add(1)

	deadline := firstStart.Add(c.waitTimeout)
	c.log.Infow("started coordination monitor",
		logger.FieldSessionID, sessionID,
		"deadline", deadline.Format(time.RFC3339),
	)

	go c.monitor(ctx, sessionID, deadline)
}

func (c *Coordinator) stopMonitor(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.monitors[sessionID]; ok {
		cancel()
		delete(c.monitors, sessionID)
	}
}

// monitor re-checks the session until it finalizes or the deadline passes.
// The at-most-once guarantee never rests on the monitor being cancelled in
// time; every emission path still goes through the latch.
func (c *Coordinator) monitor(ctx context.Context, sessionID string, deadline time.Time) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		session, err := c.store.GetSession(sessionID)
		if err != nil {
			c.log.Errorw("coordination monitor failed to load session",
				logger.FieldSessionID, sessionID,
				logger.FieldError, err,
			)
			return
		}
		if session.FinalReportSent {
			c.stopMonitor(sessionID)
			return
		}

		var reason Reason
		switch {
		case session.BothTerminal():
			reason = ReasonBothComplete
		default:
			if _, sole := session.SoleTerminal(); sole {
				reason = ReasonSinglePipeline
			} else if !time.Now().Before(deadline) {
				if session.AnyTerminal() {
					reason = ReasonTimeout
				} else {
					// A duplicate trigger can put a finished pipeline back to
					// running; a deadline with nothing terminal is a failure,
					// not a partial result
					reason = ReasonCoordinationFailed
				}
			} else {
				continue
			}
		}

		// Not the monitor's own context: emitting cancels it via stopMonitor
		if err := c.emitFinal(context.Background(), sessionID, reason); err != nil {
			c.log.Errorw("coordination monitor failed to emit report",
				logger.FieldSessionID, sessionID,
				logger.FieldError, err,
			)
		}
		return
	}
}

// Stop cancels all session monitors and waits for them to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	for id, cancel := range c.monitors {
		cancel()
		delete(c.monitors, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
