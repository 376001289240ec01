// Package outcome persists run results on disk for the report collaborator:
// append-only per-unit records partitioned by pipeline type and run id, plus
// latest-run documents (statistics and detailed failures) that downstream
// rendering reads.
package outcome

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/emission"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
)

const (
	latestRunFile     = "latest_run.json"
	detailedFailsFile = "latest_detailed_failures.json"
	runsSubdir        = "runs"
	partitionDirPerm  = 0o755
	partitionFilePerm = 0o644
)

// Record is one appended outcome line: a unit's final result tagged with
// its run and pipeline.
type Record struct {
	RunID      string              `json:"run_id"`
	Pipeline   batch.PipelineType  `json:"pipeline"`
	RecordedAt time.Time           `json:"recorded_at"`
	Result     emission.UnitResult `json:"result"`
}

// Store writes and reads outcome partitions under the data directory.
// Records are append-only; nothing in the store rewrites an existing run
// partition.
type Store struct {
	dir string
	log *zap.SugaredLogger
}

// NewStore creates a store rooted at dataDir.
func NewStore(dataDir string, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = logger.Logger
	}
	return &Store{dir: dataDir, log: log}
}

func (s *Store) partitionDir(pipeline batch.PipelineType) string {
	return filepath.Join(s.dir, string(pipeline))
}

func (s *Store) runFile(pipeline batch.PipelineType, runID string) string {
	return filepath.Join(s.partitionDir(pipeline), runsSubdir, runID+".jsonl")
}

func (s *Store) runSummaryFile(pipeline batch.PipelineType, runID string) string {
	return filepath.Join(s.partitionDir(pipeline), runsSubdir, runID+".json")
}

func (s *Store) runFailuresFile(pipeline batch.PipelineType, runID string) string {
	return filepath.Join(s.partitionDir(pipeline), runsSubdir, runID+"_failures.json")
}

// Append adds one unit result to the run's partition.
func (s *Store) Append(pipeline batch.PipelineType, runID string, result emission.UnitResult) error {
	record := Record{
		RunID:      runID,
		Pipeline:   pipeline,
		RecordedAt: time.Now().UTC(),
		Result:     result,
	}

	path := s.runFile(pipeline, runID)
	if err := os.MkdirAll(filepath.Dir(path), partitionDirPerm); err != nil {
		return errors.Wrap(err, "failed to create outcome partition")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, partitionFilePerm)
	if err != nil {
		return errors.Wrapf(err, "failed to open outcome partition %s", path)
	}
	defer f.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to encode outcome record")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrapf(err, "failed to append outcome record for factura %s", result.Factura)
	}
	return nil
}

// ReadRun returns every record appended for one run, in append order.
func (s *Store) ReadRun(pipeline batch.PipelineType, runID string) ([]Record, error) {
	path := s.runFile(pipeline, runID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("no outcome records for %s run %s", pipeline, runID)
		}
		return nil, errors.Wrapf(err, "failed to open outcome partition %s", path)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, errors.Wrapf(err, "corrupt outcome record in %s", path)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read outcome partition %s", path)
	}
	return records, nil
}

// SaveRun persists a completed run: every unit result appended to the run
// partition, the run's own summary and detailed-failure documents, plus
// the latest-run documents for the pipeline.
func (s *Store) SaveRun(env batch.Envelope, run emission.RunResult) error {
	for _, result := range run.Results {
		if err := s.Append(run.Pipeline, run.RunID, result); err != nil {
			return err
		}
	}

	failures := BuildDetailedFailures(env, run)

	if err := s.writeJSON(s.runSummaryFile(run.Pipeline, run.RunID), run); err != nil {
		return err
	}
	if err := s.writeJSON(s.runFailuresFile(run.Pipeline, run.RunID), failures); err != nil {
		return err
	}

	if err := s.writeJSON(filepath.Join(s.partitionDir(run.Pipeline), latestRunFile), run); err != nil {
		return err
	}
	if err := s.writeJSON(filepath.Join(s.partitionDir(run.Pipeline), detailedFailsFile), failures); err != nil {
		return err
	}

	s.log.Infow("run outcomes saved",
		logger.FieldRunID, run.RunID,
		logger.FieldPipelineType, string(run.Pipeline),
		"records", len(run.Results),
		"failures", len(failures),
	)
	return nil
}

// Run returns one saved run by id.
func (s *Store) Run(pipeline batch.PipelineType, runID string) (emission.RunResult, error) {
	path := s.runSummaryFile(pipeline, runID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emission.RunResult{}, errors.NewNotFoundError("no saved run %s for pipeline %s", runID, pipeline)
		}
		return emission.RunResult{}, errors.Wrapf(err, "failed to read %s", path)
	}

	var run emission.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return emission.RunResult{}, errors.Wrapf(err, "corrupt run document %s", path)
	}
	return run, nil
}

// DetailedFailures returns the per-factura failure detail saved with one
// run. A run without failures returns an empty slice.
func (s *Store) DetailedFailures(pipeline batch.PipelineType, runID string) ([]DetailedFailure, error) {
	path := s.runFailuresFile(pipeline, runID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var failures []DetailedFailure
	if err := json.Unmarshal(data, &failures); err != nil {
		return nil, errors.Wrapf(err, "corrupt detailed-failures document %s", path)
	}
	return failures, nil
}

// LatestRun returns the most recently saved run for a pipeline type.
func (s *Store) LatestRun(pipeline batch.PipelineType) (emission.RunResult, error) {
	path := filepath.Join(s.partitionDir(pipeline), latestRunFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emission.RunResult{}, errors.NewNotFoundError("no completed runs for pipeline %s", pipeline)
		}
		return emission.RunResult{}, errors.Wrapf(err, "failed to read %s", path)
	}

	var run emission.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return emission.RunResult{}, errors.Wrapf(err, "corrupt latest-run document %s", path)
	}
	return run, nil
}

// LatestDetailedFailures returns the per-factura failure detail saved with
// the pipeline's most recent run. A pipeline with no failures yet returns
// an empty slice.
func (s *Store) LatestDetailedFailures(pipeline batch.PipelineType) ([]DetailedFailure, error) {
	path := filepath.Join(s.partitionDir(pipeline), detailedFailsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var failures []DetailedFailure
	if err := json.Unmarshal(data, &failures); err != nil {
		return nil, errors.Wrapf(err, "corrupt detailed-failures document %s", path)
	}
	return failures, nil
}

func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), partitionDirPerm); err != nil {
		return errors.Wrap(err, "failed to create outcome partition")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", filepath.Base(path))
	}
	// Write-then-rename so the report collaborator never reads a torn file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, partitionFilePerm); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
