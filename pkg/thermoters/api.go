// Package thermoters is the library entry point: it loads model bundles and
// datasets, scores them and records each call as a run.
package thermoters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"thermoters/internal/bundle"
	"thermoters/internal/energy"
	"thermoters/internal/evaluate"
	"thermoters/internal/model"
	"thermoters/internal/occupancy"
	"thermoters/internal/regress"
	"thermoters/internal/seq"
	"thermoters/internal/stats"
	"thermoters/internal/storage"
)

const (
	defaultArtifactsDir = "thermoters_runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "thermoters.db"

	// timestamps sort lexically in this layout
	timeLayout = "2006-01-02T15:04:05.000000000Z"

	KindBricks    = "bricks"
	KindOccupancy = "occupancy"
	KindEvaluate  = "evaluate"

	snapshotFile = "model.json"
)

var ErrNoInput = errors.New("no model or data supplied")

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	// Workers bounds the dinucleotide correction pool; 0 uses GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
	// Now overrides the clock used to stamp runs.
	Now func() time.Time
}

type Client struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	artifactsDir string
	exportsDir   string
	workers      int
}

// Input names the model and datasets of a call. In-memory values take
// precedence over paths.
type Input struct {
	ModelPath string
	Bundle    *bundle.Bundle
	DataPath  string
	Data      map[string]model.Partition
	Partition string
	// DataIDs defaults to the model's dataset ids.
	DataIDs []string
	// Dinucleotides applies the bundle's pairwise corrections.
	Dinucleotides bool
	// Persist records the run in the store and writes its artifacts.
	Persist bool
}

type BricksRequest struct {
	Input
	LengthConsistent bool
	SkipChemPot      bool
	ChemPotVariant   string
}

type BricksResult struct {
	RunID        string
	ArtifactsDir string
	Bricks       *model.BrickSet
	Summaries    []model.BrickSummary
}

type OccupancyRequest struct {
	Input
	LengthConsistent bool
	ChemPotVariant   string
}

type OccupancyResult struct {
	RunID        string
	ArtifactsDir string
	LogOccupancy *occupancy.Set
}

type EvaluateRequest struct {
	Input
	Objective   string
	Fit         *bool
	SkipMissing bool
}

type EvaluateResult struct {
	RunID        string
	ArtifactsDir string
	Keys         []string
	Scores       map[string]float64
	Skipped      map[string]string
	Summary      stats.ScoreSummary
	LogOccupancy *occupancy.Set
	// Bundle carries the refitted response models.
	Bundle *bundle.Bundle
}

type RunsRequest struct {
	Kind  string
	Limit int
}

type RunItem struct {
	RunID        string
	Kind         string
	CreatedAtUTC string
	Objective    string
	Partition    string
	Datasets     int
	TotalScore   float64
	Skipped      int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0, got %d", opts.Workers)
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		now:          now,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		workers:      opts.Workers,
	}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

type loaded struct {
	bundle    *bundle.Bundle
	partition model.Partition
	name      string
	ids       []string
	corrector energy.Corrector
}

func (c *Client) load(in Input) (loaded, error) {
	var out loaded
	b := in.Bundle
	if b == nil {
		if in.ModelPath == "" {
			return out, fmt.Errorf("%w: model", ErrNoInput)
		}
		var err error
		if b, err = bundle.LoadFile(in.ModelPath); err != nil {
			return out, err
		}
	}
	data := in.Data
	if data == nil {
		if in.DataPath == "" {
			return out, fmt.Errorf("%w: data", ErrNoInput)
		}
		var err error
		if data, err = bundle.LoadDataFile(in.DataPath); err != nil {
			return out, err
		}
	}
	name := in.Partition
	if name == "" {
		name = evaluate.DefaultPartition
	}
	partition, ok := data[name]
	if !ok {
		return out, fmt.Errorf("%w: %q", evaluate.ErrPartition, name)
	}
	ids := in.DataIDs
	if len(ids) == 0 {
		ids = b.Model.DataIDs
	}

	out = loaded{bundle: b, partition: partition, name: name, ids: ids, corrector: energy.NoCorrection{}}
	if in.Dinucleotides && len(b.Dinucleotides) > 0 {
		out.corrector = energy.DinucleotideCorrection{
			Coords:  b.Dinucleotides,
			Weights: b.DinucleotideWeights,
			Workers: c.workers,
		}
	}
	return out, nil
}

func (l loaded) sequences() (map[string]seq.Batch, error) {
	out := make(map[string]seq.Batch, len(l.ids))
	for _, id := range l.ids {
		rec, ok := l.partition[id]
		if !ok {
			continue
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", id, err)
		}
		out[id] = rec.Seqs
	}
	return out, nil
}

// Bricks builds the energy bricks of every requested dataset.
func (c *Client) Bricks(ctx context.Context, req BricksRequest) (BricksResult, error) {
	in, err := c.load(req.Input)
	if err != nil {
		return BricksResult{}, err
	}
	seqs, err := in.sequences()
	if err != nil {
		return BricksResult{}, err
	}
	bricks, err := energy.BuildBricks(in.bundle.Model, in.ids, seqs, energy.BuildOptions{
		SkipChemPot:      req.SkipChemPot,
		ChemPotVariant:   req.ChemPotVariant,
		LengthConsistent: req.LengthConsistent,
		Corrector:        in.corrector,
	})
	if err != nil {
		return BricksResult{}, err
	}

	var summaries []model.BrickSummary
	for _, key := range bricks.Keys {
		b, _ := bricks.Get(key)
		summaries = append(summaries, energy.Summarize(key, b)...)
	}
	c.logger.Info("bricks built", "datasets", len(in.ids), "bricks", len(bricks.Keys), "length_consistent", req.LengthConsistent)

	out := BricksResult{Bricks: bricks, Summaries: summaries}
	if req.Persist {
		run := c.newRun(KindBricks, req.Input, in)
		run.Summaries = summaries
		dir, err := c.persist(ctx, run, stats.RunArtifacts{Summaries: summaries}, req.LengthConsistent, nil)
		if err != nil {
			return BricksResult{}, err
		}
		out.RunID, out.ArtifactsDir = run.ID, dir
	}
	return out, nil
}

// Occupancy converts each dataset's scaled bricks into log10 occupancy.
func (c *Client) Occupancy(ctx context.Context, req OccupancyRequest) (OccupancyResult, error) {
	in, err := c.load(req.Input)
	if err != nil {
		return OccupancyResult{}, err
	}
	seqs, err := in.sequences()
	if err != nil {
		return OccupancyResult{}, err
	}
	m := in.bundle.Model
	bricks, err := energy.BuildBricks(m, in.ids, seqs, energy.BuildOptions{
		ChemPotVariant:   req.ChemPotVariant,
		LengthConsistent: req.LengthConsistent,
		Corrector:        in.corrector,
	})
	if err != nil {
		return OccupancyResult{}, err
	}
	set, err := occupancy.NewConverter(m).Convert(bricks.Scaled(m.EnergyScale))
	if err != nil {
		return OccupancyResult{}, err
	}
	c.logger.Info("occupancy computed", "datasets", len(set.Keys), "bind_mode", m.BindMode)

	out := OccupancyResult{LogOccupancy: set}
	if req.Persist {
		run := c.newRun(KindOccupancy, req.Input, in)
		run.LogOccupancy = set.Values
		dir, err := c.persist(ctx, run, stats.RunArtifacts{DataIDs: set.Keys, LogOccupancy: set.Values}, req.LengthConsistent, nil)
		if err != nil {
			return OccupancyResult{}, err
		}
		out.RunID, out.ArtifactsDir = run.ID, dir
	}
	return out, nil
}

// Evaluate scores the partition under one objective. When the response
// models were refitted and the run is persisted, the refitted bundle is
// stored as the run's model snapshot.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResult, error) {
	objective, err := evaluate.ParseObjective(req.Objective)
	if err != nil {
		return EvaluateResult{}, err
	}
	in, err := c.load(req.Input)
	if err != nil {
		return EvaluateResult{}, err
	}
	engine := evaluate.NewEngine(in.bundle.Model, map[string]model.Partition{in.name: in.partition}, c.logger)
	res, err := engine.Evaluate(ctx, evaluate.Request{
		Objective:   objective,
		DataIDs:     in.ids,
		Partition:   in.name,
		Fit:         req.Fit,
		Corrector:   in.corrector,
		SkipMissing: req.SkipMissing,
	})
	if err != nil {
		return EvaluateResult{}, err
	}

	skipped := make(map[string]string, len(res.Skipped))
	for id, err := range res.Skipped {
		skipped[id] = err.Error()
	}
	out := EvaluateResult{
		Keys:         res.Keys,
		Scores:       res.Scores,
		Skipped:      skipped,
		Summary:      stats.SummarizeScores(res.Scores),
		LogOccupancy: res.LogOccupancy,
		Bundle:       in.bundle,
	}
	c.logger.Info("evaluation finished", "objective", objective, "partition", in.name, "datasets", len(res.Keys), "skipped", len(skipped), "total", out.Summary.Total)

	if req.Persist {
		fitted := fitRequested(req.Fit, in.name)
		run := c.newRun(KindEvaluate, req.Input, in)
		run.Objective = string(objective)
		run.Scores = res.Scores
		run.LogOccupancy = res.LogOccupancy.Values
		run.Skipped = skipped
		run.Params = regressorParams(in.bundle.Model, res.Keys)

		var snapshot []byte
		if fitted {
			var buf bytes.Buffer
			if err := bundle.Encode(&buf, in.bundle); err != nil {
				return EvaluateResult{}, err
			}
			snapshot = buf.Bytes()
		}
		dir, err := c.persist(ctx, run, stats.RunArtifacts{
			Scores:       res.Scores,
			Skipped:      skipped,
			DataIDs:      res.LogOccupancy.Keys,
			LogOccupancy: res.LogOccupancy.Values,
		}, false, snapshot)
		if err != nil {
			return EvaluateResult{}, err
		}
		out.RunID, out.ArtifactsDir = run.ID, dir
	}
	return out, nil
}

func fitRequested(fit *bool, partition string) bool {
	if fit != nil {
		return *fit
	}
	return evaluate.DefaultFit(partition)
}

func (c *Client) newRun(kind string, req Input, in loaded) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              uuid.NewString(),
		Kind:            kind,
		CreatedAtUTC:    c.now().UTC().Format(timeLayout),
		ModelPath:       req.ModelPath,
		Partition:       in.name,
		DataIDs:         append([]string(nil), in.ids...),
	}
}

func (c *Client) persist(ctx context.Context, run model.RunRecord, artifacts stats.RunArtifacts, lengthConsistent bool, snapshot []byte) (string, error) {
	if err := c.store.SaveRun(ctx, run); err != nil {
		return "", fmt.Errorf("save run %s: %w", run.ID, err)
	}
	if snapshot != nil {
		if err := c.store.SaveModelSnapshot(ctx, run.ID, snapshot); err != nil {
			return "", fmt.Errorf("save model snapshot %s: %w", run.ID, err)
		}
	}

	artifacts.Config = stats.RunConfig{
		RunID:            run.ID,
		Kind:             run.Kind,
		ModelPath:        run.ModelPath,
		Partition:        run.Partition,
		Objective:        run.Objective,
		DataIDs:          run.DataIDs,
		LengthConsistent: lengthConsistent,
		Fit:              snapshot != nil,
		Workers:          c.workers,
		CreatedAtUTC:     run.CreatedAtUTC,
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
	if err != nil {
		return "", err
	}
	summary := stats.SummarizeScores(run.Scores)
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        run.ID,
		Kind:         run.Kind,
		Objective:    run.Objective,
		Partition:    run.Partition,
		Datasets:     len(run.DataIDs),
		TotalScore:   summary.Total,
		CreatedAtUTC: run.CreatedAtUTC,
	}); err != nil {
		return "", err
	}
	c.logger.Debug("run persisted", "run_id", run.ID, "kind", run.Kind, "dir", runDir)
	return filepath.Clean(runDir), nil
}

// regressorParams flattens the response model of each dataset for the run
// record.
func regressorParams(m *model.MatrixModel, ids []string) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, id := range ids {
		reg, ok := m.Regressors[id]
		if !ok {
			continue
		}
		switch r := reg.(type) {
		case *regress.Logistic:
			params := make(map[string]float64, 2*len(r.Intercepts))
			for k := range r.Intercepts {
				params["intercept_"+strconv.Itoa(k)] = r.Intercepts[k]
				params["slope_"+strconv.Itoa(k)] = r.Slopes[k]
			}
			out[id] = params
		case *regress.Linear:
			out[id] = map[string]float64{"alpha": r.Alpha, "beta": r.Beta}
		}
	}
	return out
}

// Runs lists stored runs newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runs, err := c.store.ListRuns(ctx, req.Kind)
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
		r := runs[i]
		out = append(out, RunItem{
			RunID:        r.ID,
			Kind:         r.Kind,
			CreatedAtUTC: r.CreatedAtUTC,
			Objective:    r.Objective,
			Partition:    r.Partition,
			Datasets:     len(r.DataIDs),
			TotalScore:   stats.SummarizeScores(r.Scores).Total,
			Skipped:      len(r.Skipped),
		})
	}
	return out, nil
}

func (c *Client) Run(ctx context.Context, runID string) (model.RunRecord, error) {
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

// Export copies a run's artifacts, plus its model snapshot when one was
// stored, into OutDir/<run id>.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	snapshot, ok, err := c.store.GetModelSnapshot(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if ok {
		if err := os.WriteFile(filepath.Join(exportedDir, snapshotFile), snapshot, 0o644); err != nil {
			return ExportSummary{}, err
		}
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

type CompareRequest struct {
	RunA string
	RunB string
}

// CompareRuns relates the scores of two runs dataset by dataset. Runs missing
// from the store are read back from their artifacts.
func (c *Client) CompareRuns(ctx context.Context, req CompareRequest) (stats.ScoreComparison, error) {
	if req.RunA == "" || req.RunB == "" {
		return stats.ScoreComparison{}, errors.New("compare requires two run ids")
	}
	objA, scoresA, err := c.runScores(ctx, req.RunA)
	if err != nil {
		return stats.ScoreComparison{}, err
	}
	objB, scoresB, err := c.runScores(ctx, req.RunB)
	if err != nil {
		return stats.ScoreComparison{}, err
	}
	if objA != objB {
		return stats.ScoreComparison{}, fmt.Errorf("runs scored different objectives: %q vs %q", objA, objB)
	}
	return stats.CompareScores(scoresA, scoresB), nil
}

func (c *Client) runScores(ctx context.Context, runID string) (string, map[string]float64, error) {
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", nil, err
	}
	if ok {
		return run.Objective, run.Scores, nil
	}
	cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, fmt.Errorf("run not found: %s", runID)
	}
	scores, _, err := stats.ReadScores(c.artifactsDir, runID)
	if err != nil {
		return "", nil, err
	}
	return cfg.Objective, scores, nil
}
