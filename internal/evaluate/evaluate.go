// Package evaluate scores predicted occupancy against measured expression
// for each dataset of a partition.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"

	"thermoters/internal/datasetid"
	"thermoters/internal/energy"
	"thermoters/internal/model"
	"thermoters/internal/occupancy"
	"thermoters/internal/regress"
	"thermoters/internal/seq"
)

const DefaultPartition = "training"

var (
	ErrObjective = errors.New("unknown objective")
	ErrPartition = errors.New("unknown data partition")
	ErrResponse  = errors.New("invalid response data")
)

type Objective string

const (
	// MLogL is the weighted negative log-likelihood of the observed classes.
	MLogL Objective = "mlogL"
	// R2 is 1 - wMSE/wVar of the dataset's own predictor.
	R2 Objective = "r2"
	// LinR2 is the weighted R² of a fresh linear fit of the response.
	LinR2 Objective = "linR2"
)

func ParseObjective(s string) (Objective, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mlogl":
		return MLogL, nil
	case "r2":
		return R2, nil
	case "linr2":
		return LinR2, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrObjective, s)
	}
}

// ChemPotVariant is the bundle key of the objective-specific chemical
// potential table.
func (o Objective) ChemPotVariant() string {
	return model.DefaultChemPotVariant + "_" + string(o)
}

// Request selects the datasets and objective of one evaluation.
type Request struct {
	Objective Objective
	// DataIDs defaults to the model's dataset ids.
	DataIDs []string
	// Partition defaults to DefaultPartition.
	Partition string
	// Fit refits each dataset's regressor before scoring; nil means fit
	// when the partition name contains "train".
	Fit *bool
	// LogOccupancy and Bricks, when set, are reused instead of rescoring.
	// Bricks must be unscaled.
	LogOccupancy *occupancy.Set
	Bricks       *model.BrickSet
	// ChemPotVariant overrides the objective-specific table.
	ChemPotVariant string
	Corrector      energy.Corrector
	// SkipMissing skips datasets whose record, chemical potential,
	// threshold or regressor is missing or ambiguous instead of failing the
	// call.
	SkipMissing bool
}

// DefaultFit reports whether response models are refit when a request
// leaves Fit unset: only on training partitions.
func DefaultFit(partition string) bool {
	return strings.Contains(partition, "train")
}

type Result struct {
	Keys         []string
	Scores       map[string]float64
	Skipped      map[string]error
	LogOccupancy *occupancy.Set
}

// Engine evaluates one model against partitioned data. Evaluate may be
// called concurrently; refitting a dataset's regressor is serialised per
// dataset id.
type Engine struct {
	Model  *model.MatrixModel
	Data   map[string]model.Partition
	Logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(m *model.MatrixModel, data map[string]model.Partition, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Model: m, Data: data, Logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) datasetLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks == nil {
		e.locks = make(map[string]*sync.Mutex)
	}
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

func (e *Engine) Evaluate(ctx context.Context, req Request) (*Result, error) {
	switch req.Objective {
	case MLogL, R2, LinR2:
	default:
		return nil, fmt.Errorf("%w: %q", ErrObjective, req.Objective)
	}
	if err := e.Model.Validate(); err != nil {
		return nil, err
	}
	partitionName := req.Partition
	if partitionName == "" {
		partitionName = DefaultPartition
	}
	partition, ok := e.Data[partitionName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPartition, partitionName)
	}
	ids := req.DataIDs
	if len(ids) == 0 {
		ids = e.Model.DataIDs
	}
	fit := DefaultFit(partitionName)
	if req.Fit != nil {
		fit = *req.Fit
	}

	variant := req.ChemPotVariant
	if variant == "" && e.Model.HasChemPotVariant(req.Objective.ChemPotVariant()) {
		variant = req.Objective.ChemPotVariant()
	}

	out := &Result{
		Scores:       make(map[string]float64),
		Skipped:      make(map[string]error),
		LogOccupancy: occupancy.NewSet(),
	}
	converter := occupancy.NewConverter(e.Model)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logPon, score, err := e.evaluateOne(id, partition, partitionName, req, variant, fit, converter)
		if err != nil {
			if req.SkipMissing && skippable(err) {
				e.Logger.Warn("dataset skipped", "dataset", id, "err", err)
				out.Skipped[id] = err
				continue
			}
			return nil, err
		}
		out.LogOccupancy.Put(id, logPon)
		out.Keys = append(out.Keys, id)
		out.Scores[id] = score
		e.Logger.Debug("dataset evaluated", "dataset", id, "objective", req.Objective, "score", score, "fit", fit)
	}
	return out, nil
}

// skippable reports whether err comes from a dataset id that could not be
// resolved to exactly one record, potential, threshold or regressor.
func skippable(err error) bool {
	return errors.Is(err, datasetid.ErrNotFound) || errors.Is(err, datasetid.ErrAmbiguous)
}

func (e *Engine) evaluateOne(id string, partition model.Partition, partitionName string, req Request, variant string, fit bool, converter *occupancy.Converter) ([]float64, float64, error) {
	record, ok := partition[id]
	if !ok {
		return nil, 0, fmt.Errorf("dataset %s: %w in partition %q", id, datasetid.ErrNotFound, partitionName)
	}
	if err := record.Validate(); err != nil {
		return nil, 0, fmt.Errorf("dataset %s: %w", id, err)
	}
	logPon, err := e.logOccupancy(id, record.Seqs, req, variant, converter)
	if err != nil {
		return nil, 0, err
	}
	score, err := e.score(id, record, logPon, req.Objective, fit)
	if err != nil {
		return nil, 0, err
	}
	return logPon, score, nil
}

func (e *Engine) logOccupancy(id string, seqs seq.Batch, req Request, variant string, converter *occupancy.Converter) ([]float64, error) {
	if req.LogOccupancy != nil {
		if v, ok := req.LogOccupancy.Values[id]; ok {
			if len(v) != seqs.Len() {
				return nil, fmt.Errorf("dataset %s: %d occupancies for %d sequences: %w", id, len(v), seqs.Len(), ErrResponse)
			}
			return v, nil
		}
	}

	bricks := model.NewBrickSet()
	if req.Bricks != nil {
		for _, key := range []string{id, datasetid.Reverse(id)} {
			if b, ok := req.Bricks.Get(key); ok {
				bricks.Put(key, b)
			}
		}
	}
	if len(bricks.Keys) == 0 {
		built, err := energy.BuildBricks(e.Model, []string{id}, map[string]seq.Batch{id: seqs}, energy.BuildOptions{
			ChemPotVariant: variant,
			Corrector:      req.Corrector,
		})
		if err != nil {
			return nil, err
		}
		bricks = built
	}
	return converter.ConvertOne(id, bricks.Scaled(e.Model.EnergyScale))
}

func (e *Engine) score(id string, record model.DatasetRecord, logPon []float64, objective Objective, fit bool) (float64, error) {
	var reg model.Regressor
	if fit || objective != LinR2 {
		var (
			key string
			err error
		)
		reg, key, err = datasetid.Resolve(e.Model.Regressors, id)
		if err != nil {
			return 0, fmt.Errorf("dataset %s regressor: %w", id, err)
		}
		lock := e.datasetLock(key)
		lock.Lock()
		defer lock.Unlock()

		if fit {
			if record.DigiLums == nil {
				return 0, fmt.Errorf("dataset %s: %w: no class labels to fit", id, ErrResponse)
			}
			if err := reg.Fit(logPon, record.DigiLums, record.Weights); err != nil {
				return 0, fmt.Errorf("dataset %s fit: %w", id, err)
			}
		}
	}

	var (
		score float64
		err   error
	)
	switch objective {
	case MLogL:
		score, err = negLogLikelihood(reg, logPon, record)
	case R2:
		score, err = weightedR2(reg, logPon, record)
	default:
		score, err = linearR2(logPon, record)
	}
	if err != nil {
		return 0, fmt.Errorf("dataset %s: %w", id, err)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("dataset %s %s=%g: %w", id, objective, score, occupancy.ErrNonFinite)
	}
	return score, nil
}

// linearR2 is the weighted R² of a fresh linear fit of the continuous
// response on log occupancy.
func linearR2(x []float64, record model.DatasetRecord) (float64, error) {
	if record.Lums == nil {
		return 0, fmt.Errorf("%w: no continuous responses", ErrResponse)
	}
	lin := &regress.Linear{}
	if err := lin.FitFloat(x, record.Lums, record.Weights); err != nil {
		return 0, err
	}
	return lin.Score(x, record.Lums, record.Weights)
}

func negLogLikelihood(reg model.Regressor, x []float64, record model.DatasetRecord) (float64, error) {
	if record.DigiLums == nil {
		return 0, fmt.Errorf("%w: no class labels", ErrResponse)
	}
	logp, err := reg.PredictLogProba(x)
	if err != nil {
		return 0, err
	}
	if len(logp) != len(x) {
		return 0, fmt.Errorf("%w: %d probability rows for %d samples", ErrResponse, len(logp), len(x))
	}
	var total float64
	for i, label := range record.DigiLums {
		if label < 0 || label >= len(logp[i]) {
			return 0, fmt.Errorf("%w: class %d outside %d predicted classes", ErrResponse, label, len(logp[i]))
		}
		total -= logp[i][label] * record.Weights[i]
	}
	return total, nil
}

func weightedR2(reg model.Regressor, x []float64, record model.DatasetRecord) (float64, error) {
	if record.Lums == nil {
		return 0, fmt.Errorf("%w: no continuous responses", ErrResponse)
	}
	pred, err := reg.Predict(x)
	if err != nil {
		return 0, err
	}
	if len(pred) != len(x) {
		return 0, fmt.Errorf("%w: %d predictions for %d samples", ErrResponse, len(pred), len(x))
	}
	w := record.Weights
	var sumW, sse, ssv float64
	mean := stat.Mean(record.Lums, w)
	for i, lum := range record.Lums {
		d := pred[i] - lum
		sse += w[i] * d * d
		ssv += w[i] * (lum - mean) * (lum - mean)
		sumW += w[i]
	}
	if sumW == 0 || ssv == 0 {
		return 0, fmt.Errorf("%w: zero weighted variance", ErrResponse)
	}
	return 1 - (sse/sumW)/(ssv/sumW), nil
}
