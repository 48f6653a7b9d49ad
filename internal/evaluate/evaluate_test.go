package evaluate

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"thermoters/internal/datasetid"
	"thermoters/internal/energy"
	"thermoters/internal/model"
	"thermoters/internal/occupancy"
	"thermoters/internal/regress"
	"thermoters/internal/seq"
)

func testModel() *model.MatrixModel {
	return &model.MatrixModel{
		LeftBox:         mat.NewDense(2, 4, []float64{0, 1, 2, 3, 0.5, -0.5, 1, 0}),
		RightBox:        mat.NewDense(2, 4, []float64{-1, 0, 1, 2, 0, 0.3, -0.2, 1}),
		MinSpacer:       1,
		SpacerPenalties: []float64{0.2, 0, 0.4},
		ChemPot:         map[string]float64{"lib": -1},
		Thresholds:      map[string]int{"lib": -2},
		BindMode:        model.BindAdd,
		EnergyScale:     1.5,
		DataIDs:         []string{"lib"},
		Regressors:      map[string]model.Regressor{"lib": regress.NewBinaryLogistic(1, 0.8)},
	}
}

func testRecord(rng *rand.Rand, n int) model.DatasetRecord {
	seqs := make(seq.Batch, n)
	for i := range seqs {
		row := make([]uint8, 14)
		for j := range row {
			row[j] = uint8(rng.Intn(4))
		}
		seqs[i] = row
	}
	rec := model.DatasetRecord{Seqs: seqs, DigiLums: make([]int, n), Lums: make([]float64, n), Weights: make([]float64, n)}
	for i := range rec.Weights {
		rec.DigiLums[i] = i % 2
		rec.Lums[i] = rng.NormFloat64()
		rec.Weights[i] = 0.5 + rng.Float64()
	}
	return rec
}

func boolPtr(v bool) *bool {
	return &v
}

func TestEvaluateMLogLMatchesClassifier(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := testModel()
	rec := testRecord(rng, 20)
	engine := NewEngine(m, map[string]model.Partition{"test": {"lib": rec}}, nil)

	res, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	logPon := res.LogOccupancy.Values["lib"]
	if len(logPon) != 20 {
		t.Fatalf("unexpected occupancy length %d", len(logPon))
	}

	bricks, err := energy.BuildBricks(m, []string{"lib"}, map[string]seq.Batch{"lib": rec.Seqs}, energy.BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want, err := occupancy.NewConverter(m).Convert(bricks.Scaled(m.EnergyScale))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	for i := range logPon {
		if math.Abs(logPon[i]-want.Values["lib"][i]) > 1e-12 {
			t.Fatalf("occupancy %d: got=%f want=%f", i, logPon[i], want.Values["lib"][i])
		}
		if logPon[i] >= 0 {
			t.Fatalf("log10 occupancy must be negative, got %f", logPon[i])
		}
	}

	logp, _ := m.Regressors["lib"].PredictLogProba(logPon)
	var nll float64
	for i, label := range rec.DigiLums {
		nll -= logp[i][label] * rec.Weights[i]
	}
	if math.Abs(res.Scores["lib"]-nll) > 1e-9 {
		t.Fatalf("mlogL got=%f want=%f", res.Scores["lib"], nll)
	}
}

func TestEvaluateTrainingPartitionFits(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m := testModel()
	rec := testRecord(rng, 40)
	engine := NewEngine(m, map[string]model.Partition{"training": {"lib": rec}}, nil)

	before := *m.Regressors["lib"].(*regress.Logistic)
	res, err := engine.Evaluate(context.Background(), Request{Objective: MLogL})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	after := m.Regressors["lib"].(*regress.Logistic)
	if after.Intercepts[1] == before.Intercepts[1] && after.Slopes[1] == before.Slopes[1] {
		t.Fatalf("expected regressor to be refit, params unchanged: %+v", after)
	}
	if res.Scores["lib"] <= 0 {
		t.Fatalf("expected positive negative log-likelihood, got %f", res.Scores["lib"])
	}

	fitted := *after
	if _, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Fit: boolPtr(false)}); err != nil {
		t.Fatalf("evaluate without fit: %v", err)
	}
	if after.Slopes[1] != fitted.Slopes[1] {
		t.Fatal("regressor changed although fitting was disabled")
	}
}

func TestEvaluateLinR2OfLinearResponse(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := testModel()
	rec := testRecord(rng, 25)
	engine := NewEngine(m, map[string]model.Partition{"test": {"lib": rec}}, nil)

	first, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	logPon := first.LogOccupancy.Values["lib"]
	for i, x := range logPon {
		rec.Lums[i] = 3 - 2*x
	}

	res, err := engine.Evaluate(context.Background(), Request{Objective: LinR2, Partition: "test", LogOccupancy: first.LogOccupancy})
	if err != nil {
		t.Fatalf("evaluate linR2: %v", err)
	}
	if math.Abs(res.Scores["lib"]-1) > 1e-9 {
		t.Fatalf("expected linR2=1, got %f", res.Scores["lib"])
	}
}

func TestEvaluateR2UsesDatasetPredictor(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m := testModel()
	lin := &regress.Linear{Alpha: 0.5, Beta: -1, Fitted: true}
	m.Regressors = map[string]model.Regressor{"lib_predictor": lin}
	rec := testRecord(rng, 30)
	engine := NewEngine(m, map[string]model.Partition{"test": {"lib": rec}}, nil)

	res, err := engine.Evaluate(context.Background(), Request{Objective: R2, Partition: "test"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	x := res.LogOccupancy.Values["lib"]
	var sw, mean float64
	for i, w := range rec.Weights {
		sw += w
		mean += w * rec.Lums[i]
	}
	mean /= sw
	var sse, ssv float64
	for i, w := range rec.Weights {
		d := 0.5 - x[i] - rec.Lums[i]
		sse += w * d * d
		ssv += w * (rec.Lums[i] - mean) * (rec.Lums[i] - mean)
	}
	want := 1 - sse/ssv
	if math.Abs(res.Scores["lib"]-want) > 1e-9 {
		t.Fatalf("r2 got=%f want=%f", res.Scores["lib"], want)
	}
}

func TestEvaluateChemPotVariantAndSuppliedBricks(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m := testModel()
	m.ChemPotVariants = map[string]map[string]float64{"chem.pot_mlogL": {"lib": 2}}
	rec := testRecord(rng, 10)
	engine := NewEngine(m, map[string]model.Partition{"test": {"lib": rec}}, nil)

	res, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	bricks, err := energy.BuildBricks(m, []string{"lib"}, map[string]seq.Batch{"lib": rec.Seqs}, energy.BuildOptions{ChemPotVariant: "chem.pot_mlogL"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	reused, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test", Bricks: bricks})
	if err != nil {
		t.Fatalf("evaluate with bricks: %v", err)
	}
	for i, v := range res.LogOccupancy.Values["lib"] {
		if math.Abs(v-reused.LogOccupancy.Values["lib"][i]) > 1e-12 {
			t.Fatalf("occupancy %d differs: %f vs %f", i, v, reused.LogOccupancy.Values["lib"][i])
		}
	}
}

func TestEvaluateMissingLookups(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	m := testModel()
	m.DataIDs = []string{"lib", "ghost"}
	data := map[string]model.Partition{"test": {"lib": testRecord(rng, 8), "ghost": testRecord(rng, 8)}}
	engine := NewEngine(m, data, nil)

	if _, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test"}); !errors.Is(err, datasetid.ErrNotFound) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	res, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test", SkipMissing: true})
	if err != nil {
		t.Fatalf("evaluate skip missing: %v", err)
	}
	if len(res.Keys) != 1 || res.Keys[0] != "lib" {
		t.Fatalf("unexpected evaluated keys: %v", res.Keys)
	}
	if _, ok := res.Skipped["ghost"]; !ok {
		t.Fatalf("expected ghost to be skipped: %v", res.Skipped)
	}
}

func TestEvaluateRequestErrors(t *testing.T) {
	engine := NewEngine(testModel(), map[string]model.Partition{}, nil)
	if _, err := engine.Evaluate(context.Background(), Request{Objective: "auc"}); !errors.Is(err, ErrObjective) {
		t.Fatalf("expected objective error, got %v", err)
	}
	if _, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "validation"}); !errors.Is(err, ErrPartition) {
		t.Fatalf("expected partition error, got %v", err)
	}
	m := testModel()
	m.EnergyScale = 0
	zero := NewEngine(m, map[string]model.Partition{"test": {}}, nil)
	if _, err := zero.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test"}); !errors.Is(err, model.ErrInvalidModel) {
		t.Fatalf("expected invalid model for zero energy scale, got %v", err)
	}
	if o, err := ParseObjective("LINR2"); err != nil || o != LinR2 {
		t.Fatalf("unexpected parse: %v %v", o, err)
	}
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	engine := NewEngine(testModel(), map[string]model.Partition{"test": {"lib": testRecord(rng, 4)}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Evaluate(ctx, Request{Objective: MLogL, Partition: "test"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestEvaluateLinR2RefitsClassifierOnTraining(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	m := testModel()
	rec := testRecord(rng, 40)
	engine := NewEngine(m, map[string]model.Partition{"training": {"lib": rec}}, nil)

	before := *m.Regressors["lib"].(*regress.Logistic)
	before.Intercepts = append([]float64(nil), before.Intercepts...)
	before.Slopes = append([]float64(nil), before.Slopes...)
	if _, err := engine.Evaluate(context.Background(), Request{Objective: LinR2}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	after := m.Regressors["lib"].(*regress.Logistic)
	if after.Intercepts[1] == before.Intercepts[1] && after.Slopes[1] == before.Slopes[1] {
		t.Fatalf("expected classifier to be refit under linR2, params unchanged: %+v", after)
	}

	// Without fitting, linR2 needs no response model at all.
	m.Regressors = nil
	res, err := engine.Evaluate(context.Background(), Request{Objective: LinR2, Fit: boolPtr(false)})
	if err != nil {
		t.Fatalf("evaluate without regressor: %v", err)
	}
	if _, ok := res.Scores["lib"]; !ok {
		t.Fatalf("expected a linR2 score: %+v", res.Scores)
	}
	if _, err := engine.Evaluate(context.Background(), Request{Objective: LinR2}); !errors.Is(err, datasetid.ErrNotFound) {
		t.Fatalf("expected missing regressor error when fitting, got %v", err)
	}
}

func TestEvaluateSkipsAbsentAndAmbiguousDatasets(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	m := testModel()
	m.DataIDs = []string{"lib", "absent"}
	engine := NewEngine(m, map[string]model.Partition{"test": {"lib": testRecord(rng, 8)}}, nil)

	if _, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test"}); !errors.Is(err, datasetid.ErrNotFound) {
		t.Fatalf("expected absent dataset error, got %v", err)
	}
	res, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test", SkipMissing: true})
	if err != nil {
		t.Fatalf("evaluate skip missing: %v", err)
	}
	if _, ok := res.Skipped["absent"]; !ok || len(res.Keys) != 1 {
		t.Fatalf("expected absent to be skipped: keys=%v skipped=%v", res.Keys, res.Skipped)
	}

	m = testModel()
	m.Regressors = map[string]model.Regressor{
		"lib_a": regress.NewBinaryLogistic(1, 0.8),
		"lib_b": regress.NewBinaryLogistic(0, 0.5),
	}
	engine = NewEngine(m, map[string]model.Partition{"test": {"lib": testRecord(rng, 8)}}, nil)
	if _, err := engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test"}); !errors.Is(err, datasetid.ErrAmbiguous) {
		t.Fatalf("expected ambiguous regressor error, got %v", err)
	}
	res, err = engine.Evaluate(context.Background(), Request{Objective: MLogL, Partition: "test", SkipMissing: true})
	if err != nil {
		t.Fatalf("evaluate skip ambiguous: %v", err)
	}
	if _, ok := res.Skipped["lib"]; !ok || len(res.Keys) != 0 {
		t.Fatalf("expected lib to be skipped: keys=%v skipped=%v", res.Keys, res.Skipped)
	}
}
