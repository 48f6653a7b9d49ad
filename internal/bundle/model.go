// Package bundle decodes fitted model bundles and measured datasets from
// their JSON exchange format.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"thermoters/internal/model"
	"thermoters/internal/regress"
)

var ErrBundle = errors.New("invalid model bundle")

const (
	keyMatrices         = "matrices"
	keyMinSpacer        = "min.spacer"
	keySpacerPenalties  = "sp.penalties"
	keyIncludeRC        = "includeRC"
	keyThresholds       = "ThDict"
	keyBindMode         = "bindMode"
	keyRegressors       = "logisticRegression"
	keyEnergyScale      = "en.scale"
	keyDataIDs          = "DataIDs"
	keyRCOcclusion      = "rcOcclusion"
	keyLogClearanceRate = "logClearanceRate"
	keyDinucleotides    = "dinucleotides"
)

// Bundle is a decoded model with the optional pairwise corrections that
// were fitted alongside it.
type Bundle struct {
	Model               *model.MatrixModel
	Dinucleotides       []model.DinucleotideCoordinate
	DinucleotideWeights []float64
}

func LoadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func Decode(r io.Reader) (*Bundle, error) {
	var raw map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundle, err)
	}
	return Convert(raw)
}

// Convert builds a bundle from an already parsed JSON object. Unknown keys
// are ignored.
func Convert(in map[string]any) (*Bundle, error) {
	m := &model.MatrixModel{
		BindMode:        model.BindAdd,
		EnergyScale:     1,
		ChemPotVariants: make(map[string]map[string]float64),
		Regressors:      make(map[string]model.Regressor),
	}
	out := &Bundle{Model: m}
	for key, val := range in {
		var ok bool
		switch {
		case key == keyMatrices:
			m.LeftBox, m.RightBox, ok = asBoxes(val)
		case key == keyMinSpacer:
			m.MinSpacer, ok = asInt(val)
		case key == keySpacerPenalties:
			m.SpacerPenalties, ok = asFloat64s(val)
		case key == keyIncludeRC:
			m.IncludeRC, ok = asBool(val)
		case key == model.DefaultChemPotVariant:
			m.ChemPot, ok = asFloatTable(val)
		case strings.HasPrefix(key, model.DefaultChemPotVariant+"_"):
			var table map[string]float64
			table, ok = asFloatTable(val)
			m.ChemPotVariants[key] = table
		case key == keyThresholds:
			m.Thresholds, ok = asIntTable(val)
		case key == keyBindMode:
			var s string
			if s, ok = asString(val); ok {
				mode, err := model.ParseBindMode(s)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrBundle, err)
				}
				m.BindMode = mode
			}
		case key == keyRegressors:
			m.Regressors, ok = asRegressors(val)
		case key == keyEnergyScale:
			m.EnergyScale, ok = asFloat64(val)
		case key == keyDataIDs:
			m.DataIDs, ok = asStrings(val)
		case key == keyRCOcclusion:
			m.RCOcclusion, ok = asInts(val)
		case key == keyLogClearanceRate:
			var rate float64
			if rate, ok = asFloat64(val); ok {
				m.LogClearanceRate = &rate
			}
		case key == keyDinucleotides:
			out.Dinucleotides, out.DinucleotideWeights, ok = asDinucleotides(val)
		default:
			ok = true
		}
		if !ok {
			return nil, fmt.Errorf("%w: malformed %q", ErrBundle, key)
		}
	}
	if len(m.DataIDs) == 0 {
		m.DataIDs = sortedKeys(m.ChemPot)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundle, err)
	}
	return out, nil
}

func asBoxes(v any) (*mat.Dense, *mat.Dense, bool) {
	raw, ok := v.([]any)
	if !ok || len(raw) != 2 {
		return nil, nil, false
	}
	boxes := make([]*mat.Dense, 2)
	for i, item := range raw {
		rows, ok := asRows(item)
		if !ok || len(rows) == 0 {
			return nil, nil, false
		}
		data := make([]float64, 0, len(rows)*len(rows[0]))
		for _, row := range rows {
			data = append(data, row...)
		}
		boxes[i] = mat.NewDense(len(rows), len(rows[0]), data)
	}
	return boxes[0], boxes[1], true
}

// asRegressors reads per-dataset response models. Entries without a kind
// are logistic classifiers in the one-vs-rest layout of coef (K×1 or 1×1
// for two classes) and intercept.
func asRegressors(v any) (map[string]model.Regressor, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]model.Regressor, len(raw))
	for id, item := range raw {
		params, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		kind := "logistic"
		if s, ok := asString(params["kind"]); ok {
			kind = s
		}
		coef, ok := asCoefficients(params["coef"])
		if !ok {
			return nil, false
		}
		intercept, ok := asFloat64s(params["intercept"])
		if !ok {
			f, isScalar := asFloat64(params["intercept"])
			if !isScalar {
				return nil, false
			}
			intercept = []float64{f}
		}
		if len(coef) != len(intercept) || len(coef) == 0 {
			return nil, false
		}
		switch kind {
		case "logistic":
			if len(coef) == 1 {
				out[id] = regress.NewBinaryLogistic(intercept[0], coef[0])
			} else {
				out[id] = &regress.Logistic{Intercepts: intercept, Slopes: coef}
			}
		case "linear":
			out[id] = &regress.Linear{Alpha: intercept[0], Beta: coef[0], Fitted: true}
		default:
			return nil, false
		}
	}
	return out, true
}

func asCoefficients(v any) ([]float64, bool) {
	if f, ok := asFloat64(v); ok {
		return []float64{f}, true
	}
	if rows, ok := asRows(v); ok {
		out := make([]float64, 0, len(rows))
		for _, row := range rows {
			if len(row) != 1 {
				return nil, false
			}
			out = append(out, row[0])
		}
		return out, true
	}
	return asFloat64s(v)
}

func asDinucleotides(v any) ([]model.DinucleotideCoordinate, []float64, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, nil, false
	}
	coords := make([]model.DinucleotideCoordinate, 0, len(raw))
	weights := make([]float64, 0, len(raw))
	for _, item := range raw {
		x, ok := item.(map[string]any)
		if !ok {
			return nil, nil, false
		}
		p1, ok1 := asInt(x["p1"])
		b1, ok2 := asInt(x["b1"])
		p2, ok3 := asInt(x["p2"])
		b2, ok4 := asInt(x["b2"])
		w, ok5 := asFloat64(x["weight"])
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || b1 < 0 || b2 < 0 || b1 > 255 || b2 > 255 {
			return nil, nil, false
		}
		coords = append(coords, model.DinucleotideCoordinate{P1: p1, B1: uint8(b1), P2: p2, B2: uint8(b2)})
		weights = append(weights, w)
	}
	return coords, weights, true
}

// Encode writes b in the format Decode reads. Response models are written
// with their kind so that refitted linear predictors survive the round trip.
func Encode(w io.Writer, b *Bundle) error {
	m := b.Model
	out := map[string]any{
		keyMinSpacer:                m.MinSpacer,
		keySpacerPenalties:          m.SpacerPenalties,
		keyIncludeRC:                m.IncludeRC,
		model.DefaultChemPotVariant: m.ChemPot,
		keyThresholds:               m.Thresholds,
		keyBindMode:                 string(m.BindMode),
		keyEnergyScale:              m.EnergyScale,
		keyDataIDs:                  m.DataIDs,
	}
	out[keyMatrices] = []any{denseRows(m.LeftBox), denseRows(m.RightBox)}
	for variant, table := range m.ChemPotVariants {
		out[variant] = table
	}
	if m.RCOcclusion != nil {
		out[keyRCOcclusion] = m.RCOcclusion
	}
	if m.LogClearanceRate != nil {
		out[keyLogClearanceRate] = *m.LogClearanceRate
	}
	regressors := make(map[string]any, len(m.Regressors))
	for id, reg := range m.Regressors {
		switch r := reg.(type) {
		case *regress.Logistic:
			if r.NumClasses() == 2 && r.Intercepts[0] == 0 && r.Slopes[0] == 0 {
				regressors[id] = map[string]any{"kind": "logistic", "coef": []float64{r.Slopes[1]}, "intercept": []float64{r.Intercepts[1]}}
			} else {
				regressors[id] = map[string]any{"kind": "logistic", "coef": r.Slopes, "intercept": r.Intercepts}
			}
		case *regress.Linear:
			regressors[id] = map[string]any{"kind": "linear", "coef": []float64{r.Beta}, "intercept": []float64{r.Alpha}}
		default:
			return fmt.Errorf("%w: dataset %s has unsupported response model %T", ErrBundle, id, reg)
		}
	}
	out[keyRegressors] = regressors
	if len(b.Dinucleotides) > 0 {
		pairs := make([]map[string]any, len(b.Dinucleotides))
		for i, c := range b.Dinucleotides {
			pairs[i] = map[string]any{"p1": c.P1, "b1": c.B1, "p2": c.P2, "b2": c.B2, "weight": b.DinucleotideWeights[i]}
		}
		out[keyDinucleotides] = pairs
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func denseRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	return rows
}

func sortedKeys[V any](table map[string]V) []string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
