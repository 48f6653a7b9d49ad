package bundle

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"thermoters/internal/model"
	"thermoters/internal/regress"
)

const sampleBundle = `{
  "matrices": [
    [[0, 1, 2, 3], [0.5, 0, 0, 1]],
    [[1, 0, 0, 0]]
  ],
  "min.spacer": 2,
  "sp.penalties": [0.1, 0, 0.3],
  "includeRC": true,
  "chem.pot": {"lib_b": -1.5, "lib_a": [2]},
  "chem.pot_mlogL": {"lib_a": 1, "lib_b": 0},
  "ThDict": {"lib": -3},
  "bindMode": "ADD",
  "logisticRegression": {
    "lib_a": {"coef": [[0.7]], "intercept": [1.2]},
    "lib_b": {"kind": "linear", "coef": 2, "intercept": 0.5},
    "lib_c": {"coef": [[0], [1], [-1]], "intercept": [0, 0.2, 0.4]}
  },
  "en.scale": 1.7,
  "logClearanceRate": -2,
  "rcOcclusion": [0, 1],
  "dinucleotides": [{"p1": 0, "b1": 1, "p2": 3, "b2": 2, "weight": -0.4}],
  "comment": "ignored"
}`

func TestDecodeBundle(t *testing.T) {
	b, err := Decode(strings.NewReader(sampleBundle))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := b.Model
	if n1, n2 := m.BoxLengths(); n1 != 2 || n2 != 1 {
		t.Fatalf("unexpected box lengths %d %d", n1, n2)
	}
	if m.LeftBox.At(1, 0) != 0.5 || m.RightBox.At(0, 0) != 1 {
		t.Fatalf("matrix values not decoded row-major")
	}
	if m.MinSpacer != 2 || m.NSpacer() != 3 || !m.IncludeRC {
		t.Fatalf("unexpected spacer config: %+v", m)
	}
	if m.ChemPot["lib_a"] != 2 || m.ChemPot["lib_b"] != -1.5 {
		t.Fatalf("unexpected chem pot %v", m.ChemPot)
	}
	if !m.HasChemPotVariant("chem.pot_mlogL") || m.ChemicalPotentials("chem.pot_mlogL")["lib_a"] != 1 {
		t.Fatalf("objective chem pot variant missing: %v", m.ChemPotVariants)
	}
	if m.Thresholds["lib"] != -3 || m.BindMode != model.BindAdd || m.EnergyScale != 1.7 {
		t.Fatalf("unexpected scalar fields: %+v", m)
	}
	if rate, ok := m.ClearanceRate(); !ok || math.Abs(rate-math.Exp(-2)) > 1e-15 {
		t.Fatalf("unexpected clearance rate %f %v", rate, ok)
	}
	if len(m.RCOcclusion) != 2 || m.RCOcclusion[1] != 1 {
		t.Fatalf("unexpected rc occlusion %v", m.RCOcclusion)
	}
	if len(m.DataIDs) != 2 || m.DataIDs[0] != "lib_a" || m.DataIDs[1] != "lib_b" {
		t.Fatalf("data ids should default to sorted chem pot keys, got %v", m.DataIDs)
	}

	bin, ok := m.Regressors["lib_a"].(*regress.Logistic)
	if !ok || bin.NumClasses() != 2 || bin.Intercepts[1] != 1.2 || bin.Slopes[1] != 0.7 {
		t.Fatalf("unexpected binary classifier %#v", m.Regressors["lib_a"])
	}
	lin, ok := m.Regressors["lib_b"].(*regress.Linear)
	if !ok || lin.Alpha != 0.5 || lin.Beta != 2 || !lin.Fitted {
		t.Fatalf("unexpected linear predictor %#v", m.Regressors["lib_b"])
	}
	multi, ok := m.Regressors["lib_c"].(*regress.Logistic)
	if !ok || multi.NumClasses() != 3 || multi.Slopes[2] != -1 {
		t.Fatalf("unexpected multiclass classifier %#v", m.Regressors["lib_c"])
	}

	if len(b.Dinucleotides) != 1 || b.Dinucleotides[0] != (model.DinucleotideCoordinate{P1: 0, B1: 1, P2: 3, B2: 2}) || b.DinucleotideWeights[0] != -0.4 {
		t.Fatalf("unexpected dinucleotides %v %v", b.Dinucleotides, b.DinucleotideWeights)
	}
}

func TestDecodeBundleErrors(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"bad bind mode": `{"matrices": [[[0,0,0,0]], [[0,0,0,0]]], "sp.penalties": [0], "bindMode": "mean"}`,
		"ragged matrix": `{"matrices": [[[0,0,0,0], [0,0]], [[0,0,0,0]]], "sp.penalties": [0]}`,
		"one matrix":    `{"matrices": [[[0,0,0,0]]], "sp.penalties": [0]}`,
		"three columns": `{"matrices": [[[0,0,0]], [[0,0,0]]], "sp.penalties": [0]}`,
		"no penalties":  `{"matrices": [[[0,0,0,0]], [[0,0,0,0]]]}`,
		"float spacer":  `{"matrices": [[[0,0,0,0]], [[0,0,0,0]]], "sp.penalties": [0], "min.spacer": 1.5}`,
		"zero scale":    `{"matrices": [[[0,0,0,0]], [[0,0,0,0]]], "sp.penalties": [0], "en.scale": 0}`,
		"bad regressor": `{"matrices": [[[0,0,0,0]], [[0,0,0,0]]], "sp.penalties": [0], "logisticRegression": {"x": {"kind": "tree", "coef": 1, "intercept": 0}}}`,
	}
	for name, doc := range cases {
		if _, err := Decode(strings.NewReader(doc)); !errors.Is(err, ErrBundle) {
			t.Fatalf("%s: expected ErrBundle, got %v", name, err)
		}
	}
}

func TestEncodeBundleRoundTrip(t *testing.T) {
	b, err := Decode(strings.NewReader(sampleBundle))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, b); err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode encoded bundle: %v", err)
	}
	m, n := b.Model, again.Model
	if m.LeftBox.At(0, 3) != n.LeftBox.At(0, 3) || m.MinSpacer != n.MinSpacer || m.EnergyScale != n.EnergyScale {
		t.Fatalf("model fields lost in round trip")
	}
	if *n.LogClearanceRate != -2 || n.ChemPotVariants["chem.pot_mlogL"]["lib_a"] != 1 {
		t.Fatalf("optional fields lost in round trip")
	}
	if lin, ok := n.Regressors["lib_b"].(*regress.Linear); !ok || lin.Beta != 2 {
		t.Fatalf("linear predictor lost in round trip: %#v", n.Regressors["lib_b"])
	}
	if bin, ok := n.Regressors["lib_a"].(*regress.Logistic); !ok || bin.NumClasses() != 2 || bin.Slopes[1] != 0.7 {
		t.Fatalf("binary classifier lost in round trip: %#v", n.Regressors["lib_a"])
	}
	if len(again.Dinucleotides) != 1 || again.DinucleotideWeights[0] != -0.4 {
		t.Fatalf("dinucleotides lost in round trip")
	}
}

func TestDecodeData(t *testing.T) {
	doc := `{
	  "training": {
	    "lib": {"seqs": ["acgt", "TTGA"], "digiLums": [0, 1], "lums": [0.5, 1.5], "weights": [1, 2]}
	  },
	  "test": {
	    "lib": {"seqs": [[0, 1, 2, 3], [3, 3, 3, 3]], "lums": [1, 2]}
	  }
	}`
	data, err := DecodeData(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	train := data["training"]["lib"]
	if train.Seqs[1][0] != 3 || train.Seqs[1][3] != 0 || train.DigiLums[1] != 1 || train.Weights[1] != 2 {
		t.Fatalf("unexpected training record %+v", train)
	}
	test := data["test"]["lib"]
	if test.Seqs[1][2] != 3 || test.DigiLums != nil || len(test.Weights) != 2 || test.Weights[0] != 1 {
		t.Fatalf("unexpected test record %+v", test)
	}
}

func TestDecodeDataErrors(t *testing.T) {
	cases := map[string]string{
		"bad base":       `{"p": {"d": {"seqs": ["acgn"]}}}`,
		"base index":     `{"p": {"d": {"seqs": [[0, 4]]}}}`,
		"ragged":         `{"p": {"d": {"seqs": ["acg", "ac"]}}}`,
		"label mismatch": `{"p": {"d": {"seqs": ["acg"], "digiLums": [0, 1]}}}`,
		"empty":          `{"p": {"d": {"seqs": []}}}`,
	}
	for name, doc := range cases {
		if _, err := DecodeData(strings.NewReader(doc)); !errors.Is(err, ErrData) {
			t.Fatalf("%s: expected ErrData, got %v", name, err)
		}
	}
}
