package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"thermoters/internal/seq"
)

var (
	ErrInvalidModel = errors.New("invalid matrix model")
	ErrBindMode     = errors.New("unrecognized bind mode")
)

// DefaultChemPotVariant is the chemical potential table used when no
// objective-specific variant is present.
const DefaultChemPotVariant = "chem.pot"

// BindMode selects how a brick region collapses into one effective energy.
type BindMode string

const (
	// BindAdd is the soft minimum, -log sum exp(-E).
	BindAdd BindMode = "add"
	// BindMax is the hard minimum over configurations.
	BindMax BindMode = "max"
)

func ParseBindMode(s string) (BindMode, error) {
	switch BindMode(strings.ToLower(strings.TrimSpace(s))) {
	case BindAdd:
		return BindAdd, nil
	case BindMax:
		return BindMax, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBindMode, s)
	}
}

// Regressor is the per-dataset fitted classifier or regressor. Rows of
// PredictLogProba are indexed by class label.
type Regressor interface {
	Fit(x []float64, y []int, weights []float64) error
	PredictLogProba(x []float64) ([][]float64, error)
	Predict(x []float64) ([]float64, error)
}

// MatrixModel is the fitted two-box parameter bundle. It is read-only to
// the scoring code; only Regressors are refit by evaluation.
type MatrixModel struct {
	LeftBox          *mat.Dense
	RightBox         *mat.Dense
	MinSpacer        int
	SpacerPenalties  []float64
	IncludeRC        bool
	ChemPot          map[string]float64
	ChemPotVariants  map[string]map[string]float64
	Thresholds       map[string]int
	BindMode         BindMode
	EnergyScale      float64
	LogClearanceRate *float64
	RCOcclusion      []int
	DataIDs          []string
	Regressors       map[string]Regressor
}

func (m *MatrixModel) NSpacer() int {
	return len(m.SpacerPenalties)
}

// BoxLengths returns the number of positions of the left and right boxes.
func (m *MatrixModel) BoxLengths() (int, int) {
	n1, _ := m.LeftBox.Dims()
	n2, _ := m.RightBox.Dims()
	return n1, n2
}

// ClearanceRate returns exp(LogClearanceRate) when the kinetic term is set.
func (m *MatrixModel) ClearanceRate() (float64, bool) {
	if m.LogClearanceRate == nil {
		return 0, false
	}
	return math.Exp(*m.LogClearanceRate), true
}

// ChemicalPotentials returns the table for variant, falling back to the
// default table when the variant is empty or unknown.
func (m *MatrixModel) ChemicalPotentials(variant string) map[string]float64 {
	if variant != "" && variant != DefaultChemPotVariant {
		if table, ok := m.ChemPotVariants[variant]; ok {
			return table
		}
	}
	return m.ChemPot
}

// HasChemPotVariant reports whether an objective-specific table exists.
func (m *MatrixModel) HasChemPotVariant(variant string) bool {
	_, ok := m.ChemPotVariants[variant]
	return ok
}

// MinSequenceLength is the shortest sequence that yields a non-empty brick.
func (m *MatrixModel) MinSequenceLength() int {
	n1, n2 := m.BoxLengths()
	return n1 + n2 + m.MinSpacer + m.NSpacer()
}

func (m *MatrixModel) Validate() error {
	if m.LeftBox == nil || m.RightBox == nil {
		return fmt.Errorf("%w: both box matrices are required", ErrInvalidModel)
	}
	for name, box := range map[string]*mat.Dense{"left": m.LeftBox, "right": m.RightBox} {
		rows, cols := box.Dims()
		if rows == 0 || cols != seq.NumBases {
			return fmt.Errorf("%w: %s box is %dx%d, want Lx%d", ErrInvalidModel, name, rows, cols, seq.NumBases)
		}
	}
	if m.MinSpacer < 0 {
		return fmt.Errorf("%w: negative min spacer %d", ErrInvalidModel, m.MinSpacer)
	}
	if m.NSpacer() == 0 {
		return fmt.Errorf("%w: spacer penalties are empty", ErrInvalidModel)
	}
	switch m.BindMode {
	case BindAdd, BindMax:
	default:
		return fmt.Errorf("%w: %q", ErrBindMode, m.BindMode)
	}
	if m.EnergyScale == 0 || math.IsNaN(m.EnergyScale) || math.IsInf(m.EnergyScale, 0) {
		return fmt.Errorf("%w: energy scale %g", ErrInvalidModel, m.EnergyScale)
	}
	if m.LogClearanceRate != nil && m.BindMode != BindAdd {
		return fmt.Errorf("%w: clearance rate requires bind mode %q", ErrInvalidModel, BindAdd)
	}
	return nil
}
