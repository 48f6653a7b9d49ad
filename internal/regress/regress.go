// Package regress provides the per-dataset response models that map log
// occupancy onto measured expression: a multinomial logistic classifier
// over discretized levels and a weighted linear regressor.
package regress

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"thermoters/internal/model"
)

var (
	ErrNotFitted   = errors.New("model is not fitted")
	ErrUnsupported = errors.New("operation not supported by model")
	ErrInput       = errors.New("invalid regression input")
)

var (
	_ model.Regressor = (*Logistic)(nil)
	_ model.Regressor = (*Linear)(nil)
)

func checkInput(x []float64, n int, weights []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("%w: no samples", ErrInput)
	}
	if len(x) != n {
		return fmt.Errorf("%w: %d features for %d targets", ErrInput, len(x), n)
	}
	if weights != nil && len(weights) != len(x) {
		return fmt.Errorf("%w: %d weights for %d samples", ErrInput, len(weights), len(x))
	}
	return nil
}

// Logistic is a multinomial logistic model on one feature. Class k has
// score Intercepts[k] + Slopes[k]*x; class labels are 0..K-1.
type Logistic struct {
	Intercepts []float64
	Slopes     []float64

	// C is the inverse L2 penalty on the slopes used by Fit; 0 means 1.
	C float64
}

// NewBinaryLogistic builds a two-class model from a single decision
// function b + a*x for class 1.
func NewBinaryLogistic(intercept, slope float64) *Logistic {
	return &Logistic{Intercepts: []float64{0, intercept}, Slopes: []float64{0, slope}}
}

func (l *Logistic) NumClasses() int {
	return len(l.Intercepts)
}

func (l *Logistic) PredictLogProba(x []float64) ([][]float64, error) {
	k := l.NumClasses()
	if k < 2 || len(l.Slopes) != k {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(x))
	for i, xi := range x {
		row := make([]float64, k)
		for c := range row {
			row[c] = l.Intercepts[c] + l.Slopes[c]*xi
		}
		norm := floats.LogSumExp(row)
		floats.AddConst(-norm, row)
		out[i] = row
	}
	return out, nil
}

// Predict returns the most probable class label of each sample.
func (l *Logistic) Predict(x []float64) ([]float64, error) {
	logp, err := l.PredictLogProba(x)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, row := range logp {
		out[i] = float64(floats.MaxIdx(row))
	}
	return out, nil
}

// Fit maximises the weighted likelihood with BFGS, using class 0 as the
// reference class.
func (l *Logistic) Fit(x []float64, y []int, weights []float64) error {
	if err := checkInput(x, len(y), weights); err != nil {
		return err
	}
	k := 2
	for _, label := range y {
		if label < 0 {
			return fmt.Errorf("%w: negative class label %d", ErrInput, label)
		}
		k = max(k, label+1)
	}
	k = max(k, l.NumClasses())
	c := l.C
	if c <= 0 {
		c = 1
	}
	w := weights
	if w == nil {
		w = ones(len(x))
	}

	// params: intercepts of classes 1..k-1, then their slopes
	nFree := k - 1
	scores := make([]float64, k)
	objective := func(params, grad []float64) float64 {
		if grad != nil {
			for i := range grad {
				grad[i] = 0
			}
		}
		var nll float64
		for i, xi := range x {
			scores[0] = 0
			for j := 1; j < k; j++ {
				scores[j] = params[j-1] + params[nFree+j-1]*xi
			}
			norm := floats.LogSumExp(scores)
			nll -= w[i] * (scores[y[i]] - norm)
			if grad == nil {
				continue
			}
			for j := 1; j < k; j++ {
				p := math.Exp(scores[j] - norm)
				if y[i] == j {
					p--
				}
				grad[j-1] += c * w[i] * p
				grad[nFree+j-1] += c * w[i] * p * xi
			}
		}
		f := c * nll
		for j := 0; j < nFree; j++ {
			slope := params[nFree+j]
			f += 0.5 * slope * slope
			if grad != nil {
				grad[nFree+j] += slope
			}
		}
		return f
	}

	problem := optimize.Problem{
		Func: func(params []float64) float64 { return objective(params, nil) },
		Grad: func(grad, params []float64) { objective(params, grad) },
	}
	result, err := optimize.Minimize(problem, make([]float64, 2*nFree), nil, &optimize.BFGS{})
	if err != nil {
		return fmt.Errorf("fit logistic model: %w", err)
	}

	l.Intercepts = make([]float64, k)
	l.Slopes = make([]float64, k)
	for j := 1; j < k; j++ {
		l.Intercepts[j] = result.X[j-1]
		l.Slopes[j] = result.X[nFree+j-1]
	}
	return nil
}

// Linear is a weighted least-squares line y = Alpha + Beta*x. It serves
// objectives that compare predictions against continuous responses.
type Linear struct {
	Alpha  float64
	Beta   float64
	Fitted bool
}

// Fit regresses the class labels, read as numeric levels, on x.
func (l *Linear) Fit(x []float64, y []int, weights []float64) error {
	yf := make([]float64, len(y))
	for i, v := range y {
		yf[i] = float64(v)
	}
	return l.FitFloat(x, yf, weights)
}

func (l *Linear) FitFloat(x, y, weights []float64) error {
	if err := checkInput(x, len(y), weights); err != nil {
		return err
	}
	if stat.Variance(x, weights) == 0 {
		return fmt.Errorf("%w: constant feature", ErrInput)
	}
	l.Alpha, l.Beta = stat.LinearRegression(x, y, weights, false)
	l.Fitted = true
	return nil
}

func (l *Linear) Predict(x []float64) ([]float64, error) {
	if !l.Fitted {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, xi := range x {
		out[i] = l.Alpha + l.Beta*xi
	}
	return out, nil
}

func (l *Linear) PredictLogProba([]float64) ([][]float64, error) {
	return nil, fmt.Errorf("%w: linear model has no class probabilities", ErrUnsupported)
}

// Score is the weighted coefficient of determination of the fitted line.
func (l *Linear) Score(x, y, weights []float64) (float64, error) {
	if !l.Fitted {
		return 0, ErrNotFitted
	}
	if err := checkInput(x, len(y), weights); err != nil {
		return 0, err
	}
	return stat.RSquared(x, y, weights, l.Alpha, l.Beta), nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
