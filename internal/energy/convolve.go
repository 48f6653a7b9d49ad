// Package energy computes two-box binding energy landscapes: single
// matrix convolution, spacer brick assembly, and optional dinucleotide
// corrections.
package energy

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"thermoters/internal/seq"
)

var ErrShape = errors.New("shape precondition violated")

// SlideMatrix returns the N×(S-L+1) energies of m at every offset of seqs:
// entry (i, off) = Σ_j m[j, seqs[i][off+j]].
func SlideMatrix(m *mat.Dense, seqs seq.Batch) (*mat.Dense, error) {
	return slideRange(m, seqs, 0, seqs.Width())
}

// slideRange convolves m over the columns [lo, hi) of every sequence.
func slideRange(m *mat.Dense, seqs seq.Batch, lo, hi int) (*mat.Dense, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil energy matrix", ErrShape)
	}
	rows, cols := m.Dims()
	if cols != seq.NumBases {
		return nil, fmt.Errorf("%w: energy matrix has %d columns, want %d", ErrShape, cols, seq.NumBases)
	}
	if seqs.Len() == 0 {
		return nil, fmt.Errorf("%w: empty sequence batch", ErrShape)
	}
	if lo < 0 || hi > seqs.Width() || hi-lo < rows {
		return nil, fmt.Errorf("%w: window [%d,%d) shorter than matrix length %d", ErrShape, lo, hi, rows)
	}

	raw := m.RawMatrix()
	nOut := hi - lo - rows + 1
	out := mat.NewDense(seqs.Len(), nOut, nil)
	dst := out.RawMatrix()
	for i, row := range seqs {
		if len(row) != seqs.Width() {
			return nil, fmt.Errorf("%w: %w: sequence %d has length %d, want %d", ErrShape, seq.ErrRagged, i, len(row), seqs.Width())
		}
		energies := dst.Data[i*dst.Stride : i*dst.Stride+nOut]
		for off := 0; off < nOut; off++ {
			var e float64
			window := row[lo+off : lo+off+rows]
			for j, base := range window {
				if int(base) >= seq.NumBases {
					return nil, fmt.Errorf("%w: sequence %d position %d holds %d", seq.ErrInvalidBase, i, lo+off+j, base)
				}
				e += raw.Data[j*raw.Stride+int(base)]
			}
			energies[off] = e
		}
	}
	return out, nil
}
