package energy

import (
	"fmt"
	"runtime"
	"sync"

	"thermoters/internal/model"
	"thermoters/internal/seq"
)

// Corrector adds optional terms to a freshly assembled brick.
type Corrector interface {
	Correct(brick *model.Brick, seqs seq.Batch, g Geometry) error
}

// NoCorrection leaves the brick unchanged.
type NoCorrection struct{}

func (NoCorrection) Correct(*model.Brick, seq.Batch, Geometry) error {
	return nil
}

// DinucleotideCorrection adds Σ weight × indicator over pairwise
// base-identity features. Coordinates are processed by a bounded worker
// pool; each worker owns its partial sum.
type DinucleotideCorrection struct {
	Coords  []model.DinucleotideCoordinate
	Weights []float64
	Workers int
}

func (c DinucleotideCorrection) Correct(brick *model.Brick, seqs seq.Batch, g Geometry) error {
	if len(c.Coords) != len(c.Weights) {
		return fmt.Errorf("%w: %d dinucleotide coordinates with %d weights", ErrShape, len(c.Coords), len(c.Weights))
	}
	if len(c.Coords) == 0 {
		return nil
	}
	for i, coord := range c.Coords {
		if err := checkCoordinate(coord, g); err != nil {
			return fmt.Errorf("coordinate %d: %w", i, err)
		}
	}

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(c.Coords) {
		workers = len(c.Coords)
	}

	chunk := (len(c.Coords) + workers - 1) / workers
	type result struct {
		partial []float64
		err     error
	}
	jobs := make(chan int)
	results := make([]result, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				lo := j * chunk
				hi := min(lo+chunk, len(c.Coords))
				partial := make([]float64, len(brick.Data))
				var err error
				for i := lo; i < hi && err == nil; i++ {
					err = accumulateIndicator(partial, c.Coords[i], c.Weights[i], seqs, g)
					if err != nil {
						err = fmt.Errorf("coordinate %d: %w", i, err)
					}
				}
				results[j] = result{partial: partial, err: err}
			}
		}()
	}
	for j := 0; j < workers; j++ {
		jobs <- j
	}
	close(jobs)
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			return res.err
		}
	}
	// Summed in chunk order so the result does not depend on scheduling.
	for _, res := range results {
		for i, v := range res.partial {
			brick.Data[i] += v
		}
	}
	return nil
}

// Indicator returns the 0/1 tensor of coord with the brick's shape.
func Indicator(coord model.DinucleotideCoordinate, seqs seq.Batch, g Geometry) (*model.Brick, error) {
	if err := checkCoordinate(coord, g); err != nil {
		return nil, err
	}
	out := model.NewBrick(seqs.Len(), g.NSpacer, g.NPos)
	if err := accumulateIndicator(out.Data, coord, 1, seqs, g); err != nil {
		return nil, err
	}
	return out, nil
}

func checkCoordinate(coord model.DinucleotideCoordinate, g Geometry) error {
	span := g.LayoutLength()
	if coord.P1 < 0 || coord.P1 >= span || coord.P2 < 0 || coord.P2 >= span {
		return fmt.Errorf("%w: positions (%d,%d) outside layout of length %d", ErrShape, coord.P1, coord.P2, span)
	}
	if int(coord.B1) >= seq.NumBases || int(coord.B2) >= seq.NumBases {
		return fmt.Errorf("%w: bases (%d,%d)", seq.ErrInvalidBase, coord.B1, coord.B2)
	}
	return nil
}

// layoutOffset maps a layout position to its offset from the left-box start
// at spacer index iS. Positions past the left box move with the right box.
func layoutOffset(q, iS int, g Geometry) int {
	if q >= g.N1 {
		return q - g.NSpacer/2 + iS
	}
	return q
}

func accumulateIndicator(dst []float64, coord model.DinucleotideCoordinate, weight float64, seqs seq.Batch, g Geometry) error {
	nPlane := g.NSpacer * g.NPos
	for iSeq, row := range seqs {
		if len(row) != g.SeqLen {
			return fmt.Errorf("%w: sequence %d has length %d, want %d", ErrShape, iSeq, len(row), g.SeqLen)
		}
		plane := dst[iSeq*nPlane : (iSeq+1)*nPlane]
		for iS := 0; iS < g.NSpacer; iS++ {
			o1 := layoutOffset(coord.P1, iS, g)
			o2 := layoutOffset(coord.P2, iS, g)
			cells := plane[iS*g.NPos : (iS+1)*g.NPos]
			for p := range cells {
				x, ok := g.LeftStart(iS, p)
				if !ok {
					continue
				}
				a, b := x+o1, x+o2
				if a < 0 || a >= g.SeqLen || b < 0 || b >= g.SeqLen {
					continue
				}
				if row[a] == coord.B1 && row[b] == coord.B2 {
					cells[p] += weight
				}
			}
		}
	}
	return nil
}
