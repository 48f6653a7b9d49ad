package energy

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"thermoters/internal/model"
)

// Summarize reports per-sequence energy statistics and the best
// (lowest-energy) configuration of a brick.
func Summarize(id string, b *model.Brick) []model.BrickSummary {
	out := make([]model.BrickSummary, 0, b.NSeq)
	for i := 0; i < b.NSeq; i++ {
		plane := b.Plane(i)
		if len(plane) == 0 {
			continue
		}
		best := floats.MinIdx(plane)
		out = append(out, model.BrickSummary{
			DatasetID:    id,
			Sequence:     i,
			MinEnergy:    plane[best],
			MaxEnergy:    floats.Max(plane),
			MeanEnergy:   stat.Mean(plane, nil),
			BestSpacer:   best / b.NPos,
			BestPosition: best % b.NPos,
		})
	}
	return out
}

// Clamp returns a copy of b with every energy above threshold replaced by
// fill. Heatmap renderers use it to hide unfavourable configurations.
func Clamp(b *model.Brick, threshold, fill float64) *model.Brick {
	out := b.Clone()
	for i, v := range out.Data {
		if v > threshold {
			out.Data[i] = fill
		}
	}
	return out
}
