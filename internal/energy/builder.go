package energy

import (
	"fmt"

	"thermoters/internal/datasetid"
	"thermoters/internal/model"
	"thermoters/internal/seq"
)

// BuildOptions controls how BuildBricks prepares each dataset's bricks.
type BuildOptions struct {
	// SkipChemPot leaves chemical potentials unsubtracted.
	SkipChemPot bool
	// ChemPotVariant names the chemical potential table; empty means the
	// default table.
	ChemPotVariant   string
	LengthConsistent bool
	Corrector        Corrector
}

// BuildBricks assembles the brick of every dataset in ids order. When the
// model includes the reverse complement, a second brick keyed with the
// reverse suffix is built from the complemented, reversed sequences and
// its position axis is flipped back to forward-strand orientation.
func BuildBricks(m *model.MatrixModel, ids []string, seqsByID map[string]seq.Batch, opts BuildOptions) (*model.BrickSet, error) {
	assembler := NewAssembler(m)
	assembler.LengthConsistent = opts.LengthConsistent
	assembler.Corrector = opts.Corrector

	chemPot := m.ChemicalPotentials(opts.ChemPotVariant)
	out := model.NewBrickSet()
	for _, id := range ids {
		seqs, ok := seqsByID[id]
		if !ok {
			return nil, fmt.Errorf("dataset %s: %w: no sequences", id, datasetid.ErrNotFound)
		}

		var mu float64
		if !opts.SkipChemPot {
			v, _, err := datasetid.Resolve(chemPot, id)
			if err != nil {
				return nil, fmt.Errorf("dataset %s chemical potential: %w", id, err)
			}
			mu = v
		}

		strands := []bool{false}
		if m.IncludeRC {
			strands = append(strands, true)
		}
		for _, reverse := range strands {
			input := seqs
			key := id
			if reverse {
				input = seqs.ReverseComplement()
				key = datasetid.Reverse(id)
			}
			brick, err := assembler.Assemble(input)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", key, err)
			}
			if mu != 0 {
				brick.AddScalar(-mu)
			}
			if reverse {
				brick.FlipPositions()
			}
			out.Put(key, brick)
		}
	}
	return out, nil
}
