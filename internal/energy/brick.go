package energy

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"thermoters/internal/model"
	"thermoters/internal/seq"
)

// UnreachableEnergy fills length-consistent brick cells that no spacer
// configuration can reach; exp(-100) is negligible in every reduction.
const UnreachableEnergy = 100.0

// Geometry describes how brick cells map onto sequence coordinates. The
// left box of the cell (spacer iS, position p) starts at p + Anchor - iS and
// the right box starts MinSpacer + iS bases after the left box ends.
type Geometry struct {
	N1        int
	N2        int
	MinSpacer int
	NSpacer   int
	SeqLen    int
	Anchor    int
	NPos      int
}

// Reach is the number of valid left-box offsets shared by both boxes at the
// minimum spacer.
func (g Geometry) Reach() int {
	return g.SeqLen - g.N1 - g.N2 - g.MinSpacer + 1
}

// LeftStart returns the left-box offset of a cell and whether the
// configuration fits in the sequence.
func (g Geometry) LeftStart(iS, pos int) (int, bool) {
	k := pos + g.Anchor - iS
	return k, k >= 0 && k < g.Reach()-iS
}

// LayoutLength is the span of both boxes at the central spacer length; the
// coordinate space of dinucleotide features.
func (g Geometry) LayoutLength() int {
	return g.N1 + g.MinSpacer + g.NSpacer/2 + g.N2
}

// Assembler builds bricks for one matrix model.
type Assembler struct {
	Left      *mat.Dense
	Right     *mat.Dense
	MinSpacer int
	Penalties []float64

	// LengthConsistent selects the fixed-length layout centred on the
	// zero-penalty middle spacer instead of right-flush truncation.
	LengthConsistent bool

	// Corrector folds extra terms into every assembled brick. Nil means
	// NoCorrection.
	Corrector Corrector
}

func NewAssembler(m *model.MatrixModel) *Assembler {
	return &Assembler{
		Left:      m.LeftBox,
		Right:     m.RightBox,
		MinSpacer: m.MinSpacer,
		Penalties: m.SpacerPenalties,
	}
}

// Geometry returns the cell mapping for sequences of length seqLen.
func (a *Assembler) Geometry(seqLen int) (Geometry, error) {
	if a.Left == nil || a.Right == nil {
		return Geometry{}, fmt.Errorf("%w: missing box matrix", ErrShape)
	}
	n1, c1 := a.Left.Dims()
	n2, c2 := a.Right.Dims()
	if c1 != seq.NumBases || c2 != seq.NumBases {
		return Geometry{}, fmt.Errorf("%w: box widths %d and %d, want %d", ErrShape, c1, c2, seq.NumBases)
	}
	nSpacer := len(a.Penalties)
	if nSpacer == 0 {
		return Geometry{}, fmt.Errorf("%w: no spacer penalties", ErrShape)
	}
	if a.MinSpacer < 0 {
		return Geometry{}, fmt.Errorf("%w: negative min spacer %d", ErrShape, a.MinSpacer)
	}

	g := Geometry{
		N1:        n1,
		N2:        n2,
		MinSpacer: a.MinSpacer,
		NSpacer:   nSpacer,
		SeqLen:    seqLen,
	}
	if a.LengthConsistent {
		flex := nSpacer / 2
		if a.Penalties[flex] != 0 {
			return Geometry{}, fmt.Errorf("%w: length-consistent layout needs zero penalty at spacer %d, got %g", ErrShape, flex, a.Penalties[flex])
		}
		g.Anchor = flex
		g.NPos = g.Reach() - flex
	} else {
		g.Anchor = nSpacer
		g.NPos = g.Reach() - nSpacer
	}
	if g.NPos <= 0 {
		return Geometry{}, fmt.Errorf("%w: sequence length %d leaves no brick positions (boxes %d+%d, min spacer %d, %d spacers)",
			ErrShape, seqLen, n1, n2, a.MinSpacer, nSpacer)
	}
	return g, nil
}

// Assemble returns the brick of seqs. Each call allocates a fresh brick.
func (a *Assembler) Assemble(seqs seq.Batch) (*model.Brick, error) {
	if err := seqs.Validate(); err != nil {
		return nil, err
	}
	if seqs.Len() == 0 {
		return nil, fmt.Errorf("%w: empty sequence batch", ErrShape)
	}
	g, err := a.Geometry(seqs.Width())
	if err != nil {
		return nil, err
	}

	left, err := slideRange(a.Left, seqs, 0, g.SeqLen-g.N2-g.MinSpacer)
	if err != nil {
		return nil, fmt.Errorf("left box: %w", err)
	}
	right, err := slideRange(a.Right, seqs, g.N1+g.MinSpacer, g.SeqLen)
	if err != nil {
		return nil, fmt.Errorf("right box: %w", err)
	}

	brick := model.NewBrick(seqs.Len(), g.NSpacer, g.NPos)
	leftRaw, rightRaw := left.RawMatrix(), right.RawMatrix()
	for i := 0; i < seqs.Len(); i++ {
		l := leftRaw.Data[i*leftRaw.Stride : i*leftRaw.Stride+leftRaw.Cols]
		r := rightRaw.Data[i*rightRaw.Stride : i*rightRaw.Stride+rightRaw.Cols]
		for iS, penalty := range a.Penalties {
			row := brick.Row(i, iS)
			for p := range row {
				k, ok := g.LeftStart(iS, p)
				if !ok {
					row[p] = UnreachableEnergy
					continue
				}
				row[p] = l[k] + r[k+iS] + penalty
			}
		}
	}

	corrector := a.Corrector
	if corrector == nil {
		corrector = NoCorrection{}
	}
	if err := corrector.Correct(brick, seqs, g); err != nil {
		return nil, fmt.Errorf("correct brick: %w", err)
	}
	return brick, nil
}
