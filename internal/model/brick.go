package model

// Brick is the energy landscape of a sequence batch over every spacer
// length and output position, stored sequence-major so that one
// sequence's (spacer × position) plane is contiguous.
type Brick struct {
	NSeq    int
	NSpacer int
	NPos    int
	Data    []float64
}

func NewBrick(nSeq, nSpacer, nPos int) *Brick {
	return &Brick{
		NSeq:    nSeq,
		NSpacer: nSpacer,
		NPos:    nPos,
		Data:    make([]float64, nSeq*nSpacer*nPos),
	}
}

func (b *Brick) index(iSeq, iSpacer, pos int) int {
	return (iSeq*b.NSpacer+iSpacer)*b.NPos + pos
}

func (b *Brick) At(iSeq, iSpacer, pos int) float64 {
	return b.Data[b.index(iSeq, iSpacer, pos)]
}

func (b *Brick) Set(iSeq, iSpacer, pos int, v float64) {
	b.Data[b.index(iSeq, iSpacer, pos)] = v
}

// Row returns the positions of one spacer row. The slice aliases the brick.
func (b *Brick) Row(iSeq, iSpacer int) []float64 {
	start := b.index(iSeq, iSpacer, 0)
	return b.Data[start : start+b.NPos]
}

// Plane returns one sequence's spacer × position energies, aliasing the brick.
func (b *Brick) Plane(iSeq int) []float64 {
	start := b.index(iSeq, 0, 0)
	return b.Data[start : start+b.NSpacer*b.NPos]
}

func (b *Brick) Clone() *Brick {
	out := *b
	out.Data = append([]float64(nil), b.Data...)
	return &out
}

// SameShape reports whether other has identical dimensions.
func (b *Brick) SameShape(other *Brick) bool {
	return b.NSeq == other.NSeq && b.NSpacer == other.NSpacer && b.NPos == other.NPos
}

// AddScalar shifts every energy by v in place.
func (b *Brick) AddScalar(v float64) {
	for i := range b.Data {
		b.Data[i] += v
	}
}

// Scaled returns a copy with every energy multiplied by s.
func (b *Brick) Scaled(s float64) *Brick {
	out := b.Clone()
	for i := range out.Data {
		out.Data[i] *= s
	}
	return out
}

// FlipPositions reverses the position axis in place.
func (b *Brick) FlipPositions() {
	for iSeq := 0; iSeq < b.NSeq; iSeq++ {
		for iS := 0; iS < b.NSpacer; iS++ {
			row := b.Row(iSeq, iS)
			for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
}

// Region gathers the energies of sequence iSeq at the given positions
// across all spacer rows into dst, which is returned resliced.
func (b *Brick) Region(dst []float64, iSeq int, positions []int) []float64 {
	dst = dst[:0]
	for iS := 0; iS < b.NSpacer; iS++ {
		row := b.Row(iSeq, iS)
		for _, p := range positions {
			dst = append(dst, row[p])
		}
	}
	return dst
}

// Span gathers the energies of positions [lo, hi) across all spacer rows.
func (b *Brick) Span(dst []float64, iSeq, lo, hi int) []float64 {
	dst = dst[:0]
	for iS := 0; iS < b.NSpacer; iS++ {
		dst = append(dst, b.Row(iSeq, iS)[lo:hi]...)
	}
	return dst
}

// BrickSet is an ordered dataset-id → brick mapping.
type BrickSet struct {
	Keys   []string
	Bricks map[string]*Brick
}

func NewBrickSet() *BrickSet {
	return &BrickSet{Bricks: make(map[string]*Brick)}
}

func (s *BrickSet) Put(key string, b *Brick) {
	if _, ok := s.Bricks[key]; !ok {
		s.Keys = append(s.Keys, key)
	}
	s.Bricks[key] = b
}

func (s *BrickSet) Get(key string) (*Brick, bool) {
	b, ok := s.Bricks[key]
	return b, ok
}

// Scaled returns a new set with every brick multiplied by scale.
func (s *BrickSet) Scaled(scale float64) *BrickSet {
	out := NewBrickSet()
	for _, k := range s.Keys {
		out.Put(k, s.Bricks[k].Scaled(scale))
	}
	return out
}
