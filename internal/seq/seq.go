// Package seq holds the integer nucleotide encoding shared by the scoring
// packages. Bases are indexed a=0, c=1, g=2, t=3, which is also the column
// order of every energy matrix.
package seq

import (
	"errors"
	"fmt"
	"strings"
)

const Alphabet = "acgt"

const NumBases = len(Alphabet)

var (
	ErrInvalidBase = errors.New("invalid base")
	ErrRagged      = errors.New("sequences differ in length")
)

// Batch is a sequence-index × position array of encoded bases.
type Batch [][]uint8

func (b Batch) Len() int {
	return len(b)
}

// Width returns the common row length, or 0 for an empty batch.
func (b Batch) Width() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Validate checks that all rows share one length and hold only base indices.
func (b Batch) Validate() error {
	width := b.Width()
	for i, row := range b {
		if len(row) != width {
			return fmt.Errorf("row %d has length %d, want %d: %w", i, len(row), width, ErrRagged)
		}
		for j, base := range row {
			if int(base) >= NumBases {
				return fmt.Errorf("row %d position %d value %d: %w", i, j, base, ErrInvalidBase)
			}
		}
	}
	return nil
}

// Encode maps an acgt string (case-insensitive, u read as t) to base indices.
func Encode(s string) ([]uint8, error) {
	out := make([]uint8, 0, len(s))
	for i, r := range strings.ToLower(s) {
		switch r {
		case 'a':
			out = append(out, 0)
		case 'c':
			out = append(out, 1)
		case 'g':
			out = append(out, 2)
		case 't', 'u':
			out = append(out, 3)
		default:
			return nil, fmt.Errorf("position %d %q: %w", i, r, ErrInvalidBase)
		}
	}
	return out, nil
}

// EncodeAll encodes every string and checks the result is rectangular.
func EncodeAll(seqs []string) (Batch, error) {
	out := make(Batch, 0, len(seqs))
	for i, s := range seqs {
		row, err := Encode(s)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		out = append(out, row)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode is the inverse of Encode.
func Decode(row []uint8) string {
	var sb strings.Builder
	sb.Grow(len(row))
	for _, base := range row {
		if int(base) < NumBases {
			sb.WriteByte(Alphabet[base])
		} else {
			sb.WriteByte('n')
		}
	}
	return sb.String()
}

// Complement is the arithmetic complement of a base index.
func Complement(base uint8) uint8 {
	return 3 - base
}

// ReverseComplement complements every base and reverses the position axis.
// The input batch is not modified.
func (b Batch) ReverseComplement() Batch {
	out := make(Batch, len(b))
	for i, row := range b {
		rc := make([]uint8, len(row))
		for j, base := range row {
			rc[len(row)-1-j] = Complement(base)
		}
		out[i] = rc
	}
	return out
}
