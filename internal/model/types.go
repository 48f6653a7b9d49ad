package model

import (
	"errors"
	"fmt"

	"thermoters/internal/seq"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

var ErrInvalidDataset = errors.New("invalid dataset record")

// DinucleotideCoordinate names a pairwise base-identity feature. Positions are
// given in the layout of the central spacer length.
type DinucleotideCoordinate struct {
	P1 int   `json:"p1"`
	B1 uint8 `json:"b1"`
	P2 int   `json:"p2"`
	B2 uint8 `json:"b2"`
}

// DatasetRecord is one measured library: sequences with their discretized
// and continuous responses and sample weights.
type DatasetRecord struct {
	Seqs     seq.Batch
	DigiLums []int
	Lums     []float64
	Weights  []float64
}

func (d DatasetRecord) Validate() error {
	n := d.Seqs.Len()
	if n == 0 {
		return fmt.Errorf("%w: no sequences", ErrInvalidDataset)
	}
	if err := d.Seqs.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	if len(d.Weights) != n {
		return fmt.Errorf("%w: %d weights for %d sequences", ErrInvalidDataset, len(d.Weights), n)
	}
	if d.DigiLums != nil && len(d.DigiLums) != n {
		return fmt.Errorf("%w: %d class labels for %d sequences", ErrInvalidDataset, len(d.DigiLums), n)
	}
	if d.Lums != nil && len(d.Lums) != n {
		return fmt.Errorf("%w: %d responses for %d sequences", ErrInvalidDataset, len(d.Lums), n)
	}
	return nil
}

// Partition maps dataset ids to records, e.g. the "training" or "test" split.
type Partition map[string]DatasetRecord

// BrickSummary describes the energy landscape of one sequence.
type BrickSummary struct {
	DatasetID    string  `json:"dataset_id"`
	Sequence     int     `json:"sequence"`
	MinEnergy    float64 `json:"min_energy"`
	MaxEnergy    float64 `json:"max_energy"`
	MeanEnergy   float64 `json:"mean_energy"`
	BestSpacer   int     `json:"best_spacer"`
	BestPosition int     `json:"best_position"`
}

// RunRecord is the persisted outcome of one scoring or evaluation call.
type RunRecord struct {
	VersionedRecord
	ID           string                        `json:"id"`
	Kind         string                        `json:"kind"`
	CreatedAtUTC string                        `json:"created_at_utc"`
	ModelPath    string                        `json:"model_path,omitempty"`
	Partition    string                        `json:"partition,omitempty"`
	Objective    string                        `json:"objective,omitempty"`
	DataIDs      []string                      `json:"data_ids"`
	Scores       map[string]float64            `json:"scores,omitempty"`
	LogOccupancy map[string][]float64          `json:"log_occupancy,omitempty"`
	Summaries    []BrickSummary                `json:"summaries,omitempty"`
	Skipped      map[string]string             `json:"skipped,omitempty"`
	Params       map[string]map[string]float64 `json:"params,omitempty"`
}
