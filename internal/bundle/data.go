package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"thermoters/internal/model"
	"thermoters/internal/seq"
)

var ErrData = errors.New("invalid dataset file")

// LoadDataFile reads partitioned datasets:
//
//	{"training": {"lib": {"seqs": [...], "digiLums": [...], "lums": [...], "weights": [...]}}}
//
// Sequences are either acgt strings or arrays of base indices. Missing
// weights default to 1.
func LoadDataFile(path string) (map[string]model.Partition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := DecodeData(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func DecodeData(r io.Reader) (map[string]model.Partition, error) {
	var raw map[string]map[string]map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrData, err)
	}
	out := make(map[string]model.Partition, len(raw))
	for name, datasets := range raw {
		partition := make(model.Partition, len(datasets))
		for id, fields := range datasets {
			rec, err := convertRecord(fields)
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %v", ErrData, name, id, err)
			}
			partition[id] = rec
		}
		out[name] = partition
	}
	return out, nil
}

func convertRecord(in map[string]any) (model.DatasetRecord, error) {
	var rec model.DatasetRecord
	seqs, err := asBatch(in["seqs"])
	if err != nil {
		return rec, err
	}
	rec.Seqs = seqs
	if v, ok := in["digiLums"]; ok {
		if rec.DigiLums, ok = asInts(v); !ok {
			return rec, errors.New("malformed digiLums")
		}
	}
	if v, ok := in["lums"]; ok {
		if rec.Lums, ok = asFloat64s(v); !ok {
			return rec, errors.New("malformed lums")
		}
	}
	if v, ok := in["weights"]; ok {
		if rec.Weights, ok = asFloat64s(v); !ok {
			return rec, errors.New("malformed weights")
		}
	} else {
		rec.Weights = make([]float64, seqs.Len())
		for i := range rec.Weights {
			rec.Weights[i] = 1
		}
	}
	return rec, rec.Validate()
}

func asBatch(v any) (seq.Batch, error) {
	if strs, ok := asStrings(v); ok {
		return seq.EncodeAll(strs)
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, errors.New("seqs must be a list")
	}
	out := make(seq.Batch, len(raw))
	for i, item := range raw {
		bases, ok := asInts(item)
		if !ok {
			return nil, fmt.Errorf("sequence %d is neither a string nor a list of base indices", i)
		}
		row := make([]uint8, len(bases))
		for j, b := range bases {
			if b < 0 || b >= seq.NumBases {
				return nil, fmt.Errorf("sequence %d position %d value %d: %w", i, j, b, seq.ErrInvalidBase)
			}
			row[j] = uint8(b)
		}
		out[i] = row
	}
	return out, nil
}
