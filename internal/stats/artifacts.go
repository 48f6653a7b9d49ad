package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"thermoters/internal/model"
)

const (
	runIndexFile     = "run_index.json"
	configFile       = "config.json"
	scoresFile       = "scores.json"
	occupancyFile    = "log_occupancy.csv"
	brickSummaryFile = "brick_summary.csv"
)

type RunConfig struct {
	RunID            string   `json:"run_id"`
	Kind             string   `json:"kind"`
	ModelPath        string   `json:"model_path,omitempty"`
	DataPath         string   `json:"data_path,omitempty"`
	Partition        string   `json:"partition,omitempty"`
	Objective        string   `json:"objective,omitempty"`
	DataIDs          []string `json:"data_ids"`
	BindMode         string   `json:"bind_mode"`
	EnergyScale      float64  `json:"energy_scale"`
	IncludeRC        bool     `json:"include_rc"`
	LengthConsistent bool     `json:"length_consistent,omitempty"`
	Fit              bool     `json:"fit,omitempty"`
	Workers          int      `json:"workers"`
	CreatedAtUTC     string   `json:"created_at_utc"`
}

// ScoreSummary aggregates per-dataset scores of one run.
type ScoreSummary struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type RunArtifacts struct {
	Config       RunConfig
	Scores       map[string]float64
	Skipped      map[string]string
	DataIDs      []string
	LogOccupancy map[string][]float64
	Summaries    []model.BrickSummary
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Kind         string  `json:"kind"`
	Objective    string  `json:"objective,omitempty"`
	Partition    string  `json:"partition,omitempty"`
	Datasets     int     `json:"datasets"`
	TotalScore   float64 `json:"total_score"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// SummarizeScores reduces scores in key order; an empty map gives a zero
// summary.
func SummarizeScores(scores map[string]float64) ScoreSummary {
	if len(scores) == 0 {
		return ScoreSummary{}
	}
	values := make([]float64, 0, len(scores))
	for _, key := range sortedKeys(scores) {
		values = append(values, scores[key])
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return ScoreSummary{
		Count: len(values),
		Total: floats.Sum(values),
		Mean:  mean,
		Std:   std,
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if artifacts.Scores != nil {
		if err := writeJSON(filepath.Join(runDir, scoresFile), map[string]any{
			"scores":  artifacts.Scores,
			"skipped": artifacts.Skipped,
			"summary": SummarizeScores(artifacts.Scores),
		}); err != nil {
			return "", err
		}
	}
	if artifacts.LogOccupancy != nil {
		ids := artifacts.DataIDs
		if len(ids) == 0 {
			ids = sortedKeys(artifacts.LogOccupancy)
		}
		if err := writeOccupancyCSV(filepath.Join(runDir, occupancyFile), ids, artifacts.LogOccupancy); err != nil {
			return "", err
		}
	}
	if artifacts.Summaries != nil {
		if err := writeSummaryCSV(filepath.Join(runDir, brickSummaryFile), artifacts.Summaries); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ExportRunArtifacts copies the files of one run into outDir/<runID>.
// config.json is required; the others are copied when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(filepath.Join(src, configFile)); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, scoresFile, occupancyFile, brickSummaryFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadScores(baseDir, runID string) (map[string]float64, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, scoresFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var payload struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false, err
	}
	return payload.Scores, true, nil
}

func writeOccupancyCSV(path string, ids []string, values map[string][]float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"dataset_id", "sequence", "log10_pon"}); err != nil {
		return err
	}
	for _, id := range ids {
		for i, v := range values[id] {
			if err := writer.Write([]string{id, strconv.Itoa(i), strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadLogOccupancy reads log_occupancy.csv back into per-dataset slices,
// keeping the file's dataset order.
func ReadLogOccupancy(baseDir, runID string) ([]string, map[string][]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, occupancyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []string{}, map[string][]float64{}, true, nil
		}
		return nil, nil, false, err
	}
	if len(header) < 3 {
		return nil, nil, false, fmt.Errorf("log occupancy header must have 3 columns")
	}

	var ids []string
	out := make(map[string][]float64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, false, err
		}
		value, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, nil, false, err
		}
		if _, ok := out[record[0]]; !ok {
			ids = append(ids, record[0])
		}
		out[record[0]] = append(out[record[0]], value)
	}
	return ids, out, true, nil
}

func writeSummaryCSV(path string, summaries []model.BrickSummary) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"dataset_id", "sequence", "min_energy", "max_energy", "mean_energy", "best_spacer", "best_position"}); err != nil {
		return err
	}
	for _, s := range summaries {
		if err := writer.Write([]string{
			s.DatasetID,
			strconv.Itoa(s.Sequence),
			formatEnergy(s.MinEnergy),
			formatEnergy(s.MaxEnergy),
			formatEnergy(s.MeanEnergy),
			strconv.Itoa(s.BestSpacer),
			strconv.Itoa(s.BestPosition),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatEnergy(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
