package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"thermoters/internal/bundle"
	"thermoters/internal/energy"
	"thermoters/internal/model"
	"thermoters/pkg/thermoters"
)

func newBricksCmd(a *app) *cobra.Command {
	var (
		lengthConsistent bool
		skipChemPot      bool
		variant          string
		outPath          string
		clampAbove       float64
		clampFill        float64
	)
	cmd := &cobra.Command{
		Use:   "bricks",
		Short: "Build the binding-energy brick of every dataset",
		Long: `Build the binding-energy brick of every dataset.

Each brick holds one energy per sequence, spacer length and left-box position.
With --out the bricks are written as JSON; --clamp replaces energies above a
threshold for display.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Bricks(cmd.Context(), thermoters.BricksRequest{
				Input:            a.input(),
				LengthConsistent: a.lengthConsistent(cmd, lengthConsistent),
				SkipChemPot:      skipChemPot,
				ChemPotVariant:   variant,
			})
			if err != nil {
				return err
			}
			if outPath != "" {
				doc := make(map[string]brickJSON, len(res.Bricks.Keys))
				for _, key := range res.Bricks.Keys {
					b, _ := res.Bricks.Get(key)
					if cmd.Flags().Changed("clamp") {
						b = energy.Clamp(b, clampAbove, clampFill)
					}
					doc[key] = brickJSON{Shape: [3]int{b.NSeq, b.NSpacer, b.NPos}, Data: b.Data}
				}
				if err := writeFileJSON(outPath, doc); err != nil {
					return err
				}
			}

			if a.jsonOutput() {
				return a.writeJSON(map[string]any{"run_id": res.RunID, "keys": res.Bricks.Keys, "summaries": res.Summaries})
			}
			for _, key := range res.Bricks.Keys {
				b, _ := res.Bricks.Get(key)
				lo, hi, mean := brickRange(res.Summaries, key)
				a.printf("brick key=%s seqs=%s spacers=%d positions=%d min_energy=%.4f max_energy=%.4f mean_energy=%.4f\n",
					key, count(b.NSeq), b.NSpacer, b.NPos, lo, hi, mean)
			}
			if res.RunID != "" {
				a.printf("run_id=%s artifacts_dir=%s\n", res.RunID, res.ArtifactsDir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&lengthConsistent, "length-consistent", false, "use the fixed-length layout with sentinel-padded cells")
	cmd.Flags().BoolVar(&skipChemPot, "skip-chem-pot", false, "do not subtract the chemical potential")
	cmd.Flags().StringVar(&variant, "chem-pot", "", "chemical potential table, e.g. chem.pot_mlogL")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write bricks as JSON to this file")
	cmd.Flags().Float64Var(&clampAbove, "clamp", 0, "replace energies above this value in --out")
	cmd.Flags().Float64Var(&clampFill, "clamp-fill", 0, "value written in place of clamped energies")
	return cmd
}

type brickJSON struct {
	Shape [3]int    `json:"shape"`
	Data  []float64 `json:"data"`
}

func brickRange(summaries []model.BrickSummary, key string) (lo, hi, mean float64) {
	var mins, maxs, means []float64
	for _, s := range summaries {
		if s.DatasetID != key {
			continue
		}
		mins = append(mins, s.MinEnergy)
		maxs = append(maxs, s.MaxEnergy)
		means = append(means, s.MeanEnergy)
	}
	if len(mins) == 0 {
		return 0, 0, 0
	}
	return floats.Min(mins), floats.Max(maxs), stat.Mean(means, nil)
}

func newOccupancyCmd(a *app) *cobra.Command {
	var (
		lengthConsistent bool
		variant          string
	)
	cmd := &cobra.Command{
		Use:   "occupancy",
		Short: "Compute log10 occupancy of the ON region for every sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Occupancy(cmd.Context(), thermoters.OccupancyRequest{
				Input:            a.input(),
				LengthConsistent: a.lengthConsistent(cmd, lengthConsistent),
				ChemPotVariant:   variant,
			})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.writeJSON(map[string]any{"run_id": res.RunID, "keys": res.LogOccupancy.Keys, "log_occupancy": res.LogOccupancy.Values})
			}
			for _, key := range res.LogOccupancy.Keys {
				values := res.LogOccupancy.Values[key]
				a.printf("occupancy key=%s seqs=%s mean_log10_pon=%.4f min_log10_pon=%.4f max_log10_pon=%.4f\n",
					key, count(len(values)), stat.Mean(values, nil), floats.Min(values), floats.Max(values))
			}
			if res.RunID != "" {
				a.printf("run_id=%s artifacts_dir=%s\n", res.RunID, res.ArtifactsDir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&lengthConsistent, "length-consistent", false, "use the fixed-length brick layout")
	cmd.Flags().StringVar(&variant, "chem-pot", "", "chemical potential table, e.g. chem.pot_r2")
	return cmd
}

func newEvaluateCmd(a *app) *cobra.Command {
	var (
		fit       string
		saveModel string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score predicted occupancy against measured expression",
		Long: `Score predicted occupancy against measured expression.

Objectives: mlogL (weighted negative log-likelihood of the class labels),
r2 (1 - wMSE/wVar of each dataset's predictor) and linR2 (R² of a fresh
weighted linear fit). Response models are refit on training partitions
unless --fit says otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var fitFlag *bool
			switch fit {
			case "", "auto":
			default:
				v, err := strconv.ParseBool(fit)
				if err != nil {
					return fmt.Errorf("--fit must be auto, true or false: %w", err)
				}
				fitFlag = &v
			}

			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Evaluate(cmd.Context(), thermoters.EvaluateRequest{
				Input:       a.input(),
				Objective:   a.cfg.Scoring.Objective,
				Fit:         fitFlag,
				SkipMissing: a.cfg.Scoring.SkipMissing,
			})
			if err != nil {
				return err
			}
			if saveModel != "" {
				var buf bytes.Buffer
				if err := bundle.Encode(&buf, res.Bundle); err != nil {
					return err
				}
				if err := os.WriteFile(saveModel, buf.Bytes(), 0o644); err != nil {
					return err
				}
			}

			if a.jsonOutput() {
				return a.writeJSON(map[string]any{
					"run_id":  res.RunID,
					"keys":    res.Keys,
					"scores":  res.Scores,
					"skipped": res.Skipped,
					"summary": res.Summary,
				})
			}
			for _, key := range res.Keys {
				a.printf("score key=%s objective=%s value=%.6f\n", key, a.cfg.Scoring.Objective, res.Scores[key])
			}
			skipped := make([]string, 0, len(res.Skipped))
			for key := range res.Skipped {
				skipped = append(skipped, key)
			}
			sort.Strings(skipped)
			for _, key := range skipped {
				a.printf("skipped key=%s reason=%q\n", key, res.Skipped[key])
			}
			a.printf("total=%.6f mean=%.6f datasets=%s\n", res.Summary.Total, res.Summary.Mean, count(res.Summary.Count))
			if res.RunID != "" {
				a.printf("run_id=%s artifacts_dir=%s\n", res.RunID, res.ArtifactsDir)
			}
			return nil
		},
	}
	cmd.Flags().StringP("objective", "O", "", "objective: mlogL, r2 or linR2 (default mlogL)")
	cmd.Flags().Bool("skip-missing", false, "skip datasets without chemical potential, threshold or response model")
	cmd.Flags().StringVar(&fit, "fit", "auto", "refit response models: auto, true or false")
	cmd.Flags().StringVar(&saveModel, "save-model", "", "write the (refitted) model bundle to this file")
	_ = a.v.BindPFlag("objective", cmd.Flags().Lookup("objective"))
	_ = a.v.BindPFlag("skip-missing", cmd.Flags().Lookup("skip-missing"))
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.Runs(cmd.Context(), thermoters.RunsRequest{Kind: kind, Limit: limit})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.writeJSON(runs)
			}
			for _, r := range runs {
				a.printf("run_id=%s kind=%s created=%s partition=%s objective=%s datasets=%s total_score=%.6f skipped=%d\n",
					r.RunID, r.Kind, since(r.CreatedAtUTC), r.Partition, r.Objective, count(r.Datasets), r.TotalScore, r.Skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only runs of this kind: bricks, occupancy or evaluate")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	return cmd
}

func newCompareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <run-a> <run-b>",
		Short: "Compare the per-dataset scores of two runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			cmp, err := client.CompareRuns(cmd.Context(), thermoters.CompareRequest{RunA: args[0], RunB: args[1]})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.writeJSON(cmp)
			}
			for _, id := range cmp.Shared {
				a.printf("dataset=%s delta=%.6f\n", id, cmp.Deltas[id])
			}
			a.printf("shared=%s gt=%t lt=%t eq=%t\n", count(len(cmp.Shared)), cmp.GT, cmp.LT, cmp.EQ)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts and model snapshot to a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" && !latest {
				return errors.New("export requires --run-id or --latest")
			}
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Export(cmd.Context(), thermoters.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.writeJSON(summary)
			}
			a.printf("exported run_id=%s dir=%s\n", summary.RunID, filepath.Clean(summary.Directory))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to export")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVarP(&outDir, "out", "o", "exports", "destination directory")
	return cmd
}
