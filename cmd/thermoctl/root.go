package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"thermoters/internal/config"
	"thermoters/pkg/thermoters"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfg     config.Config
	logger  *slog.Logger
	out     io.Writer
	cfgFile string
	asJSON  bool
	asText  bool
	persist bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), out: out}

	root := &cobra.Command{
		Use:   "thermoctl",
		Short: "Score promoter sequences with a two-box thermodynamic binding model",
		Long: `Score promoter sequences with a two-box thermodynamic binding model.

thermoctl reads a fitted model bundle and a partitioned dataset file, then
  bricks     builds the binding-energy bricks of every dataset
  occupancy  converts them into log10 occupancy of the ON region
  evaluate   scores occupancy against measured expression (mlogL, r2, linR2)
Persisted calls are recorded as runs; see "runs" and "export".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./thermoters.yaml)")
	flags.StringP("model", "m", "", "path to the model bundle JSON")
	flags.StringP("data", "d", "", "path to the partitioned dataset JSON")
	flags.StringP("partition", "p", "", "data partition to score (default training)")
	flags.String("store", "", "run store backend: memory or sqlite")
	flags.String("db-path", "", "sqlite database path")
	flags.String("artifacts-dir", "", "directory for run artifacts")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Int("workers", 0, "dinucleotide correction workers (default number of CPUs)")
	flags.Bool("dinucleotides", false, "apply the bundle's dinucleotide corrections")
	flags.BoolVar(&a.asJSON, "json", false, "write JSON even on a terminal")
	flags.BoolVar(&a.asText, "text", false, "write key=value lines even when piped")
	flags.BoolVar(&a.persist, "persist", true, "record the call as a run")
	for _, name := range []string{"model", "data", "partition", "store", "db-path", "artifacts-dir", "log-level", "workers", "dinucleotides"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newBricksCmd(a),
		newOccupancyCmd(a),
		newEvaluateCmd(a),
		newRunsCmd(a),
		newCompareCmd(a),
		newExportCmd(a),
	)
	return root
}

func (a *app) loadConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger()
	a.logger.Debug("configuration loaded", "config_file", a.v.ConfigFileUsed(), "store", cfg.Store.Kind, "partition", cfg.Scoring.Partition)
	return nil
}

func (a *app) client(cmd *cobra.Command) (*thermoters.Client, error) {
	client, err := thermoters.New(thermoters.Options{
		StoreKind:    a.cfg.Store.Kind,
		DBPath:       a.cfg.Store.DBPath,
		ArtifactsDir: a.cfg.ArtifactsDir,
		Workers:      a.cfg.Scoring.Workers,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (a *app) input() thermoters.Input {
	return thermoters.Input{
		ModelPath:     a.cfg.Model,
		DataPath:      a.cfg.Data,
		Partition:     a.cfg.Scoring.Partition,
		Dinucleotides: a.cfg.Scoring.Dinucleotides,
		Persist:       a.persist,
	}
}

// lengthConsistent prefers an explicit --length-consistent flag over the
// configured layout.
func (a *app) lengthConsistent(cmd *cobra.Command, flag bool) bool {
	if cmd.Flags().Changed("length-consistent") {
		return flag
	}
	return a.cfg.Scoring.LengthConsistent
}
