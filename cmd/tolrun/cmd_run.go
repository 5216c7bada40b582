package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tolrun/internal/config"
	"tolrun/internal/ledger"
	"tolrun/internal/logging"
	"tolrun/internal/population"
	"tolrun/internal/world"
)

var (
	populationSize    int
	maxLifetime       float64
	initialAgeMu      float64
	initialAgeSigma   float64
	enableLightSensor bool
	outputDir         string
	seed              uint64
)

// runCmd runs a population experiment
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Insert a generated population and report the simulation speed",
	Long: `Pauses the world, asks it to generate a population, then births every
robot in turn with a fixed amount of simulated time between births. Once all
robots are in, prints the ratio of simulated to real time once per monitoring
interval until interrupted.

A lost or refused world connection ends the run cleanly.`,
	RunE: runExperiment,
}

func init() {
	runCmd.Flags().IntVarP(&populationSize, "population-size", "n", 40, "Number of robots to insert")
	runCmd.Flags().Float64Var(&maxLifetime, "max-lifetime", 999999, "Maximum robot lifetime in simulated seconds")
	runCmd.Flags().Float64Var(&initialAgeMu, "initial-age-mu", 500, "Mean initial robot age")
	runCmd.Flags().Float64Var(&initialAgeSigma, "initial-age-sigma", 500, "Initial robot age deviation")
	runCmd.Flags().BoolVar(&enableLightSensor, "enable-light-sensor", false, "Give robots a light sensor")
	runCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Record births and samples to <dir>/tolrun.db")
	runCmd.Flags().Uint64Var(&seed, "seed", 12345, "Random seed for birth placement")
}

// applyRunFlags copies explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("population-size") {
		c.Experiment.PopulationSize = populationSize
	}
	if flags.Changed("max-lifetime") {
		c.World.Params.MaxLifetime = maxLifetime
	}
	if flags.Changed("initial-age-mu") {
		c.World.Params.InitialAgeMu = initialAgeMu
	}
	if flags.Changed("initial-age-sigma") {
		c.World.Params.InitialAgeSigma = initialAgeSigma
	}
	if flags.Changed("enable-light-sensor") {
		c.World.Params.EnableLightSensor = enableLightSensor
	}
	if flags.Changed("output-dir") {
		c.Experiment.OutputDirectory = outputDir
	}
	if flags.Changed("seed") {
		c.Experiment.Seed = seed
	}
}

func runExperiment(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	return guarded(ctx, out, func(ctx context.Context) error {
		return runPopulation(ctx, cfg, out)
	})
}

// dialWorld connects to the configured world. Dials slower than half the
// dial timeout are logged as warnings, failed ones included.
func dialWorld(ctx context.Context, c *config.Config) (*world.Client, error) {
	log := logs.For(logging.CategoryWorld)
	timer := logging.StartTimer(log, "dial world")
	client, err := world.Dial(ctx, c.WorldClient(), log)
	timer.StopWithThreshold(c.GetDialTimeout() / 2)
	return client, err
}

// runPopulation connects to the world and runs one experiment until ctx is
// cancelled or the world goes away.
func runPopulation(ctx context.Context, c *config.Config, out io.Writer) error {
	client, err := dialWorld(ctx, c)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := []population.Option{
		population.WithLogger(logs.For(logging.CategoryPopulation)),
		population.WithOutput(out),
	}

	if dir := c.Experiment.OutputDirectory; dir != "" {
		store, err := ledger.Open(dir, logs.For(logging.CategoryLedger))
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()

		run, err := store.BeginRun(ctx, ledger.RunInfo{
			WorldAddress:   c.World.Address,
			PopulationSize: c.Experiment.PopulationSize,
			Seed:           c.Experiment.Seed,
		})
		if err != nil {
			return err
		}
		logs.For(logging.CategoryLedger).Info("recording run",
			zap.String("run", run),
			zap.String("path", store.Path()))
		opts = append(opts, population.WithRecorder(store))
	}

	ctrl := population.New(c.Population(), opts...)
	return ctrl.Run(ctx, client)
}
