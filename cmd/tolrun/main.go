// Command tolrun drives population experiments against a simulated world.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tolrun/internal/config"
	"tolrun/internal/faults"
	"tolrun/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	worldAddr  string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logs   *logging.Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tolrun",
	Short: "tolrun - population insertion and simulated-time pacing",
	Long: `tolrun connects to a simulated world, births an initial population one
robot at a time with a fixed amount of simulated time between births, and
then reports how fast simulated time advances relative to wall-clock time.

Use "tolrun world" to serve a local simulated world for dry runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if worldAddr != "" {
			cfg.World.Address = worldAddr
		}

		logs, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		logger = logs.Root()
		logs.For(logging.CategoryBoot).Debug("configuration loaded",
			zap.String("config", configPath),
			zap.String("world", cfg.World.Address))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tolrun.yaml", "Config file")
	rootCmd.PersistentFlags().StringVar(&worldAddr, "world", "", "World websocket address (or set TOLRUN_WORLD_ADDR env)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(worldCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled with faults.ErrInterrupted on
// SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel(faults.ErrInterrupted)
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel(context.Canceled)
	}
}

// guarded runs fn behind the fault boundary, which prints shutdown messages
// to out.
func guarded(ctx context.Context, out io.Writer, fn func(context.Context) error) error {
	return faults.NewBoundary(logs.For(logging.CategoryFaults), out).Run(ctx, fn)
}
