package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tolrun/internal/ledger"
	"tolrun/internal/logging"
)

var reportDir string

// reportCmd summarizes recorded runs
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the runs recorded in an output directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := reportDir
		if dir == "" {
			dir = cfg.Experiment.OutputDirectory
		}
		if dir == "" {
			return fmt.Errorf("no output directory (use --output-dir or set experiment.output_directory)")
		}
		return printReport(cmd.Context(), dir, cmd.OutOrStdout())
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportDir, "output-dir", "o", "", "Output directory holding tolrun.db")
}

func printReport(ctx context.Context, dir string, out io.Writer) error {
	store, err := ledger.Open(dir, logs.For(logging.CategoryLedger))
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(out, "No runs recorded in %s\n", store.Path())
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tWORLD\tBIRTHS\tSAMPLES\tMEAN SPEED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\t%.3f\n",
			r.ID,
			humanize.Time(r.Started),
			r.WorldAddress,
			humanize.Comma(int64(r.Births)),
			humanize.Comma(int64(r.PopulationSize)),
			humanize.Comma(int64(r.Samples)),
			r.MeanFactor)
	}
	return tw.Flush()
}
