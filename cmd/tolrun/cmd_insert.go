package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tolrun/internal/config"
	"tolrun/internal/logging"
	"tolrun/internal/robot"
)

var (
	robotFile    string
	genotypeFile string
)

// insertCmd inserts a single robot described by YAML files
var insertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert one robot from a YAML description at the origin",
	Long: `Loads a robot body (and optionally a separate genotype for its brain) from
YAML, pauses the world, inserts the robot at the origin, waits for it to
appear and resumes the world.

Example:
  tolrun insert --robot-file spider.yaml --genotype-file spider-brain.yaml`,
	RunE: runInsert,
}

func init() {
	insertCmd.Flags().StringVar(&robotFile, "robot-file", "", "Robot YAML file (required)")
	insertCmd.Flags().StringVar(&genotypeFile, "genotype-file", "", "Genotype YAML file for the brain")
	_ = insertCmd.MarkFlagRequired("robot-file")
}

func runInsert(cmd *cobra.Command, args []string) error {
	tree, err := robot.LoadTree(robotFile, genotypeFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	return guarded(ctx, out, func(ctx context.Context) error {
		return insertOne(ctx, cfg, tree, out)
	})
}

// insertOne places tree at the origin of a paused world and resumes it once
// the robot exists.
func insertOne(ctx context.Context, c *config.Config, tree robot.Tree, out io.Writer) error {
	log := logs.For(logging.CategoryBirth)

	client, err := dialWorld(ctx, c)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Pause(ctx, true); err != nil {
		return err
	}
	ins, err := client.Insert(ctx, tree, robot.NewPose(robot.Vector3{}), nil)
	if err != nil {
		return fmt.Errorf("insert %s: %w", tree.ID, err)
	}
	r, err := ins.Wait(ctx)
	if err != nil {
		return fmt.Errorf("insert %s: %w", tree.ID, err)
	}
	if err := client.Pause(ctx, false); err != nil {
		return err
	}

	log.Info("robot inserted", zap.String("robot", r.Name), zap.String("tree", tree.ID))
	fmt.Fprintf(out, "Inserted %s (%s)\n", r.Name, tree.ID)
	return nil
}
