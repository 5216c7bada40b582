package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tolrun/internal/logging"
	"tolrun/internal/simworld"
)

var (
	listenAddr  string
	speedFactor float64
)

// worldCmd serves a local simulated world
var worldCmd = &cobra.Command{
	Use:   "world",
	Short: "Serve a local simulated world",
	Long: `Serves a simulated world over websockets. The world advances a simulated
clock at a fixed multiple of real time, generates random populations and
accepts robot insertions. It has no physics and is meant for dry runs.`,
	RunE: runWorld,
}

func init() {
	worldCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default from config)")
	worldCmd.Flags().Float64Var(&speedFactor, "speed", 0, "Simulated seconds per real second (default from config)")
}

func runWorld(cmd *cobra.Command, args []string) error {
	if listenAddr != "" {
		cfg.SimWorld.Listen = listenAddr
	}
	if speedFactor > 0 {
		cfg.SimWorld.SpeedFactor = speedFactor
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	l, err := net.Listen("tcp", cfg.SimWorld.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving world on ws://%s%s\n", l.Addr(), cfg.SimWorld.Path)
	return serveWorld(ctx, l, cfg.SimWorldServer(), cfg.SimWorld.Path)
}

// serveWorld serves a simulated world on l until ctx is done.
func serveWorld(ctx context.Context, l net.Listener, sc simworld.Config, path string) error {
	log := logs.For(logging.CategorySimWorld)
	sim := simworld.NewServer(sc, log)

	mux := http.NewServeMux()
	mux.Handle(path, sim)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("world listening", zap.Stringer("addr", l.Addr()), zap.Float64("speed", sc.SpeedFactor))
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Sessions are hijacked connections; Shutdown does not wait for them.
		sim.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	log.Info("world stopped", zap.Int("sessions", sim.Sessions()))
	return err
}
