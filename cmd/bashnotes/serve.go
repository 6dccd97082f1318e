package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jxucoder/bashnotes/internal/config"
	"github.com/jxucoder/bashnotes/internal/notebook"
	"github.com/jxucoder/bashnotes/internal/server"
	"github.com/jxucoder/bashnotes/pkg/eventbus"
	"github.com/jxucoder/bashnotes/pkg/sandbox/docker"
	"github.com/jxucoder/bashnotes/pkg/store"
	"github.com/jxucoder/bashnotes/pkg/store/sqlite"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Start the bashnotes server",
	Long:         "Serve the notebook root over HTTP until interrupted.",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides BASHNOTES_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveAddr != "" {
		cfg.ServerAddr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := docker.New()
	if err := rt.EnsureNetwork(ctx, cfg.DockerNetwork); err != nil {
		return fmt.Errorf("docker network: %w", err)
	}

	var st store.RunStore
	if cfg.History {
		s, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer s.Close()
		st = s
	}

	renderer, err := notebook.NewRenderer(rt, st, notebook.Config{
		Root:        cfg.Root,
		ImagePrefix: cfg.DockerImage,
		Network:     cfg.DockerNetwork,
		MountPoint:  cfg.MountPoint,
		CacheSize:   cfg.CacheSize,
	})
	if err != nil {
		return err
	}
	srv := server.New(cfg, renderer, eventbus.NewInMemoryBus(), st)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("Shutting down")
		return nil
	})
	return g.Wait()
}
