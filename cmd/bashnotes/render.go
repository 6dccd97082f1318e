package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jxucoder/bashnotes/internal/config"
	"github.com/jxucoder/bashnotes/internal/notebook"
	"github.com/jxucoder/bashnotes/pkg/sandbox/docker"
	"github.com/jxucoder/bashnotes/pkg/store"
	"github.com/jxucoder/bashnotes/pkg/store/sqlite"
)

var (
	renderExec bool
	renderOut  string
)

var renderCmd = &cobra.Command{
	Use:   "render FILE",
	Short: "Render one document to HTML",
	Long: `Render a markdown document to HTML. With --exec every directed block is
run in the document directory's container and its output is included.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runRender,
}

var treeCmd = &cobra.Command{
	Use:   "tree [DIR]",
	Short: "Print the notebook tree as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTree,
}

func init() {
	renderCmd.Flags().BoolVar(&renderExec, "exec", false, "run directed blocks")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "write HTML to this file instead of stdout")
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(treeCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	var st store.RunStore
	if cfg.History && renderExec {
		s, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer s.Close()
		st = s
	}

	renderer, err := notebook.NewRenderer(docker.New(), st, notebook.Config{
		Root:        filepath.Dir(abs),
		ImagePrefix: cfg.DockerImage,
		Network:     cfg.DockerNetwork,
		MountPoint:  cfg.MountPoint,
		CacheSize:   1,
	})
	if err != nil {
		return err
	}

	html, err := renderer.Render(cmd.Context(), abs, renderExec)
	if err != nil {
		return err
	}
	if renderOut == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), html)
		return err
	}
	return os.WriteFile(renderOut, []byte(html), 0o644)
}

func runTree(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	tree, err := notebook.BuildTree(dir)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(tree)
}
