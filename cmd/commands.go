package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"lensmerge/pkg/config"
	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
	"lensmerge/pkg/projector"
	"lensmerge/pkg/storage"
	"lensmerge/pkg/util/logging"
)

var (
	configPath string
	schemaFlag string
	sinceFlag  string

	rootCmd = &cobra.Command{
		Use:   "lensmerge",
		Short: "Project a replicated JSON document into any schema version",
	}

	projectCmd = &cobra.Command{
		Use:   "project",
		Short: "Apply the configured block log and print the document as a patch",
		RunE:  runProject,
	}

	changesCmd = &cobra.Command{
		Use:   "changes",
		Short: "Print the blocks a peer with the given clock is missing",
		RunE:  runChanges,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&schemaFlag, "schema", "", "read the document as this schema instead of the configured one")
	changesCmd.Flags().StringVar(&sinceFlag, "since", "", `clock of the peer as JSON, e.g. {"alice":2}`)

	rootCmd.AddCommand(projectCmd, changesCmd)
}

// app is what every command builds from the config file.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	registry *prometheus.Registry
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if schemaFlag != "" {
		cfg.Document.Schema = schemaFlag
	}
	logging.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Format, cfg.Node.ID)

	base := filepath.Dir(configPath)
	var lenses []lens.Registration
	for _, file := range cfg.Document.LensFiles {
		regs, err := lens.ReadFile(resolve(base, file))
		if err != nil {
			return nil, err
		}
		lenses = append(lenses, regs...)
	}
	slog.Debug("loaded lenses", "files", len(cfg.Document.LensFiles), "registrations", len(lenses))

	a := &app{cfg: cfg}
	var opts []projector.Option
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		opts = append(opts, projector.WithMetrics(projector.NewMetrics(a.registry, cfg.Metrics.Namespace)))
	}
	a.store = storage.NewStore(storage.NewEngine(cfg.Storage.Shards), cfg.Document.Schema, lenses,
		storage.WithProjectorOptions(opts...))

	blocks, err := readBlocks(resolve(base, cfg.Document.Blocks))
	if err != nil {
		return nil, err
	}
	if _, err := a.store.ApplyChanges(ctx, cfg.Document.ID, blocks); err != nil {
		return nil, err
	}
	slog.Info("applied block log", "doc", cfg.Document.ID, "blocks", len(blocks))
	return a, nil
}

func runProject(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	p, err := a.store.GetPatch(cmd.Context(), a.cfg.Document.ID)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), p); err != nil {
		return err
	}
	return a.dumpMetrics()
}

func runChanges(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	var have crdt.Clock
	if sinceFlag != "" {
		if err := json.Unmarshal([]byte(sinceFlag), &have); err != nil {
			return fmt.Errorf("parse --since: %w", err)
		}
	}
	blocks, err := a.store.GetChanges(cmd.Context(), a.cfg.Document.ID, have)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), blocks)
}

func readBlocks(path string) ([]projector.Block, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read block log: %w", err)
	}
	var blocks []projector.Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("parse block log %s: %w", path, err)
	}
	return blocks, nil
}

func (a *app) dumpMetrics() error {
	if a.registry == nil {
		return nil
	}
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var out io.Writer = os.Stderr
	if a.cfg.Metrics.Output != "" {
		f, err := os.Create(a.cfg.Metrics.Output)
		if err != nil {
			return fmt.Errorf("open metrics output: %w", err)
		}
		defer f.Close()
		out = f
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolve makes paths in the config file relative to the file itself.
func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
