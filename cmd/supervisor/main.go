package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/orbitsup/supervisor/internal/config"
	"github.com/orbitsup/supervisor/internal/fslayout"
	"github.com/orbitsup/supervisor/internal/manager"
	"github.com/orbitsup/supervisor/internal/obslog"
	"github.com/orbitsup/supervisor/internal/obsmetrics"
	"github.com/orbitsup/supervisor/internal/statusreader"
	"github.com/orbitsup/supervisor/internal/types"
)

var (
	// Version information, set via ldflags during build.
	Version = "dev"
	Commit  = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "supervisor",
	Short:   "A single-node service supervisor with gossip-backed peer census",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("supervisor version %s\ncommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the supervisor's YAML config file")

	runCmd.Flags().String("state-path", "", "override state_path from the config file")
	runCmd.Flags().String("metrics-listen", "127.0.0.1:9631", "address to serve Prometheus metrics on")

	statusCmd.Flags().String("ident", "", "package ident to query, e.g. core/web")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(specCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if override, _ := cmd.Flags().GetString("state-path"); override != "" {
			cfg.StatePath = override
		}

		obslog.Init(cfg.LogConfig())
		logger := obslog.WithComponent("manager")

		mgr, err := manager.New(cfg.ManagerConfig(), logger)
		if err != nil {
			return fmt.Errorf("start supervisor: %w", err)
		}

		if addr, _ := cmd.Flags().GetString("metrics-listen"); addr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", obsmetrics.Handler())
				if err := http.ListenAndServe(addr, mux); err != nil {
					logger.Warn().Err(err).Str("module", obslog.ModuleCLI).Msg("metrics server stopped")
				}
			}()
			logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		}

		return mgr.Run(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the last-persisted status of loaded services",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		layout := fslayout.New(cfg.ManagerConfig().Layout)
		reader := statusreader.New(layout.DataFile("services.dat"))

		identStr, _ := cmd.Flags().GetString("ident")
		if identStr == "" {
			statuses, err := reader.All()
			if err != nil {
				return err
			}
			return printJSON(statuses)
		}

		ident, err := types.ParsePackageIdent(identStr)
		if err != nil {
			return err
		}
		status, err := reader.Find(ident)
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Inspect the specs directory",
}

var specListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the spec files the supervisor currently watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		layout := fslayout.New(cfg.ManagerConfig().Layout)

		entries, err := os.ReadDir(layout.SpecsPath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Println(e.Name())
		}
		return nil
	},
}

func init() {
	specCmd.AddCommand(specListCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
