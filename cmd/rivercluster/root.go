// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/RiverCluster/pkg/logging"
	"github.com/AleutianAI/RiverCluster/pkg/ux"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/config"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/storage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/telemetry"
	"github.com/spf13/cobra"
)

// defaultConfigFile is read when --config is not given and the file exists.
const defaultConfigFile = "rivercluster.yaml"

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logJSON    bool

	cfg      *config.Config
	logger   *logging.Logger
	printer  *ux.Printer
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "rivercluster",
		Short: "Cluster river longitudinal profiles by slope shape",
		Long: `rivercluster estimates channel slope along every river profile of a
DEM-derived table, resamples the profiles onto a common grid and groups them
by the correlation of their slope curves.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file (default ./"+defaultConfigFile+" when present)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.logJSON, "log-json", false, "write logs to stderr as JSON")

	root.AddCommand(
		newSlopesCmd(a),
		newClusterCmd(a),
		newRunsCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads configuration and starts logging and telemetry.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logJSON {
		cfg.Logging.JSON = true
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		JSON:    cfg.Logging.JSON,
	})

	mode := ux.ModePlain
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		mode = ux.DetectMode(f)
	}
	a.printer = &ux.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr(), Mode: mode}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.OTLPInsecure = cfg.Telemetry.Insecure
	tcfg.Output = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.Load(a.configPath)
	}
	cfg, err := config.Load(defaultConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func (a *app) teardown() error {
	var errs []error
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore opens the configured store, or returns nil when storage is off.
func (a *app) openStore() (*storage.DB, error) {
	sc := a.cfg.Storage
	if !sc.Enabled() {
		return nil, nil
	}
	var dbCfg storage.Config
	if sc.InMemory {
		dbCfg = storage.InMemoryConfig()
	} else {
		dbCfg = storage.DefaultConfig(sc.Dir)
		dbCfg.GCInterval = sc.GCInterval
	}
	dbCfg.CacheTTL = sc.CacheTTL
	dbCfg.Logger = a.logger
	db, err := storage.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}
