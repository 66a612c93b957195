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
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/distance"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/output"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/pipeline"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// clusterFlags are the clustering parameters settable on the command line.
type clusterFlags struct {
	profileLen     float64
	step           float64
	window         int
	method         string
	minCorr        float64
	rule           string
	percentile     float64
	streamOrder    int
	minLength      float64
	dropDegenerate bool
	workers        int
	out            string
	prefix         string
}

func (f *clusterFlags) register(fs *pflag.FlagSet) {
	fs.Float64Var(&f.profileLen, "profile-len", 0, "resampled profile length in metres")
	fs.Float64Var(&f.step, "step", 0, "resampling step in metres")
	fs.IntVar(&f.window, "window", 0, "slope regression window in nodes")
	fs.StringVar(&f.method, "method", "", "linkage method: ward, average, complete, single")
	fs.Float64Var(&f.minCorr, "min-corr", 0, "cut where clusters correlate below this value")
	fs.StringVar(&f.rule, "threshold-rule", "", "automatic cut rule when --min-corr is unset: gap, percentile")
	fs.Float64Var(&f.percentile, "percentile", 0, "merge-height quantile for the percentile rule")
	fs.IntVar(&f.streamOrder, "stream-order", 0, "stream order to cluster")
	fs.Float64Var(&f.minLength, "min-length", 0, "drop profiles shorter than this length")
	fs.BoolVar(&f.dropDegenerate, "drop-degenerate", false, "drop constant-slope profiles instead of failing")
	fs.IntVar(&f.workers, "workers", 0, "slope estimation workers (0 = one per CPU)")
	fs.StringVar(&f.out, "out", "", "output directory")
	fs.StringVar(&f.prefix, "prefix", "", "output file prefix")
}

// apply copies every flag the user set into the configuration.
func (f *clusterFlags) apply(fs *pflag.FlagSet, a *app) error {
	c := &a.cfg.Clustering
	if fs.Changed("profile-len") {
		c.ProfileLen = f.profileLen
	}
	if fs.Changed("step") {
		c.Step = f.step
	}
	if fs.Changed("window") {
		c.SlopeWindow = f.window
	}
	if fs.Changed("method") {
		c.Method = f.method
	}
	if fs.Changed("min-corr") {
		v := f.minCorr
		c.MinCorr = &v
	}
	if fs.Changed("threshold-rule") {
		c.ThresholdRule = f.rule
	}
	if fs.Changed("percentile") {
		c.Percentile = f.percentile
	}
	if fs.Changed("stream-order") {
		c.StreamOrder = f.streamOrder
	}
	if fs.Changed("min-length") {
		c.MinLength = f.minLength
	}
	if fs.Changed("drop-degenerate") {
		c.DropDegenerate = f.dropDegenerate
	}
	if fs.Changed("workers") {
		c.Workers = f.workers
	}
	if fs.Changed("out") {
		a.cfg.Data.OutputDir = f.out
	}
	if fs.Changed("prefix") {
		a.cfg.Data.Prefix = f.prefix
	}
	return c.Validate()
}

func newClusterCmd(a *app) *cobra.Command {
	var flags clusterFlags
	cmd := &cobra.Command{
		Use:   "cluster [input.csv]",
		Short: "Estimate slopes, cluster profiles and write every output table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd.Flags(), a); err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			res, outputs, err := a.cluster(cmd.Context(), store, a.input(args))
			if err != nil {
				return err
			}
			a.report(res, outputs)
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// input returns the input path from args or configuration.
func (a *app) input(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.InputPath()
}

// writer places outputs next to the input unless configured otherwise.
func (a *app) writer(input string) output.Writer {
	dir := a.cfg.OutputDir()
	if a.cfg.Data.OutputDir == "" {
		dir = filepath.Dir(input)
	}
	prefix := a.cfg.Data.Prefix
	if prefix == "" {
		prefix = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}
	return output.Writer{Dir: dir, Prefix: prefix}
}

// cluster runs the full pipeline on one input file and writes its outputs.
func (a *app) cluster(ctx context.Context, store *storage.DB, input string) (*pipeline.Result, map[string]string, error) {
	table, err := profile.ReadFile(input)
	if err != nil {
		return nil, nil, err
	}

	opts := []pipeline.Option{pipeline.WithLogger(a.logger), pipeline.WithInputName(input)}
	if store != nil {
		opts = append(opts, pipeline.WithStore(store))
	}
	p, err := pipeline.New(a.cfg.Clustering, opts...)
	if err != nil {
		return nil, nil, err
	}
	res, err := p.Run(ctx, table)
	if err != nil {
		var degenerate *distance.DegenerateProfileError
		if errors.As(err, &degenerate) {
			return nil, nil, fmt.Errorf("%w (rerun with --drop-degenerate to exclude them)", err)
		}
		return nil, nil, err
	}

	outputs, err := a.writer(input).WriteAll(res)
	if err != nil {
		return nil, nil, err
	}
	if store != nil {
		rec := res.Record(input)
		rec.Outputs = outputs
		if err := store.PutRun(ctx, rec); err != nil {
			a.logger.Warn("Failed to record outputs", "run_id", res.RunID, "error", err)
		}
	}
	return res, outputs, nil
}

// report prints a run summary.
func (a *app) report(res *pipeline.Result, outputs map[string]string) {
	p := a.printer
	p.Title("Clustering complete")
	p.KeyValues([][2]string{
		{"run", res.RunID},
		{"profiles", strconv.Itoa(len(res.Labels))},
		{"clusters", strconv.Itoa(res.Clusters)},
		{"threshold", fmt.Sprintf("%.4f (%s)", res.Threshold, res.ThresholdSource)},
		{"excluded", strconv.Itoa(res.Exclusions.Total())},
		{"duration", res.Duration.Round(time.Millisecond).String()},
	})

	rows := make([][]string, 0, len(res.Gradients))
	for _, g := range res.Gradients {
		median := ""
		if g.Slope != nil {
			median = profile.FormatFloat(g.Slope.Median)
		}
		rows = append(rows, []string{strconv.Itoa(g.ClusterID), g.Colour, strconv.Itoa(g.Profiles), strconv.Itoa(g.Nodes), median})
	}
	p.Table([]string{"cluster", "colour", "profiles", "nodes", "median slope"}, rows)

	for _, name := range []string{output.Clustered, output.Resampled, output.Linkage, output.Medians, output.SlopeArea, output.Report} {
		if path, ok := outputs[name]; ok {
			p.Success("wrote " + path)
		}
	}
}
