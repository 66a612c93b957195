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
	"fmt"
	"strconv"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/pipeline"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/spf13/cobra"
)

func newSlopesCmd(a *app) *cobra.Command {
	var flags clusterFlags
	cmd := &cobra.Command{
		Use:   "slopes [input.csv]",
		Short: "Estimate channel slope for every node and write <prefix>_slopes.csv",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd.Flags(), a); err != nil {
				return err
			}
			input := a.input(args)
			table, err := profile.ReadFile(input)
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			opts := []pipeline.Option{pipeline.WithLogger(a.logger)}
			if store != nil {
				defer store.Close()
				opts = append(opts, pipeline.WithStore(store))
			}
			p, err := pipeline.New(a.cfg.Clustering, opts...)
			if err != nil {
				return err
			}
			slopes, stats, hit, err := p.Slopes(cmd.Context(), table)
			if err != nil {
				return err
			}
			path, err := a.writer(input).WriteSlopes(slopes)
			if err != nil {
				return err
			}

			a.printer.Title("Slopes estimated")
			a.printer.KeyValues([][2]string{
				{"profiles", strconv.Itoa(stats.Profiles)},
				{"nodes", strconv.Itoa(stats.Nodes)},
				{"with slope", strconv.Itoa(stats.ValidNodes)},
				{"too short", strconv.Itoa(len(stats.TooShort))},
				{"cached", strconv.FormatBool(hit)},
			})
			if n := len(stats.TooShort); n > 0 {
				a.printer.Warning(fmt.Sprintf("%d profile(s) shorter than the %d-node window have no slopes", n, a.cfg.Clustering.SlopeWindow))
			}
			a.printer.Success("wrote " + path)
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
