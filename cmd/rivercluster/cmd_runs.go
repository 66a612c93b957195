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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/storage"
	"github.com/spf13/cobra"
)

// errStorageDisabled is returned by commands that need the run store.
var errStorageDisabled = errors.New("storage is disabled: set storage.dir in the config")

func newRunsCmd(a *app) *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded clustering runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(db *storage.DB) error {
				recs, err := db.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(recs))
				for _, r := range recs {
					rows = append(rows, []string{
						r.ID,
						r.CreatedAt.Local().Format(time.DateTime),
						r.Method,
						strconv.Itoa(r.StreamOrder),
						strconv.Itoa(r.Profiles),
						strconv.Itoa(r.Clusters),
						r.Input,
					})
				}
				a.printer.Table([]string{"id", "created", "method", "order", "profiles", "clusters", "input"}, rows)
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 = all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(db *storage.DB) error {
				rec, err := db.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.showRun(rec)
				return nil
			})
		},
	}

	runs.AddCommand(list, show)
	return runs
}

// withStore opens the store for fn and closes it afterwards.
func (a *app) withStore(fn func(db *storage.DB) error) error {
	db, err := a.openStore()
	if err != nil {
		return err
	}
	if db == nil {
		return errStorageDisabled
	}
	defer db.Close()
	return fn(db)
}

func (a *app) showRun(rec *storage.RunRecord) {
	p := a.printer
	p.Title("Run " + rec.ID)
	minCorr := "-"
	if rec.MinCorr != nil {
		minCorr = profile.FormatFloat(*rec.MinCorr)
	}
	p.KeyValues([][2]string{
		{"created", rec.CreatedAt.Local().Format(time.DateTime)},
		{"input", rec.Input},
		{"input hash", rec.InputHash},
		{"profile length", profile.FormatFloat(rec.ProfileLen)},
		{"step", profile.FormatFloat(rec.Step)},
		{"slope window", strconv.Itoa(rec.SlopeWindow)},
		{"method", rec.Method},
		{"stream order", strconv.Itoa(rec.StreamOrder)},
		{"min corr", minCorr},
		{"threshold", fmt.Sprintf("%.4f (%s)", rec.Threshold, rec.ThresholdRule)},
		{"profiles", strconv.Itoa(rec.Profiles)},
		{"clusters", strconv.Itoa(rec.Clusters)},
	})

	sizes := make(map[int]int)
	for _, cl := range rec.Labels {
		sizes[cl]++
	}
	ids := make([]int, 0, len(sizes))
	for cl := range sizes {
		ids = append(ids, cl)
	}
	sort.Ints(ids)
	rows := make([][]string, 0, len(ids))
	for _, cl := range ids {
		rows = append(rows, []string{strconv.Itoa(cl), strconv.Itoa(sizes[cl])})
	}
	p.Table([]string{"cluster", "profiles"}, rows)

	if len(rec.Exclusions) > 0 {
		reasons := make([]string, 0, len(rec.Exclusions))
		for r := range rec.Exclusions {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		rows = rows[:0]
		for _, r := range reasons {
			rows = append(rows, []string{r, strconv.Itoa(rec.Exclusions[r])})
		}
		p.Table([]string{"excluded", "profiles"}, rows)
	}

	names := make([]string, 0, len(rec.Outputs))
	for name := range rec.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p.Info(name + ": " + rec.Outputs[name])
	}
}
