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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/watch"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		flags    clusterFlags
		debounce time.Duration
		initial  bool
	)
	cmd := &cobra.Command{
		Use:   "watch [input.csv]",
		Short: "Re-cluster whenever the input table changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd.Flags(), a); err != nil {
				return err
			}
			input := a.input(args)
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			run := func(ctx context.Context) {
				res, outputs, err := a.cluster(ctx, store, input)
				if err != nil {
					a.printer.Error(err.Error())
					return
				}
				a.report(res, outputs)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if initial {
				if _, err := os.Stat(input); err == nil {
					run(ctx)
				}
			}

			w, err := watch.New(input, false, func(ctx context.Context, _ []string) { run(ctx) },
				&watch.Options{Debounce: debounce, Logger: a.logger})
			if err != nil {
				return err
			}
			defer w.Stop()
			if err := w.Start(ctx); err != nil {
				return err
			}
			a.printer.Info("watching " + input + " (Ctrl-C to stop)")
			<-ctx.Done()
			return nil
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before re-clustering")
	cmd.Flags().BoolVar(&initial, "initial", true, "cluster once at startup when the input exists")
	return cmd
}
