// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the clustering pipeline
// =============================================================================

var (
	// stageDuration measures the wall time of each pipeline stage.
	// Labels: stage (slopes, select, resample, distance, linkage, assign, summary)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rivercluster",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"stage"})

	// profilesExcluded counts profiles removed before clustering.
	// Labels: reason (see Exclusions.Counts)
	profilesExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rivercluster",
		Subsystem: "pipeline",
		Name:      "profiles_excluded_total",
		Help:      "Profiles excluded from clustering by reason",
	}, []string{"reason"})

	// clustersFound reports the cluster count of the most recent run.
	clustersFound = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rivercluster",
		Subsystem: "pipeline",
		Name:      "clusters_found",
		Help:      "Number of clusters found by the most recent run",
	})

	// runsTotal counts pipeline runs.
	// Labels: status (success, error)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rivercluster",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by status",
	}, []string{"status"})

	// slopeCacheLookups counts slope cache lookups.
	// Labels: result (hit, miss)
	slopeCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rivercluster",
		Subsystem: "pipeline",
		Name:      "slope_cache_lookups_total",
		Help:      "Slope cache lookups by result",
	}, []string{"result"})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

func recordStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func recordExclusions(counts map[string]int) {
	for reason, n := range counts {
		if n > 0 {
			profilesExcluded.WithLabelValues(reason).Add(float64(n))
		}
	}
}

func recordRun(clusters int, err error) {
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return
	}
	runsTotal.WithLabelValues("success").Inc()
	clustersFound.Set(float64(clusters))
}

func recordCacheLookup(hit bool) {
	if hit {
		slopeCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	slopeCacheLookups.WithLabelValues("miss").Inc()
}
