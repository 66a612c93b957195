// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the full profile clustering workflow.
//
// The stages are, in order:
//
//	slopes -> select (stream order, uniqueness, min length) -> resample ->
//	distance -> linkage -> assign -> summary
//
// Each stage returns a new value and leaves its input untouched, so a Result
// exposes every intermediate artefact. Each stage runs in its own span and
// is timed into the stage duration histogram.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/RiverCluster/pkg/logging"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/assign"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/config"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/distance"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/linkage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/profile"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/resample"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/slope"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/storage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/summary"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/telemetry"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/unique"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoProfiles is returned when no profile survives the filters.
var ErrNoProfiles = errors.New("no profiles left to cluster")

// Pipeline holds the validated parameters of a run.
//
// # Thread Safety
//
// A Pipeline is immutable after New and Run may be called concurrently.
type Pipeline struct {
	cfg       config.ClusteringConfig
	method    linkage.Method
	rule      linkage.Rule
	minCorr   *float64
	estimator *slope.Estimator
	resampler *resample.Resampler
	logger    *logging.Logger
	store     *storage.DB
	input     string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithStore enables the slope cache and run records.
func WithStore(db *storage.DB) Option {
	return func(p *Pipeline) {
		p.store = db
	}
}

// WithInputName records the input location on stored runs.
func WithInputName(name string) Option {
	return func(p *Pipeline) {
		p.input = name
	}
}

// New validates cfg and builds a Pipeline.
//
// # Description
//
// Every parameter is checked here so that a bad method, threshold or grid
// fails before any data is touched.
//
// # Outputs
//
//   - *Pipeline: Ready to Run.
//   - error: Wraps the failing package's sentinel error.
func New(cfg config.ClusteringConfig, opts ...Option) (*Pipeline, error) {
	method, err := linkage.ParseMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	rule, err := linkage.ParseRule(cfg.ThresholdRule)
	if err != nil {
		return nil, err
	}
	if cfg.MinCorr != nil {
		if _, err := linkage.CorrelationThreshold(*cfg.MinCorr); err != nil {
			return nil, err
		}
	} else if rule == linkage.RulePercentile && cfg.Percentile != 0 {
		if cfg.Percentile < 0 || cfg.Percentile > 1 {
			return nil, fmt.Errorf("%w: got %v", linkage.ErrInvalidPercentile, cfg.Percentile)
		}
	}
	if cfg.StreamOrder < 1 {
		return nil, fmt.Errorf("stream order must be at least 1, got %d", cfg.StreamOrder)
	}

	estimator, err := slope.New(cfg.SlopeWindow, slope.WithWorkers(cfg.Workers))
	if err != nil {
		return nil, err
	}
	resampler, err := resample.New(cfg.ProfileLen, cfg.Step)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		method:    method,
		rule:      rule,
		estimator: estimator,
		resampler: resampler,
		logger:    logging.Discard(),
	}
	if cfg.MinCorr != nil {
		v := *cfg.MinCorr
		p.minCorr = &v
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p, nil
}

// Config returns the clustering parameters.
func (p *Pipeline) Config() config.ClusteringConfig { return p.cfg }

// Result holds every artefact of a run.
type Result struct {
	RunID     string                  `json:"run_id"`
	CreatedAt time.Time               `json:"created_at"`
	Params    config.ClusteringConfig `json:"params"`
	InputHash string                  `json:"input_hash,omitempty"`

	// Slopes is the slope-annotated input table.
	Slopes        *profile.Table `json:"-"`
	SlopeCacheHit bool           `json:"slope_cache_hit"`

	// Selected is the full-resolution table after stream order,
	// uniqueness and length filters.
	Selected *profile.Table `json:"-"`

	Resampled *resample.Result `json:"-"`
	Distances *distance.Matrix `json:"-"`
	Tree      *linkage.Tree    `json:"tree"`

	// Threshold is the cut height and ThresholdSource names where it came
	// from: "min_corr" or a rule name.
	Threshold       float64 `json:"threshold"`
	ThresholdSource string  `json:"threshold_source"`

	Labels     map[int64]int          `json:"labels"`
	Clusters   int                    `json:"clusters"`
	Clustered  *assign.ClusteredTable `json:"-"`
	Exclusions Exclusions             `json:"exclusions"`

	Medians   []summary.MedianProfile    `json:"medians,omitempty"`
	SlopeArea []summary.ClusterSlopeArea `json:"slope_area,omitempty"`
	Gradients []summary.GradientStats    `json:"gradients,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Record converts the result into a storage record.
func (r *Result) Record(input string) *storage.RunRecord {
	rec := &storage.RunRecord{
		ID:            r.RunID,
		CreatedAt:     r.CreatedAt,
		Input:         input,
		InputHash:     r.InputHash,
		ProfileLen:    r.Params.ProfileLen,
		Step:          r.Params.Step,
		SlopeWindow:   r.Params.SlopeWindow,
		Method:        r.Params.Method,
		StreamOrder:   r.Params.StreamOrder,
		MinCorr:       r.Params.MinCorr,
		ThresholdRule: r.ThresholdSource,
		Threshold:     r.Threshold,
		Clusters:      r.Clusters,
		Labels:        r.Labels,
		Profiles:      len(r.Labels),
		Exclusions:    make(map[string]int),
	}
	for reason, n := range r.Exclusions.Counts() {
		if n > 0 {
			rec.Exclusions[reason] = n
		}
	}
	return rec
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context, span trace.Span) error) error {
	ctx, span := telemetry.StartSpan(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx, span)
	recordStage(name, time.Since(start))
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanOK(span)
	return nil
}

// Slopes annotates t with slopes, reusing the store's cache when present.
//
// # Outputs
//
//   - *profile.Table: Slope-annotated table.
//   - slope.Stats: Counts from the estimator. On a cache hit only
//     Profiles, Nodes, ValidNodes and TooShort are recomputed.
//   - bool: True on a cache hit.
//   - error: Non-nil on cancellation.
func (p *Pipeline) Slopes(ctx context.Context, t *profile.Table) (*profile.Table, slope.Stats, bool, error) {
	sr, err := p.slopes(ctx, t)
	if err != nil {
		return nil, slope.Stats{}, false, err
	}
	return sr.table, sr.stats, sr.hit, nil
}

// slopeRun carries the slope stage outputs, including the input hash when a
// store is configured.
type slopeRun struct {
	table *profile.Table
	stats slope.Stats
	hit   bool
	hash  string
}

func (p *Pipeline) slopes(ctx context.Context, t *profile.Table) (slopeRun, error) {
	var sr slopeRun
	err := p.stage(ctx, "slopes", func(ctx context.Context, span trace.Span) error {
		if p.store != nil {
			var err error
			if sr.hash, err = storage.HashTable(t); err != nil {
				return err
			}
			cached, err := p.store.GetSlopes(ctx, sr.hash, p.estimator.Window())
			switch {
			case err == nil:
				sr.table, sr.hit = cached, true
				sr.stats = statsOf(cached, p.estimator.Window())
			case errors.Is(err, storage.ErrNotFound):
			default:
				p.logger.Warn("Slope cache read failed", "error", err)
			}
			recordCacheLookup(sr.hit)
		}

		if !sr.hit {
			var err error
			sr.table, sr.stats, err = p.estimator.Table(ctx, t)
			if err != nil {
				return err
			}
			if p.store != nil {
				if err := p.store.PutSlopes(ctx, sr.hash, p.estimator.Window(), sr.table); err != nil {
					p.logger.Warn("Slope cache write failed", "error", err)
				}
			}
		}

		span.SetAttributes(
			attribute.Int("profiles", sr.stats.Profiles),
			attribute.Int("nodes", sr.stats.Nodes),
			attribute.Int("valid_nodes", sr.stats.ValidNodes),
			attribute.Bool("cache_hit", sr.hit),
		)
		return nil
	})
	if err != nil {
		return slopeRun{}, err
	}

	p.logger.Info("Slopes estimated",
		"profiles", sr.stats.Profiles,
		"nodes", sr.stats.Nodes,
		"valid_nodes", sr.stats.ValidNodes,
		"too_short", len(sr.stats.TooShort),
		"window", p.estimator.Window(),
		"cache_hit", sr.hit)
	return sr, nil
}

func statsOf(t *profile.Table, window int) slope.Stats {
	stats := slope.Stats{Profiles: t.Len()}
	for _, p := range t.Profiles {
		stats.Nodes += p.Len()
		stats.ValidNodes += p.ValidSlopeCount()
		if p.Len() < window {
			stats.TooShort = append(stats.TooShort, p.SourceID)
		}
	}
	return stats
}

// Run executes the whole pipeline on a raw profile table.
//
// # Description
//
// Computes slopes (or reuses cached ones) and then calls Cluster. When a
// store is configured the run record is saved before returning.
//
// # Inputs
//
//   - ctx: Cancellation is checked between stages and between profiles.
//   - t: Raw table. Not modified.
//
// # Outputs
//
//   - *Result: Every artefact plus exclusion counts.
//   - error: ErrNoProfiles, a *distance.DegenerateProfileError, or a
//     wrapped stage error.
func (p *Pipeline) Run(ctx context.Context, t *profile.Table) (*Result, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "pipeline.Run",
		attribute.String("method", string(p.method)),
		attribute.Int("profiles_in", t.Len()))
	defer span.End()

	res, err := p.run(ctx, t)
	if err != nil {
		telemetry.RecordError(span, err)
		recordRun(0, err)
		return nil, err
	}
	res.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("clusters", res.Clusters), attribute.String("run_id", res.RunID))
	telemetry.SetSpanOK(span)
	recordRun(res.Clusters, nil)
	recordExclusions(res.Exclusions.Counts())

	if p.store != nil {
		if err := p.store.PutRun(ctx, res.Record(p.input)); err != nil {
			p.logger.Warn("Failed to store run record", "run_id", res.RunID, "error", err)
		}
	}

	p.logger.Info("Clustering complete",
		"run_id", res.RunID,
		"clusters", res.Clusters,
		"threshold", res.Threshold,
		"excluded", res.Exclusions.Total(),
		"duration", res.Duration)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, t *profile.Table) (*Result, error) {
	sr, err := p.slopes(ctx, t)
	if err != nil {
		return nil, err
	}
	res, err := p.Cluster(ctx, sr.table)
	if err != nil {
		return nil, err
	}
	res.SlopeCacheHit = sr.hit
	res.InputHash = sr.hash
	res.Exclusions.TooShortForWindow = intersect(sr.stats.TooShort, res.Exclusions.Unqualified)
	res.Exclusions.Unqualified = without(res.Exclusions.Unqualified, res.Exclusions.TooShortForWindow)
	return res, nil
}

// Cluster runs every stage after slope estimation on a slope-annotated
// table.
func (p *Pipeline) Cluster(ctx context.Context, slopes *profile.Table) (*Result, error) {
	res := &Result{
		RunID:     uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Params:    p.cfg,
		Slopes:    slopes,
	}

	if err := p.stage(ctx, "select", func(ctx context.Context, span trace.Span) error {
		selected, err := p.selectProfiles(slopes, &res.Exclusions)
		if err != nil {
			return err
		}
		res.Selected = selected
		span.SetAttributes(attribute.Int("profiles", selected.Len()))
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, "resample", func(ctx context.Context, span trace.Span) error {
		rs, err := p.resampler.Table(ctx, res.Selected)
		if err != nil {
			return err
		}
		res.Resampled = rs
		res.Exclusions.Unqualified = rs.Dropped
		span.SetAttributes(
			attribute.Int("profiles", len(rs.Profiles)),
			attribute.Int("dropped", len(rs.Dropped)),
			attribute.Int("grid", len(rs.Grid)))
		return nil
	}); err != nil {
		return nil, err
	}
	p.logger.Info("Profiles resampled",
		"qualifying", len(res.Resampled.Profiles),
		"unqualified", len(res.Resampled.Dropped),
		"min_valid_samples", p.resampler.MinValidSamples())
	if len(res.Resampled.Profiles) == 0 {
		return nil, ErrNoProfiles
	}

	var clustered *resample.Result
	if err := p.stage(ctx, "distance", func(ctx context.Context, span trace.Span) error {
		m, kept, err := p.distances(res.Resampled, &res.Exclusions)
		if err != nil {
			return err
		}
		res.Distances, clustered = m, kept
		span.SetAttributes(attribute.Int("profiles", m.Len()), attribute.Int("degenerate", len(res.Exclusions.Degenerate)))
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, "linkage", func(ctx context.Context, span trace.Span) error {
		tree, err := linkage.Build(res.Distances.Condensed(), res.Distances.Len(), p.method)
		if err != nil {
			return err
		}
		res.Tree = tree
		res.Threshold, res.ThresholdSource, err = p.threshold(tree)
		if err != nil {
			return err
		}
		span.SetAttributes(
			attribute.Float64("threshold", res.Threshold),
			attribute.Int("inversions", tree.Inversions()))
		return nil
	}); err != nil {
		return nil, err
	}
	if inv := res.Tree.Inversions(); inv > 0 {
		p.logger.Warn("Linkage has inversions", "method", p.method, "inversions", inv)
	}

	if err := p.stage(ctx, "assign", func(ctx context.Context, span trace.Span) error {
		labels, err := assign.Labels(res.Distances.IDs(), res.Tree.Cut(res.Threshold))
		if err != nil {
			return err
		}
		ct, err := assign.Propagate(labels, res.Selected)
		if err != nil {
			return err
		}
		res.Labels, res.Clustered = labels, ct
		res.Clusters = len(ct.ClusterIDs())
		span.SetAttributes(attribute.Int("clusters", res.Clusters), attribute.Int("nodes", ct.NodeCount()))
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, "summary", func(ctx context.Context, _ trace.Span) error {
		res.Medians = summary.MedianProfiles(clustered, res.Labels)
		res.Gradients = summary.Gradients(res.Clustered)
		res.SlopeArea = summary.SlopeArea(res.Clustered, p.cfg.AreaThreshold, p.cfg.SlopeAreaBins)
		return nil
	}); err != nil {
		return nil, err
	}

	p.logger.Debug("Clustering parameters",
		"method", p.method,
		"threshold", res.Threshold,
		"threshold_source", res.ThresholdSource,
		"profile_len", p.cfg.ProfileLen,
		"step", p.cfg.Step)
	return res, nil
}

// selectProfiles applies the stream order, uniqueness and length filters.
func (p *Pipeline) selectProfiles(t *profile.Table, ex *Exclusions) (*profile.Table, error) {
	selected, removed, err := unique.SelectByStreamOrder(t, p.cfg.StreamOrder)
	if err != nil {
		return nil, err
	}
	ex.StreamOrder = removed

	if p.cfg.StreamOrder > 1 {
		selected, ex.NonUnique = unique.RemoveNonUnique(selected)
	}
	selected, ex.BelowMinLength = unique.RemoveShortProfiles(selected, p.cfg.MinLength)

	p.logger.Info("Profiles selected",
		"stream_order", p.cfg.StreamOrder,
		"in", t.Len(),
		"kept", selected.Len(),
		"wrong_order", len(ex.StreamOrder),
		"non_unique", len(ex.NonUnique),
		"below_min_length", len(ex.BelowMinLength))
	return selected, nil
}

// distances builds the angular matrix, dropping degenerate profiles when
// configured to. The returned Result holds the profiles that were kept.
func (p *Pipeline) distances(rs *resample.Result, ex *Exclusions) (*distance.Matrix, *resample.Result, error) {
	m, err := distance.Angular(rs.Vectors(), rs.SourceIDs())
	if err != nil {
		return nil, nil, err
	}
	degenerate := m.Degenerate()
	if len(degenerate) == 0 {
		return m, rs, nil
	}
	if !p.cfg.DropDegenerate {
		return nil, nil, m.CheckDegenerate()
	}

	p.logger.Warn("Dropping profiles with constant resampled slope", "count", len(degenerate), "ids", degenerate)
	ex.Degenerate = degenerate
	drop := make(map[int64]bool, len(degenerate))
	for _, id := range degenerate {
		drop[id] = true
	}
	kept := &resample.Result{Grid: rs.Grid, Dropped: rs.Dropped, Thinned: &profile.Table{Columns: rs.Thinned.Columns}}
	for i, rp := range rs.Profiles {
		if drop[rp.SourceID] {
			continue
		}
		kept.Profiles = append(kept.Profiles, rp)
		kept.Thinned.Profiles = append(kept.Thinned.Profiles, rs.Thinned.Profiles[i])
	}
	if len(kept.Profiles) == 0 {
		return nil, nil, ErrNoProfiles
	}
	m, err = distance.Angular(kept.Vectors(), kept.SourceIDs())
	if err != nil {
		return nil, nil, err
	}
	return m, kept, nil
}

// threshold picks the cut height: arccos(min_corr) when set, else the rule.
func (p *Pipeline) threshold(tree *linkage.Tree) (float64, string, error) {
	if p.minCorr != nil {
		thr, err := linkage.CorrelationThreshold(*p.minCorr)
		return thr, "min_corr", err
	}
	thr, err := linkage.Threshold(tree, p.rule, p.cfg.Percentile)
	return thr, string(p.rule), err
}

// intersect returns the ids of a that also appear in b, in a's order.
func intersect(a, b []int64) []int64 {
	in := make(map[int64]bool, len(b))
	for _, id := range b {
		in[id] = true
	}
	var out []int64
	for _, id := range a {
		if in[id] {
			out = append(out, id)
		}
	}
	return out
}
