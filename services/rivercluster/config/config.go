// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the run configuration for rivercluster.
//
// A Config is loaded once from YAML, overridden by command-line flags and
// then passed explicitly to every stage. There is no package-level mutable
// state.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/RiverCluster/services/rivercluster/linkage"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// Shared Validator Instance
// =============================================================================

// configValidate is the validator instance for configuration structs.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("linkage_method", validateLinkageMethod)
	_ = configValidate.RegisterValidation("threshold_rule", validateThresholdRule)
}

// validateLinkageMethod accepts the names understood by linkage.ParseMethod.
func validateLinkageMethod(fl validator.FieldLevel) bool {
	_, err := linkage.ParseMethod(fl.Field().String())
	return err == nil
}

// validateThresholdRule accepts the names understood by linkage.ParseRule.
func validateThresholdRule(fl validator.FieldLevel) bool {
	_, err := linkage.ParseRule(fl.Field().String())
	return err == nil
}

// =============================================================================
// Types
// =============================================================================

// Config is the complete run configuration.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Storage    StorageConfig    `yaml:"storage"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

// DataConfig locates inputs and outputs.
type DataConfig struct {
	// Dir is the data directory holding the profile tables.
	Dir string `yaml:"dir"`

	// Prefix is the DEM name prefix shared by input and output files.
	Prefix string `yaml:"prefix"`

	// Input overrides the input table path. When empty the path is
	// <dir>/<prefix>_all_sources<profile_len>.csv.
	Input string `yaml:"input"`

	// OutputDir receives output tables. Defaults to Dir.
	OutputDir string `yaml:"output_dir"`
}

// ClusteringConfig holds the algorithm parameters.
type ClusteringConfig struct {
	ProfileLen     float64  `json:"profile_len" yaml:"profile_len" validate:"gt=0"`
	Step           float64  `json:"step" yaml:"step" validate:"gt=0,ltefield=ProfileLen"`
	SlopeWindow    int      `json:"slope_window" yaml:"slope_window" validate:"gte=3"`
	Method         string   `json:"method" yaml:"method" validate:"linkage_method"`
	MinCorr        *float64 `json:"min_corr,omitempty" yaml:"min_corr,omitempty" validate:"omitempty,gte=-1,lte=1"`
	ThresholdRule  string   `json:"threshold_rule" yaml:"threshold_rule" validate:"threshold_rule"`
	Percentile     float64  `json:"percentile" yaml:"percentile" validate:"gte=0,lte=1"`
	StreamOrder    int      `json:"stream_order" yaml:"stream_order" validate:"gte=1"`
	MinLength      float64  `json:"min_length" yaml:"min_length" validate:"gte=0"`
	DropDegenerate bool     `json:"drop_degenerate" yaml:"drop_degenerate"`
	Workers        int      `json:"workers" yaml:"workers" validate:"gte=0"`
	AreaThreshold  float64  `json:"area_threshold" yaml:"area_threshold" validate:"gte=0"`
	SlopeAreaBins  int      `json:"slope_area_bins" yaml:"slope_area_bins" validate:"gte=1"`
}

// StorageConfig configures the slope cache and run store.
type StorageConfig struct {
	// Dir is the badger directory. Empty disables persistence unless
	// InMemory is set.
	Dir        string        `yaml:"dir"`
	InMemory   bool          `yaml:"in_memory"`
	CacheTTL   time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// Enabled reports whether a store should be opened.
func (s StorageConfig) Enabled() bool {
	return s.InMemory || s.Dir != ""
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	Insecure       bool   `yaml:"insecure"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	MaxRows      int           `yaml:"max_rows" validate:"gte=1"`

	// RunsPerSecond limits POST /runs across all clients. 0 disables the
	// limit. RunBurst is the bucket size and defaults to 1.
	RunsPerSecond float64 `yaml:"runs_per_second" validate:"gte=0"`
	RunBurst      int     `yaml:"run_burst" validate:"gte=0"`
}

// =============================================================================
// Defaults, loading and validation
// =============================================================================

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Data: DataConfig{Dir: "."},
		Clustering: ClusteringConfig{
			ProfileLen:    1000,
			Step:          2,
			SlopeWindow:   25,
			Method:        string(linkage.Ward),
			ThresholdRule: string(linkage.RuleGap),
			Percentile:    linkage.DefaultPercentile,
			StreamOrder:   1,
			AreaThreshold: 1000,
			SlopeAreaBins: 20,
		},
		Storage: StorageConfig{
			CacheTTL:   7 * 24 * time.Hour,
			GCInterval: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "rivercluster",
			TraceExporter:  "none",
			MetricExporter: "none",
		},
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			Addr:         ":8088",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			MaxRows:      2_000_000,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every field. All violations are reported together.
func (c *Config) Validate() error {
	return validationError(configValidate.Struct(c))
}

// Validate checks the clustering parameters on their own, for callers that
// override them per request.
func (c *ClusteringConfig) Validate() error {
	return validationError(configValidate.Struct(c))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// fieldPath turns "Config.Clustering.SlopeWindow" into "clustering.slopewindow".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

// InputPath returns the input table path.
func (c *Config) InputPath() string {
	if c.Data.Input != "" {
		return c.Data.Input
	}
	return filepath.Join(c.Data.Dir, fmt.Sprintf("%s_all_sources%d.csv", c.Data.Prefix, int(c.Clustering.ProfileLen)))
}

// OutputDir returns the output directory.
func (c *Config) OutputDir() string {
	if c.Data.OutputDir != "" {
		return c.Data.OutputDir
	}
	return c.Data.Dir
}

// LinkageMethod returns the parsed linkage method.
func (c *ClusteringConfig) LinkageMethod() linkage.Method {
	m, _ := linkage.ParseMethod(c.Method)
	return m
}

// Rule returns the parsed threshold rule.
func (c *ClusteringConfig) Rule() linkage.Rule {
	r, _ := linkage.ParseRule(c.ThresholdRule)
	return r
}
