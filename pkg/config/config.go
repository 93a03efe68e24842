// Package config provides configuration loading and management for hippovol.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// CohortPaths lists the scan folders of one cohort
type CohortPaths struct {
	// Baseline is the folder of scans acquired before treatment
	Baseline string `yaml:"baseline"`

	// Month6 is the folder of 6-month follow-up scans
	Month6 string `yaml:"month6"`

	// Month12 is the folder of 12-month follow-up scans
	Month12 string `yaml:"month12"`
}

// Timepoint pairs the treated and control follow-up folders compared against
// their cohort baselines.
type Timepoint struct {
	Label   string
	Treated string
	Control string
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Cohort folders
	Cohorts struct {
		Treated CohortPaths `yaml:"treated"`
		Control CohortPaths `yaml:"control"`
	} `yaml:"cohorts"`

	// Processing parameters
	Processing struct {
		// Workers specifies how many scans are processed concurrently
		Workers int `yaml:"workers"`

		// HistogramBins is the number of bins of the Otsu histogram
		HistogramBins int `yaml:"histogramBins"`

		// MinObjectSize removes foreground components with fewer pixels
		MinObjectSize int `yaml:"minObjectSize"`

		// MinHoleArea fills background regions with fewer pixels
		MinHoleArea int `yaml:"minHoleArea"`

		// Connectivity is 8 (diagonal neighbours connected) or 4
		Connectivity int `yaml:"connectivity"`

		// SkipFailed logs and omits unreadable or unsegmentable scans
		// instead of failing the whole cohort
		SkipFailed bool `yaml:"skipFailed"`

		// SubjectPattern extracts the subject ID from a filename (first
		// capture group); empty uses the filename without extension
		SubjectPattern string `yaml:"subjectPattern"`
	} `yaml:"processing"`

	// Statistics parameters
	Statistics struct {
		// Alignment pairs baseline and follow-up scans by "subject" or "position"
		Alignment string `yaml:"alignment"`

		// EqualVariance selects Student's pooled t-test; false selects Welch
		EqualVariance bool `yaml:"equalVariance"`
	} `yaml:"statistics"`

	// Output parameters
	Output struct {
		// Format is one of text, table or json
		Format string `yaml:"format"`

		// PlotFile, when set, receives a PNG box plot of the volume changes
		PlotFile string `yaml:"plotFile"`

		// Database, when set, is a SQLite file the run results are appended to
		Database string `yaml:"database"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level"`

		// Format is text or json
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.HistogramBins = 256
	cfg.Processing.MinObjectSize = 64
	cfg.Processing.MinHoleArea = 64
	cfg.Processing.Connectivity = 8

	// Set default statistics parameters
	cfg.Statistics.Alignment = "subject"
	cfg.Statistics.EqualVariance = true

	// Set default output parameters
	cfg.Output.Format = "text"

	// Set default logging parameters
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// Timepoints returns the follow-up comparisons in reporting order
func (c *Config) Timepoints() []Timepoint {
	return []Timepoint{
		{Label: "6 months", Treated: c.Cohorts.Treated.Month6, Control: c.Cohorts.Control.Month6},
		{Label: "12 months", Treated: c.Cohorts.Treated.Month12, Control: c.Cohorts.Control.Month12},
	}
}

// Validate checks that the configuration can drive a study run
func (c *Config) Validate() error {
	var errs []error

	for _, f := range []struct{ key, path string }{
		{"cohorts.treated.baseline", c.Cohorts.Treated.Baseline},
		{"cohorts.treated.month6", c.Cohorts.Treated.Month6},
		{"cohorts.treated.month12", c.Cohorts.Treated.Month12},
		{"cohorts.control.baseline", c.Cohorts.Control.Baseline},
		{"cohorts.control.month6", c.Cohorts.Control.Month6},
		{"cohorts.control.month12", c.Cohorts.Control.Month12},
	} {
		if f.path == "" {
			errs = append(errs, fmt.Errorf("%s is not set", f.key))
		}
	}

	if c.Processing.Workers < 0 {
		errs = append(errs, fmt.Errorf("processing.workers must not be negative"))
	}
	if c.Processing.HistogramBins < 2 {
		errs = append(errs, fmt.Errorf("processing.histogramBins must be at least 2"))
	}
	if c.Processing.MinObjectSize < 0 || c.Processing.MinHoleArea < 0 {
		errs = append(errs, fmt.Errorf("processing.minObjectSize and minHoleArea must not be negative"))
	}
	if c.Processing.Connectivity != 4 && c.Processing.Connectivity != 8 {
		errs = append(errs, fmt.Errorf("processing.connectivity must be 4 or 8"))
	}
	switch c.Statistics.Alignment {
	case "subject", "position":
	default:
		errs = append(errs, fmt.Errorf("statistics.alignment must be subject or position"))
	}
	switch c.Output.Format {
	case "text", "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output.format must be text, table or json"))
	}

	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
