package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ThresholdTable is the operator-facing snapshot of the trade eligibility
// thresholds. It can be exported for inspection and re-imported after a
// manual edit; imported tables go through the same validation as the
// loaded configuration.
type ThresholdTable struct {
	MinConfidence float64            `yaml:"min_confidence"`
	MaxWidth      float64            `yaml:"max_width"`
	MinEdge       map[string]float64 `yaml:"min_edge"`
}

// Thresholds returns the current threshold table.
func (c *Config) Thresholds() ThresholdTable {
	edges := make(map[string]float64, len(c.Decision.MinEdge))
	for category, edge := range c.Decision.MinEdge {
		edges[category] = edge
	}
	return ThresholdTable{
		MinConfidence: c.Decision.MinConfidence,
		MaxWidth:      c.Decision.MaxWidth,
		MinEdge:       edges,
	}
}

// ExportThresholds writes the threshold table to a YAML file.
func (c *Config) ExportThresholds(path string) error {
	data, err := yaml.Marshal(c.Thresholds())
	if err != nil {
		return fmt.Errorf("failed to marshal threshold table: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write threshold table: %w", err)
	}
	return nil
}

// ImportThresholds reads a threshold table from a YAML file and applies it
// to the configuration after validation.
func (c *Config) ImportThresholds(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read threshold table: %w", err)
	}

	var table ThresholdTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return fmt.Errorf("failed to unmarshal threshold table: %w", err)
	}

	candidate := *c
	candidate.Decision.MinConfidence = table.MinConfidence
	candidate.Decision.MaxWidth = table.MaxWidth
	candidate.Decision.MinEdge = table.MinEdge
	if errs := candidate.validateDecision(); len(errs) > 0 {
		return errs
	}

	c.Decision.MinConfidence = table.MinConfidence
	c.Decision.MaxWidth = table.MaxWidth
	c.Decision.MinEdge = table.MinEdge
	return nil
}
