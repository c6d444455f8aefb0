package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults verifies that loading with no config file yields the documented defaults
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Markets.MaxMarkets)
	assert.Equal(t, 10000.0, cfg.Markets.MinLiquidityUSD)
	assert.Equal(t, 15, cfg.Belief.MaxSignalHistory)
	assert.Equal(t, 3, cfg.Belief.MaxUnknowns)
	assert.Equal(t, 65.0, cfg.Decision.MinConfidence)
	assert.Equal(t, 25.0, cfg.Decision.MaxWidth)
	assert.Equal(t, 100.0, cfg.Safety.MaxPositionSizeUSD)
	assert.Equal(t, 50.0, cfg.Safety.DailyLossLimitUSD)
	assert.Equal(t, 5, cfg.Safety.MaxOpenPositions)
	assert.Equal(t, 10000.0, cfg.Paper.VirtualCapitalUSD)
	assert.Equal(t, 300000, cfg.Markets.ResolutionCheckMS)
	assert.Equal(t, 120, cfg.Memory.CriticalMB)
	assert.Equal(t, 140, cfg.Memory.EmergencyMB)
}

// TestDefaultMinEdge checks the fixed per-category edge table
func TestDefaultMinEdge(t *testing.T) {
	edges := DefaultMinEdge()

	assert.Equal(t, 12.0, edges["politics"])
	assert.Equal(t, 15.0, edges["crypto"])
	assert.Equal(t, 10.0, edges["sports"])
	assert.Equal(t, 12.0, edges["economics"])
	assert.Equal(t, 18.0, edges["entertainment"])
	assert.Equal(t, 8.0, edges["weather"])
	assert.Equal(t, 15.0, edges["technology"])
	assert.Equal(t, 20.0, edges["world"])
	assert.Equal(t, 25.0, edges["other"])
}

// TestValidateRejectsBadThresholds exercises the validation error paths
func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Decision.MinConfidence = 20 // below the confidence floor
	cfg.Decision.MaxWidth = 0

	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.GreaterOrEqual(t, len(verrs), 2)
}

// TestThresholdRoundTrip exports and re-imports the threshold table
func TestThresholdRoundTrip(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, cfg.ExportThresholds(path))

	// Mutate, then restore from the exported file
	cfg.Decision.MinEdge["crypto"] = 99
	require.NoError(t, cfg.ImportThresholds(path))
	assert.Equal(t, 15.0, cfg.Decision.MinEdge["crypto"])
}

// TestImportThresholdsRejectsInvalid rejects tables that fail validation
func TestImportThresholdsRejectsInvalid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_confidence: 10\nmax_width: 25\nmin_edge:\n  crypto: 15\n"), 0o644))

	err = cfg.ImportThresholds(path)
	require.Error(t, err)
	// Original values untouched
	assert.Equal(t, 65.0, cfg.Decision.MinConfidence)
}
