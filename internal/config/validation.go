package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is the sentinel for configuration validation failures.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Unwrap lets errors.Is match ErrInvalid.
func (ve ValidationErrors) Unwrap() error {
	return ErrInvalid
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateMarkets()...)
	errs = append(errs, c.validateBelief()...)
	errs = append(errs, c.validateDecision()...)
	errs = append(errs, c.validateSafety()...)
	errs = append(errs, c.validatePaper()...)
	errs = append(errs, c.validateMemory()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errs ValidationErrors

	if c.App.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	valid := false
	for _, env := range validEnvs {
		if c.App.Environment == env {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	return errs
}

func (c *Config) validateMarkets() ValidationErrors {
	var errs ValidationErrors

	if c.Markets.MaxMarkets <= 0 {
		errs = append(errs, ValidationError{
			Field:   "markets.max_markets",
			Message: "Max markets must be positive",
		})
	}
	if c.Markets.MinLiquidityUSD < 0 {
		errs = append(errs, ValidationError{
			Field:   "markets.min_liquidity_usd",
			Message: "Minimum liquidity cannot be negative",
		})
	}
	if c.Markets.PollIntervalMS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "markets.poll_interval_ms",
			Message: "Poll interval must be positive",
		})
	}

	return errs
}

func (c *Config) validateBelief() ValidationErrors {
	var errs ValidationErrors

	if c.Belief.MaxSignalHistory <= 0 {
		errs = append(errs, ValidationError{
			Field:   "belief.max_signal_history",
			Message: "Signal history bound must be positive",
		})
	}
	if c.Belief.MaxUnknowns <= 0 {
		errs = append(errs, ValidationError{
			Field:   "belief.max_unknowns",
			Message: "Unknowns bound must be positive",
		})
	}
	if c.Belief.SpeculativeLookback <= 0 {
		errs = append(errs, ValidationError{
			Field:   "belief.speculative_lookback",
			Message: "Speculative lookback must be positive",
		})
	}

	return errs
}

func (c *Config) validateDecision() ValidationErrors {
	var errs ValidationErrors

	if c.Decision.MinConfidence < 30 || c.Decision.MinConfidence > 95 {
		errs = append(errs, ValidationError{
			Field:   "decision.min_confidence",
			Message: "Minimum confidence must lie in the confidence range [30, 95]",
		})
	}
	if c.Decision.MaxWidth <= 0 || c.Decision.MaxWidth > 100 {
		errs = append(errs, ValidationError{
			Field:   "decision.max_width",
			Message: "Max belief width must be in (0, 100]",
		})
	}
	for category, edge := range c.Decision.MinEdge {
		if edge <= 0 || edge > 100 {
			errs = append(errs, ValidationError{
				Field:   "decision.min_edge." + category,
				Message: "Minimum edge must be in (0, 100]",
			})
		}
	}
	if c.Decision.EdgeAdjustLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "decision.edge_adjust_limit",
			Message: "Edge adjust limit cannot be negative",
		})
	}
	if c.Decision.CoverageTarget <= 0 || c.Decision.CoverageTarget > 1 {
		errs = append(errs, ValidationError{
			Field:   "decision.coverage_target",
			Message: "Coverage target must be in (0, 1]",
		})
	}

	return errs
}

func (c *Config) validateSafety() ValidationErrors {
	var errs ValidationErrors

	if c.Safety.MaxPositionSizeUSD <= 0 {
		errs = append(errs, ValidationError{
			Field:   "safety.max_position_size_usd",
			Message: "Max position size must be positive",
		})
	}
	if c.Safety.MaxOpenPositions <= 0 {
		errs = append(errs, ValidationError{
			Field:   "safety.max_open_positions",
			Message: "Max open positions must be positive",
		})
	}

	return errs
}

func (c *Config) validatePaper() ValidationErrors {
	var errs ValidationErrors

	if c.Paper.VirtualCapitalUSD <= 0 {
		errs = append(errs, ValidationError{
			Field:   "paper.virtual_capital_usd",
			Message: "Virtual capital must be positive",
		})
	}
	if c.Paper.StorePath == "" {
		errs = append(errs, ValidationError{
			Field:   "paper.store_path",
			Message: "Paper position store path is required",
		})
	}
	if c.Paper.PersistRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "paper.persist_retries",
			Message: "Persist retries cannot be negative",
		})
	}

	return errs
}

func (c *Config) validateMemory() ValidationErrors {
	var errs ValidationErrors

	if c.Memory.EmergencyMB < c.Memory.CriticalMB {
		errs = append(errs, ValidationError{
			Field:   "memory.emergency_mb",
			Message: "Emergency threshold must not be below the critical threshold",
		})
	}
	for field, frac := range map[string]float64{
		"memory.aggressive_fraction": c.Memory.AggressiveFraction,
		"memory.emergency_fraction":  c.Memory.EmergencyFraction,
	} {
		if frac <= 0 || frac > 1 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "Fraction must be in (0, 1]",
			})
		}
	}

	return errs
}
