package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical fusion defaults file.
const DefaultConfigPath = "config/fusion.defaults.json"

// FusionConfig holds the heading fusion parameters. Every field is
// optional; the Get* accessors fall back to built-in defaults.
type FusionConfig struct {
	// Lifecycle
	NoAidTimeout  *string `json:"no_aid_timeout,omitempty"` // duration string like "5s"
	StartDebounce *string `json:"start_debounce,omitempty"` // duration string like "1s"
	ResetBudget   *int    `json:"reset_budget,omitempty"`
	FaultLatch    *bool   `json:"fault_latch,omitempty"`

	// Sources
	EVYawEnabled   *bool `json:"ev_yaw_enabled,omitempty"`
	GNSSYawEnabled *bool `json:"gnss_yaw_enabled,omitempty"`
	MagYawEnabled  *bool `json:"mag_yaw_enabled,omitempty"`

	// Observation noise, rad
	EVAttNoise       *float64 `json:"ev_att_noise,omitempty"`
	GNSSHeadingNoise *float64 `json:"gnss_heading_noise,omitempty"`
	MagHeadingNoise  *float64 `json:"mag_heading_noise,omitempty"`

	// Filter
	HeadingInnovGate     *float64 `json:"heading_innov_gate,omitempty"`
	YawProcessNoise      *float64 `json:"yaw_process_noise,omitempty"`
	GyroBiasProcessNoise *float64 `json:"gyro_bias_process_noise,omitempty"`
	InitialYawVariance   *float64 `json:"initial_yaw_variance,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyFusionConfig returns a FusionConfig with all fields unset.
func EmptyFusionConfig() *FusionConfig {
	return &FusionConfig{}
}

// DefaultFusionConfig returns a FusionConfig with every field populated
// from the built-in defaults.
func DefaultFusionConfig() *FusionConfig {
	var e FusionConfig
	return &FusionConfig{
		NoAidTimeout:         ptrString(e.GetNoAidTimeout().String()),
		StartDebounce:        ptrString(e.GetStartDebounce().String()),
		ResetBudget:          ptrInt(e.GetResetBudget()),
		FaultLatch:           ptrBool(e.GetFaultLatch()),
		EVYawEnabled:         ptrBool(e.GetEVYawEnabled()),
		GNSSYawEnabled:       ptrBool(e.GetGNSSYawEnabled()),
		MagYawEnabled:        ptrBool(e.GetMagYawEnabled()),
		EVAttNoise:           ptrFloat64(e.GetEVAttNoise()),
		GNSSHeadingNoise:     ptrFloat64(e.GetGNSSHeadingNoise()),
		MagHeadingNoise:      ptrFloat64(e.GetMagHeadingNoise()),
		HeadingInnovGate:     ptrFloat64(e.GetHeadingInnovGate()),
		YawProcessNoise:      ptrFloat64(e.GetYawProcessNoise()),
		GyroBiasProcessNoise: ptrFloat64(e.GetGyroBiasProcessNoise()),
		InitialYawVariance:   ptrFloat64(e.GetInitialYawVariance()),
	}
}

// LoadFusionConfig loads a FusionConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadFusionConfig(path string) (*FusionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFusionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *FusionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFusionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *FusionConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"no_aid_timeout", c.NoAidTimeout},
		{"start_debounce", c.StartDebounce},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	if c.ResetBudget != nil && *c.ResetBudget < 0 {
		return fmt.Errorf("reset_budget must be non-negative, got %d", *c.ResetBudget)
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"ev_att_noise", c.EVAttNoise},
		{"gnss_heading_noise", c.GNSSHeadingNoise},
		{"mag_heading_noise", c.MagHeadingNoise},
		{"yaw_process_noise", c.YawProcessNoise},
		{"gyro_bias_process_noise", c.GyroBiasProcessNoise},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", f.name, *f.v)
		}
	}

	if c.HeadingInnovGate != nil && *c.HeadingInnovGate <= 0 {
		return fmt.Errorf("heading_innov_gate must be positive, got %f", *c.HeadingInnovGate)
	}
	if c.InitialYawVariance != nil && *c.InitialYawVariance <= 0 {
		return fmt.Errorf("initial_yaw_variance must be positive, got %f", *c.InitialYawVariance)
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetNoAidTimeout returns how long an active source may go without an
// accepted fuse before the failure handling runs.
func (c *FusionConfig) GetNoAidTimeout() time.Duration {
	return parseDurationOr(c.NoAidTimeout, 5*time.Second)
}

// GetStartDebounce returns the minimum gap since the last fuse before a
// source may start again.
func (c *FusionConfig) GetStartDebounce() time.Duration {
	return parseDurationOr(c.StartDebounce, time.Second)
}

// GetResetBudget returns the reset_budget value or the default.
func (c *FusionConfig) GetResetBudget() int {
	if c.ResetBudget == nil {
		return 5 // default
	}
	return *c.ResetBudget
}

// GetFaultLatch returns the fault_latch value or the default.
func (c *FusionConfig) GetFaultLatch() bool {
	if c.FaultLatch == nil {
		return false
	}
	return *c.FaultLatch
}

// GetEVYawEnabled returns the ev_yaw_enabled value or the default.
func (c *FusionConfig) GetEVYawEnabled() bool {
	if c.EVYawEnabled == nil {
		return true
	}
	return *c.EVYawEnabled
}

// GetGNSSYawEnabled returns the gnss_yaw_enabled value or the default.
func (c *FusionConfig) GetGNSSYawEnabled() bool {
	if c.GNSSYawEnabled == nil {
		return true
	}
	return *c.GNSSYawEnabled
}

// GetMagYawEnabled returns the mag_yaw_enabled value or the default.
func (c *FusionConfig) GetMagYawEnabled() bool {
	if c.MagYawEnabled == nil {
		return true
	}
	return *c.MagYawEnabled
}

// GetEVAttNoise returns the ev_att_noise value or the default.
func (c *FusionConfig) GetEVAttNoise() float64 {
	if c.EVAttNoise == nil {
		return 0.1 // default
	}
	return *c.EVAttNoise
}

// GetGNSSHeadingNoise returns the gnss_heading_noise value or the default.
func (c *FusionConfig) GetGNSSHeadingNoise() float64 {
	if c.GNSSHeadingNoise == nil {
		return 0.1 // default
	}
	return *c.GNSSHeadingNoise
}

// GetMagHeadingNoise returns the mag_heading_noise value or the default.
func (c *FusionConfig) GetMagHeadingNoise() float64 {
	if c.MagHeadingNoise == nil {
		return 0.3 // default
	}
	return *c.MagHeadingNoise
}

// GetHeadingInnovGate returns the heading_innov_gate value or the default.
func (c *FusionConfig) GetHeadingInnovGate() float64 {
	if c.HeadingInnovGate == nil {
		return 2.6 // default
	}
	return *c.HeadingInnovGate
}

// GetYawProcessNoise returns the yaw_process_noise value or the default.
func (c *FusionConfig) GetYawProcessNoise() float64 {
	if c.YawProcessNoise == nil {
		return 0.015 // default
	}
	return *c.YawProcessNoise
}

// GetGyroBiasProcessNoise returns the gyro_bias_process_noise value or the default.
func (c *FusionConfig) GetGyroBiasProcessNoise() float64 {
	if c.GyroBiasProcessNoise == nil {
		return 0.001 // default
	}
	return *c.GyroBiasProcessNoise
}

// GetInitialYawVariance returns the initial_yaw_variance value or the default.
func (c *FusionConfig) GetInitialYawVariance() float64 {
	if c.InitialYawVariance == nil {
		return 0.5 // default
	}
	return *c.InitialYawVariance
}
