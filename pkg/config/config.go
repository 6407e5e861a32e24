package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/volwatch/volwatch/pkg/models"
)

// Polling period bounds in hours: five minutes up to 31 days.
const (
	MinimumPollHours = 1.0 / 12
	MaximumPollHours = 744.0
)

// Config holds the application configuration, including the full argv
// of every interrogation query so tests can point them at fixtures.
type Config struct {
	Mode     string
	LogLevel string

	PollHours               float64
	DefaultThresholdPercent float64
	ExclusionMasks          []string
	Customizations          []models.VolumeCustomization

	// Commands
	ListVolumesCmd  []string // visible volume names, one per line
	ListVFSTypesCmd []string // virtual filesystem types with instance counts
	FreeSpaceCmd    []string // per-type free-space table; type appended
	DiskInfoCmd     []string // per-volume detail query; mount point appended
	FreeSpaceAllCmd []string // single free-space table over all filesystems

	compiledMasks []*regexp.Regexp
}

// NewConfig creates a new configuration with default values. Mode
// "test" points every query at fixture files; "direct" uses the host
// binaries from PATH.
func NewConfig(mode string) *Config {
	cfg := &Config{
		Mode:                    mode,
		LogLevel:                "info",
		PollHours:               getEnvAsFloat("POLL_HOURS", 1),
		DefaultThresholdPercent: getEnvAsFloat("LOW_SPACE_THRESHOLD_PERCENT", 15),
		ExclusionMasks:          getEnvAsStringSlice("EXCLUSION_MASKS", []string{}),
		Customizations:          getEnvAsCustomizations("VOLUME_CUSTOMIZATIONS"),
	}

	if mode == "test" {
		cfg.ListVolumesCmd = []string{"cat", "testdata/volumes.txt"}
		cfg.ListVFSTypesCmd = []string{"cat", "testdata/lsvfs.txt"}
		// sh -c swallows the appended type/mount argument as $0 so the
		// fixture is served regardless of what the pipeline asks for.
		cfg.FreeSpaceCmd = []string{"sh", "-c", "cat testdata/df_type.txt"}
		cfg.DiskInfoCmd = []string{"sh", "-c", "cat testdata/diskutil_info.plist"}
		cfg.FreeSpaceAllCmd = []string{"cat", "testdata/df_all.txt"}
	} else {
		cfg.ListVolumesCmd = []string{"ls", "/Volumes"}
		cfg.ListVFSTypesCmd = []string{"lsvfs"}
		cfg.FreeSpaceCmd = []string{"df", "-k", "-T"}
		cfg.DiskInfoCmd = []string{"diskutil", "info", "-plist"}
		cfg.FreeSpaceAllCmd = []string{"df", "-k", "-T",
			"-x", "tmpfs", "-x", "devtmpfs", "-x", "squashfs", "-x", "overlay"}
	}

	return cfg
}

// Validate checks every field before anything is constructed on top of
// the configuration. It fails fast: the first violation is returned and
// no partial state (compiled masks) is kept.
func (c *Config) Validate() error {
	c.compiledMasks = nil

	if c.PollHours < MinimumPollHours || c.PollHours > MaximumPollHours {
		return fmt.Errorf("poll period %.4f h out of range [%.4f, %.0f]", c.PollHours, MinimumPollHours, MaximumPollHours)
	}
	if c.DefaultThresholdPercent <= 0 || c.DefaultThresholdPercent >= 100 {
		return fmt.Errorf("default low-space threshold %.2f%% must be strictly between 0 and 100", c.DefaultThresholdPercent)
	}

	masks := make([]*regexp.Regexp, 0, len(c.ExclusionMasks))
	for _, mask := range c.ExclusionMasks {
		re, err := regexp.Compile(mask)
		if err != nil {
			return fmt.Errorf("invalid exclusion mask %q: %w", mask, err)
		}
		masks = append(masks, re)
	}

	for i, cust := range c.Customizations {
		switch cust.IdentifyBy {
		case models.IdentifyByName:
			if cust.Name == "" {
				return fmt.Errorf("customization %d identifies by name but has no name", i)
			}
		case models.IdentifyBySerial:
			if cust.Serial == "" {
				return fmt.Errorf("customization %d identifies by serial but has no serial", i)
			}
		default:
			return fmt.Errorf("customization %d has invalid identify-by method %q", i, cust.IdentifyBy)
		}
		if cust.Active && (cust.ThresholdPercent <= 0 || cust.ThresholdPercent >= 100) {
			return fmt.Errorf("customization %d threshold %.2f%% must be strictly between 0 and 100", i, cust.ThresholdPercent)
		}
	}

	c.compiledMasks = masks
	return nil
}

// IsExcluded reports whether the mount point matches any configured
// exclusion mask. Validate must have run.
func (c *Config) IsExcluded(mountPoint string) bool {
	for _, re := range c.compiledMasks {
		if re.MatchString(mountPoint) {
			return true
		}
	}
	return false
}

// IsDebug returns true if debug logging is enabled.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// getEnvAsFloat reads an environment variable as a float, or returns
// the default value if not set or invalid.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsStringSlice reads an environment variable as a comma-separated
// list, or returns the default value if not set.
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

// getEnvAsCustomizations reads a JSON array of volume customizations
// from an environment variable. A malformed document is ignored with a
// warning rather than failing startup; Validate still rejects invalid
// individual entries.
func getEnvAsCustomizations(key string) []models.VolumeCustomization {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	var result []models.VolumeCustomization
	if err := json.Unmarshal([]byte(valueStr), &result); err != nil {
		klog.Warningf("Ignoring %s: %v", key, err)
		return nil
	}
	return result
}
