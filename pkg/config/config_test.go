package config

import (
	"strings"
	"testing"

	"github.com/volwatch/volwatch/pkg/models"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("direct")

	if cfg.PollHours != 1 {
		t.Errorf("PollHours = %v, want 1", cfg.PollHours)
	}
	if cfg.DefaultThresholdPercent != 15 {
		t.Errorf("DefaultThresholdPercent = %v, want 15", cfg.DefaultThresholdPercent)
	}
	if len(cfg.ExclusionMasks) != 0 {
		t.Errorf("ExclusionMasks = %v, want empty", cfg.ExclusionMasks)
	}
	if cfg.FreeSpaceCmd[0] != "df" {
		t.Errorf("FreeSpaceCmd = %v, want host df", cfg.FreeSpaceCmd)
	}
	if cfg.DiskInfoCmd[0] != "diskutil" {
		t.Errorf("DiskInfoCmd = %v, want host diskutil", cfg.DiskInfoCmd)
	}
}

func TestNewConfigTestMode(t *testing.T) {
	cfg := NewConfig("test")

	for name, cmd := range map[string][]string{
		"ListVolumesCmd":  cfg.ListVolumesCmd,
		"ListVFSTypesCmd": cfg.ListVFSTypesCmd,
		"FreeSpaceCmd":    cfg.FreeSpaceCmd,
		"DiskInfoCmd":     cfg.DiskInfoCmd,
		"FreeSpaceAllCmd": cfg.FreeSpaceAllCmd,
	} {
		if len(cmd) == 0 {
			t.Errorf("%s is empty", name)
			continue
		}
		if !strings.Contains(strings.Join(cmd, " "), "testdata/") {
			t.Errorf("%s = %v, want fixture-backed command", name, cmd)
		}
	}
}

func TestNewConfigReadsEnvironment(t *testing.T) {
	t.Setenv("POLL_HOURS", "2.5")
	t.Setenv("LOW_SPACE_THRESHOLD_PERCENT", "20")
	t.Setenv("EXCLUSION_MASKS", "^/System, ^/private ,")
	t.Setenv("VOLUME_CUSTOMIZATIONS", `[{"identifyBy":"name","name":"Backup","active":true,"thresholdPercent":5}]`)

	cfg := NewConfig("direct")
	if cfg.PollHours != 2.5 {
		t.Errorf("PollHours = %v, want 2.5", cfg.PollHours)
	}
	if cfg.DefaultThresholdPercent != 20 {
		t.Errorf("DefaultThresholdPercent = %v, want 20", cfg.DefaultThresholdPercent)
	}
	if len(cfg.ExclusionMasks) != 2 || cfg.ExclusionMasks[0] != "^/System" || cfg.ExclusionMasks[1] != "^/private" {
		t.Errorf("ExclusionMasks = %v, want trimmed two-element list", cfg.ExclusionMasks)
	}
	if len(cfg.Customizations) != 1 {
		t.Fatalf("Customizations = %v, want one entry", cfg.Customizations)
	}
	cust := cfg.Customizations[0]
	if cust.IdentifyBy != models.IdentifyByName || cust.Name != "Backup" || !cust.Active || cust.ThresholdPercent != 5 {
		t.Errorf("Customizations[0] = %+v", cust)
	}
}

func TestNewConfigIgnoresBadEnvironment(t *testing.T) {
	t.Setenv("POLL_HOURS", "often")
	t.Setenv("VOLUME_CUSTOMIZATIONS", "{not json")

	cfg := NewConfig("direct")
	if cfg.PollHours != 1 {
		t.Errorf("PollHours = %v, want default 1 for unparseable value", cfg.PollHours)
	}
	if cfg.Customizations != nil {
		t.Errorf("Customizations = %v, want nil for malformed document", cfg.Customizations)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "period below minimum",
			mutate:  func(c *Config) { c.PollHours = 0.01 },
			wantErr: "out of range",
		},
		{
			name:    "period above maximum",
			mutate:  func(c *Config) { c.PollHours = 1000 },
			wantErr: "out of range",
		},
		{
			name:   "period at bounds",
			mutate: func(c *Config) { c.PollHours = MinimumPollHours },
		},
		{
			name:    "threshold zero",
			mutate:  func(c *Config) { c.DefaultThresholdPercent = 0 },
			wantErr: "strictly between",
		},
		{
			name:    "threshold hundred",
			mutate:  func(c *Config) { c.DefaultThresholdPercent = 100 },
			wantErr: "strictly between",
		},
		{
			name:    "invalid exclusion mask",
			mutate:  func(c *Config) { c.ExclusionMasks = []string{"["} },
			wantErr: "invalid exclusion mask",
		},
		{
			name: "customization without name",
			mutate: func(c *Config) {
				c.Customizations = []models.VolumeCustomization{{IdentifyBy: models.IdentifyByName}}
			},
			wantErr: "has no name",
		},
		{
			name: "customization without serial",
			mutate: func(c *Config) {
				c.Customizations = []models.VolumeCustomization{{IdentifyBy: models.IdentifyBySerial}}
			},
			wantErr: "has no serial",
		},
		{
			name: "customization with unknown method",
			mutate: func(c *Config) {
				c.Customizations = []models.VolumeCustomization{{IdentifyBy: "uuid", Name: "Data"}}
			},
			wantErr: "invalid identify-by",
		},
		{
			name: "active customization with bad threshold",
			mutate: func(c *Config) {
				c.Customizations = []models.VolumeCustomization{
					{IdentifyBy: models.IdentifyByName, Name: "Data", Active: true, ThresholdPercent: 100},
				}
			},
			wantErr: "strictly between",
		},
		{
			name: "inactive customization skips the threshold check",
			mutate: func(c *Config) {
				c.Customizations = []models.VolumeCustomization{
					{IdentifyBy: models.IdentifyByName, Name: "Data", Active: false, ThresholdPercent: 0},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("test")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsExcluded(t *testing.T) {
	cfg := NewConfig("test")
	cfg.ExclusionMasks = []string{"^/System", "Backups of"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		mount string
		want  bool
	}{
		{"/System/Volumes/VM", true},
		{"/Volumes/Backups of Laptop", true},
		{"/Volumes/Media", false},
		{"/", false},
	}

	for _, tt := range tests {
		t.Run(tt.mount, func(t *testing.T) {
			if got := cfg.IsExcluded(tt.mount); got != tt.want {
				t.Errorf("IsExcluded(%q) = %v, want %v", tt.mount, got, tt.want)
			}
		})
	}
}

func TestIsDebug(t *testing.T) {
	cfg := NewConfig("test")
	if cfg.IsDebug() {
		t.Error("IsDebug() = true for default log level")
	}
	cfg.LogLevel = "debug"
	if !cfg.IsDebug() {
		t.Error("IsDebug() = false for debug log level")
	}
}
