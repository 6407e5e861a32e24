package models

import (
	"testing"
)

func int64Ptr(v int64) *int64 { return &v }

func TestNewVolume(t *testing.T) {
	gib := int64(1024 * 1024 * 1024)

	tests := []struct {
		name     string
		spec     VolumeSpec
		wantUsed int64
		wantErr  bool
	}{
		{
			name:     "used derived from capacity and free",
			spec:     VolumeSpec{Name: "Data", Type: FilesystemAPFS, CapacityBytes: 5 * gib, FreeBytes: 1 * gib},
			wantUsed: 4 * gib,
		},
		{
			name:     "used supplied explicitly",
			spec:     VolumeSpec{Name: "Data", CapacityBytes: 10 * gib, FreeBytes: 1 * gib, UsedBytes: int64Ptr(8 * gib)},
			wantUsed: 8 * gib,
		},
		{
			name:    "negative capacity",
			spec:    VolumeSpec{CapacityBytes: -1, FreeBytes: 0},
			wantErr: true,
		},
		{
			name:    "negative free",
			spec:    VolumeSpec{CapacityBytes: 1, FreeBytes: -1},
			wantErr: true,
		},
		{
			name:    "negative supplied used",
			spec:    VolumeSpec{CapacityBytes: 5 * gib, FreeBytes: 1 * gib, UsedBytes: int64Ptr(-1)},
			wantErr: true,
		},
		{
			name:    "derived used would be negative",
			spec:    VolumeSpec{CapacityBytes: 1 * gib, FreeBytes: 2 * gib},
			wantErr: true,
		},
		{
			name:     "zero everything",
			spec:     VolumeSpec{},
			wantUsed: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vol, err := NewVolume(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewVolume() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVolume() error = %v", err)
			}
			if vol.UsedBytes != tt.wantUsed {
				t.Errorf("UsedBytes = %d, want %d", vol.UsedBytes, tt.wantUsed)
			}
			if vol.UsedBytes < 0 {
				t.Errorf("UsedBytes = %d, must be >= 0", vol.UsedBytes)
			}
		})
	}
}

func TestNewVolumeDefaultsType(t *testing.T) {
	vol, err := NewVolume(VolumeSpec{Name: "Data", CapacityBytes: 10, FreeBytes: 5})
	if err != nil {
		t.Fatalf("NewVolume() error = %v", err)
	}
	if vol.Type != FilesystemUnknown {
		t.Errorf("Type = %v, want %v", vol.Type, FilesystemUnknown)
	}
}

func TestIsMatch(t *testing.T) {
	base := Volume{
		Name:          "Backup",
		Type:          FilesystemAPFS,
		DeviceNode:    "/dev/disk2s1",
		MountPoint:    "/Volumes/Backup",
		CapacityBytes: 100,
		FreeBytes:     50,
	}

	tests := []struct {
		name  string
		other Volume
		want  bool
	}{
		{
			name:  "identical",
			other: base,
			want:  true,
		},
		{
			name: "different metrics still match",
			other: Volume{
				Name: "Backup", Type: FilesystemAPFS, DeviceNode: "/dev/disk2s1", MountPoint: "/Volumes/Backup",
				CapacityBytes: 999, FreeBytes: 1, LowSpaceAlert: true, Shown: true,
			},
			want: true,
		},
		{
			name: "different device node",
			other: Volume{
				Name: "Backup", Type: FilesystemAPFS, DeviceNode: "/dev/disk3s1", MountPoint: "/Volumes/Backup",
			},
			want: false,
		},
		{
			name: "different name",
			other: Volume{
				Name: "Backup2", Type: FilesystemAPFS, DeviceNode: "/dev/disk2s1", MountPoint: "/Volumes/Backup",
			},
			want: false,
		},
		{
			name: "different mount point",
			other: Volume{
				Name: "Backup", Type: FilesystemAPFS, DeviceNode: "/dev/disk2s1", MountPoint: "/Volumes/Other",
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.IsMatch(tt.other); got != tt.want {
				t.Errorf("IsMatch() = %v, want %v", got, tt.want)
			}
			// matching is symmetric
			if got := tt.other.IsMatch(base); got != tt.want {
				t.Errorf("reverse IsMatch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBytesToGB(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int64
		base    ByteBase
		want    float64
		wantErr bool
	}{
		{name: "one binary GB", bytes: 1024 * 1024 * 1024, base: Base2, want: 1.0},
		{name: "one decimal GB", bytes: 1e9, base: Base10, want: 1.0},
		{name: "100 MiB binary", bytes: 100 * 1024 * 1024, base: Base2, want: 0.09765625},
		{name: "negative passes through", bytes: -1024 * 1024 * 1024, base: Base2, want: -1.0},
		{name: "unsupported base", bytes: 1, base: ByteBase(7), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BytesToGB(tt.bytes, tt.base)
			if tt.wantErr {
				if err == nil {
					t.Fatal("BytesToGB() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BytesToGB() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BytesToGB() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlocksToBytes(t *testing.T) {
	tests := []struct {
		name    string
		blocks  int64
		want    int64
		wantErr bool
	}{
		{name: "zero", blocks: 0, want: 0},
		{name: "thousand blocks", blocks: 1000, want: 1024000},
		{name: "negative", blocks: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BlocksToBytes(tt.blocks)
			if tt.wantErr {
				if err == nil {
					t.Fatal("BlocksToBytes() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BlocksToBytes() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BlocksToBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseFilesystemType(t *testing.T) {
	tests := []struct {
		raw  string
		want FilesystemType
	}{
		{"apfs", FilesystemAPFS},
		{"APFS", FilesystemAPFS},
		{"hfs", FilesystemHFS},
		{"ext4", FilesystemExt4},
		{"cifs", FilesystemSMBFS},
		{"ntfs", FilesystemNTFS},
		{" vfat ", FilesystemVFAT},
		{"devfs", FilesystemUnknown},
		{"", FilesystemUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseFilesystemType(tt.raw); got != tt.want {
				t.Errorf("ParseFilesystemType(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFreePercent(t *testing.T) {
	tests := []struct {
		name string
		vol  Volume
		want float64
	}{
		{name: "half free", vol: Volume{CapacityBytes: 100, FreeBytes: 50}, want: 50},
		{name: "zero capacity", vol: Volume{CapacityBytes: 0, FreeBytes: 10}, want: 0},
		{name: "ten percent", vol: Volume{CapacityBytes: 1000, FreeBytes: 100}, want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.vol.FreePercent(); got != tt.want {
				t.Errorf("FreePercent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCustomizationMatches(t *testing.T) {
	vol := Volume{Name: "Time Machine", UniqueID: "0E239BC6-F960-3107-89CF-1C97F78BB46B"}

	tests := []struct {
		name string
		cust VolumeCustomization
		want bool
	}{
		{
			name: "name match case-insensitive",
			cust: VolumeCustomization{IdentifyBy: IdentifyByName, Name: "time machine"},
			want: true,
		},
		{
			name: "name mismatch",
			cust: VolumeCustomization{IdentifyBy: IdentifyByName, Name: "Other"},
			want: false,
		},
		{
			name: "serial match case-insensitive",
			cust: VolumeCustomization{IdentifyBy: IdentifyBySerial, Serial: "0e239bc6-f960-3107-89cf-1c97f78bb46b"},
			want: true,
		},
		{
			name: "serial mismatch",
			cust: VolumeCustomization{IdentifyBy: IdentifyBySerial, Serial: "ffffffff"},
			want: false,
		},
		{
			name: "empty name never matches",
			cust: VolumeCustomization{IdentifyBy: IdentifyByName},
			want: false,
		},
		{
			name: "invalid method never matches",
			cust: VolumeCustomization{IdentifyBy: "uuid", Name: "Time Machine"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cust.Matches(vol); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
