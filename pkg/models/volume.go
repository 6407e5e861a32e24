package models

import (
	"errors"
	"fmt"
	"strings"
)

// FilesystemType identifies the filesystem of a mounted volume.
type FilesystemType string

const (
	FilesystemUnknown FilesystemType = "unknown"
	FilesystemHFS     FilesystemType = "hfs"
	FilesystemAPFS    FilesystemType = "apfs"
	FilesystemUDF     FilesystemType = "udf"
	FilesystemMSDOS   FilesystemType = "msdos"
	FilesystemNTFS    FilesystemType = "ntfs"
	FilesystemSMBFS   FilesystemType = "smbfs"
	FilesystemExt4    FilesystemType = "ext4"
	FilesystemVFAT    FilesystemType = "vfat"
	FilesystemExFAT   FilesystemType = "exfat"
	FilesystemXFS     FilesystemType = "xfs"
	FilesystemBtrfs   FilesystemType = "btrfs"
)

// ParseFilesystemType maps a raw filesystem name from command output to
// the corresponding type. Unrecognized names map to FilesystemUnknown.
func ParseFilesystemType(raw string) FilesystemType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hfs", "hfs+", "hfsplus":
		return FilesystemHFS
	case "apfs":
		return FilesystemAPFS
	case "udf":
		return FilesystemUDF
	case "msdos", "fat32", "fat":
		return FilesystemMSDOS
	case "ntfs", "fuseblk":
		return FilesystemNTFS
	case "smbfs", "cifs":
		return FilesystemSMBFS
	case "ext4":
		return FilesystemExt4
	case "vfat":
		return FilesystemVFAT
	case "exfat":
		return FilesystemExFAT
	case "xfs":
		return FilesystemXFS
	case "btrfs":
		return FilesystemBtrfs
	default:
		return FilesystemUnknown
	}
}

// BlockSize is the fixed block size of the free-space tables we query
// (df is always invoked with 1024-byte blocks).
const BlockSize = 1024

// ByteBase selects the divisor family for byte conversions.
type ByteBase int

const (
	Base2  ByteBase = 2  // 1 GB = 1024^3 bytes
	Base10 ByteBase = 10 // 1 GB = 10^9 bytes
)

var (
	// ErrUnsupportedBase is returned for a ByteBase other than Base2 or Base10.
	ErrUnsupportedBase = errors.New("unsupported byte base")
	// ErrNegativeBlocks is returned when a block count is negative.
	ErrNegativeBlocks = errors.New("block count must be >= 0")
)

// BytesToGB converts a byte count to gigabytes in the given base.
// Negative inputs yield negative outputs without clamping.
func BytesToGB(bytes int64, base ByteBase) (float64, error) {
	switch base {
	case Base2:
		return float64(bytes) / (1024 * 1024 * 1024), nil
	case Base10:
		return float64(bytes) / 1e9, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBase, base)
	}
}

// BlocksToBytes converts a count of fixed-size blocks to bytes.
func BlocksToBytes(blocks int64) (int64, error) {
	if blocks < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeBlocks, blocks)
	}
	return blocks * BlockSize, nil
}

// Volume describes one storage volume observed during a scan. Volumes
// are value objects: a changed volume is represented by a fresh value
// built on the next pass, never by mutating one in place.
type Volume struct {
	Name          string
	DiskID        string
	Type          FilesystemType
	MountPoint    string
	DeviceNode    string
	UniqueID      string
	CapacityBytes int64
	FreeBytes     int64
	UsedBytes     int64
	Visible       bool
	Shown         bool
	LowSpaceAlert bool
}

// VolumeSpec carries the inputs for NewVolume. UsedBytes is optional;
// when nil it is derived as capacity minus free.
type VolumeSpec struct {
	Name          string
	DiskID        string
	Type          FilesystemType
	MountPoint    string
	DeviceNode    string
	UniqueID      string
	CapacityBytes int64
	FreeBytes     int64
	UsedBytes     *int64
	Visible       bool
	Shown         bool
}

// NewVolume validates the spec and builds a Volume. Capacity, free and
// used must all be non-negative, including a derived used value.
func NewVolume(spec VolumeSpec) (Volume, error) {
	if spec.CapacityBytes < 0 {
		return Volume{}, fmt.Errorf("capacity must be >= 0, got %d", spec.CapacityBytes)
	}
	if spec.FreeBytes < 0 {
		return Volume{}, fmt.Errorf("free space must be >= 0, got %d", spec.FreeBytes)
	}

	used := spec.CapacityBytes - spec.FreeBytes
	if spec.UsedBytes != nil {
		used = *spec.UsedBytes
	}
	if used < 0 {
		return Volume{}, fmt.Errorf("used space must be >= 0, got %d", used)
	}

	fsType := spec.Type
	if fsType == "" {
		fsType = FilesystemUnknown
	}

	return Volume{
		Name:          spec.Name,
		DiskID:        spec.DiskID,
		Type:          fsType,
		MountPoint:    spec.MountPoint,
		DeviceNode:    spec.DeviceNode,
		UniqueID:      spec.UniqueID,
		CapacityBytes: spec.CapacityBytes,
		FreeBytes:     spec.FreeBytes,
		UsedBytes:     used,
		Visible:       spec.Visible,
		Shown:         spec.Shown,
	}, nil
}

// IsMatch reports whether two observations describe the same logical
// volume. Only identity fields participate; metrics and flags are
// ignored so observations from different passes still match.
func (v Volume) IsMatch(other Volume) bool {
	return v.Name == other.Name &&
		v.Type == other.Type &&
		v.DeviceNode == other.DeviceNode &&
		v.MountPoint == other.MountPoint
}

// FreePercent returns the free share of the volume in percent, or 0
// when the capacity is unknown.
func (v Volume) FreePercent() float64 {
	if v.CapacityBytes <= 0 {
		return 0
	}
	return float64(v.FreeBytes) / float64(v.CapacityBytes) * 100
}

// IdentifyBy selects how a customization is matched against a volume.
type IdentifyBy string

const (
	IdentifyByName   IdentifyBy = "name"
	IdentifyBySerial IdentifyBy = "serial"
)

// VolumeCustomization overrides the default low-space threshold for
// volumes matched by name or by serial/UUID.
type VolumeCustomization struct {
	IdentifyBy       IdentifyBy `json:"identifyBy"`
	Name             string     `json:"name,omitempty"`
	Serial           string     `json:"serial,omitempty"`
	Active           bool       `json:"active"`
	ThresholdPercent float64    `json:"thresholdPercent,omitempty"`
}

// Matches reports whether the customization applies to the volume.
// Name and serial comparisons are case-insensitive.
func (c VolumeCustomization) Matches(v Volume) bool {
	switch c.IdentifyBy {
	case IdentifyByName:
		return c.Name != "" && strings.EqualFold(c.Name, v.Name)
	case IdentifyBySerial:
		return c.Serial != "" && strings.EqualFold(c.Serial, v.UniqueID)
	default:
		return false
	}
}
