// Package parser turns raw command output into the volume model:
// whitespace-separated free-space tables, VFS type listings and the
// property-list documents returned by per-volume detail queries.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"howett.net/plist"

	"github.com/volwatch/volwatch/pkg/models"
)

// TableLayout describes where the fields of a free-space table live.
// MountColumn marks where the mount point starts; everything from that
// column to the end of the row belongs to it. TypeColumn is -1 when the
// table carries no filesystem-type column.
type TableLayout struct {
	HeaderLines   int
	TypeColumn    int
	BlocksColumn  int
	UsedColumn    int
	AvailColumn   int
	PercentColumn int
	MountColumn   int
}

// FreeSpaceRow is one parsed data row of a free-space table, with block
// counts already converted to bytes.
type FreeSpaceRow struct {
	Filesystem    string
	Type          models.FilesystemType
	CapacityBytes int64
	UsedBytes     int64
	FreeBytes     int64
	UsedPercent   int
	MountPoint    string
	Name          string
}

// VFSType is one row of a virtual-filesystem listing.
type VFSType struct {
	Name models.FilesystemType
	Refs int
}

// SplitTable splits raw tabular output into rows of whitespace-separated
// fields, dropping the header lines and the synthetic empty line a
// trailing newline produces.
func SplitTable(raw []byte, headerLines int) [][]string {
	lines := strings.Split(string(raw), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) <= headerLines {
		return nil
	}

	rows := make([][]string, 0, len(lines)-headerLines)
	for _, line := range lines[headerLines:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		rows = append(rows, fields)
	}
	return rows
}

// VolumeNameFromMountPoint derives a volume name as the last non-empty
// path segment of the mount point, falling back to the full mount point.
func VolumeNameFromMountPoint(mount string) string {
	segments := strings.Split(mount, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return mount
}

// ParseFreeSpaceTable parses df-style output according to the layout.
func ParseFreeSpaceTable(raw []byte, layout TableLayout) ([]FreeSpaceRow, error) {
	var result []FreeSpaceRow
	for _, fields := range SplitTable(raw, layout.HeaderLines) {
		if len(fields) <= layout.MountColumn {
			return nil, fmt.Errorf("free-space row has %d field(s), need at least %d: %v", len(fields), layout.MountColumn+1, fields)
		}

		row := FreeSpaceRow{
			Filesystem: fields[0],
			Type:       models.FilesystemUnknown,
		}
		if layout.TypeColumn >= 0 {
			row.Type = models.ParseFilesystemType(fields[layout.TypeColumn])
		}

		blocks, err := parseBlockField(fields[layout.BlocksColumn])
		if err != nil {
			return nil, fmt.Errorf("invalid block count: %w", err)
		}
		used, err := parseBlockField(fields[layout.UsedColumn])
		if err != nil {
			return nil, fmt.Errorf("invalid used count: %w", err)
		}
		avail, err := parseBlockField(fields[layout.AvailColumn])
		if err != nil {
			return nil, fmt.Errorf("invalid available count: %w", err)
		}
		row.CapacityBytes = blocks
		row.UsedBytes = used
		row.FreeBytes = avail

		percent := strings.TrimSuffix(fields[layout.PercentColumn], "%")
		row.UsedPercent, err = strconv.Atoi(percent)
		if err != nil {
			return nil, fmt.Errorf("invalid capacity percentage %q: %w", fields[layout.PercentColumn], err)
		}

		// The mount point may itself contain spaces; rejoin everything
		// from its starting column onward.
		row.MountPoint = strings.Join(fields[layout.MountColumn:], " ")
		row.Name = VolumeNameFromMountPoint(row.MountPoint)

		result = append(result, row)
	}
	return result, nil
}

func parseBlockField(field string) (int64, error) {
	blocks, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a block count: %q", field)
	}
	return models.BlocksToBytes(blocks)
}

// ParseVFSTypes parses an lsvfs-style listing and returns the
// filesystem types with a non-zero instance count.
func ParseVFSTypes(raw []byte) ([]VFSType, error) {
	var result []VFSType
	for _, fields := range SplitTable(raw, 2) {
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed filesystem-type row: %v", fields)
		}
		refs, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid instance count %q: %w", fields[1], err)
		}
		if refs == 0 {
			continue
		}
		result = append(result, VFSType{
			Name: models.ParseFilesystemType(fields[0]),
			Refs: refs,
		})
	}
	return result, nil
}

// ParseVolumeNames parses a newline-separated volume name listing.
func ParseVolumeNames(raw []byte) []string {
	var names []string
	for _, line := range strings.Split(string(raw), "\n") {
		name := strings.TrimSpace(line)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// DiskInfo is the structured reply of a per-volume detail query, a
// property-list document.
type DiskInfo struct {
	VolumeName       string `plist:"VolumeName"`
	DeviceIdentifier string `plist:"DeviceIdentifier"`
	DeviceNode       string `plist:"DeviceNode"`
	FilesystemType   string `plist:"FilesystemType"`
	MountPoint       string `plist:"MountPoint"`
	VolumeUUID       string `plist:"VolumeUUID"`
	TotalSize        int64  `plist:"TotalSize"`
	FreeSpace        int64  `plist:"FreeSpace"`
}

// ParseDiskInfo decodes a property-list detail reply.
func ParseDiskInfo(raw []byte) (*DiskInfo, error) {
	var info DiskInfo
	if _, err := plist.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse disk info plist: %w", err)
	}
	return &info, nil
}
