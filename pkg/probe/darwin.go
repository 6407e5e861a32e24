package probe

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/volwatch/volwatch/pkg/config"
	"github.com/volwatch/volwatch/pkg/execute"
	"github.com/volwatch/volwatch/pkg/models"
	"github.com/volwatch/volwatch/pkg/parser"
)

// DarwinStrategy interrogates hosts that expose per-type free-space
// tables and a per-volume detail utility. The pipeline: list visible
// volume names, list filesystem types with live instances, query the
// free-space table per recognized type, then issue one correlated
// detail query per table row. Every follow-up records its pending entry
// before the command spawns and removes that exact entry when the
// matching completion arrives, by token equality.
type DarwinStrategy struct {
	cfg     *config.Config
	results chan<- execute.Result

	nextToken      uint64
	visibleNames   map[string]bool
	namesToken     uint64
	typesToken     uint64
	pendingTypes   map[uint64]parser.VFSType
	pendingVolumes map[uint64]models.Volume
}

// NewDarwinStrategy creates the strategy. Completions of every command
// it issues are delivered on the given results channel.
func NewDarwinStrategy(cfg *config.Config, results chan<- execute.Result) *DarwinStrategy {
	s := &DarwinStrategy{cfg: cfg, results: results}
	s.Reset()
	return s
}

// Reset clears all pending bookkeeping for a fresh pass. The token
// counter survives so replies from an abandoned pass can never collide
// with the next pass's queries.
func (s *DarwinStrategy) Reset() {
	s.namesToken = 0
	s.typesToken = 0
	s.visibleNames = make(map[string]bool)
	s.pendingTypes = make(map[uint64]parser.VFSType)
	s.pendingVolumes = make(map[uint64]models.Volume)
}

// InProgress reports whether any sub-task of the pass is outstanding.
func (s *DarwinStrategy) InProgress() bool {
	return s.namesToken != 0 || s.typesToken != 0 || len(s.pendingTypes) > 0 || len(s.pendingVolumes) > 0
}

// WatchFolders returns the canonical mount root.
func (s *DarwinStrategy) WatchFolders() []string {
	return []string{"/Volumes"}
}

// Initiate starts the pipeline with the volume name listing.
func (s *DarwinStrategy) Initiate() error {
	s.namesToken = s.token()
	if err := s.run(s.cfg.ListVolumesCmd, nil, s.namesToken, sourceVolumeNames); err != nil {
		s.Reset()
		return fmt.Errorf("failed to list volume names: %w", err)
	}
	return nil
}

// HandleCompletion dispatches one completion to its pipeline step.
func (s *DarwinStrategy) HandleCompletion(res execute.Result) ([]models.Volume, error) {
	switch res.Source {
	case sourceVolumeNames:
		return nil, s.onVolumeNames(res)
	case sourceVFSTypes:
		return nil, s.onVFSTypes(res)
	case sourceFreeSpace:
		return nil, s.onFreeSpace(res)
	case sourceDiskInfo:
		return s.onDiskInfo(res)
	default:
		klog.V(1).Infof("Ignoring completion from unknown source %q", res.Source)
		return nil, nil
	}
}

func (s *DarwinStrategy) token() uint64 {
	s.nextToken++
	return s.nextToken
}

func (s *DarwinStrategy) run(cmd []string, args []string, token uint64, source string) error {
	if len(cmd) == 0 {
		return execute.ErrEmptyCommand
	}
	return execute.NewExecutor(s.results).Run(execute.Request{
		Command: cmd[0],
		Options: cmd[1:],
		Args:    args,
		Token:   token,
		Source:  source,
	})
}

func (s *DarwinStrategy) onVolumeNames(res execute.Result) error {
	if s.namesToken == 0 || res.Token != s.namesToken {
		klog.V(1).Infof("Ignoring volume-name reply with stale token %d", res.Token)
		return nil
	}
	s.namesToken = 0
	if !res.Valid {
		s.Reset()
		return fmt.Errorf("volume name listing failed: %s", res.Payload)
	}

	for _, name := range parser.ParseVolumeNames(res.Payload) {
		s.visibleNames[name] = true
	}

	s.typesToken = s.token()
	if err := s.run(s.cfg.ListVFSTypesCmd, nil, s.typesToken, sourceVFSTypes); err != nil {
		s.Reset()
		return fmt.Errorf("failed to list filesystem types: %w", err)
	}
	return nil
}

func (s *DarwinStrategy) onVFSTypes(res execute.Result) error {
	if s.typesToken == 0 || res.Token != s.typesToken {
		klog.V(1).Infof("Ignoring filesystem-type reply with stale token %d", res.Token)
		return nil
	}
	s.typesToken = 0
	if !res.Valid {
		s.Reset()
		return fmt.Errorf("filesystem type listing failed: %s", res.Payload)
	}

	types, err := parser.ParseVFSTypes(res.Payload)
	if err != nil {
		s.Reset()
		return err
	}

	for _, t := range types {
		if t.Name == models.FilesystemUnknown {
			continue
		}
		tok := s.token()
		s.pendingTypes[tok] = t
		if err := s.run(s.cfg.FreeSpaceCmd, []string{string(t.Name)}, tok, sourceFreeSpace); err != nil {
			s.Reset()
			return fmt.Errorf("failed to query free space for %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *DarwinStrategy) onFreeSpace(res execute.Result) error {
	rec, ok := s.pendingTypes[res.Token]
	if !ok {
		klog.V(1).Infof("Ignoring free-space reply with stale token %d", res.Token)
		return nil
	}
	delete(s.pendingTypes, res.Token)

	if !res.Valid {
		s.Reset()
		return fmt.Errorf("free-space query for %s failed: %s", rec.Name, res.Payload)
	}

	rows, err := parser.ParseFreeSpaceTable(res.Payload, darwinFreeSpaceLayout)
	if err != nil {
		s.Reset()
		return err
	}

	for _, row := range rows {
		visible := s.isVisible(row.Name, row.MountPoint)
		used := row.UsedBytes
		vol, err := models.NewVolume(models.VolumeSpec{
			Name:          row.Name,
			Type:          rec.Name,
			MountPoint:    row.MountPoint,
			DeviceNode:    row.Filesystem,
			CapacityBytes: row.CapacityBytes,
			FreeBytes:     row.FreeBytes,
			UsedBytes:     &used,
			Visible:       visible,
			Shown:         visible && !s.cfg.IsExcluded(row.MountPoint),
		})
		if err != nil {
			s.Reset()
			return fmt.Errorf("invalid free-space row for %s: %w", row.MountPoint, err)
		}

		tok := s.token()
		s.pendingVolumes[tok] = vol
		if err := s.run(s.cfg.DiskInfoCmd, []string{vol.MountPoint}, tok, sourceDiskInfo); err != nil {
			s.Reset()
			return fmt.Errorf("failed to query details for %s: %w", vol.MountPoint, err)
		}
	}
	return nil
}

func (s *DarwinStrategy) onDiskInfo(res execute.Result) ([]models.Volume, error) {
	provisional, ok := s.pendingVolumes[res.Token]
	if !ok {
		klog.V(1).Infof("Ignoring detail reply with stale token %d", res.Token)
		return nil, nil
	}
	delete(s.pendingVolumes, res.Token)

	// A failed detail query (remote shares have no local device) falls
	// back to the provisional volume; only its shown flag is refreshed.
	// This never aborts sibling volumes still in flight.
	if !res.Valid {
		klog.V(1).Infof("Detail query for %s failed, keeping provisional volume", provisional.MountPoint)
		return []models.Volume{s.refreshShown(provisional)}, nil
	}

	info, err := parser.ParseDiskInfo(res.Payload)
	if err != nil {
		s.Reset()
		return nil, err
	}
	if info.DeviceIdentifier == "" {
		return []models.Volume{s.refreshShown(provisional)}, nil
	}

	// The structured reply wins over the provisional table row.
	name := info.VolumeName
	if name == "" {
		name = provisional.Name
	}
	mount := info.MountPoint
	if mount == "" {
		mount = provisional.MountPoint
	}
	fsType := models.ParseFilesystemType(info.FilesystemType)
	if fsType == models.FilesystemUnknown {
		fsType = provisional.Type
	}
	deviceNode := info.DeviceNode
	if deviceNode == "" {
		deviceNode = provisional.DeviceNode
	}

	visible := s.isVisible(name, mount)
	vol, err := models.NewVolume(models.VolumeSpec{
		Name:          name,
		DiskID:        info.DeviceIdentifier,
		Type:          fsType,
		MountPoint:    mount,
		DeviceNode:    deviceNode,
		UniqueID:      info.VolumeUUID,
		CapacityBytes: info.TotalSize,
		FreeBytes:     info.FreeSpace,
		Visible:       visible,
		Shown:         visible && !s.cfg.IsExcluded(mount),
	})
	if err != nil {
		s.Reset()
		return nil, fmt.Errorf("invalid detail reply for %s: %w", mount, err)
	}
	return []models.Volume{vol}, nil
}

func (s *DarwinStrategy) refreshShown(vol models.Volume) models.Volume {
	vol.Shown = vol.Visible && !s.cfg.IsExcluded(vol.MountPoint)
	return vol
}

func (s *DarwinStrategy) isVisible(name, mountPoint string) bool {
	return s.visibleNames[name] || mountedUnder(mountPoint, s.WatchFolders())
}
