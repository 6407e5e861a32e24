package probe

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/volwatch/volwatch/pkg/config"
	"github.com/volwatch/volwatch/pkg/execute"
	"github.com/volwatch/volwatch/pkg/models"
	"github.com/volwatch/volwatch/pkg/parser"
)

// TableStrategy interrogates hosts whose single free-space table covers
// all mounted filesystems except pseudo filesystems. Each row with a
// recognized filesystem type becomes one finalized volume directly, so
// the pending set degenerates to a single flag.
type TableStrategy struct {
	cfg     *config.Config
	results chan<- execute.Result

	nextToken uint64
	pending   bool
}

// NewTableStrategy creates the strategy.
func NewTableStrategy(cfg *config.Config, results chan<- execute.Result) *TableStrategy {
	return &TableStrategy{cfg: cfg, results: results}
}

func (s *TableStrategy) Reset() {
	s.pending = false
}

func (s *TableStrategy) InProgress() bool {
	return s.pending
}

// WatchFolders returns the canonical removable-media mount roots.
func (s *TableStrategy) WatchFolders() []string {
	return []string{"/media", "/mnt"}
}

// Initiate issues the single free-space-table query.
func (s *TableStrategy) Initiate() error {
	cmd := s.cfg.FreeSpaceAllCmd
	if len(cmd) == 0 {
		return execute.ErrEmptyCommand
	}

	s.pending = true
	s.nextToken++
	err := execute.NewExecutor(s.results).Run(execute.Request{
		Command: cmd[0],
		Options: cmd[1:],
		Token:   s.nextToken,
		Source:  sourceFreeTable,
	})
	if err != nil {
		s.pending = false
		return fmt.Errorf("failed to query free-space table: %w", err)
	}
	return nil
}

// HandleCompletion finalizes the pass from the single table reply.
func (s *TableStrategy) HandleCompletion(res execute.Result) ([]models.Volume, error) {
	if res.Source != sourceFreeTable {
		klog.V(1).Infof("Ignoring completion from unknown source %q", res.Source)
		return nil, nil
	}
	s.pending = false

	if !res.Valid {
		return nil, fmt.Errorf("free-space-table query failed: %s", res.Payload)
	}

	rows, err := parser.ParseFreeSpaceTable(res.Payload, posixFreeSpaceLayout)
	if err != nil {
		return nil, err
	}

	var volumes []models.Volume
	for _, row := range rows {
		if row.Type == models.FilesystemUnknown {
			continue
		}
		visible := mountedUnder(row.MountPoint, s.WatchFolders())
		used := row.UsedBytes
		vol, err := models.NewVolume(models.VolumeSpec{
			Name:          row.Name,
			Type:          row.Type,
			MountPoint:    row.MountPoint,
			DeviceNode:    row.Filesystem,
			CapacityBytes: row.CapacityBytes,
			FreeBytes:     row.FreeBytes,
			UsedBytes:     &used,
			Visible:       visible,
			Shown:         visible && !s.cfg.IsExcluded(row.MountPoint),
		})
		if err != nil {
			return nil, fmt.Errorf("invalid free-space row for %s: %w", row.MountPoint, err)
		}
		volumes = append(volumes, vol)
	}
	return volumes, nil
}
