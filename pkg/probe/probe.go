// Package probe implements the per-OS interrogation pipelines that turn
// external command output into volumes. A strategy issues one or more
// command executions, correlates their asynchronous completions by
// token, and hands finalized volumes back to the scan orchestrator.
package probe

import (
	"runtime"

	"github.com/volwatch/volwatch/pkg/config"
	"github.com/volwatch/volwatch/pkg/execute"
	"github.com/volwatch/volwatch/pkg/models"
	"github.com/volwatch/volwatch/pkg/parser"
)

// Strategy is the interrogation contract the orchestrator drives. All
// methods are called from the orchestrator's run loop; strategies keep
// no locks of their own.
type Strategy interface {
	// Initiate starts the pipeline for one scan pass.
	Initiate() error
	// Reset clears strategy-local pending bookkeeping.
	Reset()
	// InProgress reports whether sub-tasks remain outstanding.
	InProgress() bool
	// WatchFolders lists directories whose changes should trigger rescans.
	WatchFolders() []string
	// HandleCompletion consumes one command completion, possibly issuing
	// follow-up queries, and returns any volumes finalized by it. A
	// returned error aborts the whole pass.
	HandleCompletion(res execute.Result) ([]models.Volume, error)
}

// ForHost selects the strategy matching the host operating system.
func ForHost(cfg *config.Config, results chan<- execute.Result) Strategy {
	if runtime.GOOS == "darwin" {
		return NewDarwinStrategy(cfg, results)
	}
	return NewTableStrategy(cfg, results)
}

// Query sources used as correlation hints on results.
const (
	sourceVolumeNames = "volume-names"
	sourceVFSTypes    = "vfs-types"
	sourceFreeSpace   = "free-space"
	sourceDiskInfo    = "disk-info"
	sourceFreeTable   = "free-space-table"
)

// darwinFreeSpaceLayout matches `df -k -T <type>` output:
// Filesystem 1024-blocks Used Available Capacity iused ifree %iused Mounted on
var darwinFreeSpaceLayout = parser.TableLayout{
	HeaderLines:   1,
	TypeColumn:    -1,
	BlocksColumn:  1,
	UsedColumn:    2,
	AvailColumn:   3,
	PercentColumn: 4,
	MountColumn:   8,
}

// posixFreeSpaceLayout matches `df -k -T` output:
// Filesystem Type 1K-blocks Used Available Use% Mounted on
var posixFreeSpaceLayout = parser.TableLayout{
	HeaderLines:   1,
	TypeColumn:    1,
	BlocksColumn:  2,
	UsedColumn:    3,
	AvailColumn:   4,
	PercentColumn: 5,
	MountColumn:   6,
}

func mountedUnder(mountPoint string, roots []string) bool {
	for _, root := range roots {
		if len(mountPoint) > len(root) && mountPoint[:len(root)] == root && mountPoint[len(root)] == '/' {
			return true
		}
	}
	return false
}
