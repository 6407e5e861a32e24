// Package watch multiplexes filesystem watches over a set of targets
// and forwards change notifications on a channel. It performs no
// debouncing or filtering; that policy belongs to the caller.
package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

var (
	// ErrNoEntries is returned when AddWatches is called without entries.
	ErrNoEntries = errors.New("at least one watch entry is required")
	// ErrEmptyTarget is returned when an entry has no target.
	ErrEmptyTarget = errors.New("watch target must be a non-empty string")
)

// Entry describes one watch target. Recursive also watches the current
// subdirectories of the target. IgnoreAccess installs the watch even if
// the access check failed.
type Entry struct {
	Target       string
	Recursive    bool
	IgnoreAccess bool
}

// AddResult reports the outcome of installing one entry.
type AddResult struct {
	Target string
	OK     bool
}

// Change is a single forwarded filesystem notification.
type Change struct {
	Type string
	Name string
}

// Multiplexer owns one underlying watcher and the bookkeeping of which
// targets are installed on it.
type Multiplexer struct {
	mu         sync.Mutex
	fsw        *fsnotify.Watcher
	targets    map[string]bool
	subpaths   map[string][]string
	changes    chan Change
	done       chan struct{}
	wg         sync.WaitGroup
	terminated bool
}

// New creates a multiplexer and starts its forwarding goroutine.
func New() (*Multiplexer, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	m := &Multiplexer{
		fsw:      fsw,
		targets:  make(map[string]bool),
		subpaths: make(map[string][]string),
		changes:  make(chan Change, 64),
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.forward()
	return m, nil
}

// Changes returns the channel carrying forwarded notifications. The
// channel is closed by Terminate.
func (m *Multiplexer) Changes() <-chan Change {
	return m.changes
}

// forward relays underlying events to the changes channel, so the
// multiplexer never reenters its caller synchronously.
func (m *Multiplexer) forward() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.fsw.Events:
			if !ok {
				return
			}
			change := Change{Type: strings.ToLower(ev.Op.String()), Name: ev.Name}
			// Delivery blocks until the consumer takes the change or the
			// multiplexer terminates; notifications are never dropped.
			select {
			case m.changes <- change:
			case <-m.done:
				return
			}
		case err, ok := <-m.fsw.Errors:
			if !ok {
				return
			}
			klog.Warningf("Filesystem watch error: %v", err)
		}
	}
}

// AddWatches validates all entries up front, then evaluates every entry
// even if some fail: each gets an access check, and a watch is
// installed only when the check passed or IgnoreAccess is set. A
// pre-existing watch on the same target is replaced. The returned flag
// is the AND over all per-entry outcomes, decided only after every
// entry was evaluated.
func (m *Multiplexer) AddWatches(entries []Entry) ([]AddResult, bool, error) {
	if len(entries) == 0 {
		return nil, false, ErrNoEntries
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Target) == "" {
			return nil, false, ErrEmptyTarget
		}
	}

	// Access checks run concurrently; outcomes keep entry order.
	checks := make([]error, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			_, checks[i] = os.Stat(target)
		}(i, e.Target)
	}
	wg.Wait()

	results := make([]AddResult, len(entries))
	all := true
	for i, e := range entries {
		ok := false
		if checks[i] == nil || e.IgnoreAccess {
			if err := m.install(e); err != nil {
				klog.Warningf("Failed to watch %s: %v", e.Target, err)
			} else {
				ok = true
			}
		} else {
			klog.Warningf("Not watching %s: %v", e.Target, checks[i])
		}
		results[i] = AddResult{Target: e.Target, OK: ok}
		if !ok {
			all = false
		}
	}
	return results, all, nil
}

func (m *Multiplexer) install(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.targets[e.Target] {
		m.removeLocked(e.Target)
	}
	if err := m.fsw.Add(e.Target); err != nil {
		return err
	}
	m.targets[e.Target] = true

	if e.Recursive {
		_ = filepath.WalkDir(e.Target, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() || path == e.Target {
				return nil
			}
			if err := m.fsw.Add(path); err != nil {
				klog.V(1).Infof("Skipping subdirectory %s: %v", path, err)
				return nil
			}
			m.subpaths[e.Target] = append(m.subpaths[e.Target], path)
			return nil
		})
	}
	return nil
}

// DeleteWatch stops and removes one watch, reporting whether it existed.
func (m *Multiplexer) DeleteWatch(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.targets[target] {
		return false
	}
	m.removeLocked(target)
	return true
}

func (m *Multiplexer) removeLocked(target string) {
	if err := m.fsw.Remove(target); err != nil {
		klog.V(1).Infof("Removing watch on %s: %v", target, err)
	}
	for _, p := range m.subpaths[target] {
		if err := m.fsw.Remove(p); err != nil {
			klog.V(1).Infof("Removing watch on %s: %v", p, err)
		}
	}
	delete(m.subpaths, target)
	delete(m.targets, target)
}

// ListWatches returns the currently watched targets, sorted.
func (m *Multiplexer) ListWatches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	targets := make([]string, 0, len(m.targets))
	for t := range m.targets {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// Terminate closes every watch and stops forwarding. Safe to call once
// per instance; later calls are no-ops.
func (m *Multiplexer) Terminate() error {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return nil
	}
	m.terminated = true
	m.mu.Unlock()

	close(m.done)
	err := m.fsw.Close()
	m.wg.Wait()
	close(m.changes)
	return err
}
