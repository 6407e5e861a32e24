// Package scanner owns the scan state machine: timing, debounce,
// watchdog and startup deferral, the low-space-alert policy, and the
// scanning/ready notifications consumers subscribe to.
package scanner

import (
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"k8s.io/klog/v2"

	"github.com/volwatch/volwatch/pkg/config"
	"github.com/volwatch/volwatch/pkg/execute"
	"github.com/volwatch/volwatch/pkg/models"
	"github.com/volwatch/volwatch/pkg/probe"
	"github.com/volwatch/volwatch/pkg/watch"
)

// EventKind discriminates scanner notifications.
type EventKind int

const (
	// EventScanning announces that a scan pass has started.
	EventScanning EventKind = iota
	// EventReady carries the complete volume list of a finished pass.
	// An empty list is also what a failed or timed-out pass produces;
	// the two cases are deliberately not distinguished here.
	EventReady
)

// Event is one scanner notification. Results is only set for EventReady
// and is immutable once emitted.
type Event struct {
	Kind    EventKind
	Results []models.Volume
}

type state int

const (
	stateIdle state = iota
	stateScanning
)

const (
	defaultDebounceDelay = time.Second
	defaultWatchdogDelay = 2 * time.Minute
	defaultMinimumUptime = 10 * time.Minute
)

// UptimeFunc reports how long the host has been up.
type UptimeFunc func() (time.Duration, error)

func hostUptime() (time.Duration, error) {
	seconds, err := host.Uptime()
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

// StrategyFactory builds the interrogation strategy bound to the
// scanner's result channel.
type StrategyFactory func(cfg *config.Config, results chan<- execute.Result) probe.Strategy

// Option customizes a Scanner at construction.
type Option func(*Scanner)

// WithStrategyFactory replaces the host-selected interrogation strategy.
func WithStrategyFactory(f StrategyFactory) Option {
	return func(s *Scanner) { s.factory = f }
}

// WithUptime replaces the host uptime source.
func WithUptime(f UptimeFunc) Option {
	return func(s *Scanner) { s.uptime = f }
}

// WithTimings overrides the debounce, watchdog and minimum-uptime
// delays.
func WithTimings(debounce, watchdog, minUptime time.Duration) Option {
	return func(s *Scanner) {
		s.debounceDelay = debounce
		s.watchdogDelay = watchdog
		s.minimumUptime = minUptime
	}
}

type ctrlOp int

const (
	opStart ctrlOp = iota
	opStop
	opReschedule
)

type ctrlMsg struct {
	op ctrlOp
}

// Scanner drives the interrogation strategy and the watch multiplexer.
// Exactly one scan pipeline is logically in flight per instance; all
// state below the mutex-guarded period is owned by the run loop.
type Scanner struct {
	cfg      *config.Config
	factory  StrategyFactory
	strategy probe.Strategy
	watcher  *watch.Multiplexer
	uptime   UptimeFunc

	debounceDelay time.Duration
	watchdogDelay time.Duration
	minimumUptime time.Duration

	mu          sync.Mutex
	periodHours float64

	results chan execute.Result
	changes <-chan watch.Change
	events  chan Event
	ctrl    chan ctrlMsg
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	// run-loop state
	st              state
	everStarted     bool
	periodicEnabled bool
	volumes         []models.Volume

	periodTimer   *time.Timer
	debounceTimer *time.Timer
	watchdogTimer *time.Timer
	deferTimer    *time.Timer
}

// New validates the configuration, installs the watch targets the
// strategy asks for and starts the run loop. Construction fails fast on
// any invalid configuration value; nothing is partially built.
func New(cfg *config.Config, opts ...Option) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scanner{
		cfg:           cfg,
		uptime:        hostUptime,
		debounceDelay: defaultDebounceDelay,
		watchdogDelay: defaultWatchdogDelay,
		minimumUptime: defaultMinimumUptime,
		periodHours:   cfg.PollHours,
		results:       make(chan execute.Result, 16),
		events:        make(chan Event, 16),
		ctrl:          make(chan ctrlMsg),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.factory == nil {
		s.factory = func(cfg *config.Config, results chan<- execute.Result) probe.Strategy {
			return probe.ForHost(cfg, results)
		}
	}
	s.strategy = s.factory(cfg, s.results)

	watcher, err := watch.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	s.watcher = watcher
	s.changes = watcher.Changes()

	entries := make([]watch.Entry, 0, len(s.strategy.WatchFolders()))
	for _, folder := range s.strategy.WatchFolders() {
		entries = append(entries, watch.Entry{Target: folder})
	}
	if len(entries) > 0 {
		added, all, err := watcher.AddWatches(entries)
		if err != nil {
			_ = watcher.Terminate()
			return nil, err
		}
		for _, res := range added {
			klog.Infof("Watching %s: %v", res.Target, res.OK)
		}
		if !all {
			klog.Warningf("Some watch targets are unavailable; change-triggered rescans are limited")
		}
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Events returns the notification channel. The consumer must drain it;
// the channel is closed by Terminate.
func (s *Scanner) Events() <-chan Event {
	return s.events
}

// Start enables periodic scanning and triggers a scan. A Start during a
// running scan is coalesced into one debounced follow-up rescan.
func (s *Scanner) Start() {
	s.send(ctrlMsg{op: opStart})
}

// Stop cancels the periodic timer. It never interrupts an in-flight
// pipeline; a running scan completes or hits its watchdog.
func (s *Scanner) Stop() {
	s.send(ctrlMsg{op: opStop})
}

// Period returns the polling period in hours.
func (s *Scanner) Period() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periodHours
}

// SetPeriod updates the polling period in hours, range-validated.
func (s *Scanner) SetPeriod(hours float64) error {
	if hours < config.MinimumPollHours || hours > config.MaximumPollHours {
		return fmt.Errorf("period %.4f h out of range [%.4f, %.0f]", hours, config.MinimumPollHours, config.MaximumPollHours)
	}
	s.mu.Lock()
	s.periodHours = hours
	s.mu.Unlock()
	s.send(ctrlMsg{op: opReschedule})
	return nil
}

// MinimumPeriod returns the lower polling bound in hours.
func (s *Scanner) MinimumPeriod() float64 { return config.MinimumPollHours }

// MaximumPeriod returns the upper polling bound in hours.
func (s *Scanner) MaximumPeriod() float64 { return config.MaximumPollHours }

// Terminate stops the run loop and tears down the watcher. The events
// channel is closed once teardown completes.
func (s *Scanner) Terminate() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.watcher.Terminate()
		close(s.events)
	})
	return err
}

func (s *Scanner) send(msg ctrlMsg) {
	select {
	case s.ctrl <- msg:
	case <-s.done:
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (s *Scanner) run() {
	defer s.wg.Done()
	defer func() {
		stopTimer(s.periodTimer)
		stopTimer(s.debounceTimer)
		stopTimer(s.watchdogTimer)
		stopTimer(s.deferTimer)
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.ctrl:
			s.onControl(msg)
		case <-timerC(s.periodTimer):
			s.periodTimer = nil
			s.trigger("periodic timer")
		case <-timerC(s.deferTimer):
			s.deferTimer = nil
			s.beginScan("deferred startup")
		case <-timerC(s.debounceTimer):
			s.debounceTimer = nil
			s.trigger("debounced rescan")
		case <-timerC(s.watchdogTimer):
			s.watchdogTimer = nil
			s.onWatchdog()
		case res := <-s.results:
			s.onResult(res)
		case ch, ok := <-s.changes:
			if !ok {
				s.changes = nil
				continue
			}
			klog.V(1).Infof("Change detected: %s %s", ch.Type, ch.Name)
			s.scheduleDebounce()
		}
	}
}

func (s *Scanner) onControl(msg ctrlMsg) {
	switch msg.op {
	case opStart:
		s.periodicEnabled = true
		if !s.everStarted {
			s.everStarted = true
			if up, err := s.uptime(); err == nil && up < s.minimumUptime {
				// Volumes may still be mounting shortly after boot;
				// hold the first scan back until the host settled.
				delay := s.minimumUptime - up
				klog.Infof("Host uptime %s below %s, deferring first scan by %s", up, s.minimumUptime, delay)
				s.deferTimer = time.NewTimer(delay)
				return
			}
		}
		s.trigger("start request")
	case opStop:
		s.periodicEnabled = false
		stopTimer(s.periodTimer)
		s.periodTimer = nil
		stopTimer(s.deferTimer)
		s.deferTimer = nil
	case opReschedule:
		if s.periodTimer != nil {
			s.schedulePeriodic()
		}
	}
}

// trigger starts a scan now, or coalesces the request into the single
// pending debounce timer while one is already running.
func (s *Scanner) trigger(reason string) {
	if s.deferTimer != nil {
		return
	}
	if s.st == stateScanning {
		s.scheduleDebounce()
		return
	}
	s.beginScan(reason)
}

func (s *Scanner) scheduleDebounce() {
	stopTimer(s.debounceTimer)
	s.debounceTimer = time.NewTimer(s.debounceDelay)
}

func (s *Scanner) beginScan(reason string) {
	klog.Infof("Starting volume scan (%s)", reason)
	s.st = stateScanning
	s.volumes = nil
	s.emit(Event{Kind: EventScanning})

	stopTimer(s.watchdogTimer)
	s.watchdogTimer = time.NewTimer(s.watchdogDelay)

	s.strategy.Reset()
	if err := s.strategy.Initiate(); err != nil {
		klog.Warningf("Failed to start interrogation: %v", err)
		s.finishScan(nil)
	}
}

func (s *Scanner) onResult(res execute.Result) {
	if s.st != stateScanning {
		klog.V(1).Infof("Ignoring completion from %s outside a scan", res.Source)
		return
	}

	vols, err := s.strategy.HandleCompletion(res)
	if err != nil {
		klog.Warningf("Volume scan failed: %v", err)
		s.finishScan(nil)
		return
	}
	for _, v := range vols {
		v.LowSpaceAlert = s.lowSpaceAlert(v)
		s.volumes = append(s.volumes, v)
	}

	// Completion is level-triggered: re-evaluated after every reply, so
	// it is insensitive to arrival order.
	if !s.strategy.InProgress() {
		s.finishScan(s.volumes)
	}
}

func (s *Scanner) onWatchdog() {
	if s.st != stateScanning {
		return
	}
	klog.Warningf("Scan watchdog expired after %s, resetting", s.watchdogDelay)
	s.strategy.Reset()
	s.finishScan(nil)
}

// finishScan emits the single ready notification of this pass and
// returns to idle. It is only reachable while scanning, which keeps
// ready to exactly once per scan.
func (s *Scanner) finishScan(results []models.Volume) {
	stopTimer(s.watchdogTimer)
	s.watchdogTimer = nil
	s.st = stateIdle
	s.volumes = nil

	out := make([]models.Volume, len(results))
	copy(out, results)
	klog.Infof("Volume scan finished with %d volume(s)", len(out))
	s.emit(Event{Kind: EventReady, Results: out})

	if s.periodicEnabled {
		s.schedulePeriodic()
	}
}

func (s *Scanner) schedulePeriodic() {
	stopTimer(s.periodTimer)
	s.periodTimer = time.NewTimer(time.Duration(s.Period() * float64(time.Hour)))
}

func (s *Scanner) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// lowSpaceAlert applies the alert policy: the default threshold decides
// unless any customization matches the volume, in which case the
// matches replace the default entirely, even when that relaxes the
// alert to false.
func (s *Scanner) lowSpaceAlert(v models.Volume) bool {
	free := v.FreePercent()
	matched := false
	alert := false
	for _, c := range s.cfg.Customizations {
		if !c.Matches(v) {
			continue
		}
		matched = true
		if c.Active && free < c.ThresholdPercent {
			alert = true
		}
	}
	if matched {
		return alert
	}
	return free < s.cfg.DefaultThresholdPercent
}
