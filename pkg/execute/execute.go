// Package execute spawns single external commands and reports each
// completion exactly once on a result channel, isolating subprocess
// plumbing from the parsing and correlation logic above it.
package execute

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

var (
	// ErrAlreadyPending is returned when Run is called while a previous
	// invocation on the same executor has not completed yet.
	ErrAlreadyPending = errors.New("command execution already pending")
	// ErrEmptyCommand is returned for a request without a command.
	ErrEmptyCommand = errors.New("command must be a non-empty string")
)

// Request describes one external command invocation. The spawned argv
// is Command followed by Options and then Args. Token is an opaque
// correlation value echoed back on the Result.
type Request struct {
	Command string
	Options []string
	Args    []string
	Token   uint64
	Source  string
}

// Result reports the outcome of one invocation. Valid is true only if
// the process exited cleanly and wrote nothing to its error stream.
// Payload holds the accumulated stdout bytes on success, otherwise the
// stderr bytes (or the process-level error text).
type Result struct {
	Valid   bool
	Payload []byte
	Stderr  []byte
	Token   uint64
	Source  string
}

// Executor runs one command at a time and delivers its Result on the
// channel bound at construction. Delivery always happens from the
// reaper goroutine, never synchronously from the Run call.
type Executor struct {
	mu      sync.Mutex
	pending bool
	results chan<- Result
}

// NewExecutor creates an executor bound to the given result channel.
func NewExecutor(results chan<- Result) *Executor {
	return &Executor{results: results}
}

// Pending reports whether an invocation is currently outstanding.
func (e *Executor) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Run validates the request, spawns the command and returns. Validation
// happens fully before the process is spawned, so a rejected request
// has no side effect.
func (e *Executor) Run(req Request) error {
	if strings.TrimSpace(req.Command) == "" {
		return ErrEmptyCommand
	}
	if req.Source == "" {
		req.Source = req.Command
	}

	e.mu.Lock()
	if e.pending {
		e.mu.Unlock()
		return ErrAlreadyPending
	}
	e.pending = true
	e.mu.Unlock()

	argv := make([]string, 0, 1+len(req.Options)+len(req.Args))
	argv = append(argv, req.Command)
	argv = append(argv, req.Options...)
	argv = append(argv, req.Args...)

	cmd := exec.Command(argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	go func() {
		klog.V(1).Infof("Executing command: %v", argv)
		err := cmd.Run()

		exitCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		klog.V(1).Infof("Exit code: %d", exitCode)
		if stdout.Len() > 0 {
			klog.V(1).Infof("stdout: %s", stdout.String())
		}
		if stderr.Len() > 0 {
			klog.V(1).Infof("stderr: %s", stderr.String())
		}

		res := Result{Token: req.Token, Source: req.Source}
		if err == nil && stderr.Len() == 0 {
			res.Valid = true
			res.Payload = stdout.Bytes()
		} else {
			res.Stderr = stderr.Bytes()
			res.Payload = stderr.Bytes()
			if len(res.Payload) == 0 && err != nil {
				res.Payload = []byte(err.Error())
			}
		}

		e.mu.Lock()
		e.pending = false
		e.mu.Unlock()

		e.results <- res
	}()

	return nil
}
