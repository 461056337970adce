package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vmfltlwms/rollout/internal/logstream"
	"github.com/vmfltlwms/rollout/pkg/models"
)

// workerProcess wraps the OS process behind one worker instance. The stopped
// flag distinguishes deliberate termination from a crash so the exit observer
// knows which one it saw.
type workerProcess struct {
	index int
	cmd   *exec.Cmd
	done  chan struct{}

	mu      sync.Mutex
	stopped bool
	waitErr error
}

// launchWorker spawns the worker process for index with the spec's command,
// working directory, and environment, handing its output streams to the log
// aggregator. The returned process has a goroutine waiting on its exit.
func launchWorker(spec *models.AppSpec, index int, aggregator *logstream.Aggregator) (*workerProcess, error) {
	parts := strings.Fields(spec.Command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("entry command is empty")
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Dir = spec.WorkDir

	env := os.Environ()
	for key, value := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	env = append(env, fmt.Sprintf("PORT=%d", spec.PortFor(index)))
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to capture stdout: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to capture stderr: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %v", err)
	}

	aggregator.Attach(index, stdout)
	aggregator.Attach(index, stderr)

	proc := &workerProcess{
		index: index,
		cmd:   cmd,
		done:  make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		proc.mu.Lock()
		proc.waitErr = err
		proc.mu.Unlock()
		close(proc.done)
	}()

	return proc, nil
}

// pid returns the OS process id.
func (w *workerProcess) pid() int {
	return w.cmd.Process.Pid
}

// alive reports whether the process has not exited yet.
func (w *workerProcess) alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// markStopped flags the upcoming exit as deliberate.
func (w *workerProcess) markStopped() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

// wasStopped reports whether the process was terminated deliberately.
func (w *workerProcess) wasStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// exitErr returns the error cmd.Wait observed, if any.
func (w *workerProcess) exitErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waitErr
}

// signalTerm asks the process to shut down gracefully.
func (w *workerProcess) signalTerm() error {
	return w.cmd.Process.Signal(syscall.SIGTERM)
}

// kill force-terminates the process.
func (w *workerProcess) kill() error {
	return w.cmd.Process.Kill()
}

// waitDone blocks until the process exits or the duration elapses, reporting
// whether it exited.
func (w *workerProcess) waitDone(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}
