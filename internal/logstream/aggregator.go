package logstream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Aggregator merges the output streams of all worker instances into a single
// rotating log file, tagging every line with the instance index. Streams are
// acquired at spawn time and drained until the worker's pipes close, so a
// crashing worker still gets its last lines flushed.
type Aggregator struct {
	mu     sync.Mutex
	sink   io.WriteCloser
	logger *zap.SugaredLogger
	wg     sync.WaitGroup
	closed bool
}

// NewAggregator opens the merged log sink under logDir. Rotation settings are
// optional; a zero LogRotation leaves the sink library defaults in place.
func NewAggregator(logDir, appName string, rotation models.LogRotation, logger *zap.SugaredLogger) (*Aggregator, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %v", logDir, err)
	}

	sink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, appName+".log"),
		MaxSize:    rotation.MaxSizeMB,
		MaxAge:     rotation.MaxAgeDays,
		MaxBackups: rotation.MaxBackups,
	}

	return &Aggregator{
		sink:   sink,
		logger: logger,
	}, nil
}

// Attach starts draining r into the merged log as worker index's stream.
// The goroutine exits when r is exhausted, which happens when the worker
// process ends for any reason.
func (a *Aggregator) Attach(index int, r io.Reader) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			a.writeLine(index, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			a.logger.Warnf("worker %d log stream ended with error: %v", index, err)
		}
	}()
}

func (a *Aggregator) writeLine(index int, line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	stamp := time.Now().Format(time.RFC3339)
	if _, err := fmt.Fprintf(a.sink, "%s [worker-%d] %s\n", stamp, index, line); err != nil {
		a.logger.Warnf("failed to write worker %d log line: %v", index, err)
	}
}

// Wait blocks until all attached streams are drained.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}

// Close waits for attached streams to drain, then flushes and releases the
// sink. Safe to call once during shutdown.
func (a *Aggregator) Close() error {
	a.wg.Wait()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.sink.Close()
}
