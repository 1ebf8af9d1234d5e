// Package shutdown handles fatal exits and signal-driven cancellation.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chatrelay/pkg/logger"
)

// Abort logs a fatal startup error, writes a crash dump next to the data
// directory and exits. The short delay gives log sinks time to flush.
func Abort(contextMsg string, err error, dbPath string) {
	logger.Log.Error("startup_fatal", zap.String("msg", contextMsg), zap.Error(err))
	if path, derr := writeCrashDump(dbPath, contextMsg, err); derr != nil {
		fmt.Fprintf(os.Stderr, "failed to write crash dump: %v\n", derr)
	} else {
		logger.Log.Error("crash_dump_written", zap.String("path", path))
		fmt.Fprintf(os.Stderr, "crash dump written: %s\n", path)
	}
	logger.Sync()
	time.Sleep(2 * time.Second)
	os.Exit(2)
}

// writeCrashDump records the error, environment and goroutine stacks into
// <dbPath>/state/crash. The dump is staged in a temp file and renamed so a
// partial write never looks like a complete dump.
func writeCrashDump(dbPath, reason string, cause error) (string, error) {
	dir := "./crash"
	if dbPath != "" {
		dir = filepath.Join(dbPath, "state", "crash")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, ".crash-*.tmp")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", cause)
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, _ = f.Write(buf[:n])
	_ = f.Sync()
	_ = f.Close()

	path := filepath.Join(dir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Log.Info("signal_received", zap.String("signal", s.String()))
		cancel()
	}()
	return ctx, cancel
}
