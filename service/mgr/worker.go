package mgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// WorkerCtx provides workers with the necessary environment for flow control
// and logging.
type WorkerCtx struct {
	name string

	ctx       context.Context
	cancelCtx context.CancelFunc

	logger *slog.Logger
}

// Name returns the worker name.
func (w *WorkerCtx) Name() string {
	return w.name
}

// Ctx returns the worker context.
// Is automatically canceled after the worker stops/returns, regardless of error.
func (w *WorkerCtx) Ctx() context.Context {
	return w.ctx
}

// Cancel cancels the worker context.
// Is automatically called after the worker stops/returns, regardless of error.
func (w *WorkerCtx) Cancel() {
	w.cancelCtx()
}

// Done returns the context Done channel.
func (w *WorkerCtx) Done() <-chan struct{} {
	return w.ctx.Done()
}

// IsDone checks whether the worker context is done.
func (w *WorkerCtx) IsDone() bool {
	return w.ctx.Err() != nil
}

// Logger returns the logger used by the worker context.
func (w *WorkerCtx) Logger() *slog.Logger {
	return w.logger
}

// Debug logs at LevelDebug.
// The worker context is automatically supplied.
func (w *WorkerCtx) Debug(msg string, args ...any) {
	w.logger.DebugContext(w.ctx, msg, args...)
}

// Info logs at LevelInfo.
// The worker context is automatically supplied.
func (w *WorkerCtx) Info(msg string, args ...any) {
	w.logger.InfoContext(w.ctx, msg, args...)
}

// Warn logs at LevelWarn.
// The worker context is automatically supplied.
func (w *WorkerCtx) Warn(msg string, args ...any) {
	w.logger.WarnContext(w.ctx, msg, args...)
}

// Error logs at LevelError.
// The worker context is automatically supplied.
func (w *WorkerCtx) Error(msg string, args ...any) {
	w.logger.ErrorContext(w.ctx, msg, args...)
}

// Go starts the given function in a goroutine (as a "worker").
// The worker context has
// - A separate context which is canceled when the functions returns.
// - Access to named structure logging.
// - Given function is re-run after failure (with backoff).
// - Panic catching.
func (m *Manager) Go(name string, fn func(w *WorkerCtx) error) {
	m.workerStart()
	go m.manageWorker(name, fn)
}

func (m *Manager) manageWorker(name string, fn func(w *WorkerCtx) error) {
	defer m.workerDone()

	w := &WorkerCtx{
		name:   name,
		logger: m.Logger().With("worker", name),
	}

	backoff := 100 * time.Millisecond
	failCnt := 0

	for {
		w.ctx = m.ctx
		panicInfo, err := m.runWorker(w, fn)
		switch {
		case err == nil:
			// No error means that the worker is finished.
			return

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// A canceled context or exceeded deadline also means that the worker is finished.
			return

		default:
			// Any other errors triggers a restart with backoff.

			// If manager is stopping, just log error and return.
			if m.IsDone() {
				w.Error("worker failed", "err", err, "file", panicInfo)
				return
			}

			// Count failure and increase backoff (up to limit),
			failCnt++
			backoff *= 2
			if backoff > time.Minute {
				backoff = time.Minute
			}

			w.Error(
				"worker failed",
				"failCnt", failCnt,
				"backoff", backoff,
				"err", err,
				"file", panicInfo,
			)
			select {
			case <-time.After(backoff):
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// Do directly executes the given function (as a "worker").
// Errors and panics are logged and returned, the function is not re-run.
func (m *Manager) Do(name string, fn func(w *WorkerCtx) error) error {
	w := &WorkerCtx{
		name:   name,
		ctx:    m.ctx,
		logger: m.Logger().With("worker", name),
	}

	m.workerStart()
	defer m.workerDone()

	panicInfo, err := m.runWorker(w, fn)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err

	default:
		w.Error("worker failed", "err", err, "file", panicInfo)
		return err
	}
}

func (m *Manager) runWorker(w *WorkerCtx, fn func(w *WorkerCtx) error) (panicInfo string, err error) {
	// Create worker context that is canceled when worker finished or dies.
	w.ctx, w.cancelCtx = context.WithCancel(w.ctx)
	defer w.Cancel()

	// Recover from panic.
	defer func() {
		panicVal := recover()
		if panicVal != nil {
			err = fmt.Errorf("panic: %s", panicVal)
			panicInfo = panicLocation(string(debug.Stack()))

			fmt.Fprintf(
				os.Stderr,
				"===== PANIC in worker %s =====\n%s\n=====  END  =====\n",
				w.name,
				panicVal,
			)
		}
	}()

	err = fn(w)
	return //nolint
}

// panicLocation finds the first "file:line" entry after the panic call in a
// stack trace.
func panicLocation(stackTrace string) string {
	stackLines := strings.Split(stackTrace, "\n")
	foundPanic := false
	for i, line := range stackLines {
		if !foundPanic {
			if strings.Contains(line, "panic(") {
				foundPanic = true
			}
			continue
		}
		if i+1 < len(stackLines) && strings.HasPrefix(line, "github.com/") {
			return strings.SplitN(strings.TrimSpace(stackLines[i+1]), " ", 2)[0]
		}
	}
	return ""
}
