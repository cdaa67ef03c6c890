package reporter

import (
	"context"
	"github.com/robfig/cron/v3"
	"log/slog"
	"time"
)

// Start reports every Interval until Stop is called or ctx is done.
// A tick that is still running when the next one is due causes that one to be skipped,
// so ticks never overlap. Tick errors are logged.
func (r *Reporter) Start(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.running {
		return ErrAlreadyStarted
	}

	logger := cronLogger{r.logger}
	r.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	r.cron.Schedule(cron.Every(r.config.Interval), cron.FuncJob(func() {
		r.tick(ctx)
	}))
	r.cron.Start()
	r.running = true
	done := make(chan struct{})
	r.done = done

	r.logger.Info("reporter started", "interval", r.config.Interval)

	go func() {
		select {
		case <-ctx.Done():
			r.stopRun(done)
		case <-done:
		}
	}()

	return nil
}

// Stop stops scheduling and waits for a running tick to complete.
func (r *Reporter) Stop() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.stopLocked()
}

// stopRun stops only the run identified by done, a later Start is left alone.
func (r *Reporter) stopRun(done chan struct{}) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.done == done {
		r.stopLocked()
	}
}

func (r *Reporter) stopLocked() {
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	close(r.done)
	r.running = false
	r.logger.Info("reporter stopped")
}

func (r *Reporter) IsRunning() bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.running
}

func (r *Reporter) tick(ctx context.Context) {
	if err := r.ReportNow(ctx, time.Time{}); err != nil {
		r.logger.Warn("failed to report metrics", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
