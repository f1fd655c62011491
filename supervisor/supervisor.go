// Package supervisor owns the background-task lifecycle spec §4.J
// describes: starting each long-running loop (block-walk sync, peer-graph
// sync, the job-tracker sweep, the HTTP client pool recycler), restarting
// it if it panics, and joining all of them on shutdown.
//
// Generalizes cli/root.go's single-goroutine HTTP-server pattern (start in
// background, log, wait for a shutdown signal, then shut down with a
// timeout) to several independently-supervised loops, since indexd has no
// HTTP server of its own to anchor that pattern on.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oip.network/indexd/logging"
)

// restartBackoff bounds the pause between panic-restarts of the same task,
// mirroring blockwalk's doubling-backoff shape but capped low — a
// panic-looping task should be visible in logs quickly, not silently
// throttled for minutes.
const (
	initialRestartBackoff = 1 * time.Second
	maxRestartBackoff      = 30 * time.Second
)

// Task is one long-running loop the Supervisor owns. Run must return
// (not just loop forever) once ctx is cancelled; a non-nil error before
// ctx is done is treated as a crash and restarted.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor starts every registered Task in its own goroutine and blocks
// in Run until ctx is cancelled, then waits for all tasks to return
// (join-on-shutdown) before returning itself.
type Supervisor struct {
	tasks []Task
	log   *logging.Fields
}

func New() *Supervisor {
	return &Supervisor{log: logging.New("supervisor")}
}

// Add registers a background task. Call before Run; Add after Run has
// started has no effect.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Run starts every task, blocks until ctx is cancelled, and waits for all
// of them to return before returning.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.superviseOne(ctx, t)
		}(t)
	}
	s.log.Infof("started %d background tasks", len(s.tasks))
	wg.Wait()
	s.log.Info("all background tasks joined")
}

func (s *Supervisor) superviseOne(ctx context.Context, t Task) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx, t)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.log.Infof("task %s exited cleanly, not restarting", t.Name)
			return
		}
		attempt++
		backoff := restartBackoff(attempt)
		s.log.Errorf("task %s crashed (attempt %d), restarting in %s: %v", t.Name, attempt, backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// runOnce invokes t.Run, converting a panic into an error so one crashing
// task can't take the whole process down.
func (s *Supervisor) runOnce(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v", t.Name, r)
		}
	}()
	return t.Run(ctx)
}

func restartBackoff(attempt int) time.Duration {
	d := initialRestartBackoff * time.Duration(int64(1)<<uint(attempt-1))
	if d > maxRestartBackoff || d <= 0 {
		return maxRestartBackoff
	}
	return d
}

// StopChan adapts a context to the stop-channel idiom resource.Pool and
// jobs.Tracker use for their own loops, so both styles can be registered
// as Tasks without changing either package's signature.
func StopChan(fn func(stop <-chan struct{})) func(context.Context) error {
	return func(ctx context.Context) error {
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			fn(stop)
			close(done)
		}()
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return nil
		case <-done:
			return nil
		}
	}
}
