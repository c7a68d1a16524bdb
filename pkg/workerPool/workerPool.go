// Package workerpool runs crash report sends as fire-and-forget background
// tasks and provides a bounded fan-out for publishing one event to many
// relays at once. Task panics are captured and logged; nothing submitted
// here can ever fail the host process.
package workerpool

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ErrFanOutTimeout marks a fan-out target that did not finish before the
// join timeout.
var ErrFanOutTimeout = errors.New("workerpool: fan-out target timed out")

type Pool struct {
	log       *slog.Logger
	taskQueue chan func()
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
	Logger       *slog.Logger
}

// New starts the workers. Zero WorkerCount defaults to three per CPU, zero
// GlobalBuffer to 10000 queued tasks.
func New(config Config) *Pool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	p := &Pool{
		log:       config.Logger,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	for task := range p.taskQueue {
		p.runGuarded(task)
	}
}

// runGuarded executes one task and converts a panic into a log entry.
func (p *Pool) runGuarded(task func()) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("background task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}

// Submit queues a task for background execution. It blocks only when the
// global buffer is full. The task's outcome is never reported back to the
// caller; failures must be logged by the task itself. Tasks submitted
// after Close are dropped.
func (p *Pool) Submit(task func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.log.Debug("task dropped, pool closed")
		return
	}
	p.wg.Add(1)
	p.taskQueue <- task
}

// Wait blocks until every submitted task has finished. Intended for tests
// and orderly shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting tasks and lets the workers drain. Safe to call
// more than once and concurrently with Submit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	close(p.taskQueue)
}

// FanOutResult is the per-target outcome of a FanOut call.
type FanOutResult struct {
	Target string
	Err    error
}

// FanOut runs fn for every target in parallel and joins with a shared
// timeout, so one unreachable target cannot stall the rest indefinitely.
// Targets that miss the deadline are reported with ErrFanOutTimeout; their
// goroutines are left to finish on their own. A panic inside fn surfaces
// as that target's error.
func (p *Pool) FanOut(targets []string, timeout time.Duration, fn func(target string) error) []FanOutResult {
	results := make([]FanOutResult, len(targets))
	type indexed struct {
		i   int
		err error
	}
	done := make(chan indexed, len(targets))

	for i, target := range targets {
		results[i] = FanOutResult{Target: target, Err: ErrFanOutTimeout}
		go func(i int, target string) {
			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("workerpool: fan-out panicked: %v", r)
					}
				}()
				err = fn(target)
			}()
			done <- indexed{i: i, err: err}
		}(i, target)
	}

	deadline := time.After(timeout)
	for finished := 0; finished < len(targets); finished++ {
		select {
		case d := <-done:
			results[d.i].Err = d.err
		case <-deadline:
			return results
		}
	}
	return results
}
