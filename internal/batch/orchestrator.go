package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Orchestrator runs a batch of commands on a pool of workers sharing one Runner.
type Orchestrator struct {
	commands []string
	runner   Runner
	config   Config

	// onResult is called once per command, in input order.
	onResult func(ItemResult)
}

// NewOrchestrator creates an orchestrator for commands.
func NewOrchestrator(commands []string, runner Runner, cfg Config) *Orchestrator {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	return &Orchestrator{
		commands: commands,
		runner:   runner,
		config:   cfg,
	}
}

// OnResult registers a callback invoked for each command in input order, as
// soon as it and every command before it have finished.
func (o *Orchestrator) OnResult(fn func(ItemResult)) {
	o.onResult = fn
}

// Run executes every command and blocks until all have finished or been
// skipped. ctx is handed to each run; cancelling it aborts in-flight commands
// as timeouts. FailFast only stops new commands from starting.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	startTime := time.Now()
	if len(o.commands) == 0 {
		return &Result{}
	}

	// Work queue: workers pull indexes until it drains.
	queue := make(chan int, len(o.commands))
	for i := range o.commands {
		queue <- i
	}
	close(queue)

	numWorkers := o.config.MaxParallel
	if numWorkers > len(o.commands) {
		numWorkers = len(o.commands)
	}

	results := make(chan ItemResult, len(o.commands))
	var failed atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, queue, results, &failed)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	items := make([]ItemResult, len(o.commands))
	seen := make([]bool, len(o.commands))
	next := 0
	for r := range results {
		items[r.Index] = r
		seen[r.Index] = true
		for next < len(items) && seen[next] {
			o.emit(items[next])
			next++
		}
	}

	return buildResult(items, time.Since(startTime))
}

func (o *Orchestrator) worker(ctx context.Context, queue <-chan int, results chan<- ItemResult, failed *atomic.Bool) {
	for i := range queue {
		item := ItemResult{Index: i, Command: o.commands[i]}

		if o.config.FailFast && failed.Load() {
			item.Skipped = true
			results <- item
			continue
		}

		start := time.Now()
		item.Result, item.Error = o.runner.Run(ctx, item.Command, o.config.Timeout)
		item.Duration = time.Since(start)

		if !item.Success() {
			failed.Store(true)
		}
		results <- item
	}
}

func (o *Orchestrator) emit(r ItemResult) {
	if o.onResult != nil {
		o.onResult(r)
	}
}

func buildResult(items []ItemResult, duration time.Duration) *Result {
	result := &Result{Items: items, Duration: duration}
	for i := range items {
		switch {
		case items[i].Skipped:
			result.Skipped++
		case items[i].Success():
			result.Passed++
		default:
			result.Failed++
		}
	}
	return result
}
