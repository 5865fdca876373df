package queue

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// Processor drains the task queue and routes each task to the executor
// registered for its type. A single goroutine polls the queue; executors run
// inline so at most one task is in flight at a time. Long phases inside a
// task get their own worker pools.
type Processor struct {
	queue             interfaces.TaskQueue
	executors         map[string]interfaces.TaskExecutor
	pollInterval      time.Duration
	visibilityTimeout time.Duration
	logger            arbor.ILogger
	ctx               context.Context
	cancel            context.CancelFunc
	wg                sync.WaitGroup
	running           bool
	mu                sync.Mutex
}

// NewProcessor creates a task processor. Executors must be registered before
// Start.
func NewProcessor(queue interfaces.TaskQueue, pollInterval, visibilityTimeout time.Duration, logger arbor.ILogger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}

	return &Processor{
		queue:             queue,
		executors:         make(map[string]interfaces.TaskExecutor),
		pollInterval:      pollInterval,
		visibilityTimeout: visibilityTimeout,
		logger:            logger,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// RegisterExecutor registers the executor for a task type.
func (p *Processor) RegisterExecutor(taskType string, executor interfaces.TaskExecutor) {
	p.executors[taskType] = executor
	p.logger.Info().
		Str("task_type", taskType).
		Msg("Task executor registered")
}

// Start starts the processing loop. Call after all services are initialized
// so executors never see a half-built dependency graph.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn().Msg("Task processor already running")
		return nil
	}

	p.running = true
	p.logger.Info().Msg("Starting task processor")

	p.wg.Add(1)
	go p.processLoop()
	return nil
}

// Stop stops the processor and waits for the in-flight task to finish.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info().Msg("Stopping task processor...")
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Task processor stopped")
	return nil
}

func (p *Processor) processLoop() {
	defer p.wg.Done()

	p.logger.Info().Msg("Task processor loop started")

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Info().Msg("Task processor loop stopping")
			return
		default:
		}

		task, ack, err := p.queue.Receive(p.ctx)
		if err != nil {
			// Empty queue, sleep one poll interval.
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.handleTask(task, ack)
	}
}

func (p *Processor) handleTask(task *models.QueueTask, ack func() error) {
	p.logger.Info().
		Str("task_id", task.ID).
		Str("task_type", task.Type).
		Msg("Processing task from queue")

	executor, ok := p.executors[task.Type]
	if !ok {
		p.logger.Error().
			Str("task_id", task.ID).
			Str("task_type", task.Type).
			Msg("No executor registered for task type")
		if err := ack(); err != nil {
			p.logger.Error().Err(err).Msg("Failed to ack unroutable task")
		}
		return
	}

	// Keep the task invisible while the executor works. Without the
	// heartbeat a task that outlives the visibility timeout would be
	// delivered a second time mid-execution.
	heartbeatDone := make(chan struct{})
	heartbeatStopped := make(chan struct{})
	go p.heartbeat(task.ID, heartbeatDone, heartbeatStopped)

	err := p.executeTask(executor, task)

	close(heartbeatDone)
	<-heartbeatStopped

	if err != nil {
		p.logger.Error().
			Err(err).
			Str("task_id", task.ID).
			Str("task_type", task.Type).
			Msg("Task execution failed")
	} else {
		p.logger.Info().
			Str("task_id", task.ID).
			Str("task_type", task.Type).
			Msg("Task completed")
	}

	// Executors record their outcome on the job records they own, so the
	// task is acked on both paths rather than redelivered.
	if err := ack(); err != nil {
		p.logger.Error().
			Err(err).
			Str("task_id", task.ID).
			Msg("Failed to ack task")
	}
}

// executeTask runs the executor with panic containment so one bad task
// cannot take down the processing loop.
func (p *Processor) executeTask(executor interfaces.TaskExecutor, task *models.QueueTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			p.logger.Error().
				Str("task_id", task.ID).
				Str("task_type", task.Type).
				Str("stack", string(buf[:n])).
				Msgf("Executor panic: %v", r)
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	return executor.Execute(p.ctx, task)
}

func (p *Processor) heartbeat(taskID string, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := p.visibilityTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Extend(context.Background(), taskID, p.visibilityTimeout); err != nil {
				p.logger.Warn().
					Err(err).
					Str("task_id", taskID).
					Msg("Failed to extend task visibility")
			}
		}
	}
}
