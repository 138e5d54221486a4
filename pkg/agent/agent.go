// Package agent implements the generic worker runtime: claim a task by
// label, execute it (custom function or ReAct loop), account the outcome on
// the queue, drive fan-in on terminal transitions, and report liveness
// through heartbeats.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/trendwatch/trendwatch/pkg/fanin"
	"github.com/trendwatch/trendwatch/pkg/llm"
	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
	"github.com/trendwatch/trendwatch/pkg/queue"
	"github.com/trendwatch/trendwatch/pkg/tool"
)

// Executor runs one task and returns its outcome. Returning a *models.RetryLater
// (wrapped or direct) defers the task without consuming retry budget; any
// other error counts against it.
type Executor func(ctx context.Context, task *models.Task) (*models.Result, error)

// Default loop timings.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollJitter   = 500 * time.Millisecond
	DefaultTaskTimeout  = 10 * time.Minute
)

// Options configures an Agent.
type Options struct {
	// Name is the unique agent identity used for claims and heartbeats.
	Name string

	// Labels are the task classes this agent subscribes to.
	Labels []string

	// Queue is the shared task queue.
	Queue queue.TaskQueue

	// Progress is the progress store; required when FanIn is set.
	Progress progress.Store

	// Heartbeats receives the liveness record. Nil disables heartbeats.
	Heartbeats progress.HeartbeatStore

	// FanIn enables terminal-transition fan-in accounting. Nil disables it.
	FanIn fanin.Coordinator

	// Execute is the custom executor. When nil the agent runs the ReAct
	// loop, which requires AIEnabled, LLM, and Tools.
	Execute Executor

	// AIEnabled permits the ReAct fallback when Execute is nil.
	AIEnabled    bool
	LLM          llm.Client
	Tools        *tool.Registry
	SystemPrompt string
	// MaxSteps bounds the ReAct loop; 0 means DefaultMaxSteps.
	MaxSteps int

	// PollInterval is the sleep between empty pops; jitter desynchronizes
	// replicas subscribed to the same labels.
	PollInterval time.Duration
	PollJitter   time.Duration

	// TaskTimeout bounds a single execution. Should not exceed the queue
	// lease timeout or the sweeper will reclaim a task that is still running.
	TaskTimeout time.Duration

	// HeartbeatInterval overrides the default beat cadence (tests).
	HeartbeatInterval time.Duration
}

// Agent is a single-task-at-a-time worker process.
type Agent struct {
	opts     Options
	executor Executor
	log      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	state     models.AgentState
	current   *models.Task
	completed int
	failed    int
	startedAt time.Time
}

// New validates options and builds the agent. An agent with neither a custom
// executor nor AI enabled can never execute anything, so construction fails.
func New(opts Options) (*Agent, error) {
	if opts.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if len(opts.Labels) == 0 {
		return nil, fmt.Errorf("agent %s has no labels", opts.Name)
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("agent %s has no queue", opts.Name)
	}
	if opts.FanIn != nil && opts.Progress == nil {
		return nil, fmt.Errorf("agent %s: fan-in requires a progress store", opts.Name)
	}

	a := &Agent{
		opts:   opts,
		log:    slog.With("agent", opts.Name),
		stopCh: make(chan struct{}),
		state:  models.AgentStateIdle,
	}

	switch {
	case opts.Execute != nil:
		a.executor = opts.Execute
	case opts.AIEnabled:
		if opts.LLM == nil || opts.Tools == nil {
			return nil, fmt.Errorf("agent %s: ai execution requires an llm client and tools", opts.Name)
		}
		react := &ReactExecutor{
			LLM:          opts.LLM,
			Tools:        opts.Tools,
			SystemPrompt: opts.SystemPrompt,
			MaxSteps:     opts.MaxSteps,
		}
		a.executor = react.Execute
	default:
		return nil, fmt.Errorf("agent %s has no executor and ai is disabled", opts.Name)
	}

	if a.opts.PollInterval <= 0 {
		a.opts.PollInterval = DefaultPollInterval
	}
	if a.opts.PollJitter < 0 {
		a.opts.PollJitter = DefaultPollJitter
	}
	if a.opts.TaskTimeout <= 0 {
		a.opts.TaskTimeout = DefaultTaskTimeout
	}
	if a.opts.HeartbeatInterval <= 0 {
		a.opts.HeartbeatInterval = progress.HeartbeatInterval
	}
	return a, nil
}

// Start launches the poll loop and heartbeat loop.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	a.startedAt = time.Now().UTC()
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(ctx)

	if a.opts.Heartbeats != nil {
		a.wg.Add(1)
		go a.runHeartbeat(ctx)
	}
}

// Stop signals shutdown and waits for the in-flight task to finish. Safe to
// call multiple times.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

// Name returns the agent identity.
func (a *Agent) Name() string { return a.opts.Name }

// Snapshot returns the current heartbeat view of the agent.
func (a *Agent) Snapshot() *models.Heartbeat {
	a.mu.Lock()
	defer a.mu.Unlock()
	hb := &models.Heartbeat{
		Name:           a.opts.Name,
		Labels:         a.opts.Labels,
		Status:         a.state,
		TasksCompleted: a.completed,
		TasksFailed:    a.failed,
		StartedAt:      a.startedAt,
	}
	if a.current != nil {
		hb.CurrentTaskID = a.current.ID
		hb.CurrentTaskLabel = a.current.Label
	}
	return hb
}

func (a *Agent) run(ctx context.Context) {
	defer a.wg.Done()
	a.log.Info("Agent started", "labels", a.opts.Labels)

	for {
		select {
		case <-a.stopCh:
			a.log.Info("Agent shutting down")
			return
		case <-ctx.Done():
			a.log.Info("Context cancelled, agent shutting down")
			return
		default:
			if err := a.pollAndProcess(ctx); err != nil {
				if errors.Is(err, queue.ErrNoTasks) {
					a.sleep(a.pollInterval())
					continue
				}
				a.log.Error("Error processing task", "error", err)
				a.sleep(time.Second) // brief backoff on queue errors
			}
		}
	}
}

// sleep waits for d or until stop is signalled.
func (a *Agent) sleep(d time.Duration) {
	select {
	case <-a.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with jitter.
func (a *Agent) pollInterval() time.Duration {
	base, jitter := a.opts.PollInterval, a.opts.PollJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

// pollAndProcess claims one task, executes it, and accounts the outcome.
func (a *Agent) pollAndProcess(ctx context.Context) error {
	task, err := a.opts.Queue.Pop(ctx, a.opts.Labels, a.opts.Name)
	if err != nil {
		return err
	}

	log := a.log.With("task_id", task.ID, "label", task.Label)
	log.Info("Task claimed", "retry_count", task.RetryCount)

	a.setCurrent(task)
	defer a.setCurrent(nil)

	taskCtx, cancel := context.WithTimeout(ctx, a.opts.TaskTimeout)
	defer cancel()

	result, execErr := a.executor(taskCtx, task)

	// Accounting runs on a background context: the task context may already
	// be cancelled, and losing the transition would strand a claimed task
	// until lease reclaim.
	acctCtx, acctCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer acctCancel()

	if execErr != nil {
		var retry *models.RetryLater
		if errors.As(execErr, &retry) {
			log.Info("Task deferred", "delay", retry.Delay, "reason", retry.Reason)
			return a.opts.Queue.RequeueDelayed(acctCtx, task, retry.Delay)
		}

		terminal, failErr := a.opts.Queue.MarkFailed(acctCtx, task, execErr.Error())
		if failErr != nil {
			return failErr
		}
		if !terminal {
			log.Warn("Task failed, requeued", "error", execErr, "retry_count", task.RetryCount)
			return nil
		}
		log.Error("Task failed terminally", "error", execErr, "retry_count", task.RetryCount)
		a.bump(false)
		a.noteEntityError(acctCtx, task, execErr)
		return a.fanInTerminal(acctCtx, task)
	}

	if result == nil {
		result = &models.Result{}
	}
	if err := a.opts.Queue.MarkDone(acctCtx, task, result.Data); err != nil {
		return err
	}
	if err := a.pushChildren(acctCtx, task, result.NewTasks); err != nil {
		log.Error("Failed to push child tasks", "error", err)
	}

	log.Info("Task completed", "new_tasks", len(result.NewTasks))
	a.bump(true)
	return a.fanInTerminal(acctCtx, task)
}

// pushChildren enqueues result.NewTasks, stamping provenance, and records
// the child ids on the parent's entity task set when one exists.
func (a *Agent) pushChildren(ctx context.Context, parent *models.Task, children []*models.Task) error {
	if len(children) == 0 {
		return nil
	}
	ids := make([]string, 0, len(children))
	for _, child := range children {
		child.FromAgent = a.opts.Name
		if child.ParentJobID == "" {
			child.ParentJobID = parent.ParentJobID
		}
		if err := a.opts.Queue.Push(ctx, child); err != nil {
			return fmt.Errorf("pushing child %s: %w", child.Label, err)
		}
		ids = append(ids, child.ID)
	}
	if a.opts.Progress == nil {
		return nil
	}
	if ref, ok := parent.Entity(); ok {
		if err := a.opts.Progress.ReplaceTaskSet(ctx, ref, ids); err != nil {
			return fmt.Errorf("recording child tasks for %s %s: %w", ref.Type, ref.ID, err)
		}
	}
	return nil
}

// noteEntityError records a terminal failure on the entity progress record.
func (a *Agent) noteEntityError(ctx context.Context, task *models.Task, execErr error) {
	if a.opts.Progress == nil {
		return
	}
	ref, ok := task.Entity()
	if !ok {
		return
	}
	if err := a.opts.Progress.SetError(ctx, ref, execErr.Error()); err != nil {
		a.log.Warn("Failed to record entity error", "task_id", task.ID, "error", err)
	}
}

// fanInTerminal runs the fan-in step for a task that just reached a terminal
// state. Tasks without an entity reference are skipped silently.
func (a *Agent) fanInTerminal(ctx context.Context, task *models.Task) error {
	if a.opts.FanIn == nil {
		return nil
	}
	ref, ok := task.Entity()
	if !ok {
		return nil
	}

	out, err := a.opts.FanIn.TaskTerminal(ctx, ref)
	if err != nil {
		return fmt.Errorf("fan-in for task %s: %w", task.ID, err)
	}
	if !out.Complete {
		return nil
	}

	a.cleanupTaskSet(ctx, ref)

	if out.Continuation == nil {
		return nil
	}
	cont := models.NewTask(out.Continuation.Label, out.Continuation.Payload)
	cont.ParentJobID = task.ParentJobID
	cont.FromAgent = a.opts.Name
	if err := a.opts.Queue.Push(ctx, cont); err != nil {
		return fmt.Errorf("pushing continuation %s: %w", cont.Label, err)
	}
	if out.Continuation.NextPhase != "" {
		if err := a.opts.Progress.SetPhase(ctx, ref, out.Continuation.NextPhase); err != nil {
			a.log.Warn("Failed to set continuation phase", "error", err)
		}
	}
	a.log.Info("Fan-in complete, continuation pushed",
		"entity_type", ref.Type, "entity_id", ref.ID, "label", cont.Label)
	return nil
}

// cleanupTaskSet deletes per-task progress for the fanned-in children and
// then the set itself.
func (a *Agent) cleanupTaskSet(ctx context.Context, ref models.EntityRef) {
	ids, err := a.opts.Progress.TaskSet(ctx, ref)
	if err != nil {
		a.log.Warn("Failed to read entity task set", "error", err)
		return
	}
	for _, id := range ids {
		if err := a.opts.Progress.DeleteTaskProgress(ctx, id); err != nil {
			a.log.Warn("Failed to delete task progress", "task_id", id, "error", err)
		}
	}
	if err := a.opts.Progress.DeleteTaskSet(ctx, ref); err != nil {
		a.log.Warn("Failed to delete entity task set", "error", err)
	}
}

func (a *Agent) setCurrent(task *models.Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = task
	if task != nil {
		a.state = models.AgentStateBusy
	} else {
		a.state = models.AgentStateIdle
	}
}

func (a *Agent) bump(completed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if completed {
		a.completed++
	} else {
		a.failed++
	}
}

// runHeartbeat writes the liveness record on a fixed cadence and deletes it
// on shutdown.
func (a *Agent) runHeartbeat(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.HeartbeatInterval)
	defer ticker.Stop()

	a.beat(ctx)
	for {
		select {
		case <-a.stopCh:
			a.deleteHeartbeat()
			return
		case <-ctx.Done():
			a.deleteHeartbeat()
			return
		case <-ticker.C:
			a.beat(ctx)
		}
	}
}

func (a *Agent) beat(ctx context.Context) {
	if err := a.opts.Heartbeats.Beat(ctx, a.Snapshot()); err != nil {
		a.log.Warn("Heartbeat write failed", "error", err)
	}
}

func (a *Agent) deleteHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.opts.Heartbeats.Delete(ctx, a.opts.Name); err != nil {
		a.log.Warn("Heartbeat delete failed", "error", err)
	}
}
