// Package analyst implements the planning and integration executors. An
// analyze task plans per-entity monitoring work and fans out crawler and
// searcher children; the staged summarize continuation integrates their
// results once the last child finishes.
package analyst

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trendwatch/trendwatch/pkg/agent"
	"github.com/trendwatch/trendwatch/pkg/fanin"
	"github.com/trendwatch/trendwatch/pkg/llm"
	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
	"github.com/trendwatch/trendwatch/pkg/slack"
	"github.com/trendwatch/trendwatch/pkg/tool"
)

// LabelAnalyze and LabelSummarize are the task classes the analyst serves.
const (
	LabelAnalyze   = "analyst:analyze"
	LabelSummarize = "analyst:summarize"
)

// Analyst builds the custom executor for analyst tasks.
type Analyst struct {
	react    *agent.ReactExecutor
	progress progress.Store
	fanIn    fanin.Coordinator
	notifier *slack.Service
}

// New creates the analyst over the shared LLM, tools, progress store, and
// fan-in coordinator. notifier may be nil (Slack notifications disabled).
func New(client llm.Client, tools *tool.Registry, prog progress.Store, coord fanin.Coordinator, notifier *slack.Service, systemPrompt string, maxSteps int) *Analyst {
	return &Analyst{
		react: &agent.ReactExecutor{
			LLM:          client,
			Tools:        tools,
			SystemPrompt: systemPrompt,
			MaxSteps:     maxSteps,
		},
		progress: prog,
		fanIn:    coord,
		notifier: notifier,
	}
}

// Execute dispatches by task label.
func (a *Analyst) Execute(ctx context.Context, task *models.Task) (*models.Result, error) {
	switch task.Label {
	case LabelAnalyze:
		return a.analyze(ctx, task)
	case LabelSummarize:
		return a.summarize(ctx, task)
	default:
		return nil, fmt.Errorf("analyst cannot handle label %q", task.Label)
	}
}

// analyze plans the entity's monitoring round. The model decides which
// targets to visit; this wrapper owns the phase transitions and the fan-in
// staging around the plan.
func (a *Analyst) analyze(ctx context.Context, task *models.Task) (*models.Result, error) {
	ref, ok := task.Entity()
	if !ok {
		return nil, fmt.Errorf("analyze task %s has no topic_id or user_id", task.ID)
	}

	if err := a.progress.SetPhase(ctx, ref, models.PhaseAnalyzing); err != nil {
		return nil, fmt.Errorf("setting analyzing phase: %w", err)
	}

	result, err := a.react.Execute(ctx, task)
	if err != nil {
		return nil, err
	}

	children := result.NewTasks
	if len(children) == 0 {
		// Nothing to crawl: go straight to integration, no fan-in needed.
		slog.Info("Analyze plan produced no children, summarizing directly",
			"entity_type", ref.Type, "entity_id", ref.ID)
		result.NewTasks = []*models.Task{models.NewTask(LabelSummarize, entityPayload(ref))}
		if err := a.progress.SetPhase(ctx, ref, models.PhaseSummarizing); err != nil {
			return nil, fmt.Errorf("setting summarizing phase: %w", err)
		}
		return result, nil
	}

	// Stage the continuation and counter before the runtime pushes the
	// children; a child cannot terminate before it is pushed.
	cont := &models.Continuation{
		Label:     LabelSummarize,
		Payload:   entityPayload(ref),
		NextPhase: models.PhaseSummarizing,
	}
	if err := a.fanIn.Stage(ctx, ref, cont, len(children)); err != nil {
		return nil, fmt.Errorf("staging fan-in: %w", err)
	}
	if err := a.progress.SetCrawling(ctx, ref, len(children)); err != nil {
		return nil, fmt.Errorf("setting crawling phase: %w", err)
	}

	slog.Info("Analyze plan staged", "entity_type", ref.Type, "entity_id", ref.ID,
		"children", len(children))
	return result, nil
}

// summarize integrates what the children collected and closes the round.
func (a *Analyst) summarize(ctx context.Context, task *models.Task) (*models.Result, error) {
	ref, ok := task.Entity()
	if !ok {
		return nil, fmt.Errorf("summarize task %s has no topic_id or user_id", task.ID)
	}

	result, err := a.react.Execute(ctx, task)
	if err != nil {
		return nil, err
	}

	if err := a.progress.SetPhase(ctx, ref, models.PhaseDone); err != nil {
		return nil, fmt.Errorf("setting done phase: %w", err)
	}

	a.notifier.NotifyRoundCompleted(ctx, slack.RoundCompletedInput{
		EntityType: string(ref.Type),
		EntityID:   ref.ID,
		EntityName: ref.ID,
		Status:     "done",
		Summary:    summaryText(result.Data),
	})
	return result, nil
}

// summaryText pulls a human-readable summary out of the integration result.
func summaryText(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["summary"].(string); ok {
			return s
		}
	}
	return ""
}

func entityPayload(ref models.EntityRef) map[string]any {
	key := "topic_id"
	if ref.Type == models.EntityTypeUser {
		key = "user_id"
	}
	return map[string]any{key: ref.ID}
}
