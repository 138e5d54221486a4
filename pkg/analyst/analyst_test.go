package analyst

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendwatch/trendwatch/pkg/fanin"
	"github.com/trendwatch/trendwatch/pkg/llm"
	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
	"github.com/trendwatch/trendwatch/pkg/tool"
)

func newAnalyst(t *testing.T, client llm.Client) (*Analyst, *progress.MemoryStore, *fanin.MemoryCoordinator) {
	t.Helper()
	store := progress.NewMemoryStore()
	coord := fanin.NewMemoryCoordinator(store)
	return New(client, tool.NewRegistry(), store, coord, nil, "you are the analyst", 0), store, coord
}

func TestAnalyzeStagesFanInAndChildren(t *testing.T) {
	ctx := context.Background()
	client := llm.NewScriptedClient(llm.Text(`{
		"data": {"plan": "two targets"},
		"new_tasks": [
			{"label": "crawler:crawl", "payload": {"topic_id": "t1", "target": "x.com/a"}},
			{"label": "searcher:search", "payload": {"topic_id": "t1", "query": "#ai"}}
		]
	}`))
	a, store, coord := newAnalyst(t, client)
	ref := models.EntityRef{Type: models.EntityTypeTopic, ID: "t1"}

	task := models.NewTask(LabelAnalyze, map[string]any{"topic_id": "t1"})
	res, err := a.Execute(ctx, task)
	require.NoError(t, err)
	require.Len(t, res.NewTasks, 2)

	p, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCrawling, p.Phase)
	assert.Equal(t, 2, p.Total)

	// The continuation is staged for exactly the number of children; two
	// terminations release it.
	out, err := coord.TaskTerminal(ctx, ref)
	require.NoError(t, err)
	assert.False(t, out.Complete)

	out, err = coord.TaskTerminal(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, out.Continuation)
	assert.Equal(t, LabelSummarize, out.Continuation.Label)
	assert.Equal(t, "t1", out.Continuation.Payload["topic_id"])
	assert.Equal(t, models.PhaseSummarizing, out.Continuation.NextPhase)
}

func TestAnalyzeWithoutChildrenSummarizesDirectly(t *testing.T) {
	ctx := context.Background()
	client := llm.NewScriptedClient(llm.Text(`{"data": {"plan": "nothing new to visit"}}`))
	a, store, _ := newAnalyst(t, client)
	ref := models.EntityRef{Type: models.EntityTypeUser, ID: "u1"}

	task := models.NewTask(LabelAnalyze, map[string]any{"user_id": "u1"})
	res, err := a.Execute(ctx, task)
	require.NoError(t, err)

	require.Len(t, res.NewTasks, 1)
	assert.Equal(t, LabelSummarize, res.NewTasks[0].Label)
	assert.Equal(t, "u1", res.NewTasks[0].Payload["user_id"])

	p, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSummarizing, p.Phase)
}

func TestSummarizeSetsDone(t *testing.T) {
	ctx := context.Background()
	client := llm.NewScriptedClient(llm.Text(`{"data": {"summary_id": "sum-1"}}`))
	a, store, _ := newAnalyst(t, client)
	ref := models.EntityRef{Type: models.EntityTypeTopic, ID: "t1"}

	task := models.NewTask(LabelSummarize, map[string]any{"topic_id": "t1"})
	_, err := a.Execute(ctx, task)
	require.NoError(t, err)

	p, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDone, p.Phase)
}

func TestAnalystRejectsEntitylessTask(t *testing.T) {
	client := llm.NewScriptedClient()
	a, _, _ := newAnalyst(t, client)

	_, err := a.Execute(context.Background(), models.NewTask(LabelAnalyze, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic_id or user_id")

	_, err = a.Execute(context.Background(), models.NewTask("other:label", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot handle label")
}

func TestAnalyzeLLMErrorPropagates(t *testing.T) {
	client := llm.NewScriptedClient() // exhausted immediately
	a, store, _ := newAnalyst(t, client)
	ref := models.EntityRef{Type: models.EntityTypeTopic, ID: "t1"}

	_, err := a.Execute(context.Background(), models.NewTask(LabelAnalyze, map[string]any{"topic_id": "t1"}))
	require.Error(t, err)

	// The analyzing phase was still recorded before the failure.
	p, perr := store.Get(context.Background(), ref)
	require.NoError(t, perr)
	assert.Equal(t, models.PhaseAnalyzing, p.Phase)
}
