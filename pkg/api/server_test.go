package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
	"github.com/trendwatch/trendwatch/pkg/queue"
	"github.com/trendwatch/trendwatch/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStorage is an in-memory Storage for handler tests.
type fakeStorage struct {
	topics    map[string]*storage.Topic
	users     map[string]*storage.TrackedUser
	summaries []*storage.Summary
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		topics: make(map[string]*storage.Topic),
		users:  make(map[string]*storage.TrackedUser),
	}
}

func (f *fakeStorage) UpsertTopic(_ context.Context, t *storage.Topic) (*storage.Topic, error) {
	for _, existing := range f.topics {
		if existing.Name == t.Name {
			existing.Description = t.Description
			return existing, nil
		}
	}
	t.ID = fmt.Sprintf("topic-%d", len(f.topics)+1)
	f.topics[t.ID] = t
	return t, nil
}

func (f *fakeStorage) GetTopic(_ context.Context, id string) (*storage.Topic, error) {
	t, ok := f.topics[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t, nil
}

func (f *fakeStorage) ListTopics(context.Context, bool) ([]*storage.Topic, error) {
	out := make([]*storage.Topic, 0, len(f.topics))
	for _, t := range f.topics {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStorage) UpsertTrackedUser(_ context.Context, u *storage.TrackedUser) (*storage.TrackedUser, error) {
	u.ID = fmt.Sprintf("user-%d", len(f.users)+1)
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStorage) GetTrackedUser(_ context.Context, id string) (*storage.TrackedUser, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeStorage) ListTrackedUsers(context.Context, bool) ([]*storage.TrackedUser, error) {
	out := make([]*storage.TrackedUser, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeStorage) ListSummaries(context.Context, models.EntityRef, int) ([]*storage.Summary, error) {
	return f.summaries, nil
}

type testServer struct {
	router  *gin.Engine
	queue   *queue.MemoryQueue
	store   *progress.MemoryStore
	beats   *progress.MemoryHeartbeats
	storage *fakeStorage
}

func newTestServer() *testServer {
	ts := &testServer{
		queue:   queue.NewMemoryQueue(time.Minute),
		store:   progress.NewMemoryStore(),
		beats:   progress.NewMemoryHeartbeats(),
		storage: newFakeStorage(),
	}
	srv := NewServer(Options{
		Queue:      ts.queue,
		Progress:   ts.store,
		Heartbeats: ts.beats,
		Storage:    ts.storage,
		Labels:     []string{"analyst:analyze", "crawler:crawl"},
	})
	ts.router = srv.Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateAndGetTask(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, http.MethodPost, "/api/tasks", gin.H{
		"label":    "crawler:crawl",
		"payload":  gin.H{"topic_id": "t1"},
		"priority": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["id"].(string)
	assert.Equal(t, "pending", created["status"])

	w = ts.do(t, http.MethodGet, "/api/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "crawler:crawl", got["label"])
	assert.Equal(t, float64(2), got["priority"])
}

func TestCreateTaskValidation(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, http.MethodPost, "/api/tasks", gin.H{"payload": gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "label required")

	w = ts.do(t, http.MethodPost, "/api/tasks", gin.H{"label": "nolabel"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "label format")

	w = ts.do(t, http.MethodPost, "/api/tasks", gin.H{"label": "a:b", "priority": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code, "priority range")
}

func TestGetTaskNotFound(t *testing.T) {
	ts := newTestServer()
	w := ts.do(t, http.MethodGet, "/api/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueDepths(t *testing.T) {
	ts := newTestServer()
	require.NoError(t, ts.queue.Push(context.Background(), models.NewTask("crawler:crawl", nil)))

	w := ts.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	depths := decode(t, w)["depths"].(map[string]any)
	assert.Equal(t, float64(1), depths["crawler:crawl"])
	assert.Equal(t, float64(0), depths["analyst:analyze"])
}

func TestGetProgressJoin(t *testing.T) {
	ts := newTestServer()
	ctx := context.Background()
	ref := models.EntityRef{Type: models.EntityTypeTopic, ID: "t1"}

	require.NoError(t, ts.store.SetCrawling(ctx, ref, 2))
	require.NoError(t, ts.store.ReplaceTaskSet(ctx, ref, []string{"c1", "c2"}))
	require.NoError(t, ts.store.SetTaskProgress(ctx, "c1", &models.TaskProgress{
		Action: "crawl", Page: 3,
	}))

	w := ts.do(t, http.MethodGet, "/api/progress/topic/t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)

	prog := body["progress"].(map[string]any)
	assert.Equal(t, "crawling", prog["phase"])
	assert.Equal(t, float64(2), prog["total"])

	assert.ElementsMatch(t, []any{"c1", "c2"}, body["task_ids"].([]any))
	tasks := body["tasks"].(map[string]any)
	require.Contains(t, tasks, "c1")
	assert.NotContains(t, tasks, "c2", "child without a progress record is omitted")
}

func TestGetProgressErrors(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, http.MethodGet, "/api/progress/widget/t1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/progress/topic/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAgents(t *testing.T) {
	ts := newTestServer()
	require.NoError(t, ts.beats.Beat(context.Background(), &models.Heartbeat{
		Name: "analyst", Status: models.AgentStateBusy,
	}))

	w := ts.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
}

func TestCreateTopicSeedsAnalyzeTask(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, http.MethodPost, "/api/topics", gin.H{
		"name":     "ai safety",
		"keywords": []string{"alignment"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	taskID := body["task_id"].(string)

	task, err := ts.queue.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, "analyst:analyze", task.Label)
	assert.Equal(t, models.PriorityHigh, task.Priority)
	topic := body["topic"].(map[string]any)
	assert.Equal(t, topic["id"], task.Payload["topic_id"])
}

func TestCreateUserSeedsAnalyzeTask(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, http.MethodPost, "/api/users", gin.H{
		"platform": "x", "handle": "someone",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)

	task, err := ts.queue.Get(context.Background(), body["task_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "analyst:analyze", task.Label)
	user := body["user"].(map[string]any)
	assert.Equal(t, user["id"], task.Payload["user_id"])
}

func TestTopicLookup(t *testing.T) {
	ts := newTestServer()
	ts.do(t, http.MethodPost, "/api/topics", gin.H{"name": "quantum"})

	w := ts.do(t, http.MethodGet, "/api/topics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	topics := decode(t, w)["topics"].([]any)
	require.Len(t, topics, 1)
	id := topics[0].(map[string]any)["id"].(string)

	w = ts.do(t, http.MethodGet, "/api/topics/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/topics/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthWithoutOptionalDeps(t *testing.T) {
	ts := newTestServer()
	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}
