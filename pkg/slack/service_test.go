package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	// Should not panic
	s.NotifyRoundCompleted(context.Background(), RoundCompletedInput{
		EntityType: "topic",
		EntityID:   "t1",
		Status:     "done",
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "", Channel: "C123"})
		assert.Nil(t, svc)
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: ""})
		assert.Nil(t, svc)
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: "C123"})
		assert.NotNil(t, svc)
	})
}

func TestService_NotifyRoundCompletedPosts(t *testing.T) {
	var posted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "C123", r.Form.Get("channel"))
		assert.Contains(t, r.Form.Get("blocks"), "Monitoring Round Complete")
		assert.Contains(t, r.Form.Get("blocks"), "ai safety")
		posted = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1.0"}`))
	}))
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	svc := NewServiceWithClient(client)

	svc.NotifyRoundCompleted(context.Background(), RoundCompletedInput{
		EntityType: "topic",
		EntityID:   "t1",
		EntityName: "ai safety",
		Status:     "done",
		Summary:    "quiet day, nothing unusual",
	})
	assert.True(t, posted)
}
