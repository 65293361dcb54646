package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/notify"
)

func finished(url string) *domain.Task {
	t := &domain.Task{ID: "t1", Status: domain.StatusRunning, LeadsFound: 4, CallbackURL: url}
	t.Finish(domain.StatusCompleted, domain.CodeNone, "Collection complete: 4 leads", time.Now())
	return t
}

func TestWebhook_NoCallbackIsNoop(t *testing.T) {
	require.NoError(t, notify.NewWebhook(time.Second).Notify(context.Background(), finished("")))
}

func TestWebhook_PostsTaskSnapshot(t *testing.T) {
	var got domain.Task
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		header = r.Header.Get("X-Leadscout-Task")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, notify.NewWebhook(time.Second).Notify(context.Background(), finished(srv.URL)))
	assert.Equal(t, "t1", header)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 4, got.LeadsFound)
}

func TestWebhook_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := notify.NewWebhook(time.Second).Notify(context.Background(), finished(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhook_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := notify.NewWebhook(20*time.Millisecond).Notify(context.Background(), finished(srv.URL))
	require.Error(t, err)
}
