package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeleech/internal/config"
	"github.com/pokerjest/animeleech/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	users    int64
	down, up int64
	err      error
}

func (f fakeStats) TotalUsers(context.Context) (int64, error) { return f.users, f.err }
func (f fakeStats) TotalTraffic(context.Context) (int64, int64, error) {
	return f.down, f.up, f.err
}

func setupServer(stats StatsSource) (*Server, *JobTracker, *event.InMemoryBus) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server:   config.ServerConfig{Port: 0, Mode: "release"},
		Telegram: config.TelegramConfig{Username: "LeechBot"},
	}
	bus := event.NewInMemoryBus()
	jobs := NewJobTracker()
	return NewServer(cfg, stats, jobs, bus), jobs, bus
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	h.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	srv, _, _ := setupServer(fakeStats{})
	h := srv.Handler()

	for _, path := range []string{"/", "/health"} {
		w := get(t, h, path)
		require.Equal(t, http.StatusOK, w.Code, path)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, map[string]string{"status": "active", "bot": "LeechBot", "mode": "production"}, body)
	}
}

func TestStatsHandler(t *testing.T) {
	srv, jobs, _ := setupServer(fakeStats{users: 4, down: 1 << 30, up: 1 << 30})
	jobs.Handle(event.Event{Type: event.EventJobStarted, Payload: event.JobEvent{JobID: "g1", UserID: 1}})

	w := get(t, srv.Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Users      int64  `json:"users"`
		Downloaded int64  `json:"downloaded"`
		Traffic    string `json:"traffic"`
		ActiveJobs int    `json:"active_jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(4), body.Users)
	assert.Equal(t, int64(1<<30), body.Downloaded)
	assert.Equal(t, "2.0 GiB", body.Traffic)
	assert.Equal(t, 1, body.ActiveJobs)
}

func TestStatsHandler_StoreError(t *testing.T) {
	srv, _, _ := setupServer(fakeStats{err: errors.New("db locked")})
	w := get(t, srv.Handler(), "/api/stats")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db locked")
}

func TestJobsHandler_FollowsBusEvents(t *testing.T) {
	srv, jobs, bus := setupServer(fakeStats{})
	jobs.Attach(bus)
	h := srv.Handler()

	t0 := time.Now()
	bus.Publish(event.EventJobStarted, event.JobEvent{JobID: "a", UserID: 7, At: t0})
	bus.Publish(event.EventJobStarted, event.JobEvent{JobID: "b", UserID: 8, At: t0.Add(time.Second)})
	require.Eventually(t, func() bool { return jobs.Len() == 2 }, time.Second, 5*time.Millisecond)

	bus.Publish(event.EventJobProgress, event.JobEvent{JobID: "a", Name: "Show - 01", Progress: 42, At: t0.Add(2 * time.Second)})
	require.Eventually(t, func() bool {
		s := jobs.Snapshot()
		return len(s) == 2 && s[0].Progress == 42
	}, time.Second, 5*time.Millisecond)

	w := get(t, h, "/api/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count int         `json:"count"`
		Jobs  []ActiveJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "a", body.Jobs[0].JobID)
	assert.Equal(t, "Show - 01", body.Jobs[0].Name)
	assert.Equal(t, int64(8), body.Jobs[1].UserID)

	bus.Publish(event.EventJobFinished, event.JobEvent{JobID: "a", Outcome: "completed"})
	require.Eventually(t, func() bool { return jobs.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestJobTracker_OutOfOrderEvents(t *testing.T) {
	jobs := NewJobTracker()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// finished before a late progress event
	jobs.Handle(event.Event{Type: event.EventJobFinished, Payload: event.JobEvent{JobID: "x"}})
	jobs.Handle(event.Event{Type: event.EventJobProgress, Payload: event.JobEvent{JobID: "x", Progress: 90, At: t0}})
	assert.Equal(t, 0, jobs.Len())

	// older progress does not overwrite newer
	jobs.Handle(event.Event{Type: event.EventJobProgress, Payload: event.JobEvent{JobID: "y", Progress: 60, At: t0.Add(2 * time.Second)}})
	jobs.Handle(event.Event{Type: event.EventJobProgress, Payload: event.JobEvent{JobID: "y", Progress: 30, At: t0.Add(time.Second)}})
	jobs.Handle(event.Event{Type: event.EventJobStarted, Payload: event.JobEvent{JobID: "y", At: t0}})
	snap := jobs.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 60.0, snap[0].Progress)
	assert.Equal(t, t0, snap[0].Started)

	// foreign payloads are ignored
	jobs.Handle(event.Event{Type: event.EventJobStarted, Payload: "nope"})
	assert.Equal(t, 1, jobs.Len())
}

func TestJobTracker_PrunesFinished(t *testing.T) {
	jobs := NewJobTracker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs.now = func() time.Time { return now }

	jobs.Handle(event.Event{Type: event.EventJobFinished, Payload: event.JobEvent{JobID: "x"}})
	now = now.Add(finishedRetention + time.Minute)
	jobs.Handle(event.Event{Type: event.EventJobStarted, Payload: event.JobEvent{JobID: "x"}})
	assert.Equal(t, 1, jobs.Len())
}

func TestSSEHandler_StreamsJobEvents(t *testing.T) {
	srv, _, bus := setupServer(fakeStats{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"), resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	readUntil := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		return ""
	}
	require.Equal(t, "data:connected", readUntil("data:"))

	bus.Publish(event.EventJobStarted, event.JobEvent{JobID: "g1", UserID: 3})
	assert.Equal(t, "event:job_started", readUntil("event:"))
	assert.Contains(t, readUntil("data:"), `"JobID":"g1"`)
}
