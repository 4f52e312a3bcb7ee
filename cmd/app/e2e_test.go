package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/repo"
	"github.com/BuzzLyutic/family-hub/internal/store"
	"github.com/BuzzLyutic/family-hub/internal/testutil"
	"github.com/BuzzLyutic/family-hub/internal/worker"
)

func setupE2EServer(t *testing.T) (*httptest.Server, repo.Provider) {
	t.Helper()
	pool := testutil.SetupPostgres(t)
	logger := zap.NewNop()

	workers := worker.NewPool(logger, 2)
	workers.Start(context.Background())
	t.Cleanup(workers.Stop)

	provider := repo.NewPostgresProvider(pool, logger, repo.WithWorkers(workers))
	server := httptest.NewServer(newRouter(provider, logger))
	t.Cleanup(server.Close)
	return server, provider
}

func send(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestE2E_FullWorkflow(t *testing.T) {
	server, _ := setupE2EServer(t)
	base := server.URL + "/api/families/fam-e2e/tasks"

	// 1. Create task
	resp := send(t, http.MethodPost, base, model.NewTask{Title: "E2E Test Task", Priority: model.PriorityHigh, AssignedTo: []string{"u1"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.Task](t, resp)
	assert.Equal(t, "fam-e2e", created.FamilyID)
	assert.Equal(t, "/api/families/fam-e2e/tasks/"+created.ID, resp.Header.Get("Location"))

	// 2. Get it back
	resp = send(t, http.MethodGet, base+"/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[model.Task](t, resp).ID)

	// 3. Update
	resp = send(t, http.MethodPatch, base+"/"+created.ID, map[string]any{"status": "in_progress"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[model.Task](t, resp).Version)

	// 4. Complete
	resp = send(t, http.MethodPost, base+"/"+created.ID+"/complete", map[string]any{"actual_duration": 45})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[model.Task](t, resp)
	assert.Equal(t, model.StatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	// 5. Smart list and stats
	resp = send(t, http.MethodGet, server.URL+"/api/families/fam-e2e/smart-lists/completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Task](t, resp), 1)

	resp = send(t, http.MethodGet, server.URL+"/api/families/fam-e2e/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), stats["total_tasks"])
	assert.Equal(t, float64(45), stats["avg_actual_duration"])

	// 6. Soft delete, then permanent delete
	resp = send(t, http.MethodDelete, base+"/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = send(t, http.MethodDelete, base+"/"+created.ID+"/permanent", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = send(t, http.MethodGet, base+"/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestE2E_FilteringAndLimit(t *testing.T) {
	server, _ := setupE2EServer(t)
	base := server.URL + "/api/families/fam-e2e/tasks"

	for _, n := range []model.NewTask{
		{Title: "alpha", Priority: model.PriorityLow},
		{Title: "beta", Priority: model.PriorityUrgent},
		{Title: "gamma", Priority: model.PriorityUrgent, Status: model.StatusCompleted},
	} {
		require.Equal(t, http.StatusCreated, send(t, http.MethodPost, base, n).StatusCode)
	}

	resp := send(t, http.MethodGet, base+"?priority=urgent&status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tasks := decode[[]model.Task](t, resp)
	require.Len(t, tasks, 1)
	assert.Equal(t, "beta", tasks[0].Title)

	resp = send(t, http.MethodGet, base+"?sort=title&dir=desc&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tasks = decode[[]model.Task](t, resp)
	require.Len(t, tasks, 2)
	assert.Equal(t, "gamma", tasks[0].Title)
	assert.Equal(t, "beta", tasks[1].Title)
}

// Store подписан через LISTEN/NOTIFY и видит запись, сделанную через HTTP
func TestE2E_StoreSeesHTTPWrites(t *testing.T) {
	server, provider := setupE2EServer(t)

	s := store.New(provider, zap.NewNop())
	require.NoError(t, s.InitializeRepository("fam-e2e"))
	require.NoError(t, s.StartRealTimeSync(context.Background(), nil, ""))
	defer s.StopRealTimeSync()

	resp := send(t, http.MethodPost, server.URL+"/api/families/fam-e2e/tasks", model.NewTask{Title: "from http"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.True(t, testutil.WaitForCondition(t, 5*time.Second, func() bool {
		tasks := s.Tasks()
		return len(tasks) == 1 && tasks[0].Title == "from http"
	}))
}

func TestE2E_HealthCheck(t *testing.T) {
	server, _ := setupE2EServer(t)

	resp := send(t, http.MethodGet, server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "postgres", decode[map[string]string](t, resp)["backend"])
}
