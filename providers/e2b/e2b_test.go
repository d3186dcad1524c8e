package e2b

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandflow/sandflow/providers"
	"github.com/sandflow/sandflow/types"
)

// fakeControlPlane imitates the E2B REST API for tests.
type fakeControlPlane struct {
	mux         *http.ServeMux
	deleteCalls atomic.Int64
	execStatus  int
	exitCode    int
	sandboxes   []map[string]any
}

func newFakeControlPlane() *fakeControlPlane {
	f := &fakeControlPlane{mux: http.NewServeMux(), execStatus: http.StatusOK}

	f.mux.HandleFunc("POST /sandboxes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"sandboxID": "abc", "templateID": "t1"})
	})
	f.mux.HandleFunc("GET /sandboxes/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"sandboxID": r.PathValue("id"), "state": "running"})
	})
	f.mux.HandleFunc("DELETE /sandboxes/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.deleteCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	f.mux.HandleFunc("POST /sandboxes/{id}/code", func(w http.ResponseWriter, r *http.Request) {
		f.handleExec(w)
	})
	f.mux.HandleFunc("POST /sandboxes/{id}/commands", func(w http.ResponseWriter, r *http.Request) {
		f.handleExec(w)
	})
	f.mux.HandleFunc("GET /v2/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.sandboxes)
	})
	return f
}

func (f *fakeControlPlane) handleExec(w http.ResponseWriter) {
	if f.execStatus != http.StatusOK {
		w.WriteHeader(f.execStatus)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"stdout": "2\n", "stderr": "", "exitCode": f.exitCode,
	})
}

func newTestProvider(t *testing.T, fake *fakeControlPlane) *Provider {
	t.Helper()
	server := httptest.NewServer(fake.mux)
	t.Cleanup(server.Close)

	p, err := New(types.ProviderConfig{
		APIKey:       "sk-test",
		BaseEndpoint: server.URL,
		Template:     "t1",
	}, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(types.ProviderConfig{}, t.TempDir(), zerolog.Nop())
	require.Error(t, err)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryConfiguration, fe.Category)
}

func TestLifecycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	fake := newFakeControlPlane()
	p := newTestProvider(t, fake)

	created, err := p.CreateResource(ctx, types.ProviderConfig{Template: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "abc", created.ID)
	assert.Equal(t, types.StatusReady, created.Status)

	execution, err := p.ExecuteAction(ctx, "abc", "execute", providers.ExecParams{
		Code: "1+1", Language: "python",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, execution.ExitCode)
	assert.Equal(t, "2\n", execution.Stdout)

	logs, err := p.GetResourceLogs("abc", types.LogOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "execution", logs[0].Source)

	require.NoError(t, p.DeleteResource(ctx, "abc"))

	status, err := p.GetResourceStatus(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotFound, status.Status)
}

func TestDeleteResource_Idempotent(t *testing.T) {
	ctx := context.Background()
	fake := newFakeControlPlane()
	p := newTestProvider(t, fake)

	_, err := p.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)

	require.NoError(t, p.DeleteResource(ctx, "abc"))
	require.NoError(t, p.DeleteResource(ctx, "abc"))

	assert.Equal(t, int64(1), fake.deleteCalls.Load(),
		"second delete must not issue a remote request")
}

func TestDeleteRemote_NotFoundIsSuccess(t *testing.T) {
	fake := newFakeControlPlane()
	fake.mux = http.NewServeMux()
	fake.mux.HandleFunc("DELETE /sandboxes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	p := newTestProvider(t, fake)

	assert.NoError(t, p.DeleteRemote(context.Background(), "gone"))
}

func TestCreateResource_EmptyIDIsAPIError(t *testing.T) {
	fake := newFakeControlPlane()
	fake.mux = http.NewServeMux()
	fake.mux.HandleFunc("POST /sandboxes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})
	p := newTestProvider(t, fake)

	_, err := p.CreateResource(context.Background(), types.ProviderConfig{})
	require.Error(t, err)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryAPI, fe.Category)
	assert.False(t, fe.Retryable)
}

func TestExecuteAction_Validation(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeControlPlane())

	_, err := p.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     string
		action string
		params providers.ExecParams
		cat    types.ErrorCategory
	}{
		{"unsupported action", "abc", "restart", providers.ExecParams{Code: "x"}, types.CategoryExecution},
		{"missing code", "abc", "execute", providers.ExecParams{}, types.CategoryExecution},
		{"unknown id", "ghost", "execute", providers.ExecParams{Code: "x"}, types.CategoryResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ExecuteAction(ctx, tt.id, tt.action, tt.params)
			require.Error(t, err)
			fe, ok := types.AsFlowError(err)
			require.True(t, ok)
			assert.Equal(t, tt.cat, fe.Category)
		})
	}
}

func TestExecuteAction_NonZeroExit(t *testing.T) {
	ctx := context.Background()
	fake := newFakeControlPlane()
	fake.exitCode = 2
	p := newTestProvider(t, fake)

	_, err := p.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)

	execution, err := p.ExecuteAction(ctx, "abc", "execute", providers.ExecParams{
		Code: "exit 2", Language: "bash",
	})
	require.Error(t, err)
	assert.Equal(t, 2, execution.ExitCode)

	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryExecution, fe.Category)
	assert.False(t, fe.Retryable)

	record, ok := p.Tracker().Record("abc")
	require.True(t, ok)
	require.Len(t, record.Executions, 1)
	assert.False(t, record.Executions[0].Success)
}

func TestExecuteAction_ErrorCarriesTruncatedSnippet(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeControlPlane())

	longCode := ""
	for i := 0; i < 30; i++ {
		longCode += "print(42) "
	}
	_, err := p.ExecuteAction(ctx, "ghost", "restart", providers.ExecParams{Code: longCode})
	require.Error(t, err)

	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	code, _ := fe.Details["code"].(string)
	assert.LessOrEqual(t, len(code), 100)
}

func TestGetResourceStatus_FailedProbeMeansTerminated(t *testing.T) {
	ctx := context.Background()
	fake := newFakeControlPlane()
	fake.mux.HandleFunc("GET /sandboxes/abc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	p := newTestProvider(t, fake)

	_, err := p.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)

	status, err := p.GetResourceStatus(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTerminated, status.Status)

	record, ok := p.Tracker().Record("abc")
	require.True(t, ok)
	assert.Equal(t, types.StatusTerminated, record.Resource.Status)
}

func TestUpdateResource_ImmutableFieldDegradesGracefully(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeControlPlane())

	_, err := p.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)

	view, err := p.UpdateResource(ctx, "abc", map[string]string{
		"template": "other",
		"owner":    "ci",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", view.Template, "template update is ignored, not applied")
	assert.Equal(t, "ci", view.Metadata["owner"])
}

func TestHealthCheck_NeverErrors(t *testing.T) {
	fake := newFakeControlPlane()
	p := newTestProvider(t, fake)

	health := p.HealthCheck(context.Background())
	assert.True(t, health.Success)
	assert.Equal(t, "healthy", health.Status)

	// Kill the control plane and check failures are folded in
	broken := newFakeControlPlane()
	server := httptest.NewServer(broken.mux)
	p2, err := New(types.ProviderConfig{APIKey: "sk", BaseEndpoint: server.URL},
		t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	server.Close()

	health = p2.HealthCheck(context.Background())
	assert.False(t, health.Success)
	assert.Equal(t, "unhealthy", health.Status)
	assert.NotEmpty(t, health.Error)
}

func TestCleanup_CollectsPartialFailures(t *testing.T) {
	ctx := context.Background()
	fake := newFakeControlPlane()
	counter := 0
	fake.mux = http.NewServeMux()
	fake.mux.HandleFunc("POST /sandboxes", func(w http.ResponseWriter, r *http.Request) {
		counter++
		id := "sbx-a"
		if counter == 2 {
			id = "sbx-b"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sandboxID": id})
	})
	fake.mux.HandleFunc("DELETE /sandboxes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "sbx-b" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	p := newTestProvider(t, fake)

	_, err := p.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)
	_, err = p.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)

	result := p.Cleanup(ctx)
	assert.Equal(t, []string{"sbx-a"}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "sbx-b", result.Failed[0].ResourceID)
	assert.False(t, result.Success())
}

func TestListRemote(t *testing.T) {
	fake := newFakeControlPlane()
	fake.sandboxes = []map[string]any{
		{"sandboxID": "sbx-1", "startedAt": time.Now().Add(-7 * time.Hour).Format(time.RFC3339)},
		{"sandboxID": "sbx-2", "startedAt": time.Now().Format(time.RFC3339)},
	}
	p := newTestProvider(t, fake)

	remote, err := p.ListRemote(context.Background())
	require.NoError(t, err)
	require.Len(t, remote, 2)
	assert.Equal(t, "sbx-1", remote[0].ID)
}

func TestMetricsConsistency(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeControlPlane())

	_, err := p.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)

	metrics := p.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalCreated)
	assert.Equal(t, int64(1), metrics.CurrentActive)

	require.NoError(t, p.DeleteResource(ctx, "abc"))
	metrics = p.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalDestroyed)
	assert.Equal(t, int64(0), metrics.CurrentActive)
}

func TestRestart_RestoresActiveSandboxes(t *testing.T) {
	ctx := context.Background()
	fake := newFakeControlPlane()
	server := httptest.NewServer(fake.mux)
	t.Cleanup(server.Close)

	dataDir := t.TempDir()
	cfg := types.ProviderConfig{APIKey: "sk-test", BaseEndpoint: server.URL, Template: "t1"}

	p1, err := New(cfg, dataDir, zerolog.Nop())
	require.NoError(t, err)
	view, err := p1.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)

	p2, err := New(cfg, dataDir, zerolog.Nop())
	require.NoError(t, err)

	status, err := p2.GetResourceStatus(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, status.Status)

	result, err := p2.ExecuteAction(ctx, view.ID, "execute", providers.ExecParams{
		Code: "1+1", Language: "python",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)

	views, err := p2.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)

	require.NoError(t, p2.DeleteResource(ctx, view.ID))
	assert.Equal(t, int64(1), fake.deleteCalls.Load(),
		"delete after restart must reach the control plane")
	_, tracked := p2.Tracker().Record(view.ID)
	assert.False(t, tracked)
}

func TestRestart_TerminatedRecordStaysInactive(t *testing.T) {
	ctx := context.Background()
	fake := newFakeControlPlane()
	server := httptest.NewServer(fake.mux)
	t.Cleanup(server.Close)

	dataDir := t.TempDir()
	cfg := types.ProviderConfig{APIKey: "sk-test", BaseEndpoint: server.URL, Template: "t1"}

	p1, err := New(cfg, dataDir, zerolog.Nop())
	require.NoError(t, err)
	view, err := p1.CreateResource(ctx, types.ProviderConfig{})
	require.NoError(t, err)
	require.NoError(t, p1.Tracker().SetStatus(view.ID, types.StatusTerminated))

	p2, err := New(cfg, dataDir, zerolog.Nop())
	require.NoError(t, err)

	views, err := p2.ListResources(ctx)
	require.NoError(t, err)
	assert.Empty(t, views)
}
