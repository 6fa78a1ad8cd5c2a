package buildsystem_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func testRequest() buildsystem.Request {
	return buildsystem.Request{
		RunID:       uuid.New(),
		PatternID:   uuid.New(),
		PatternName: "p1",
		PatternType: service.PatternTypeA,
		Attempt:     1,
	}
}

func newClient(t *testing.T, url string, opts ...buildsystem.HTTPOption) *buildsystem.HTTPClient {
	t.Helper()
	opts = append([]buildsystem.HTTPOption{buildsystem.WithRetry(3, time.Millisecond, 5*time.Millisecond)}, opts...)
	c, err := buildsystem.NewHTTPClient(url, time.Second, opts...)
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := buildsystem.NewHTTPClient("not a url", time.Second)
	assert.Error(t, err)

	_, err = buildsystem.NewHTTPClient("http://build.local", time.Second, buildsystem.WithRetry(0, 0, 0))
	assert.Error(t, err)

	_, err = buildsystem.NewHTTPClient("http://build.local", time.Second, buildsystem.WithCallbackURL("::"))
	assert.Error(t, err)

	_, err = buildsystem.NewHTTPClient("http://build.local", time.Second, buildsystem.WithHTTPClient(nil))
	assert.Error(t, err)
}

func TestHTTPClient_Provisioning(t *testing.T) {
	t.Parallel()

	req := testRequest()
	var mu sync.Mutex
	bodies := map[string]map[string]any{}
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		switch r.URL.Path {
		case "/v1/pipelines":
			_, _ = w.Write([]byte(`{"ref":"pipeline-42"}`))
		case "/v1/builds":
			_, _ = w.Write([]byte(`{"ref":"build-7"}`))
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL, buildsystem.WithCallbackURL("https://catalog.example.com/"))

	require.NoError(t, client.ProvisionRepository(context.Background(), req))
	ref, err := client.ProvisionPipeline(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "pipeline-42", ref)

	req.RepositoryRef = "https://git.example.com/p1.git"
	ref, err = client.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "build-7", ref)

	mu.Lock()
	defer mu.Unlock()
	repoBody := bodies["/v1/repositories"]
	require.NotNil(t, repoBody)
	assert.Equal(t, req.PatternID.String(), repoBody["patternId"])
	assert.Equal(t, "p1", repoBody["patternName"])
	assert.Equal(t, "template-family-a", repoBody["patternType"])
	assert.Equal(t,
		"https://catalog.example.com/v1/patterns/"+req.PatternID.String()+"/pipeline-signal",
		repoBody["callbackUrl"])
	assert.Equal(t, "https://git.example.com/p1.git", bodies["/v1/builds"]["repositoryRef"])
}

func TestHTTPClient_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ref":"teardown-1"}`))
	}))
	defer server.Close()

	ref, err := newClient(t, server.URL).Teardown(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "teardown-1", ref)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_GivesUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "client error is permanent", status: http.StatusBadRequest, wantCalls: 1},
		{name: "server error exhausts tries", status: http.StatusBadGateway, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"no capacity"}`))
			}))
			defer server.Close()

			err := newClient(t, server.URL).ProvisionRepository(context.Background(), testRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, service.ErrExternalFailure)
			assert.Contains(t, err.Error(), "no capacity")
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestHTTPClient_RunStatus(t *testing.T) {
	t.Parallel()

	req := testRequest()
	signalTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/runs/" + req.RunID.String():
			_ = json.NewEncoder(w).Encode(map[string]any{
				"stage":         "Provisioning",
				"status":        "succeeded",
				"repositoryRef": "git@example.com:p1.git",
				"signalTime":    signalTime,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	signal, err := client.RunStatus(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, req.PatternID, signal.PatternID)
	require.NotNil(t, signal.RunID)
	assert.Equal(t, req.RunID, *signal.RunID)
	assert.Equal(t, status.StageProvisioning, signal.Stage)
	assert.Equal(t, status.SignalSucceeded, signal.Status)
	assert.True(t, signalTime.Equal(signal.SignalTime))

	other := testRequest()
	signal, err = client.RunStatus(context.Background(), other)
	require.NoError(t, err)
	assert.Nil(t, signal, "unknown runs have no status yet")
}

func TestHTTPClient_RunStatusMalformed(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"stage":`))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).RunStatus(context.Background(), testRequest())
	assert.ErrorIs(t, err, service.ErrExternalFailure)
}
