package app

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	bsmocks "github.com/stacklok/toolhive-pattern-catalog/internal/pipeline/buildsystem/mocks"
)

func buildsystemMock(ctrl *gomock.Controller) *bsmocks.MockClient {
	return bsmocks.NewMockClient(ctrl)
}

// freeAddress reserves an ephemeral port and releases it for the server under test
func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestApp(t *testing.T, addr string) *PatternApp {
	t.Helper()

	ctrl := gomock.NewController(t)
	app, err := NewPatternApp(context.Background(),
		WithConfig(createTestConfig(t)),
		WithAddress(addr),
		WithStorageFactory(memoryFactory(ctrl)),
		WithBuildSystem(buildsystemMock(ctrl)),
	)
	require.NoError(t, err)
	return app
}

func waitForHealthy(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health") //nolint:noctx // test helper
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPatternApp_StartStop(t *testing.T) {
	t.Parallel()

	addr := freeAddress(t)
	app := newTestApp(t, addr)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	waitForHealthy(t, addr)

	require.NoError(t, app.Stop(5*time.Second))

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	_, err := http.Get("http://" + addr + "/health") //nolint:noctx // test
	assert.Error(t, err, "server should no longer accept connections")
}

func TestPatternApp_StartFailsWhenAddressInUse(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	app := newTestApp(t, l.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	select {
	case err := <-errChan:
		assert.ErrorContains(t, err, "HTTP server failed")
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not fail on a busy address")
	}

	assert.NoError(t, app.Stop(time.Second))
}

func TestPatternApp_StopWithoutStart(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "127.0.0.1:0")
	assert.NoError(t, app.Stop(time.Second))
}
