package facade_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/honganh1206/mcprun/facade"
	"github.com/honganh1206/mcprun/mcperr"
	"github.com/honganh1206/mcprun/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFacade() *facade.Facade {
	reg := registry.New(nil)
	return facade.New(reg, facade.ClientInfo{Name: "mcprun-test", Version: "0.0.0-test"}, "0.0.0-test", nil)
}

func TestHealthCheckNeverFails(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	h := f.HealthCheck()
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.Initialized)
}

func TestConnectListToolsExecuteToolHappyPath(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	ctx := context.Background()
	spec := echoServerSpec()
	require.NoError(t, f.ConnectServer(ctx, "echo", spec.Command, spec.Args))

	tools, err := f.ListTools(ctx, "echo")
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)

	result, err := f.ExecuteTool(ctx, "echo", "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	require.Len(t, result.Result, 1)
	assert.Equal(t, "Echo: hi", result.Result[0].Text)
	assert.GreaterOrEqual(t, result.DurationMS, int64(0))
}

func TestExecuteToolUnknownToolIsProtocolError(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	ctx := context.Background()
	spec := echoServerSpec()
	require.NoError(t, f.ConnectServer(ctx, "echo", spec.Command, spec.Args))

	_, err := f.ExecuteTool(ctx, "echo", "does-not-exist", map[string]any{})
	require.Error(t, err)
	assert.True(t, mcperr.Is(err, mcperr.Protocol))
}

func TestExecuteToolUnknownServerIsConfigurationError(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	_, err := f.ExecuteTool(context.Background(), "nope", "echo", map[string]any{})
	require.Error(t, err)
	assert.True(t, mcperr.Is(err, mcperr.Configuration))
}

func TestConnectSpawnFailureIsConnectionError(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	err := f.ConnectServer(context.Background(), "bad", "/nonexistent/binary-xyz", nil)
	require.Error(t, err)
	assert.True(t, mcperr.Is(err, mcperr.Connection))
}

func TestConnectDuplicateIDIsConfigurationError(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	ctx := context.Background()
	spec := echoServerSpec()
	require.NoError(t, f.ConnectServer(ctx, "echo", spec.Command, spec.Args))

	err := f.ConnectServer(ctx, "echo", spec.Command, spec.Args)
	require.Error(t, err)
	assert.True(t, mcperr.Is(err, mcperr.Configuration))
}

func TestConcurrentExecuteToolCallsAreIndependentlyCorrelated(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	ctx := context.Background()
	spec := echoServerSpec()
	require.NoError(t, f.ConnectServer(ctx, "echo", spec.Command, spec.Args))

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	texts := make([]string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("msg-%d", i)
			result, err := f.ExecuteTool(ctx, "echo", "echo", map[string]any{"message": msg})
			if err != nil {
				errs[i] = err
				return
			}
			if len(result.Result) > 0 {
				texts[i] = result.Result[0].Text
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("Echo: msg-%d", i), texts[i])
	}
}

func TestDisconnectThenListIsEmpty(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	ctx := context.Background()
	spec := echoServerSpec()
	require.NoError(t, f.ConnectServer(ctx, "echo", spec.Command, spec.Args))
	require.Len(t, f.ListConnections(), 1)

	require.NoError(t, f.DisconnectServer("echo"))
	assert.Len(t, f.ListConnections(), 0)
}

func TestUnexpectedExitSurfacesOnNextCall(t *testing.T) {
	f := newFacade()
	defer f.Shutdown()

	ctx := context.Background()
	spec := exitAfterOneSpec()
	require.NoError(t, f.ConnectServer(ctx, "flaky", spec.Command, spec.Args))

	_, err := f.ListTools(ctx, "flaky")
	require.NoError(t, err) // this is the one request the fixture answers

	// The child has now exited. Give the reaper goroutine a moment to
	// observe it before the next call.
	time.Sleep(300 * time.Millisecond)

	_, err = f.ExecuteTool(ctx, "flaky", "echo", map[string]any{"message": "hi"})
	require.Error(t, err)
	assert.True(t, mcperr.Is(err, mcperr.Connection))
}
