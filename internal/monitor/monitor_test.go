package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusEndpoint(t *testing.T) {
	var steps atomic.Int64
	steps.Store(42)

	m := New(slog.Default(), func() Status {
		return Status{
			SessionID: "01ARZ3",
			Connected: true,
			Steps:     steps.Load(),
			Commands:  100,
			Vehicles:  7,
		}
	})

	require.NoError(t, m.Start("127.0.0.1:0"))
	defer m.Stop(context.Background())

	resp, err := http.Get("http://" + m.Addr() + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, int64(42), got.Steps)
	require.Equal(t, 7, got.Vehicles)
	require.True(t, got.Connected)
}

func TestHealthEndpoint(t *testing.T) {
	m := New(slog.Default(), func() Status { return Status{} })

	require.NoError(t, m.Start("127.0.0.1:0"))
	defer m.Stop(context.Background())

	resp, err := http.Get("http://" + m.Addr() + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestStopIdempotent(t *testing.T) {
	m := New(slog.Default(), func() Status { return Status{} })

	require.NoError(t, m.Start("127.0.0.1:0"))
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	require.Empty(t, m.Addr())
}
