package simbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolflab/simbridge-go/internal/microsim"
	"github.com/wolflab/simbridge-go/internal/monitor"
)

// startBridge starts a client and attaches a microsim to it over
// loopback.
func startBridge(t *testing.T, sim *microsim.Sim, opts ...Option) Client {
	t.Helper()

	client := NewClient()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	startErr := make(chan error, 1)
	go func() {
		startErr <- client.Start(ctx, append([]Option{WithLogger(slog.Default())}, opts...)...)
	}()

	require.Eventually(t, func() bool {
		return client.Addr() != ""
	}, 2*time.Second, 5*time.Millisecond)

	runDone := make(chan error, 1)
	go func() { runDone <- microsim.Run(ctx, slog.Default(), sim, client.Addr()) }()

	require.NoError(t, <-startErr)

	t.Cleanup(func() {
		_ = client.Close(context.Background())
		cancel()

		select {
		case <-runDone:
		case <-time.After(2 * time.Second):
			t.Error("simulator loop did not stop")
		}
	})

	return client
}

func defaultSim() *microsim.Sim {
	return microsim.New(slog.Default(), []float64{100, 100, 100}, 2)
}

func TestClientVehicleLifecycle(t *testing.T) {
	client := startBridge(t, defaultSim())
	ctx := context.Background()

	id, err := client.AddVehicle(ctx, 0, 0, 1, 0, 10, -1, false)
	require.NoError(t, err)
	require.Positive(t, id)

	require.NoError(t, client.SetVehicleSpeed(ctx, id, 20))
	require.NoError(t, client.StepSimulation(ctx))

	info, err := client.VehicleDynamicInfo(ctx, id, false, "CurrentPos", "CurrentSpeed")
	require.NoError(t, err)
	require.Equal(t, 20.0, info["CurrentPos"])
	require.Equal(t, 20.0, info["CurrentSpeed"])

	require.NoError(t, client.RemoveVehicle(ctx, id))

	exited, err := client.ExitedVehicleIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{id}, exited)
}

func TestClientRefusedCommands(t *testing.T) {
	client := startBridge(t, defaultSim())
	ctx := context.Background()

	require.ErrorIs(t, client.RemoveVehicle(ctx, 999), ErrCommandRefused)

	_, err := client.AddVehicle(ctx, 99, 0, 1, 0, 10, -1, false)
	require.ErrorIs(t, err, ErrCommandRefused)

	// A refused command does not poison the session.
	_, err = client.EdgeID(ctx, "edge0")
	require.NoError(t, err)
}

func TestClientNetworkAndTypes(t *testing.T) {
	client := startBridge(t, defaultSim())
	ctx := context.Background()

	edge, err := client.EdgeID(ctx, "edge1")
	require.NoError(t, err)
	require.Equal(t, 1, edge)

	missing, err := client.EdgeID(ctx, "nowhere")
	require.NoError(t, err)
	require.Equal(t, -1, missing)

	typeID, err := client.VehicleTypeID(ctx, "car")
	require.NoError(t, err)
	require.Equal(t, 1, typeID)

	id, err := client.AddVehicle(ctx, 0, 0, 1, 0, 10, -1, false)
	require.NoError(t, err)

	name, err := client.VehicleTypeName(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "car", name)

	length, err := client.VehicleLength(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 4.5, length)

	next, err := client.VehicleNextSection(ctx, id, 0)
	require.NoError(t, err)
	require.Equal(t, 1, next)
}

func TestClientLeaderFollower(t *testing.T) {
	client := startBridge(t, defaultSim())
	ctx := context.Background()

	rear, err := client.AddVehicle(ctx, 0, 0, 1, 10, 0, -1, false)
	require.NoError(t, err)
	front, err := client.AddVehicle(ctx, 0, 0, 1, 50, 0, -1, false)
	require.NoError(t, err)

	leader, err := client.VehicleLeader(ctx, rear)
	require.NoError(t, err)
	require.Equal(t, front, leader)

	follower, err := client.VehicleFollower(ctx, front)
	require.NoError(t, err)
	require.Equal(t, rear, follower)

	none, err := client.VehicleLeader(ctx, front)
	require.NoError(t, err)
	require.Equal(t, -1, none)
}

func TestClientTrackedInfo(t *testing.T) {
	client := startBridge(t, defaultSim())
	ctx := context.Background()

	id, err := client.AddVehicle(ctx, 0, 0, 1, 0, 10, -1, false)
	require.NoError(t, err)

	// The tracked fast path fails until the vehicle is registered.
	_, err = client.VehicleStaticInfo(ctx, id, true)
	var sierr *StructInfoError
	require.ErrorAs(t, err, &sierr)

	require.NoError(t, client.TrackVehicle(ctx, id))

	info, err := client.VehicleStaticInfo(ctx, id, true)
	require.NoError(t, err)
	require.Equal(t, true, info["tracked"])

	acc, err := client.VehicleACCInfo(ctx, id, false)
	require.NoError(t, err)
	require.Contains(t, acc, "desiredTimeGap")

	require.NoError(t, client.UntrackVehicle(ctx, id))
}

func TestClientTrafficLightsAndDetectors(t *testing.T) {
	client := startBridge(t, defaultSim())
	ctx := context.Background()

	lights, err := client.TrafficLightIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, lights)

	require.NoError(t, client.SetTrafficLightState(ctx, 0, 0, microsim.LightRed))

	state, err := client.TrafficLightState(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, microsim.LightRed, state)

	require.ErrorIs(t, client.SetTrafficLightState(ctx, 0, 1, microsim.LightRed), ErrCommandRefused)

	detectors, err := client.DetectorIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, detectors)

	// Drive one vehicle over the first detector.
	require.NoError(t, client.SetTrafficLightState(ctx, 0, 0, microsim.LightGreen))
	_, err = client.AddVehicle(ctx, 0, 0, 1, 90, 20, -1, false)
	require.NoError(t, err)
	require.NoError(t, client.StepSimulation(ctx))

	require.Eventually(t, func() bool {
		count, err := client.DetectorCount(ctx, 0)

		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	speed, err := client.DetectorMeanSpeed(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 20.0, speed)

	occ, err := client.DetectorOccupancy(ctx, 0)
	require.NoError(t, err)
	require.InDelta(t, 0.225, occ, 1e-9)
}

func TestClientReset(t *testing.T) {
	sim := defaultSim()
	client := startBridge(t, sim)
	ctx := context.Background()

	_, err := client.AddVehicle(ctx, 0, 0, 1, 0, 10, -1, false)
	require.NoError(t, err)

	require.NoError(t, client.ResetSimulation(ctx))

	require.Eventually(t, func() bool {
		return sim.VehicleCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The recycled connection keeps serving commands.
	edge, err := client.EdgeID(ctx, "edge0")
	require.NoError(t, err)
	require.Equal(t, 0, edge)
}

func TestClientMonitor(t *testing.T) {
	client := startBridge(t, defaultSim(), WithMonitorAddr("127.0.0.1:0"))
	ctx := context.Background()

	require.NoError(t, client.StepSimulation(ctx))

	impl := client.(*clientImpl)
	require.NotNil(t, impl.mon)

	resp, err := http.Get("http://" + impl.mon.Addr() + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status monitor.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.True(t, status.Connected)
	require.Equal(t, int64(1), status.Steps)
	require.NotEmpty(t, status.SessionID)
}

func TestClientLifecycleErrors(t *testing.T) {
	client := NewClient()
	ctx := context.Background()

	// Commands before Start fail cleanly.
	_, err := client.EdgeID(ctx, "edge0")
	require.ErrorIs(t, err, ErrSessionNotConnected)

	require.NoError(t, client.Close(ctx))
	require.NoError(t, client.Close(ctx))

	require.ErrorIs(t, client.Start(ctx), ErrSessionClosed)
}
