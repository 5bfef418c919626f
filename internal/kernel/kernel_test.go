package kernel

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeAPI scripts the bridge surface the kernels consume.
type fakeAPI struct {
	steps  int
	resets int

	entered [][]int
	exited  [][]int
	dynamic map[int]map[string]any

	tlIDs    []int
	tlStates map[int]int

	detIDs []int
	counts map[int]int
	speeds map[int]float64
	occs   map[int]float64

	trackedIDs []int
	speedCmds  map[int]float64
	laneCmds   map[int]int
	stateCmds  map[int]int
	lastErr    error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		dynamic:   make(map[int]map[string]any),
		tlStates:  make(map[int]int),
		counts:    make(map[int]int),
		speeds:    make(map[int]float64),
		occs:      make(map[int]float64),
		speedCmds: make(map[int]float64),
		laneCmds:  make(map[int]int),
		stateCmds: make(map[int]int),
	}
}

func (f *fakeAPI) StepSimulation(context.Context) error  { f.steps++; return f.lastErr }
func (f *fakeAPI) ResetSimulation(context.Context) error { f.resets++; return f.lastErr }

func (f *fakeAPI) EnteredVehicleIDs(context.Context) ([]int, error) {
	if len(f.entered) == 0 {
		return nil, nil
	}

	ids := f.entered[0]
	f.entered = f.entered[1:]

	return ids, nil
}

func (f *fakeAPI) ExitedVehicleIDs(context.Context) ([]int, error) {
	if len(f.exited) == 0 {
		return nil, nil
	}

	ids := f.exited[0]
	f.exited = f.exited[1:]

	return ids, nil
}

func (f *fakeAPI) VehicleDynamicInfo(_ context.Context, id int, _ bool, _ ...string) (map[string]any, error) {
	info, ok := f.dynamic[id]
	if !ok {
		return map[string]any{"report": -1}, nil
	}

	return info, nil
}

func (f *fakeAPI) SetVehicleSpeed(_ context.Context, id int, speed float64) error {
	f.speedCmds[id] = speed

	return nil
}

func (f *fakeAPI) ApplyLaneChange(_ context.Context, id, direction int) error {
	f.laneCmds[id] = direction

	return nil
}

func (f *fakeAPI) TrackVehicle(_ context.Context, id int) error {
	f.trackedIDs = append(f.trackedIDs, id)

	return nil
}

func (f *fakeAPI) TrafficLightIDs(context.Context) ([]int, error) {
	return f.tlIDs, nil
}

func (f *fakeAPI) TrafficLightState(_ context.Context, id int) (int, error) {
	return f.tlStates[id], nil
}

func (f *fakeAPI) SetTrafficLightState(_ context.Context, id, _, state int) error {
	f.stateCmds[id] = state

	return nil
}

func (f *fakeAPI) DetectorIDs(context.Context) ([]int, error) { return f.detIDs, nil }

func (f *fakeAPI) DetectorCount(_ context.Context, id int) (int, error) {
	return f.counts[id], nil
}

func (f *fakeAPI) DetectorMeanSpeed(_ context.Context, id int) (float64, error) {
	return f.speeds[id], nil
}

func (f *fakeAPI) DetectorOccupancy(_ context.Context, id int) (float64, error) {
	return f.occs[id], nil
}

func testKernel(api API) *Kernel {
	return New(slog.Default(), api)
}

func TestVehiclePopulationFromDrains(t *testing.T) {
	api := newFakeAPI()
	api.entered = [][]int{{1, 2}, {3}, nil}
	api.exited = [][]int{nil, {1}, {2, 3}}

	k := testKernel(api)
	ctx := context.Background()

	require.NoError(t, k.Update(ctx, false))
	require.Equal(t, []int{1, 2}, k.Vehicle.IDs())
	require.Equal(t, []int{1, 2}, k.Vehicle.Departed())
	require.Empty(t, k.Vehicle.Arrived())

	require.NoError(t, k.Update(ctx, false))
	require.Equal(t, []int{2, 3}, k.Vehicle.IDs())
	require.Equal(t, []int{1}, k.Vehicle.Arrived())

	require.NoError(t, k.Update(ctx, false))
	require.Empty(t, k.Vehicle.IDs())
	require.Equal(t, 0, k.Vehicle.NumVehicles())
}

func TestObservedVehicleState(t *testing.T) {
	api := newFakeAPI()
	api.entered = [][]int{{7}}
	api.dynamic[7] = map[string]any{
		"idSection":    1.0,
		"numberLane":   0.0,
		"CurrentPos":   25.5,
		"CurrentSpeed": 12.0,
	}

	k := testKernel(api)
	ctx := context.Background()

	require.NoError(t, k.Vehicle.Observe(ctx, 7))
	require.Equal(t, []int{7}, api.trackedIDs)

	require.NoError(t, k.Update(ctx, false))

	state, ok := k.Vehicle.State(7)
	require.True(t, ok)
	require.Equal(t, VehicleState{ID: 7, Section: 1, Lane: 0, Position: 25.5, Speed: 12.0}, state)
	require.Equal(t, map[int]float64{7: 12.0}, k.Vehicle.Speeds())
}

func TestObservedStateClearedOnExit(t *testing.T) {
	api := newFakeAPI()
	api.entered = [][]int{{7}, nil}
	api.exited = [][]int{nil, {7}}
	api.dynamic[7] = map[string]any{"CurrentSpeed": 5.0}

	k := testKernel(api)
	ctx := context.Background()

	require.NoError(t, k.Vehicle.Observe(ctx, 7))
	require.NoError(t, k.Update(ctx, false))
	require.NoError(t, k.Update(ctx, false))

	_, ok := k.Vehicle.State(7)
	require.False(t, ok)
	require.Equal(t, []int{7}, k.Vehicle.Arrived())
}

func TestVehicleCommands(t *testing.T) {
	api := newFakeAPI()
	k := testKernel(api)
	ctx := context.Background()

	require.NoError(t, k.Vehicle.SetSpeed(ctx, 4, 17.5))
	require.NoError(t, k.Vehicle.ApplyLaneChange(ctx, 4, -1))

	require.Equal(t, 17.5, api.speedCmds[4])
	require.Equal(t, -1, api.laneCmds[4])
}

func TestTrafficLightCache(t *testing.T) {
	api := newFakeAPI()
	api.tlIDs = []int{0, 1}
	api.tlStates[0] = 1
	api.tlStates[1] = 0

	k := testKernel(api)
	ctx := context.Background()

	require.NoError(t, k.Update(ctx, false))
	require.Equal(t, []int{0, 1}, k.TrafficLight.IDs())

	state, ok := k.TrafficLight.State(0)
	require.True(t, ok)
	require.Equal(t, 1, state)

	require.NoError(t, k.TrafficLight.SetState(ctx, 1, 0, 1))
	require.Equal(t, 1, api.stateCmds[1])

	// The cache only reflects the command after a refresh.
	api.tlStates[1] = 1
	require.NoError(t, k.Update(ctx, false))

	state, _ = k.TrafficLight.State(1)
	require.Equal(t, 1, state)
}

func TestDetectorReadings(t *testing.T) {
	api := newFakeAPI()
	api.detIDs = []int{0}
	api.counts[0] = 3
	api.speeds[0] = 14.2
	api.occs[0] = 0.4

	k := testKernel(api)

	require.NoError(t, k.Update(context.Background(), false))

	reading, ok := k.Detector.Reading(0)
	require.True(t, ok)
	require.Equal(t, DetectorReading{Count: 3, MeanSpeed: 14.2, Occupancy: 0.4}, reading)

	_, ok = k.Detector.Reading(9)
	require.False(t, ok)
}

func TestSimulationSteps(t *testing.T) {
	api := newFakeAPI()
	k := testKernel(api)
	ctx := context.Background()

	require.NoError(t, k.Simulation.Step(ctx))
	require.NoError(t, k.Simulation.Step(ctx))
	require.Equal(t, 2, k.Simulation.Steps())
	require.Equal(t, 2, api.steps)

	require.NoError(t, k.Simulation.Reset(ctx))
	require.Equal(t, 1, api.resets)

	// Update with reset rewinds episode state everywhere.
	require.NoError(t, k.Update(ctx, true))
	require.Equal(t, 0, k.Simulation.Steps())
	require.Empty(t, k.Vehicle.IDs())
}
