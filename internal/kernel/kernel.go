// Package kernel layers per-capability facades over the raw bridge
// commands.
//
// Each kernel owns one slice of simulator state (vehicles, traffic
// lights, detectors, the simulation clock) and refreshes it once per
// environment step through the master kernel's Update cycle. Callers read
// the cached state between updates instead of issuing a bridge round trip
// per query.
package kernel

import (
	"context"
	"log/slog"
)

// API is the typed command surface the kernels consume. The root client
// implements it over a live session.
type API interface {
	StepSimulation(ctx context.Context) error
	ResetSimulation(ctx context.Context) error

	EnteredVehicleIDs(ctx context.Context) ([]int, error)
	ExitedVehicleIDs(ctx context.Context) ([]int, error)
	VehicleDynamicInfo(ctx context.Context, id int, tracked bool, keys ...string) (map[string]any, error)
	SetVehicleSpeed(ctx context.Context, id int, speed float64) error
	ApplyLaneChange(ctx context.Context, id, direction int) error
	TrackVehicle(ctx context.Context, id int) error

	TrafficLightIDs(ctx context.Context) ([]int, error)
	TrafficLightState(ctx context.Context, id int) (int, error)
	SetTrafficLightState(ctx context.Context, id, linkIndex, state int) error

	DetectorIDs(ctx context.Context) ([]int, error)
	DetectorCount(ctx context.Context, id int) (int, error)
	DetectorMeanSpeed(ctx context.Context, id int) (float64, error)
	DetectorOccupancy(ctx context.Context, id int) (float64, error)
}

// Kernel bundles the per-capability kernels and drives their refresh
// cycle.
type Kernel struct {
	Vehicle      *VehicleKernel
	TrafficLight *TrafficLightKernel
	Detector     *DetectorKernel
	Simulation   *SimulationKernel
}

// New builds the kernel stack over a bridge API.
func New(log *slog.Logger, api API) *Kernel {
	log = log.With("component", "kernel")

	return &Kernel{
		Vehicle:      newVehicleKernel(log, api),
		TrafficLight: newTrafficLightKernel(log, api),
		Detector:     newDetectorKernel(log, api),
		Simulation:   newSimulationKernel(log, api),
	}
}

// Update refreshes every kernel's cached state from the simulator. With
// reset true the kernels discard episode state first; call it once after
// every simulation reset.
func (k *Kernel) Update(ctx context.Context, reset bool) error {
	if err := k.Simulation.update(reset); err != nil {
		return err
	}

	if err := k.Vehicle.update(ctx, reset); err != nil {
		return err
	}

	if err := k.TrafficLight.update(ctx, reset); err != nil {
		return err
	}

	return k.Detector.update(ctx, reset)
}
