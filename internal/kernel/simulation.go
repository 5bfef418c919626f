package kernel

import (
	"context"
	"log/slog"
)

// SimulationKernel drives the simulation clock and counts the steps of
// the current episode.
type SimulationKernel struct {
	log *slog.Logger
	api API

	steps int
}

func newSimulationKernel(log *slog.Logger, api API) *SimulationKernel {
	return &SimulationKernel{log: log, api: api}
}

func (k *SimulationKernel) update(reset bool) error {
	if reset {
		k.steps = 0
	}

	return nil
}

// Step advances the simulator by one step.
func (k *SimulationKernel) Step(ctx context.Context) error {
	if err := k.api.StepSimulation(ctx); err != nil {
		return err
	}

	k.steps++

	return nil
}

// Reset rewinds the simulator to the start of a fresh episode.
func (k *SimulationKernel) Reset(ctx context.Context) error {
	k.log.Info("Resetting simulation", "steps", k.steps)

	return k.api.ResetSimulation(ctx)
}

// Steps returns the number of steps taken this episode.
func (k *SimulationKernel) Steps() int {
	return k.steps
}
