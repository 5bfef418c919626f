package kernel

import (
	"context"
	"log/slog"
)

// TrafficLightKernel caches the traffic light inventory and per-step
// states.
type TrafficLightKernel struct {
	log *slog.Logger
	api API

	ids    []int
	states map[int]int
}

func newTrafficLightKernel(log *slog.Logger, api API) *TrafficLightKernel {
	return &TrafficLightKernel{
		log:    log,
		api:    api,
		states: make(map[int]int),
	}
}

func (k *TrafficLightKernel) update(ctx context.Context, reset bool) error {
	if reset || k.ids == nil {
		ids, err := k.api.TrafficLightIDs(ctx)
		if err != nil {
			return err
		}

		k.ids = ids
		k.states = make(map[int]int, len(ids))
	}

	for _, id := range k.ids {
		state, err := k.api.TrafficLightState(ctx, id)
		if err != nil {
			return err
		}

		k.states[id] = state
	}

	return nil
}

// IDs lists the traffic lights in the network.
func (k *TrafficLightKernel) IDs() []int {
	return k.ids
}

// State returns the cached state of a light.
func (k *TrafficLightKernel) State(id int) (int, bool) {
	s, ok := k.states[id]

	return s, ok
}

// SetState commands a light; the cache reflects it on the next update.
func (k *TrafficLightKernel) SetState(ctx context.Context, id, linkIndex, state int) error {
	return k.api.SetTrafficLightState(ctx, id, linkIndex, state)
}
