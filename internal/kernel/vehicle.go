package kernel

import (
	"context"
	"log/slog"
	"sort"
)

// VehicleState is the per-step cache of one observed vehicle.
type VehicleState struct {
	ID       int
	Section  int
	Lane     int
	Position float64
	Speed    float64
}

// VehicleKernel tracks the population of vehicles in the network from the
// entered/exited event drains and caches per-step state for the observed
// ones.
type VehicleKernel struct {
	log *slog.Logger
	api API

	ids      map[int]struct{}
	observed map[int]struct{}
	state    map[int]VehicleState
	departed []int
	arrived  []int
}

func newVehicleKernel(log *slog.Logger, api API) *VehicleKernel {
	return &VehicleKernel{
		log:      log,
		api:      api,
		ids:      make(map[int]struct{}),
		observed: make(map[int]struct{}),
		state:    make(map[int]VehicleState),
	}
}

// Observe marks a vehicle for per-step state refresh. Observed vehicles
// are also registered as tracked on the simulator for the fast lookup
// path.
func (k *VehicleKernel) Observe(ctx context.Context, id int) error {
	if err := k.api.TrackVehicle(ctx, id); err != nil {
		return err
	}

	k.observed[id] = struct{}{}

	return nil
}

// update drains the enter/exit events and refreshes observed state.
func (k *VehicleKernel) update(ctx context.Context, reset bool) error {
	if reset {
		k.ids = make(map[int]struct{})
		k.observed = make(map[int]struct{})
		k.state = make(map[int]VehicleState)
		k.departed = nil
		k.arrived = nil
	}

	entered, err := k.api.EnteredVehicleIDs(ctx)
	if err != nil {
		return err
	}

	exited, err := k.api.ExitedVehicleIDs(ctx)
	if err != nil {
		return err
	}

	k.departed = entered
	k.arrived = exited

	for _, id := range entered {
		k.ids[id] = struct{}{}
	}

	for _, id := range exited {
		delete(k.ids, id)
		delete(k.observed, id)
		delete(k.state, id)
	}

	for id := range k.observed {
		info, err := k.api.VehicleDynamicInfo(ctx, id, true,
			"idSection", "numberLane", "CurrentPos", "CurrentSpeed")
		if err != nil {
			return err
		}

		k.state[id] = VehicleState{
			ID:       id,
			Section:  asInt(info["idSection"]),
			Lane:     asInt(info["numberLane"]),
			Position: asFloat(info["CurrentPos"]),
			Speed:    asFloat(info["CurrentSpeed"]),
		}
	}

	return nil
}

// IDs returns the vehicles currently in the network, sorted.
func (k *VehicleKernel) IDs() []int {
	ids := make([]int, 0, len(k.ids))
	for id := range k.ids {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	return ids
}

// NumVehicles returns the current population size.
func (k *VehicleKernel) NumVehicles() int {
	return len(k.ids)
}

// Departed lists the vehicles that entered during the last update.
func (k *VehicleKernel) Departed() []int {
	return k.departed
}

// Arrived lists the vehicles that exited during the last update.
func (k *VehicleKernel) Arrived() []int {
	return k.arrived
}

// State returns the cached per-step state of an observed vehicle.
func (k *VehicleKernel) State(id int) (VehicleState, bool) {
	s, ok := k.state[id]

	return s, ok
}

// Speeds returns the cached speeds of all observed vehicles keyed by id.
func (k *VehicleKernel) Speeds() map[int]float64 {
	speeds := make(map[int]float64, len(k.state))
	for id, s := range k.state {
		speeds[id] = s.Speed
	}

	return speeds
}

// SetSpeed commands an observed or free vehicle to a new speed.
func (k *VehicleKernel) SetSpeed(ctx context.Context, id int, speed float64) error {
	return k.api.SetVehicleSpeed(ctx, id, speed)
}

// ApplyLaneChange shifts a vehicle by direction lanes.
func (k *VehicleKernel) ApplyLaneChange(ctx context.Context, id, direction int) error {
	return k.api.ApplyLaneChange(ctx, id, direction)
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
