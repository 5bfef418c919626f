package simbridge

import (
	"context"

	"github.com/wolflab/simbridge-go/internal/kernel"
	"github.com/wolflab/simbridge-go/internal/monitor"
)

// Client is the typed command surface over one simulator session.
//
// Lifecycle: clients are single-use. Start listens for the simulator (and
// launches it when a command is configured), Close tears the session and
// the process down. After Close, create a new client with NewClient.
//
// All methods issue exactly one synchronous command exchange; there is no
// pipelining. A transport failure poisons the client, and every later
// call returns the stored error.
//
// Example usage:
//
//	client := simbridge.NewClient()
//	defer client.Close(ctx)
//
//	err := client.Start(ctx,
//	    simbridge.WithLogger(slog.Default()),
//	    simbridge.WithSimulatorCommand("./myload.sh"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := client.AddVehicle(ctx, 0, 0, 1, 0, 15, -1, true)
//	...
//	err = client.StepSimulation(ctx)
type Client interface {
	// Start listens for the simulator and completes the handshake.
	// When a simulator command is configured it is launched first.
	Start(ctx context.Context, opts ...Option) error

	// StepSimulation hands control to the simulator for one step.
	StepSimulation(ctx context.Context) error

	// ResetSimulation rewinds the episode. The call blocks until the
	// recycled simulator reattaches.
	ResetSimulation(ctx context.Context) error

	// StopSimulation cancels the replication on the simulator side.
	StopSimulation(ctx context.Context) error

	// EdgeID resolves a section name to its id.
	EdgeID(ctx context.Context, name string) (int, error)

	// AddVehicle inserts a vehicle and returns its id.
	AddVehicle(ctx context.Context, edge, lane, typeID int, pos, speed float64, nextSection int, tracked bool) (int, error)

	// RemoveVehicle takes a vehicle out of the network.
	RemoveVehicle(ctx context.Context, id int) error

	// SetVehicleSpeed overrides a vehicle's commanded speed.
	SetVehicleSpeed(ctx context.Context, id int, speed float64) error

	// ApplyLaneChange shifts a vehicle by direction lanes.
	ApplyLaneChange(ctx context.Context, id, direction int) error

	// TrackVehicle registers a vehicle for the fast tracked lookup.
	TrackVehicle(ctx context.Context, id int) error

	// UntrackVehicle removes the tracked registration.
	UntrackVehicle(ctx context.Context, id int) error

	// VehicleLeader returns the vehicle ahead, -1 when none.
	VehicleLeader(ctx context.Context, id int) (int, error)

	// VehicleFollower returns the vehicle behind, -1 when none.
	VehicleFollower(ctx context.Context, id int) (int, error)

	// VehicleNextSection returns the section a vehicle enters after the
	// given one.
	VehicleNextSection(ctx context.Context, id, section int) (int, error)

	// VehicleTypeID resolves a type name to its id.
	VehicleTypeID(ctx context.Context, name string) (int, error)

	// VehicleTypeName returns a vehicle's type name.
	VehicleTypeName(ctx context.Context, id int) (string, error)

	// VehicleLength returns a vehicle's length.
	VehicleLength(ctx context.Context, id int) (float64, error)

	// VehicleStaticInfo fetches the static record, filtered to keys when
	// given.
	VehicleStaticInfo(ctx context.Context, id int, tracked bool, keys ...string) (map[string]any, error)

	// VehicleDynamicInfo fetches the dynamic record.
	VehicleDynamicInfo(ctx context.Context, id int, tracked bool, keys ...string) (map[string]any, error)

	// VehicleACCInfo fetches the adaptive-cruise record.
	VehicleACCInfo(ctx context.Context, id int, tracked bool, keys ...string) (map[string]any, error)

	// EnteredVehicleIDs drains the ids of vehicles that entered since
	// the last drain.
	EnteredVehicleIDs(ctx context.Context) ([]int, error)

	// ExitedVehicleIDs drains the ids of vehicles that exited since the
	// last drain.
	ExitedVehicleIDs(ctx context.Context) ([]int, error)

	// TrafficLightIDs lists the traffic lights in the network.
	TrafficLightIDs(ctx context.Context) ([]int, error)

	// TrafficLightState returns a light's current state.
	TrafficLightState(ctx context.Context, id int) (int, error)

	// SetTrafficLightState commands a light.
	SetTrafficLightState(ctx context.Context, id, linkIndex, state int) error

	// DetectorIDs lists the loop detectors in the network.
	DetectorIDs(ctx context.Context) ([]int, error)

	// DetectorCount returns a detector's last-step vehicle count.
	DetectorCount(ctx context.Context, id int) (int, error)

	// DetectorMeanSpeed returns a detector's last-step mean speed.
	DetectorMeanSpeed(ctx context.Context, id int) (float64, error)

	// DetectorOccupancy returns a detector's last-step occupancy.
	DetectorOccupancy(ctx context.Context, id int) (float64, error)

	// Kernel returns the cached-state layer over this client.
	Kernel() *kernel.Kernel

	// Addr returns the address the simulator dials.
	Addr() string

	// Status snapshots the live counters served by the monitor.
	Status() monitor.Status

	// Close tears down the session, the monitor and the simulator
	// process.
	Close(ctx context.Context) error
}

// NewClient creates a new unconnected client. Call Start before issuing
// commands.
func NewClient() Client {
	return newClient()
}
