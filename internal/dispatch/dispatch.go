// Package dispatch implements the simulator-side command loop of the
// bridge protocol.
//
// Once per simulation step the simulator hands control to the dispatcher,
// which cycles a two-state machine: send a ready token and block on the
// next opcode (WaitingForCommand), then acknowledge, read the typed
// payload, execute the simulator call and write the typed result
// (ProcessingCommand). The loop exits when a step, reset or terminate
// opcode arrives, returning an Order to the simulator's own scheduler.
//
// Commands are dispatched through a table keyed by opcode, each entry
// carrying its declared input/output schema. An opcode outside the table
// is answered with the sentinel error value and the loop stays alive.
package dispatch

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/wolflab/simbridge-go/internal/proto"
	"github.com/wolflab/simbridge-go/internal/structinfo"
	"github.com/wolflab/simbridge-go/internal/wire"
)

// Order tells the simulator's scheduler what to do after the command loop
// hands control back.
type Order int

const (
	// OrderStep advances the replication by one step.
	OrderStep Order = iota
	// OrderReset rewinds the replication; the simulator recycles its
	// state and reattaches over a fresh connection.
	OrderReset
	// OrderTerminate cancels the replication.
	OrderTerminate
)

// Simulator is the surface the command table drives. Calls follow the
// native simulator convention of reporting failure through negative return
// codes rather than errors; the struct-info calls return a record whose
// "report" field is non-zero on failure.
type Simulator interface {
	// EdgeID resolves a section name to its id, -1 when unknown.
	EdgeID(name string) int

	AddVehicle(edge, lane, typeID int, pos, speed float64, nextSection int, tracked bool) int
	RemoveVehicle(id int) int
	SetSpeed(id int, speed float64) int
	SetLane(id, direction int) int
	SetTracked(id int) int
	SetUntracked(id int) int

	// Leader and Follower return a negative id when none exists.
	Leader(id int) int
	Follower(id int) int
	NextSection(id, section int) int

	TypeID(name string) int
	TypeName(id int) string
	Length(id int) float64

	// Info records carry a "report" field, non-zero on failure.
	StaticInfo(id int, tracked bool) map[string]any
	DynamicInfo(id int, tracked bool) map[string]any
	ACCInfo(id int, tracked bool) map[string]any

	TrafficLightIDs() []int
	TrafficLightState(id int) int
	SetTrafficLightState(id, linkIndex, state int) int

	DetectorIDs() []int
	DetectorCount(id int) int
	DetectorMeanSpeed(id int) float64
	DetectorOccupancy(id int) float64
}

// handlerFunc executes one command against the simulator. The returned
// values must match the command's declared output format. An error from a
// dict-out command is answered with the struct error record.
type handlerFunc func(args []any) ([]any, error)

// Dispatcher runs the per-step command loop against one simulator backend.
type Dispatcher struct {
	log      *slog.Logger
	sim      Simulator
	events   *Events
	handlers map[proto.Opcode]handlerFunc
}

// New creates a dispatcher around a simulator backend and its event
// buffer.
func New(log *slog.Logger, sim Simulator, events *Events) *Dispatcher {
	d := &Dispatcher{
		log:    log.With("component", "dispatch"),
		sim:    sim,
		events: events,
	}

	d.handlers = map[proto.Opcode]handlerFunc{
		proto.NetGetEdgeID: func(args []any) ([]any, error) {
			return []any{d.sim.EdgeID(args[0].(string))}, nil
		},

		proto.VehAdd: func(args []any) ([]any, error) {
			id := d.sim.AddVehicle(
				args[0].(int), args[1].(int), args[2].(int),
				args[3].(float64), args[4].(float64),
				args[5].(int), args[6].(bool),
			)

			return []any{id}, nil
		},
		proto.VehRemove: func(args []any) ([]any, error) {
			return []any{d.sim.RemoveVehicle(args[0].(int))}, nil
		},
		proto.VehSetSpeed: func(args []any) ([]any, error) {
			return []any{d.sim.SetSpeed(args[0].(int), args[1].(float64))}, nil
		},
		proto.VehSetLane: func(args []any) ([]any, error) {
			return []any{d.sim.SetLane(args[0].(int), args[1].(int))}, nil
		},
		proto.VehSetTracked: func(args []any) ([]any, error) {
			return []any{d.sim.SetTracked(args[0].(int))}, nil
		},
		proto.VehSetUntracked: func(args []any) ([]any, error) {
			return []any{d.sim.SetUntracked(args[0].(int))}, nil
		},
		proto.VehGetLeader: func(args []any) ([]any, error) {
			return []any{d.sim.Leader(args[0].(int))}, nil
		},
		proto.VehGetFollower: func(args []any) ([]any, error) {
			return []any{d.sim.Follower(args[0].(int))}, nil
		},
		proto.VehGetNextSection: func(args []any) ([]any, error) {
			return []any{d.sim.NextSection(args[0].(int), args[1].(int))}, nil
		},
		proto.VehGetTypeID: func(args []any) ([]any, error) {
			return []any{d.sim.TypeID(args[0].(string))}, nil
		},
		proto.VehGetTypeName: func(args []any) ([]any, error) {
			return []any{d.sim.TypeName(args[0].(int))}, nil
		},
		proto.VehGetLength: func(args []any) ([]any, error) {
			return []any{d.sim.Length(args[0].(int))}, nil
		},

		proto.VehGetStaticInfo: d.structQuery(structinfo.Static, func(id int, tracked bool) map[string]any {
			return d.sim.StaticInfo(id, tracked)
		}),
		proto.VehGetDynamicInfo: d.structQuery(structinfo.Dynamic, func(id int, tracked bool) map[string]any {
			return d.sim.DynamicInfo(id, tracked)
		}),
		proto.VehGetACCInfo: d.structQuery(structinfo.ACC, func(id int, tracked bool) map[string]any {
			return d.sim.ACCInfo(id, tracked)
		}),

		proto.VehGetEnteredIDs: func([]any) ([]any, error) {
			return []any{encodeIDList(d.events.DrainEntered())}, nil
		},
		proto.VehGetExitedIDs: func([]any) ([]any, error) {
			return []any{encodeIDList(d.events.DrainExited())}, nil
		},

		proto.TLGetIDs: func([]any) ([]any, error) {
			return []any{encodeIDList(d.sim.TrafficLightIDs())}, nil
		},
		proto.TLGetState: func(args []any) ([]any, error) {
			return []any{d.sim.TrafficLightState(args[0].(int))}, nil
		},
		proto.TLSetState: func(args []any) ([]any, error) {
			return []any{d.sim.SetTrafficLightState(args[0].(int), args[1].(int), args[2].(int))}, nil
		},

		proto.DetGetIDs: func([]any) ([]any, error) {
			return []any{encodeIDList(d.sim.DetectorIDs())}, nil
		},
		proto.DetGetCount: func(args []any) ([]any, error) {
			return []any{d.sim.DetectorCount(args[0].(int))}, nil
		},
		proto.DetGetMeanSpeed: func(args []any) ([]any, error) {
			return []any{d.sim.DetectorMeanSpeed(args[0].(int))}, nil
		},
		proto.DetGetOccupancy: func(args []any) ([]any, error) {
			return []any{d.sim.DetectorOccupancy(args[0].(int))}, nil
		},
	}

	return d
}

// structQuery builds the handler for one struct-info command: decode and
// validate the query payload, fetch the record, filter it against the
// kind's whitelist. Any failure on this path answers with the error record
// instead of tearing the loop down.
func (d *Dispatcher) structQuery(kind structinfo.Kind, fetch func(id int, tracked bool) map[string]any) handlerFunc {
	return func(args []any) ([]any, error) {
		query, err := structinfo.DecodeQuery(args[0].(map[string]any))
		if err != nil {
			return nil, err
		}

		out, err := structinfo.Filter(kind, fetch(query.VehID, query.Tracked), query.Keys)
		if err != nil {
			return nil, err
		}

		return []any{out}, nil
	}
}

// RunStep cycles the command loop until a step, reset or terminate opcode
// arrives, returning the resulting scheduler order. A transport error is
// fatal: the caller must tear the connection down and cancel the
// replication.
func (d *Dispatcher) RunStep(codec *wire.Codec) (Order, error) {
	for {
		// WaitingForCommand: announce readiness, block on the opcode.
		if err := codec.WriteStatus(); err != nil {
			return 0, err
		}

		raw, err := codec.ReadOpcode()
		if err != nil {
			return 0, err
		}

		op := proto.Opcode(raw)

		// ProcessingCommand: acknowledge, then run the exchange.
		if err := codec.WriteStatus(); err != nil {
			return 0, err
		}

		cmd, known := proto.Commands[op]
		if !known {
			d.log.Warn("Unknown opcode", "opcode", raw)

			// An unknown opcode carries no payload the dispatcher could
			// interpret: consume the bare status, answer the sentinel.
			if err := codec.ReadStatus(); err != nil {
				return 0, err
			}

			if err := codec.WriteMessage(wire.MustFixed("i"), proto.UnknownOpcodeReply); err != nil {
				return 0, err
			}

			continue
		}

		var args []any

		if cmd.In.IsNone() {
			// No parameters: the peer sends a bare status instead.
			if err := codec.ReadStatus(); err != nil {
				return 0, err
			}
		} else {
			args, err = codec.ReadMessage(cmd.In)
			if err != nil {
				return 0, err
			}
		}

		if op.EndsStepLoop() {
			d.log.Debug("Step loop handing back control", "command", cmd.Name)

			switch op {
			case proto.SimulationReset:
				return OrderReset, nil
			case proto.SimulationTerminate:
				return OrderTerminate, nil
			default:
				return OrderStep, nil
			}
		}

		out, handlerErr := d.handlers[op](args)

		if handlerErr != nil {
			d.log.Warn("Command failed", "command", cmd.Name, "error", handlerErr)

			if err := d.writeFailure(codec, cmd); err != nil {
				return 0, err
			}

			continue
		}

		if cmd.Out.IsNone() {
			continue
		}

		if err := codec.WriteMessage(cmd.Out, out...); err != nil {
			return 0, err
		}
	}
}

// writeFailure answers a failed command per its output schema: the struct
// error record on dict paths, the sentinel integer otherwise.
func (d *Dispatcher) writeFailure(codec *wire.Codec, cmd proto.Command) error {
	switch cmd.Out.String() {
	case "dict":
		return codec.WriteMessage(cmd.Out, structinfo.ErrorRecord())
	case "str":
		return codec.WriteMessage(cmd.Out, proto.EmptyList)
	case "none":
		return nil
	default:
		values := make([]any, cmd.Out.NumFields())
		for i := range values {
			values[i] = proto.UnknownOpcodeReply
		}

		return codec.WriteMessage(cmd.Out, values...)
	}
}

// encodeIDList joins ids into the wire list form, "-1" when empty.
func encodeIDList(ids []int) string {
	if len(ids) == 0 {
		return proto.EmptyList
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}

	return strings.Join(parts, proto.ListSeparator)
}

// DecodeIDList parses the wire list form produced by encodeIDList.
func DecodeIDList(s string) ([]int, error) {
	if s == proto.EmptyList {
		return nil, nil
	}

	parts := strings.Split(s, proto.ListSeparator)
	ids := make([]int, len(parts))

	for i, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("id list element %q: %w", p, err)
		}

		ids[i] = id
	}

	return ids, nil
}
