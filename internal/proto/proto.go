// Package proto defines the closed command set of the bridge protocol.
//
// The opcode space and the per-opcode payload formats are shared by the
// controller session and the simulator-side dispatcher, which must stay in
// lock-step. They are internal configuration constants, not a public API;
// the protocol carries no version negotiation.
package proto

import (
	"github.com/wolflab/simbridge-go/internal/wire"
)

// Opcode identifies one remote command. Opcodes are sent per request and
// carry no state.
type Opcode int32

// Simulation control.
const (
	SimulationStep Opcode = iota
	SimulationReset
	SimulationTerminate
)

// Network queries.
const (
	NetGetEdgeID Opcode = 0x10 + iota
)

// Vehicle commands.
const (
	VehAdd Opcode = 0x20 + iota
	VehRemove
	VehSetSpeed
	VehSetLane
	VehSetTracked
	VehSetUntracked
	VehGetLeader
	VehGetFollower
	VehGetNextSection
	VehGetTypeID
	VehGetTypeName
	VehGetLength
	VehGetStaticInfo
	VehGetDynamicInfo
	VehGetACCInfo
	VehGetEnteredIDs
	VehGetExitedIDs
)

// Traffic light commands.
const (
	TLGetIDs Opcode = 0x40 + iota
	TLGetState
	TLSetState
)

// Detector queries.
const (
	DetGetIDs Opcode = 0x50 + iota
	DetGetCount
	DetGetMeanSpeed
	DetGetOccupancy
)

// UnknownOpcodeReply is the sentinel integer the dispatcher answers with
// when it receives an opcode outside the table. The command loop stays
// alive afterwards.
const UnknownOpcodeReply = -1001

// EmptyList is the string encoding of an empty id list.
const EmptyList = "-1"

// ListSeparator joins ids in a string-encoded id list.
const ListSeparator = ":"

// Command declares the request and response payload formats of one opcode.
type Command struct {
	Name string
	In   wire.Format
	Out  wire.Format
}

// Commands is the complete opcode table. An opcode missing from this table
// is unknown to both ends.
var Commands = map[Opcode]Command{
	SimulationStep:      {Name: "simulation.step", In: wire.None, Out: wire.None},
	SimulationReset:     {Name: "simulation.reset", In: wire.None, Out: wire.None},
	SimulationTerminate: {Name: "simulation.terminate", In: wire.None, Out: wire.None},

	NetGetEdgeID: {Name: "net.get_edge_id", In: wire.Str, Out: wire.MustFixed("i")},

	VehAdd:            {Name: "vehicle.add", In: wire.MustFixed("i i i f f i ?"), Out: wire.MustFixed("i")},
	VehRemove:         {Name: "vehicle.remove", In: wire.MustFixed("i"), Out: wire.MustFixed("i")},
	VehSetSpeed:       {Name: "vehicle.set_speed", In: wire.MustFixed("i f"), Out: wire.MustFixed("i")},
	VehSetLane:        {Name: "vehicle.set_lane", In: wire.MustFixed("i i"), Out: wire.MustFixed("i")},
	VehSetTracked:     {Name: "vehicle.set_tracked", In: wire.MustFixed("i"), Out: wire.MustFixed("i")},
	VehSetUntracked:   {Name: "vehicle.set_untracked", In: wire.MustFixed("i"), Out: wire.MustFixed("i")},
	VehGetLeader:      {Name: "vehicle.get_leader", In: wire.MustFixed("i"), Out: wire.MustFixed("i")},
	VehGetFollower:    {Name: "vehicle.get_follower", In: wire.MustFixed("i"), Out: wire.MustFixed("i")},
	VehGetNextSection: {Name: "vehicle.get_next_section", In: wire.MustFixed("i i"), Out: wire.MustFixed("i")},
	VehGetTypeID:      {Name: "vehicle.get_type_id", In: wire.Str, Out: wire.MustFixed("i")},
	VehGetTypeName:    {Name: "vehicle.get_type_name", In: wire.MustFixed("i"), Out: wire.Str},
	VehGetLength:      {Name: "vehicle.get_length", In: wire.MustFixed("i"), Out: wire.MustFixed("f")},
	VehGetStaticInfo:  {Name: "vehicle.get_static_info", In: wire.Dict, Out: wire.Dict},
	VehGetDynamicInfo: {Name: "vehicle.get_dynamic_info", In: wire.Dict, Out: wire.Dict},
	VehGetACCInfo:     {Name: "vehicle.get_acc_info", In: wire.Dict, Out: wire.Dict},
	VehGetEnteredIDs:  {Name: "vehicle.get_entered_ids", In: wire.None, Out: wire.Str},
	VehGetExitedIDs:   {Name: "vehicle.get_exited_ids", In: wire.None, Out: wire.Str},

	TLGetIDs:   {Name: "trafficlight.get_ids", In: wire.None, Out: wire.Str},
	TLGetState: {Name: "trafficlight.get_state", In: wire.MustFixed("i"), Out: wire.MustFixed("i")},
	TLSetState: {Name: "trafficlight.set_state", In: wire.MustFixed("i i i"), Out: wire.MustFixed("i")},

	DetGetIDs:       {Name: "detector.get_ids", In: wire.None, Out: wire.Str},
	DetGetCount:     {Name: "detector.get_count", In: wire.MustFixed("i"), Out: wire.MustFixed("i")},
	DetGetMeanSpeed: {Name: "detector.get_mean_speed", In: wire.MustFixed("i"), Out: wire.MustFixed("f")},
	DetGetOccupancy: {Name: "detector.get_occupancy", In: wire.MustFixed("i"), Out: wire.MustFixed("f")},
}

// EndsStepLoop reports whether the opcode hands control back to the
// simulator's own step scheduler after it executes.
func (op Opcode) EndsStepLoop() bool {
	switch op {
	case SimulationStep, SimulationReset, SimulationTerminate:
		return true
	default:
		return false
	}
}

// String returns the command name, or a hex form for unknown opcodes.
func (op Opcode) String() string {
	if cmd, ok := Commands[op]; ok {
		return cmd.Name
	}

	return "unknown"
}
