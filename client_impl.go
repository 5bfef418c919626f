package simbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wolflab/simbridge-go/internal/dispatch"
	bridgeerrors "github.com/wolflab/simbridge-go/internal/errors"
	"github.com/wolflab/simbridge-go/internal/kernel"
	"github.com/wolflab/simbridge-go/internal/monitor"
	"github.com/wolflab/simbridge-go/internal/proto"
	"github.com/wolflab/simbridge-go/internal/session"
	"github.com/wolflab/simbridge-go/internal/structinfo"
	"github.com/wolflab/simbridge-go/internal/subprocess"
)

// defaultListenAddr picks a random loopback port.
const defaultListenAddr = "127.0.0.1:0"

type clientImpl struct {
	log     *slog.Logger
	options *BridgeOptions

	mu      sync.Mutex
	started bool
	closed  bool

	sess    *session.Session
	process *subprocess.Process
	mon     *monitor.Monitor
	kernels *kernel.Kernel
}

func newClient() *clientImpl {
	return &clientImpl{log: NopLogger()}
}

func (c *clientImpl) Start(ctx context.Context, opts ...Option) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return bridgeerrors.ErrSessionClosed
	}

	if c.started {
		c.mu.Unlock()

		return fmt.Errorf("client already started")
	}

	c.options = applyOptions(opts)
	if c.options.Logger != nil {
		c.log = c.options.Logger
	}

	addr := c.options.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	sess, err := session.Listen(c.log, addr)
	if err != nil {
		c.mu.Unlock()

		return err
	}

	c.sess = sess

	if c.options.PacketSize > 0 {
		sess.SetPacketSize(c.options.PacketSize)
	}

	if c.options.SimulatorCommand != "" {
		process, err := subprocess.Start(ctx, c.log, sess.Addr(), subprocess.Options{
			Command: c.options.SimulatorCommand,
			Args:    c.options.SimulatorArgs,
			Env:     c.options.SimulatorEnv,
			Dir:     c.options.SimulatorDir,
			Stderr:  c.options.SimulatorStderr,
		})
		if err != nil {
			c.teardown()
			c.mu.Unlock()

			return err
		}

		c.process = process
	}

	// The accept blocks until the simulator attaches; release the lock
	// so Addr and Status stay reachable meanwhile.
	c.mu.Unlock()

	if err := sess.Accept(ctx); err != nil {
		c.mu.Lock()
		c.teardown()
		c.mu.Unlock()

		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.kernels = kernel.New(c.log, c)

	if c.options.MonitorAddr != "" {
		mon := monitor.New(c.log, c.Status)
		if err := mon.Start(c.options.MonitorAddr); err != nil {
			c.teardown()

			return err
		}

		c.mon = mon
	}

	c.started = true
	c.log.Info("Client started", "session_id", sess.ID(), "addr", sess.Addr())

	return nil
}

// send issues one command, asserting the client is usable.
func (c *clientImpl) send(ctx context.Context, op proto.Opcode, values ...any) ([]any, error) {
	c.mu.Lock()
	sess := c.sess
	closed := c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return nil, bridgeerrors.ErrSessionClosed
	case sess == nil:
		return nil, bridgeerrors.ErrSessionNotConnected
	}

	return sess.SendCommand(ctx, op, values...)
}

// intCall runs a single-int-out command.
func (c *clientImpl) intCall(ctx context.Context, op proto.Opcode, values ...any) (int, error) {
	out, err := c.send(ctx, op, values...)
	if err != nil {
		return 0, err
	}

	return out[0].(int), nil
}

// codeCall runs a command whose int result is only a return code.
func (c *clientImpl) codeCall(ctx context.Context, op proto.Opcode, values ...any) error {
	code, err := c.intCall(ctx, op, values...)
	if err != nil {
		return err
	}

	if code < 0 {
		return fmt.Errorf("%s: %w", op, bridgeerrors.ErrCommandRefused)
	}

	return nil
}

func (c *clientImpl) idListCall(ctx context.Context, op proto.Opcode) ([]int, error) {
	out, err := c.send(ctx, op)
	if err != nil {
		return nil, err
	}

	return dispatch.DecodeIDList(out[0].(string))
}

func (c *clientImpl) structCall(ctx context.Context, op proto.Opcode, kind structinfo.Kind, id int, tracked bool, keys []string) (map[string]any, error) {
	query := structinfo.Query{VehID: id, Keys: keys, Tracked: tracked}

	out, err := c.send(ctx, op, query.Encode())
	if err != nil {
		return nil, err
	}

	return structinfo.Decode(kind, out[0].(map[string]any))
}

func (c *clientImpl) StepSimulation(ctx context.Context) error {
	_, err := c.send(ctx, proto.SimulationStep)

	return err
}

func (c *clientImpl) ResetSimulation(ctx context.Context) error {
	_, err := c.send(ctx, proto.SimulationReset)

	return err
}

func (c *clientImpl) StopSimulation(ctx context.Context) error {
	_, err := c.send(ctx, proto.SimulationTerminate)

	return err
}

func (c *clientImpl) EdgeID(ctx context.Context, name string) (int, error) {
	return c.intCall(ctx, proto.NetGetEdgeID, name)
}

func (c *clientImpl) AddVehicle(ctx context.Context, edge, lane, typeID int, pos, speed float64, nextSection int, tracked bool) (int, error) {
	id, err := c.intCall(ctx, proto.VehAdd, edge, lane, typeID, pos, speed, nextSection, tracked)
	if err != nil {
		return 0, err
	}

	if id < 0 {
		return 0, fmt.Errorf("%s: %w", proto.VehAdd, bridgeerrors.ErrCommandRefused)
	}

	return id, nil
}

func (c *clientImpl) RemoveVehicle(ctx context.Context, id int) error {
	return c.codeCall(ctx, proto.VehRemove, id)
}

func (c *clientImpl) SetVehicleSpeed(ctx context.Context, id int, speed float64) error {
	return c.codeCall(ctx, proto.VehSetSpeed, id, speed)
}

func (c *clientImpl) ApplyLaneChange(ctx context.Context, id, direction int) error {
	return c.codeCall(ctx, proto.VehSetLane, id, direction)
}

func (c *clientImpl) TrackVehicle(ctx context.Context, id int) error {
	return c.codeCall(ctx, proto.VehSetTracked, id)
}

func (c *clientImpl) UntrackVehicle(ctx context.Context, id int) error {
	return c.codeCall(ctx, proto.VehSetUntracked, id)
}

func (c *clientImpl) VehicleLeader(ctx context.Context, id int) (int, error) {
	return c.intCall(ctx, proto.VehGetLeader, id)
}

func (c *clientImpl) VehicleFollower(ctx context.Context, id int) (int, error) {
	return c.intCall(ctx, proto.VehGetFollower, id)
}

func (c *clientImpl) VehicleNextSection(ctx context.Context, id, section int) (int, error) {
	return c.intCall(ctx, proto.VehGetNextSection, id, section)
}

func (c *clientImpl) VehicleTypeID(ctx context.Context, name string) (int, error) {
	return c.intCall(ctx, proto.VehGetTypeID, name)
}

func (c *clientImpl) VehicleTypeName(ctx context.Context, id int) (string, error) {
	out, err := c.send(ctx, proto.VehGetTypeName, id)
	if err != nil {
		return "", err
	}

	return out[0].(string), nil
}

func (c *clientImpl) VehicleLength(ctx context.Context, id int) (float64, error) {
	return c.floatCall(ctx, proto.VehGetLength, id)
}

func (c *clientImpl) floatCall(ctx context.Context, op proto.Opcode, values ...any) (float64, error) {
	out, err := c.send(ctx, op, values...)
	if err != nil {
		return 0, err
	}

	return out[0].(float64), nil
}

func (c *clientImpl) VehicleStaticInfo(ctx context.Context, id int, tracked bool, keys ...string) (map[string]any, error) {
	return c.structCall(ctx, proto.VehGetStaticInfo, structinfo.Static, id, tracked, keys)
}

func (c *clientImpl) VehicleDynamicInfo(ctx context.Context, id int, tracked bool, keys ...string) (map[string]any, error) {
	return c.structCall(ctx, proto.VehGetDynamicInfo, structinfo.Dynamic, id, tracked, keys)
}

func (c *clientImpl) VehicleACCInfo(ctx context.Context, id int, tracked bool, keys ...string) (map[string]any, error) {
	return c.structCall(ctx, proto.VehGetACCInfo, structinfo.ACC, id, tracked, keys)
}

func (c *clientImpl) EnteredVehicleIDs(ctx context.Context) ([]int, error) {
	return c.idListCall(ctx, proto.VehGetEnteredIDs)
}

func (c *clientImpl) ExitedVehicleIDs(ctx context.Context) ([]int, error) {
	return c.idListCall(ctx, proto.VehGetExitedIDs)
}

func (c *clientImpl) TrafficLightIDs(ctx context.Context) ([]int, error) {
	return c.idListCall(ctx, proto.TLGetIDs)
}

func (c *clientImpl) TrafficLightState(ctx context.Context, id int) (int, error) {
	return c.intCall(ctx, proto.TLGetState, id)
}

func (c *clientImpl) SetTrafficLightState(ctx context.Context, id, linkIndex, state int) error {
	return c.codeCall(ctx, proto.TLSetState, id, linkIndex, state)
}

func (c *clientImpl) DetectorIDs(ctx context.Context) ([]int, error) {
	return c.idListCall(ctx, proto.DetGetIDs)
}

func (c *clientImpl) DetectorCount(ctx context.Context, id int) (int, error) {
	return c.intCall(ctx, proto.DetGetCount, id)
}

func (c *clientImpl) DetectorMeanSpeed(ctx context.Context, id int) (float64, error) {
	return c.floatCall(ctx, proto.DetGetMeanSpeed, id)
}

func (c *clientImpl) DetectorOccupancy(ctx context.Context, id int) (float64, error) {
	return c.floatCall(ctx, proto.DetGetOccupancy, id)
}

func (c *clientImpl) Kernel() *kernel.Kernel {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.kernels
}

func (c *clientImpl) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return ""
	}

	return c.sess.Addr()
}

func (c *clientImpl) Status() monitor.Status {
	c.mu.Lock()
	sess := c.sess
	kernels := c.kernels
	c.mu.Unlock()

	status := monitor.Status{}

	if sess != nil {
		status.SessionID = sess.ID()
		status.Connected = sess.Connected()
		status.Steps = sess.Steps()
		status.Commands = sess.Commands()
	}

	if kernels != nil {
		status.Vehicles = kernels.Vehicle.NumVehicles()
	}

	return status
}

func (c *clientImpl) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	// Ask the simulator to stop before killing anything.
	if c.sess != nil && c.sess.Connected() {
		_, _ = c.sess.SendCommand(ctx, proto.SimulationTerminate)
	}

	c.teardown()

	if c.mon != nil {
		_ = c.mon.Stop(ctx)
		c.mon = nil
	}

	c.log.Info("Client closed")

	return nil
}

func (c *clientImpl) teardown() {
	if c.process != nil {
		_ = c.process.Close()
		c.process = nil
	}

	if c.sess != nil {
		_ = c.sess.Close()
		c.sess = nil
	}
}

// Compile-time verification that the client satisfies the kernel surface.
var _ kernel.API = (*clientImpl)(nil)
var _ Client = (*clientImpl)(nil)
