package simbridge

import (
	"log/slog"
)

// BridgeOptions configures a client.
type BridgeOptions struct {
	// Logger receives debug, info, warn and error messages. Disabled
	// when nil.
	Logger *slog.Logger

	// ListenAddr is the address the controller listens on for the
	// simulator to dial. Defaults to a random loopback port.
	ListenAddr string

	// SimulatorCommand, when set, is launched as the simulator process
	// with the controller's address in its environment. When empty the
	// caller is expected to attach a simulator itself.
	SimulatorCommand string
	// SimulatorArgs are passed verbatim after the command.
	SimulatorArgs []string
	// SimulatorEnv entries are appended to the inherited environment.
	SimulatorEnv []string
	// SimulatorDir is the process working directory.
	SimulatorDir string
	// SimulatorStderr, when set, receives each stderr line as it
	// arrives.
	SimulatorStderr func(line string)

	// MonitorAddr, when set, serves the HTTP status endpoint there.
	MonitorAddr string

	// PacketSize overrides the string chunk size on the wire. Zero keeps
	// the protocol default. The simulator must agree on the value.
	PacketSize int
}

// Option configures BridgeOptions using the functional options pattern.
type Option func(*BridgeOptions)

// applyOptions applies functional options to a BridgeOptions struct.
func applyOptions(opts []Option) *BridgeOptions {
	options := &BridgeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *BridgeOptions) {
		o.Logger = logger
	}
}

// WithListenAddr sets the address the controller listens on.
func WithListenAddr(addr string) Option {
	return func(o *BridgeOptions) {
		o.ListenAddr = addr
	}
}

// WithSimulatorCommand launches the given simulator binary on Start. The
// controller address is passed in the SIMBRIDGE_ADDR environment
// variable.
func WithSimulatorCommand(command string, args ...string) Option {
	return func(o *BridgeOptions) {
		o.SimulatorCommand = command
		o.SimulatorArgs = args
	}
}

// WithSimulatorEnv provides additional environment variables for the
// simulator process.
func WithSimulatorEnv(env ...string) Option {
	return func(o *BridgeOptions) {
		o.SimulatorEnv = env
	}
}

// WithSimulatorDir sets the working directory of the simulator process.
func WithSimulatorDir(dir string) Option {
	return func(o *BridgeOptions) {
		o.SimulatorDir = dir
	}
}

// WithSimulatorStderr streams the simulator's stderr lines to a callback.
func WithSimulatorStderr(callback func(line string)) Option {
	return func(o *BridgeOptions) {
		o.SimulatorStderr = callback
	}
}

// WithPacketSize overrides the string chunk size on the wire for
// simulators configured with a non-default packet size. Both ends of a
// session must agree on the value.
func WithPacketSize(n int) Option {
	return func(o *BridgeOptions) {
		o.PacketSize = n
	}
}

// WithMonitorAddr serves the HTTP status endpoint on the given address.
func WithMonitorAddr(addr string) Option {
	return func(o *BridgeOptions) {
		o.MonitorAddr = addr
	}
}
