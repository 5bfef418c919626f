package simbridge

import "github.com/wolflab/simbridge-go/internal/errors"

// Re-export error types from internal package

// TransportError indicates the connection to the simulator failed mid
// exchange.
type TransportError = errors.TransportError

// HandshakeError indicates a connecting peer presented the wrong
// identifier, or the handshake exchange failed.
type HandshakeError = errors.HandshakeError

// ProcessError indicates the simulator process failed.
type ProcessError = errors.ProcessError

// DecodeError indicates a wire payload could not be decoded.
type DecodeError = errors.DecodeError

// StructInfoError indicates an invalid struct-info query or record.
type StructInfoError = errors.StructInfoError

// BridgeError is the base interface for all bridge errors.
type BridgeError = errors.BridgeError

// Re-export sentinel errors from internal package.
var (
	// ErrSessionNotConnected indicates no simulator is attached.
	ErrSessionNotConnected = errors.ErrSessionNotConnected

	// ErrSessionClosed indicates the session has been closed and cannot
	// be reused.
	ErrSessionClosed = errors.ErrSessionClosed

	// ErrUnknownOpcode indicates a command outside the opcode table.
	ErrUnknownOpcode = errors.ErrUnknownOpcode

	// ErrCommandRefused indicates the simulator answered a command with
	// a negative return code.
	ErrCommandRefused = errors.ErrCommandRefused

	// ErrEnvClosed indicates the environment has been closed.
	ErrEnvClosed = errors.ErrEnvClosed
)
