package errors

import (
	"errors"
	"fmt"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*TransportError)(nil)
	_ BridgeError = (*HandshakeError)(nil)
	_ BridgeError = (*ProcessError)(nil)
	_ BridgeError = (*DecodeError)(nil)
	_ BridgeError = (*StructInfoError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrSessionNotConnected indicates no simulator is attached to the session.
	ErrSessionNotConnected = errors.New("session not connected")

	// ErrSessionClosed indicates the session has been closed and cannot be
	// reused. Sessions are single-use; create a new one after a failure.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownOpcode indicates the simulator answered a command with the
	// unknown-opcode sentinel.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrBadFormat indicates a wire format specifier could not be parsed.
	ErrBadFormat = errors.New("bad wire format")

	// ErrValueCount indicates the number of values does not match the format.
	ErrValueCount = errors.New("value count does not match format")

	// ErrEnvClosed indicates the environment has been closed.
	ErrEnvClosed = errors.New("environment closed")

	// ErrCommandRefused indicates the simulator answered a command with a
	// negative return code.
	ErrCommandRefused = errors.New("simulator refused command")
)

// TransportError indicates the connection to the simulator failed mid
// exchange. Transport errors are fatal to the session: there is no
// partial-frame recovery, and the caller must assume the simulator process
// is gone.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *TransportError) IsBridgeError() bool { return true }

// HandshakeError indicates a connecting peer presented the wrong identifier
// token, or the handshake exchange itself failed.
type HandshakeError struct {
	Got []byte
	Err error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge handshake failed: %v", e.Err)
	}

	return fmt.Sprintf("bridge handshake failed: unexpected identifier %q", e.Got)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *HandshakeError) IsBridgeError() bool { return true }

// ProcessError indicates the simulator subprocess failed.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("simulator process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("simulator process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ProcessError) IsBridgeError() bool { return true }

// DecodeError indicates a received frame could not be decoded into the
// declared format. This error preserves the raw data that failed to parse.
type DecodeError struct {
	Format  string
	RawData string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %q frame: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *DecodeError) IsBridgeError() bool { return true }

// StructInfoError indicates a simulator-native struct query failed or asked
// for a field outside the struct's schema. The affected command path returns
// an error-indicating record on the wire; this is its client-side form.
type StructInfoError struct {
	Kind string
	Key  string
}

func (e *StructInfoError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s struct query: invalid key %q", e.Kind, e.Key)
	}

	return fmt.Sprintf("%s struct query reported an error", e.Kind)
}

// IsBridgeError implements BridgeError.
func (e *StructInfoError) IsBridgeError() bool { return true }
