// Package session implements the controller side of the bridge protocol.
//
// The controller owns a TCP listener; the simulator process dials in,
// presents its identifier token and is acknowledged. From then on the
// session issues one command per call and blocks for its response. There
// is no pipelining and no retry: a transport error is fatal, the caller
// must assume the simulator process is gone and restart it.
package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wolflab/simbridge-go/internal/errors"
	"github.com/wolflab/simbridge-go/internal/proto"
	"github.com/wolflab/simbridge-go/internal/wire"
)

// acceptPollInterval bounds how long Accept stays blocked before it checks
// the context again.
const acceptPollInterval = 250 * time.Millisecond

// Session is one controller-to-simulator connection lifecycle: accept and
// handshake, many synchronous command exchanges, then termination or a
// reset that closes and re-establishes the connection.
type Session struct {
	log      *slog.Logger
	id       string
	listener net.Listener

	// cmdMu serializes command exchanges and connection establishment;
	// it is held for the full duration of a blocking call.
	cmdMu sync.Mutex

	// mu guards the connection state with short holds, so status
	// queries answer while a command or an accept is in flight.
	mu         sync.Mutex
	conn       net.Conn
	codec      *wire.Codec
	closed     bool
	fatalErr   error
	packetSize int

	commandCount atomic.Int64
	stepCount    atomic.Int64
}

// Listen opens the controller's listener. The simulator process is
// expected to dial the returned address and present the run-api
// identifier.
func Listen(log *slog.Logger, addr string) (*Session, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &errors.TransportError{Op: "listen", Err: err}
	}

	s := &Session{
		log:      log.With("component", "session"),
		id:       ulid.Make().String(),
		listener: listener,
	}

	s.log.Info("Session listening", "session_id", s.id, "addr", listener.Addr().String())

	return s, nil
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// Addr returns the address the simulator must dial.
func (s *Session) Addr() string {
	return s.listener.Addr().String()
}

// Commands returns the number of command exchanges issued so far.
func (s *Session) Commands() int64 {
	return s.commandCount.Load()
}

// Steps returns the number of step commands issued so far.
func (s *Session) Steps() int64 {
	return s.stepCount.Load()
}

// SetPacketSize overrides the string chunk size for connections accepted
// from now on. The simulator must be configured with the same value.
func (s *Session) SetPacketSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetSize = n
}

// Accept blocks until a run-api client connects and completes the
// identifier handshake. Connections presenting any other identifier are
// dropped and the wait continues, so a stray network-loader attach cannot
// steal the session.
func (s *Session) Accept(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.isClosed() {
		return errors.ErrSessionClosed
	}

	return s.accept(ctx)
}

// accept runs the accept-and-handshake wait. Caller holds cmdMu.
func (s *Session) accept(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if deadliner, ok := s.listener.(*net.TCPListener); ok {
			_ = deadliner.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			return &errors.TransportError{Op: "accept", Err: err}
		}

		codec, err := s.handshake(ctx, conn)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.codec = codec
		s.mu.Unlock()

		s.log.Info("Simulator attached", "session_id", s.id, "remote", conn.RemoteAddr().String())

		return nil
	}
}

// handshake reads and checks the identifier on a freshly accepted
// connection, then acknowledges the attach. Cancellation severs the
// connection, so a dialer that never sends its identifier cannot wedge
// the wait.
func (s *Session) handshake(ctx context.Context, conn net.Conn) (*wire.Codec, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	codec := wire.NewCodec(conn)

	s.mu.Lock()
	if s.packetSize > 0 {
		codec.SetPacketSize(s.packetSize)
	}
	s.mu.Unlock()

	id, err := codec.ReadIdentifier()
	if err != nil {
		s.log.Debug("Dropping connection without identifier", "error", err)
		_ = conn.Close()

		return nil, err
	}

	if !bytes.Equal(id, wire.RunAPIClient) {
		s.log.Warn("Dropping connection with wrong identifier", "identifier", string(bytes.TrimRight(id, "\x00")))
		_ = conn.Close()

		return nil, &errors.HandshakeError{Got: id}
	}

	// Acknowledge the attach.
	if err := codec.WriteStatus(); err != nil {
		_ = conn.Close()

		return nil, err
	}

	return codec, nil
}

// SendCommand issues one command and blocks for its response. The payload
// formats come from the shared opcode table; values must match the
// command's input format. For commands without an output format the
// returned slice is nil.
//
// A transport failure poisons the session: the connection is closed and
// every later call fails with the stored fatal error.
func (s *Session) SendCommand(ctx context.Context, op proto.Opcode, values ...any) ([]any, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	out, err := s.sendCommand(ctx, op, values...)
	if err != nil {
		return nil, err
	}

	// Reset recycles the simulator: the connection just closed on the far
	// end, block here until the recycled process reattaches.
	if op == proto.SimulationReset {
		s.mu.Lock()
		s.teardownConn()
		s.mu.Unlock()

		if err := s.accept(ctx); err != nil {
			return nil, fmt.Errorf("reattach after reset: %w", err)
		}
	}

	return out, nil
}

// sendCommand runs one exchange against the attached connection. Caller
// holds cmdMu.
func (s *Session) sendCommand(ctx context.Context, op proto.Opcode, values ...any) ([]any, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()

		return nil, errors.ErrSessionClosed
	case s.fatalErr != nil:
		fatal := s.fatalErr
		s.mu.Unlock()

		return nil, fatal
	case s.conn == nil:
		s.mu.Unlock()

		return nil, errors.ErrSessionNotConnected
	}

	conn, codec := s.conn, s.codec
	s.mu.Unlock()

	cmd, known := proto.Commands[op]
	if !known {
		return nil, fmt.Errorf("%w: %#x", errors.ErrUnknownOpcode, int32(op))
	}

	// A context deadline bounds the whole exchange; the protocol itself
	// defines no timeout for a stalled peer.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	s.log.Debug("Sending command", "command", cmd.Name)
	s.commandCount.Add(1)

	if op == proto.SimulationStep {
		s.stepCount.Add(1)
	}

	out, err := s.exchange(codec, cmd, op, values)
	if err != nil {
		// No partial-frame recovery exists: poison the session.
		s.mu.Lock()
		s.fatalErr = err
		s.teardownConn()
		s.mu.Unlock()

		s.log.Error("Command failed, session poisoned", "command", cmd.Name, "error", err)

		return nil, err
	}

	return out, nil
}

// exchange runs the request->ack->payload->ack->response sequence for one
// command.
func (s *Session) exchange(codec *wire.Codec, cmd proto.Command, op proto.Opcode, values []any) ([]any, error) {
	// Wait for the simulator's ready token.
	if err := codec.ReadStatus(); err != nil {
		return nil, err
	}

	if err := codec.WriteOpcode(int32(op)); err != nil {
		return nil, err
	}

	// Wait for the acknowledgement.
	if err := codec.ReadStatus(); err != nil {
		return nil, err
	}

	if cmd.In.IsNone() {
		// No parameters: send a bare status instead.
		if err := codec.WriteStatus(); err != nil {
			return nil, err
		}
	} else if err := codec.WriteMessage(cmd.In, values...); err != nil {
		return nil, err
	}

	if cmd.Out.IsNone() {
		return nil, nil
	}

	return codec.ReadMessage(cmd.Out)
}

// FatalError returns the error that poisoned the session, if any.
func (s *Session) FatalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fatalErr
}

// Connected reports whether a simulator is currently attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn != nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// teardownConn closes and forgets the connection. Caller holds mu.
func (s *Session) teardownConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.codec = nil
	}
}

// Close tears down the connection and the listener. Safe to call more
// than once; the session cannot be reused afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.teardownConn()
	s.log.Info("Session closed", "session_id", s.id)

	return s.listener.Close()
}
