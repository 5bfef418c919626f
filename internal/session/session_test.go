package session

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/wolflab/simbridge-go/internal/errors"
	"github.com/wolflab/simbridge-go/internal/proto"
	"github.com/wolflab/simbridge-go/internal/wire"
)

// fakePeer plays the simulator side of the protocol over a real loopback
// connection.
type fakePeer struct {
	t     *testing.T
	conn  net.Conn
	codec *wire.Codec
}

func dialPeer(t *testing.T, addr string, id []byte) *fakePeer {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	codec := wire.NewCodec(conn)
	require.NoError(t, codec.WriteIdentifier(id))

	return &fakePeer{t: t, conn: conn, codec: codec}
}

// awaitHandshake consumes the controller's attach acknowledgement.
func (p *fakePeer) awaitHandshake() error {
	return p.codec.ReadStatus()
}

// serveOne answers a single command exchange with the given response
// values.
func (p *fakePeer) serveOne(out ...any) proto.Opcode {
	p.t.Helper()

	require.NoError(p.t, p.codec.WriteStatus())

	raw, err := p.codec.ReadOpcode()
	require.NoError(p.t, err)
	op := proto.Opcode(raw)

	require.NoError(p.t, p.codec.WriteStatus())

	cmd, ok := proto.Commands[op]
	require.True(p.t, ok)

	if cmd.In.IsNone() {
		require.NoError(p.t, p.codec.ReadStatus())
	} else {
		_, err := p.codec.ReadMessage(cmd.In)
		require.NoError(p.t, err)
	}

	if !cmd.Out.IsNone() {
		require.NoError(p.t, p.codec.WriteMessage(cmd.Out, out...))
	}

	return op
}

func (p *fakePeer) close() {
	_ = p.conn.Close()
}

func testSession(t *testing.T) *Session {
	t.Helper()

	s, err := Listen(slog.Default(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func attach(t *testing.T, s *Session) *fakePeer {
	t.Helper()

	accepted := make(chan error, 1)
	go func() { accepted <- s.Accept(context.Background()) }()

	peer := dialPeer(t, s.Addr(), wire.RunAPIClient)
	require.NoError(t, <-accepted)
	require.NoError(t, peer.awaitHandshake())

	return peer
}

func TestAcceptHandshake(t *testing.T) {
	s := testSession(t)

	require.False(t, s.Connected())

	peer := attach(t, s)
	defer peer.close()

	require.True(t, s.Connected())
	require.NotEmpty(t, s.ID())
}

func TestAcceptRejectsWrongIdentifier(t *testing.T) {
	s := testSession(t)

	accepted := make(chan error, 1)
	go func() { accepted <- s.Accept(context.Background()) }()

	// A network-loader attach must be dropped without consuming the wait.
	stray := dialPeer(t, s.Addr(), wire.NetworkLoaderClient)
	defer stray.close()

	select {
	case err := <-accepted:
		t.Fatalf("accept returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	peer := dialPeer(t, s.Addr(), wire.RunAPIClient)
	defer peer.close()

	require.NoError(t, <-accepted)
	require.NoError(t, peer.awaitHandshake())
}

func TestAcceptAbandonsSilentDialer(t *testing.T) {
	s := testSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan error, 1)
	go func() { accepted <- s.Accept(ctx) }()

	// Dials but never sends an identifier.
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-accepted:
		t.Fatalf("accept returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// Cancellation must sever the half-open connection and unblock the
	// wait.
	cancel()

	select {
	case err := <-accepted:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("accept ignored cancellation while reading the identifier")
	}
}

func TestStatusReadableWhileAccepting(t *testing.T) {
	s := testSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan error, 1)
	go func() { accepted <- s.Accept(ctx) }()

	time.Sleep(50 * time.Millisecond)

	// The counters must answer while the accept wait is in progress.
	probed := make(chan bool, 1)
	go func() { probed <- s.Connected() }()

	select {
	case connected := <-probed:
		require.False(t, connected)
		require.Zero(t, s.Commands())
	case <-time.After(time.Second):
		t.Fatal("status query blocked during accept")
	}

	cancel()
	require.ErrorIs(t, <-accepted, context.Canceled)
}

func TestAcceptHonorsContext(t *testing.T) {
	s := testSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Accept(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendCommandFixedExchange(t *testing.T) {
	s := testSession(t)
	peer := attach(t, s)
	defer peer.close()

	go peer.serveOne(101)

	out, err := s.SendCommand(context.Background(), proto.VehAdd, 7, 2, 1, 0.0, 30.0, 4, true)
	require.NoError(t, err)
	require.Equal(t, []any{101}, out)
	require.Equal(t, int64(1), s.Commands())
}

func TestSendCommandStringExchange(t *testing.T) {
	s := testSession(t)
	peer := attach(t, s)
	defer peer.close()

	served := make(chan struct{})
	go func() { defer close(served); peer.serveOne("12:34:56") }()

	out, err := s.SendCommand(context.Background(), proto.VehGetEnteredIDs)
	require.NoError(t, err)
	require.Equal(t, []any{"12:34:56"}, out)
	<-served
}

func TestSendCommandCustomPacketSize(t *testing.T) {
	s := testSession(t)
	s.SetPacketSize(8)

	peer := attach(t, s)
	defer peer.close()
	peer.codec.SetPacketSize(8)

	// Long enough to span several chunks.
	ids := "100:101:102:103:104:105:106:107:108:109"
	served := make(chan struct{})
	go func() { defer close(served); peer.serveOne(ids) }()

	out, err := s.SendCommand(context.Background(), proto.VehGetEnteredIDs)
	require.NoError(t, err)
	require.Equal(t, []any{ids}, out)
	<-served
}

func TestSendCommandNoResponse(t *testing.T) {
	s := testSession(t)
	peer := attach(t, s)
	defer peer.close()

	served := make(chan proto.Opcode, 1)
	go func() { served <- peer.serveOne() }()

	out, err := s.SendCommand(context.Background(), proto.SimulationStep)
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, proto.SimulationStep, <-served)
	require.Equal(t, int64(1), s.Steps())
}

func TestSendCommandUnknownOpcode(t *testing.T) {
	s := testSession(t)
	peer := attach(t, s)
	defer peer.close()

	_, err := s.SendCommand(context.Background(), proto.Opcode(0x0fffffff))
	require.ErrorIs(t, err, bridgeerrors.ErrUnknownOpcode)

	// A rejected opcode touches no wire state, the session stays usable.
	go peer.serveOne(3)

	out, err := s.SendCommand(context.Background(), proto.VehRemove, 12)
	require.NoError(t, err)
	require.Equal(t, []any{3}, out)
}

func TestResetReattaches(t *testing.T) {
	s := testSession(t)
	peer := attach(t, s)

	// The far end answers the reset, then its process dies and a
	// recycled one dials back in.
	go func() {
		peer.serveOne()
		peer.close()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := s.SendCommand(context.Background(), proto.SimulationReset)
		done <- err
	}()

	recycled := dialPeer(t, s.Addr(), wire.RunAPIClient)
	defer recycled.close()

	require.NoError(t, <-done)
	require.NoError(t, recycled.awaitHandshake())
	require.True(t, s.Connected())

	go recycled.serveOne(5)

	out, err := s.SendCommand(context.Background(), proto.TLGetState, 1)
	require.NoError(t, err)
	require.Equal(t, []any{5}, out)
}

func TestTransportFailurePoisonsSession(t *testing.T) {
	s := testSession(t)
	peer := attach(t, s)

	peer.close()

	_, err := s.SendCommand(context.Background(), proto.SimulationStep)
	require.Error(t, err)

	var terr *bridgeerrors.TransportError
	require.ErrorAs(t, err, &terr)
	require.ErrorIs(t, s.FatalError(), err)
	require.False(t, s.Connected())

	// Every later call fails with the stored error.
	_, again := s.SendCommand(context.Background(), proto.SimulationStep)
	require.ErrorIs(t, again, err)
}

func TestSendCommandBeforeAccept(t *testing.T) {
	s := testSession(t)

	_, err := s.SendCommand(context.Background(), proto.SimulationStep)
	require.ErrorIs(t, err, bridgeerrors.ErrSessionNotConnected)
}

func TestClosedSession(t *testing.T) {
	s := testSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.SendCommand(context.Background(), proto.SimulationStep)
	require.ErrorIs(t, err, bridgeerrors.ErrSessionClosed)

	err = s.Accept(context.Background())
	require.ErrorIs(t, err, bridgeerrors.ErrSessionClosed)
}
