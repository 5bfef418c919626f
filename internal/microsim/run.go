package microsim

import (
	"context"
	"log/slog"
	"net"

	"github.com/wolflab/simbridge-go/internal/dispatch"
	"github.com/wolflab/simbridge-go/internal/errors"
	"github.com/wolflab/simbridge-go/internal/wire"
)

// Run attaches the simulation to a controller at addr and serves its
// command loop until a terminate order or a transport failure. A reset
// order recycles the simulation the way a real simulator process would:
// drop the connection, reset state, dial back in.
func Run(ctx context.Context, log *slog.Logger, sim *Sim, addr string) error {
	log = log.With("component", "microsim")
	d := dispatch.New(log, sim, sim.Events())

	for {
		again, err := serveConn(ctx, log, d, sim, addr)
		if err != nil || !again {
			return err
		}

		sim.Reset()
	}
}

// serveConn runs one connection lifetime: dial, handshake, command loop.
// It reports whether a reset order asked for a fresh connection.
func serveConn(ctx context.Context, log *slog.Logger, d *dispatch.Dispatcher, sim *Sim, addr string) (bool, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, &errors.TransportError{Op: "dial", Err: err}
	}
	defer conn.Close()

	// Cancellation severs the connection, which unblocks the loop.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	codec := wire.NewCodec(conn)

	if err := codec.WriteIdentifier(wire.RunAPIClient); err != nil {
		return false, err
	}

	if err := codec.ReadStatus(); err != nil {
		return false, &errors.HandshakeError{Err: err}
	}

	log.Info("Attached to controller", "addr", addr)

	for {
		order, err := d.RunStep(codec)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}

			return false, err
		}

		switch order {
		case dispatch.OrderStep:
			sim.Advance()
		case dispatch.OrderReset:
			log.Info("Reset ordered, recycling")

			return true, nil
		case dispatch.OrderTerminate:
			log.Info("Terminate ordered")

			return false, nil
		}
	}
}
