// Package wire implements the framed message codec of the bridge protocol.
//
// Every value crossing the bridge is described by a Format. Fixed-width
// numeric and boolean fields are packed with a little-endian layout and sent
// as a single frame. Strings are sent in length-prefixed chunks bounded by
// PacketSize; after every chunk the receiver sends a status probe and the
// sender answers with a continuation token (TransferContinue or
// TransferDone), which the receiver acknowledges in turn. Dictionaries are
// JSON-serialized and transported over the string path.
//
// The protocol is strictly synchronous: each side alternates between exactly
// one write and one read, so frames never interleave on a session. A failed
// read or write is fatal to the session; no partial-frame recovery exists.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/wolflab/simbridge-go/internal/errors"
)

const (
	// PacketSize bounds the byte length of one chunk of a string transfer.
	PacketSize = 256

	// statusLen is the byte length of a status/ready/ack token.
	statusLen = 8

	// tokenLen is the byte length of a transfer-continuation token.
	tokenLen = 5

	// IdentifierLen is the byte length of the client identifier exchanged
	// at connection start.
	IdentifierLen = 16
)

// Status is the fixed token used for ready signals, acknowledgements and
// status probes. Its content is never inspected, only its length matters.
var Status = []byte("StatResp")

// Transfer-continuation tokens. Sent by the string sender after each chunk,
// in answer to the receiver's status probe.
var (
	// TransferDone signals that the last chunk has been sent.
	TransferDone = []byte("xfer0")
	// TransferContinue signals that more chunks follow.
	TransferContinue = []byte("xfer1")
)

// Client identifiers, padded to IdentifierLen. A connecting process
// presents one of these before any command exchange so the controller can
// tell a run-api client from a network-loader client.
var (
	RunAPIClient        = Identifier("run-api")
	NetworkLoaderClient = Identifier("net-loader")
)

// Identifier pads a name to the fixed identifier length.
func Identifier(name string) []byte {
	if len(name) > IdentifierLen {
		panic(fmt.Sprintf("identifier %q longer than %d bytes", name, IdentifierLen))
	}

	id := make([]byte, IdentifierLen)
	copy(id, name)

	return id
}

// Codec encodes and decodes bridge messages over a byte stream. A Codec is
// owned by exactly one session loop; it is not safe for concurrent use,
// which the single-outstanding command invariant already guarantees.
type Codec struct {
	rw io.ReadWriter

	// packetSize is overridable in tests to exercise chunking with short
	// payloads.
	packetSize int
}

// NewCodec creates a codec over the given stream.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw, packetSize: PacketSize}
}

// SetPacketSize overrides the chunk size bound. Both ends of a session must
// agree on the value.
func (c *Codec) SetPacketSize(n int) {
	if n <= 0 {
		panic("packet size must be positive")
	}

	c.packetSize = n
}

// WriteStatus sends a status/ready/ack token.
func (c *Codec) WriteStatus() error {
	return c.write("status", Status)
}

// ReadStatus consumes a status/ready/ack token from the peer.
func (c *Codec) ReadStatus() error {
	_, err := c.read("status", statusLen)

	return err
}

// WriteIdentifier sends a client identifier token.
func (c *Codec) WriteIdentifier(id []byte) error {
	if len(id) != IdentifierLen {
		return fmt.Errorf("identifier must be %d bytes, got %d", IdentifierLen, len(id))
	}

	return c.write("identifier", id)
}

// ReadIdentifier consumes a client identifier token.
func (c *Codec) ReadIdentifier() ([]byte, error) {
	return c.read("identifier", IdentifierLen)
}

// WriteOpcode sends a command opcode as a fixed 4-byte frame.
func (c *Codec) WriteOpcode(op int32) error {
	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], uint32(op))

	return c.write("opcode", buf[:])
}

// ReadOpcode consumes a command opcode.
func (c *Codec) ReadOpcode() (int32, error) {
	buf, err := c.read("opcode", 4)
	if err != nil {
		return 0, err
	}

	return int32(binary.LittleEndian.Uint32(buf)), nil
}

// WriteMessage encodes values per the format and sends them.
//
// Fixed-width values accept int/int32/int64 for Int fields, float32/float64
// for Float fields and bool for Bool fields. Str takes a single string,
// Dict a single map[string]any.
func (c *Codec) WriteMessage(f Format, values ...any) error {
	switch {
	case f.IsNone():
		if len(values) != 0 {
			return fmt.Errorf("%w: %d values for empty format", errors.ErrValueCount, len(values))
		}

		return nil

	case f.str:
		s, err := singleString(values)
		if err != nil {
			return err
		}

		return c.writeString(s)

	case f.dict:
		d, err := singleDict(values)
		if err != nil {
			return err
		}

		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal dict: %w", err)
		}

		return c.writeString(string(data))

	default:
		return c.writeFixed(f, values)
	}
}

// ReadMessage receives and decodes one message per the format.
//
// Int fields decode to int, Float fields to float64, Bool fields to bool.
// Str yields a single string, Dict a single map[string]any. An empty format
// yields no values.
func (c *Codec) ReadMessage(f Format) ([]any, error) {
	switch {
	case f.IsNone():
		return nil, nil

	case f.str:
		s, err := c.readString()
		if err != nil {
			return nil, err
		}

		return []any{s}, nil

	case f.dict:
		s, err := c.readString()
		if err != nil {
			return nil, err
		}

		var d map[string]any
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, &errors.DecodeError{Format: "dict", RawData: s, Err: err}
		}

		return []any{d}, nil

	default:
		return c.readFixed(f)
	}
}

// writeFixed packs all fields into a single frame.
func (c *Codec) writeFixed(f Format, values []any) error {
	if len(values) != len(f.fields) {
		return fmt.Errorf("%w: %d values for format %q", errors.ErrValueCount, len(values), f)
	}

	buf := bytes.NewBuffer(make([]byte, 0, f.size()))

	for i, kind := range f.fields {
		switch kind {
		case Int:
			v, ok := toInt32(values[i])
			if !ok {
				return fmt.Errorf("field %d of %q: want integer, got %T", i, f, values[i])
			}

			var b [4]byte

			binary.LittleEndian.PutUint32(b[:], uint32(v))
			buf.Write(b[:])

		case Float:
			v, ok := toFloat32(values[i])
			if !ok {
				return fmt.Errorf("field %d of %q: want float, got %T", i, f, values[i])
			}

			var b [4]byte

			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			buf.Write(b[:])

		case Bool:
			v, ok := values[i].(bool)
			if !ok {
				return fmt.Errorf("field %d of %q: want bool, got %T", i, f, values[i])
			}

			if v {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}

	return c.write("fixed frame", buf.Bytes())
}

// readFixed reads one packed frame and unpacks its fields.
func (c *Codec) readFixed(f Format) ([]any, error) {
	data, err := c.read("fixed frame", f.size())
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(f.fields))

	for _, kind := range f.fields {
		switch kind {
		case Int:
			values = append(values, int(int32(binary.LittleEndian.Uint32(data[:4]))))
			data = data[4:]

		case Float:
			values = append(values, float64(math.Float32frombits(binary.LittleEndian.Uint32(data[:4]))))
			data = data[4:]

		case Bool:
			values = append(values, data[0] != 0)
			data = data[1:]
		}
	}

	return values, nil
}

// writeString sends a string through the chunked transfer path. Every chunk
// round-trips a status probe and a continuation token before the next one.
func (c *Codec) writeString(s string) error {
	msg := []byte(s)

	for len(msg) > c.packetSize {
		if err := c.writeChunk(msg[:c.packetSize]); err != nil {
			return err
		}

		msg = msg[c.packetSize:]

		// Wait for the receiver's probe, announce more data, then wait
		// for the token to be acknowledged.
		if err := c.ReadStatus(); err != nil {
			return err
		}

		if err := c.write("continue token", TransferContinue); err != nil {
			return err
		}

		if err := c.ReadStatus(); err != nil {
			return err
		}
	}

	// Final chunk, possibly empty, followed by the DONE exchange.
	if err := c.writeChunk(msg); err != nil {
		return err
	}

	if err := c.ReadStatus(); err != nil {
		return err
	}

	if err := c.write("done token", TransferDone); err != nil {
		return err
	}

	return c.ReadStatus()
}

// readString accumulates chunks until the sender signals TransferDone.
func (c *Codec) readString() (string, error) {
	var sb bytes.Buffer

	for {
		chunk, err := c.readChunk()
		if err != nil {
			return "", err
		}

		sb.Write(chunk)

		// Probe for status, then read and acknowledge the token.
		if err := c.WriteStatus(); err != nil {
			return "", err
		}

		token, err := c.read("transfer token", tokenLen)
		if err != nil {
			return "", err
		}

		if err := c.WriteStatus(); err != nil {
			return "", err
		}

		if bytes.Equal(token, TransferDone) {
			return sb.String(), nil
		}

		if !bytes.Equal(token, TransferContinue) {
			return "", &errors.DecodeError{
				Format:  "str",
				RawData: string(token),
				Err:     fmt.Errorf("unexpected transfer token %q", token),
			}
		}
	}
}

// writeChunk sends one length-prefixed chunk.
func (c *Codec) writeChunk(chunk []byte) error {
	var b [4]byte

	binary.LittleEndian.PutUint32(b[:], uint32(len(chunk)))

	if err := c.write("chunk length", b[:]); err != nil {
		return err
	}

	if len(chunk) == 0 {
		return nil
	}

	return c.write("chunk", chunk)
}

// readChunk reads one length-prefixed chunk.
func (c *Codec) readChunk() ([]byte, error) {
	b, err := c.read("chunk length", 4)
	if err != nil {
		return nil, err
	}

	n := binary.LittleEndian.Uint32(b)
	if n > uint32(c.packetSize) {
		return nil, &errors.DecodeError{
			Format: "str",
			Err:    fmt.Errorf("chunk length %d exceeds packet size %d", n, c.packetSize),
		}
	}

	if n == 0 {
		return nil, nil
	}

	return c.read("chunk", int(n))
}

// write sends raw bytes, mapping any failure to a fatal transport error.
func (c *Codec) write(op string, data []byte) error {
	if _, err := c.rw.Write(data); err != nil {
		return &errors.TransportError{Op: "write " + op, Err: err}
	}

	return nil
}

// read receives exactly n raw bytes, mapping any failure (including a short
// read on a closed connection) to a fatal transport error.
func (c *Codec) read(op string, n int) ([]byte, error) {
	data := make([]byte, n)

	if _, err := io.ReadFull(c.rw, data); err != nil {
		return nil, &errors.TransportError{Op: "read " + op, Err: err}
	}

	return data, nil
}

func toInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int:
		return int32(n), true
	case int32:
		return n, true
	case int64:
		return int32(n), true
	default:
		return 0, false
	}
}

func toFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	case int:
		return float32(n), true
	default:
		return 0, false
	}
}

func singleString(values []any) (string, error) {
	if len(values) != 1 {
		return "", fmt.Errorf("%w: %d values for format \"str\"", errors.ErrValueCount, len(values))
	}

	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("format \"str\": want string, got %T", values[0])
	}

	return s, nil
}

func singleDict(values []any) (map[string]any, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %d values for format \"dict\"", errors.ErrValueCount, len(values))
	}

	d, ok := values[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("format \"dict\": want map[string]any, got %T", values[0])
	}

	return d, nil
}
