package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// MaxPayload bounds declared payload lengths. Anything larger means the
// stream is out of sync.
const MaxPayload = 64 << 20

// Codec converts frames to and from a compositor's wire framing.
type Codec interface {
	Encode(Frame) ([]byte, error)
	Decode(Reader) (Frame, error)
}

// I3Magic prefixes every i3/Sway IPC message.
const I3Magic = "i3-ipc"

const i3HeaderSize = len(I3Magic) + 8

// I3Codec frames messages as magic, little-endian payload length,
// little-endian type code, then the payload.
type I3Codec struct{}

func (I3Codec) Encode(f Frame) ([]byte, error) {
	if err := checkLength("encode i3", f); err != nil {
		return nil, err
	}
	buf := make([]byte, i3HeaderSize, i3HeaderSize+len(f.Payload))
	copy(buf, I3Magic)
	binary.LittleEndian.PutUint32(buf[len(I3Magic):], uint32(len(f.Payload)))
	binary.LittleEndian.PutUint32(buf[len(I3Magic)+4:], f.Type)
	return append(buf, f.Payload...), nil
}

func (I3Codec) Decode(r Reader) (Frame, error) {
	header, err := r.ReadExact(i3HeaderSize)
	if err != nil {
		return Frame{}, err
	}
	if string(header[:len(I3Magic)]) != I3Magic {
		return Frame{}, protocolError("decode i3", "bad magic %q", header[:len(I3Magic)])
	}
	n := binary.LittleEndian.Uint32(header[len(I3Magic):])
	typ := binary.LittleEndian.Uint32(header[len(I3Magic)+4:])
	if n > MaxPayload {
		return Frame{}, protocolError("decode i3", "payload length %d exceeds %d", n, MaxPayload)
	}
	payload, err := readPayload(r, int(n))
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: typ, Payload: payload, Length: int(n)}, nil
}

// LineCodec frames each message as one compact JSON document followed by
// a newline.
type LineCodec struct{}

func (LineCodec) Encode(f Frame) ([]byte, error) {
	if err := checkLength("encode line", f); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, f.Payload); err != nil {
		return nil, protocolError("encode line", "payload is not JSON: %v", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (LineCodec) Decode(r Reader) (Frame, error) {
	line, err := r.ReadLine()
	if err != nil {
		return Frame{}, err
	}
	if !json.Valid(line) {
		return Frame{}, protocolError("decode line", "malformed JSON %q", truncate(line))
	}
	return Frame{Payload: line, Length: len(line)}, nil
}

// LengthPrefixCodec frames a JSON document behind a 4-byte little-endian
// length (Wayfire).
type LengthPrefixCodec struct{}

func (LengthPrefixCodec) Encode(f Frame) ([]byte, error) {
	if err := checkLength("encode length-prefixed", f); err != nil {
		return nil, err
	}
	if !json.Valid(f.Payload) {
		return nil, protocolError("encode length-prefixed", "payload is not JSON")
	}
	buf := make([]byte, 4, 4+len(f.Payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(f.Payload)))
	return append(buf, f.Payload...), nil
}

func (LengthPrefixCodec) Decode(r Reader) (Frame, error) {
	header, err := r.ReadExact(4)
	if err != nil {
		return Frame{}, err
	}
	n := binary.LittleEndian.Uint32(header)
	if n > MaxPayload {
		return Frame{}, protocolError("decode length-prefixed", "payload length %d exceeds %d", n, MaxPayload)
	}
	payload, err := readPayload(r, int(n))
	if err != nil {
		return Frame{}, err
	}
	if !json.Valid(payload) {
		return Frame{}, protocolError("decode length-prefixed", "malformed JSON %q", truncate(payload))
	}
	return Frame{Payload: payload, Length: int(n)}, nil
}

// EventLineCodec frames text events as "name<sep>data\n", the format of
// Hyprland's event socket.
type EventLineCodec struct {
	Sep string
}

func (c EventLineCodec) Encode(f Frame) ([]byte, error) {
	if err := checkLength("encode event line", f); err != nil {
		return nil, err
	}
	if f.Name == "" || strings.Contains(f.Name, c.Sep) || bytes.IndexByte(f.Payload, '\n') >= 0 {
		return nil, protocolError("encode event line", "cannot frame event %q", f.Name)
	}
	buf := make([]byte, 0, len(f.Name)+len(c.Sep)+len(f.Payload)+1)
	buf = append(buf, f.Name...)
	buf = append(buf, c.Sep...)
	buf = append(buf, f.Payload...)
	return append(buf, '\n'), nil
}

func (c EventLineCodec) Decode(r Reader) (Frame, error) {
	for {
		line, err := r.ReadLine()
		if err != nil {
			return Frame{}, err
		}
		if len(line) == 0 {
			continue
		}
		name, data, ok := bytes.Cut(line, []byte(c.Sep))
		if !ok || len(name) == 0 {
			return Frame{}, protocolError("decode event line", "missing %q in %q", c.Sep, truncate(line))
		}
		return Frame{Name: string(name), Payload: data, Length: len(data)}, nil
	}
}

// RawCodec writes the payload verbatim and reads the reply until the peer
// closes the stream. It only suits one-shot connections.
type RawCodec struct{}

func (RawCodec) Encode(f Frame) ([]byte, error) {
	if err := checkLength("encode raw", f); err != nil {
		return nil, err
	}
	return f.Payload, nil
}

func (RawCodec) Decode(r Reader) (Frame, error) {
	payload, err := r.ReadAll()
	if err != nil {
		return Frame{}, err
	}
	if len(payload) == 0 {
		return Frame{}, protocolError("decode raw", "empty reply")
	}
	return Frame{Payload: payload, Length: len(payload)}, nil
}

// readPayload reads the body of a frame whose header was already read, so
// any end of stream is unexpected.
func readPayload(r Reader, n int) ([]byte, error) {
	b, err := r.ReadExact(n)
	if errors.Is(err, io.EOF) {
		return nil, ioError("read", io.ErrUnexpectedEOF)
	}
	return b, err
}

func truncate(b []byte) []byte {
	const limit = 120
	if len(b) > limit {
		return b[:limit]
	}
	return b
}
