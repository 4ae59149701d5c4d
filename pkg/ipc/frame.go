package ipc

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Frame is one decoded protocol message: a request, a response or an
// event. Type carries numeric codes (i3-style protocols), Name carries
// textual tags (Hyprland event names, Wayfire methods). Length is the
// payload size as exchanged on the wire.
type Frame struct {
	Type    uint32
	Name    string
	Payload []byte
	Length  int
}

// NewFrame builds a frame with a consistent Length.
func NewFrame(typ uint32, name string, payload []byte) Frame {
	return Frame{Type: typ, Name: name, Payload: payload, Length: len(payload)}
}

// JSONFrame marshals v as the frame payload.
func JSONFrame(typ uint32, name string, v any) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s request: %w", name, err)
	}
	return NewFrame(typ, name, payload), nil
}

// Decode unmarshals the payload into v.
func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode frame payload: %w", err)
	}
	return nil
}

// Document returns the payload as a generic JSON tree.
func (f Frame) Document() (any, error) {
	var doc any
	if err := f.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Get looks up a gjson path in the payload.
func (f Frame) Get(path string) gjson.Result {
	return gjson.GetBytes(f.Payload, path)
}

func (f Frame) String() string {
	if f.Name != "" {
		return fmt.Sprintf("%s(%d bytes)", f.Name, len(f.Payload))
	}
	return fmt.Sprintf("type %#x(%d bytes)", f.Type, len(f.Payload))
}

func checkLength(op string, f Frame) error {
	if f.Length != 0 && f.Length != len(f.Payload) {
		return protocolError(op, "declared length %d, payload is %d bytes", f.Length, len(f.Payload))
	}
	return nil
}
