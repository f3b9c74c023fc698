package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound (backend -> companion).
const (
	TypeUpdateConfig         = "update_config"
	TypeUpdateRegistry       = "update_registry"
	TypeUpdateFuseConfig     = "update_fuse_config"
	TypeUpdateAutorunConfig  = "update_autorun_config"
	TypeAutorunStatus        = "autorun_status"
	TypeUpdateGameState      = "update_gamestate"
	TypeOpenResult           = "open_result"
	TypeUIToast              = "ui_toast"
	TypeAutorunControlResult = "autorun_control_result"
	TypeDiscardAdvice        = "discard_recommendation"
)

// Outbound (companion -> backend).
const (
	TypeEditConfig     = "edit_config"
	TypeRequestUpdate  = "request_update"
	TypeOpenConfigDir  = "open_config_dir"
	TypeAutorunControl = "autorun_control"
)

// Both directions.
const TypeKeepAlive = "keep_alive"

// Direction tells which way a frame travelled.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

var ErrMissingType = errors.New("envelope has no type")

var emptyObject = json.RawMessage("{}")

// Envelope is one wire frame: {"type": ..., "data": ...}. Data stays
// raw so any payload shape survives a decode/encode round trip.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeError reports a frame that could not be turned into an Envelope.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// New builds an envelope, marshalling payload. A nil payload becomes {}.
func New(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ, Data: emptyObject}, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Envelope{Type: typ, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Data: data}, nil
}

// KeepAlive is the heartbeat envelope.
func KeepAlive() Envelope {
	return Envelope{Type: TypeKeepAlive, Data: emptyObject}
}

// Encode serializes env to a single newline-free text frame.
func Encode(env Envelope) (string, error) {
	if env.Type == "" {
		return "", ErrMissingType
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return string(b), nil
}

// Decode parses a text frame. Anything that is not a JSON object with
// a non-empty string "type" yields a *DecodeError.
func Decode(frame string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		return Envelope{}, &DecodeError{Frame: frame, Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &DecodeError{Frame: frame, Err: ErrMissingType}
	}
	return env, nil
}

// Bind decodes the payload into v. An absent or null payload leaves v
// untouched.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || bytes.Equal(bytes.TrimSpace(e.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("bind %s payload: %w", e.Type, err)
	}
	return nil
}

// IsKeepAlive is a cheap check for heartbeat frames, used to keep them
// out of persisted traces. Only short object frames are inspected.
func IsKeepAlive(frame string) bool {
	if len(frame) > 128 || len(frame) == 0 || frame[0] != '{' {
		return false
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(frame), &head); err != nil {
		return false
	}
	return head.Type == TypeKeepAlive
}
