package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

// Type discriminates envelopes
type Type string

const (
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypePush     Type = "push"
)

// Known reports whether t is one of the protocol's envelope types.
func (t Type) Known() bool {
	switch t {
	case TypeRequest, TypeResponse, TypePush:
		return true
	}
	return false
}

// Envelope is the unit crossing the trust boundary.
type Envelope struct {
	Type   Type            `json:"type"`
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`

	// raw holds the exact bytes an inbound envelope was decoded from
	raw []byte
}

// MaxEnvelopeSize bounds a single inbound payload.
const MaxEnvelopeSize = 1 << 20

var envelopeKeys = []string{"type", "id", "method", "params", "result", "error"}

// Decode parses raw text into an envelope, keeping the original bytes.
func Decode(raw string) (Envelope, error) {
	if len(raw) > MaxEnvelopeSize {
		return Envelope{}, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedEnvelope, len(raw), MaxEnvelopeSize)
	}
	if !utf8.ValidString(raw) {
		return Envelope{}, fmt.Errorf("%w: payload is not valid UTF-8 text", ErrMalformedEnvelope)
	}

	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedEnvelope)
	}

	if err := checkKeys(string(trimmed)); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var env Envelope
	if err := sonic.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	env.raw = []byte(raw)

	return env, nil
}

// checkKeys rejects top-level keys the decoder would fold together, so the
// decoded fields always agree with the text that gets forwarded.
func checkKeys(data string) error {
	root, err := sonic.GetFromString(data)
	if err != nil {
		return err
	}
	props, err := root.Properties()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(envelopeKeys))
	var pair ast.Pair
	for props.Next(&pair) {
		if _, dup := seen[pair.Key]; dup {
			return fmt.Errorf("duplicate key %q", pair.Key)
		}
		seen[pair.Key] = struct{}{}

		for _, key := range envelopeKeys {
			if pair.Key != key && strings.EqualFold(pair.Key, key) {
				return fmt.Errorf("key %q differs from %q only by case", pair.Key, key)
			}
		}
	}
	return nil
}

// Bytes returns the wire form. Decoded envelopes return their original
// bytes untouched; constructed envelopes are marshalled.
func (e Envelope) Bytes() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	return sonic.Marshal(e)
}

// Raw returns the bytes the envelope was decoded from, or nil.
func (e Envelope) Raw() []byte {
	return e.raw
}

// NewResponse builds a response correlated to a request id.
func NewResponse(id json.RawMessage, result any) (Envelope, error) {
	data, err := sonic.Marshal(result)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode result: %w", err)
	}
	return Envelope{Type: TypeResponse, ID: id, Result: data}, nil
}

// NewErrorResponse builds a response carrying an error message.
func NewErrorResponse(id json.RawMessage, message string) Envelope {
	data, _ := sonic.Marshal(message)
	return Envelope{Type: TypeResponse, ID: id, Error: data}
}

// NewPush builds an unsolicited host-to-sandbox event.
func NewPush(event string, data any) (Envelope, error) {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode push: %w", err)
	}
	return Envelope{Type: TypePush, Method: event, Result: payload}, nil
}
