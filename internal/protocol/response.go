package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Response answers one Instruction.
//
// On the station side Message holds any JSON-encodable value. After
// DecodeResponse it holds the raw json.RawMessage, which Into converts to a
// concrete type.
type Response struct {
	Message any          `json:"message,omitempty"`
	Error   *RemoteError `json:"error,omitempty"`
}

// OK builds a successful response.
func OK(message any) Response {
	return Response{Message: message}
}

// Fail builds a failed response.
func Fail(err *RemoteError) Response {
	return Response{Error: err}
}

// Partial builds a batch response carrying the successful subset and, when
// any entry failed, an ErrBatch descriptor.
func Partial(message any, failures map[string]string) Response {
	resp := Response{Message: message}
	if len(failures) > 0 {
		resp.Error = Batch(failures)
	}
	return resp
}

// Err returns the descriptor as an error, or nil on success.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Into decodes the message into target. An absent message leaves target
// untouched.
func (r Response) Into(target any) error {
	var raw []byte
	switch m := r.Message.(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = m
	default:
		encoded, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("re-encoding response message: %w", err)
		}
		raw = encoded
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: decoding response message: %w", ErrProtocol, err)
	}
	return nil
}

// Raw returns the message as encoded JSON.
func (r Response) Raw() (json.RawMessage, error) {
	switch m := r.Message.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return m, nil
	default:
		return json.Marshal(m)
	}
}

// EncodeInstruction serialises an instruction.
func EncodeInstruction(in Instruction) ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding instruction: %w", err)
	}
	return data, nil
}

// DecodeInstruction parses and validates an instruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	var in Instruction
	if err := json.Unmarshal(data, &in); err != nil {
		return Instruction{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if err := in.Validate(); err != nil {
		return Instruction{}, err
	}
	return in, nil
}

// EncodeResponse serialises a response.
func EncodeResponse(r Response) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a response, keeping its message raw.
func DecodeResponse(data []byte) (Response, error) {
	var wire struct {
		Message json.RawMessage `json:"message"`
		Error   *RemoteError    `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	resp := Response{Error: wire.Error}
	if len(wire.Message) > 0 {
		resp.Message = wire.Message
	}
	return resp, nil
}
