package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// frameHeaderSize is the length prefix of each part.
	frameHeaderSize = 4

	// MaxParts bounds the number of parts in one message.
	MaxParts = 16
)

// EncodeFrames packs parts into one multi-part message.
func EncodeFrames(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += frameHeaderSize + len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p))) //nolint:gosec // part sizes are bounded by the transport read limit
		out = append(out, p...)
	}
	return out
}

// DecodeFrames splits a multi-part message back into its parts.
func DecodeFrames(data []byte) ([][]byte, error) {
	var parts [][]byte
	for len(data) > 0 {
		if len(parts) == MaxParts {
			return nil, fmt.Errorf("%w: more than %d parts", ErrProtocol, MaxParts)
		}
		if len(data) < frameHeaderSize {
			return nil, fmt.Errorf("%w: truncated frame header", ErrProtocol)
		}
		n := binary.BigEndian.Uint32(data)
		data = data[frameHeaderSize:]
		if uint64(n) > uint64(len(data)) {
			return nil, fmt.Errorf("%w: part of %d bytes exceeds remaining %d", ErrProtocol, n, len(data))
		}
		parts = append(parts, data[:n])
		data = data[n:]
	}
	return parts, nil
}

// EncodeRequest frames an instruction with its request id.
func EncodeRequest(id string, in Instruction) ([]byte, error) {
	body, err := EncodeInstruction(in)
	if err != nil {
		return nil, err
	}
	return EncodeFrames([]byte(id), body), nil
}

// DecodeRequest unpacks a framed request. The id is returned even when the
// instruction is invalid, so the caller can still address its error reply.
func DecodeRequest(data []byte) (string, Instruction, error) {
	parts, err := DecodeFrames(data)
	if err != nil {
		return "", Instruction{}, err
	}
	if len(parts) != 2 {
		id := ""
		if len(parts) > 0 {
			id = string(parts[0])
		}
		return id, Instruction{}, fmt.Errorf("%w: request has %d parts, want 2", ErrProtocol, len(parts))
	}
	id := string(parts[0])
	in, err := DecodeInstruction(parts[1])
	return id, in, err
}

// EncodeReply frames a response with the request id it answers.
func EncodeReply(id string, r Response) ([]byte, error) {
	body, err := EncodeResponse(r)
	if err != nil {
		return nil, err
	}
	return EncodeFrames([]byte(id), body), nil
}

// DecodeReply unpacks a framed response.
func DecodeReply(data []byte) (string, Response, error) {
	parts, err := DecodeFrames(data)
	if err != nil {
		return "", Response{}, err
	}
	if len(parts) != 2 {
		return "", Response{}, fmt.Errorf("%w: reply has %d parts, want 2", ErrProtocol, len(parts))
	}
	resp, err := DecodeResponse(parts[1])
	if err != nil {
		return "", Response{}, err
	}
	return string(parts[0]), resp, nil
}
