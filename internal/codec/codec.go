// Package codec implements the opaque payload encoding shared by producers
// and the consumer engine.
//
// The source project pickles a Python dict of (args, kwargs) straight onto
// the wire, which is unsafe to expose to producers the consumer doesn't
// trust. This package replaces that with a version-tagged, length-prefixed
// envelope: a one-byte format version, followed by two frames, each a 4-byte
// big-endian length and then that many bytes of JSON: first a JSON array for
// positional args, then a JSON object for keyword args. JSON keeps the schema
// self-describing without pulling in a third-party object serializer for a
// problem this narrow (see DESIGN.md).
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// version1 is the only envelope format defined so far. Bumping it lets a
// future consumer reject payloads written by an incompatible producer
// instead of silently misinterpreting them.
const version1 byte = 1

// Encode serializes positional and keyword arguments into an opaque byte
// string suitable for storage in the params column.
func Encode(args []any, kwargs map[string]any) ([]byte, error) {
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal args: %w", err)
	}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal kwargs: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte(version1)
	writeFrame(&buf, argsJSON)
	writeFrame(&buf, kwargsJSON)
	return buf.Bytes(), nil
}

// Decode reverses Encode. It returns an error for truncated frames or a
// version byte it does not recognize, so a producer/consumer mismatch fails
// loudly instead of corrupting task arguments.
func Decode(data []byte) (args []any, kwargs map[string]any, err error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("codec: empty payload")
	}
	if data[0] != version1 {
		return nil, nil, fmt.Errorf("codec: unsupported envelope version %d", data[0])
	}
	rest := data[1:]

	argsJSON, rest, err := readFrame(rest)
	if err != nil {
		return nil, nil, fmt.Errorf("codec: read args frame: %w", err)
	}
	kwargsJSON, rest, err := readFrame(rest)
	if err != nil {
		return nil, nil, fmt.Errorf("codec: read kwargs frame: %w", err)
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("codec: %d trailing bytes after envelope", len(rest))
	}

	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return nil, nil, fmt.Errorf("codec: unmarshal args: %w", err)
	}
	if err := json.Unmarshal(kwargsJSON, &kwargs); err != nil {
		return nil, nil, fmt.Errorf("codec: unmarshal kwargs: %w", err)
	}
	return args, kwargs, nil
}

func writeFrame(buf *bytes.Buffer, frame []byte) {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(frame)))
	buf.Write(lenBytes[:])
	buf.Write(frame)
}

func readFrame(data []byte) (frame []byte, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("truncated frame: want %d bytes, have %d", n, len(data))
	}
	return data[:n], data[n:], nil
}
