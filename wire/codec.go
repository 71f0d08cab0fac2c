package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers. The command envelope is a protobuf message on the
// wire; it is encoded by hand with protowire so the payload bytes can stay
// opaque to this layer.
const (
	fieldType    protowire.Number = 1
	fieldSubtype protowire.Number = 2
	fieldStatus  protowire.Number = 3
	fieldPayload protowire.Number = 4
)

// Encode serializes a command envelope
func Encode(cmd *Command) []byte {
	buf := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(cmd.Type))
	buf = protowire.AppendTag(buf, fieldSubtype, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(cmd.Subtype))
	if cmd.Status != nil {
		buf = protowire.AppendTag(buf, fieldStatus, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(*cmd.Status))
	}
	if len(cmd.Payload) > 0 {
		buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
		buf = protowire.AppendBytes(buf, cmd.Payload)
	}
	return buf
}

// Decode parses a command envelope. Unknown envelope fields are skipped so a
// newer device firmware cannot break dispatch; malformed data returns an error
// and the frame is dropped by the session.
func Decode(data []byte) (*Command, error) {
	cmd := &Command{}
	sawType := false
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("bad envelope tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("bad type field: %w", protowire.ParseError(n))
			}
			cmd.Type = uint32(v)
			sawType = true
			data = data[n:]
		case num == fieldSubtype && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("bad subtype field: %w", protowire.ParseError(n))
			}
			cmd.Subtype = uint32(v)
			data = data[n:]
		case num == fieldStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("bad status field: %w", protowire.ParseError(n))
			}
			status := uint32(v)
			cmd.Status = &status
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("bad payload field: %w", protowire.ParseError(n))
			}
			cmd.Payload = append([]byte(nil), v...)
			data = data[n:]
		default:
			// Skip fields this version does not know about
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("bad envelope field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !sawType {
		return nil, fmt.Errorf("envelope missing command type")
	}
	return cmd, nil
}
