package transfer

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// FrameHeaderSize is magic byte + type tag + md5 + little-endian length
	FrameHeaderSize = 1 + 1 + md5.Size + 4
	// FrameTrailerSize is the little-endian CRC32 over everything before it
	FrameTrailerSize = 4
	// PartHeaderSize prefixes every part: [totalParts:u16][index:u16], both LE
	PartHeaderSize = 4
	// DefaultChunkSize is used when the device ack does not negotiate one
	DefaultChunkSize = 2048
	// MaxParts is the largest part count the u16 header can carry
	MaxParts = 0xFFFF

	magicByte = 0x00
)

// Transfer type tags
const (
	TypeFirmware  byte = 1
	TypeWatchface byte = 2
	TypeIcon      byte = 3
)

// Checksum computes the CRC32 trailer value over a framed buffer prefix
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Digest computes the MD5 digest announced in the upload request
func Digest(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}

// BuildFrame wraps raw upload bytes into the framed buffer the device
// checksums: [0x00, tag, md5(16), lenLE(4), raw...] ++ crc32LE(4). The CRC
// covers every byte before it.
func BuildFrame(tag byte, data []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(data)+FrameTrailerSize)

	frame[0] = magicByte
	frame[1] = tag
	copy(frame[2:2+md5.Size], Digest(data))
	binary.LittleEndian.PutUint32(frame[2+md5.Size:FrameHeaderSize], uint32(len(data)))
	copy(frame[FrameHeaderSize:], data)

	crc := Checksum(frame[:FrameHeaderSize+len(data)])
	binary.LittleEndian.PutUint32(frame[FrameHeaderSize+len(data):], crc)

	return frame
}

// SplitIntoParts splits a framed buffer into transport writes. Each part
// carries chunkSize-4 payload bytes behind a 4-byte header holding the total
// part count and this part's 1-based index, both little-endian. Parts must be
// written in ascending order; the device only tracks a remaining-parts count.
func SplitIntoParts(frame []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= PartHeaderSize {
		return nil, fmt.Errorf("chunk size %d leaves no room for part payload", chunkSize)
	}

	payloadPerPart := chunkSize - PartHeaderSize
	totalParts := (len(frame) + payloadPerPart - 1) / payloadPerPart
	if totalParts > MaxParts {
		return nil, fmt.Errorf("frame of %d bytes needs %d parts, max is %d", len(frame), totalParts, MaxParts)
	}

	parts := make([][]byte, 0, totalParts)
	for i := 0; i < totalParts; i++ {
		start := i * payloadPerPart
		end := start + payloadPerPart
		if end > len(frame) {
			end = len(frame)
		}

		part := make([]byte, PartHeaderSize+(end-start))
		binary.LittleEndian.PutUint16(part[0:2], uint16(totalParts))
		binary.LittleEndian.PutUint16(part[2:4], uint16(i+1))
		copy(part[PartHeaderSize:], frame[start:end])
		parts = append(parts, part)
	}

	return parts, nil
}

// PartHeader is the decoded 4-byte part prefix
type PartHeader struct {
	TotalParts uint16
	Index      uint16 // 1-based
}

// DecodePartHeader parses the part prefix
func DecodePartHeader(part []byte) (*PartHeader, error) {
	if len(part) < PartHeaderSize {
		return nil, fmt.Errorf("part too short for header: %d bytes", len(part))
	}
	return &PartHeader{
		TotalParts: binary.LittleEndian.Uint16(part[0:2]),
		Index:      binary.LittleEndian.Uint16(part[2:4]),
	}, nil
}

// Reassemble concatenates parts back into a framed buffer and validates it,
// returning the type tag and the raw upload bytes. This is the device side of
// the protocol; the phone side uses it in tests and the loopback simulator.
func Reassemble(parts [][]byte) (byte, []byte, error) {
	if len(parts) == 0 {
		return 0, nil, fmt.Errorf("no parts to reassemble")
	}

	var frame []byte
	for i, part := range parts {
		hdr, err := DecodePartHeader(part)
		if err != nil {
			return 0, nil, err
		}
		if int(hdr.TotalParts) != len(parts) {
			return 0, nil, fmt.Errorf("part %d claims %d total parts, have %d", i+1, hdr.TotalParts, len(parts))
		}
		if int(hdr.Index) != i+1 {
			return 0, nil, fmt.Errorf("part out of order: expected index %d, got %d", i+1, hdr.Index)
		}
		frame = append(frame, part[PartHeaderSize:]...)
	}

	if len(frame) < FrameHeaderSize+FrameTrailerSize {
		return 0, nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	if frame[0] != magicByte {
		return 0, nil, fmt.Errorf("bad frame magic: %02X", frame[0])
	}

	tag := frame[1]
	size := binary.LittleEndian.Uint32(frame[2+md5.Size : FrameHeaderSize])
	if int(size) != len(frame)-FrameHeaderSize-FrameTrailerSize {
		return 0, nil, fmt.Errorf("frame length mismatch: header says %d, have %d", size, len(frame)-FrameHeaderSize-FrameTrailerSize)
	}

	data := frame[FrameHeaderSize : FrameHeaderSize+int(size)]

	wantCRC := binary.LittleEndian.Uint32(frame[len(frame)-FrameTrailerSize:])
	gotCRC := Checksum(frame[:len(frame)-FrameTrailerSize])
	if wantCRC != gotCRC {
		return 0, nil, fmt.Errorf("frame CRC mismatch: expected %08X, got %08X", wantCRC, gotCRC)
	}

	if !bytes.Equal(frame[2:2+md5.Size], Digest(data)) {
		return 0, nil, fmt.Errorf("frame MD5 mismatch")
	}

	return tag, data, nil
}
