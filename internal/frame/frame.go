// Package frame implements the register-frame codec (spec §4.1): a
// Modbus-style binary frame carrying a slave id, function code, and a
// map of 16-bit register values, with a CRC-16/Modbus trailer.
//
// The wire format has two physical shapes. A response whose third
// byte is 0x00 is the 6-byte "request-echo" header: slave id,
// function code, big-endian start register, and a second 16-bit
// field whose meaning depends on the function code — for a write-ack
// (function code 0x06) it is the written value itself (no further
// payload precedes the CRC); for anything else it is a register
// count, followed by that many registers' worth of big-endian 16-bit
// data before the CRC. Any other third byte is read as a plain byte
// count, with the register payload following directly and no
// start-register context (registers are keyed by 0-based index); a
// trailing CRC may or may not be present and is never validated in
// this shape.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/crc"
)

const (
	SlaveID         uint8 = 0x11
	FuncReadHolding uint8 = 0x03
	FuncReadInput   uint8 = 0x04
	FuncWriteSingle uint8 = 0x06

	minFrameLen = 8
)

// Frame is the decoded logical content of a register frame.
type Frame struct {
	SlaveID      uint8
	FunctionCode uint8
	// Registers maps register index to its 16-bit value. Keyed by the
	// start register when known (the 6-byte header shape), otherwise
	// by 0-based position within the payload.
	Registers map[uint16]uint16
	// StartRegister is non-nil when the frame's register keys are
	// absolute register addresses rather than 0-based positions.
	StartRegister *uint16
	// CRCPresent reports whether a trailing CRC was found (and, for
	// the 6-byte header shape, validated) in the source bytes.
	CRCPresent bool
}

// RegisterKind classifies whether a frame originated from a holding
// (settings, fc 0x03) or input (live measurement) register bank.
type RegisterKind int

const (
	KindInput RegisterKind = iota
	KindHolding
)

// Kind derives the register-bank hint from the function code, per
// spec §4.8: fc=0x03 is HOLDING, anything else is INPUT.
func (f *Frame) Kind() RegisterKind {
	if f.FunctionCode == FuncReadHolding {
		return KindHolding
	}
	return KindInput
}

func be16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// Decode parses a register frame from its wire representation.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < minFrameLen {
		return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "buffer shorter than minimum 8 bytes",
			fmt.Errorf("len=%d", len(buf)))
	}

	slaveID := buf[0]
	fc := buf[1]

	if buf[2] == 0x00 {
		return decodeHeaderShape(buf, slaveID, fc)
	}
	return decodeByteCountShape(buf, slaveID, fc)
}

// decodeHeaderShape handles the 6-byte request-echo header.
func decodeHeaderShape(buf []byte, slaveID, fc uint8) (*Frame, error) {
	start := be16(buf[2:4])
	second := be16(buf[4:6])

	if fc == FuncWriteSingle {
		if len(buf) != 8 {
			return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "write-ack frame has wrong length",
				fmt.Errorf("len=%d, want 8", len(buf)))
		}
		if !crc.Verify(buf) {
			return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "CRC mismatch", nil)
		}
		return &Frame{
			SlaveID:       slaveID,
			FunctionCode:  fc,
			Registers:     map[uint16]uint16{start: second},
			StartRegister: &start,
			CRCPresent:    true,
		}, nil
	}

	count := second
	payloadLen := int(count) * 2
	declaredTotal := 6 + payloadLen + 2
	if declaredTotal != len(buf) {
		return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "declared size does not match buffer",
			fmt.Errorf("declared=%d, buffer=%d", declaredTotal, len(buf)))
	}
	if !crc.Verify(buf) {
		return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "CRC mismatch", nil)
	}

	registers := make(map[uint16]uint16, count)
	for i := 0; i < int(count); i++ {
		off := 6 + i*2
		registers[start+uint16(i)] = be16(buf[off : off+2])
	}

	return &Frame{
		SlaveID:       slaveID,
		FunctionCode:  fc,
		Registers:     registers,
		StartRegister: &start,
		CRCPresent:    true,
	}, nil
}

// decodeByteCountShape handles the short 3-byte header: slave, fc,
// byte count, followed directly by the register payload.
func decodeByteCountShape(buf []byte, slaveID, fc uint8) (*Frame, error) {
	byteCount := int(buf[2])
	if byteCount == 0 {
		return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "register count is zero", nil)
	}
	if byteCount%2 != 0 {
		return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "odd byte count", fmt.Errorf("byteCount=%d", byteCount))
	}
	end := 3 + byteCount
	if end > len(buf) {
		return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "declared size exceeds buffer",
			fmt.Errorf("need=%d, buffer=%d", end, len(buf)))
	}

	remaining := len(buf) - end
	if remaining != 0 && remaining != 2 {
		return nil, bridgeerrors.NewMalformedFrame("frame.Decode", "unexpected trailing bytes",
			fmt.Errorf("remaining=%d", remaining))
	}

	registers := make(map[uint16]uint16, byteCount/2)
	for i := 0; i < byteCount/2; i++ {
		off := 3 + i*2
		registers[uint16(i)] = be16(buf[off : off+2])
	}

	return &Frame{
		SlaveID:      slaveID,
		FunctionCode: fc,
		Registers:    registers,
		CRCPresent:   remaining == 2,
	}, nil
}

// EncodeWriteSingle builds a write-single-register command frame:
// [slave=0x11][fc=0x06][regHi][regLo][valHi][valLo][crcHi][crcLo].
func EncodeWriteSingle(register, value uint16) []byte {
	body := []byte{
		SlaveID, FuncWriteSingle,
		byte(register >> 8), byte(register),
		byte(value >> 8), byte(value),
	}
	return crc.Append(body)
}

// EncodeReadRange builds a read-registers command frame:
// [slave=0x11][fc=0x03|0x04][startHi][startLo][countHi][countLo][crcHi][crcLo].
func EncodeReadRange(start, count uint16, holding bool) []byte {
	fc := byte(FuncReadInput)
	if holding {
		fc = byte(FuncReadHolding)
	}
	body := []byte{
		SlaveID, fc,
		byte(start >> 8), byte(start),
		byte(count >> 8), byte(count),
	}
	return crc.Append(body)
}
