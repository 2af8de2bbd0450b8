package frame

import (
	"testing"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/crc"
)

func TestWriteSingleRoundTrip(t *testing.T) {
	cases := []struct {
		register, value uint16
	}{
		{24, 1},
		{25, 0},
		{57, 1200},
	}
	for _, c := range cases {
		buf := EncodeWriteSingle(c.register, c.value)
		f, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(EncodeWriteSingle(%d,%d)) error: %v", c.register, c.value, err)
		}
		if f.FunctionCode != FuncWriteSingle {
			t.Errorf("FunctionCode = %#x, want %#x", f.FunctionCode, FuncWriteSingle)
		}
		if got := f.Registers[c.register]; got != c.value {
			t.Errorf("Registers[%d] = %d, want %d", c.register, got, c.value)
		}
		if len(f.Registers) != 1 {
			t.Errorf("len(Registers) = %d, want 1", len(f.Registers))
		}
	}
}

func TestDecodeShortBufferIsMalformed(t *testing.T) {
	buf := EncodeWriteSingle(24, 1)[:7]
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("Decode(7 bytes) = nil error, want MalformedFrame")
	}
	if _, ok := err.(*bridgeerrors.MalformedFrame); !ok {
		t.Errorf("Decode(7 bytes) error type = %T, want *bridgeerrors.MalformedFrame", err)
	}
}

func TestDecodeMinimalEightByteBufferIsEmpty(t *testing.T) {
	buf := crc.Append([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode(8 zero bytes) error: %v", err)
	}
	if len(f.Registers) != 0 {
		t.Errorf("len(Registers) = %d, want 0", len(f.Registers))
	}
}

func TestDecodeByteCountShape(t *testing.T) {
	// slave=0x11 fc=0x04 byteCount=4 payload=[0x0000, 0x0040] + crc
	body := []byte{0x11, 0x04, 0x04, 0x00, 0x00, 0x00, 0x40}
	buf := crc.Append(body)
	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if f.FunctionCode != FuncReadInput {
		t.Errorf("FunctionCode = %#x, want %#x", f.FunctionCode, FuncReadInput)
	}
	if got := f.Registers[0]; got != 0x0000 {
		t.Errorf("Registers[0] = %#x, want 0", got)
	}
	if got := f.Registers[1]; got != 0x0040 {
		t.Errorf("Registers[1] = %#x, want 0x40", got)
	}
	if f.StartRegister != nil {
		t.Error("StartRegister should be nil for byte-count shape")
	}
}

func TestDecodeByteCountShapeWithoutTrailingCRC(t *testing.T) {
	buf := []byte{0x11, 0x04, 0x02, 0x00, 0x64}
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("Decode(5 bytes) = nil error, want MalformedFrame (below minimum)")
	}
}

func TestDecodeZeroByteCountIsMalformed(t *testing.T) {
	buf := crc.Append([]byte{0x11, 0x04, 0x00})
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("Decode(byteCount=0) = nil error, want MalformedFrame")
	}
}

func TestDecodeDeclaredSizeExceedsBuffer(t *testing.T) {
	buf := []byte{0x11, 0x04, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("Decode() = nil error, want MalformedFrame for oversized declared byte count")
	}
}

func TestDecodeMultiRegisterReadResponse(t *testing.T) {
	body := []byte{0x11, 0x03, 0x00, 0x14, 0x00, 0x02, 0x00, 0x0A, 0x01, 0x2C}
	framed := crc.Append(body)
	f, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if f.StartRegister == nil || *f.StartRegister != 20 {
		t.Fatalf("StartRegister = %v, want 20", f.StartRegister)
	}
	if got := f.Registers[20]; got != 0x000A {
		t.Errorf("Registers[20] = %#x, want 0xA", got)
	}
	if got := f.Registers[21]; got != 0x012C {
		t.Errorf("Registers[21] = %#x, want 0x12C", got)
	}
	if f.Kind() != KindHolding {
		t.Errorf("Kind() = %v, want KindHolding", f.Kind())
	}
}

func TestEncodeReadRangeShape(t *testing.T) {
	buf := EncodeReadRange(5, 64, true)
	if len(buf) != 8 {
		t.Fatalf("len(buf) = %d, want 8", len(buf))
	}
	if buf[0] != SlaveID || buf[1] != FuncReadHolding {
		t.Errorf("header = % x, want slave=%#x fc=%#x", buf[:2], SlaveID, FuncReadHolding)
	}
	if !crc.Verify(buf) {
		t.Error("Verify(EncodeReadRange(...)) = false, want true")
	}

	buf = EncodeReadRange(5, 64, false)
	if buf[1] != FuncReadInput {
		t.Errorf("fc = %#x, want %#x", buf[1], FuncReadInput)
	}
}

func TestDecodeCorruptedCRCRejected(t *testing.T) {
	buf := EncodeWriteSingle(24, 1)
	buf[len(buf)-1] ^= 0xFF
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("Decode() with corrupted CRC = nil error, want MalformedFrame")
	}
}
