package crc

import "testing"

func TestAppendThenVerify(t *testing.T) {
	cases := [][]byte{
		{0x11, 0x06, 0x00, 0x18, 0x00, 0x01},
		{0x11, 0x03, 0x00, 0x00, 0x00, 0x28},
		{},
		{0x01},
	}
	for _, data := range cases {
		framed := Append(data)
		if len(framed) != len(data)+2 {
			t.Fatalf("Append(%v) length = %d, want %d", data, len(framed), len(data)+2)
		}
		if len(data) >= 2 && !Verify(framed) {
			t.Errorf("Verify(Append(%v)) = false, want true", data)
		}
	}
}

func TestVerifyRejectsCorruption(t *testing.T) {
	framed := Append([]byte{0x11, 0x06, 0x00, 0x18, 0x00, 0x01})
	framed[0] ^= 0xFF
	if Verify(framed) {
		t.Error("Verify() = true for corrupted buffer, want false")
	}
}

func TestVerifyShortBuffer(t *testing.T) {
	if Verify([]byte{0x01, 0x02}) {
		t.Error("Verify() = true for buffer shorter than minimum, want false")
	}
}
