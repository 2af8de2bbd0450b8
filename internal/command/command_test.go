package command

import "testing"

func TestToggleCommandsEncode(t *testing.T) {
	cases := []struct {
		name string
		cmd  *Command
		want uint16
	}{
		{"usb_on", NewUSBOn(), 1},
		{"usb_off", NewUSBOff(), 0},
		{"dc_on", NewDCOn(), 1},
		{"ac_on", NewACOn(), 1},
		{"led_off", NewLEDOff(), 0},
	}
	for _, c := range cases {
		if c.cmd.ResponseClass != Immediate {
			t.Errorf("%s: ResponseClass = %v, want Immediate", c.name, c.cmd.ResponseClass)
		}
		if c.cmd.Value != c.want {
			t.Errorf("%s: Value = %d, want %d", c.name, c.cmd.Value, c.want)
		}
		if len(c.cmd.Encode()) != 8 {
			t.Errorf("%s: Encode() length = %d, want 8", c.name, len(c.cmd.Encode()))
		}
	}
}

func TestSetChargingCurrentBounds(t *testing.T) {
	if _, err := NewSetChargingCurrent(0); err == nil {
		t.Error("NewSetChargingCurrent(0) = nil error, want InvalidCommand")
	}
	if _, err := NewSetChargingCurrent(21); err == nil {
		t.Error("NewSetChargingCurrent(21) = nil error, want InvalidCommand")
	}
	cmd, err := NewSetChargingCurrent(10)
	if err != nil {
		t.Fatalf("NewSetChargingCurrent(10) error: %v", err)
	}
	if cmd.Register != RegChargingCurrent || cmd.Value != 10 {
		t.Errorf("cmd = %+v, want register %d value 10", cmd, RegChargingCurrent)
	}
	if !cmd.IsSettingsWrite() {
		t.Error("IsSettingsWrite() = false, want true for DELAYED command")
	}
}

func TestPercentageCommandsMultiplyByTen(t *testing.T) {
	cmd, err := NewSetDischargeLimit(12.5)
	if err != nil {
		t.Fatalf("NewSetDischargeLimit(12.5) error: %v", err)
	}
	if cmd.Value != 125 {
		t.Errorf("Value = %d, want 125", cmd.Value)
	}

	if _, err := NewSetACChargingLimit(-1); err == nil {
		t.Error("NewSetACChargingLimit(-1) = nil error, want InvalidCommand")
	}
	if _, err := NewSetACChargingLimit(101); err == nil {
		t.Error("NewSetACChargingLimit(101) = nil error, want InvalidCommand")
	}
}

func TestEnumCommandsRejectOutOfSetValues(t *testing.T) {
	if _, err := NewSetUSBStandbyTime(7); err == nil {
		t.Error("NewSetUSBStandbyTime(7) = nil error, want InvalidCommand")
	}
	if _, err := NewSetUSBStandbyTime(5); err != nil {
		t.Errorf("NewSetUSBStandbyTime(5) error: %v", err)
	}
	if _, err := NewSetACStandbyTime(100); err == nil {
		t.Error("NewSetACStandbyTime(100) = nil error, want InvalidCommand")
	}
	if _, err := NewSetSleepTime(0); err == nil {
		t.Error("NewSetSleepTime(0) = nil error, want InvalidCommand (0 is explicitly illegal)")
	}
	if _, err := NewSetSleepTime(5); err != nil {
		t.Errorf("NewSetSleepTime(5) error: %v", err)
	}
}

func TestReadCommandsShape(t *testing.T) {
	cmd := NewReadSettings()
	if !cmd.IsRead() {
		t.Fatal("NewReadSettings().IsRead() = false, want true")
	}
	if cmd.ReadStart != FullPollStart || cmd.ReadCount != FullPollCount || !cmd.ReadHolding {
		t.Errorf("cmd = %+v, want full holding-register range", cmd)
	}
	buf := cmd.Encode()
	if len(buf) != 8 {
		t.Errorf("Encode() length = %d, want 8", len(buf))
	}

	other := NewReadHoldingRegisters()
	if other.ReadStart != cmd.ReadStart || other.ReadCount != cmd.ReadCount {
		t.Error("NewReadHoldingRegisters() range differs from NewReadSettings()")
	}
}
