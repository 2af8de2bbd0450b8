// Package command implements the closed catalog of device commands
// (spec §4.2): typed objects carrying a target register, an encoded
// value, a response class, and a human-readable description, plus
// the constructors used by the payload transformer's jsonToCommand.
package command

import (
	"fmt"
	"math"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/frame"
)

// ResponseClass classifies how a command's effect surfaces.
type ResponseClass int

const (
	// Immediate commands (output toggles) reflect in the very next
	// client/04 response.
	Immediate ResponseClass = iota
	// Delayed commands (settings writes) surface only on the next
	// spontaneous update or explicit holding-register read.
	Delayed
	// Read is a holding-register read request; its effect is the
	// READ_RESPONSE itself, not a write.
	Read
)

func (r ResponseClass) String() string {
	switch r {
	case Immediate:
		return "IMMEDIATE"
	case Delayed:
		return "DELAYED"
	case Read:
		return "READ_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Registers targeted by the catalog (spec §4.2, authoritative list).
const (
	RegUSB              uint16 = 24
	RegDC               uint16 = 25
	RegAC               uint16 = 26
	RegLED              uint16 = 27
	RegChargingCurrent  uint16 = 20
	RegACSilentCharging uint16 = 57
	RegUSBStandby       uint16 = 59
	RegACStandby        uint16 = 60
	RegDCStandby        uint16 = 61
	RegScreenRest       uint16 = 62
	RegDischargeLimit   uint16 = 66
	RegACChargingLimit  uint16 = 67
	RegSleepTime        uint16 = 68

	// RegOutput is the output-state bitfield register decoded by the
	// device state store (spec §4.8): bit 3=LED, bit 4=AC, bit 5=DC,
	// bit 6=USB.
	RegOutput uint16 = 41

	// FullPollStart/FullPollCount span every register the device
	// state decoder and command catalog care about (5..68 inclusive),
	// used for the bridge's initial and periodic holding-register
	// reads and for the read_settings/read_holding_registers actions.
	FullPollStart uint16 = 5
	FullPollCount uint16 = 64
)

// Command is a single catalog entry ready for wire encoding.
type Command struct {
	Action        string
	ResponseClass ResponseClass
	Description   string

	// Write fields, valid when ResponseClass != Read.
	Register uint16
	Value    uint16

	// Read fields, valid when ResponseClass == Read.
	ReadStart   uint16
	ReadCount   uint16
	ReadHolding bool
}

// IsRead reports whether this command is a register read rather than
// a single-register write.
func (c *Command) IsRead() bool { return c.ResponseClass == Read }

// IsSettingsWrite reports whether this command writes a settings
// register (20, 57, 59-62, 66-68), which the bridge re-samples with a
// delayed holding-register read after the write is sent.
func (c *Command) IsSettingsWrite() bool { return c.ResponseClass == Delayed }

// Encode produces the wire bytes for this command via the frame codec.
func (c *Command) Encode() []byte {
	if c.IsRead() {
		return frame.EncodeReadRange(c.ReadStart, c.ReadCount, c.ReadHolding)
	}
	return frame.EncodeWriteSingle(c.Register, c.Value)
}

func boolValue(v bool) uint16 {
	if v {
		return 1
	}
	return 0
}

func validateEnum(op, action string, value int, allowed []int) error {
	for _, a := range allowed {
		if a == value {
			return nil
		}
	}
	return bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("%d not in allowed set %v", value, allowed))
}

func validateRange(op, action string, value, min, max int) error {
	if value < min || value > max {
		return bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("%d out of range [%d,%d]", value, min, max))
	}
	return nil
}

// NewUSBOn/NewUSBOff/... build the IMMEDIATE output-toggle commands.

func NewUSBOn() *Command  { return toggle("usb_on", RegUSB, true, "turn USB output on") }
func NewUSBOff() *Command { return toggle("usb_off", RegUSB, false, "turn USB output off") }
func NewDCOn() *Command   { return toggle("dc_on", RegDC, true, "turn DC output on") }
func NewDCOff() *Command  { return toggle("dc_off", RegDC, false, "turn DC output off") }
func NewACOn() *Command   { return toggle("ac_on", RegAC, true, "turn AC output on") }
func NewACOff() *Command  { return toggle("ac_off", RegAC, false, "turn AC output off") }
func NewLEDOn() *Command  { return toggle("led_on", RegLED, true, "turn LED output on") }
func NewLEDOff() *Command { return toggle("led_off", RegLED, false, "turn LED output off") }

func toggle(action string, register uint16, on bool, description string) *Command {
	return &Command{
		Action:        action,
		ResponseClass: Immediate,
		Description:   description,
		Register:      register,
		Value:         boolValue(on),
	}
}

// NewSetChargingCurrent sets the max charging current, 1-20 A.
func NewSetChargingCurrent(amperes int) (*Command, error) {
	const op = "command.NewSetChargingCurrent"
	if err := validateRange(op, "set_charging_current", amperes, 1, 20); err != nil {
		return nil, err
	}
	return &Command{
		Action:        "set_charging_current",
		ResponseClass: Delayed,
		Description:   "set max charging current",
		Register:      RegChargingCurrent,
		Value:         uint16(amperes),
	}, nil
}

// NewSetDischargeLimit sets the discharge lower limit, 0-100% with
// 0.1 granularity; the wire value is tenths of a percent.
func NewSetDischargeLimit(percentage float64) (*Command, error) {
	return percentageCommand("set_discharge_limit", RegDischargeLimit, percentage,
		"set discharge lower limit")
}

// NewSetACChargingLimit sets the AC charging upper limit, 0-100%.
func NewSetACChargingLimit(percentage float64) (*Command, error) {
	return percentageCommand("set_ac_charging_limit", RegACChargingLimit, percentage,
		"set AC charging upper limit")
}

func percentageCommand(action string, register uint16, percentage float64, description string) (*Command, error) {
	const op = "command.percentageCommand"
	if percentage < 0 || percentage > 100 {
		return nil, bridgeerrors.NewInvalidCommand(op, action,
			fmt.Errorf("%.1f out of range [0,100]", percentage))
	}
	value := uint16(math.Round(percentage * 10))
	return &Command{
		Action:        action,
		ResponseClass: Delayed,
		Description:   description,
		Register:      register,
		Value:         value,
	}, nil
}

// NewSetACSilentCharging toggles silent AC charging.
func NewSetACSilentCharging(enabled bool) *Command {
	return &Command{
		Action:        "set_ac_silent_charging",
		ResponseClass: Delayed,
		Description:   "toggle AC silent charging",
		Register:      RegACSilentCharging,
		Value:         boolValue(enabled),
	}
}

// NewSetUSBStandbyTime sets the USB standby timer, minutes in {0,3,5,10,30}.
func NewSetUSBStandbyTime(minutes int) (*Command, error) {
	const op = "command.NewSetUSBStandbyTime"
	if err := validateEnum(op, "set_usb_standby_time", minutes, []int{0, 3, 5, 10, 30}); err != nil {
		return nil, err
	}
	return &Command{
		Action: "set_usb_standby_time", ResponseClass: Delayed,
		Description: "set USB standby timer", Register: RegUSBStandby, Value: uint16(minutes),
	}, nil
}

// NewSetACStandbyTime sets the AC standby timer, minutes in {0,480,960,1440}.
func NewSetACStandbyTime(minutes int) (*Command, error) {
	const op = "command.NewSetACStandbyTime"
	if err := validateEnum(op, "set_ac_standby_time", minutes, []int{0, 480, 960, 1440}); err != nil {
		return nil, err
	}
	return &Command{
		Action: "set_ac_standby_time", ResponseClass: Delayed,
		Description: "set AC standby timer", Register: RegACStandby, Value: uint16(minutes),
	}, nil
}

// NewSetDCStandbyTime sets the DC standby timer, minutes in {0,480,960,1440}.
func NewSetDCStandbyTime(minutes int) (*Command, error) {
	const op = "command.NewSetDCStandbyTime"
	if err := validateEnum(op, "set_dc_standby_time", minutes, []int{0, 480, 960, 1440}); err != nil {
		return nil, err
	}
	return &Command{
		Action: "set_dc_standby_time", ResponseClass: Delayed,
		Description: "set DC standby timer", Register: RegDCStandby, Value: uint16(minutes),
	}, nil
}

// NewSetScreenRestTime sets the screen-rest timer, seconds in {0,180,300,600,1800}.
func NewSetScreenRestTime(seconds int) (*Command, error) {
	const op = "command.NewSetScreenRestTime"
	if err := validateEnum(op, "set_screen_rest_time", seconds, []int{0, 180, 300, 600, 1800}); err != nil {
		return nil, err
	}
	return &Command{
		Action: "set_screen_rest_time", ResponseClass: Delayed,
		Description: "set screen-rest timer", Register: RegScreenRest, Value: uint16(seconds),
	}, nil
}

// NewSetSleepTime sets the sleep timer, minutes in {5,10,30,480}; 0 is illegal.
func NewSetSleepTime(minutes int) (*Command, error) {
	const op = "command.NewSetSleepTime"
	if err := validateEnum(op, "set_sleep_time", minutes, []int{5, 10, 30, 480}); err != nil {
		return nil, err
	}
	return &Command{
		Action: "set_sleep_time", ResponseClass: Delayed,
		Description: "set sleep timer", Register: RegSleepTime, Value: uint16(minutes),
	}, nil
}

// NewSetACChargingTimer sets the AC charging timer. The catalog in
// spec §4.2 names no register distinct from AC standby for this
// action; see DESIGN.md for the resolution — it shares register 60
// and the same legal value set as set_ac_standby_time.
func NewSetACChargingTimer(minutes int) (*Command, error) {
	const op = "command.NewSetACChargingTimer"
	if err := validateEnum(op, "set_ac_charging_timer", minutes, []int{0, 480, 960, 1440}); err != nil {
		return nil, err
	}
	return &Command{
		Action: "set_ac_charging_timer", ResponseClass: Delayed,
		Description: "set AC charging timer", Register: RegACStandby, Value: uint16(minutes),
	}, nil
}

// NewReadSettings requests the full settings/measurement register
// range as a holding-register read.
func NewReadSettings() *Command {
	return &Command{
		Action: "read_settings", ResponseClass: Read,
		Description: "read full settings/measurement register range",
		ReadStart:   FullPollStart, ReadCount: FullPollCount, ReadHolding: true,
	}
}

// NewReadHoldingRegisters is the generic holding-register read action
// exposed over the local command topic; it requests the same range
// as NewReadSettings and is also what the bridge's periodic poll uses
// internally.
func NewReadHoldingRegisters() *Command {
	return &Command{
		Action: "read_holding_registers", ResponseClass: Read,
		Description: "read holding registers",
		ReadStart:   FullPollStart, ReadCount: FullPollCount, ReadHolding: true,
	}
}
