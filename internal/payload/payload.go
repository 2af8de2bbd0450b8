// Package payload implements the Payload Transformer (spec §4.10):
// binary register frame <-> state JSON, and JSON <-> command. Grounded
// on the teacher's per-topic handlers (pkg/mqtt/power_topic.go and
// siblings), which build a typed JSON struct from decoded Modbus
// values and serialise with encoding/json; here a single flat struct
// replaces the teacher's per-sensor topic split because the bridge
// republishes one state document per device rather than one topic per
// measurement.
package payload

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/command"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/devicestate"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/frame"
)

// ParseFrame decodes raw wire bytes into a Frame (delegates to
// internal/frame, spec §4.1).
func ParseFrame(raw []byte) (*frame.Frame, error) {
	return frame.Decode(raw)
}

// state is the flat, camelCase JSON document published to
// fossibot/<MAC>/state.
type state struct {
	MAC        string  `json:"mac"`
	SOCPercent float64 `json:"socPercent"`

	LEDOutput bool `json:"ledOutput"`
	ACOutput  bool `json:"acOutput"`
	DCOutput  bool `json:"dcOutput"`
	USBOutput bool `json:"usbOutput"`

	ChargingCurrentAmps    uint16 `json:"chargingCurrentAmps"`
	ACSilentCharging       bool   `json:"acSilentCharging"`
	USBStandbyMinutes      uint16 `json:"usbStandbyMinutes"`
	ACStandbyMinutes       uint16 `json:"acStandbyMinutes"`
	DCStandbyMinutes       uint16 `json:"dcStandbyMinutes"`
	ScreenRestSeconds      uint16 `json:"screenRestSeconds"`
	DischargeLimitPercent  float64 `json:"dischargeLimitPercent"`
	ACChargingLimitPercent float64 `json:"acChargingLimitPercent"`
	SleepTimeMinutes       uint16 `json:"sleepTimeMinutes"`

	InputWatts   float64 `json:"inputWatts"`
	OutputWatts  float64 `json:"outputWatts"`
	DCInputWatts float64 `json:"dcInputWatts"`

	WasCommandTriggered bool   `json:"wasCommandTriggered"`
	RegisterKind        string `json:"registerKind"`
	Timestamp           string `json:"timestamp"`
}

// StateToJSON serialises a DeviceState snapshot to the flat JSON
// document described by spec §4.10, stamping an ISO-8601 timestamp at
// the moment of serialisation.
func StateToJSON(s devicestate.DeviceState) (string, error) {
	kind := "INPUT"
	if s.LastRegisterKind == frame.KindHolding {
		kind = "HOLDING"
	}
	doc := state{
		MAC:        s.MAC,
		SOCPercent: s.SOCPercent,

		LEDOutput: s.Output.LED,
		ACOutput:  s.Output.AC,
		DCOutput:  s.Output.DC,
		USBOutput: s.Output.USB,

		ChargingCurrentAmps:    s.Settings.ChargingCurrentAmps,
		ACSilentCharging:       s.Settings.ACSilentCharging,
		USBStandbyMinutes:      s.Settings.USBStandbyMinutes,
		ACStandbyMinutes:       s.Settings.ACStandbyMinutes,
		DCStandbyMinutes:       s.Settings.DCStandbyMinutes,
		ScreenRestSeconds:      s.Settings.ScreenRestSeconds,
		DischargeLimitPercent:  s.Settings.DischargeLimitPercent,
		ACChargingLimitPercent: s.Settings.ACChargingLimitPercent,
		SleepTimeMinutes:       s.Settings.SleepTimeMinutes,

		InputWatts:   s.InputWatts,
		OutputWatts:  s.OutputWatts,
		DCInputWatts: s.DCInputWatts,

		WasCommandTriggered: s.LastUpdateWasCommandTriggered,
		RegisterKind:        kind,
		Timestamp:           time.Now().Format(time.RFC3339),
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("payload.StateToJSON: %w", err)
	}
	return string(b), nil
}

// JSONToCommand decodes a command request and builds the matching
// catalog Command (spec §4.10). Unknown actions, missing arguments,
// and out-of-range values all surface as *bridgeerrors.InvalidCommand.
func JSONToCommand(raw []byte) (*command.Command, error) {
	const op = "payload.JSONToCommand"

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, bridgeerrors.NewInvalidCommand(op, "", fmt.Errorf("malformed JSON: %w", err))
	}

	var action string
	if a, ok := fields["action"]; ok {
		if err := json.Unmarshal(a, &action); err != nil {
			return nil, bridgeerrors.NewInvalidCommand(op, "", fmt.Errorf("action is not a string: %w", err))
		}
	}
	if action == "" {
		return nil, bridgeerrors.NewInvalidCommand(op, "", fmt.Errorf("missing required field \"action\""))
	}

	switch action {
	case "usb_on":
		return command.NewUSBOn(), nil
	case "usb_off":
		return command.NewUSBOff(), nil
	case "ac_on":
		return command.NewACOn(), nil
	case "ac_off":
		return command.NewACOff(), nil
	case "dc_on":
		return command.NewDCOn(), nil
	case "dc_off":
		return command.NewDCOff(), nil
	case "led_on":
		return command.NewLEDOn(), nil
	case "led_off":
		return command.NewLEDOff(), nil
	case "read_settings":
		return command.NewReadSettings(), nil
	case "read_holding_registers":
		return command.NewReadHoldingRegisters(), nil

	case "set_charging_current":
		v, err := intArg(fields, action, "amperes")
		if err != nil {
			return nil, err
		}
		return command.NewSetChargingCurrent(v)

	case "set_discharge_limit":
		v, err := floatArg(fields, action, "percentage")
		if err != nil {
			return nil, err
		}
		return command.NewSetDischargeLimit(v)

	case "set_ac_charging_limit":
		v, err := floatArg(fields, action, "percentage")
		if err != nil {
			return nil, err
		}
		return command.NewSetACChargingLimit(v)

	case "set_ac_silent_charging":
		v, err := boolArg(fields, action, "enabled")
		if err != nil {
			return nil, err
		}
		return command.NewSetACSilentCharging(v), nil

	case "set_usb_standby_time":
		v, err := intArg(fields, action, "minutes")
		if err != nil {
			return nil, err
		}
		return command.NewSetUSBStandbyTime(v)

	case "set_ac_standby_time":
		v, err := intArg(fields, action, "minutes")
		if err != nil {
			return nil, err
		}
		return command.NewSetACStandbyTime(v)

	case "set_dc_standby_time":
		v, err := intArg(fields, action, "minutes")
		if err != nil {
			return nil, err
		}
		return command.NewSetDCStandbyTime(v)

	case "set_screen_rest_time":
		v, err := intArg(fields, action, "seconds")
		if err != nil {
			return nil, err
		}
		return command.NewSetScreenRestTime(v)

	case "set_ac_charging_timer":
		v, err := intArg(fields, action, "minutes")
		if err != nil {
			return nil, err
		}
		return command.NewSetACChargingTimer(v)

	case "set_sleep_time":
		v, err := intArg(fields, action, "minutes")
		if err != nil {
			return nil, err
		}
		return command.NewSetSleepTime(v)

	default:
		return nil, bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("unknown action %q", action))
	}
}

func intArg(fields map[string]json.RawMessage, action, name string) (int, error) {
	const op = "payload.JSONToCommand"
	raw, ok := fields[name]
	if !ok {
		return 0, bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("missing required argument %q", name))
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("argument %q is not an integer: %w", name, err))
	}
	return v, nil
}

func floatArg(fields map[string]json.RawMessage, action, name string) (float64, error) {
	const op = "payload.JSONToCommand"
	raw, ok := fields[name]
	if !ok {
		return 0, bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("missing required argument %q", name))
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("argument %q is not a number: %w", name, err))
	}
	return v, nil
}

func boolArg(fields map[string]json.RawMessage, action, name string) (bool, error) {
	const op = "payload.JSONToCommand"
	raw, ok := fields[name]
	if !ok {
		return false, bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("missing required argument %q", name))
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, bridgeerrors.NewInvalidCommand(op, action, fmt.Errorf("argument %q is not a boolean: %w", name, err))
	}
	return v, nil
}

// CommandToBytes encodes a catalog Command to its wire bytes
// (delegates to internal/frame via Command.Encode, spec §4.1).
func CommandToBytes(c *command.Command) []byte {
	return c.Encode()
}
