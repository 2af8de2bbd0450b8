// Package devicestate implements the per-MAC Device State Store (spec
// §4.8): typed device state built up from decoded register frames,
// with subscriber callbacks fired synchronously once a state update
// is consistent. Grounded on the teacher's modbus.ValueCache
// (pkg/modbus/cache.go) — a mutex-guarded map with TTL — generalised
// to a map with no expiry (state here is long-lived, not a
// request/response cache) and a notification fan-out.
package devicestate

import (
	"sync"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/command"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/frame"
)

// Output is the register-41 bitfield, decoded per spec §4.8 (LSB=0:
// bit 3 LED, bit 4 AC, bit 5 DC, bit 6 USB).
type Output struct {
	LED bool
	AC  bool
	DC  bool
	USB bool
}

// Settings mirrors the settings registers (spec §4.8); percentages
// are already divided down from their tenths-of-percent wire encoding.
type Settings struct {
	ChargingCurrentAmps    uint16
	ACSilentCharging       bool
	USBStandbyMinutes      uint16
	ACStandbyMinutes       uint16
	DCStandbyMinutes       uint16
	ScreenRestSeconds      uint16
	DischargeLimitPercent  float64
	ACChargingLimitPercent float64
	SleepTimeMinutes       uint16
}

// DeviceState is the per-MAC state object, created lazily on first
// update and merged in place thereafter.
type DeviceState struct {
	MAC string

	SOCPercent float64
	Output     Output
	Settings   Settings

	// Product-specific watt readings; zero until a configured watt
	// register is actually present in a frame (see WattRegisters).
	InputWatts   float64
	OutputWatts  float64
	DCInputWatts float64

	LastFullUpdate                time.Time
	LastUpdateSource              string
	LastUpdateWasCommandTriggered bool
	LastRegisterKind              frame.RegisterKind
}

// WattRegisters names the product-specific registers carrying power
// readings. None are hardcoded (spec leaves these vendor/model
// specific); a nil pointer means that reading is never populated.
type WattRegisters struct {
	InputWatts   *uint16
	OutputWatts  *uint16
	DCInputWatts *uint16
}

// Subscriber is invoked synchronously, after a state update is fully
// consistent, with an immutable snapshot.
type Subscriber func(mac string, state DeviceState)

// Store is the single-owner, Bridge-held Device State Store.
type Store struct {
	mu          sync.RWMutex
	states      map[string]*DeviceState
	wattRegs    WattRegisters
	subscribers []Subscriber
}

// NewStore creates an empty Store. wattRegs may be the zero value if
// no product-specific watt registers are configured.
func NewStore(wattRegs WattRegisters) *Store {
	return &Store{
		states:   make(map[string]*DeviceState),
		wattRegs: wattRegs,
	}
}

// Subscribe registers fn to be called on every future update.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Get returns a snapshot of the current state for mac, if any.
func (s *Store) Get(mac string) (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[mac]
	if !ok {
		return DeviceState{}, false
	}
	return *st, true
}

// MACs returns every MAC currently tracked, for status snapshots.
func (s *Store) MACs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.states))
	for mac := range s.states {
		out = append(out, mac)
	}
	return out
}

// UpdateFromFrame merges fr's registers into mac's stored state,
// refreshing only fields backed by present registers, then advances
// the bookkeeping fields and fires subscribers synchronously with the
// post-update snapshot (spec §4.8).
func (s *Store) UpdateFromFrame(mac string, fr *frame.Frame, topic string, commandTriggered bool) DeviceState {
	s.mu.Lock()
	st, ok := s.states[mac]
	if !ok {
		st = &DeviceState{MAC: mac}
		s.states[mac] = st
	}

	applyRegisters(st, fr, s.wattRegs)
	st.LastFullUpdate = time.Now()
	st.LastUpdateSource = topic
	st.LastUpdateWasCommandTriggered = commandTriggered
	st.LastRegisterKind = fr.Kind()

	snapshot := *st
	subs := append([]Subscriber{}, s.subscribers...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(mac, snapshot)
	}
	return snapshot
}

// absoluteRegisters resolves fr's register map to absolute register
// addresses. The 6-byte header shape already keys by absolute address
// (fr.StartRegister is non-nil). The byte-count shape keys by 0-based
// position and carries no start-register context on the wire at all;
// the vendor's compact `/client/04` status frame (spec §8 scenario 1)
// is the only observed instance of it, and its last register is
// always the output bitfield (command.RegOutput), so 0-based indices
// are anchored backward from there rather than from the start of the
// full holding-register poll.
func absoluteRegisters(fr *frame.Frame) map[uint16]uint16 {
	if fr.StartRegister != nil {
		return fr.Registers
	}
	anchor := command.RegOutput - uint16(len(fr.Registers)) + 1
	out := make(map[uint16]uint16, len(fr.Registers))
	for idx, v := range fr.Registers {
		out[anchor+idx] = v
	}
	return out
}

func applyRegisters(st *DeviceState, fr *frame.Frame, wattRegs WattRegisters) {
	regs := absoluteRegisters(fr)

	if v56, ok := regs[56]; ok {
		st.SOCPercent = float64(v56) / 10
	} else if v5, ok := regs[5]; ok {
		st.SOCPercent = float64(v5)
	}

	if v41, ok := regs[41]; ok {
		st.Output.LED = v41&(1<<3) != 0
		st.Output.AC = v41&(1<<4) != 0
		st.Output.DC = v41&(1<<5) != 0
		st.Output.USB = v41&(1<<6) != 0
	}

	if v, ok := regs[command.RegChargingCurrent]; ok {
		st.Settings.ChargingCurrentAmps = v
	}
	if v, ok := regs[command.RegACSilentCharging]; ok {
		st.Settings.ACSilentCharging = v != 0
	}
	if v, ok := regs[command.RegUSBStandby]; ok {
		st.Settings.USBStandbyMinutes = v
	}
	if v, ok := regs[command.RegACStandby]; ok {
		st.Settings.ACStandbyMinutes = v
	}
	if v, ok := regs[command.RegDCStandby]; ok {
		st.Settings.DCStandbyMinutes = v
	}
	if v, ok := regs[command.RegScreenRest]; ok {
		st.Settings.ScreenRestSeconds = v
	}
	if v, ok := regs[command.RegDischargeLimit]; ok {
		st.Settings.DischargeLimitPercent = float64(v) / 10
	}
	if v, ok := regs[command.RegACChargingLimit]; ok {
		st.Settings.ACChargingLimitPercent = float64(v) / 10
	}
	if v, ok := regs[command.RegSleepTime]; ok {
		st.Settings.SleepTimeMinutes = v
	}

	if wattRegs.InputWatts != nil {
		if v, ok := regs[*wattRegs.InputWatts]; ok {
			st.InputWatts = float64(v)
		}
	}
	if wattRegs.OutputWatts != nil {
		if v, ok := regs[*wattRegs.OutputWatts]; ok {
			st.OutputWatts = float64(v)
		}
	}
	if wattRegs.DCInputWatts != nil {
		if v, ok := regs[*wattRegs.DCInputWatts]; ok {
			st.DCInputWatts = float64(v)
		}
	}
}
