package m223s

import (
	"encoding/json"
	"strings"
)

// Program is the cooking program reported by the appliance.
type Program byte

// Cooking programs, in the order the appliance numbers them.
const (
	ProgramFrying Program = iota
	ProgramCereals
	ProgramMulticooker
	ProgramPilau
	ProgramSteam
	ProgramBaking
	ProgramStew
	ProgramSoup
	ProgramMilkPorridge
	ProgramYoghurt
	ProgramExpress
	ProgramWarming
)

var programNames = map[Program]string{
	ProgramFrying:       "frying",
	ProgramCereals:      "cereals",
	ProgramMulticooker:  "multicooker",
	ProgramPilau:        "pilau",
	ProgramSteam:        "steam",
	ProgramBaking:       "baking",
	ProgramStew:         "stew",
	ProgramSoup:         "soup",
	ProgramMilkPorridge: "milk porridge",
	ProgramYoghurt:      "yoghurt",
	ProgramExpress:      "express",
	ProgramWarming:      "warming",
}

// String returns the program's friendly name. Values the protocol does
// not model render as "unknown"; the appliance may report programs this
// bridge has no name for, and that must not break decoding.
func (p Program) String() string {
	if name, ok := programNames[p]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON renders the program as its friendly name.
func (p Program) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// State is the appliance operating state. Negative values are
// pre-authorization session markers never reported by the device itself;
// values zero and above are the device's own state byte.
type State int

// Operating states.
const (
	StateDisconnected State = -3
	StateConnected    State = -2
	StateAuthorized   State = -1
	StateOff          State = 0
	StateSetting      State = 1
	StateDelayed      State = 2
	StateHeating      State = 3
	StateUnknown      State = 4
	StateOn           State = 5
	StateKeepWarm     State = 6
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnected:    "connected",
	StateAuthorized:   "authorized",
	StateOff:          "off",
	StateSetting:      "setting",
	StateDelayed:      "delayed",
	StateHeating:      "heating",
	StateUnknown:      "unknown",
	StateOn:           "on",
	StateKeepWarm:     "keep warm",
}

// String returns the state's friendly name, "unknown" for unmodelled values.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON renders the state as its friendly name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// stateFromByte maps a device state byte onto the State enum,
// preserving out-of-range values as StateUnknown.
func stateFromByte(b byte) State {
	s := State(b)
	if _, ok := stateNames[s]; !ok {
		return StateUnknown
	}
	return s
}

// Status is the derived appliance status published to the state topic.
//
// Every field except State is meaningful only once the session has been
// authorized and a query response decoded; all fields reset to defaults
// whenever the session returns to disconnected. Mutated exclusively by
// the session's notification handler.
type Status struct {
	State       State   `json:"state"`
	Program     Program `json:"program"`
	Temperature int     `json:"temperature"`
	Hours       int     `json:"hours"`
	Minutes     int     `json:"minutes"`
}

// NewStatus returns the default status: disconnected, all values zeroed.
func NewStatus() Status {
	return Status{State: StateDisconnected}
}

// JSON serializes the status for publication. Serialization is a pure
// function of the field values: identical statuses always produce
// identical payloads.
func (s Status) JSON() []byte {
	// Marshal of a fixed struct with string-rendering enums cannot fail.
	buf, _ := json.Marshal(s)
	return buf
}

// String returns a compact human-readable form for logs.
func (s Status) String() string {
	var b strings.Builder
	b.WriteString(s.State.String())
	if s.State >= StateOff {
		b.WriteString(" program=" + s.Program.String())
	}
	return b.String()
}
