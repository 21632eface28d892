package m223s

import (
	"bytes"
	"testing"
)

func TestProgram_String(t *testing.T) {
	tests := []struct {
		program  Program
		expected string
	}{
		{ProgramFrying, "frying"},
		{ProgramSteam, "steam"},
		{ProgramMilkPorridge, "milk porridge"},
		{ProgramWarming, "warming"},
		{Program(12), "unknown"},
		{Program(200), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.program.String(); got != tt.expected {
				t.Errorf("Program(%d).String() = %q, want %q", tt.program, got, tt.expected)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnected, "connected"},
		{StateAuthorized, "authorized"},
		{StateOff, "off"},
		{StateHeating, "heating"},
		{StateKeepWarm, "keep warm"},
		{State(7), "unknown"},
		{State(-10), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
			}
		})
	}
}

func TestStateFromByte_OutOfRange(t *testing.T) {
	if got := stateFromByte(200); got != StateUnknown {
		t.Errorf("stateFromByte(200) = %v, want StateUnknown", got)
	}
	if got := stateFromByte(6); got != StateKeepWarm {
		t.Errorf("stateFromByte(6) = %v, want StateKeepWarm", got)
	}
}

func TestStatus_JSON(t *testing.T) {
	status := Status{
		State:       StateHeating,
		Program:     ProgramSteam,
		Temperature: 100,
		Hours:       0,
		Minutes:     45,
	}

	expected := `{"state":"heating","program":"steam","temperature":100,"hours":0,"minutes":45}`
	if got := string(status.JSON()); got != expected {
		t.Errorf("JSON() = %s, want %s", got, expected)
	}
}

func TestStatus_JSON_Default(t *testing.T) {
	status := NewStatus()

	expected := `{"state":"disconnected","program":"frying","temperature":0,"hours":0,"minutes":0}`
	if got := string(status.JSON()); got != expected {
		t.Errorf("JSON() = %s, want %s", got, expected)
	}
}

func TestStatus_JSON_Deterministic(t *testing.T) {
	status := Status{State: StateOn, Program: ProgramSoup, Temperature: 95}

	first := status.JSON()
	second := status.JSON()
	if !bytes.Equal(first, second) {
		t.Errorf("JSON() not deterministic: %s vs %s", first, second)
	}
}

func TestStatus_String(t *testing.T) {
	status := Status{State: StateHeating, Program: ProgramSteam}
	if got := status.String(); got != "heating program=steam" {
		t.Errorf("String() = %q, want %q", got, "heating program=steam")
	}

	// Lifecycle markers carry no meaningful program.
	status = NewStatus()
	if got := status.String(); got != "disconnected" {
		t.Errorf("String() = %q, want %q", got, "disconnected")
	}
}
