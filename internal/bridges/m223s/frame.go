package m223s

import "fmt"

// Wire protocol constants.
//
// Every frame exchanged with the cooker has the same shape:
//
//	[0x55, counter, command, payload..., 0xAA]
//
// The counter is an 8-bit rolling sequence tag; it is echoed by the device
// but carries no correlation semantics beyond the command code itself.
const (
	// FrameMagic is the leading byte of every frame.
	FrameMagic byte = 0x55

	// FrameTerminator is the trailing byte of every frame.
	FrameTerminator byte = 0xAA

	// CmdAuth is the authorization handshake command code.
	CmdAuth byte = 0xFF

	// CmdQuery is the status query command code.
	CmdQuery byte = 0x06

	// DefaultCmdOff is the turn-off command code. One firmware revision
	// reuses CmdQuery for this; the code is therefore configurable and
	// this value is only the default.
	DefaultCmdOff byte = 0x04
)

// Response frame layout.
const (
	// minFrameLen is the minimum length needed to read the command code.
	minFrameLen = 4

	// minQueryResponseLen is the minimum length of a query response.
	minQueryResponseLen = 20

	// Fixed field offsets within a query response.
	offsetProgram     = 3
	offsetTemperature = 5
	offsetHours       = 8
	offsetMinutes     = 9
	offsetState       = 11

	// offsetAuthGranted is the grant flag within an auth response.
	offsetAuthGranted = 3
)

// Event is a decoded inbound frame. Implementations are AuthResult,
// QueryResult and Unrecognized.
type Event interface {
	isEvent()
}

// AuthResult is the device's answer to an authorization request.
type AuthResult struct {
	// Granted is true when the device accepted the key.
	Granted bool
}

// QueryResult carries the raw status fields of a query response.
// Fields are unsigned bytes exactly as reported; mapping onto the
// Program/State enums happens in the status model.
type QueryResult struct {
	Program     byte
	Temperature byte
	Hours       byte
	Minutes     byte
	State       byte
}

// Unrecognized is an inbound frame with a command code this bridge does
// not model. Callers log and ignore it.
type Unrecognized struct {
	Command byte
}

func (AuthResult) isEvent()   {}
func (QueryResult) isEvent()  {}
func (Unrecognized) isEvent() {}

// EncodeFrame builds an outgoing command frame.
//
// Parameters:
//   - command: command code byte
//   - counter: rolling 8-bit sequence tag
//   - payload: optional command payload (may be nil)
//
// Returns:
//   - []byte: complete frame ready for a characteristic write
func EncodeFrame(command, counter byte, payload []byte) []byte {
	buf := make([]byte, 0, 4+len(payload))
	buf = append(buf, FrameMagic, counter, command)
	buf = append(buf, payload...)
	buf = append(buf, FrameTerminator)
	return buf
}

// DecodeFrame classifies an inbound notification buffer.
//
// Buffers shorter than 4 bytes fail with ErrShortFrame: the command code
// cannot even be read. Query responses additionally require 20 bytes so
// that every documented field offset is covered; trailing bytes beyond
// the last offset are ignored. Unknown command codes decode to
// Unrecognized rather than an error: the appliance emits frames whose
// meaning is not modelled here.
func DecodeFrame(buf []byte) (Event, error) {
	if len(buf) < minFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(buf))
	}

	switch buf[2] {
	case CmdAuth:
		return AuthResult{Granted: buf[offsetAuthGranted] != 0}, nil

	case CmdQuery:
		if len(buf) < minQueryResponseLen {
			return nil, fmt.Errorf("%w: query response %d bytes, need %d",
				ErrShortFrame, len(buf), minQueryResponseLen)
		}
		return QueryResult{
			Program:     buf[offsetProgram],
			Temperature: buf[offsetTemperature],
			Hours:       buf[offsetHours],
			Minutes:     buf[offsetMinutes],
			State:       buf[offsetState],
		}, nil

	default:
		return Unrecognized{Command: buf[2]}, nil
	}
}
