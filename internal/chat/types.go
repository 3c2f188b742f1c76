package chat

import "time"

// SessionID uniquely identifies one accepted connection for the lifetime
// of the process.
type SessionID string

// ChatMessage is one line published to the bus. Immutable after
// construction; every subscriber gets its own copy by value.
type ChatMessage struct {
	Origin SessionID
	Handle string
	Text   string
	Sent   time.Time
}

// In-band control bytes, as typed by a raw terminal client.
const (
	ctrlInterrupt   = "\x03" // CTRL-C: terminate the connection
	ctrlEndOfInput  = "\x04" // CTRL-D: terminate the connection
	ctrlHandleReset = '\x19' // CTRL-Y: drop the handle and renegotiate
)

// State names one phase of the per-connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateNegotiating
	StateChatting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateChatting:
		return "chatting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
