package world

import "time"

// Session is the network connection behind a player. Implementations must
// allow Send from update workers concurrently with the driver.
type Session interface {
	// SinceLastContact is the time since the client was last heard from.
	SinceLastContact() time.Duration
	// Disconnect closes the connection. Idempotent.
	Disconnect()
	// Send buffers an outgoing packet.
	Send(data []byte)
	// ResetPacketCount clears the per-tick inbound packet budget.
	ResetPacketCount()
}
