package ir

// Version constants for the wire protocol and engine.
const (
	// ProtocolVersion is the sync wire protocol version.
	ProtocolVersion = "1"

	// EngineVersion is the livesync engine version.
	EngineVersion = "0.1.0"
)
