package ir

// Version constants for the wire protocol and the binary.
const (
	// ProtocolVersion is carried in every broadcast message.
	ProtocolVersion = 1

	// Version is the notesync release version.
	Version = "0.1.0"
)
