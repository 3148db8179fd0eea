package domain

type (
	SessionID string
	PeerID    string
)

const hostSuffix = "-host"

// HostPeerID is the well-known identifier of the host of a session. Participants
// locate the host from the shared session id alone.
func HostPeerID(id SessionID) PeerID {
	return PeerID(string(id) + hostSuffix)
}
