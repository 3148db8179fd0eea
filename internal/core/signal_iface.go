package core

import (
	"context"

	"github.com/dkeye/LiveClass/internal/domain"
)

// Frame is a raw encoded message travelling over a data link.
type Frame []byte

// Metadata travels with a connect request and is visible to the accepting side.
type Metadata map[string]string

// DataLink is a bidirectional, ordered message channel to one remote peer.
// Owned by the transport adapter; Close is idempotent.
type DataLink interface {
	RemotePeer() domain.PeerID
	Metadata() Metadata
	// Send must not block on a slow remote; a failure means the link is dying.
	Send(Frame) error
	// OnOpen fires once when the link can carry data, immediately if it already can.
	OnOpen(func())
	OnData(func(Frame))
	// OnClose fires once after every received frame has been handed to OnData.
	OnClose(func())
	Close() error
}

// Transport is the point-to-point capability a session is built on.
type Transport interface {
	// Open binds the transport to id, or to an anonymous identifier when id is empty,
	// and returns the identifier actually bound. A taken id yields domain.ErrIdentityConflict.
	Open(ctx context.Context, id domain.PeerID) (domain.PeerID, error)
	OnConnection(func(DataLink))
	OnCall(func(MediaLink))
	// OnError reports transport failures occurring after Open returned.
	OnError(func(error))
	Connect(ctx context.Context, id domain.PeerID, meta Metadata) (DataLink, error)
	Call(ctx context.Context, id domain.PeerID, stream *LocalStream) (MediaLink, error)
	// Close tears down every link and releases the bound identifier.
	Close() error
}
