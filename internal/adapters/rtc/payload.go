package rtc

import (
	"github.com/dkeye/LiveClass/internal/core"
	"github.com/pion/webrtc/v4"
)

type linkKind string

const (
	kindData  linkKind = "data"
	kindMedia linkKind = "media"
)

// Payloads carried inside broker envelopes. Every one names the PeerConnection
// it belongs to, so two peers may hold a data and a media link at once.
type offerPayload struct {
	ConnectionID string                    `json:"connectionId"`
	Kind         linkKind                  `json:"kind"`
	SDP          webrtc.SessionDescription `json:"sdp"`
	Metadata     core.Metadata             `json:"metadata,omitempty"`
}

type answerPayload struct {
	ConnectionID string                    `json:"connectionId"`
	SDP          webrtc.SessionDescription `json:"sdp"`
}

type candidatePayload struct {
	ConnectionID string                  `json:"connectionId"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

type leavePayload struct {
	ConnectionID string `json:"connectionId"`
}
