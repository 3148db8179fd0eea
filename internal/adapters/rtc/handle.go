package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/LiveClass/internal/adapters/signal"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/rs/zerolog/log"
)

func (t *Transport) handle(env signal.Envelope) {
	switch env.Type {
	case signal.TypeOffer:
		var p offerPayload
		if !decode(env, &p) {
			return
		}
		t.handleOffer(env.Src, p)
	case signal.TypeAnswer:
		var p answerPayload
		if !decode(env, &p) {
			return
		}
		if pc, ok := t.lookup(p.ConnectionID); ok {
			if err := pc.setRemote(p.SDP); err != nil {
				log.Error().Err(err).Str("module", "webrtc").Str("peer", string(env.Src)).Msg("apply answer")
				pc.close(true)
			}
		}
	case signal.TypeCandidate:
		var p candidatePayload
		if !decode(env, &p) {
			return
		}
		if pc, ok := t.lookup(p.ConnectionID); ok {
			pc.addCandidate(p.Candidate)
		}
	case signal.TypeLeave:
		var p leavePayload
		if !decode(env, &p) {
			return
		}
		if pc, ok := t.lookup(p.ConnectionID); ok {
			pc.close(false)
		}
	case signal.TypeExpire:
		t.expire(env.Src)
	case signal.TypePong:
	default:
		log.Warn().Str("module", "webrtc").Str("type", env.Type).Msg("unknown broker frame")
	}
}

func decode(env signal.Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Str("type", env.Type).Str("peer", string(env.Src)).Msg("bad payload")
		return false
	}
	return true
}

func (t *Transport) handleOffer(src domain.PeerID, op offerPayload) {
	p, err := t.newPeerConn(op.ConnectionID, src, op.Kind, false)
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(src)).Msg("inbound offer")
		return
	}

	switch op.Kind {
	case kindData:
		t.mu.Lock()
		fn := t.onConn
		t.mu.Unlock()
		if fn == nil {
			p.close(true)
			return
		}
		link := newDataLink(p, op.Metadata)
		p.pc.OnDataChannel(link.attach)
		if err := p.setRemote(op.SDP); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("peer", string(src)).Msg("apply offer")
			p.close(true)
			return
		}
		fn(link)
		if err := t.answer(p); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("peer", string(src)).Msg("answer data link")
			p.close(true)
		}
	case kindMedia:
		t.mu.Lock()
		fn := t.onCall
		t.mu.Unlock()
		if fn == nil {
			p.close(true)
			return
		}
		link := newMediaLink(p)
		if err := p.setRemote(op.SDP); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("peer", string(src)).Msg("apply offer")
			p.close(true)
			return
		}
		fn(link)
	default:
		log.Warn().Str("module", "webrtc").Str("kind", string(op.Kind)).Msg("unknown offer kind")
		p.close(true)
	}
}

// expire drops every link to a peer the broker no longer knows. A data link this
// side dialed that never opened is a connect failure.
func (t *Transport) expire(peer domain.PeerID) {
	t.mu.Lock()
	var gone []*peerConn
	for _, p := range t.conns {
		if p.remote == peer {
			gone = append(gone, p)
		}
	}
	t.mu.Unlock()

	for _, p := range gone {
		failed := p.initiator && p.kind == kindData && !p.established.Load()
		p.close(false)
		if failed {
			t.report(fmt.Errorf("%w: peer %s unavailable", domain.ErrConnection, peer))
		}
	}
	log.Debug().Str("module", "webrtc").Str("peer", string(peer)).Int("links", len(gone)).Msg("peer expired")
}
