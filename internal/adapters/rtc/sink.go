package rtc

import (
	"context"
	"errors"
	"io"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/pion/rtp"
)

var ErrNotRTP = errors.New("track does not carry RTP")

// RTPReader is implemented by remote tracks that arrive over a real PeerConnection.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, error)
}

type TrackStats struct {
	Packets uint64
	Bytes   uint64
	Lost    uint64
	LastSeq uint16
	SSRC    uint32
}

// Drain consumes a remote track until it ends or ctx is done, counting packets and
// sequence gaps. Returns ErrNotRTP for tracks that are not RTP backed.
//
// ReadRTP blocks, so cancellation only takes effect once it returns. Tracks that can
// be stopped are stopped when ctx is done; others rely on their PeerConnection closing.
func Drain(ctx context.Context, t core.RemoteTrack) (TrackStats, error) {
	r, ok := t.(RTPReader)
	if !ok {
		return TrackStats{}, ErrNotRTP
	}
	if s, ok := t.(interface{ Stop() error }); ok {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = s.Stop()
			case <-done:
			}
		}()
	}
	var st TrackStats
	first := true
	for ctx.Err() == nil {
		p, err := r.ReadRTP()
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			return st, err
		}
		if !first {
			if gap := p.SequenceNumber - st.LastSeq; gap > 1 && gap < 1<<15 {
				st.Lost += uint64(gap - 1)
			}
		}
		first = false
		st.Packets++
		st.Bytes += uint64(len(p.Payload))
		st.LastSeq = p.SequenceNumber
		st.SSRC = p.SSRC
	}
	return st, ctx.Err()
}
