package rtc

import (
	"fmt"
	"sync"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/pion/webrtc/v4"
)

type dataLink struct {
	conn *peerConn
	meta core.Metadata

	// held while handing frames to OnData so delivery stays ordered
	deliverMu sync.Mutex

	mu      sync.Mutex
	dc      *webrtc.DataChannel
	open    bool
	ended   bool
	queue   []core.Frame
	onOpen  func()
	onData  func(core.Frame)
	onClose func()
}

func newDataLink(conn *peerConn, meta core.Metadata) *dataLink {
	l := &dataLink{conn: conn, meta: meta}
	conn.whenClosed(l.shut)
	return l
}

func (l *dataLink) attach(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()
	dc.OnOpen(l.markOpen)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { l.deliver(msg.Data) })
	dc.OnClose(func() { l.conn.close(false) })
}

func (l *dataLink) RemotePeer() domain.PeerID { return l.conn.remote }
func (l *dataLink) Metadata() core.Metadata   { return l.meta }

func (l *dataLink) markOpen() {
	l.conn.established.Store(true)
	l.mu.Lock()
	if l.open || l.ended {
		l.mu.Unlock()
		return
	}
	l.open = true
	fn := l.onOpen
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *dataLink) OnOpen(fn func()) {
	l.mu.Lock()
	if !l.open {
		l.onOpen = fn
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	fn()
}

func (l *dataLink) OnData(fn func(core.Frame)) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	l.mu.Lock()
	l.onData = fn
	queued := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, f := range queued {
		fn(f)
	}
}

func (l *dataLink) deliver(data []byte) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	f := make(core.Frame, len(data))
	copy(f, data)
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return
	}
	fn := l.onData
	if fn == nil {
		l.queue = append(l.queue, f)
	}
	l.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

func (l *dataLink) OnClose(fn func()) {
	l.mu.Lock()
	if !l.ended {
		l.onClose = fn
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	fn()
}

// shut fires OnClose once any in-flight delivery has returned. It may run from
// inside an OnData handler that closed the link.
func (l *dataLink) shut() {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return
	}
	l.ended = true
	fn := l.onClose
	l.onClose = nil
	l.mu.Unlock()
	if fn == nil {
		return
	}
	go func() {
		l.deliverMu.Lock()
		l.deliverMu.Unlock()
		fn()
	}()
}

func (l *dataLink) Send(f core.Frame) error {
	l.mu.Lock()
	dc, open, ended := l.dc, l.open, l.ended
	l.mu.Unlock()
	if ended {
		return domain.ErrClosed
	}
	if !open || dc == nil {
		return fmt.Errorf("%w: link to %s not open", domain.ErrConnection, l.conn.remote)
	}
	if err := dc.Send(f); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	return nil
}

func (l *dataLink) Close() error {
	l.conn.close(true)
	return nil
}
