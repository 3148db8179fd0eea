package loopback

import (
	"fmt"
	"sync"

	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
)

type item struct {
	frame core.Frame
	eof   bool
}

type dataEnd struct {
	remote domain.PeerID
	meta   core.Metadata
	other  *dataEnd

	mu      sync.Mutex
	open    bool
	closed  bool
	ended   bool
	pumping bool
	queue   []item
	onOpen  func()
	onData  func(core.Frame)
	onClose func()
}

func newDataEnd(remote domain.PeerID, meta core.Metadata) *dataEnd {
	return &dataEnd{remote: remote, meta: meta}
}

func (e *dataEnd) RemotePeer() domain.PeerID { return e.remote }
func (e *dataEnd) Metadata() core.Metadata   { return e.meta }

func (e *dataEnd) OnOpen(fn func()) {
	e.mu.Lock()
	if !e.open {
		e.onOpen = fn
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	fn()
}

func (e *dataEnd) markOpen() {
	e.mu.Lock()
	if e.open || e.closed {
		e.mu.Unlock()
		return
	}
	e.open = true
	fn := e.onOpen
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (e *dataEnd) OnData(fn func(core.Frame)) {
	e.mu.Lock()
	e.onData = fn
	e.kickLocked()
	e.mu.Unlock()
}

func (e *dataEnd) OnClose(fn func()) {
	e.mu.Lock()
	if !e.ended {
		e.onClose = fn
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	fn()
}

func (e *dataEnd) Send(f core.Frame) error {
	e.mu.Lock()
	open, closed := e.open, e.closed
	e.mu.Unlock()
	if closed {
		return domain.ErrClosed
	}
	if !open {
		return fmt.Errorf("%w: link to %s not open", domain.ErrConnection, e.remote)
	}
	buf := make(core.Frame, len(f))
	copy(buf, f)
	if !e.other.enqueue(item{frame: buf}) {
		return domain.ErrClosed
	}
	return nil
}

// Close ends both sides. Frames already sent are still delivered before OnClose.
func (e *dataEnd) Close() error {
	e.shut()
	e.other.shut()
	return nil
}

func (e *dataEnd) shut() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.queue = append(e.queue, item{eof: true})
	e.kickLocked()
}

func (e *dataEnd) enqueue(it item) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.queue = append(e.queue, it)
	e.kickLocked()
	return true
}

func (e *dataEnd) kickLocked() {
	if e.pumping || len(e.queue) == 0 {
		return
	}
	e.pumping = true
	go e.pump()
}

func (e *dataEnd) pump() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 || (!e.queue[0].eof && e.onData == nil) {
			e.pumping = false
			e.mu.Unlock()
			return
		}
		it := e.queue[0]
		e.queue = e.queue[1:]
		onData, onClose := e.onData, e.onClose
		if it.eof {
			e.ended = true
			e.onClose = nil
		}
		e.mu.Unlock()

		if it.eof {
			if onClose != nil {
				onClose()
			}
			continue
		}
		onData(it.frame)
	}
}
