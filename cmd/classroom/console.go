package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/LiveClass/internal/adapters/rtc"
	"github.com/dkeye/LiveClass/internal/app/session"
	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
)

const help = `commands:
  <text>        send a chat message
  /lesson ID    share a lesson (host only)
  /lessons      list lessons
  /peers        show the directory
  /mute         toggle microphone
  /video        toggle camera
  /share        toggle screen share
  /quit         leave`

type console struct {
	ctx    context.Context
	s      *session.Session
	states chan session.State

	mu  sync.Mutex
	out io.Writer
}

func newConsole(ctx context.Context, out io.Writer) *console {
	return &console{ctx: ctx, out: out, states: make(chan session.State, 8)}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) hooks() session.Hooks {
	return session.Hooks{
		OnState: func(st session.State, err error) {
			select {
			case c.states <- st:
			default:
			}
			if err != nil {
				c.printf("* %s: %v", st, err)
				return
			}
			c.printf("* %s", st)
		},
		OnDirectory: func(recs []domain.PeerRecord) {
			c.printf("* %d in class", len(recs))
		},
		OnChat: func(m domain.ChatMessage) {
			c.printf("[%s] %s: %s", m.Timestamp.Local().Format("15:04:05"), m.SenderName, m.Text)
		},
		OnLesson: func(id domain.LessonID) {
			c.printf("* lesson %s", id)
		},
		OnRemoteStream: func(peer domain.PeerID, rs core.RemoteStream) {
			c.printf("* media from %s (%d tracks)", peer, len(rs.Tracks))
			for _, t := range rs.Tracks {
				go c.drain(peer, t)
			}
		},
		OnRemoteStreamClosed: func(peer domain.PeerID) {
			c.printf("* media from %s closed", peer)
		},
	}
}

func (c *console) drain(peer domain.PeerID, t core.RemoteTrack) {
	st, err := rtc.Drain(c.ctx, t)
	if err != nil && c.ctx.Err() == nil {
		log.Warn().Err(err).Str("module", "classroom").Str("peer", string(peer)).Str("track", t.ID()).Msg("drain")
	}
	log.Info().Str("module", "classroom").Str("peer", string(peer)).Str("track", t.ID()).
		Uint64("packets", st.Packets).Uint64("lost", st.Lost).Msg("remote track ended")
}

// loop reads commands until /quit, EOF, cancellation or the session dropping.
func (c *console) loop(in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	c.printf("%s", help)
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case st := <-c.states:
			if st == session.StateError || st == session.StateDisconnected {
				c.printf("* session %s", st)
				return c.s.Err()
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.exec(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (c *console) exec(line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case "":
	case "/quit":
		return true
	case "/help":
		c.printf("%s", help)
	case "/lessons":
		c.lessons()
	case "/peers":
		c.peers()
	case "/lesson":
		err = c.s.ShareLesson(domain.LessonID(strings.TrimSpace(arg)))
	case "/mute":
		var on bool
		if on, err = c.s.ToggleMute(); err == nil {
			c.printf("* muted: %t", on)
		}
	case "/video":
		var off bool
		if off, err = c.s.ToggleVideo(); err == nil {
			c.printf("* video off: %t", off)
		}
	case "/share":
		var on bool
		if on, err = c.s.ToggleScreenShare(c.ctx); err == nil {
			c.printf("* sharing: %t", on)
		}
	default:
		err = c.s.SendChat(line)
	}
	if err != nil {
		c.printf("! %v", err)
	}
	return false
}

func (c *console) lessons() {
	active, _ := c.s.ActiveLesson()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.s.Catalog().List() {
		mark := " "
		if l.ID == active {
			mark = "*"
		}
		fmt.Fprintf(c.out, "%s %s  %s\n", mark, l.ID, l.Title)
	}
}

func (c *console) peers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeDirectory(c.out, c.s.Directory())
}

func writeDirectory(out io.Writer, recs []domain.PeerRecord) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tNAME\tROLE\tMUTED\tVIDEO OFF")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", r.PeerID, r.DisplayName, r.Role, r.IsMuted, r.IsVideoOff)
	}
	_ = w.Flush()
}
