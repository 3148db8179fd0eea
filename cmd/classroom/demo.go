package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/LiveClass/internal/adapters/capture"
	"github.com/dkeye/LiveClass/internal/adapters/loopback"
	"github.com/dkeye/LiveClass/internal/app/session"
	"github.com/dkeye/LiveClass/internal/config"
	"github.com/dkeye/LiveClass/internal/domain"
)

const demoSession domain.SessionID = "demo42"

// runDemo plays a short class on an in-process network: a teacher hosts, two
// students join, chat and a lesson flow through the host, one student leaves.
func runDemo(ctx context.Context, cfg *config.Config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	lan := loopback.NewNetwork()
	start := func(user, name string, role domain.Role) (*session.Session, error) {
		id, err := domain.NewIdentity(domain.UserID(user), name, role)
		if err != nil {
			return nil, err
		}
		s := session.New(sessionConfig(cfg, demoSession, id), lan.NewPeer(), capture.NewDevices(), session.Hooks{
			OnChat: func(m domain.ChatMessage) {
				log.Debug().Str("module", "demo").Str("at", name).Str("from", m.SenderName).Msg(m.Text)
			},
		})
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}

	host, err := start("t1", "Ms. Rivera", domain.RoleTeacher)
	if err != nil {
		return err
	}
	defer host.End()
	ana, err := start("s1", "Ana", domain.RoleStudent)
	if err != nil {
		return err
	}
	defer ana.End()
	ben, err := start("s2", "Ben", domain.RoleStudent)
	if err != nil {
		return err
	}
	defer ben.End()

	if err := waitFor(ctx, func() bool {
		return len(host.Directory()) == 2 && len(ana.Directory()) == 2 && len(ben.Directory()) == 2
	}); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	fmt.Fprintln(out, "== directory after join")
	writeDirectory(out, host.Directory())

	if err := host.ShareLesson("L2"); err != nil {
		return err
	}
	if err := ana.SendChat("hola!"); err != nil {
		return err
	}
	if _, err := ben.ToggleMute(); err != nil {
		return err
	}
	if err := waitFor(ctx, func() bool {
		l, ok := ben.ActiveLesson()
		return ok && l == "L2" && len(ben.ChatLog()) == 1 && muted(ana.Directory(), ben.Self())
	}); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	lesson, _ := domain.DefaultCatalog().Lookup("L2")
	fmt.Fprintf(out, "== lesson %s: %s\n", lesson.ID, lesson.Title)
	for _, m := range ben.ChatLog() {
		fmt.Fprintf(out, "== chat seen by Ben: %s: %s\n", m.SenderName, m.Text)
	}

	ana.End()
	if err := waitFor(ctx, func() bool { return len(ben.Directory()) == 1 }); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	fmt.Fprintln(out, "== directory after Ana left")
	writeDirectory(out, ben.Directory())
	return nil
}

func muted(recs []domain.PeerRecord, peer domain.PeerID) bool {
	for _, r := range recs {
		if r.PeerID == peer {
			return r.IsMuted
		}
	}
	return false
}

func waitFor(ctx context.Context, cond func() bool) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
