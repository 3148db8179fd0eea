package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/LiveClass/internal/adapters/capture"
	"github.com/dkeye/LiveClass/internal/adapters/loopback"
	"github.com/dkeye/LiveClass/internal/app/session"
	"github.com/dkeye/LiveClass/internal/config"
	"github.com/dkeye/LiveClass/internal/domain"
)

func TestDemoClass(t *testing.T) {
	cfg := &config.Config{ConnectTimeout: 5 * time.Second, ChatRate: 5, ChatBurst: 10, MaxChatLen: 2000}
	var out bytes.Buffer
	require.NoError(t, runDemo(context.Background(), cfg, &out))

	got := out.String()
	assert.Contains(t, got, "lesson L2: Numbers & Colors")
	assert.Contains(t, got, "chat seen by Ben: Ana: hola!")
	assert.Contains(t, got, "directory after Ana left")
}

func TestConsoleExec(t *testing.T) {
	cfg := &config.Config{ChatRate: 5, ChatBurst: 10, MaxChatLen: 2000}
	id, err := domain.NewIdentity("t1", "Teacher", domain.RoleTeacher)
	require.NoError(t, err)

	var out bytes.Buffer
	c := newConsole(context.Background(), &out)
	s := session.New(sessionConfig(cfg, "exec1", id), loopback.NewNetwork().NewPeer(), capture.NewDevices(), c.hooks())
	c.s = s
	defer s.End()
	require.NoError(t, s.Start(context.Background()))

	assert.False(t, c.exec("/lesson L3"))
	lesson, ok := s.ActiveLesson()
	assert.True(t, ok)
	assert.Equal(t, domain.LessonID("L3"), lesson)

	assert.False(t, c.exec("good morning"))
	require.Len(t, s.ChatLog(), 1)
	assert.Equal(t, "good morning", s.ChatLog()[0].Text)

	assert.False(t, c.exec("/mute"))
	assert.True(t, s.Muted())

	assert.False(t, c.exec("/lesson L9"))
	assert.Contains(t, out.String(), "! ")

	out.Reset()
	c.exec("/lessons")
	assert.Contains(t, out.String(), "* L3")

	assert.True(t, c.exec("/quit"))
}

func TestConsoleLessonsFromSessionCatalog(t *testing.T) {
	cfg := &config.Config{ChatRate: 5, ChatBurst: 10, MaxChatLen: 2000}
	id, err := domain.NewIdentity("t1", "Teacher", domain.RoleTeacher)
	require.NoError(t, err)

	var out bytes.Buffer
	c := newConsole(context.Background(), &out)
	sc := sessionConfig(cfg, "cat1", id)
	sc.Catalog = domain.NewCatalog(domain.Lesson{ID: "X1", Title: "Custom"})
	c.s = session.New(sc, loopback.NewNetwork().NewPeer(), capture.NewDevices(), c.hooks())

	c.lessons()
	assert.Contains(t, out.String(), "X1")
	assert.NotContains(t, out.String(), "L2")
}

func TestConsoleLoopEndsWhenHostLeaves(t *testing.T) {
	cfg := &config.Config{ChatRate: 5, ChatBurst: 10, MaxChatLen: 2000}
	lan := loopback.NewNetwork()
	tid, err := domain.NewIdentity("t1", "Teacher", domain.RoleTeacher)
	require.NoError(t, err)
	sid, err := domain.NewIdentity("s1", "Ana", domain.RoleStudent)
	require.NoError(t, err)

	host := session.New(sessionConfig(cfg, "gone1", tid), lan.NewPeer(), capture.NewDevices(), session.Hooks{})
	require.NoError(t, host.Start(context.Background()))
	defer host.End()

	var out bytes.Buffer
	c := newConsole(context.Background(), &out)
	c.s = session.New(sessionConfig(cfg, "gone1", sid), lan.NewPeer(), capture.NewDevices(), c.hooks())
	defer c.s.End()
	require.NoError(t, c.s.Start(context.Background()))

	// stdin stays silent for the whole test
	stdin, w := io.Pipe()
	defer w.Close()
	done := make(chan error, 1)
	go func() { done <- c.loop(stdin) }()

	host.End()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("console kept waiting for input after the host left")
	}
	assert.Contains(t, []session.State{session.StateError, session.StateDisconnected}, c.s.State())
}
