package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/LiveClass/internal/adapters/capture"
	"github.com/dkeye/LiveClass/internal/adapters/loopback"
	"github.com/dkeye/LiveClass/internal/app"
	"github.com/dkeye/LiveClass/internal/app/relay"
	"github.com/dkeye/LiveClass/internal/core"
	"github.com/dkeye/LiveClass/internal/domain"
	"github.com/dkeye/LiveClass/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recorder struct {
	mu      sync.Mutex
	states  []State
	lessons []domain.LessonID
	streams []domain.PeerID
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnState: func(st State, _ error) {
			r.mu.Lock()
			r.states = append(r.states, st)
			r.mu.Unlock()
		},
		OnLesson: func(id domain.LessonID) {
			r.mu.Lock()
			r.lessons = append(r.lessons, id)
			r.mu.Unlock()
		},
		OnRemoteStream: func(p domain.PeerID, _ core.RemoteStream) {
			r.mu.Lock()
			r.streams = append(r.streams, p)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) streamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

type participant struct {
	*Session
	peer *loopback.Peer
	rec  *recorder
}

type classroom struct {
	t   *testing.T
	net *loopback.Network
	cfg Config
}

func newClassroom(t *testing.T) *classroom {
	return &classroom{t: t, net: loopback.NewNetwork(), cfg: Config{SessionID: "abc123"}}
}

func (c *classroom) build(user domain.UserID, name string, role domain.Role, devices *capture.Devices) *participant {
	c.t.Helper()
	id, err := domain.NewIdentity(user, name, role)
	require.NoError(c.t, err)
	cfg := c.cfg
	cfg.Identity = id
	peer := c.net.NewPeer()
	rec := &recorder{}
	s := New(cfg, peer, devices, rec.hooks())
	c.t.Cleanup(s.End)
	return &participant{Session: s, peer: peer, rec: rec}
}

func (c *classroom) join(user domain.UserID, name string, role domain.Role) *participant {
	c.t.Helper()
	p := c.build(user, name, role, capture.NewDevices())
	require.NoError(c.t, p.Start(context.Background()))
	require.Equal(c.t, StateConnected, p.State())
	return p
}

func peerIDs(recs []domain.PeerRecord) []domain.PeerID {
	out := make([]domain.PeerID, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.PeerID)
	}
	return out
}

func converged(host *participant, students ...*participant) func() bool {
	return func() bool {
		want := host.Directory()
		for _, s := range students {
			got := s.Directory()
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
		}
		return true
	}
}

func TestJoinScenario(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	assert.Equal(t, domain.PeerID("abc123-host"), host.Self())
	assert.Empty(t, host.Directory())

	alice := c.join("u1", "Alice", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(host.Directory()) == 1 }, waitFor, tick)
	require.Eventually(t, converged(host, alice), waitFor, tick)
	assert.Equal(t, domain.PeerRecord{
		PeerID: alice.Self(), UserID: "u1", DisplayName: "Alice", Role: domain.RoleStudent,
	}, host.Directory()[0])

	bob := c.join("u2", "Bob", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(host.Directory()) == 2 }, waitFor, tick)
	require.Eventually(t, converged(host, alice, bob), waitFor, tick)
	assert.ElementsMatch(t, []domain.PeerID{alice.Self(), bob.Self()}, peerIDs(bob.Directory()))
}

func TestChatFanOut(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	bob := c.join("u2", "Bob", domain.RoleStudent)
	require.Eventually(t, converged(host, alice, bob), waitFor, tick)
	require.Eventually(t, func() bool { return len(bob.Directory()) == 2 }, waitFor, tick)

	require.NoError(t, alice.SendChat("hello"))
	for _, p := range []*participant{host, bob} {
		require.Eventually(t, func() bool { return len(p.ChatLog()) == 1 }, waitFor, tick)
		got := p.ChatLog()[0]
		assert.Equal(t, "Alice", got.SenderName)
		assert.Equal(t, "hello", got.Text)
	}
	assert.Never(t, func() bool { return len(alice.ChatLog()) > 1 }, 50*time.Millisecond, tick)
	assert.Len(t, alice.ChatLog(), 1)

	require.NoError(t, host.SendChat("welcome"))
	for _, p := range []*participant{host, alice, bob} {
		require.Eventually(t, func() bool { return len(p.ChatLog()) == 2 }, waitFor, tick)
		assert.Equal(t, "welcome", p.ChatLog()[1].Text)
	}

	assert.ErrorIs(t, alice.SendChat("   "), domain.ErrChatEmpty)
}

func TestLateJoinerMissesEarlierChat(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	require.Eventually(t, converged(host, alice), waitFor, tick)
	require.Eventually(t, func() bool { return len(alice.Directory()) == 1 }, waitFor, tick)

	require.NoError(t, alice.SendChat("early"))
	require.Eventually(t, func() bool { return len(host.ChatLog()) == 1 }, waitFor, tick)

	bob := c.join("u2", "Bob", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(bob.Directory()) == 2 }, waitFor, tick)
	assert.Empty(t, bob.ChatLog())
}

func TestShareLesson(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	bob := c.join("u2", "Bob", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(host.Directory()) == 2 }, waitFor, tick)
	require.Eventually(t, converged(host, alice, bob), waitFor, tick)

	require.NoError(t, host.ShareLesson("L2"))
	for _, p := range []*participant{host, alice, bob} {
		require.Eventually(t, func() bool {
			id, ok := p.ActiveLesson()
			return ok && id == "L2"
		}, waitFor, tick)
	}
	alice.rec.mu.Lock()
	assert.Equal(t, []domain.LessonID{"L2"}, alice.rec.lessons)
	alice.rec.mu.Unlock()

	assert.ErrorIs(t, alice.ShareLesson("L3"), domain.ErrNotHost)
	assert.ErrorIs(t, host.ShareLesson("L9"), domain.ErrUnknownLesson)
	id, _ := bob.ActiveLesson()
	assert.Equal(t, domain.LessonID("L2"), id)
}

func TestRemovalPropagation(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	bob := c.join("u2", "Bob", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(bob.Directory()) == 2 }, waitFor, tick)
	require.Eventually(t, converged(host, alice, bob), waitFor, tick)
	aliceID := alice.Self()

	alice.End()
	assert.Equal(t, StateDisconnected, alice.State())
	assert.Empty(t, alice.Directory())

	require.Eventually(t, func() bool { return len(host.Directory()) == 1 }, waitFor, tick)
	require.Eventually(t, converged(host, bob), waitFor, tick)
	assert.NotContains(t, peerIDs(bob.Directory()), aliceID)
	assert.Equal(t, domain.UserID("u2"), host.Directory()[0].UserID)
}

func TestHostExitDisconnectsStudents(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(alice.Directory()) == 1 }, waitFor, tick)

	host.End()
	require.Eventually(t, func() bool { return alice.State() == StateDisconnected }, waitFor, tick)
	assert.Empty(t, alice.Directory())
	assert.ErrorIs(t, alice.SendChat("anyone?"), domain.ErrConnection)
}

func TestSecondHostConflicts(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(host.Directory()) == 1 }, waitFor, tick)
	before := host.Directory()

	rival := c.build("t2", "Other Teacher", domain.RoleAdmin, capture.NewDevices())
	err := rival.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrIdentityConflict)
	assert.Equal(t, StateError, rival.State())
	assert.ErrorIs(t, rival.Err(), domain.ErrIdentityConflict)

	assert.Equal(t, before, host.Directory())
	assert.Contains(t, c.net.Bound(), domain.PeerID("abc123-host"))
	require.NoError(t, alice.SendChat("still here"))
	require.Eventually(t, func() bool { return len(host.ChatLog()) == 1 }, waitFor, tick)
}

func TestMediaErrorAtStart(t *testing.T) {
	c := newClassroom(t)
	host := c.build("t1", "Teacher", domain.RoleTeacher, capture.NewDevices(capture.DenyPermission()))

	err := host.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrMedia)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, StateError, host.State())
	assert.NotContains(t, c.net.Bound(), domain.PeerID("abc123-host"))

	student := c.build("u1", "Alice", domain.RoleStudent, capture.NewDevices(capture.WithoutCamera()))
	assert.ErrorIs(t, student.Start(context.Background()), domain.ErrNoDevice)
	assert.Equal(t, StateError, student.State())
}

func TestConnectWithoutHost(t *testing.T) {
	c := newClassroom(t)
	alice := c.build("u1", "Alice", domain.RoleStudent, capture.NewDevices())

	err := alice.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Equal(t, StateError, alice.State())
	assert.Empty(t, c.net.Bound())
}

func TestTransportErrorIsFatal(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	host.peer.Fail(assert.AnError)

	require.Eventually(t, func() bool { return host.State() == StateError }, waitFor, tick)
	assert.ErrorIs(t, host.Err(), domain.ErrConnection)
}

func TestTeardownIdempotent(t *testing.T) {
	c := newClassroom(t)
	idle := c.build("u9", "Idle", domain.RoleStudent, capture.NewDevices())
	idle.End()
	idle.End()
	require.NoError(t, idle.Start(context.Background()))
	assert.Equal(t, StateDisconnected, idle.State())
	assert.Empty(t, c.net.Bound())

	host := c.join("t1", "Teacher", domain.RoleTeacher)
	local := host.local
	host.End()
	host.End()
	assert.Equal(t, StateDisconnected, host.State())
	assert.True(t, local.Audio.(*capture.Track).Stopped())
	assert.True(t, local.Video.(*capture.Track).Stopped())
	assert.Empty(t, c.net.Bound())

	host.rec.mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, host.rec.states)
	host.rec.mu.Unlock()
}

func TestPresenceUpdate(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	bob := c.join("u2", "Bob", domain.RoleStudent)
	require.Eventually(t, func() bool { return len(bob.Directory()) == 2 }, waitFor, tick)

	muted, err := alice.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	off, err := alice.ToggleVideo()
	require.NoError(t, err)
	assert.True(t, off)
	assert.False(t, alice.local.Audio.Enabled())

	find := func(p *participant) domain.PeerRecord {
		for _, r := range p.Directory() {
			if r.PeerID == alice.Self() {
				return r
			}
		}
		return domain.PeerRecord{}
	}
	require.Eventually(t, func() bool {
		r := find(host)
		return r.IsMuted && r.IsVideoOff
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		r := find(bob)
		return r.IsMuted && r.IsVideoOff
	}, waitFor, tick)

	muted, err = host.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.True(t, host.Muted())
}

func TestCallsAndScreenShare(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	bob := c.join("u2", "Bob", domain.RoleStudent)

	require.Eventually(t, func() bool { return host.media.Calls() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return alice.rec.streamCount() > 0 && bob.rec.streamCount() > 0 }, waitFor, tick)
	alice.rec.mu.Lock()
	assert.Equal(t, domain.PeerID("abc123-host"), alice.rec.streams[0])
	alice.rec.mu.Unlock()

	before := map[domain.PeerID]core.MediaLink{}
	for _, p := range []*participant{alice, bob} {
		l, ok := host.media.Link(p.Self())
		require.True(t, ok)
		before[p.Self()] = l
	}

	sharing, err := host.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, sharing)
	for peer, l := range before {
		now, ok := host.media.Link(peer)
		require.True(t, ok)
		assert.Same(t, l, now)
		assert.Same(t, host.local.Audio, l.Senders().Audio.Track())
		assert.NotSame(t, host.local.Video, l.Senders().Video.Track())
		assert.Equal(t, core.KindVideo, l.Senders().Video.Track().Kind())
	}

	sharing, err = host.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.False(t, sharing)
	for _, l := range before {
		assert.Same(t, host.local.Video, l.Senders().Video.Track())
	}
}

func TestStudentLeaveHangsUpCall(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	alice := c.join("u1", "Alice", domain.RoleStudent)
	require.Eventually(t, func() bool { return host.media.Calls() == 1 }, waitFor, tick)

	alice.End()
	require.Eventually(t, func() bool { return host.media.Calls() == 0 }, waitFor, tick)
}

func rawLink(t *testing.T, c *classroom) core.DataLink {
	t.Helper()
	p := c.net.NewPeer()
	_, err := p.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	link, err := p.Connect(context.Background(), "abc123-host", nil)
	require.NoError(t, err)
	link.OnData(func(core.Frame) {})
	opened := make(chan struct{})
	link.OnOpen(func() { close(opened) })
	<-opened
	return link
}

func send(t *testing.T, link core.DataLink, m protocol.Message) {
	t.Helper()
	f, err := protocol.Encode(m)
	require.NoError(t, err)
	require.NoError(t, link.Send(f))
}

func TestHostDropsProtocolErrors(t *testing.T) {
	c := newClassroom(t)
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	link := rawLink(t, c)

	require.NoError(t, link.Send(core.Frame(`{"type":"join","userId":""}`)))
	require.NoError(t, link.Send(core.Frame(`not json`)))
	send(t, link, protocol.NewChat(domain.ChatMessage{SenderName: "X", Text: "early", Timestamp: time.Now()}))
	send(t, link, protocol.LessonUpdate{LessonID: "L4"})
	send(t, link, protocol.PresenceUpdate{IsMuted: true})
	send(t, link, protocol.Join{UserID: "u7", Name: "Mallory", Role: domain.RoleStudent})

	require.Eventually(t, func() bool { return len(host.Directory()) == 1 }, waitFor, tick)
	assert.Empty(t, host.ChatLog())
	_, ok := host.ActiveLesson()
	assert.False(t, ok)
	assert.False(t, host.Directory()[0].IsMuted)
	assert.Equal(t, StateConnected, host.State())
}

func TestFloodingLinkClosed(t *testing.T) {
	c := newClassroom(t)
	c.cfg.Limits = relay.PerSecond(0.001, 2)
	c.cfg.Policy = app.SimplePolicy{MaxStrikes: 1}
	host := c.join("t1", "Teacher", domain.RoleTeacher)
	link := rawLink(t, c)

	closed := make(chan struct{})
	link.OnClose(func() { close(closed) })
	send(t, link, protocol.Join{UserID: "u7", Name: "Mallory", Role: domain.RoleStudent})
	for range 3 {
		send(t, link, protocol.NewChat(domain.ChatMessage{SenderName: "Mallory", Text: "spam", Timestamp: time.Now()}))
	}

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("flooding link not closed")
	}
	require.Eventually(t, func() bool { return len(host.Directory()) == 0 }, waitFor, tick)
	assert.Len(t, host.ChatLog(), 1)
}

// gatedPeer holds every outbound call until gate is closed.
type gatedPeer struct {
	*loopback.Peer
	gate    chan struct{}
	dialing chan domain.PeerID
	placed  atomic.Int32
}

func (g *gatedPeer) Call(ctx context.Context, id domain.PeerID, stream *core.LocalStream) (core.MediaLink, error) {
	g.placed.Add(1)
	g.dialing <- id
	<-g.gate
	return g.Peer.Call(ctx, id, stream)
}

func gatedHost(t *testing.T, c *classroom) (*Session, *gatedPeer) {
	t.Helper()
	id, err := domain.NewIdentity("t1", "Teacher", domain.RoleTeacher)
	require.NoError(t, err)
	cfg := c.cfg
	cfg.Identity = id
	g := &gatedPeer{Peer: c.net.NewPeer(), gate: make(chan struct{}), dialing: make(chan domain.PeerID, 4)}
	s := New(cfg, g, capture.NewDevices(), Hooks{})
	t.Cleanup(s.End)
	require.NoError(t, s.Start(context.Background()))
	return s, g
}

func TestLeaveWhileCallingHangsUp(t *testing.T) {
	c := newClassroom(t)
	host, g := gatedHost(t, c)
	link := rawLink(t, c)

	send(t, link, protocol.Join{UserID: "u1", Name: "Alice", Role: domain.RoleStudent})
	<-g.dialing
	require.NoError(t, link.Close())
	require.Eventually(t, func() bool { return len(host.Directory()) == 0 }, waitFor, tick)

	close(g.gate)
	require.Eventually(t, func() bool { return host.manager().Dialing() == 0 }, waitFor, tick)
	assert.Zero(t, host.manager().Calls())
}

func TestDuplicateJoinPlacesOneCall(t *testing.T) {
	c := newClassroom(t)
	host, g := gatedHost(t, c)
	link := rawLink(t, c)

	join := protocol.Join{UserID: "u1", Name: "Alice", Role: domain.RoleStudent}
	send(t, link, join)
	send(t, link, join)
	<-g.dialing
	send(t, link, protocol.NewChat(domain.ChatMessage{SenderName: "Alice", Text: "hi", Timestamp: time.Now()}))
	require.Eventually(t, func() bool { return len(host.ChatLog()) == 1 }, waitFor, tick)

	close(g.gate)
	require.Eventually(t, func() bool { return host.manager().Calls() == 1 }, waitFor, tick)
	assert.Zero(t, host.manager().Dialing())
	assert.Equal(t, int32(1), g.placed.Load())
	assert.Len(t, host.Directory(), 1)
}
