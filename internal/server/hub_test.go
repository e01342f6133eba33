package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateDuplicateLeavesChannelUntouched verifies that a second create
// fails and keeps the existing members and history.
func TestCreateDuplicateLeavesChannelUntouched(t *testing.T) {
	h := newTestHub(t, testConfig())
	alice := newTestClient(t, h, "10.0.0.1:1000", "alice")

	require.NoError(t, h.Create("lobby"))
	_, err := h.Join(alice, "lobby")
	require.NoError(t, err)
	require.NoError(t, h.Post("lobby", NewTextMessage(fixedClock, "alice", "hi"), alice))

	err = h.Create("lobby")
	require.ErrorIs(t, err, ErrChannelExists)

	ch, ok := h.Channel("lobby")
	require.True(t, ok)
	assert.Equal(t, []*Client{alice}, ch.Members())
	assert.Len(t, ch.History(), 1)
	assert.Equal(t, []string{"lobby"}, h.Channels())
	assert.Equal(t, float64(1), metricValue(h.metrics.channels))
}

// TestChannelsInCreationOrder verifies that listing keeps creation order.
func TestChannelsInCreationOrder(t *testing.T) {
	h := newTestHub(t, testConfig())
	assert.Empty(t, h.Channels())

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, h.Create(name))
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, h.Channels())
}

// TestJoinUnknownChannel verifies the not-found error and that the client's
// state is left alone.
func TestJoinUnknownChannel(t *testing.T) {
	h := newTestHub(t, testConfig())
	c := newTestClient(t, h, "10.0.0.1:1000", "")

	_, err := h.Join(c, "nowhere")
	require.ErrorIs(t, err, ErrChannelNotFound)
	assert.Equal(t, "", c.Channel())
	assert.Equal(t, StateConnected, c.State())
	assert.Empty(t, queued(c))
}

// TestJoinReplaysHistoryInOrder verifies that a joiner receives every
// message exactly once and in append order, followed by the confirmation.
func TestJoinReplaysHistoryInOrder(t *testing.T) {
	h := newTestHub(t, testConfig())
	poster := newTestClient(t, h, "10.0.0.1:1000", "poster")
	require.NoError(t, h.Create("lobby"))

	const n = 50
	want := make([]string, 0, n+1)
	for i := range n {
		msg := NewTextMessage(fixedClock, "poster", fmt.Sprintf("m%d", i))
		require.NoError(t, h.Post("lobby", msg, poster))
		want = append(want, msg.Render())
	}
	want = append(want, "Joined channel 'lobby'")

	late := newTestClient(t, h, "10.0.0.2:2000", "late")
	history, err := h.Join(late, "lobby")
	require.NoError(t, err)
	assert.Len(t, history, n)
	assert.Equal(t, want, queued(late))
	assert.Equal(t, StateInChannel, late.State())
	assert.Equal(t, "lobby", late.Channel())
}

// TestJoinNotifiesMembersAndLeavesPrevious verifies the notices around a
// channel switch.
func TestJoinNotifiesMembersAndLeavesPrevious(t *testing.T) {
	h := newTestHub(t, testConfig())
	alice := newTestClient(t, h, "10.0.0.1:1000", "alice")
	bob := newTestClient(t, h, "10.0.0.2:2000", "bob")
	carol := newTestClient(t, h, "10.0.0.3:3000", "carol")

	require.NoError(t, h.Create("a"))
	require.NoError(t, h.Create("b"))

	_, err := h.Join(alice, "a")
	require.NoError(t, err)
	_, err = h.Join(carol, "b")
	require.NoError(t, err)
	_, err = h.Join(bob, "a")
	require.NoError(t, err)
	queued(alice)
	queued(bob)
	queued(carol)

	_, err = h.Join(bob, "b")
	require.NoError(t, err)

	assert.Equal(t, []string{"bob has left the channel."}, queued(alice))
	assert.Equal(t, []string{"bob has joined the channel."}, queued(carol))
	assert.Equal(t, []string{"Joined channel 'b'"}, queued(bob))

	chA, _ := h.Channel("a")
	chB, _ := h.Channel("b")
	assert.Equal(t, []*Client{alice}, chA.Members())
	assert.Equal(t, []*Client{carol, bob}, chB.Members())
}

// TestPostExcludesSender verifies that the sender never receives its own
// message while every other member does.
func TestPostExcludesSender(t *testing.T) {
	h := newTestHub(t, testConfig())
	require.NoError(t, h.Create("lobby"))

	members := make([]*Client, 3)
	for i := range members {
		members[i] = newTestClient(t, h, fmt.Sprintf("10.0.0.%d:1000", i+1), fmt.Sprintf("u%d", i))
		_, err := h.Join(members[i], "lobby")
		require.NoError(t, err)
	}
	for _, m := range members {
		queued(m)
	}

	msg := NewTextMessage(fixedClock, "u0", "hello")
	require.NoError(t, h.Post("lobby", msg, members[0]))

	assert.Empty(t, queued(members[0]))
	assert.Equal(t, []string{"[12:34 : u0] hello"}, queued(members[1]))
	assert.Equal(t, []string{"[12:34 : u0] hello"}, queued(members[2]))
	assert.Equal(t, float64(1), metricValue(h.metrics.messages.WithLabelValues("text")))
}

// TestPostUnknownChannel verifies the not-found error.
func TestPostUnknownChannel(t *testing.T) {
	h := newTestHub(t, testConfig())
	err := h.Post("ghost", NewTextMessage(fixedClock, "x", "y"), nil)
	require.ErrorIs(t, err, ErrChannelNotFound)

	_, err = h.Replay("ghost")
	require.ErrorIs(t, err, ErrChannelNotFound)
}

// TestLeaveIsIdempotent verifies that leaving twice changes nothing the
// second time.
func TestLeaveIsIdempotent(t *testing.T) {
	h := newTestHub(t, testConfig())
	c := newTestClient(t, h, "10.0.0.1:1000", "c")
	require.NoError(t, h.Create("lobby"))
	_, err := h.Join(c, "lobby")
	require.NoError(t, err)

	assert.True(t, h.Leave(c, "lobby"))
	assert.False(t, h.Leave(c, "lobby"))
	assert.False(t, h.Leave(c, "missing"))
	assert.Equal(t, StateConnected, c.State())

	ch, _ := h.Channel("lobby")
	assert.Empty(t, ch.Members())
}

// TestConcurrentJoinsAndPosts verifies that every joiner sees each message
// exactly once and in history order, whether it arrived through replay or
// live delivery.
func TestConcurrentJoinsAndPosts(t *testing.T) {
	h := newTestHub(t, testConfig())
	require.NoError(t, h.Create("room"))
	poster := newTestClient(t, h, "10.0.0.1:1000", "poster")

	const seeded, live, joiners = 5, 40, 30
	for i := range seeded {
		require.NoError(t, h.Post("room", NewTextMessage(fixedClock, "poster", fmt.Sprintf("m%d", i)), poster))
	}

	clients := make([]*Client, joiners)
	for i := range clients {
		clients[i] = newTestClient(t, h, fmt.Sprintf("10.1.0.%d:5000", i), fmt.Sprintf("j%d", i))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := seeded; i < seeded+live; i++ {
			_ = h.Post("room", NewTextMessage(fixedClock, "poster", fmt.Sprintf("m%d", i)), poster)
		}
	}()
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Join(c, "room")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ch, _ := h.Channel("room")
	assert.ElementsMatch(t, clients, ch.Members())

	history, err := h.Replay("room")
	require.NoError(t, err)
	require.Len(t, history, seeded+live)
	want := make([]string, len(history))
	for i, m := range history {
		want[i] = m.Render()
	}

	for _, c := range clients {
		var got []string
		for _, line := range queued(c) {
			if len(line) > 0 && line[0] == '[' {
				got = append(got, line)
			}
		}
		assert.Equal(t, want, got, "client %s", c.Nickname())
	}
}

// TestFindByNicknameReturnsOldestSession verifies that duplicate nicknames
// resolve to a single, deterministic client.
func TestFindByNicknameReturnsOldestSession(t *testing.T) {
	h := newTestHub(t, testConfig())
	first := newTestClient(t, h, "10.0.0.1:1000", "alice")
	second := newTestClient(t, h, "10.0.0.2:2000", "alice")

	found, err := h.FindByNickname("alice")
	require.NoError(t, err)
	assert.Same(t, first, found)

	h.unregister(first)
	found, err = h.FindByNickname("alice")
	require.NoError(t, err)
	assert.Same(t, second, found)

	_, err = h.FindByNickname("nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}

// TestFullQueueDropsClient verifies that a member whose queue is full is
// disconnected without blocking delivery to the others.
func TestFullQueueDropsClient(t *testing.T) {
	cfg := testConfig()
	cfg.SendQueueSize = 2
	h := newTestHub(t, cfg)
	require.NoError(t, h.Create("lobby"))

	sender := newTestClient(t, h, "10.0.0.1:1000", "sender")
	slow := newTestClient(t, h, "10.0.0.2:2000", "slow")
	fast := newTestClient(t, h, "10.0.0.3:3000", "fast")
	for _, c := range []*Client{sender, slow, fast} {
		_, err := h.Join(c, "lobby")
		require.NoError(t, err)
		queued(sender)
	}
	queued(fast)
	// slow holds its replay batch plus the "fast has joined" notice.

	require.NoError(t, h.Post("lobby", NewTextMessage(fixedClock, "sender", "one"), sender))
	assert.Equal(t, []string{"[12:34 : sender] one"}, queued(fast))

	conn := slow.conn.(*fakeConn)
	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), metricValue(h.metrics.deliveryFailures))
}

// TestDeliverToClosedClient verifies that a closed queue is reported but not
// counted as a slow consumer.
func TestDeliverToClosedClient(t *testing.T) {
	h := newTestHub(t, testConfig())
	c := newTestClient(t, h, "10.0.0.1:1000", "c")
	c.closeSend()

	err := h.Deliver(c, "late")
	require.ErrorIs(t, err, ErrClientClosed)
	assert.Equal(t, float64(0), metricValue(h.metrics.deliveryFailures))
	assert.False(t, c.conn.(*fakeConn).isClosed())
}

// TestDisconnectNotifiesChannel verifies the notice and unregistration on
// session termination.
func TestDisconnectNotifiesChannel(t *testing.T) {
	h := newTestHub(t, testConfig())
	require.NoError(t, h.Create("lobby"))
	alice := newTestClient(t, h, "10.0.0.1:1000", "alice")
	bob := newTestClient(t, h, "10.0.0.2:2000", "bob")
	for _, c := range []*Client{alice, bob} {
		_, err := h.Join(c, "lobby")
		require.NoError(t, err)
	}
	queued(bob)

	alice.terminate()

	assert.Equal(t, []string{"alice has disconnected."}, queued(bob))
	assert.Equal(t, StateTerminated, alice.State())
	assert.Equal(t, 1, h.ClientCount())
	assert.Equal(t, float64(1), metricValue(h.metrics.sessionsActive))

	ch, _ := h.Channel("lobby")
	assert.Equal(t, []*Client{bob}, ch.Members())
}

// TestAddAfterShutdown verifies that a closed hub rejects new sessions.
func TestAddAfterShutdown(t *testing.T) {
	h := newTestHub(t, testConfig())
	require.NoError(t, h.Shutdown(time.Second))

	c := NewClient(newFakeConn("10.0.0.1:1000"), h)
	require.ErrorIs(t, h.Register(c), ErrServerClosed)
	assert.True(t, c.conn.(*fakeConn).isClosed())
}

// TestShutdownWaitsForReservedPumps verifies that pumps reserved when a
// client is added are awaited by Shutdown.
func TestShutdownWaitsForReservedPumps(t *testing.T) {
	h := newTestHub(t, testConfig())
	c := NewClient(newFakeConn("10.0.0.1:1000"), h)
	require.NoError(t, h.add(c, 1))

	require.ErrorIs(t, h.Shutdown(20*time.Millisecond), context.DeadlineExceeded)
	h.wg.Done()
	require.NoError(t, h.Shutdown(time.Second))
}

// TestRegisterRacingShutdown verifies that every session admitted while
// Shutdown runs is terminated before Shutdown returns.
func TestRegisterRacingShutdown(t *testing.T) {
	h := newTestHub(t, testConfig())

	const sessions = 50
	clients := make([]*Client, sessions)
	errs := make([]error, sessions)
	var wg sync.WaitGroup
	for i := range clients {
		clients[i] = NewClient(newFakeConn(fmt.Sprintf("10.2.0.%d:7000", i)), h)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.Register(clients[i])
		}()
	}

	require.NoError(t, h.Shutdown(2*time.Second))
	wg.Wait()

	for i, c := range clients {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], ErrServerClosed)
			continue
		}
		assert.Equal(t, StateTerminated, c.State())
	}
	assert.Equal(t, 0, h.ClientCount())
}
