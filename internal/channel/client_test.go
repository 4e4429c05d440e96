package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moviehall/cinelive/internal/chat"
	"github.com/moviehall/cinelive/internal/event"
	"github.com/moviehall/cinelive/internal/wire"
)

const waitFor = 2 * time.Second
const pollEvery = 5 * time.Millisecond

type fakeTransport struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return net.ErrClosed
	default:
	}
	t.mu.Lock()
	t.writes = append(t.writes, append([]byte(nil), data...))
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) push(tb testing.TB, frame any) {
	tb.Helper()
	data, err := json.Marshal(frame)
	require.NoError(tb, err)
	t.in <- data
}

// written returns the decoded envelopes of every frame written so far.
func (t *fakeTransport) written(tb testing.TB) []wire.Envelope {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.Envelope, 0, len(t.writes))
	for _, data := range t.writes {
		env, err := wire.Peek(data)
		require.NoError(tb, err)
		out = append(out, env)
	}
	return out
}

func (t *fakeTransport) countType(tb testing.TB, frameType string) int {
	n := 0
	for _, env := range t.written(tb) {
		if env.Type == frameType {
			n++
		}
	}
	return n
}

func (t *fakeTransport) lastOfType(tb testing.TB, frameType string, v any) bool {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.writes) - 1; i >= 0; i-- {
		env, err := wire.Peek(t.writes[i])
		require.NoError(tb, err)
		if env.Type == frameType {
			require.NoError(tb, json.Unmarshal(t.writes[i], v))
			return true
		}
	}
	return false
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint, room string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) at(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

func liveEvent(id int64, now time.Time) event.BroadcastEvent {
	return event.BroadcastEvent{
		ID:        id,
		VideoURI:  "https://cdn.example.com/s.m3u8",
		StartAt:   now.Add(-time.Minute),
		EndAt:     now.Add(time.Hour),
		UpdatedAt: now,
	}
}

func connectedClient(t *testing.T, fc *clockwork.FakeClock) (*Client, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	c := New("ws://example.test/ws/cinema", d, fc)
	c.Connect(liveEvent(1, fc.Now()), Identity{Nickname: "alice"})
	require.Eventually(t, func() bool { return c.State() == StateConnected },
		waitFor, pollEvery)
	return c, d
}

func TestConnectSendsJoinSnapshot(t *testing.T) {
	fc := clockwork.NewFakeClock()
	userID := int64(9)
	d := &fakeDialer{}
	c := New("ws://example.test/ws/cinema", d, fc)

	c.Connect(liveEvent(1, fc.Now()), Identity{UserID: &userID, Nickname: "alice"})
	require.Eventually(t, func() bool { return c.State() == StateConnected },
		waitFor, pollEvery)

	var join wire.Join
	require.Eventually(t, func() bool {
		return d.at(0).lastOfType(t, wire.TypeJoin, &join)
	}, waitFor, pollEvery)
	assert.Equal(t, "cinema:1", join.Room)
	assert.Equal(t, "alice", join.Nickname)
	require.NotNil(t, join.UserID)
	assert.Equal(t, int64(9), *join.UserID)
	assert.Equal(t, c.InstanceID(), join.ClientInstanceID)
}

func TestStatsAndLikedReplacedIndependently(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)
	tr := d.at(0)

	tr.push(t, wire.Stats{Type: wire.TypeStats, Room: "cinema:1", Viewers: 5, Likes: 3})
	require.Eventually(t, func() bool { return c.Stats().Viewers == 5 }, waitFor, pollEvery)

	tr.push(t, wire.Like{Type: wire.TypeLiked, Room: "cinema:1", Liked: true})
	require.Eventually(t, func() bool { return c.Stats().LikedByMe }, waitFor, pollEvery)

	// A stats frame replaces viewers/likes wholesale and leaves likedByMe
	// untouched.
	tr.push(t, wire.Stats{Type: wire.TypeStats, Room: "cinema:1", Viewers: 7, Likes: 3})
	require.Eventually(t, func() bool { return c.Stats().Viewers == 7 }, waitFor, pollEvery)
	got := c.Stats()
	assert.Equal(t, 3, got.Likes)
	assert.True(t, got.LikedByMe)
}

func TestHistoryAndMessageFeedStore(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)
	tr := d.at(0)

	tr.push(t, wire.History{Type: wire.TypeHistory, Room: "cinema:1", Messages: []chat.Message{
		{ID: "m1", EventID: 1, Nickname: "bob", Text: "first", CreatedAt: "2026-03-14T20:00:01Z"},
		{ID: "m2", EventID: 1, Nickname: "bob", Text: "second", CreatedAt: "2026-03-14T20:00:02Z"},
	}})
	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, waitFor, pollEvery)

	tr.push(t, wire.ChatBroadcast{Type: wire.TypeMessage, Room: "cinema:1", Message: chat.Message{
		ID: "m3", EventID: 1, Nickname: "bob", Text: "third", CreatedAt: "2026-03-14T20:00:03Z",
	}})
	require.Eventually(t, func() bool { return len(c.Messages()) == 3 }, waitFor, pollEvery)
	assert.Equal(t, "third", c.Messages()[2].Text)
}

func TestMalformedAndForeignFramesDropped(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)
	tr := d.at(0)

	tr.in <- []byte("{not json")
	tr.push(t, wire.Stats{Type: wire.TypeStats, Room: "cinema:999", Viewers: 50, Likes: 50})
	tr.push(t, wire.Stats{Type: wire.TypeStats, Room: "cinema:1", Viewers: 2, Likes: 1})

	require.Eventually(t, func() bool { return c.Stats().Viewers == 2 }, waitFor, pollEvery)
	assert.Equal(t, 1, c.Stats().Likes)
	assert.Equal(t, StateConnected, c.State())
}

func TestStaleConnectionCallbacksIgnored(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)
	old := d.at(0)

	// Moving to another event's room supersedes the first connection.
	c.Connect(liveEvent(2, fc.Now()), Identity{Nickname: "alice"})
	require.Eventually(t, func() bool { return d.count() == 2 }, waitFor, pollEvery)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, pollEvery)

	// Late traffic from the superseded socket must not change state.
	old.in <- mustMarshal(t, wire.Stats{Type: wire.TypeStats, Room: "cinema:1", Viewers: 99, Likes: 99})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.Stats().Viewers)
	assert.Equal(t, StateConnected, c.State())
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestSendChatMessageSuppression(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)
	tr := d.at(0)

	c.SendChatMessage("hi")
	require.Eventually(t, func() bool { return tr.countType(t, wire.TypeMessage) == 1 },
		waitFor, pollEvery)

	// Identical trimmed text inside the suppression window is dropped.
	fc.Advance(500 * time.Millisecond)
	c.SendChatMessage(" hi ")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tr.countType(t, wire.TypeMessage))

	// After the window it sends again.
	fc.Advance(500 * time.Millisecond)
	c.SendChatMessage("hi")
	require.Eventually(t, func() bool { return tr.countType(t, wire.TypeMessage) == 2 },
		waitFor, pollEvery)

	// Different text sends immediately.
	c.SendChatMessage("bye")
	require.Eventually(t, func() bool { return tr.countType(t, wire.TypeMessage) == 3 },
		waitFor, pollEvery)

	// The local buffer only changes when the server echoes.
	assert.Empty(t, c.Messages())
}

func TestSendChatMessageRequiresConnection(t *testing.T) {
	fc := clockwork.NewFakeClock()
	d := &fakeDialer{}
	c := New("ws://example.test/ws/cinema", d, fc)

	c.SendChatMessage("hi")
	assert.Equal(t, 0, d.count())
}

func TestToggleLikeSendsIntent(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)
	tr := d.at(0)

	c.ToggleLike()
	var like wire.Like
	require.Eventually(t, func() bool { return tr.lastOfType(t, wire.TypeLike, &like) },
		waitFor, pollEvery)
	assert.True(t, like.Liked)

	// Server confirms; the next toggle sends the inverse.
	tr.push(t, wire.Like{Type: wire.TypeLiked, Room: "cinema:1", Liked: true})
	require.Eventually(t, func() bool { return c.Stats().LikedByMe }, waitFor, pollEvery)

	c.ToggleLike()
	require.Eventually(t, func() bool {
		return tr.countType(t, wire.TypeLike) == 2
	}, waitFor, pollEvery)
	require.True(t, tr.lastOfType(t, wire.TypeLike, &like))
	assert.False(t, like.Liked)
}

func TestTeardownResetsEverything(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)
	tr := d.at(0)

	tr.push(t, wire.Stats{Type: wire.TypeStats, Room: "cinema:1", Viewers: 5, Likes: 3})
	tr.push(t, wire.ChatBroadcast{Type: wire.TypeMessage, Room: "cinema:1", Message: chat.Message{
		ID: "m1", Nickname: "bob", Text: "hi", CreatedAt: "2026-03-14T20:00:01Z",
	}})
	require.Eventually(t, func() bool { return c.Stats().Viewers == 5 && len(c.Messages()) == 1 },
		waitFor, pollEvery)

	c.Teardown()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, Stats{}, c.Stats())
	assert.Empty(t, c.Messages())
}

func TestConnectDebounce(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)

	c.Teardown()
	require.Equal(t, StateIdle, c.State())

	// Reconnecting the same room right away is suppressed.
	c.Connect(liveEvent(1, fc.Now()), Identity{Nickname: "alice"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, d.count())

	// After the debounce window the reconnect proceeds.
	fc.Advance(1500 * time.Millisecond)
	c.Connect(liveEvent(1, fc.Now()), Identity{Nickname: "alice"})
	require.Eventually(t, func() bool { return c.State() == StateConnected }, waitFor, pollEvery)
	assert.Equal(t, 2, d.count())
}

func TestConnectIsNoopWhileConnected(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)

	fc.Advance(10 * time.Second)
	c.Connect(liveEvent(1, fc.Now()), Identity{Nickname: "alice"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, StateConnected, c.State())
}

func TestDialFailureIsError(t *testing.T) {
	fc := clockwork.NewFakeClock()
	d := &fakeDialer{err: errors.New("connection refused")}
	c := New("ws://example.test/ws/cinema", d, fc)

	c.Connect(liveEvent(1, fc.Now()), Identity{Nickname: "alice"})
	require.Eventually(t, func() bool { return c.State() == StateError }, waitFor, pollEvery)
}

func TestMissingEndpointIsConfigError(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New("", &fakeDialer{}, fc)

	require.False(t, c.Configured())
	c.Connect(liveEvent(1, fc.Now()), Identity{Nickname: "alice"})
	assert.Equal(t, StateError, c.State())

	// Teardown keeps the configuration error visible; it is not transient.
	c.Teardown()
	assert.Equal(t, StateError, c.State())
}

func TestTransportCloseReturnsToIdle(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c, d := connectedClient(t, fc)

	d.at(0).Close()
	require.Eventually(t, func() bool { return c.State() == StateIdle }, waitFor, pollEvery)
}
