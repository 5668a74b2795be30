package hub

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/pugbot/internal/catalog"
	"github.com/DoyleJ11/pugbot/internal/channels"
	"github.com/DoyleJ11/pugbot/internal/engine"
	"github.com/DoyleJ11/pugbot/internal/timers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testCatalog = `
servers: ["10.0.0.1:27015"]
modes:
  - name: solo
    capacity: 1
    maps: [cp_process_final]
  - name: ultiduo
    capacity: 4
    maps: [m1, m2, m3]
`

type sent struct {
	channel  string
	player   string
	text     string
	mentions []string
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []sent
	ended    []string
}

func (n *recordingNotifier) ChannelMessage(channelID, text string, mentions []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, sent{channel: channelID, text: text, mentions: mentions})
}

func (n *recordingNotifier) DirectMessage(playerID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, sent{player: playerID, text: text})
}

func (n *recordingNotifier) SessionChanged(engine.Session) {}

func (n *recordingNotifier) SessionEnded(channelID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, channelID)
}

func (n *recordingNotifier) find(match func(sent) bool) (sent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.messages {
		if match(m) {
			return m, true
		}
	}
	return sent{}, false
}

type capturingProvisioner struct {
	started chan engine.Session
}

func (p *capturingProvisioner) Run(_ context.Context, s engine.Session, _ Reporter) {
	p.started <- s
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	hub      *Hub
	notifier *recordingNotifier
	prov     *capturingProvisioner
	timers   *timers.Registry
	clock    *clock
}

func newFixture(t *testing.T, modes map[string]string, readyCheck, mapVote time.Duration) *fixture {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	store := channels.NewMemoryStore()
	for channel, mode := range modes {
		require.NoError(t, store.SetMode(context.Background(), channel, mode))
	}

	f := &fixture{
		notifier: &recordingNotifier{},
		prov:     &capturingProvisioner{started: make(chan engine.Session, 4)},
		timers:   timers.NewRegistry(),
		clock:    &clock{now: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f.hub = NewHub(ctx, Config{
		Catalog:     cat,
		Channels:    store,
		Notifier:    f.notifier,
		Provisioner: f.prov,
		Timers:      f.timers,
		Rules: engine.Rules{
			ReadyDefault:      10 * time.Minute,
			ReadyMin:          time.Minute,
			ReadyMax:          time.Hour,
			ReadyCheckTimeout: readyCheck,
			MapVoteTimeout:    mapVote,
		},
		Log: zaptest.NewLogger(t),
		Now: f.clock.Now,
	})
	return f
}

func (f *fixture) recvProvision(t *testing.T) engine.Session {
	t.Helper()
	select {
	case s := <-f.prov.started:
		return s
	case <-time.After(time.Second):
		t.Fatalf("provisioner was not started")
		return engine.Session{}
	}
}

func TestHub_JoinCreatesSession(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo"}, time.Minute, time.Minute)
	ctx := context.Background()

	res, err := f.hub.Join(ctx, "ch1", "p1", 0)
	require.NoError(t, err)
	assert.Equal(t, "ultiduo", res.Session.Mode)
	assert.Equal(t, 4, res.Session.Rules.Capacity)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), res.Session.Players["p1"].ReadyUntil)

	s, err := f.hub.Status(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, s.PlayerIDs())
}

func TestHub_Refusals(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo"}, time.Minute, time.Minute)
	ctx := context.Background()

	_, err := f.hub.Join(ctx, "nowhere", "p1", 0)
	assert.ErrorIs(t, err, engine.ErrNotConfigured)

	_, err = f.hub.Leave(ctx, "ch1", "p1")
	assert.ErrorIs(t, err, engine.ErrNoSession)

	_, err = f.hub.Join(ctx, "ch1", "p1", 0)
	require.NoError(t, err)
	_, err = f.hub.Join(ctx, "ch1", "p1", 0)
	assert.ErrorIs(t, err, engine.ErrAlreadyQueued)

	_, err = f.hub.Start(ctx, "ch1")
	assert.ErrorIs(t, err, engine.ErrSessionExists)

	_, err = f.hub.Vote(ctx, "ch1", "p1", "nope")
	assert.ErrorIs(t, err, engine.ErrUnknownMap)
}

func TestHub_FullAndReadyVotesThenProvisions(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo"}, time.Minute, time.Minute)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		_, err := f.hub.Join(ctx, "ch1", p, 0)
		require.NoError(t, err)
	}
	s, err := f.hub.Status(ctx, "ch1")
	require.NoError(t, err)
	require.Equal(t, engine.StateMapVote, s.State)
	assert.True(t, f.timers.Pending(s.MapVoteTimer))

	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		_, err := f.hub.Vote(ctx, "ch1", p, "m1")
		require.NoError(t, err)
	}
	assert.False(t, f.timers.Pending(s.MapVoteTimer))

	started := f.recvProvision(t)
	assert.Equal(t, engine.StateFindingServer, started.State)
	assert.Equal(t, "m1", started.ChosenMap)
	assert.Equal(t, 4, started.MaxVoteCount)

	_, ok := f.notifier.find(func(m sent) bool { return strings.HasPrefix(m.text, "m1 won the vote with 4 votes") })
	assert.True(t, ok)
}

func TestHub_ReadyCheckTimeoutEvictsUnready(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo"}, 200*time.Millisecond, time.Minute)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := f.hub.Join(ctx, "ch1", p, time.Minute)
		require.NoError(t, err)
	}
	f.clock.Advance(2 * time.Minute)
	res, err := f.hub.Join(ctx, "ch1", "p4", 0)
	require.NoError(t, err)
	require.Equal(t, engine.StateReadyCheck, res.Session.State)

	evt, ok := engine.FindEvent(res.Events, engine.EvtReadyCheckStarted)
	require.True(t, ok)
	assert.Equal(t, []string{"p1", "p2", "p3"}, evt.Players)

	_, err = f.hub.Ready(ctx, "ch1", "p2", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := f.hub.Status(ctx, "ch1")
		return err == nil && s.State == engine.StateAddRemove
	}, time.Second, 5*time.Millisecond)

	s, err := f.hub.Status(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p4"}, s.PlayerIDs())

	dm, ok := f.notifier.find(func(m sent) bool { return m.player == "p1" })
	require.True(t, ok)
	assert.Contains(t, dm.text, "ch1")
}

func TestHub_LeaveCancelsReadyCheck(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo"}, time.Minute, time.Minute)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := f.hub.Join(ctx, "ch1", p, time.Minute)
		require.NoError(t, err)
	}
	f.clock.Advance(2 * time.Minute)
	res, err := f.hub.Join(ctx, "ch1", "p4", 0)
	require.NoError(t, err)
	handle := res.Session.ReadyTimer

	res, err = f.hub.Leave(ctx, "ch1", "p4")
	require.NoError(t, err)
	assert.Equal(t, engine.StateAddRemove, res.Session.State)
	assert.False(t, f.timers.Pending(handle))

	// a late fire for the cancelled handle is ignored
	f.hub.Inbox() <- TimerFired{Channel: "ch1", Handle: handle}

	s, err := f.hub.Status(ctx, "ch1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, s.PlayerIDs())
}

func TestHub_MapVoteTimeoutWithNoVotes(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo"}, time.Minute, 30*time.Millisecond)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		_, err := f.hub.Join(ctx, "ch1", p, 0)
		require.NoError(t, err)
	}

	started := f.recvProvision(t)
	assert.Contains(t, []string{"m1", "m2", "m3"}, started.ChosenMap)
	assert.Equal(t, 0, started.MaxVoteCount)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, started.WinningMaps)
}

func TestHub_ReadyInOneChannelEvictsFromOthers(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "solo", "ch2": "ultiduo", "ch3": "ultiduo"}, time.Minute, time.Minute)
	ctx := context.Background()

	_, err := f.hub.Join(ctx, "ch2", "p1", 0)
	require.NoError(t, err)
	_, err = f.hub.Join(ctx, "ch2", "p2", 0)
	require.NoError(t, err)
	_, err = f.hub.Join(ctx, "ch3", "p2", 0)
	require.NoError(t, err)

	res, err := f.hub.Join(ctx, "ch1", "p1", 0)
	require.NoError(t, err)
	assert.Equal(t, engine.StateFindingServer, res.Session.State)
	f.recvProvision(t)

	s, err := f.hub.Status(ctx, "ch2")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, s.PlayerIDs())

	s, err = f.hub.Status(ctx, "ch3")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, s.PlayerIDs())

	note, ok := f.notifier.find(func(m sent) bool { return m.channel == "ch2" && strings.Contains(m.text, "ch1") })
	require.True(t, ok)
	assert.Equal(t, []string{"p1"}, note.mentions)

	_, ok = f.notifier.find(func(m sent) bool { return m.player == "p1" && strings.Contains(m.text, "ch2") })
	assert.True(t, ok)
}

func TestHub_JoinRefusedWhileCommittedElsewhere(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "solo", "ch2": "ultiduo"}, time.Minute, time.Minute)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		_, err := f.hub.Join(ctx, "ch2", p, 0)
		require.NoError(t, err)
	}
	s, err := f.hub.Status(ctx, "ch2")
	require.NoError(t, err)
	require.Equal(t, engine.StateMapVote, s.State)

	_, err = f.hub.Join(ctx, "ch1", "p1", 0)
	assert.ErrorIs(t, err, engine.ErrCommitted)
	assert.True(t, engine.IsRefusal(err))

	_, err = f.hub.Status(ctx, "ch1")
	assert.ErrorIs(t, err, engine.ErrNoSession)
	s, err = f.hub.Status(ctx, "ch2")
	require.NoError(t, err)
	assert.Equal(t, engine.StateMapVote, s.State)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, s.PlayerIDs())

	res, err := f.hub.Join(ctx, "ch1", "p5", 0)
	require.NoError(t, err)
	assert.Equal(t, engine.StateFindingServer, res.Session.State)
	f.recvProvision(t)

	_, err = f.hub.Destroy(ctx, "ch2")
	require.NoError(t, err)
	_, err = f.hub.Join(ctx, "ch2", "p1", 0)
	assert.NoError(t, err)
}

func TestHub_StopAndDestroy(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo", "ch2": "solo"}, time.Minute, time.Minute)
	ctx := context.Background()

	_, err := f.hub.Start(ctx, "ch1")
	require.NoError(t, err)
	_, err = f.hub.Stop(ctx, "ch1")
	require.NoError(t, err)
	_, err = f.hub.Status(ctx, "ch1")
	assert.ErrorIs(t, err, engine.ErrNoSession)

	_, err = f.hub.Join(ctx, "ch2", "p1", 0)
	require.NoError(t, err)
	f.recvProvision(t)

	_, err = f.hub.Stop(ctx, "ch2")
	assert.ErrorIs(t, err, engine.ErrWrongState)

	_, err = f.hub.ServerFound(ctx, "ch2", "10.0.0.1:27015")
	require.NoError(t, err)
	s, err := f.hub.MapApplied(ctx, "ch2")
	require.NoError(t, err)
	assert.Equal(t, engine.StatePlayersConnect, s.State)

	final, err := f.hub.Destroy(ctx, "ch2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:27015", final.ServerAddress)

	list, err := f.hub.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	f.notifier.mu.Lock()
	ended := slices.Clone(f.notifier.ended)
	f.notifier.mu.Unlock()
	assert.Equal(t, []string{"ch1", "ch2"}, ended)
}

func TestHub_SetMode(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo"}, time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, f.hub.SetMode(ctx, "ch2", "solo"))
	assert.ErrorIs(t, f.hub.SetMode(ctx, "ch2", "bogus"), catalog.ErrUnknownMode)

	_, err := f.hub.Join(ctx, "ch1", "p1", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, f.hub.SetMode(ctx, "ch1", "solo"), engine.ErrSessionExists)

	res, err := f.hub.Join(ctx, "ch2", "p9", 0)
	require.NoError(t, err)
	assert.Equal(t, "solo", res.Session.Mode)
}

func TestHub_ShutdownRejectsCalls(t *testing.T) {
	f := newFixture(t, map[string]string{"ch1": "ultiduo"}, time.Minute, time.Minute)
	f.hub.Shutdown()

	_, err := f.hub.Join(context.Background(), "ch1", "p1", 0)
	assert.ErrorIs(t, err, ErrClosed)
}
