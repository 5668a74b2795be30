// Package hub owns every live session and serializes all mutations through a
// single goroutine.
package hub

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/DoyleJ11/pugbot/internal/catalog"
	"github.com/DoyleJ11/pugbot/internal/channels"
	"github.com/DoyleJ11/pugbot/internal/engine"
	"github.com/DoyleJ11/pugbot/internal/timers"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("hub is shut down")

type HubMsg interface{ isHubMsg() }

type Result struct {
	Session engine.Session
	Events  []engine.Event
	Err     error
}

type ApplyCommand struct {
	Channel string
	Cmd     engine.Command
	Reply   chan Result
}

type StartSession struct {
	Channel string
	Reply   chan Result
}

type GetSession struct {
	Channel string
	Reply   chan Result
}

type ListSessions struct {
	Reply chan []engine.Session
}

type SetChannelMode struct {
	Channel string
	Mode    string
	Reply   chan error
}

// TimerFired is posted by the timer registry. Handles that no longer match
// the session are dropped.
type TimerFired struct {
	Channel string
	Handle  engine.TimerHandle
}

type DestroySession struct {
	Channel string
	Reply   chan Result
}

type ShutdownHub struct{}

func (ApplyCommand) isHubMsg()   {}
func (StartSession) isHubMsg()   {}
func (GetSession) isHubMsg()     {}
func (ListSessions) isHubMsg()   {}
func (SetChannelMode) isHubMsg() {}
func (TimerFired) isHubMsg()     {}
func (DestroySession) isHubMsg() {}
func (ShutdownHub) isHubMsg()    {}

// Notifier receives user-facing notifications. Implementations must not block.
type Notifier interface {
	ChannelMessage(channelID, text string, mentions []string)
	DirectMessage(playerID, text string)
	SessionChanged(s engine.Session)
	SessionEnded(channelID string)
}

// Provisioner runs the post-vote pipeline for a session that reached
// FindingServer. Run is called on its own goroutine.
type Provisioner interface {
	Run(ctx context.Context, s engine.Session, r Reporter)
}

// Reporter is how a running provisioner feeds progress back into the hub.
type Reporter interface {
	ServerFound(ctx context.Context, channelID, address string) (engine.Session, error)
	MapApplied(ctx context.Context, channelID string) (engine.Session, error)
	Status(ctx context.Context, channelID string) (engine.Session, error)
	Destroy(ctx context.Context, channelID string) (engine.Session, error)
}

type Config struct {
	Catalog     *catalog.Catalog
	Channels    channels.Store
	Notifier    Notifier
	Provisioner Provisioner
	Timers      *timers.Registry
	// Rules supplies the ready and vote durations. Capacity and maps come
	// from the catalog per mode.
	Rules engine.Rules
	Log   *zap.Logger
	Now   func() time.Time
}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]engine.Session
	cfg      Config
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHub(parent context.Context, cfg Config) *Hub {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Timers == nil {
		cfg.Timers = timers.NewRegistry()
	}
	if cfg.Channels == nil {
		cfg.Channels = channels.NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]engine.Session),
		cfg:      cfg,
		log:      cfg.Log.With(zap.String("component", "hub")),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub goroutine has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case ApplyCommand:
				msg.Reply <- h.apply(msg.Channel, msg.Cmd)

			case StartSession:
				msg.Reply <- h.start(msg.Channel)

			case GetSession:
				s, ok := h.sessions[msg.Channel]
				if !ok {
					msg.Reply <- Result{Err: engine.ErrNoSession}
					break
				}
				msg.Reply <- Result{Session: s.Clone()}

			case ListSessions:
				out := make([]engine.Session, 0, len(h.sessions))
				for _, id := range slices.Sorted(maps.Keys(h.sessions)) {
					out = append(out, h.sessions[id].Clone())
				}
				msg.Reply <- out

			case SetChannelMode:
				msg.Reply <- h.setMode(msg.Channel, msg.Mode)

			case TimerFired:
				h.timerFired(msg.Channel, msg.Handle)

			case DestroySession:
				msg.Reply <- h.destroy(msg.Channel)

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return

			default:
				h.log.Error("unexpected hub message", zap.Any("msg", m))
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.cfg.Timers.StopAll()
	for id := range h.sessions {
		h.cfg.Notifier.SessionEnded(id)
	}
	clear(h.sessions)
}

func (h *Hub) rulesFor(channel string) (engine.Rules, string, error) {
	mode, err := h.cfg.Channels.GetMode(h.ctx, channel)
	if errors.Is(err, channels.ErrNotConfigured) {
		return engine.Rules{}, "", engine.ErrNotConfigured
	}
	if err != nil {
		return engine.Rules{}, "", err
	}
	m, err := h.cfg.Catalog.Mode(mode)
	if err != nil {
		h.log.Error("channel configured with unknown mode",
			zap.String("channel", channel), zap.String("mode", mode), zap.Error(err))
		return engine.Rules{}, "", engine.ErrNotConfigured
	}

	rules := h.cfg.Rules
	rules.Capacity = m.Capacity
	rules.Maps = h.cfg.Catalog.Maps(m.Name)
	return rules, m.Name, nil
}

func (h *Hub) start(channel string) Result {
	if _, ok := h.sessions[channel]; ok {
		return Result{Err: engine.ErrSessionExists}
	}
	rules, mode, err := h.rulesFor(channel)
	if err != nil {
		return Result{Err: err}
	}
	s := engine.NewSession(channel, mode, rules, h.cfg.Now())
	h.sessions[channel] = s
	h.log.Info("session started", zap.String("channel", channel), zap.String("mode", mode))
	h.cfg.Notifier.ChannelMessage(channel, startedText(s), nil)
	h.cfg.Notifier.SessionChanged(s)
	return Result{Session: s.Clone()}
}

func (h *Hub) apply(channel string, cmd engine.Command) Result {
	if cmd.Type == engine.CmdJoin {
		if other, busy := h.committedElsewhere(channel, cmd.PlayerID); busy {
			return Result{Err: fmt.Errorf("%w: %s is in %s", engine.ErrCommitted, cmd.PlayerID, other)}
		}
	}

	s, ok := h.sessions[channel]
	if !ok {
		if cmd.Type != engine.CmdJoin {
			return Result{Err: engine.ErrNoSession}
		}
		rules, mode, err := h.rulesFor(channel)
		if err != nil {
			return Result{Err: err}
		}
		s = engine.NewSession(channel, mode, rules, h.cfg.Now())
	}

	if cmd.Now.IsZero() {
		cmd.Now = h.cfg.Now()
	}
	events, next, err := engine.Apply(s, cmd)
	if err != nil {
		if !engine.IsRefusal(err) {
			h.log.Error("command failed", zap.String("channel", channel),
				zap.String("command", string(cmd.Type)), zap.Error(err))
		}
		return Result{Err: err}
	}
	if len(next.Players) > next.Rules.Capacity {
		h.log.Error("capacity exceeded, discarding transition",
			zap.String("channel", channel), zap.Int("players", len(next.Players)),
			zap.Int("capacity", next.Rules.Capacity))
		return Result{Err: engine.ErrSessionFull}
	}

	if !ok {
		h.log.Info("session created", zap.String("channel", channel), zap.String("mode", next.Mode))
	}
	if engine.ContainsEvent(events, engine.EvtSessionStopped) {
		h.remove(channel, next)
		h.cfg.Notifier.ChannelMessage(channel, "The pug has been stopped.", nil)
		return Result{Session: next.Clone(), Events: events}
	}

	h.sessions[channel] = next
	h.handleEvents(channel, next, events)
	return Result{Session: next.Clone(), Events: events}
}

// committedElsewhere finds another channel whose locked-in roster already
// holds the player.
func (h *Hub) committedElsewhere(channel, playerID string) (string, bool) {
	for other, s := range h.sessions {
		if other == channel || !s.Committed() {
			continue
		}
		if _, ok := s.Players[playerID]; ok {
			return other, true
		}
	}
	return "", false
}

func (h *Hub) handleEvents(channel string, s engine.Session, events []engine.Event) {
	log := h.log.With(zap.String("channel", channel))
	for _, evt := range events {
		switch evt.Type {
		case engine.EvtReadyCheckStarted, engine.EvtMapVoteStarted:
			h.arm(channel, evt.Timer, evt.Duration)
		case engine.EvtTimerCancelled:
			h.cfg.Timers.Cancel(evt.Timer)
		case engine.EvtAllReady:
			h.reconcile(channel, evt.Players)
		case engine.EvtFindingServer:
			h.provision(s)
		}

		text, mentions := describe(s, evt)
		if text != "" {
			h.cfg.Notifier.ChannelMessage(channel, text, mentions)
		}
		if evt.Type == engine.EvtReadyCheckStarted {
			for _, id := range evt.Players {
				h.cfg.Notifier.DirectMessage(id, readyCheckDM(channel))
			}
		}
		log.Debug("session event", zap.String("event", string(evt.Type)), zap.String("state", string(s.State)))
	}
	h.cfg.Notifier.SessionChanged(s)
}

// reconcile removes players that just became ready in origin from every other
// session's queue.
func (h *Hub) reconcile(origin string, players []string) {
	for _, channel := range slices.Sorted(maps.Keys(h.sessions)) {
		if channel == origin {
			continue
		}
		s := h.sessions[channel]
		events, next, err := engine.Apply(s, engine.Command{
			Type:    engine.CmdEvict,
			Players: players,
			Origin:  origin,
			Now:     h.cfg.Now(),
		})
		if err != nil || len(events) == 0 {
			continue
		}

		h.sessions[channel] = next
		h.log.Info("players evicted by reconciliation",
			zap.String("channel", channel), zap.String("origin", origin), zap.Strings("players", events[0].Players))
		h.handleEvents(channel, next, events)
		for _, id := range events[0].Players {
			h.cfg.Notifier.DirectMessage(id, evictedDM(channel, origin))
		}
	}
}

func (h *Hub) arm(channel string, handle engine.TimerHandle, d time.Duration) {
	h.cfg.Timers.Start(handle, d, func() {
		select {
		case h.inbox <- TimerFired{Channel: channel, Handle: handle}:
		case <-h.ctx.Done():
		}
	})
}

func (h *Hub) timerFired(channel string, handle engine.TimerHandle) {
	s, ok := h.sessions[channel]
	cmd := engine.Command{Timer: handle, Now: h.cfg.Now()}
	switch {
	case !ok:
		h.log.Debug("timer fired for missing session", zap.String("channel", channel))
		return
	case s.ReadyTimer == handle:
		cmd.Type = engine.CmdReadyCheckTimeout
	case s.MapVoteTimer == handle:
		cmd.Type = engine.CmdMapVoteTimeout
	default:
		h.log.Debug("stale timer fire ignored", zap.String("channel", channel), zap.String("timer", string(handle)))
		return
	}

	if res := h.apply(channel, cmd); res.Err != nil && !errors.Is(res.Err, engine.ErrStaleTimer) {
		h.log.Error("timer transition failed", zap.String("channel", channel), zap.Error(res.Err))
	}
}

func (h *Hub) provision(s engine.Session) {
	if h.cfg.Provisioner == nil {
		h.log.Warn("no provisioner configured", zap.String("channel", s.ChannelID))
		return
	}
	go h.cfg.Provisioner.Run(h.ctx, s.Clone(), h)
}

func (h *Hub) destroy(channel string) Result {
	s, ok := h.sessions[channel]
	if !ok {
		return Result{Err: engine.ErrNoSession}
	}
	h.remove(channel, s)
	h.log.Info("session destroyed", zap.String("channel", channel), zap.String("state", string(s.State)))
	return Result{Session: s.Clone()}
}

func (h *Hub) remove(channel string, s engine.Session) {
	if s.ReadyTimer != "" {
		h.cfg.Timers.Cancel(s.ReadyTimer)
	}
	if s.MapVoteTimer != "" {
		h.cfg.Timers.Cancel(s.MapVoteTimer)
	}
	delete(h.sessions, channel)
	h.cfg.Notifier.SessionEnded(channel)
}

func (h *Hub) setMode(channel, mode string) error {
	if _, ok := h.sessions[channel]; ok {
		return engine.ErrSessionExists
	}
	m, err := h.cfg.Catalog.Mode(mode)
	if err != nil {
		return err
	}
	if err := h.cfg.Channels.SetMode(h.ctx, channel, m.Name); err != nil {
		return err
	}
	h.log.Info("channel mode set", zap.String("channel", channel), zap.String("mode", m.Name))
	return nil
}

type nopNotifier struct{}

func (nopNotifier) ChannelMessage(string, string, []string) {}
func (nopNotifier) DirectMessage(string, string)            {}
func (nopNotifier) SessionChanged(engine.Session)           {}
func (nopNotifier) SessionEnded(string)                     {}
