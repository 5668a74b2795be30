// Package feed fans channel notifications and session snapshots out to
// connected clients.
package feed

import (
	"context"
	"errors"

	"github.com/DoyleJ11/pugbot/internal/engine"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("feed is closed")

type Kind string

const (
	KindChannel  Kind = "ChannelMessage"
	KindDirect   Kind = "DirectMessage"
	KindSnapshot Kind = "SessionSnapshot"
)

type Message struct {
	Kind     Kind
	Channel  string
	Player   string
	Text     string
	Mentions []string
	Version  int
	Session  *engine.Session
}

type Msg interface{ isFeedMsg() }

type Subscribe struct {
	Channel  string
	ClientID string
	PlayerID string // receives direct messages addressed to this player
	Outbox   chan Message
}

type Unsubscribe struct {
	Channel  string
	ClientID string
}

type Publish struct {
	Message Message
}

// Ended drops the stored snapshot once a channel's session is gone.
type Ended struct {
	Channel string
}

type GetView struct {
	Channel string
	Reply   chan View
}

func (Subscribe) isFeedMsg()   {}
func (Unsubscribe) isFeedMsg() {}
func (Publish) isFeedMsg()     {}
func (Ended) isFeedMsg()       {}
func (GetView) isFeedMsg()     {}

type View struct {
	Version     int
	Subscribers int
	Session     *engine.Session
}

type subscriber struct {
	player string
	out    chan Message
}

type Feed struct {
	inbox     chan Msg
	channels  map[string]map[string]subscriber
	snapshots map[string]Message
	versions  map[string]int
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(parent context.Context, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	f := &Feed{
		inbox:     make(chan Msg, 256),
		channels:  make(map[string]map[string]subscriber),
		snapshots: make(map[string]Message),
		versions:  make(map[string]int),
		log:       log.With(zap.String("component", "feed")),
		ctx:       ctx,
		cancel:    cancel,
	}
	go f.loop()
	return f
}

func (f *Feed) Inbox() chan<- Msg { return f.inbox }

func (f *Feed) Close() { f.cancel() }

// Subscribe registers a client. It gives up once ctx ends or the feed is closed.
func (f *Feed) Subscribe(ctx context.Context, sub Subscribe) error {
	select {
	case f.inbox <- sub:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ctx.Done():
		return ErrClosed
	}
}

// Unsubscribe is a no-op once the feed is closed; shutdown already closed the outbox.
func (f *Feed) Unsubscribe(channel, clientID string) {
	select {
	case f.inbox <- Unsubscribe{Channel: channel, ClientID: clientID}:
	case <-f.ctx.Done():
	}
}

func (f *Feed) ChannelMessage(channelID, text string, mentions []string) {
	f.post(Publish{Message: Message{Kind: KindChannel, Channel: channelID, Text: text, Mentions: mentions}})
}

func (f *Feed) DirectMessage(playerID, text string) {
	f.post(Publish{Message: Message{Kind: KindDirect, Player: playerID, Text: text}})
}

func (f *Feed) SessionChanged(s engine.Session) {
	snap := s.Clone()
	f.post(Publish{Message: Message{Kind: KindSnapshot, Channel: s.ChannelID, Session: &snap}})
}

func (f *Feed) SessionEnded(channelID string) {
	f.post(Ended{Channel: channelID})
}

// post never blocks the caller. Delivery is best effort.
func (f *Feed) post(m Msg) {
	select {
	case f.inbox <- m:
	default:
		f.log.Warn("feed inbox full, dropping notification")
	}
}

func (f *Feed) loop() {
	for {
		select {
		case <-f.ctx.Done():
			f.shutdown()
			return

		case m := <-f.inbox:
			switch msg := m.(type) {
			case Subscribe:
				subs := f.channels[msg.Channel]
				if subs == nil {
					subs = make(map[string]subscriber)
					f.channels[msg.Channel] = subs
				}
				subs[msg.ClientID] = subscriber{player: msg.PlayerID, out: msg.Outbox}
				if snap, ok := f.snapshots[msg.Channel]; ok {
					f.deliver(msg.Channel, msg.ClientID, snap)
				}

			case Unsubscribe:
				if subs := f.channels[msg.Channel]; subs != nil {
					if sub, ok := subs[msg.ClientID]; ok {
						close(sub.out)
						delete(subs, msg.ClientID)
					}
					if len(subs) == 0 {
						delete(f.channels, msg.Channel)
					}
				}

			case Publish:
				f.publish(msg.Message)

			case Ended:
				delete(f.snapshots, msg.Channel)

			case GetView:
				v := View{Version: f.versions[msg.Channel], Subscribers: len(f.channels[msg.Channel])}
				if snap, ok := f.snapshots[msg.Channel]; ok {
					v.Session = snap.Session
				}
				msg.Reply <- v

			default:
				f.log.Error("unexpected feed message", zap.Any("msg", m))
			}
		}
	}
}

func (f *Feed) publish(m Message) {
	switch m.Kind {
	case KindDirect:
		// One copy per player, however many channels they watch.
		for channel, subs := range f.channels {
			for id, sub := range subs {
				if sub.player == m.Player && f.deliver(channel, id, m) {
					return
				}
			}
		}
		return
	case KindSnapshot:
		f.versions[m.Channel]++
		m.Version = f.versions[m.Channel]
		f.snapshots[m.Channel] = m
	}

	for id := range f.channels[m.Channel] {
		f.deliver(m.Channel, id, m)
	}
}

func (f *Feed) deliver(channel, clientID string, m Message) bool {
	sub := f.channels[channel][clientID]
	select {
	case sub.out <- m:
		return true
	default:
		// Slow client, drop them.
		close(sub.out)
		delete(f.channels[channel], clientID)
		f.log.Info("dropped slow subscriber", zap.String("channel", channel), zap.String("client", clientID))
		return false
	}
}

func (f *Feed) shutdown() {
	for channel, subs := range f.channels {
		for id, sub := range subs {
			close(sub.out)
			delete(subs, id)
		}
		delete(f.channels, channel)
	}
}
