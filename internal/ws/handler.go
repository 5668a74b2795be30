package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/pugbot/internal/engine"
	"github.com/DoyleJ11/pugbot/internal/feed"
	"github.com/DoyleJ11/pugbot/internal/hub"
	"github.com/DoyleJ11/pugbot/internal/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler streams a channel's feed and accepts queue commands.
// Query: channel (required), player (default sender for commands).
func Handler(h *hub.Hub, f *feed.Feed, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if channel == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}
		player := r.URL.Query().Get("player")

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := log.With(zap.String("channel", channel), zap.String("client", clientID))
		out := make(chan feed.Message, 16)

		sub := feed.Subscribe{Channel: channel, ClientID: clientID, PlayerID: player, Outbox: out}
		if err := f.Subscribe(r.Context(), sub); err != nil {
			log.Debug("subscribe failed", zap.Error(err))
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
		defer f.Unsubscribe(channel, clientID)

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for m := range out {
				write(writeCtx, conn, toServerMessage(m))
			}
			if writeCtx.Err() == nil {
				// Dropped by the feed as a slow consumer.
				conn.Close(websocket.StatusPolicyViolation, "too slow")
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("websocket read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			if cm.Player == "" {
				cm.Player = player
			}
			if cm.Player == "" {
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "missing player"})
				continue
			}

			if err := dispatch(r.Context(), h, channel, cm); err != nil {
				if !engine.IsRefusal(err) {
					log.Warn("command failed", zap.String("type", cm.Type), zap.Error(err))
				}
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: err.Error()})
			}
		}
	}
}

var errUnknownType = errors.New("unknown type")

func dispatch(ctx context.Context, h *hub.Hub, channel string, m types.ClientMessage) error {
	var err error
	switch m.Type {
	case "join":
		_, err = h.Join(ctx, channel, m.Player, types.Minutes(m.Minutes))
	case "leave":
		_, err = h.Leave(ctx, channel, m.Player)
	case "ready":
		_, err = h.Ready(ctx, channel, m.Player, types.Minutes(m.Minutes))
	case "vote":
		_, err = h.Vote(ctx, channel, m.Player, m.Map)
	default:
		err = errUnknownType
	}
	return err
}

func toServerMessage(m feed.Message) types.ServerMessage {
	msg := types.ServerMessage{
		Type:     string(m.Kind),
		Version:  m.Version,
		Channel:  m.Channel,
		Player:   m.Player,
		Text:     m.Text,
		Mentions: m.Mentions,
	}
	if m.Session != nil {
		view := types.NewSessionView(*m.Session, time.Now())
		msg.Session = &view
	}
	return msg
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
