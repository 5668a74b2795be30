package types

import (
	"time"

	"github.com/DoyleJ11/pugbot/internal/engine"
	pub "github.com/DoyleJ11/pugbot/pkg/types"
)

type ClientMessage struct {
	Type    string `json:"type"`
	Player  string `json:"player,omitempty"`
	Map     string `json:"map,omitempty"`
	Minutes int    `json:"minutes,omitempty"`
}

type ServerMessage struct {
	Type     string           `json:"type"` // "SessionSnapshot" | "ChannelMessage" | "DirectMessage" | "Error"
	Version  int              `json:"version,omitempty"`
	Session  *pub.SessionView `json:"session,omitempty"`
	Channel  string           `json:"channel,omitempty"`
	Player   string           `json:"player,omitempty"`
	Text     string           `json:"text,omitempty"`
	Mentions []string         `json:"mentions,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type JoinRequest struct {
	Player  string `json:"player"`
	Minutes int    `json:"minutes,omitempty"`
}

type ReadyRequest struct {
	Minutes int `json:"minutes,omitempty"`
}

type VoteRequest struct {
	Map string `json:"map"`
}

type ModeRequest struct {
	Mode string `json:"mode"`
}

// NewSessionView flattens s for clients. Readiness is judged against the
// ready-check epoch while one is running, otherwise against now.
func NewSessionView(s engine.Session, now time.Time) pub.SessionView {
	epoch := now
	if s.ReadyCheckStartedAt != nil {
		epoch = *s.ReadyCheckStartedAt
	}

	v := pub.SessionView{
		Channel:             s.ChannelID,
		Mode:                s.Mode,
		State:               string(s.State),
		Capacity:            s.Rules.Capacity,
		StartedAt:           s.StartedAt,
		Players:             []pub.PlayerView{},
		Maps:                s.Rules.Maps,
		Votes:               s.VoteCounts(),
		ReadyCheckStartedAt: s.ReadyCheckStartedAt,
		MapVoteStartedAt:    s.MapVoteStartedAt,
		WinningMaps:         s.WinningMaps,
		MaxVoteCount:        s.MaxVoteCount,
		ChosenMap:           s.ChosenMap,
		ServerAddress:       s.ServerAddress,
		FindingServerAt:     s.FindingServerAt,
		SettingMapAt:        s.SettingMapAt,
		PlayersConnectAt:    s.PlayersConnectAt,
	}
	for _, p := range s.Ordered() {
		v.Players = append(v.Players, pub.PlayerView{
			ID:         p.ID,
			QueuedAt:   p.QueuedAt,
			ReadyUntil: p.ReadyUntil,
			Ready:      !p.ReadyUntil.Before(epoch),
			MapVote:    p.MapVote,
		})
	}
	return v
}

func Minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
