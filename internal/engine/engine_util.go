package engine

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

func NewSession(channelID, mode string, rules Rules, now time.Time) Session {
	return Session{
		Mode:      mode,
		ChannelID: channelID,
		State:     StateAddRemove,
		StartedAt: now,
		Players:   map[string]Player{},
		Rules:     rules,
	}
}

var newTimerHandle = func() TimerHandle {
	return TimerHandle(uuid.NewString())
}

// ClampReady resolves a requested ready duration, falling back to the default
// when none was given.
func (r Rules) ClampReady(d time.Duration) time.Duration {
	if d <= 0 {
		d = r.ReadyDefault
	}
	if r.ReadyMin > 0 && d < r.ReadyMin {
		d = r.ReadyMin
	}
	if r.ReadyMax > 0 && d > r.ReadyMax {
		d = r.ReadyMax
	}
	return d
}

func (s Session) Clone() Session {
	c := s
	c.Players = maps.Clone(s.Players)
	if c.Players == nil {
		c.Players = map[string]Player{}
	}
	c.WinningMaps = slices.Clone(s.WinningMaps)
	c.Rules.Maps = slices.Clone(s.Rules.Maps)
	c.ReadyCheckStartedAt = clonePtr(s.ReadyCheckStartedAt)
	c.MapVoteStartedAt = clonePtr(s.MapVoteStartedAt)
	c.FindingServerAt = clonePtr(s.FindingServerAt)
	c.SettingMapAt = clonePtr(s.SettingMapAt)
	c.PlayersConnectAt = clonePtr(s.PlayersConnectAt)
	return c
}

// Ordered returns players by queue time, ties in join order.
func (s Session) Ordered() []Player {
	players := slices.Collect(maps.Values(s.Players))
	slices.SortFunc(players, func(a, b Player) int {
		if c := a.QueuedAt.Compare(b.QueuedAt); c != 0 {
			return c
		}
		return a.Seq - b.Seq
	})
	return players
}

func (s Session) PlayerIDs() []string {
	ordered := s.Ordered()
	ids := make([]string, 0, len(ordered))
	for _, p := range ordered {
		ids = append(ids, p.ID)
	}
	return ids
}

// Unready lists players whose ready window closes before epoch.
func (s Session) Unready(epoch time.Time) []string {
	var ids []string
	for _, p := range s.Ordered() {
		if p.ReadyUntil.Before(epoch) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (s Session) VoteCount() int {
	n := 0
	for _, p := range s.Players {
		if p.MapVote != "" {
			n++
		}
	}
	return n
}

// VoteCounts has an entry for every map in the pool, voted or not.
func (s Session) VoteCounts() map[string]int {
	counts := make(map[string]int, len(s.Rules.Maps))
	for _, m := range s.Rules.Maps {
		counts[m] = 0
	}
	for _, p := range s.Players {
		if _, ok := counts[p.MapVote]; ok {
			counts[p.MapVote]++
		}
	}
	return counts
}

func (s Session) Full() bool {
	return len(s.Players) >= s.Rules.Capacity
}

func (st State) Label() string {
	return strings.ReplaceAll(string(st), "_", " ")
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func FindEvent(events []Event, eventType EventType) (Event, bool) {
	for _, event := range events {
		if event.Type == eventType {
			return event, true
		}
	}
	return Event{}, false
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}

// Committed reports whether the session's roster is locked in, i.e. it has
// cleared the ready check.
func (s Session) Committed() bool {
	return s.State != StateAddRemove && s.State != StateReadyCheck
}
