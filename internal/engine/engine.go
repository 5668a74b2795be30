package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrNoSession = errors.New("no pug in progress")
var ErrNotConfigured = errors.New("channel is not configured for pugs")
var ErrAlreadyQueued = errors.New("already in the queue")
var ErrNotQueued = errors.New("not in the queue")
var ErrSessionFull = errors.New("queue is full")
var ErrWrongState = errors.New("not allowed right now")
var ErrUnknownMap = errors.New("unknown map")
var ErrSessionExists = errors.New("a pug is already in progress")
var ErrCommitted = errors.New("already playing in another pug")
var ErrStaleTimer = errors.New("stale timer")
var ErrUnsupportedCommand = errors.New("unsupported command")

type State string

const (
	StateAddRemove      State = "add_remove"
	StateReadyCheck     State = "ready_check"
	StateMapVote        State = "map_vote"
	StateFindingServer  State = "finding_server"
	StateSettingMap     State = "setting_map"
	StatePlayersConnect State = "players_connect"
)

// TimerHandle identifies a live timer in the registry. Only the handle is kept
// in session state so sessions stay serializable.
type TimerHandle string

type Rules struct {
	Capacity          int           `json:"capacity"`
	Maps              []string      `json:"maps"`
	ReadyDefault      time.Duration `json:"ready_default"`
	ReadyMin          time.Duration `json:"ready_min"`
	ReadyMax          time.Duration `json:"ready_max"`
	ReadyCheckTimeout time.Duration `json:"ready_check_timeout"`
	MapVoteTimeout    time.Duration `json:"map_vote_timeout"`
}

type Player struct {
	ID         string    `json:"id"`
	QueuedAt   time.Time `json:"queued_at"`
	ReadyUntil time.Time `json:"ready_until"`
	MapVote    string    `json:"map_vote,omitempty"`
	Seq        int       `json:"seq"`
}

type Session struct {
	Mode                string            `json:"mode"`
	ChannelID           string            `json:"channel_id"`
	State               State             `json:"state"`
	StartedAt           time.Time         `json:"started_at"`
	Players             map[string]Player `json:"players"`
	Joined              int               `json:"joined"`
	ReadyCheckStartedAt *time.Time        `json:"ready_check_started_at,omitempty"`
	ReadyTimer          TimerHandle       `json:"ready_timer,omitempty"`
	MapVoteStartedAt    *time.Time        `json:"map_vote_started_at,omitempty"`
	MapVoteTimer        TimerHandle       `json:"map_vote_timer,omitempty"`
	WinningMaps         []string          `json:"winning_maps,omitempty"`
	MaxVoteCount        int               `json:"max_vote_count"`
	ChosenMap           string            `json:"chosen_map,omitempty"`
	ServerAddress       string            `json:"server_address,omitempty"`
	FindingServerAt     *time.Time        `json:"finding_server_at,omitempty"`
	SettingMapAt        *time.Time        `json:"setting_map_at,omitempty"`
	PlayersConnectAt    *time.Time        `json:"players_connect_at,omitempty"`
	Rules               Rules             `json:"rules"`
}

type CommandType string

const (
	CmdJoin              CommandType = "Join"
	CmdLeave             CommandType = "Leave"
	CmdKick              CommandType = "Kick"
	CmdReady             CommandType = "Ready"
	CmdVote              CommandType = "Vote"
	CmdStop              CommandType = "Stop"
	CmdReadyCheckTimeout CommandType = "ReadyCheckTimeout"
	CmdMapVoteTimeout    CommandType = "MapVoteTimeout"
	CmdEvict             CommandType = "Evict"
	CmdServerFound       CommandType = "ServerFound"
	CmdMapApplied        CommandType = "MapApplied"
)

/*
	CmdJoin              -> EvtPlayerJoined [-> EvtReadyCheckStarted | all-ready path]
	CmdLeave / CmdKick   -> EvtPlayerLeft | EvtPlayerKicked [-> EvtTimerCancelled]
	CmdReady             -> EvtPlayerReady [-> EvtTimerCancelled -> all-ready path]
	CmdReadyCheckTimeout -> EvtReadyCheckFailed
	CmdVote              -> EvtVoteCast [-> EvtTimerCancelled -> EvtVoteCompleted -> EvtFindingServer]
	CmdMapVoteTimeout    -> EvtVoteCompleted -> EvtFindingServer
	CmdEvict             -> EvtPlayersEvicted [-> EvtTimerCancelled]

	all-ready path: EvtAllReady -> EvtMapVoteStarted
	                            | EvtVoteCompleted -> EvtFindingServer
*/

type Command struct {
	Type     CommandType
	PlayerID string
	By       string
	Map      string
	Duration time.Duration
	Timer    TimerHandle
	Address  string
	Players  []string
	Origin   string
	Now      time.Time
}

type EventType string

const (
	EvtPlayerJoined      EventType = "PlayerJoined"
	EvtPlayerLeft        EventType = "PlayerLeft"
	EvtPlayerKicked      EventType = "PlayerKicked"
	EvtPlayerReady       EventType = "PlayerReady"
	EvtReadyCheckStarted EventType = "ReadyCheckStarted"
	EvtReadyCheckFailed  EventType = "ReadyCheckFailed"
	EvtTimerCancelled    EventType = "TimerCancelled"
	EvtAllReady          EventType = "AllReady"
	EvtMapVoteStarted    EventType = "MapVoteStarted"
	EvtVoteCast          EventType = "VoteCast"
	EvtVoteCompleted     EventType = "VoteCompleted"
	EvtFindingServer     EventType = "FindingServer"
	EvtPlayersEvicted    EventType = "PlayersEvicted"
	EvtSessionStopped    EventType = "SessionStopped"
	EvtServerFound       EventType = "ServerFound"
	EvtMapApplied        EventType = "MapApplied"
)

type Event struct {
	Type     EventType
	PlayerID string
	By       string
	Players  []string
	Map      string
	Maps     []string
	Count    int
	Random   bool
	Timer    TimerHandle
	Duration time.Duration
	Address  string
	Origin   string
}

// Apply validates cmd against s and returns the resulting events and session.
// On error the returned session is s, untouched.
func Apply(s Session, cmd Command) ([]Event, Session, error) {
	switch cmd.Type {
	case CmdJoin:
		return join(s, cmd)
	case CmdLeave, CmdKick:
		return leave(s, cmd)
	case CmdReady:
		return ready(s, cmd)
	case CmdVote:
		return vote(s, cmd)
	case CmdStop:
		if s.State != StateAddRemove {
			return nil, s, wrongState("stop the pug", s.State)
		}
		return []Event{{Type: EvtSessionStopped}}, s, nil
	case CmdReadyCheckTimeout:
		return readyCheckTimeout(s, cmd)
	case CmdMapVoteTimeout:
		if s.State != StateMapVote || s.MapVoteTimer == "" || cmd.Timer != s.MapVoteTimer {
			return nil, s, ErrStaleTimer
		}
		next := s.Clone()
		next.MapVoteTimer = ""
		events, next := completeVote(next, cmd.Now)
		return events, next, nil
	case CmdEvict:
		return evict(s, cmd)
	case CmdServerFound:
		if s.State != StateFindingServer {
			return nil, s, wrongState("set a server", s.State)
		}
		next := s.Clone()
		next.State = StateSettingMap
		next.ServerAddress = cmd.Address
		next.SettingMapAt = timePtr(cmd.Now)
		return []Event{{Type: EvtServerFound, Address: cmd.Address, Map: next.ChosenMap}}, next, nil
	case CmdMapApplied:
		if s.State != StateSettingMap {
			return nil, s, wrongState("apply a map", s.State)
		}
		next := s.Clone()
		next.State = StatePlayersConnect
		next.PlayersConnectAt = timePtr(cmd.Now)
		return []Event{{Type: EvtMapApplied, Address: next.ServerAddress, Map: next.ChosenMap}}, next, nil
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func join(s Session, cmd Command) ([]Event, Session, error) {
	if s.State != StateAddRemove {
		return nil, s, wrongState("join", s.State)
	}
	if _, ok := s.Players[cmd.PlayerID]; ok {
		return nil, s, fmt.Errorf("%w: %s", ErrAlreadyQueued, cmd.PlayerID)
	}
	if len(s.Players) >= s.Rules.Capacity {
		return nil, s, fmt.Errorf("%w: %d/%d", ErrSessionFull, len(s.Players), s.Rules.Capacity)
	}

	next := s.Clone()
	next.Joined++
	next.Players[cmd.PlayerID] = Player{
		ID:         cmd.PlayerID,
		QueuedAt:   cmd.Now,
		ReadyUntil: cmd.Now.Add(s.Rules.ClampReady(cmd.Duration)),
		Seq:        next.Joined,
	}
	events := []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID, Count: len(next.Players)}}

	if len(next.Players) < next.Rules.Capacity {
		return events, next, nil
	}

	next.ReadyCheckStartedAt = timePtr(cmd.Now)
	unready := next.Unready(cmd.Now)
	if len(unready) == 0 {
		more, next := allReady(next, cmd.Now)
		return append(events, more...), next, nil
	}

	next.State = StateReadyCheck
	next.ReadyTimer = newTimerHandle()
	events = append(events, Event{
		Type:     EvtReadyCheckStarted,
		Players:  unready,
		Timer:    next.ReadyTimer,
		Duration: next.Rules.ReadyCheckTimeout,
	})
	return events, next, nil
}

func leave(s Session, cmd Command) ([]Event, Session, error) {
	if s.State != StateAddRemove && s.State != StateReadyCheck {
		return nil, s, wrongState("leave", s.State)
	}
	if _, ok := s.Players[cmd.PlayerID]; !ok {
		return nil, s, fmt.Errorf("%w: %s", ErrNotQueued, cmd.PlayerID)
	}

	next := s.Clone()
	delete(next.Players, cmd.PlayerID)

	evt := Event{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID, Count: len(next.Players)}
	if cmd.Type == CmdKick {
		evt.Type = EvtPlayerKicked
		evt.By = cmd.By
	}
	events := []Event{evt}
	return append(events, abortReadyCheck(&next)...), next, nil
}

func ready(s Session, cmd Command) ([]Event, Session, error) {
	if s.State != StateAddRemove && s.State != StateReadyCheck {
		return nil, s, wrongState("ready up", s.State)
	}
	p, ok := s.Players[cmd.PlayerID]
	if !ok {
		return nil, s, fmt.Errorf("%w: %s", ErrNotQueued, cmd.PlayerID)
	}

	next := s.Clone()
	d := s.Rules.ClampReady(cmd.Duration)
	p.ReadyUntil = cmd.Now.Add(d)
	next.Players[cmd.PlayerID] = p
	events := []Event{{Type: EvtPlayerReady, PlayerID: cmd.PlayerID, Duration: d}}

	if next.State != StateReadyCheck || len(next.Unready(*next.ReadyCheckStartedAt)) > 0 {
		return events, next, nil
	}

	events = append(events, Event{Type: EvtTimerCancelled, Timer: next.ReadyTimer})
	next.ReadyTimer = ""
	more, next := allReady(next, cmd.Now)
	return append(events, more...), next, nil
}

func readyCheckTimeout(s Session, cmd Command) ([]Event, Session, error) {
	if s.State != StateReadyCheck || s.ReadyTimer == "" || cmd.Timer != s.ReadyTimer {
		return nil, s, ErrStaleTimer
	}

	next := s.Clone()
	next.ReadyTimer = ""

	// Evaluated at fire time against the check epoch, not the list from check start.
	unready := next.Unready(*next.ReadyCheckStartedAt)
	if len(unready) == 0 {
		events, next := allReady(next, cmd.Now)
		return events, next, nil
	}

	for _, id := range unready {
		delete(next.Players, id)
	}
	next.State = StateAddRemove
	next.ReadyCheckStartedAt = nil
	return []Event{{Type: EvtReadyCheckFailed, Players: unready, Count: len(next.Players)}}, next, nil
}

func vote(s Session, cmd Command) ([]Event, Session, error) {
	if s.State != StateAddRemove && s.State != StateMapVote {
		return nil, s, wrongState("vote", s.State)
	}
	p, ok := s.Players[cmd.PlayerID]
	if !ok {
		return nil, s, fmt.Errorf("%w: %s", ErrNotQueued, cmd.PlayerID)
	}
	if !slices.Contains(s.Rules.Maps, cmd.Map) {
		return nil, s, fmt.Errorf("%w: %s", ErrUnknownMap, cmd.Map)
	}

	next := s.Clone()
	p.MapVote = cmd.Map
	next.Players[cmd.PlayerID] = p
	events := []Event{{Type: EvtVoteCast, PlayerID: cmd.PlayerID, Map: cmd.Map, Count: next.VoteCount()}}

	if next.State != StateMapVote || next.VoteCount() < next.Rules.Capacity {
		return events, next, nil
	}

	events = append(events, Event{Type: EvtTimerCancelled, Timer: next.MapVoteTimer})
	next.MapVoteTimer = ""
	more, next := completeVote(next, cmd.Now)
	return append(events, more...), next, nil
}

// evict removes players that became ready in another channel. Sessions past
// the ready check keep their roster.
func evict(s Session, cmd Command) ([]Event, Session, error) {
	if s.Committed() {
		return nil, s, nil
	}

	var removed []string
	for _, id := range cmd.Players {
		if _, ok := s.Players[id]; ok {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return nil, s, nil
	}

	next := s.Clone()
	for _, id := range removed {
		delete(next.Players, id)
	}
	events := []Event{{Type: EvtPlayersEvicted, Players: removed, Origin: cmd.Origin, Count: len(next.Players)}}
	return append(events, abortReadyCheck(&next)...), next, nil
}

func abortReadyCheck(s *Session) []Event {
	if s.State != StateReadyCheck {
		return nil
	}
	events := []Event{{Type: EvtTimerCancelled, Timer: s.ReadyTimer}}
	s.State = StateAddRemove
	s.ReadyTimer = ""
	s.ReadyCheckStartedAt = nil
	return events
}

func allReady(s Session, now time.Time) ([]Event, Session) {
	events := []Event{{Type: EvtAllReady, Players: s.PlayerIDs()}}

	if len(s.Rules.Maps) == 1 {
		only := s.Rules.Maps[0]
		s.WinningMaps = []string{only}
		s.MaxVoteCount = s.VoteCounts()[only]
		s.ChosenMap = only
		return append(events, findingServer(&s, now)), s
	}

	if s.VoteCount() == len(s.Players) {
		more, s := completeVote(s, now)
		return append(events, more...), s
	}

	s.State = StateMapVote
	s.MapVoteStartedAt = timePtr(now)
	s.MapVoteTimer = newTimerHandle()
	events = append(events, Event{
		Type:     EvtMapVoteStarted,
		Maps:     slices.Clone(s.Rules.Maps),
		Timer:    s.MapVoteTimer,
		Duration: s.Rules.MapVoteTimeout,
	})
	return events, s
}

func completeVote(s Session, now time.Time) ([]Event, Session) {
	result := Tally(s.Rules.Maps, s.VoteCounts())
	s.WinningMaps = result.WinningMaps
	s.MaxVoteCount = result.MaxVoteCount
	s.ChosenMap = result.ChosenMap

	events := []Event{{
		Type:   EvtVoteCompleted,
		Map:    result.ChosenMap,
		Maps:   slices.Clone(result.WinningMaps),
		Count:  result.MaxVoteCount,
		Random: result.Random,
	}}
	return append(events, findingServer(&s, now)), s
}

func findingServer(s *Session, now time.Time) Event {
	s.State = StateFindingServer
	s.FindingServerAt = timePtr(now)
	return Event{Type: EvtFindingServer, Map: s.ChosenMap, Players: s.PlayerIDs()}
}

func wrongState(action string, state State) error {
	return fmt.Errorf("%w: cannot %s during %s", ErrWrongState, action, state.Label())
}

// IsRefusal reports whether err is an expected, user-facing rejection.
func IsRefusal(err error) bool {
	for _, target := range []error{
		ErrNoSession, ErrNotConfigured, ErrAlreadyQueued, ErrNotQueued,
		ErrSessionFull, ErrWrongState, ErrUnknownMap, ErrSessionExists,
		ErrCommitted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
