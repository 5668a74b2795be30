package types

import "time"

// SessionView is the public snapshot of one channel's pug.
type SessionView struct {
	Channel             string         `json:"channel"`
	Mode                string         `json:"mode"`
	State               string         `json:"state"`
	Capacity            int            `json:"capacity"`
	StartedAt           time.Time      `json:"started_at"`
	Players             []PlayerView   `json:"players"`
	Maps                []string       `json:"maps"`
	Votes               map[string]int `json:"votes"`
	ReadyCheckStartedAt *time.Time     `json:"ready_check_started_at,omitempty"`
	MapVoteStartedAt    *time.Time     `json:"map_vote_started_at,omitempty"`
	WinningMaps         []string       `json:"winning_maps,omitempty"`
	MaxVoteCount        int            `json:"max_vote_count"`
	ChosenMap           string         `json:"chosen_map,omitempty"`
	ServerAddress       string         `json:"server_address,omitempty"`
	FindingServerAt     *time.Time     `json:"finding_server_at,omitempty"`
	SettingMapAt        *time.Time     `json:"setting_map_at,omitempty"`
	PlayersConnectAt    *time.Time     `json:"players_connect_at,omitempty"`
}

// PlayerView lists a queued player. Players are in queue order.
type PlayerView struct {
	ID         string    `json:"id"`
	QueuedAt   time.Time `json:"queued_at"`
	ReadyUntil time.Time `json:"ready_until"`
	Ready      bool      `json:"ready"`
	MapVote    string    `json:"map_vote,omitempty"`
}
