package records

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Outcome string

const (
	OutcomeConnected     Outcome = "connected"
	OutcomeNoServer      Outcome = "no_server"
	OutcomeCommandFailed Outcome = "command_failed"
)

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}

	return json.Unmarshal(bytes, s)
}

// SessionRecord is the durable, append-only trace of one completed pug.
type SessionRecord struct {
	ID                  uint      `gorm:"primaryKey"`
	ChannelID           string    `gorm:"index;not null"`
	Mode                string    `gorm:"not null"`
	Outcome             Outcome   `gorm:"not null"`
	StartedAt           time.Time `gorm:"not null"`
	ReadyCheckStartedAt *time.Time
	MapVoteStartedAt    *time.Time
	FindingServerAt     *time.Time
	SettingMapAt        *time.Time
	PlayersConnectAt    *time.Time
	WinningMaps         StringSlice `gorm:"type:text"`
	MaxVoteCount        int
	ChosenMap           string
	ServerAddress       string
	Players             []PlayerRecord `gorm:"constraint:OnDelete:CASCADE"`
	CompletedAt         time.Time      `gorm:"index;not null"`
}

type PlayerRecord struct {
	ID              uint   `gorm:"primaryKey"`
	SessionRecordID uint   `gorm:"index;not null"`
	PlayerID        string `gorm:"index;not null"`
	QueuedAt        time.Time
	ReadyUntil      time.Time
	MapVote         string
}
