// Package records is the append-only sink for completed sessions.
package records

import (
	"context"
	"time"

	"github.com/DoyleJ11/pugbot/internal/engine"

	"gorm.io/gorm"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&SessionRecord{}, &PlayerRecord{})
}

func (s *Store) AppendSessionRecord(ctx context.Context, session engine.Session, outcome Outcome) error {
	record := FromSession(session, outcome, s.now())
	return s.db.WithContext(ctx).Create(&record).Error
}

// Recent returns the latest records for a channel, newest first.
func (s *Store) Recent(ctx context.Context, channelID string, limit int) ([]SessionRecord, error) {
	var out []SessionRecord
	err := s.db.WithContext(ctx).
		Preload("Players").
		Where("channel_id = ?", channelID).
		Order("completed_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func FromSession(session engine.Session, outcome Outcome, completedAt time.Time) SessionRecord {
	record := SessionRecord{
		ChannelID:           session.ChannelID,
		Mode:                session.Mode,
		Outcome:             outcome,
		StartedAt:           session.StartedAt,
		ReadyCheckStartedAt: session.ReadyCheckStartedAt,
		MapVoteStartedAt:    session.MapVoteStartedAt,
		FindingServerAt:     session.FindingServerAt,
		SettingMapAt:        session.SettingMapAt,
		PlayersConnectAt:    session.PlayersConnectAt,
		WinningMaps:         StringSlice(session.WinningMaps),
		MaxVoteCount:        session.MaxVoteCount,
		ChosenMap:           session.ChosenMap,
		ServerAddress:       session.ServerAddress,
		CompletedAt:         completedAt,
	}
	for _, p := range session.Ordered() {
		record.Players = append(record.Players, PlayerRecord{
			PlayerID:   p.ID,
			QueuedAt:   p.QueuedAt,
			ReadyUntil: p.ReadyUntil,
			MapVote:    p.MapVote,
		})
	}
	return record
}

// Discard drops every record. It stands in when no database is configured.
type Discard struct{}

func (Discard) AppendSessionRecord(context.Context, engine.Session, Outcome) error { return nil }
