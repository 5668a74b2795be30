// Package provision takes a session whose map is chosen, finds it a server,
// sets the map, records the outcome and tears the session down.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/DoyleJ11/pugbot/internal/engine"
	"github.com/DoyleJ11/pugbot/internal/hub"
	"github.com/DoyleJ11/pugbot/internal/records"

	"go.uber.org/zap"
)

type ServerFinder interface {
	Find(ctx context.Context) (string, error)
}

type MapChanger interface {
	ChangeMap(ctx context.Context, address, mapName string) (string, error)
}

type Sink interface {
	AppendSessionRecord(ctx context.Context, s engine.Session, outcome records.Outcome) error
}

type Notifier interface {
	ChannelMessage(channelID, text string, mentions []string)
}

type Config struct {
	Servers  ServerFinder
	Commands MapChanger
	Records  Sink
	Notifier Notifier
	// WriteTimeout bounds the record write so teardown is never held up.
	WriteTimeout time.Duration
	Log          *zap.Logger
}

type Provisioner struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) *Provisioner {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Records == nil {
		cfg.Records = records.Discard{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Provisioner{cfg: cfg, log: cfg.Log.With(zap.String("component", "provision"))}
}

func (p *Provisioner) Run(ctx context.Context, s engine.Session, r hub.Reporter) {
	channel := s.ChannelID
	log := p.log.With(zap.String("channel", channel), zap.String("map", s.ChosenMap))

	outcome := p.connect(ctx, s, r, log)

	final, err := r.Status(ctx, channel)
	if err != nil {
		log.Warn("could not snapshot session before teardown", zap.Error(err))
		final = s
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.WriteTimeout)
	if err := p.cfg.Records.AppendSessionRecord(writeCtx, final, outcome); err != nil {
		log.Error("failed to append session record", zap.Error(err))
	}
	cancel()

	if _, err := r.Destroy(ctx, channel); err != nil {
		log.Warn("session already gone at teardown", zap.Error(err))
	}
	log.Info("session finished", zap.String("outcome", string(outcome)))
}

func (p *Provisioner) connect(ctx context.Context, s engine.Session, r hub.Reporter, log *zap.Logger) records.Outcome {
	addr, err := p.cfg.Servers.Find(ctx)
	if err != nil {
		log.Warn("server discovery failed", zap.Error(err))
		p.notify(s.ChannelID, fmt.Sprintf("Could not find an empty server for %s. The pug has been cancelled.", s.ChosenMap), s.PlayerIDs())
		return records.OutcomeNoServer
	}

	if _, err := r.ServerFound(ctx, s.ChannelID, addr); err != nil {
		log.Error("could not record server", zap.String("address", addr), zap.Error(err))
	}

	out, err := p.cfg.Commands.ChangeMap(ctx, addr, s.ChosenMap)
	if err != nil {
		log.Warn("map change failed", zap.String("address", addr), zap.Error(err))
		reason := out
		if reason == "" {
			reason = err.Error()
		}
		p.notify(s.ChannelID, fmt.Sprintf("Could not set the map on %s (%s). Join with connect %s and change it by hand.", addr, reason, addr), s.PlayerIDs())
		return records.OutcomeCommandFailed
	}
	log.Debug("map change response", zap.String("response", out))

	if _, err := r.MapApplied(ctx, s.ChannelID); err != nil {
		log.Error("could not record map change", zap.Error(err))
	}
	return records.OutcomeConnected
}

func (p *Provisioner) notify(channel, text string, mentions []string) {
	if p.cfg.Notifier == nil {
		return
	}
	p.cfg.Notifier.ChannelMessage(channel, text, mentions)
}
