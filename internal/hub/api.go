package hub

import (
	"context"
	"time"

	"github.com/DoyleJ11/pugbot/internal/engine"
)

func ask[T any](ctx context.Context, h *Hub, build func(reply chan T) HubMsg) (T, error) {
	var zero T
	reply := make(chan T, 1)
	select {
	case h.inbox <- build(reply):
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.ctx.Done():
		return zero, ErrClosed
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.ctx.Done():
		return zero, ErrClosed
	}
}

func (h *Hub) command(ctx context.Context, channel string, cmd engine.Command) (Result, error) {
	res, err := ask(ctx, h, func(reply chan Result) HubMsg {
		return ApplyCommand{Channel: channel, Cmd: cmd, Reply: reply}
	})
	if err != nil {
		return Result{}, err
	}
	return res, res.Err
}

// Start opens an empty session for a configured channel.
func (h *Hub) Start(ctx context.Context, channel string) (engine.Session, error) {
	res, err := ask(ctx, h, func(reply chan Result) HubMsg {
		return StartSession{Channel: channel, Reply: reply}
	})
	if err != nil {
		return engine.Session{}, err
	}
	return res.Session, res.Err
}

// Join queues player, creating the channel's session if there is none.
// readyFor <= 0 uses the configured default.
func (h *Hub) Join(ctx context.Context, channel, player string, readyFor time.Duration) (Result, error) {
	return h.command(ctx, channel, engine.Command{Type: engine.CmdJoin, PlayerID: player, Duration: readyFor})
}

func (h *Hub) Leave(ctx context.Context, channel, player string) (Result, error) {
	return h.command(ctx, channel, engine.Command{Type: engine.CmdLeave, PlayerID: player})
}

func (h *Hub) Kick(ctx context.Context, channel, player, by string) (Result, error) {
	return h.command(ctx, channel, engine.Command{Type: engine.CmdKick, PlayerID: player, By: by})
}

func (h *Hub) Ready(ctx context.Context, channel, player string, d time.Duration) (Result, error) {
	return h.command(ctx, channel, engine.Command{Type: engine.CmdReady, PlayerID: player, Duration: d})
}

func (h *Hub) Vote(ctx context.Context, channel, player, mapName string) (Result, error) {
	return h.command(ctx, channel, engine.Command{Type: engine.CmdVote, PlayerID: player, Map: mapName})
}

func (h *Hub) Stop(ctx context.Context, channel string) (Result, error) {
	return h.command(ctx, channel, engine.Command{Type: engine.CmdStop})
}

func (h *Hub) ServerFound(ctx context.Context, channel, address string) (engine.Session, error) {
	res, err := h.command(ctx, channel, engine.Command{Type: engine.CmdServerFound, Address: address})
	return res.Session, err
}

func (h *Hub) MapApplied(ctx context.Context, channel string) (engine.Session, error) {
	res, err := h.command(ctx, channel, engine.Command{Type: engine.CmdMapApplied})
	return res.Session, err
}

func (h *Hub) Status(ctx context.Context, channel string) (engine.Session, error) {
	res, err := ask(ctx, h, func(reply chan Result) HubMsg {
		return GetSession{Channel: channel, Reply: reply}
	})
	if err != nil {
		return engine.Session{}, err
	}
	return res.Session, res.Err
}

func (h *Hub) List(ctx context.Context) ([]engine.Session, error) {
	return ask(ctx, h, func(reply chan []engine.Session) HubMsg {
		return ListSessions{Reply: reply}
	})
}

// Destroy removes a session in any state and returns its final snapshot.
func (h *Hub) Destroy(ctx context.Context, channel string) (engine.Session, error) {
	res, err := ask(ctx, h, func(reply chan Result) HubMsg {
		return DestroySession{Channel: channel, Reply: reply}
	})
	if err != nil {
		return engine.Session{}, err
	}
	return res.Session, res.Err
}

// SetMode binds a channel to a catalog mode. Refused while a pug is running there.
func (h *Hub) SetMode(ctx context.Context, channel, mode string) error {
	err, askErr := ask(ctx, h, func(reply chan error) HubMsg {
		return SetChannelMode{Channel: channel, Mode: mode, Reply: reply}
	})
	if askErr != nil {
		return askErr
	}
	return err
}

// Shutdown stops every timer and drops all sessions.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
	<-h.done
}
