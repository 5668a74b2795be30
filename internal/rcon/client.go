// Package rcon issues single administrative commands to game servers.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrTimeout = errors.New("remote command timed out")
	ErrCommand = errors.New("remote command failed")
	ErrAuth    = errors.New("remote command authentication failed")
)

const successMessage = "Command sent."

type EventKind int

const (
	EventAuth EventKind = iota
	EventResponse
	EventError
	EventEnd
)

type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Conn is an event-driven protocol connection. Events arrive in protocol order;
// the channel is never closed by the connection.
type Conn interface {
	Events() <-chan Event
	Send(command string) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, address, password string) (Conn, error)
}

type phase int

const (
	phaseConnecting phase = iota
	phaseAuthenticated
	phaseAwaitingResponse
	phaseDone
)

type Client struct {
	Dialer     Dialer
	Password   string
	Timeout    time.Duration
	CloseGrace time.Duration
	Log        *zap.Logger
}

func (c *Client) ChangeMap(ctx context.Context, address, mapName string) (string, error) {
	return c.Exec(ctx, address, "changelevel "+mapName)
}

func (c *Client) Vacate(ctx context.Context, address string) (string, error) {
	return c.Exec(ctx, address, "kickall")
}

// Exec connects, authenticates, sends command and waits for the exchange to
// finish or for Timeout, whichever comes first.
func (c *Client) Exec(ctx context.Context, address, command string) (string, error) {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("address", address), zap.String("command", command))

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	conn, err := c.Dialer.Dial(ctx, address, c.Password)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCommand, err)
	}

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			if err := conn.Close(); err != nil {
				log.Debug("closing connection", zap.Error(err))
			}
		})
	}

	ex := exchange{phase: phaseConnecting}
	sent := false
	defer func() {
		if !sent {
			go closeConn()
		}
	}()
	grace := c.CloseGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			log.Warn("remote command timed out", zap.Int("responses", ex.responses))
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", ctx.Err()

		case ev := <-conn.Events():
			send := ex.step(ev)
			if send {
				if err := conn.Send(command); err != nil {
					return "", fmt.Errorf("%w: %w", ErrCommand, err)
				}
				sent = true
				ex.phase = phaseAwaitingResponse
				time.AfterFunc(grace, closeConn)
			}
			if ex.phase != phaseDone {
				continue
			}
			if ex.err != nil {
				log.Warn("remote command failed", zap.Error(ex.err))
				return ex.message(), ex.err
			}
			log.Info("remote command completed")
			return ex.message(), nil
		}
	}
}

type exchange struct {
	phase     phase
	responses int
	texts     []string
	err       error
}

// step advances the exchange and reports whether the command should be sent now.
func (x *exchange) step(ev Event) bool {
	switch ev.Kind {
	case EventAuth:
		x.record(ev.Text)
		if x.phase == phaseConnecting {
			x.phase = phaseAuthenticated
			return true
		}
	case EventResponse:
		x.record(ev.Text)
		if x.responses >= 2 && x.phase == phaseAwaitingResponse {
			x.phase = phaseDone
		}
	case EventError:
		text := ev.Text
		if text == "" && ev.Err != nil {
			text = ev.Err.Error()
		}
		x.texts = append(x.texts, text)
		cause := ev.Err
		if cause == nil {
			cause = errors.New(text)
		}
		if x.phase == phaseConnecting && errors.Is(cause, ErrAuth) {
			x.err = cause
		} else {
			x.err = fmt.Errorf("%w: %w", ErrCommand, cause)
		}
		x.phase = phaseDone
	case EventEnd:
		x.phase = phaseDone
	}
	return false
}

func (x *exchange) record(text string) {
	x.responses++
	if strings.TrimSpace(text) != "" {
		x.texts = append(x.texts, strings.TrimSpace(text))
	}
}

func (x *exchange) message() string {
	if len(x.texts) == 0 {
		return successMessage
	}
	return strings.Join(x.texts, "\n")
}
