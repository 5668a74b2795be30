package rcon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorcon/rcon"
)

var errNotAuthenticated = errors.New("not authenticated")

// SourceDialer speaks Source RCON over TCP.
type SourceDialer struct {
	Timeout time.Duration
}

func (d SourceDialer) Dial(ctx context.Context, address, password string) (Conn, error) {
	timeout := d.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	c := &sourceConn{
		events: make(chan Event, 4),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go c.connect(address, password, timeout)
	return c, nil
}

type sourceConn struct {
	mu        sync.Mutex
	conn      *rcon.Conn
	events    chan Event
	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *sourceConn) connect(address, password string, timeout time.Duration) {
	defer close(c.ready)

	conn, err := rcon.Dial(address, password, rcon.SetDialTimeout(timeout), rcon.SetDeadline(timeout))
	if err != nil {
		if errors.Is(err, rcon.ErrAuthFailed) {
			err = errors.Join(ErrAuth, err)
		}
		c.emit(Event{Kind: EventError, Err: err})
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.emit(Event{Kind: EventAuth})
}

func (c *sourceConn) Events() <-chan Event { return c.events }

func (c *sourceConn) Send(command string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotAuthenticated
	}

	go func() {
		out, err := conn.Execute(command)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			return
		}
		c.emit(Event{Kind: EventResponse, Text: out})
	}()
	return nil
}

func (c *sourceConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		<-c.ready

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (c *sourceConn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}
