package wsclient

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

var _ Conn = (*websocket.Conn)(nil)

// GorillaDialer dials with github.com/gorilla/websocket.
type GorillaDialer struct {
	d *websocket.Dialer
}

// NewGorillaDialer wraps d; nil uses websocket.DefaultDialer.
func NewGorillaDialer(d *websocket.Dialer) GorillaDialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return GorillaDialer{d: d}
}

func (g GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := g.d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms timers. Tests substitute one that records delays.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler uses time.AfterFunc.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
