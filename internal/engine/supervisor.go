package engine

import (
	"context"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/model"
)

// DefaultReconnectDelay is the fixed wait between a close and the next dial.
const DefaultReconnectDelay = 5 * time.Second

// dialTimeout bounds a single connection attempt.
const dialTimeout = 10 * time.Second

// ConnState is the push connection's lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "live"
	default:
		return "offline"
	}
}

// Conn is an open push connection delivering one message per read.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials /ws/live with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return wsConn{c}, nil
}

type wsConn struct{ c *websocket.Conn }

func (w wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w wsConn) Close() error { return w.c.Close() }

// Supervisor owns the push connection lifecycle. Its state only changes
// from Engine.Update; blocking reads happen inside the commands it returns.
//
// Each dial gets a new epoch. Messages from an older epoch belong to a
// connection that has already been replaced and are dropped.
type Supervisor struct {
	url      string
	dialer   Dialer
	delay    time.Duration
	tick     tickFunc
	state    ConnState
	epoch    uint64
	conn     Conn
	failures int
}

func newSupervisor(url string, d Dialer, delay time.Duration, tick tickFunc) *Supervisor {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Supervisor{url: url, dialer: d, delay: delay, tick: tick}
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	return s.state
}

// Failures returns the number of consecutive closes since the last open.
func (s *Supervisor) Failures() int {
	return s.failures
}

// Connect starts a dial. It is the only way a connection is opened,
// including after a close.
func (s *Supervisor) Connect() tea.Cmd {
	if s.dialer == nil {
		return nil
	}
	s.epoch++
	s.state = Connecting
	epoch, url, dialer := s.epoch, s.url, s.dialer
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		conn, err := dialer.Dial(ctx, url)
		if err != nil {
			return connClosedMsg{epoch: epoch, err: &ConnectionError{URL: url, Err: err}}
		}
		return connOpenedMsg{epoch: epoch, conn: conn}
	}
}

// Close drops the current connection without scheduling a redial.
func (s *Supervisor) Close() {
	s.epoch++
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = Disconnected
}

// opened handles connOpenedMsg. Returns false for a stale connection.
func (s *Supervisor) opened(msg connOpenedMsg) (tea.Cmd, bool) {
	if msg.epoch != s.epoch {
		_ = msg.conn.Close()
		return nil, false
	}
	s.conn = msg.conn
	s.state = Connected
	s.failures = 0
	return listen(msg.conn, msg.epoch, s.url), true
}

// closed handles connClosedMsg and schedules exactly one redial.
func (s *Supervisor) closed(msg connClosedMsg) (tea.Cmd, bool) {
	if msg.epoch != s.epoch {
		return nil, false
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = Disconnected
	s.failures++
	return s.tick(s.delay, reconnectMsg{epoch: s.epoch}), true
}

// reconnect handles the delayed redial.
func (s *Supervisor) reconnect(msg reconnectMsg) tea.Cmd {
	if msg.epoch != s.epoch || s.state != Disconnected {
		return nil
	}
	return s.Connect()
}

// received handles pushMsg, returning the next read for a current push.
func (s *Supervisor) received(msg pushMsg) (tea.Cmd, bool) {
	if msg.epoch != s.epoch || s.conn == nil {
		return nil, false
	}
	return listen(s.conn, s.epoch, s.url), true
}

// listen reads until one decodable message or an error arrives.
func listen(conn Conn, epoch uint64, url string) tea.Cmd {
	return func() tea.Msg {
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				return connClosedMsg{epoch: epoch, err: &ConnectionError{URL: url, Err: err}}
			}
			entry, err := model.DecodePush(data)
			if err != nil {
				logging.Debug("dropping undecodable push message", "err", err)
				continue
			}
			return pushMsg{epoch: epoch, entry: entry}
		}
	}
}
