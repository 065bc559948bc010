// Package bus publishes conversation events to a websocket hub. Publishing
// never blocks the caller: events are queued and written by one goroutine
// that reconnects when the hub goes away.
package bus

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

const (
	EventSessionStart = "session.start"
	EventTranscript   = "transcript"
	EventReply        = "reply"
	EventDecision     = "decision"
	EventSessionEnd   = "session.end"
)

var (
	ErrClosed    = errors.New("bus: publisher closed")
	ErrQueueFull = errors.New("bus: queue full, event dropped")
)

type Envelope struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Session string    `json:"session,omitempty"`
	Time    time.Time `json:"time"`
	Data    any       `json:"data,omitempty"`
}

type Options struct {
	Reconnect    time.Duration
	Queue        int
	WriteTimeout time.Duration
	Header       http.Header
}

func (o *Options) defaults() {
	if o.Reconnect <= 0 {
		o.Reconnect = time.Second
	}
	if o.Queue <= 0 {
		o.Queue = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

type Publisher struct {
	url    string
	opt    Options
	dialer *ws.Dialer
	logger *log.Logger

	queue   chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Dial connects to the hub at url. Only the first connection attempt is
// fatal; later disconnects are retried every opt.Reconnect.
func Dial(ctx context.Context, url string, opt Options, logger *log.Logger) (*Publisher, error) {
	opt.defaults()

	pctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		url:    url,
		opt:    opt,
		dialer: ws.DefaultDialer,
		logger: logger.With("component", "bus", "url", url),
		queue:  make(chan []byte, opt.Queue),
		ctx:    pctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	conn, err := p.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	p.logger.Info("connected to bus")

	go p.run(conn)
	return p, nil
}

func (p *Publisher) dial(ctx context.Context) (*ws.Conn, error) {
	conn, resp, err := p.dialer.DialContext(ctx, p.url, p.opt.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", p.url, err)
	}
	return conn, nil
}

// Publish queues one event.
func (p *Publisher) Publish(typ, session string, data any) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	payload, err := sonic.Marshal(Envelope{
		ID:      uuid.NewString(),
		Type:    typ,
		Session: session,
		Time:    time.Now().UTC(),
		Data:    data,
	})
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", typ, err)
	}

	select {
	case p.queue <- payload:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close flushes queued events and closes the connection.
func (p *Publisher) Close() error {
	p.once.Do(p.cancel)
	<-p.done
	return nil
}

func (p *Publisher) run(conn *ws.Conn) {
	defer close(p.done)

	var pending []byte
	for conn != nil {
		lost := make(chan struct{})
		go p.drain(conn, lost)

		pending = p.pump(conn, lost, pending)
		conn.Close()
		conn = p.redial()
	}
}

// pump writes queued events until the connection breaks or the publisher is
// closed. It returns the event that failed to go out, if any.
func (p *Publisher) pump(conn *ws.Conn, lost <-chan struct{}, pending []byte) []byte {
	if pending != nil {
		if err := p.write(conn, pending); err != nil {
			p.logger.Warn("resend failed", "err", err)
			return pending
		}
	}

	for {
		select {
		case <-p.ctx.Done():
			p.flush(conn)
			return nil
		case <-lost:
			p.logger.Warn("bus connection lost")
			return nil
		case msg := <-p.queue:
			if err := p.write(conn, msg); err != nil {
				p.logger.Warn("write failed", "err", err)
				return msg
			}
		}
	}
}

func (p *Publisher) flush(conn *ws.Conn) {
	for {
		select {
		case msg := <-p.queue:
			if err := p.write(conn, msg); err != nil {
				p.logger.Warn("flush failed", "err", err, "left", len(p.queue))
				return
			}
		default:
			deadline := time.Now().Add(p.opt.WriteTimeout)
			msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
			_ = conn.WriteControl(ws.CloseMessage, msg, deadline)
			return
		}
	}
}

func (p *Publisher) write(conn *ws.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(p.opt.WriteTimeout))
	return conn.WriteMessage(ws.TextMessage, msg)
}

// redial retries until it connects or the publisher is closed.
func (p *Publisher) redial() *ws.Conn {
	for attempt := 1; ; attempt++ {
		select {
		case <-p.ctx.Done():
			return nil
		case <-time.After(p.opt.Reconnect):
		}

		conn, err := p.dial(p.ctx)
		if err == nil {
			p.logger.Info("reconnected to bus", "attempts", attempt)
			return conn
		}
		p.logger.Debug("reconnect failed", "attempt", attempt, "err", err)
	}
}

// drain reads and discards hub messages so control frames are handled, and
// reports when the connection is gone.
func (p *Publisher) drain(conn *ws.Conn, lost chan<- struct{}) {
	defer close(lost)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !IsClosed(err) && p.ctx.Err() == nil {
				p.logger.Debug("bus read failed", "err", err)
			}
			return
		}
	}
}

// IsClosed reports whether err is a normal websocket shutdown.
func IsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
