package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantro/meanrev/market"
)

const (
	pingPeriod       = 15 * time.Second
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	readLimit        = 1 << 20
)

// wireBar is the JSON shape bar streams deliver.
type wireBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// StreamConfig configures the websocket bar stream.
type StreamConfig struct {
	Endpoint      string
	Subscribe     []byte // optional subscription message sent after connect
	MaxReconnects int    // consecutive failed dials before giving up
	Backoff       time.Duration
}

// Stream is a websocket bar-stream client with reconnect. Bars arrive on
// Bars() in wire order; the channel closes when the stream ends for good.
type Stream struct {
	cfg StreamConfig

	bars chan market.Bar
	errs chan error

	// active holds the current *websocket.Conn so Close can unblock a
	// pending read.
	active atomic.Value

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// Dial connects and starts the stream.
func Dial(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("feed: endpoint is required")
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		cfg:    cfg,
		bars:   make(chan market.Bar, 256),
		errs:   make(chan error, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	conn, err := s.dial()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("feed: initial dial: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(conn)
	}()

	return s, nil
}

// Bars returns the bar channel.
func (s *Stream) Bars() <-chan market.Bar { return s.bars }

// Errs reports the terminal error, if any, after Bars closes.
func (s *Stream) Errs() <-chan error { return s.errs }

// Close shuts the stream down.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		if conn, ok := s.active.Load().(*websocket.Conn); ok && conn != nil {
			conn.Close()
		}
		s.wg.Wait()
	})
}

func (s *Stream) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(s.ctx, s.cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(readLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	})

	if len(s.cfg.Subscribe) > 0 {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, s.cfg.Subscribe); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}

	s.active.Store(conn)
	return conn, nil
}

// run reads bars until the context cancels, redialling on transient
// failures with exponential backoff.
func (s *Stream) run(conn *websocket.Conn) {
	defer close(s.bars)

	for {
		err := s.readLoop(conn)
		conn.Close()

		if s.ctx.Err() != nil {
			return
		}

		next, ok := s.reconnect(err)
		if !ok {
			return
		}
		conn = next
	}
}

// reconnect dials with exponential backoff until it succeeds or the
// attempt budget is spent.
func (s *Stream) reconnect(cause error) (*websocket.Conn, bool) {
	for attempt := 1; ; attempt++ {
		if attempt > s.cfg.MaxReconnects {
			s.errs <- fmt.Errorf("feed: gave up after %d reconnect attempts: %w", s.cfg.MaxReconnects, cause)
			return nil, false
		}

		backoff := s.cfg.Backoff * time.Duration(1<<uint(attempt-1))
		log.Printf("[WARN] feed: stream dropped (%v), reconnecting in %v (attempt %d/%d)",
			cause, backoff, attempt, s.cfg.MaxReconnects)

		select {
		case <-s.ctx.Done():
			return nil, false
		case <-time.After(backoff):
		}

		conn, err := s.dial()
		if err != nil {
			cause = err
			continue
		}
		log.Printf("[INFO] feed: stream reconnected")
		return conn, true
	}
}

func (s *Stream) readLoop(conn *websocket.Conn) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()

	for {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var wb wireBar
		if err := json.Unmarshal(data, &wb); err != nil {
			log.Printf("[WARN] feed: dropping malformed message: %v", err)
			continue
		}

		bar := market.Bar{
			Time: wb.Time.UTC(),
			Open: wb.Open, High: wb.High, Low: wb.Low, Close: wb.Close,
			Volume: wb.Volume,
		}
		if err := bar.Validate(); err != nil {
			log.Printf("[WARN] feed: dropping invalid bar: %v", err)
			continue
		}

		select {
		case s.bars <- bar:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}
