// Package client is the dashboard side of the real-time channel. Each Session
// owns one socket and one poller; nothing is shared between sessions.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"restaurant-sync/internal/events"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	// StatusUnavailable means the session has no token and only polls.
	StatusUnavailable Status = "socket-unavailable"
	// StatusDisabled means reconnect attempts ran out; polling continues
	// until Reconnect is called.
	StatusDisabled Status = "socket-disabled"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollLimit    = 50
	DefaultMaxAttempts  = 5
)

var errServerDisconnect = errors.New("server requested disconnect")

type Options struct {
	// BaseURL is the HTTP root of the server, e.g. http://localhost:3000.
	BaseURL      string
	Token        string
	PollInterval time.Duration
	PollLimit    int
	MaxAttempts  int
	// InitialBackoff and MaxBackoff bound the delay between dial attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
	Logger         *logger.Logger

	OnStatus func(Status)
	// OnNotice receives user-facing messages. It fires once when the socket
	// is disabled, not once per failed attempt.
	OnNotice func(string)
	OnOrder  func(OrderView)
	OnTable  func(TableView)
	OnTicket func(events.TicketPayload)
}

type Session struct {
	opts  Options
	state *State
	kick  chan struct{}

	mu       sync.Mutex
	status   Status
	attempts int
	notified bool
}

func New(opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollLimit <= 0 {
		opts.PollLimit = DefaultPollLimit
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Session{
		opts:   opts,
		state:  NewState(),
		kick:   make(chan struct{}, 1),
		status: StatusConnecting,
	}
}

func (s *Session) State() *State { return s.state }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Attempts is the number of failed dials since the last successful connect
// or Reconnect.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed && s.opts.OnStatus != nil {
		s.opts.OnStatus(st)
	}
}

// Reconnect is the manual reconnect action: it resets the attempt counter
// and re-enables a disabled socket. It does nothing to a live socket.
func (s *Session) Reconnect() {
	s.mu.Lock()
	s.attempts = 0
	s.notified = false
	disabled := s.status == StatusDisabled
	s.mu.Unlock()
	if !disabled {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run drives the socket and the poller until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.opts.Token == "" {
		s.setStatus(StatusUnavailable)
	} else {
		g.Go(func() error {
			s.socketLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		s.pollLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (s *Session) socketLoop(ctx context.Context) {
	for ctx.Err() == nil {
		if s.Status() != StatusDisconnected {
			s.setStatus(StatusConnecting)
		}
		conn, err := s.dialWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.disable(err)
			select {
			case <-ctx.Done():
				return
			case <-s.kick:
				continue
			}
		}

		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
		// A kick that raced a successful dial is stale.
		select {
		case <-s.kick:
		default:
		}
		s.setStatus(StatusConnected)

		err = s.serve(ctx, conn)
		_ = conn.Close()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errServerDisconnect):
			s.opts.Logger.Info("", "socket_server_disconnect", "server closed the session, reconnecting")
		default:
			s.opts.Logger.Warn("", "socket_disconnected", fmt.Sprintf("connection lost: %v", err))
			s.setStatus(StatusDisconnected)
		}
	}
}

func (s *Session) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, err := s.dial(ctx)
		if err == nil {
			return conn, nil
		}
		s.mu.Lock()
		s.attempts++
		n := s.attempts
		s.mu.Unlock()
		s.opts.Logger.Debug("", "socket_dial_failed", fmt.Sprintf("attempt %d/%d: %v", n, s.opts.MaxAttempts, err))
		if n >= s.opts.MaxAttempts {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
}

func (s *Session) disable(err error) {
	s.setStatus(StatusDisabled)
	s.mu.Lock()
	first := !s.notified
	s.notified = true
	s.mu.Unlock()
	s.opts.Logger.Warn("", "socket_disabled", fmt.Sprintf("giving up on real-time updates: %v", err))
	if first && s.opts.OnNotice != nil {
		s.opts.OnNotice("Live updates are unavailable. Refreshing every " + s.opts.PollInterval.String() + ".")
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	cfg, err := websocket.NewConfig("ws"+strings.TrimPrefix(s.opts.BaseURL, "http")+"/ws", s.opts.BaseURL)
	if err != nil {
		return nil, err
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := websocket.JSON.Send(conn, map[string]any{"auth": map[string]string{"token": s.opts.Token}}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	var first events.Event
	if err := websocket.JSON.Receive(conn, &first); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if first.Name != "connected" {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake rejected: %s", gjson.GetBytes(first.Data, "message").String())
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// serve reads frames until the connection breaks or the server disconnects.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var e events.Event
		if err := websocket.JSON.Receive(conn, &e); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("connection closed: %w", err)
			}
			return err
		}
		if e.Name == events.ServerDisconnect {
			return errServerDisconnect
		}
		s.handleEvent(e)
	}
}

func (s *Session) handleEvent(e events.Event) {
	switch e.Name {
	case events.OrderUpdate:
		var p events.OrderPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return
		}
		s.applyOrder(OrderView{
			ID: p.OrderID, OrderNumber: p.OrderNumber, Status: p.Status,
			PaymentStatus: p.PaymentStatus, UpdatedAt: p.UpdatedAt, UpdatedBy: p.UpdatedBy,
		})
	case events.TableUpdate:
		var p events.TablePayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return
		}
		s.applyTable(TableView{ID: p.TableID, Status: p.Status, UpdatedAt: p.UpdatedAt})
	case events.KitchenTicket:
		var p events.TicketPayload
		if err := json.Unmarshal(e.Data, &p); err == nil && s.opts.OnTicket != nil {
			s.opts.OnTicket(p)
		}
	}
}

func (s *Session) applyOrder(v OrderView) {
	if s.state.ApplyOrder(v) && s.opts.OnOrder != nil {
		s.opts.OnOrder(v)
	}
}

func (s *Session) applyTable(v TableView) {
	if s.state.ApplyTable(v) && s.opts.OnTable != nil {
		s.opts.OnTable(v)
	}
}

// pollLoop fetches a snapshot at start and then every interval while the
// socket is not connected.
func (s *Session) pollLoop(ctx context.Context) {
	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()

	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.Status() != StatusConnected {
				s.pollOnce(ctx)
			}
		}
	}
}

func (s *Session) pollOnce(ctx context.Context) {
	if err := s.Poll(ctx); err != nil && ctx.Err() == nil {
		s.opts.Logger.Warn("", "poll_failed", err.Error())
	}
}

// Poll fetches the most recent orders and the table list once.
func (s *Session) Poll(ctx context.Context) error {
	body, err := s.get(ctx, fmt.Sprintf("/orders?limit=%d", s.opts.PollLimit))
	if err != nil {
		return err
	}
	gjson.GetBytes(body, "data").ForEach(func(_, o gjson.Result) bool {
		s.applyOrder(OrderView{
			ID:            o.Get("id").String(),
			OrderNumber:   o.Get("orderNumber").String(),
			Status:        models.OrderStatus(o.Get("status").String()),
			PaymentStatus: models.PaymentStatus(o.Get("paymentStatus").String()),
			UpdatedAt:     o.Get("updatedAt").Time(),
			UpdatedBy:     o.Get("updatedBy").String(),
		})
		return true
	})

	body, err = s.get(ctx, "/tables")
	if err != nil {
		return err
	}
	gjson.GetBytes(body, "data").ForEach(func(_, t gjson.Result) bool {
		s.applyTable(TableView{
			ID:        t.Get("id").String(),
			Status:    models.TableStatus(t.Get("status").String()),
			UpdatedAt: t.Get("updatedAt").Time(),
		})
		return true
	})
	return nil
}

func (s *Session) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return body, nil
}
