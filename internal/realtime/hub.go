// Package realtime pushes propagation events to dashboard connections over
// websockets and accepts staff commands on the same channel.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/events"
	"restaurant-sync/internal/orders"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const (
	// server frames that are not propagation events
	frameConnected = "connected"
	frameAck       = "ack"
	frameError     = "error"

	writeTimeout = 5 * time.Second
)

type Orders interface {
	Transition(ctx context.Context, orderID string, target models.OrderStatus, source models.Source) (*orders.Result, error)
}

type Tables interface {
	MarkAvailable(ctx context.Context, tableID, actor string) (*models.Table, error)
	Override(ctx context.Context, tableID string, status models.TableStatus, actor string) (*models.Table, error)
}

type Config struct {
	SendBuffer  int
	AuthTimeout time.Duration
}

// Hub fans events out to every authenticated connection. It implements
// events.Emitter; Emit never blocks on a connection.
type Hub struct {
	auth   *Authenticator
	orders Orders
	tables Tables
	logger *logger.Logger
	cfg    Config

	mu     sync.Mutex
	conns  map[*peer]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewHub(auth *Authenticator, ord Orders, tbl Tables, cfg Config, log *logger.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	return &Hub{
		auth:   auth,
		orders: ord,
		tables: tbl,
		logger: log,
		cfg:    cfg,
		conns:  make(map[*peer]struct{}),
	}
}

type clientFrame struct {
	Auth *struct {
		Token string `json:"token"`
	} `json:"auth,omitempty"`
	Event     string          `json:"event,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type orderCommand struct {
	OrderID string             `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
}

type tableCommand struct {
	TableID string             `json:"tableId"`
	Status  models.TableStatus `json:"status"`
}

type replyPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Changed   *bool  `json:"changed,omitempty"`
}

func reply(name string, p replyPayload) events.Event {
	data, _ := json.Marshal(p)
	return events.Event{Name: name, Data: data}
}

type outbound struct {
	data  []byte
	final bool
}

type peer struct {
	ws      *websocket.Conn
	subject string
	send    chan outbound
	done    chan struct{}
	once    sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

// enqueue reports false when the buffer is full.
func (p *peer) enqueue(o outbound) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- o:
		return true
	default:
		return false
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	websocket.Handler(h.handle).ServeHTTP(w, r)
}

func (h *Hub) handle(ws *websocket.Conn) {
	defer func() { _ = ws.Close() }()
	rid := uuid.NewString()

	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
	var first clientFrame
	if err := websocket.JSON.Receive(ws, &first); err != nil {
		h.logger.Debug(rid, "ws_auth_timeout", "no auth frame received", "remote", ws.Request().RemoteAddr)
		return
	}
	if first.Auth == nil {
		h.rejectAuth(ws, rid, fmt.Errorf("first frame must carry auth: %w", apperr.ErrUnauthorized))
		return
	}
	claims, err := h.auth.Verify(first.Auth.Token)
	if err != nil {
		h.rejectAuth(ws, rid, err)
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	p := &peer{
		ws:      ws,
		subject: claims.Subject,
		send:    make(chan outbound, h.cfg.SendBuffer),
		done:    make(chan struct{}),
	}
	if !h.register(p) {
		h.rejectAuth(ws, rid, errors.New("server is shutting down"))
		return
	}
	defer h.unregister(p)

	go h.writeLoop(p)
	h.sendTo(p, reply(frameConnected, replyPayload{Subject: claims.Subject}), false)
	h.logger.Info(rid, "ws_connected", "dashboard connected", "subject", claims.Subject)

	for {
		var f clientFrame
		if err := websocket.JSON.Receive(ws, &f); err != nil {
			select {
			case <-p.done:
			default:
				h.logger.Debug(rid, "ws_closed", "connection closed by peer", "subject", claims.Subject)
			}
			return
		}
		h.command(ws.Request().Context(), p, f)
	}
}

func (h *Hub) rejectAuth(ws *websocket.Conn, rid string, err error) {
	h.logger.Warn(rid, "ws_auth_rejected", err.Error(), "remote", ws.Request().RemoteAddr)
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = websocket.JSON.Send(ws, reply(frameError, replyPayload{Code: apperr.Kind(err), Message: err.Error()}))
}

func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[p] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	_, ok := h.conns[p]
	delete(h.conns, p)
	h.mu.Unlock()
	p.close()
	if ok {
		h.wg.Done()
	}
}

func (h *Hub) writeLoop(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case o := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.Message.Send(p.ws, string(o.data)); err != nil || o.final {
				p.close()
				return
			}
		}
	}
}

// sendTo queues e for p and drops p when its buffer is full.
func (h *Hub) sendTo(p *peer, e events.Event, final bool) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("", "ws_encode_failed", "failed to encode frame", err, "event", e.Name)
		return
	}
	if !p.enqueue(outbound{data: data, final: final}) {
		h.logger.Warn("", "ws_slow_consumer", "dropping connection with full send buffer", "subject", p.subject)
		p.close()
	}
}

// Emit broadcasts e to every connection.
func (h *Hub) Emit(ctx context.Context, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error(logger.RequestID(ctx), "ws_encode_failed", "failed to encode event", err, "event", e.Name)
		return
	}
	for _, p := range h.snapshot() {
		if !p.enqueue(outbound{data: data}) {
			h.logger.Warn(logger.RequestID(ctx), "ws_slow_consumer", "dropping connection with full send buffer",
				"subject", p.subject, "event", e.Name)
			p.close()
		}
	}
}

func (h *Hub) snapshot() []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*peer, 0, len(h.conns))
	for p := range h.conns {
		out = append(out, p)
	}
	return out
}

// Connections reports how many authenticated connections are open.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Disconnect sends server:disconnect to every connection and closes it once
// the frame is written. New connections are still accepted.
func (h *Hub) Disconnect(reason string) {
	for _, p := range h.snapshot() {
		h.sendTo(p, events.Disconnect(reason), true)
	}
}

// Shutdown stops accepting connections, disconnects everyone and waits for
// the connection handlers to return or ctx to end.
func (h *Hub) Shutdown(ctx context.Context, reason string) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.Disconnect(reason)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, p := range h.snapshot() {
			p.close()
		}
		return ctx.Err()
	}
}

func (h *Hub) command(ctx context.Context, p *peer, f clientFrame) {
	rid := f.RequestID
	if rid == "" {
		rid = uuid.NewString()
	}
	ctx = orders.WithActor(logger.WithRequestID(ctx, rid), p.subject)

	var (
		changed bool
		err     error
	)
	switch f.Event {
	case events.OrderStatusCommand:
		changed, err = h.orderStatus(ctx, f.Data)
	case events.TableStatusCommand:
		changed, err = h.tableStatus(ctx, p.subject, f.Data)
	default:
		err = fmt.Errorf("unsupported event %q: %w", f.Event, apperr.ErrInvalidInput)
	}
	if err != nil {
		h.logger.Warn(rid, "ws_command_failed", err.Error(), "event", f.Event, "subject", p.subject)
		h.sendTo(p, reply(frameError, replyPayload{RequestID: f.RequestID, Code: apperr.Kind(err), Message: err.Error()}), false)
		return
	}
	h.sendTo(p, reply(frameAck, replyPayload{RequestID: f.RequestID, Changed: &changed}), false)
}

func (h *Hub) orderStatus(ctx context.Context, data json.RawMessage) (bool, error) {
	var cmd orderCommand
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.OrderID == "" || cmd.Status == "" {
		return false, fmt.Errorf("orderId and status are required: %w", apperr.ErrInvalidInput)
	}
	res, err := h.orders.Transition(ctx, cmd.OrderID, cmd.Status, models.SourceStaff)
	if err != nil {
		return false, err
	}
	if res.SideEffects != nil {
		h.logger.Warn(logger.RequestID(ctx), "ws_side_effects", res.SideEffects.Error(), "order_id", cmd.OrderID)
	}
	return res.Changed, nil
}

// tableStatus treats AVAILABLE as the cleaning acknowledgement and any other
// status as a staff override.
func (h *Hub) tableStatus(ctx context.Context, actor string, data json.RawMessage) (bool, error) {
	var cmd tableCommand
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.TableID == "" || cmd.Status == "" {
		return false, fmt.Errorf("tableId and status are required: %w", apperr.ErrInvalidInput)
	}
	var err error
	if cmd.Status == models.TableAvailable {
		_, err = h.tables.MarkAvailable(ctx, cmd.TableID, actor)
	} else {
		_, err = h.tables.Override(ctx, cmd.TableID, cmd.Status, actor)
	}
	return err == nil, err
}
