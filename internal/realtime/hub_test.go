package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"restaurant-sync/internal/events"
	"restaurant-sync/internal/orders"
	"restaurant-sync/internal/store/memory"
	"restaurant-sync/internal/tables"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type hubFixture struct {
	hub    *Hub
	auth   *Authenticator
	orders *orders.Service
	tables *tables.Coordinator
	store  *memory.Store
	srv    *httptest.Server
}

func newHubFixture(t *testing.T, cfg Config) *hubFixture {
	t.Helper()
	st := memory.New()
	auth := NewAuthenticator("s3cret", "restaurant-sync", time.Hour)

	var hub *Hub
	emit := events.EmitterFunc(func(ctx context.Context, e events.Event) { hub.Emit(ctx, e) })
	tc := tables.NewCoordinator(st, emit, logger.Nop())
	ord := orders.NewService(st, tc, emit, logger.Nop())
	hub = NewHub(auth, ord, tc, cfg, logger.Nop())

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return &hubFixture{hub: hub, auth: auth, orders: ord, tables: tc, store: st, srv: srv}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, err := websocket.Dial(wsURL, "", f.srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// join dials and authenticates as subject.
func (f *hubFixture) join(t *testing.T, subject string) *websocket.Conn {
	t.Helper()
	token, err := f.auth.Issue(subject, "")
	require.NoError(t, err)
	conn := f.dial(t)
	send(t, conn, map[string]any{"auth": map[string]string{"token": token}})
	e := receive(t, conn)
	require.Equal(t, frameConnected, e.Name)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, websocket.JSON.Send(conn, v))
}

func receive(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e events.Event
	require.NoError(t, websocket.JSON.Receive(conn, &e))
	return e
}

// receiveNamed skips frames until one called name arrives.
func receiveNamed(t *testing.T, conn *websocket.Conn, name string) events.Event {
	t.Helper()
	for i := 0; i < 20; i++ {
		if e := receive(t, conn); e.Name == name {
			return e
		}
	}
	t.Fatalf("no %s frame received", name)
	return events.Event{}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (f *hubFixture) createTakeaway(t *testing.T) *models.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), orders.CreateInput{
		Type:      models.OrderTakeaway,
		BranchID:  "main",
		CreatedBy: "u-1",
		Items:     []models.OrderItem{{MenuItemID: "m-1", Name: "Tea", Quantity: 1, Price: decimal.NewFromInt(20)}},
	})
	require.NoError(t, err)
	return o
}

func TestHubRejectsBadAuth(t *testing.T) {
	t.Parallel()
	f := newHubFixture(t, Config{})

	tests := []struct {
		name  string
		frame any
	}{
		{"missing auth", map[string]any{"event": events.OrderStatusCommand}},
		{"bad token", map[string]any{"auth": map[string]string{"token": "nope"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn := f.dial(t)
			send(t, conn, tt.frame)
			e := receive(t, conn)
			assert.Equal(t, frameError, e.Name)
			assert.Equal(t, "unauthorized", decode[replyPayload](t, e.Data).Code)

			var next events.Event
			assert.Error(t, websocket.JSON.Receive(conn, &next))
		})
	}
}

func TestHubAuthTimeout(t *testing.T) {
	t.Parallel()
	f := newHubFixture(t, Config{AuthTimeout: 50 * time.Millisecond})
	conn := f.dial(t)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e events.Event
	assert.Error(t, websocket.JSON.Receive(conn, &e))
	assert.Zero(t, f.hub.Connections())
}

func TestHubBroadcastsOrderUpdates(t *testing.T) {
	t.Parallel()
	f := newHubFixture(t, Config{})
	a := f.join(t, "alice")
	b := f.join(t, "bob")
	require.Eventually(t, func() bool { return f.hub.Connections() == 2 }, time.Second, 10*time.Millisecond)

	o := f.createTakeaway(t)

	for _, conn := range []*websocket.Conn{a, b} {
		e := receiveNamed(t, conn, events.OrderUpdate)
		p := decode[events.OrderPayload](t, e.Data)
		assert.Equal(t, o.ID, p.OrderID)
		assert.Equal(t, models.OrderPending, p.Status)
	}
}

func TestHubOrderStatusCommand(t *testing.T) {
	t.Parallel()
	f := newHubFixture(t, Config{})
	o := f.createTakeaway(t)
	staff := f.join(t, "alice")
	watcher := f.join(t, "bob")

	send(t, staff, map[string]any{
		"event":     events.OrderStatusCommand,
		"requestId": "r-1",
		"data":      map[string]string{"orderId": o.ID, "status": "CONFIRMED"},
	})

	update := receiveNamed(t, watcher, events.OrderUpdate)
	p := decode[events.OrderPayload](t, update.Data)
	assert.Equal(t, models.OrderConfirmed, p.Status)
	assert.Equal(t, "alice", p.UpdatedBy)
	assert.Equal(t, events.KitchenTicket, receive(t, watcher).Name)

	ack := receiveNamed(t, staff, frameAck)
	r := decode[replyPayload](t, ack.Data)
	assert.Equal(t, "r-1", r.RequestID)
	require.NotNil(t, r.Changed)
	assert.True(t, *r.Changed)

	send(t, staff, map[string]any{
		"event":     events.OrderStatusCommand,
		"requestId": "r-2",
		"data":      map[string]string{"orderId": o.ID, "status": "PENDING"},
	})
	e := receiveNamed(t, staff, frameError)
	r = decode[replyPayload](t, e.Data)
	assert.Equal(t, "r-2", r.RequestID)
	assert.Equal(t, "invalid_transition", r.Code)

	got, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, got.Status)
}

func TestHubTableStatusCommand(t *testing.T) {
	t.Parallel()
	f := newHubFixture(t, Config{})
	require.NoError(t, f.store.CreateTable(context.Background(), &models.Table{
		ID: "t-1", TableNumber: 3, Capacity: 4, Status: models.TableCleaning, BranchID: "main",
	}))
	staff := f.join(t, "alice")

	send(t, staff, map[string]any{
		"event": events.TableStatusCommand,
		"data":  map[string]string{"tableId": "t-1", "status": "AVAILABLE"},
	})
	update := receiveNamed(t, staff, events.TableUpdate)
	assert.Equal(t, models.TableAvailable, decode[events.TablePayload](t, update.Data).Status)
	assert.Equal(t, frameAck, receive(t, staff).Name)

	send(t, staff, map[string]any{
		"event": events.TableStatusCommand,
		"data":  map[string]string{"tableId": "t-1", "status": "RESERVED"},
	})
	update = receiveNamed(t, staff, events.TableUpdate)
	assert.Equal(t, models.TableReserved, decode[events.TablePayload](t, update.Data).Status)

	tbl, err := f.tables.Get(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", tbl.OverriddenBy)

	send(t, staff, map[string]any{"event": "table:teleport", "data": map[string]string{}})
	e := receiveNamed(t, staff, frameError)
	assert.Equal(t, "invalid_input", decode[replyPayload](t, e.Data).Code)
}

func TestHubDropsSlowConnection(t *testing.T) {
	t.Parallel()
	f := newHubFixture(t, Config{SendBuffer: 1})
	conn := f.dial(t)

	p := &peer{ws: conn, subject: "slow", send: make(chan outbound, 1), done: make(chan struct{})}
	require.True(t, f.hub.register(p))

	f.hub.Emit(context.Background(), events.Disconnect("one"))
	f.hub.Emit(context.Background(), events.Disconnect("two"))

	select {
	case <-p.done:
	default:
		t.Fatal("slow connection was not dropped")
	}
	f.hub.unregister(p)
	assert.Zero(t, f.hub.Connections())
}

func TestHubShutdownSendsDisconnect(t *testing.T) {
	t.Parallel()
	f := newHubFixture(t, Config{})
	a := f.join(t, "alice")
	require.Eventually(t, func() bool { return f.hub.Connections() == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- f.hub.Shutdown(ctx, "maintenance")
	}()

	e := receiveNamed(t, a, events.ServerDisconnect)
	assert.Equal(t, "maintenance", decode[events.DisconnectPayload](t, e.Data).Reason)
	require.NoError(t, <-done)
	assert.Zero(t, f.hub.Connections())

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	_, err := websocket.Dial(wsURL, "", f.srv.URL)
	assert.Error(t, err)
}
