// Package handler exposes the engine over HTTP. Responses use the
// {success, data, error, message} envelope and map error kinds to statuses
// with apperr.HTTPStatus.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/orders"
	"restaurant-sync/internal/payments"
	"restaurant-sync/internal/realtime"
	"restaurant-sync/internal/tables"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"
)

const maxBodyBytes = 1 << 20

type OrderService interface {
	Create(ctx context.Context, in orders.CreateInput) (*models.Order, error)
	Get(ctx context.Context, orderID string) (*models.Order, error)
	Recent(ctx context.Context, limit int) ([]*models.Order, error)
	History(ctx context.Context, orderID string) ([]models.OrderStatusLog, error)
	Transition(ctx context.Context, orderID string, target models.OrderStatus, source models.Source) (*orders.Result, error)
	ReassignTable(ctx context.Context, orderID, tableID string) (*models.Order, error)
	Seat(ctx context.Context, orderID string) (*models.Order, error)
}

type TableService interface {
	List(ctx context.Context) ([]*models.Table, error)
	MarkAvailable(ctx context.Context, tableID, actor string) (*models.Table, error)
	Override(ctx context.Context, tableID string, status models.TableStatus, actor string) (*models.Table, error)
	CreateReservation(ctx context.Context, in tables.ReservationInput) (*models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, status models.ReservationStatus) (*models.Reservation, error)
}

type PaymentService interface {
	CreatePayment(ctx context.Context, in payments.CreateInput) (*payments.Result, error)
	VerifyPayment(ctx context.Context, in payments.VerifyInput) (*payments.Result, error)
	ProcessRefund(ctx context.Context, paymentID string, amount *decimalAmount, reason string) (*models.Payment, error)
	Get(ctx context.Context, paymentID string) (*models.Payment, error)
}

type Ingestor interface {
	Ingest(ctx context.Context, platform string, payload []byte) error
}

type TokenVerifier interface {
	Verify(token string) (realtime.Claims, error)
}

type Deps struct {
	Orders    OrderService
	Tables    TableService
	Payments  PaymentService
	Ingestion Ingestor
	// Realtime serves GET /ws; nil leaves the route unregistered.
	Realtime http.Handler
	Auth     TokenVerifier
	Logger   *logger.Logger
}

type Handler struct {
	orders    OrderService
	tables    TableService
	payments  PaymentService
	ingestion Ingestor
	realtime  http.Handler
	auth      TokenVerifier
	logger    *logger.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		orders:    d.Orders,
		tables:    d.Tables,
		payments:  d.Payments,
		ingestion: d.Ingestion,
		realtime:  d.Realtime,
		auth:      d.Auth,
		logger:    d.Logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/{service}", h.webhook)

	mux.HandleFunc("GET /orders", h.listOrders)
	mux.HandleFunc("POST /orders", h.createOrder)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("GET /orders/{id}/history", h.orderHistory)
	mux.HandleFunc("PATCH /orders/{id}/status", h.updateOrderStatus)
	mux.HandleFunc("PUT /orders/{id}/table", h.reassignTable)
	mux.HandleFunc("POST /orders/{id}/seat", h.seatOrder)

	mux.HandleFunc("GET /tables", h.listTables)
	mux.HandleFunc("POST /tables/{id}/available", h.markTableAvailable)
	mux.HandleFunc("PUT /tables/{id}/status", h.overrideTable)
	mux.HandleFunc("POST /reservations", h.createReservation)
	mux.HandleFunc("PATCH /reservations/{id}/status", h.updateReservationStatus)

	mux.HandleFunc("POST /payments", h.createPayment)
	mux.HandleFunc("POST /payments/verify", h.verifyPayment)
	mux.HandleFunc("GET /payments/{id}", h.getPayment)
	mux.HandleFunc("POST /payments/{id}/refund", h.refundPayment)

	if h.realtime != nil {
		mux.Handle("GET /ws", h.realtime)
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "restaurant-sync"})
	})

	return h.logging(h.authenticate(mux))
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v: %w", err, apperr.ErrInvalidInput)
	}
	return nil
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, fmt.Errorf("read webhook body: %v: %w", err, apperr.ErrInvalidPayload))
		return
	}
	if err := h.ingestion.Ingest(r.Context(), service, payload); err != nil {
		if senderFault(err) {
			writeError(w, err)
			return
		}
		// Platforms only retry on 5xx.
		h.logger.Error(logger.RequestID(r.Context()), "webhook_failed", "webhook not applied", err, "service", service)
		writeJSON(w, http.StatusInternalServerError, envelope{
			Success: false, Error: apperr.Kind(err), Message: "webhook processing failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// senderFault reports whether a webhook failure would fail again on retry.
func senderFault(err error) bool {
	return errors.Is(err, apperr.ErrIntegrationNotFound) ||
		errors.Is(err, apperr.ErrUnsupportedService) ||
		errors.Is(err, apperr.ErrInvalidPayload)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, fmt.Errorf("limit must be a positive integer: %w", apperr.ErrInvalidInput))
			return
		}
		limit = n
	}
	list, err := h.orders.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list, "")
}

type createOrderRequest struct {
	Type       models.OrderType     `json:"type"`
	TableID    string               `json:"tableId"`
	CustomerID string               `json:"customerId"`
	BranchID   string               `json:"branchId"`
	CreatedBy  string               `json:"createdBy"`
	Items      []models.OrderItem   `json:"items"`
	Tax        decimalAmount        `json:"tax"`
	Discount   decimalAmount        `json:"discount"`
	Seated     bool                 `json:"seated"`
	Delivery   *models.DeliveryInfo `json:"delivery"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = actor(r)
	}
	o, err := h.orders.Create(r.Context(), orders.CreateInput{
		Type:       req.Type,
		TableID:    req.TableID,
		CustomerID: req.CustomerID,
		BranchID:   req.BranchID,
		CreatedBy:  createdBy,
		Items:      req.Items,
		Tax:        req.Tax,
		Discount:   req.Discount,
		Seated:     req.Seated,
		Delivery:   req.Delivery,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, o, "")
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o, "")
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.orders.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, history, "")
}

type statusRequest struct {
	Status string `json:"status"`
}

type transitionResponse struct {
	Order   *models.Order      `json:"order"`
	From    models.OrderStatus `json:"from"`
	Changed bool               `json:"changed"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.orders.Transition(r.Context(), r.PathValue("id"), models.OrderStatus(req.Status), models.SourceStaff)
	if err != nil {
		writeError(w, err)
		return
	}
	msg := ""
	if res.SideEffects != nil {
		msg = "status updated; follow-up failed: " + res.SideEffects.Error()
	}
	writeData(w, http.StatusOK, transitionResponse{Order: res.Order, From: res.From, Changed: res.Changed}, msg)
}

func (h *Handler) reassignTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableID string `json:"tableId"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	o, err := h.orders.ReassignTable(r.Context(), r.PathValue("id"), req.TableID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o, "")
}

func (h *Handler) seatOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Seat(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o, "")
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	list, err := h.tables.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list, "")
}

func (h *Handler) markTableAvailable(w http.ResponseWriter, r *http.Request) {
	t, err := h.tables.MarkAvailable(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, t, "")
}

func (h *Handler) overrideTable(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := h.tables.Override(r.Context(), r.PathValue("id"), models.TableStatus(req.Status), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, t, "")
}

type reservationRequest struct {
	TableID      string `json:"tableId"`
	CustomerName string `json:"customerName"`
	Date         string `json:"reservationDate"`
	Time         string `json:"reservationTime"`
	PartySize    int    `json:"partySize"`
}

func (h *Handler) createReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.tables.CreateReservation(r.Context(), tables.ReservationInput{
		TableID:      req.TableID,
		CustomerName: req.CustomerName,
		Date:         req.Date,
		Time:         req.Time,
		PartySize:    req.PartySize,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, res, "")
}

func (h *Handler) updateReservationStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.tables.UpdateReservationStatus(r.Context(), r.PathValue("id"), models.ReservationStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res, "")
}
