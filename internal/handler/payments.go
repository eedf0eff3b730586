package handler

import (
	"net/http"

	"restaurant-sync/internal/payments"
	"restaurant-sync/pkg/models"

	"github.com/shopspring/decimal"
)

type decimalAmount = decimal.Decimal

type createPaymentRequest struct {
	OrderID   string               `json:"orderId"`
	Amount    decimal.Decimal      `json:"amount"`
	Method    models.PaymentMethod `json:"method"`
	Gateway   string               `json:"gateway"`
	Reference string               `json:"reference"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.payments.CreatePayment(r.Context(), payments.CreateInput{
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Method:    req.Method,
		Gateway:   req.Gateway,
		Reference: req.Reference,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, res, sideEffectsMessage(res))
}

type verifyPaymentRequest struct {
	Gateway          string `json:"gateway"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.payments.VerifyPayment(r.Context(), payments.VerifyInput{
		GatewayName:      req.Gateway,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res, sideEffectsMessage(res))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, p, "")
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	p, err := h.payments.ProcessRefund(r.Context(), r.PathValue("id"), req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, p, "")
}

func sideEffectsMessage(res *payments.Result) string {
	if res == nil || res.SideEffects == nil {
		return ""
	}
	return "payment recorded; order update failed: " + res.SideEffects.Error()
}
