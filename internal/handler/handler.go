// Package handler содержит HTTP-обработчики API сервиса эскроу.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mybizhub/escrow-ledger/internal/escrow"
	"github.com/mybizhub/escrow-ledger/internal/middleware"
	"github.com/mybizhub/escrow-ledger/internal/model"
	"github.com/mybizhub/escrow-ledger/internal/repository"
	"github.com/mybizhub/escrow-ledger/internal/validation"
)

const maxRequestBody = 1 << 16

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ReleaseEscrowIfEligible(ctx context.Context, orderID string) (escrow.ReleaseResult, error)
	SweepDueEscrow(ctx context.Context) (escrow.SweepResult, error)
	GetWallet(ctx context.Context, businessID string) (model.Wallet, error)
}

// Handler реализует HTTP-обработчики API сервиса эскроу.
type Handler struct {
	service     Service
	logger      *zap.Logger
	releaseAuth *middleware.TokenAuth
	sweepAuth   *middleware.TokenAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, releaseAuth, sweepAuth *middleware.TokenAuth) *Handler {
	return &Handler{
		service:     s,
		logger:      logger,
		releaseAuth: releaseAuth,
		sweepAuth:   sweepAuth,
	}
}

type releaseRequest struct {
	OrderID string `json:"orderId"`
}

type releaseResponse struct {
	OK           bool   `json:"ok"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	EscrowStatus string `json:"escrowStatus,omitempty"`
	HoldUntilMs  *int64 `json:"holdUntilMs,omitempty"`
}

// Release выплачивает удерживаемые средства по одному заказу.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if !validation.IsValidDocumentID(req.OrderID) {
		writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	res, err := h.service.ReleaseEscrowIfEligible(r.Context(), req.OrderID)
	if err != nil {
		h.logger.Error("release escrow error", zap.Error(err), zap.String("orderID", req.OrderID))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	switch res.Outcome {
	case escrow.OutcomeNotFound:
		writeError(w, http.StatusNotFound, res.Message)
		return
	case escrow.OutcomeInvalid:
		h.logger.Warn("invalid order data", zap.String("orderID", req.OrderID))
		writeError(w, http.StatusBadRequest, res.Message)
		return
	}

	resp := releaseResponse{OK: true, Message: res.Message}
	switch res.Message {
	case escrow.MessageNotHeld:
		resp.EscrowStatus = string(res.EscrowStatus)
	case escrow.MessageStillHolding:
		holdUntil := res.HoldUntilMs
		resp.HoldUntilMs = &holdUntil
	}

	writeJSON(w, http.StatusOK, resp)
}

type sweepResponse struct {
	OK bool `json:"ok"`
	escrow.SweepResult
}

// Sweep выполняет один обход заказов с истёкшим сроком удержания.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SweepDueEscrow(r.Context())
	if err != nil {
		h.logger.Error("escrow sweep error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{OK: true, SweepResult: res})
}

// GetWallet возвращает балансы продавца.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessID")
	if !validation.IsValidDocumentID(businessID) {
		writeError(w, http.StatusBadRequest, "businessId is invalid")
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), businessID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			writeError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		h.logger.Error("get wallet error", zap.Error(err), zap.String("businessID", businessID))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

// Health сообщает, что процесс принимает запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, releaseResponse{OK: false, Error: msg})
}
