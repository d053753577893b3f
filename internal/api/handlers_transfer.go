package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/mailer"
	"github.com/punchamoorthee/walletops/internal/models"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
)

// CreateTransferHandler moves money from the authenticated caller to a payee.
func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		observe("POST", "/transfers", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		observe("POST", "/transfers", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	hash := sha256.Sum256(bodyBytes)
	reqHash := hex.EncodeToString(hash[:])

	var req models.TransferRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		observe("POST", "/transfers", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		observe("POST", "/transfers", http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}
	if req.RecipientID == callerID {
		observe("POST", "/transfers", http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Self-transfer not allowed")
		return
	}

	resp, existing, err := h.service.ProcessTransfer(r.Context(), callerID, req, idempotencyKey, reqHash)
	if err != nil {
		h.respondTransferError(w, "POST", "/transfers", err)
		return
	}

	if existing != nil {
		observe("POST", "/transfers", existing.ResponseStatus)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.ResponseStatus)
		w.Write(existing.ResponseBody)
		return
	}

	h.notifyTransferParties(resp.Transfer)

	observe("POST", "/transfers", http.StatusCreated)
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%d", resp.Transfer.ID))
	respondWithJSON(w, http.StatusCreated, resp)
}

// TopUpHandler credits the caller's own balance.
func (h *Handler) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers/top-up"))
	defer timer.ObserveDuration()

	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		observe("POST", "/transfers/top-up", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		observe("POST", "/transfers/top-up", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}
	hash := sha256.Sum256(bodyBytes)
	reqHash := hex.EncodeToString(hash[:])

	var req models.TopUpRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		observe("POST", "/transfers/top-up", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		observe("POST", "/transfers/top-up", http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}

	resp, existing, err := h.service.ProcessTopUp(r.Context(), callerID, req.Amount, idempotencyKey, reqHash)
	if err != nil {
		h.respondTransferError(w, "POST", "/transfers/top-up", err)
		return
	}

	if existing != nil {
		observe("POST", "/transfers/top-up", existing.ResponseStatus)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.ResponseStatus)
		w.Write(existing.ResponseBody)
		return
	}

	observe("POST", "/transfers/top-up", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	transfers, err := h.store.ListTransfers(r.Context(), callerID)
	if err != nil {
		h.logger.Error("transfer list failed", zap.Error(err))
		observe("GET", "/transfers", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("GET", "/transfers", http.StatusOK)
	respondWithJSON(w, http.StatusOK, transfers)
}

// GetTransferHandler returns a single transfer, participants only.
func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		observe("GET", "/transfers/{id}", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Invalid transfer id")
		return
	}

	transfer, err := h.store.GetTransferForUser(r.Context(), id, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			observe("GET", "/transfers/{id}", http.StatusNotFound)
			respondWithError(w, http.StatusNotFound, "Transfer not found")
			return
		}
		h.logger.Error("transfer lookup failed", zap.Error(err))
		observe("GET", "/transfers/{id}", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("GET", "/transfers/{id}", http.StatusOK)
	respondWithJSON(w, http.StatusOK, transfer)
}

func (h *Handler) CreditHistoryHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	entries, err := h.store.ListCreditHistory(r.Context(), callerID)
	if err != nil {
		h.logger.Error("credit history failed", zap.Error(err))
		observe("GET", "/credit-history", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("GET", "/credit-history", http.StatusOK)
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) respondTransferError(w http.ResponseWriter, method, endpoint string, err error) {
	switch {
	case errors.Is(err, service.ErrIdempotencyConflict):
		observe(method, endpoint, http.StatusConflict)
		respondWithError(w, http.StatusConflict, "Request processing in progress")
	case errors.Is(err, service.ErrIdempotencyMismatch):
		observe(method, endpoint, http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
	case errors.Is(err, service.ErrAccountNotFound):
		observe(method, endpoint, http.StatusNotFound)
		respondWithError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, service.ErrNotAPayee):
		observe(method, endpoint, http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Recipient is not a payee")
	case errors.Is(err, service.ErrInsufficientBalance):
		observe(method, endpoint, http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Insufficient balance")
	case errors.Is(err, service.ErrInvalidAmount):
		observe(method, endpoint, http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Positive amount required")
	case errors.Is(err, service.ErrSelfTransfer):
		observe(method, endpoint, http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Self-transfer not allowed")
	default:
		h.logger.Error("transfer failed", zap.Error(err))
		observe(method, endpoint, http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// notifyTransferParties emails both sides of a completed transfer.
// Best-effort and asynchronous: the transfer is already committed, so mail
// failures are only logged.
func (h *Handler) notifyTransferParties(t models.Transfer) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sender, err := h.store.GetUser(ctx, t.SenderID)
		if err != nil {
			h.logger.Warn("sender lookup for notification failed", zap.Error(err))
			return
		}
		recipient, err := h.store.GetUser(ctx, t.RecipientID)
		if err != nil {
			h.logger.Warn("recipient lookup for notification failed", zap.Error(err))
			return
		}

		if err := h.mailer.SendPaymentNotification(ctx, mailer.PaymentNotification{
			To:           sender.Email,
			Name:         sender.UserName,
			Sent:         true,
			Amount:       t.Amount,
			OtherParty:   recipient.UserName,
			Message:      t.Message,
			BalanceAfter: t.BalanceAfterSender,
		}); err != nil {
			h.logger.Warn("sender notification failed", zap.Error(err))
		}

		if err := h.mailer.SendPaymentNotification(ctx, mailer.PaymentNotification{
			To:           recipient.Email,
			Name:         recipient.UserName,
			Sent:         false,
			Amount:       t.Amount,
			OtherParty:   sender.UserName,
			Message:      t.Message,
			BalanceAfter: t.BalanceAfterRecipient,
		}); err != nil {
			h.logger.Warn("recipient notification failed", zap.Error(err))
		}
	}()
}
