package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/store"
)

type updateProfileRequest struct {
	UserName    string `json:"user_name" validate:"required,min=3,max=32"`
	FirstName   string `json:"first_name" validate:"required,max=64"`
	LastName    string `json:"last_name" validate:"required,max=64"`
	PhoneNumber string `json:"phone_number" validate:"required,max=20"`
	Age         int    `json:"age" validate:"gte=0,lte=150"`
}

type addPayeeRequest struct {
	PayeeID string `json:"payee_id" validate:"required,uuid4"`
}

type supportRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=2000"`
}

func (h *Handler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), callerID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			observe("GET", "/users/me", http.StatusNotFound)
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("user lookup failed", zap.Error(err))
		observe("GET", "/users/me", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("GET", "/users/me", http.StatusOK)
	respondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !h.decodeAndValidate(w, r, &req) {
		observe("PUT", "/users/me", http.StatusBadRequest)
		return
	}

	user, err := h.store.UpdateProfile(r.Context(), callerID, store.UpdateProfileInput{
		UserName:    req.UserName,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		Age:         req.Age,
	})
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			observe("PUT", "/users/me", http.StatusNotFound)
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("profile update failed", zap.Error(err))
		observe("PUT", "/users/me", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("PUT", "/users/me", http.StatusOK)
	respondWithJSON(w, http.StatusOK, user)
}

// AddPayeeHandler authorizes another verified user as a transfer target.
func (h *Handler) AddPayeeHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req addPayeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		observe("POST", "/payees", http.StatusBadRequest)
		return
	}

	if req.PayeeID == callerID {
		observe("POST", "/payees", http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "You cannot add yourself as a payee")
		return
	}

	payee, err := h.store.GetUser(r.Context(), req.PayeeID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			observe("POST", "/payees", http.StatusNotFound)
			respondWithError(w, http.StatusNotFound, "Payee not found")
			return
		}
		h.logger.Error("payee lookup failed", zap.Error(err))
		observe("POST", "/payees", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !payee.IsVerified {
		observe("POST", "/payees", http.StatusUnprocessableEntity)
		respondWithError(w, http.StatusUnprocessableEntity, "Payee is not verified")
		return
	}

	if err := h.store.AddPayee(r.Context(), callerID, req.PayeeID); err != nil {
		if errors.Is(err, store.ErrPayeeExists) {
			observe("POST", "/payees", http.StatusConflict)
			respondWithError(w, http.StatusConflict, "Payee already exists")
			return
		}
		h.logger.Error("payee insert failed", zap.Error(err))
		observe("POST", "/payees", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("POST", "/payees", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, map[string]string{"message": "Payee added successfully"})
}

func (h *Handler) ListPayeesHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	payees, err := h.store.ListPayees(r.Context(), callerID)
	if err != nil {
		h.logger.Error("payee list failed", zap.Error(err))
		observe("GET", "/payees", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("GET", "/payees", http.StatusOK)
	respondWithJSON(w, http.StatusOK, payees)
}

func (h *Handler) RemovePayeeHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	payeeID := mux.Vars(r)["id"]

	if err := h.store.RemovePayee(r.Context(), callerID, payeeID); err != nil {
		if errors.Is(err, store.ErrPayeeNotFound) {
			observe("DELETE", "/payees/{id}", http.StatusNotFound)
			respondWithError(w, http.StatusNotFound, "Payee not found")
			return
		}
		h.logger.Error("payee delete failed", zap.Error(err))
		observe("DELETE", "/payees/{id}", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("DELETE", "/payees/{id}", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Payee removed successfully"})
}

func (h *Handler) CreateSupportMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req supportRequest
	if !h.decodeAndValidate(w, r, &req) {
		observe("POST", "/support", http.StatusBadRequest)
		return
	}

	msg, err := h.store.CreateSupportMessage(r.Context(), req.Email, req.Subject, req.Message)
	if err != nil {
		h.logger.Error("support message insert failed", zap.Error(err))
		observe("POST", "/support", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("POST", "/support", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, msg)
}

func (h *Handler) ListSupportMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.store.ListSupportMessages(r.Context())
	if err != nil {
		h.logger.Error("support message list failed", zap.Error(err))
		observe("GET", "/support", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("GET", "/support", http.StatusOK)
	respondWithJSON(w, http.StatusOK, messages)
}
