package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/models"
	"github.com/punchamoorthee/walletops/internal/otp"
	"github.com/punchamoorthee/walletops/internal/store"
)

type signupRequest struct {
	Email       string `json:"email" validate:"required,email"`
	UserName    string `json:"user_name" validate:"required,min=3,max=32"`
	FirstName   string `json:"first_name" validate:"max=64"`
	LastName    string `json:"last_name" validate:"max=64"`
	PhoneNumber string `json:"phone_number" validate:"max=20"`
	Age         int    `json:"age" validate:"gte=0,lte=150"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

type setPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// SignupHandler creates an unverified user and emails a verification code.
func (h *Handler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decodeAndValidate(w, r, &req) {
		observe("POST", "/auth/signup", http.StatusBadRequest)
		return
	}

	user := models.User{
		ID:          uuid.NewString(),
		Email:       req.Email,
		UserName:    req.UserName,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		Age:         req.Age,
	}
	created, err := h.store.CreateUser(r.Context(), user)
	if err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			observe("POST", "/auth/signup", http.StatusConflict)
			respondWithError(w, http.StatusConflict, "User already exists")
			return
		}
		h.logger.Error("create user failed", zap.Error(err))
		observe("POST", "/auth/signup", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Signup error")
		return
	}

	code, err := h.otp.Generate(r.Context(), created.Email)
	if err != nil {
		h.logger.Error("otp generation failed", zap.Error(err))
		observe("POST", "/auth/signup", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Could not issue verification code")
		return
	}

	if err := h.mailer.SendOTP(r.Context(), created.Email, code); err != nil {
		h.logger.Error("otp email failed", zap.Error(err), zap.String("email", created.Email))
		observe("POST", "/auth/signup", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Failed to send OTP email")
		return
	}

	observe("POST", "/auth/signup", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, map[string]string{
		"message": "OTP sent to email. Please verify.",
		"user_id": created.ID,
	})
}

// VerifyOTPHandler checks the emailed code and marks the user verified.
func (h *Handler) VerifyOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decodeAndValidate(w, r, &req) {
		observe("POST", "/auth/verify-otp", http.StatusBadRequest)
		return
	}

	if err := h.otp.Verify(r.Context(), req.Email, req.OTP); err != nil {
		switch {
		case errors.Is(err, otp.ErrNotFound):
			observe("POST", "/auth/verify-otp", http.StatusBadRequest)
			respondWithError(w, http.StatusBadRequest, "OTP expired or not requested")
		case errors.Is(err, otp.ErrMismatch):
			observe("POST", "/auth/verify-otp", http.StatusBadRequest)
			respondWithError(w, http.StatusBadRequest, "Invalid OTP")
		default:
			h.logger.Error("otp verify failed", zap.Error(err))
			observe("POST", "/auth/verify-otp", http.StatusInternalServerError)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	if err := h.store.MarkVerified(r.Context(), req.Email); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			observe("POST", "/auth/verify-otp", http.StatusNotFound)
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("mark verified failed", zap.Error(err))
		observe("POST", "/auth/verify-otp", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("POST", "/auth/verify-otp", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "OTP verified successfully"})
}

// SetPasswordHandler sets the initial password for a verified user and
// returns the first token pair.
func (h *Handler) SetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !h.decodeAndValidate(w, r, &req) {
		observe("POST", "/auth/set-password", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			observe("POST", "/auth/set-password", http.StatusNotFound)
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("user lookup failed", zap.Error(err))
		observe("POST", "/auth/set-password", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !user.IsVerified {
		observe("POST", "/auth/set-password", http.StatusForbidden)
		respondWithError(w, http.StatusForbidden, "Please verify your email first")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("password hash failed", zap.Error(err))
		observe("POST", "/auth/set-password", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if err := h.store.SetPassword(r.Context(), req.Email, hash); err != nil {
		h.logger.Error("password update failed", zap.Error(err))
		observe("POST", "/auth/set-password", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.issueTokens(w, "POST", "/auth/set-password", user.ID)
}

// LoginHandler authenticates by email and password.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeAndValidate(w, r, &req) {
		observe("POST", "/auth/login", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			observe("POST", "/auth/login", http.StatusUnauthorized)
			respondWithError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.logger.Error("user lookup failed", zap.Error(err))
		observe("POST", "/auth/login", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if user.PasswordHash == "" || !auth.CheckPassword(req.Password, user.PasswordHash) {
		observe("POST", "/auth/login", http.StatusUnauthorized)
		respondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsVerified {
		observe("POST", "/auth/login", http.StatusForbidden)
		respondWithError(w, http.StatusForbidden, "Please verify your email first")
		return
	}

	h.issueTokens(w, "POST", "/auth/login", user.ID)
}

// RefreshHandler exchanges a refresh token for a fresh access token.
func (h *Handler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeAndValidate(w, r, &req) {
		observe("POST", "/auth/refresh", http.StatusBadRequest)
		return
	}

	userID, err := h.tokens.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		observe("POST", "/auth/refresh", http.StatusUnauthorized)
		respondWithError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	// The user may have been removed since the token was issued.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := h.store.GetUser(ctx, userID); err != nil {
		observe("POST", "/auth/refresh", http.StatusUnauthorized)
		respondWithError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	access, err := h.tokens.GenerateAccessToken(userID)
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		observe("POST", "/auth/refresh", http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	observe("POST", "/auth/refresh", http.StatusOK)
	respondWithJSON(w, http.StatusOK, tokenResponse{AccessToken: access})
}

func (h *Handler) issueTokens(w http.ResponseWriter, method, endpoint, userID string) {
	access, err := h.tokens.GenerateAccessToken(userID)
	if err == nil {
		var refresh string
		refresh, err = h.tokens.GenerateRefreshToken(userID)
		if err == nil {
			observe(method, endpoint, http.StatusOK)
			respondWithJSON(w, http.StatusOK, tokenResponse{AccessToken: access, RefreshToken: refresh})
			return
		}
	}
	h.logger.Error("token generation failed", zap.Error(err))
	observe(method, endpoint, http.StatusInternalServerError)
	respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
}
