package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/mailer"
	"github.com/punchamoorthee/walletops/internal/otp"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	store    *store.Store
	service  *service.TransferService
	tokens   *auth.TokenManager
	otp      *otp.Store
	mailer   mailer.Sender
	logger   *zap.Logger
	validate *validator.Validate
}

func NewHandler(s *store.Store, svc *service.TransferService, tokens *auth.TokenManager, otpStore *otp.Store, sender mailer.Sender, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = mailer.Nop{}
	}
	return &Handler{
		store:    s,
		service:  svc,
		tokens:   tokens,
		otp:      otpStore,
		mailer:   sender,
		logger:   logger,
		validate: validator.New(),
	}
}

// Router builds the full route table. Auth routes and the support form are
// public; everything else requires a Bearer access token.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(mux.MiddlewareFunc(h.recoverMiddleware))

	authRoutes := apiV1.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/signup", h.SignupHandler).Methods("POST")
	authRoutes.HandleFunc("/verify-otp", h.VerifyOTPHandler).Methods("POST")
	authRoutes.HandleFunc("/set-password", h.SetPasswordHandler).Methods("POST")
	authRoutes.HandleFunc("/login", h.LoginHandler).Methods("POST")
	authRoutes.HandleFunc("/refresh", h.RefreshHandler).Methods("POST")

	apiV1.HandleFunc("/support", h.CreateSupportMessageHandler).Methods("POST")
	apiV1.HandleFunc("/support", h.ListSupportMessagesHandler).Methods("GET")

	private := apiV1.NewRoute().Subrouter()
	private.Use(mux.MiddlewareFunc(h.authMiddleware))
	private.HandleFunc("/users/me", h.GetProfileHandler).Methods("GET")
	private.HandleFunc("/users/me", h.UpdateProfileHandler).Methods("PUT")
	private.HandleFunc("/payees", h.AddPayeeHandler).Methods("POST")
	private.HandleFunc("/payees", h.ListPayeesHandler).Methods("GET")
	private.HandleFunc("/payees/{id}", h.RemovePayeeHandler).Methods("DELETE")
	private.HandleFunc("/transfers", h.CreateTransferHandler).Methods("POST")
	private.HandleFunc("/transfers/top-up", h.TopUpHandler).Methods("POST")
	private.HandleFunc("/transfers", h.ListTransfersHandler).Methods("GET")
	private.HandleFunc("/transfers/{id:[0-9]+}", h.GetTransferHandler).Methods("GET")
	private.HandleFunc("/credit-history", h.CreditHistoryHandler).Methods("GET")

	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeAndValidate unmarshals the JSON body into dst and runs the
// struct validation tags. A false return means the response is written.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "Invalid field: " + verrs[0].Field()
	}
	return "Invalid request"
}

// caller extracts the authenticated user id; absence means the route was
// wired without the auth middleware, which is a programming error.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := CallerID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Missing caller identity")
		return "", false
	}
	return id, ok
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func observe(method, endpoint string, code int) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
}
