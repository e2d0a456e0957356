package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/photoremix/internal/api"
	"github.com/digkill/photoremix/internal/service"
)

const defaultTokenTTL = 30 * 24 * time.Hour

type Server struct {
	addr        string
	username    string
	password    string
	jwtSecret   string
	log         *slog.Logger
	ledger      *service.Ledger
	settings    *service.SettingsService
	payments    *service.PaymentService
	generations *service.GenerationService
	gallery     *service.GalleryService
	router      *chi.Mux
}

type Options struct {
	Addr      string
	Username  string
	Password  string
	JWTSecret string
}

func NewServer(opts Options, log *slog.Logger, ledger *service.Ledger, settings *service.SettingsService, payments *service.PaymentService, generations *service.GenerationService, gallery *service.GalleryService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        opts.Addr,
		username:    opts.Username,
		password:    opts.Password,
		jwtSecret:   opts.JWTSecret,
		log:         log,
		ledger:      ledger,
		settings:    settings,
		payments:    payments,
		generations: generations,
		gallery:     gallery,
		router:      r,
	}
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Get("/billing-settings", s.handleGetSettings)
		protected.Put("/billing-settings", s.handleUpdateSettings)
		protected.Route("/accounts/{identity}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Post("/credits", s.handleGrantCredits)
			r.Post("/token", s.handleIssueToken)
		})
		protected.Get("/assets/stats", s.handleAssetStats)
		protected.Route("/assets/{id}", func(r chi.Router) {
			r.Post("/moderation", s.handleModerate)
			r.Post("/feature", s.handleFeature)
			r.Post("/retry", s.handleRetry)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Snapshot(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	settings, err := s.settings.Update(r.Context(), service.UpdateSettingsInput{
		PackPriceMinor:   req.PackPriceMinor,
		Currency:         req.Currency,
		CreditsPerPack:   req.CreditsPerPack,
		RefundOnFailure:  req.RefundOnFailure,
		FreeTrialCredits: req.FreeTrialCredits,
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.log.Info("billing settings updated", "credits_per_pack", settings.CreditsPerPack, "refund_on_failure", settings.RefundOnFailure)
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	acc, err := s.ledger.Balance(r.Context(), identity)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	payments, err := s.payments.History(r.Context(), identity, 50)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"account":  acc,
		"payments": payments,
	})
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req creditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	identity := chi.URLParam(r, "identity")
	settings, err := s.settings.Snapshot(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	balance, err := s.ledger.GrantCredits(r.Context(), settings, identity, req.Amount)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.log.Info("credits granted by admin", "identity", identity, "amount", req.Amount, "reason", req.Reason)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"credits":  balance,
	})
}

// handleIssueToken mints an API bearer token for an identity, for operators
// and integrations that do not come through the bot.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	ttl := defaultTokenTTL
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}
	identity := strings.TrimSpace(chi.URLParam(r, "identity"))
	token, err := api.NewToken(s.jwtSecret, identity, ttl)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_at": time.Now().Add(ttl).UTC(),
	})
}

func (s *Server) handleAssetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.generations.StatusCounts(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	var req moderationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Disabled == nil {
		http.Error(w, "disabled required", http.StatusBadRequest)
		return
	}
	asset, err := s.gallery.Moderate(r.Context(), chi.URLParam(r, "id"), *req.Disabled)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":                   asset.ID,
		"is_disabled_by_admin": asset.IsDisabledByAdmin,
		"is_featured":          asset.IsFeatured,
	})
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Featured == nil {
		http.Error(w, "featured required", http.StatusBadRequest)
		return
	}
	asset, err := s.gallery.AdminSetFeatured(r.Context(), chi.URLParam(r, "id"), *req.Featured)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":          asset.ID,
		"is_featured": asset.IsFeatured,
		"featured_at": asset.FeaturedAt,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	asset, err := s.generations.RetryAsAdmin(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     asset.ID,
		"status": asset.GenerationStatus,
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="photoremix"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) serviceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		s.badRequest(w, err)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, service.ErrNotRetryable), errors.Is(err, service.ErrAssetMissing):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.internalError(w, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

type settingsRequest struct {
	PackPriceMinor   *int64  `json:"pack_price_minor"`
	Currency         *string `json:"currency"`
	CreditsPerPack   *int    `json:"credits_per_pack"`
	RefundOnFailure  *bool   `json:"refund_on_failure"`
	FreeTrialCredits *int    `json:"free_trial_credits"`
}

type creditsRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

type tokenRequest struct {
	TTLHours int `json:"ttl_hours"`
}

type moderationRequest struct {
	Disabled *bool `json:"disabled"`
}

type featureRequest struct {
	Featured *bool `json:"featured"`
}
