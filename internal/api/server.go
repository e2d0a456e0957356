package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/service"
)

// Services bundles what the public API talks to.
type Services struct {
	Generations *service.GenerationService
	Gallery     *service.GalleryService
	Payments    *service.PaymentService
	Checkout    *service.CheckoutService
	Ledger      *service.Ledger
	Settings    *service.SettingsService
	Stripe      *billing.Stripe
}

type Options struct {
	Addr           string
	JWTSecret      string
	AllowedOrigins []string
	MaxUploadBytes int64
}

type Server struct {
	addr           string
	jwtSecret      string
	maxUploadBytes int64
	log            *slog.Logger
	validate       *validator.Validate
	svc            Services
	handler        http.Handler
}

func NewServer(opts Options, log *slog.Logger, svc Services) *Server {
	s := &Server{
		addr:           opts.Addr,
		jwtSecret:      opts.JWTSecret,
		maxUploadBytes: opts.MaxUploadBytes,
		log:            log,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		svc:            svc,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/gallery", s.handleGallery)
		r.Get("/share/{id}", s.handleShare)
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		r.Group(func(protected chi.Router) {
			protected.Use(s.authMiddleware)
			protected.Get("/account", s.handleAccount)
			protected.Post("/uploads", s.handleUpload)
			protected.Post("/transformations", s.handleSubmit)
			protected.Get("/assets", s.handleListAssets)
			protected.Route("/assets/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAsset)
				r.Post("/retry", s.handleRetry)
				r.Patch("/sharing", s.handleSharing)
				r.Post("/feature", s.handleFeature)
			})
			protected.Post("/checkout", s.handleStartCheckout)
			protected.Get("/checkout/{id}", s.handleGetCheckout)
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	})
	s.handler = c.Handler(r)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}
