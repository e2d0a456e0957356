package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/service"
)

const multipartOverhead = 1 << 20

type submitRequest struct {
	Handle string `json:"handle" validate:"required"`
	Width  int    `json:"width" validate:"gte=0"`
	Height int    `json:"height" validate:"gte=0"`
}

type sharingRequest struct {
	Enabled     *bool      `json:"enabled"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ClearExpiry bool       `json:"clear_expiry"`
}

type featureRequest struct {
	Featured *bool `json:"featured" validate:"required"`
}

type checkoutRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=100"`
}

type accountResponse struct {
	Identity string           `json:"identity"`
	Credits  int              `json:"credits"`
	Payments []paymentSummary `json:"payments"`
}

type paymentSummary struct {
	OrderID     string    `json:"order_id"`
	Provider    string    `json:"provider"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Credits     int       `json:"credits"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type sharingResponse struct {
	ID             string     `json:"id"`
	SharingEnabled bool       `json:"sharing_enabled"`
	ShareExpiresAt *time.Time `json:"share_expires_at,omitempty"`
	IsFeatured     bool       `json:"is_featured"`
	FeaturedAt     *time.Time `json:"featured_at,omitempty"`
}

type checkoutResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Quantity     int        `json:"quantity"`
	URL          string     `json:"url,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	items, err := s.svc.Gallery.ListPublic(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[service.PublicAssetView]{Items: items})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Gallery.ResolveShare(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)
	settings, err := s.svc.Settings.Snapshot(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.svc.Ledger.GetOrCreateAccount(ctx, settings, identity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payments, err := s.svc.Payments.History(ctx, identity, 20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := accountResponse{Identity: acc.Identity, Credits: acc.Credits, Payments: make([]paymentSummary, 0, len(payments))}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, paymentSummary{
			OrderID:     p.OrderID,
			Provider:    p.Provider,
			AmountMinor: p.AmountMinor,
			Currency:    p.Currency,
			Credits:     p.Credits,
			Status:      string(p.Status),
			CreatedAt:   p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload accepts a multipart "file" part and returns its storage handle.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, &service.ValidationError{Field: "file", Reason: "upload too large"})
			return
		}
		s.writeError(w, r, &service.ValidationError{Field: "file", Reason: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		s.writeError(w, r, &service.ValidationError{Field: "file", Reason: "could not read upload"})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	handle, err := s.svc.Generations.Upload(r.Context(), data, contentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"handle": handle})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	asset, err := s.svc.Generations.Submit(ctx, identityFrom(ctx), service.SubmitRequest{
		Handle: strings.TrimSpace(req.Handle),
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAsset(w, r, http.StatusAccepted, asset)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	ctx := r.Context()
	items, err := s.svc.Generations.ListForOwner(ctx, identityFrom(ctx), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[service.AssetView]{Items: items})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := s.svc.Generations.Get(ctx, identityFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset, err := s.svc.Generations.Retry(ctx, identityFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAsset(w, r, http.StatusAccepted, asset)
}

func (s *Server) handleSharing(w http.ResponseWriter, r *http.Request) {
	var req sharingRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	asset, err := s.svc.Gallery.UpdateSharing(ctx, identityFrom(ctx), chi.URLParam(r, "id"), service.SharingInput{
		Enabled:     req.Enabled,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSharingResponse(asset))
}

func (s *Server) handleFeature(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	asset, err := s.svc.Gallery.SetFeatured(ctx, identityFrom(ctx), chi.URLParam(r, "id"), *req.Featured)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSharingResponse(asset))
}

func (s *Server) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	session, err := s.svc.Checkout.Start(ctx, identityFrom(ctx), req.Quantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newCheckoutResponse(session))
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := s.svc.Checkout.Get(ctx, identityFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(session))
}

func (s *Server) writeAsset(w http.ResponseWriter, r *http.Request, status int, asset *models.Asset) {
	view, err := s.svc.Generations.View(r.Context(), asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, view)
}

func newSharingResponse(a *models.Asset) sharingResponse {
	return sharingResponse{
		ID:             a.ID,
		SharingEnabled: a.SharingEnabled,
		ShareExpiresAt: a.ShareExpiresAt,
		IsFeatured:     a.IsFeatured,
		FeaturedAt:     a.FeaturedAt,
	}
}

func newCheckoutResponse(cs *models.CheckoutSession) checkoutResponse {
	return checkoutResponse{
		ID:           cs.ID,
		Status:       string(cs.Status),
		Quantity:     cs.Quantity,
		URL:          cs.URL,
		ClientSecret: cs.ClientSecret,
		Error:        cs.Error,
		CreatedAt:    cs.CreatedAt,
		CompletedAt:  cs.CompletedAt,
	}
}
