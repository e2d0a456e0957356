package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/digkill/photoremix/internal/billing"
	"github.com/digkill/photoremix/internal/metrics"
)

const webhookBodyLimit = 1 << 20

type webhookReceivedResponse struct {
	Received bool `json:"received"`
	Granted  int  `json:"granted,omitempty"`
	Skipped  bool `json:"skipped,omitempty"`
}

// handleStripeWebhook verifies the signature and applies the order event.
// Duplicate deliveries are answered with 200 and grant nothing.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if s.svc.Stripe == nil {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, errorResponse{Error: "payments not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "failed to read request body"})
		return
	}

	evt, typ, err := s.svc.Stripe.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if typ != "" {
		eventType = typ
	}
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		status = http.StatusServiceUnavailable
		writeJSON(w, status, errorResponse{Error: "webhook secret not configured"})
		return
	case errors.Is(err, billing.ErrInvalidSignature):
		s.log.Warn("stripe webhook rejected", "err", err)
		status = http.StatusForbidden
		writeJSON(w, status, errorResponse{Error: "invalid signature"})
		return
	case err != nil:
		s.log.Error("stripe webhook malformed", "type", eventType, "err", err)
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "malformed event"})
		return
	}

	if evt == nil {
		writeJSON(w, status, webhookReceivedResponse{Received: true})
		return
	}

	res, err := s.svc.Payments.HandleOrderEvent(r.Context(), *evt)
	if err != nil {
		s.log.Error("stripe webhook processing failed", "type", eventType, "order_id", evt.OrderID, "err", err)
		status = http.StatusInternalServerError
		writeJSON(w, status, errorResponse{Error: "processing failed"})
		return
	}
	writeJSON(w, status, webhookReceivedResponse{Received: true, Granted: res.Granted, Skipped: res.Skipped})
}
