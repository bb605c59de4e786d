package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/deaddrop/internal/engine"
	"github.com/org/deaddrop/internal/storage"
	"github.com/org/deaddrop/pkg/models"
)

// CreateHandler handles POST /v1/create.
func (s *Server) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerEmail       string `json:"owner_email"`
		RecipientEmail   string `json:"recipient_email"`
		PassphraseHint   string `json:"passphrase_hint"`
		IntervalDays     int    `json:"checkin_interval_days"`
		GraceDays        int    `json:"grace_days"`
		EncryptedPayload string `json:"encrypted_payload"`
		PayloadHash      string `json:"payload_hash"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	drop, err := s.engine.Create(r.Context(), engine.CreateParams{
		OwnerEmail:     req.OwnerEmail,
		RecipientEmail: req.RecipientEmail,
		PassphraseHint: req.PassphraseHint,
		IntervalDays:   req.IntervalDays,
		GraceDays:      req.GraceDays,
		EnvelopeJSON:   []byte(req.EncryptedPayload),
		PayloadHash:    req.PayloadHash,
	})
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "could not create drop")
		return
	}

	dropsCreatedTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              drop.ID,
		"receipt_url":     s.engine.ReceiptURL(drop.ID),
		"checkin_url":     s.engine.CheckinURL(drop.CheckinToken),
		"verify_required": true,
	})
}

// VerifyHandler handles POST /v1/verify.
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	_, already, err := s.engine.Verify(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidToken) {
			writeError(w, http.StatusNotFound, "invalid token")
			return
		}
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	resp := map[string]any{"ok": true}
	if already {
		resp["already_verified"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckinHandler handles POST /v1/checkin.
func (s *Server) CheckinHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	releaseAt, err := s.engine.Checkin(r.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidToken):
			writeError(w, http.StatusNotFound, "invalid token")
		case errors.Is(err, engine.ErrNotVerified):
			writeError(w, http.StatusForbidden, "drop not verified")
		case errors.Is(err, engine.ErrAlreadyReleased):
			writeError(w, http.StatusConflict, "drop already released")
		default:
			writeError(w, http.StatusInternalServerError, "check-in failed")
		}
		return
	}

	checkinsTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"release_at": releaseAt.Format(time.RFC3339),
	})
}

// SweepHandler handles POST /v1/sweep, the cron-triggered batch evaluation.
// It always returns 200 with per-drop outcomes embedded; individual failures
// are reported in the results, not as a request failure.
func (s *Server) SweepHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CronSecret != "" && r.Header.Get("X-Cron-Secret") != s.cfg.CronSecret {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	outcomes, err := s.engine.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}

	for _, o := range outcomes {
		sweepActionsTotal.WithLabelValues(string(o.Action)).Inc()
	}
	if outcomes == nil {
		outcomes = []models.SweepOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"results": outcomes,
	})
}

// ReceiptHandler handles GET /v1/receipt/{id}: the public integrity
// attestation for a drop. It exposes status, timing, and the client-computed
// payload digest — never tokens, email addresses, or payload material.
func (s *Server) ReceiptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	drop, err := s.engine.GetDrop(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := map[string]any{
		"id":           drop.ID,
		"status":       drop.Status,
		"payload_hash": drop.PayloadHash,
		"created_at":   drop.CreatedAt.Format(time.RFC3339),
		"release_at":   drop.ReleaseAt.Format(time.RFC3339),
	}
	if drop.ReleasedAt != nil {
		resp["released_at"] = drop.ReleasedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthHandler handles GET /v1/sys/health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
		return
	}
	for status, n := range counts {
		dropsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
