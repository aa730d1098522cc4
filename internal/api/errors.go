package api

import (
	"errors"
	"net/http"

	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

// respondError maps service errors onto HTTP. Only caller-facing errors get
// their message echoed; everything else is logged and hidden.
func respondError(w http.ResponseWriter, err error) {
	var ve *campaign.ValidationError
	var ce *worker.ConnectError
	switch {
	case errors.As(err, &ve):
		httputil.CodedError(w, http.StatusBadRequest, "validation", ve.Error(), map[string]string{"field": ve.Field})
	case errors.Is(err, campaign.ErrValidation):
		httputil.CodedError(w, http.StatusBadRequest, "validation", err.Error(), nil)
	case errors.Is(err, campaign.ErrNotFound):
		httputil.CodedError(w, http.StatusNotFound, "not_found", "campaign not found", nil)
	case errors.Is(err, worker.ErrAlreadyRunning):
		httputil.CodedError(w, http.StatusConflict, "already_running", err.Error(), nil)
	case errors.Is(err, campaign.ErrInvalidState):
		httputil.CodedError(w, http.StatusConflict, "invalid_state", err.Error(), nil)
	case errors.Is(err, worker.ErrShuttingDown):
		httputil.CodedError(w, http.StatusServiceUnavailable, "shutting_down", err.Error(), nil)
	case errors.Is(err, sending.ErrAuth):
		logger.Warn("[API] transport authentication failed", "error", err)
		httputil.CodedError(w, http.StatusBadGateway, "transport_auth", "outbound credentials were rejected; campaign marked failed", nil)
	case errors.As(err, &ce):
		logger.Warn("[API] transport unavailable", "error", err)
		httputil.CodedError(w, http.StatusBadGateway, "transport", "outbound transport unavailable; campaign marked failed", nil)
	default:
		httputil.InternalError(w, err)
	}
}
