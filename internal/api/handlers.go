package api

import (
	"bytes"
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/export"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/progress"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

// Archiver stores a send log somewhere durable and returns its location.
type Archiver interface {
	Archive(ctx context.Context, campaignID string, entries []domain.SendLogEntry) (string, error)
}

// Handlers serves the campaign dispatch API.
type Handlers struct {
	campaigns  *campaign.Service
	dispatcher *worker.Dispatcher
	progress   *progress.Aggregator
	archiver   Archiver
}

// NewHandlers wires the handlers. archiver may be nil when archiving is not
// configured.
func NewHandlers(campaigns *campaign.Service, dispatcher *worker.Dispatcher, agg *progress.Aggregator, archiver Archiver) *Handlers {
	return &Handlers{campaigns: campaigns, dispatcher: dispatcher, progress: agg, archiver: archiver}
}

// HandleCreate creates a draft campaign.
//
//	POST /api/campaigns
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, c)
}

// HandleGet returns one campaign.
//
//	GET /api/campaigns/{campaignId}
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "campaignId"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

type attachRequest struct {
	Recipients []campaign.RecipientInput `json:"recipients"`
}

// HandleAttachRecipients builds the ledger of a draft campaign.
//
//	POST /api/campaigns/{campaignId}/recipients
func (h *Handlers) HandleAttachRecipients(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	n, err := h.campaigns.AttachRecipients(r.Context(), chi.URLParam(r, "campaignId"), req.Recipients)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, map[string]int{"recipient_count": n})
}

// HandleQueue moves a draft or failed campaign to queued.
//
//	POST /api/campaigns/{campaignId}/queue
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Queue(r.Context(), chi.URLParam(r, "campaignId"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleStart launches the send loop and returns without waiting for it.
// Progress is observed by polling.
//
//	POST /api/campaigns/{campaignId}/start
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignId")
	if err := h.dispatcher.Start(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Accepted(w, map[string]any{"campaign_id": id, "status": c.Status})
}

// HandleHalt stops a running loop after its in-flight recipient. The
// campaign goes back to queued.
//
//	POST /api/campaigns/{campaignId}/halt
func (h *Handlers) HandleHalt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignId")
	if !h.dispatcher.Halt(id) {
		httputil.CodedError(w, http.StatusConflict, "not_running", "campaign is not sending in this process", nil)
		return
	}
	httputil.Accepted(w, map[string]any{"campaign_id": id, "halting": true})
}

// HandleCancel cancels a draft or queued campaign.
//
//	POST /api/campaigns/{campaignId}/cancel
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Cancel(r.Context(), chi.URLParam(r, "campaignId"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleReconcile recomputes the cached counters from the ledger.
//
//	POST /api/campaigns/{campaignId}/reconcile
func (h *Handlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	counts, err := h.campaigns.Reconcile(r.Context(), chi.URLParam(r, "campaignId"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, counts)
}

// HandleProgress returns live statistics. Safe to poll at any rate.
//
//	GET /api/campaigns/{campaignId}/progress
func (h *Handlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.progress.Get(r.Context(), chi.URLParam(r, "campaignId"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, p)
}

// HandleSendLog returns the audit trail in append order, as JSON or, with
// ?format=csv, as a CSV download.
//
//	GET /api/campaigns/{campaignId}/send-log
func (h *Handlers) HandleSendLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignId")
	entries, err := h.campaigns.SendLog(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	if r.URL.Query().Get("format") != "csv" {
		if entries == nil {
			entries = []domain.SendLogEntry{}
		}
		httputil.OK(w, entries)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, entries); err != nil {
		httputil.InternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="send-log-`+id+`.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// HandleArchiveSendLog uploads the send log CSV to the configured bucket.
//
//	POST /api/campaigns/{campaignId}/send-log/archive
func (h *Handlers) HandleArchiveSendLog(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		httputil.CodedError(w, http.StatusServiceUnavailable, "not_configured", "send-log archiving is not configured", nil)
		return
	}
	id := chi.URLParam(r, "campaignId")
	entries, err := h.campaigns.SendLog(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	key, err := h.archiver.Archive(r.Context(), id, entries)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]any{"key": key, "rows": len(entries)})
}
