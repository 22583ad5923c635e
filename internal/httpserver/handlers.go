package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"outreach/internal/domain"
)

type CampaignService interface {
	CreateLead(ctx context.Context, req domain.CreateLeadRequest) (domain.Lead, error)
	Unsubscribe(ctx context.Context, leadID string) error
	CreateCampaign(ctx context.Context, req domain.CreateCampaignRequest) (domain.CreateCampaignResponse, error)
	GetQueueItem(ctx context.Context, id string) (domain.QueueItemView, error)
	AccountQuota(ctx context.Context) ([]domain.AccountQuotaView, error)
}

type API struct {
	Svc      CampaignService
	Validate *validator.Validate
}

type leadResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *API) Register(m *mux.Router) {
	if a.Validate == nil {
		a.Validate = NewValidator()
	}
	m.HandleFunc("/v1/leads", a.handleCreateLead).Methods(http.MethodPost)
	m.HandleFunc("/v1/leads/{id}/unsubscribe", a.handleUnsubscribe).Methods(http.MethodPost)
	m.HandleFunc("/unsubscribe", a.handleUnsubscribeLink).Methods(http.MethodGet)
	m.HandleFunc("/v1/campaigns", a.handleCreateCampaign).Methods(http.MethodPost)
	m.HandleFunc("/v1/queue/{id}", a.handleGetQueueItem).Methods(http.MethodGet)
	m.HandleFunc("/v1/accounts/quota", a.handleAccountQuota).Methods(http.MethodGet)
}

// decode reads and validates a JSON body, writing the 400 itself on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return false
	}
	if err := a.Validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, validationError(err))
		return false
	}
	return true
}

func (a *API) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLeadRequest
	if !a.decode(w, r, &req) {
		return
	}
	lead, err := a.Svc.CreateLead(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, ErrConflict)
		return
	case errors.Is(err, domain.ErrMissingFields):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("create lead failed", "err", err, "list", req.List)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return
	}
	writeJSON(w, http.StatusCreated, leadResponse{ID: lead.ID, Email: lead.Email})
}

func (a *API) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	if !a.unsubscribe(w, r, id) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var unsubscribedPage = template.Must(template.New("unsubscribed").Parse(
	`<!doctype html><html><body><p>You have been unsubscribed. Reference {{.}}.</p></body></html>`))

// handleUnsubscribeLink serves the link embedded in outgoing mail.
func (a *API) handleUnsubscribeLink(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	if !a.unsubscribe(w, r, id) {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = unsubscribedPage.Execute(w, id)
}

func (a *API) unsubscribe(w http.ResponseWriter, r *http.Request, id string) bool {
	err := a.Svc.Unsubscribe(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrNotFound)
		return false
	case err != nil:
		slog.Error("unsubscribe failed", "err", err, "lead_id", id)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return false
	}
	return true
}

func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCampaignRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.Svc.CreateCampaign(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrMissingFields):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("create campaign failed",
			"err", err,
			"campaign_id", resp.CampaignID,
			"audience", req.Audience,
			"queued", resp.Queued,
		)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (a *API) handleGetQueueItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrMissingID)
		return
	}
	item, err := a.Svc.GetQueueItem(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	case err != nil:
		slog.Error("get queue item failed", "err", err, "id", id)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleAccountQuota(w http.ResponseWriter, r *http.Request) {
	views, err := a.Svc.AccountQuota(r.Context())
	if err != nil {
		slog.Error("account quota failed", "err", err)
		writeError(w, http.StatusBadGateway, ErrDependency)
		return
	}
	writeJSON(w, http.StatusOK, views)
}
