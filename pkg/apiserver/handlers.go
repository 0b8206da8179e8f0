package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/is-app/dnsdesk/pkg/backend"
	"github.com/is-app/dnsdesk/pkg/db"
	"github.com/is-app/dnsdesk/pkg/model"
	"github.com/is-app/dnsdesk/pkg/version"
)

const (
	recordsPerPage = 10
	auditPerPage   = 50
)

type handler struct {
	backend     backend.Backend
	purger      *backend.Purger
	reminderAge time.Duration
}

func newHandler(b backend.Backend, p *backend.Purger, reminderAge time.Duration) *handler {
	return &handler{
		backend:     b,
		purger:      p,
		reminderAge: reminderAge,
	}
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, version.Get())
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Ready(r.Context()); err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, version.Get())
}

func (h *handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var input model.RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	caller := callerFromContext(r.Context())
	record, err := h.backend.RequestCreate(r.Context(), caller.ID, input.Name, input.Type, input.Content)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, h.toResponse(record))
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	record, err := h.backend.GetRecord(r.Context(), caller.ID, mux.Vars(r)["record"], caller.IsAdmin)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, h.toResponse(record))
}

func (h *handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	record, err := h.backend.Delete(r.Context(), caller.ID, mux.Vars(r)["record"], caller.IsAdmin)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, h.toResponse(record))
}

func (h *handler) approveRecord(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	record, err := h.backend.Approve(r.Context(), caller.ID, mux.Vars(r)["record"], caller.IsAdmin)
	if err != nil {
		handleError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, h.toResponse(record))
}

// listRecords returns the caller's records, or every record for admins, newest first.
func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	caller := callerFromContext(r.Context())
	records, err := h.backend.ListRecords(r.Context(), caller.ID, caller.IsAdmin)
	if err != nil {
		handleError(w, err)
		return
	}

	pages := (len(records) + recordsPerPage - 1) / recordsPerPage
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * recordsPerPage
	end := start + recordsPerPage
	if end > len(records) {
		end = len(records)
	}

	resp := model.RecordPage{
		Page:    page,
		Pages:   pages,
		Total:   len(records),
		Records: make([]model.RecordResponse, 0, end-start),
	}
	for _, record := range records[start:end] {
		resp.Records = append(resp.Records, h.toResponse(record))
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	result, err := h.purger.TrySweep(r.Context(), caller.ID)
	if err != nil {
		handleError(w, err)
		return
	}

	resp := model.SweepResponse{
		Count:   len(result.Deleted),
		Cutoff:  result.Cutoff,
		Deleted: make([]model.RecordResponse, 0, len(result.Deleted)),
	}
	for _, record := range result.Deleted {
		resp.Deleted = append(resp.Deleted, h.toResponse(record))
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (h *handler) remind(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	result, err := h.backend.RemindStale(r.Context(), caller.ID, h.reminderAge)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

func (h *handler) audit(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.backend.ListAudit(r.Context(), auditPerPage, (page-1)*auditPerPage)
	if err != nil {
		handleError(w, err)
		return
	}

	resp := model.AuditPage{
		Page:    page,
		Entries: make([]model.AuditResponse, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, model.AuditResponse{
			Actor:      e.Actor,
			Action:     e.Action,
			RecordName: e.RecordName,
			RecordType: e.RecordType,
			Content:    e.Content,
			Detail:     e.Detail,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (h *handler) toResponse(r db.Record) model.RecordResponse {
	status := model.StatusPending
	if r.Approved {
		status = model.StatusApproved
	}
	return model.RecordResponse{
		Name:      r.Name,
		Type:      r.Type,
		Content:   r.Content,
		FQDN:      h.backend.FQDN(r.Name),
		Owner:     r.OwnerID,
		Status:    status,
		CreatedAt: r.CreatedAt,
	}
}

func pageParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("page must be a positive integer")
	}
	return page, nil
}
