package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

const maxPageSize = 500

func (h *handler) createRun(w http.ResponseWriter, r *http.Request) {
	// Multipart overhead on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "max_file_size_exceeded", "upload is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "expected a multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "file is required")
		return
	}
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "could not read file")
		return
	}

	run, err := h.svc.CreateRun(r.Context(), importer.CreateRunInput{
		OrganizationID: orgID(r),
		UserID:         userID(r),
		EntrypointType: model.EntrypointType(r.FormValue("entrypoint_type")),
		EntrypointID:   r.FormValue("entrypoint_id"),
		Filename:       header.Filename,
		Data:           data,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	runs, err := h.svc.ListRuns(r.Context(), orgID(r), model.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.ImportRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), orgID(r), chi.URLParam(r, "runID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handler) finalizeRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.FinalizeRun(r.Context(), orgID(r), chi.URLParam(r, "runID"), userID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) refreshCounters(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.RefreshRunCounters(r.Context(), orgID(r), chi.URLParam(r, "runID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) listItems(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := model.ItemFilter{
		Status:   model.ItemStatus(q.Get("status")),
		ItemType: model.ItemType(q.Get("item_type")),
		Limit:    limit,
		Offset:   offset,
	}
	if v := q.Get("needs_review"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "needs_review must be a boolean")
			return
		}
		filter.NeedsReview = &b
	}
	items, err := h.svc.ListItems(r.Context(), orgID(r), chi.URLParam(r, "runID"), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []model.ImportItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handler) getItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.svc.GetItem(r.Context(), orgID(r), chi.URLParam(r, "runID"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *handler) itemDecision(w http.ResponseWriter, r *http.Request) {
	var d importer.Decision
	if !decodeBody(w, r, &d) {
		return
	}
	it, err := h.svc.UpdateItemDecision(r.Context(), orgID(r), chi.URLParam(r, "runID"), chi.URLParam(r, "itemID"), d)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *handler) bulkDecision(w http.ResponseWriter, r *http.Request) {
	var d importer.BulkDecision
	if !decodeBody(w, r, &d) {
		return
	}
	c, err := h.svc.BulkUpdateItems(r.Context(), orgID(r), chi.URLParam(r, "runID"), d)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func paging(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	limit, offset := 100, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			writeError(w, http.StatusBadRequest, "invalid_query", "limit must be between 1 and 500")
			return 0, 0, false
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_query", "offset must be non-negative")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
