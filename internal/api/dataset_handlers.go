package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/smahud/traffic-buster/internal/dataset"
	"github.com/smahud/traffic-buster/pkg/models"
)

// saving whole sets in one request is capped; bigger payloads go through
// the chunked upload endpoints.
const maxInlineBody = 4 << 20

func kindOf(r *http.Request) (models.DatasetKind, bool) {
	kind := models.DatasetKind(mux.Vars(r)["kind"])
	return kind, models.ValidKind(kind)
}

// SaveDataset handles PUT /v1/datasets/{kind}/{set}
func (h *Handler) SaveDataset(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindOf(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_KIND", "Unknown dataset kind")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInlineBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if len(body) > maxInlineBody {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Use the chunked upload endpoints for large sets")
		return
	}

	count, err := h.datasets.Save(userOf(r), kind, mux.Vars(r)["set"], body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATASET", err.Error())
		return
	}
	h.auditAction(r, "dataset.save", map[string]any{"kind": kind, "set": mux.Vars(r)["set"], "items": count})
	writeJSON(w, http.StatusOK, map[string]any{"items": count})
}

// GetDataset handles GET /v1/datasets/{kind}/{set}
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindOf(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_KIND", "Unknown dataset kind")
		return
	}

	raw, err := h.datasets.Raw(userOf(r), kind, mux.Vars(r)["set"])
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeError(w, http.StatusNotFound, "DATASET_NOT_FOUND", "Dataset not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "DATASET_READ_FAILED", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

// ListDatasets handles GET /v1/datasets/{kind}
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindOf(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_KIND", "Unknown dataset kind")
		return
	}

	sets, err := h.datasets.List(userOf(r), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DATASET_LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

// DeleteDataset handles DELETE /v1/datasets/{kind}/{set}
func (h *Handler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindOf(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_KIND", "Unknown dataset kind")
		return
	}

	if err := h.datasets.Delete(userOf(r), kind, mux.Vars(r)["set"]); err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeError(w, http.StatusNotFound, "DATASET_NOT_FOUND", "Dataset not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "DATASET_DELETE_FAILED", err.Error())
		return
	}
	h.auditAction(r, "dataset.delete", map[string]any{"kind": kind, "set": mux.Vars(r)["set"]})
	w.WriteHeader(http.StatusNoContent)
}

// BeginUpload handles POST /v1/datasets/{kind}/{set}/uploads
func (h *Handler) BeginUpload(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindOf(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_KIND", "Unknown dataset kind")
		return
	}

	uploadID, err := h.datasets.BeginUpload(userOf(r), kind, mux.Vars(r)["set"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "UPLOAD_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uploadId": uploadID})
}

// AppendUploadChunk handles PUT /v1/uploads/{id}/chunks/{index}
func (h *Handler) AppendUploadChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CHUNK", "Chunk index must be a number")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	if err := h.datasets.AppendChunk(userOf(r), vars["id"], index, data); err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeError(w, http.StatusNotFound, "UPLOAD_NOT_FOUND", "Upload session not found")
			return
		}
		writeError(w, http.StatusBadRequest, "UPLOAD_FAILED", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FinalizeUpload handles POST /v1/uploads/{id}/finalize
func (h *Handler) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	count, err := h.datasets.FinalizeUpload(userOf(r), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			writeError(w, http.StatusNotFound, "UPLOAD_NOT_FOUND", "Upload session not found")
			return
		}
		writeError(w, http.StatusBadRequest, "UPLOAD_FAILED", err.Error())
		return
	}
	h.auditAction(r, "dataset.upload", map[string]any{"uploadId": mux.Vars(r)["id"], "items": count})
	writeJSON(w, http.StatusOK, map[string]any{"items": count})
}
