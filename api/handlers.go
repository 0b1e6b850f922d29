package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/entity"
	"github.com/aquamarinepk/vstore/version"
)

type writeFunc func(ctx context.Context, def *entity.Definition, rows []map[string]any, vctx version.Context) (version.ChangeSet, error)

func (h *Handler) handleInsert(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, h.manager.Insert, http.StatusCreated)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, h.manager.Update, http.StatusOK)
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, h.manager.Upsert, http.StatusOK)
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request, write writeFunc, status int) {
	def, ok := h.definition(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()

	rows, err := decodeRows(r)
	if err != nil {
		vstore.Error(w, http.StatusBadRequest, CodeInvalidPayload, "Malformed JSON payload")
		return
	}

	vctx := version.FromContext(r.Context())
	cs, err := write(r.Context(), def, rows, vctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vstore.Respond(w, status, cs, meta(vctx))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	def, ok := h.definition(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()

	var payload struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		vstore.Error(w, http.StatusBadRequest, CodeInvalidPayload, "Malformed JSON payload")
		return
	}
	if len(payload.IDs) == 0 {
		vstore.Error(w, http.StatusBadRequest, CodeInvalidPayload, "ids must not be empty")
		return
	}

	vctx := version.FromContext(r.Context())
	cs, err := h.manager.Delete(r.Context(), def, payload.IDs, vctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vstore.Respond(w, http.StatusOK, cs, meta(vctx))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	def, ok := h.definition(w, r)
	if !ok {
		return
	}
	vctx := version.FromContext(r.Context())
	rec, err := h.manager.Get(r.Context(), def, chi.URLParam(r, "id"), vctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	etag := `"` + rec.Meta.Checksum + `"`
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	vstore.Respond(w, http.StatusOK, rec, meta(vctx))
}

// handleReadBasic serves GET /{entity}?ids=a,b. Missing ids are omitted.
func (h *Handler) handleReadBasic(w http.ResponseWriter, r *http.Request) {
	def, ok := h.definition(w, r)
	if !ok {
		return
	}
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		vstore.Error(w, http.StatusBadRequest, CodeInvalidPayload, "ids query parameter is required")
		return
	}
	vctx := version.FromContext(r.Context())
	recs, err := h.manager.ReadBasic(r.Context(), def, ids, vctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vstore.Respond(w, http.StatusOK, recs, meta(vctx))
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	def, ok := h.definition(w, r)
	if !ok {
		return
	}
	vctx := version.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	details, err := h.manager.ReadDetail(r.Context(), def, []string{id}, vctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(details) == 0 {
		vstore.Error(w, http.StatusNotFound, CodeNotFound, def.Name+":"+id+" not found")
		return
	}
	vstore.Respond(w, http.StatusOK, details[0], meta(vctx))
}

func (h *Handler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	def, ok := h.definition(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()

	var payload struct {
		Name      string     `json:"name"`
		VersionID version.ID `json:"version_id"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &payload); err != nil {
			vstore.Error(w, http.StatusBadRequest, CodeInvalidPayload, "Malformed JSON payload")
			return
		}
	}

	vctx := version.FromContext(r.Context())
	id, err := h.manager.CreateVersion(r.Context(), def, chi.URLParam(r, "id"), vctx, payload.Name, payload.VersionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/versions/"+id.String())
	vstore.Respond(w, http.StatusCreated, map[string]version.ID{"version_id": id}, meta(vctx))
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	vctx := version.FromContext(r.Context()).WithVersion(version.Live)
	cs, err := h.manager.Merge(r.Context(), version.ID(chi.URLParam(r, "versionID")), vctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vstore.Respond(w, http.StatusOK, cs, meta(vctx))
}

func (h *Handler) handleBranch(w http.ResponseWriter, r *http.Request) {
	br, err := h.manager.Branch(r.Context(), version.ID(chi.URLParam(r, "versionID")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vstore.Respond(w, http.StatusOK, br, nil)
}

func (h *Handler) handleListVersion(w http.ResponseWriter, r *http.Request) {
	vctx := version.FromContext(r.Context()).WithVersion(version.ID(chi.URLParam(r, "versionID")))
	recs, err := h.manager.ListVersion(r.Context(), vctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vstore.Respond(w, http.StatusOK, recs, meta(vctx))
}
